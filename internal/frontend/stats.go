package frontend

import (
	"net/http"

	"github.com/samber/lo"

	"github.com/woodchen-ink/OVH/internal/api"
	"github.com/woodchen-ink/OVH/internal/api/rest"
)

type statsResponse struct {
	Tasks          map[api.TaskStatus]int     `json:"tasks"`
	TasksTotal     int                        `json:"tasksTotal"`
	UnitsPurchased int                        `json:"unitsPurchased"`
	History        map[api.PurchaseStatus]int `json:"history"`
	HistoryTotal   int                        `json:"historyTotal"`
	Accounts       int                        `json:"accounts"`
	Subscriptions  int                        `json:"subscriptions"`
	MonitorRunning bool                       `json:"monitorRunning"`
}

// Stats aggregates queue, history and monitor counters in one response,
// scoped to the active account unless scope=all.
func (f *Frontend) Stats(w http.ResponseWriter, r *http.Request) {
	tasks := f.store.ListTasks()
	entries := f.store.ListHistory()

	if !scopeAll(r) {
		if account, ok := f.activeAccount(r); ok {
			tasks = lo.Filter(tasks, func(task api.QueueTask, _ int) bool {
				return task.AccountID == account.ID
			})
			entries = lo.Filter(entries, func(entry api.PurchaseHistoryEntry, _ int) bool {
				return entry.AccountID == account.ID
			})
		} else {
			tasks = nil
			entries = nil
		}
	}

	stats := statsResponse{
		Tasks:          map[api.TaskStatus]int{},
		TasksTotal:     len(tasks),
		History:        map[api.PurchaseStatus]int{},
		HistoryTotal:   len(entries),
		Accounts:       len(f.store.ListAccounts()),
		Subscriptions:  len(f.store.ListSubscriptions()),
		MonitorRunning: f.monitor.Status().Running,
	}
	for _, task := range tasks {
		stats.Tasks[task.Status]++
		stats.UnitsPurchased += task.Purchased
	}
	for _, entry := range entries {
		stats.History[entry.Status]++
	}

	_ = rest.WriteJSONResponse(w, http.StatusOK, stats)
}
