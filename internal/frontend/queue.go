package frontend

import (
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/woodchen-ink/OVH/internal/api"
	"github.com/woodchen-ink/OVH/internal/api/rest"
	"github.com/woodchen-ink/OVH/internal/database"
)

// ListQueueTasks returns the task list, filtered to the active account
// unless scope=all.
func (f *Frontend) ListQueueTasks(w http.ResponseWriter, r *http.Request) {
	tasks := f.store.ListTasks()
	if !scopeAll(r) {
		account, ok := f.activeAccount(r)
		if !ok {
			_ = rest.WriteJSONResponse(w, http.StatusOK, []api.QueueTask{})
			return
		}
		tasks = lo.Filter(tasks, func(task api.QueueTask, _ int) bool {
			return task.AccountID == account.ID
		})
	}

	slices.SortFunc(tasks, func(a, b api.QueueTask) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	_ = rest.WriteJSONResponse(w, http.StatusOK, tasks)
}

type pagedTasksResponse struct {
	Items    []api.QueueTask `json:"items"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
}

// ListQueueTasksPaged returns one page of the task list, optionally
// filtered by status tab.
func (f *Frontend) ListQueueTasksPaged(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page := 1
	if v, err := strconv.Atoi(query.Get("page")); err == nil && v > 0 {
		page = v
	}
	pageSize := 20
	if v, err := strconv.Atoi(query.Get("pageSize")); err == nil && v > 0 && v <= 200 {
		pageSize = v
	}

	tasks := f.store.ListTasks()
	if status := query.Get("status"); status != "" {
		tasks = lo.Filter(tasks, func(task api.QueueTask, _ int) bool {
			return task.Status == api.TaskStatus(status)
		})
	}
	if !scopeAll(r) {
		if account, ok := f.activeAccount(r); ok {
			tasks = lo.Filter(tasks, func(task api.QueueTask, _ int) bool {
				return task.AccountID == account.ID
			})
		}
	}

	slices.SortFunc(tasks, func(a, b api.QueueTask) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	total := len(tasks)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	_ = rest.WriteJSONResponse(w, http.StatusOK, pagedTasksResponse{
		Items:    tasks[start:end],
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// CreateQueueTask registers a new purchase intent. The task starts running
// immediately with its first attempt due now.
func (f *Frontend) CreateQueueTask(w http.ResponseWriter, r *http.Request) {
	var req api.QueueTaskRequest
	if !f.decodeAndValidate(w, r, &req) {
		return
	}

	accountID := req.AccountID
	if accountID == "" {
		account, ok := f.activeAccount(r)
		if !ok {
			rest.WriteError(w, http.StatusBadRequest, rest.ErrorCodeInvalidParameter,
				"No account configured; register an account first.")
			return
		}
		accountID = account.ID
	} else if _, ok := f.store.GetAccount(accountID); !ok {
		rest.WriteError(w, http.StatusBadRequest, rest.ErrorCodeInvalidParameter,
			"Unknown account %q.", accountID)
		return
	}

	now := f.now()
	task := api.QueueTask{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		PlanCode:      req.PlanCode,
		Datacenters:   req.Datacenters,
		Options:       req.Options,
		Quantity:      req.Quantity,
		RetryInterval: req.RetryInterval,
		AutoPay:       req.AutoPay,
		Status:        api.TaskStatusRunning,
		NextAttemptAt: now.Unix(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := f.store.MutateTasks(func(tasks *[]api.QueueTask) error {
		*tasks = append(*tasks, task)
		return nil
	})
	if err != nil {
		f.logger.Error(err.Error())
		rest.WriteInternalServerError(w)
		return
	}

	_ = rest.WriteJSONResponse(w, http.StatusCreated, task)
}

// UpdateQueueTask replaces a task's configuration. Refused with 409 while
// an attempt is in flight so a half-executed attempt never runs with a
// mixed config.
func (f *Frontend) UpdateQueueTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if f.scheduler != nil && f.scheduler.AttemptInProgress(id) {
		rest.WriteError(w, http.StatusConflict, rest.ErrorCodeConflict,
			"Task %s has an attempt in progress; retry shortly.", id)
		return
	}

	var req api.QueueTaskRequest
	if !f.decodeAndValidate(w, r, &req) {
		return
	}

	if req.AccountID != "" {
		if _, ok := f.store.GetAccount(req.AccountID); !ok {
			rest.WriteError(w, http.StatusBadRequest, rest.ErrorCodeInvalidParameter,
				"Unknown account %q.", req.AccountID)
			return
		}
	}

	var updated api.QueueTask
	err := f.store.UpdateTask(id, func(task *api.QueueTask) error {
		task.PlanCode = req.PlanCode
		task.Datacenters = req.Datacenters
		task.Options = req.Options
		task.Quantity = req.Quantity
		task.RetryInterval = req.RetryInterval
		task.AutoPay = req.AutoPay
		if req.AccountID != "" {
			task.AccountID = req.AccountID
		}
		task.UpdatedAt = f.now()
		updated = *task
		return nil
	})
	if errors.Is(err, database.ErrNotFound) {
		rest.WriteError(w, http.StatusNotFound, rest.ErrorCodeNotFound,
			"No task with id %q.", id)
		return
	}
	if err != nil {
		f.logger.Error(err.Error())
		rest.WriteInternalServerError(w)
		return
	}

	_ = rest.WriteJSONResponse(w, http.StatusOK, updated)
}

// UpdateQueueTaskStatus pauses or resumes a task. Only the transitions
// pending->running, running->paused and paused->running are accepted;
// terminal states require a restart.
func (f *Frontend) UpdateQueueTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req api.TaskStatusRequest
	if !f.decodeAndValidate(w, r, &req) {
		return
	}

	var updated api.QueueTask
	err := f.store.UpdateTask(id, func(task *api.QueueTask) error {
		if !validTransition(task.Status, req.Status) {
			return rest.NewError(http.StatusConflict, rest.ErrorCodeConflict,
				"Cannot transition task from %s to %s.", task.Status, req.Status)
		}

		now := f.now()
		if req.Status == api.TaskStatusRunning && task.Status != api.TaskStatusRunning {
			// Resuming schedules the next attempt immediately.
			task.NextAttemptAt = now.Unix()
		}
		task.Status = req.Status
		task.UpdatedAt = now
		updated = *task
		return nil
	})

	var restErr *rest.Error
	switch {
	case errors.Is(err, database.ErrNotFound):
		rest.WriteError(w, http.StatusNotFound, rest.ErrorCodeNotFound,
			"No task with id %q.", id)
		return
	case errors.As(err, &restErr):
		rest.WriteErrorEnvelope(w, restErr)
		return
	case err != nil:
		f.logger.Error(err.Error())
		rest.WriteInternalServerError(w)
		return
	}

	_ = rest.WriteJSONResponse(w, http.StatusOK, updated)
}

func validTransition(from, to api.TaskStatus) bool {
	if from == to {
		return true
	}
	switch to {
	case api.TaskStatusRunning:
		return from == api.TaskStatusPending || from == api.TaskStatusPaused
	case api.TaskStatusPaused:
		return from == api.TaskStatusRunning
	default:
		return false
	}
}

// RestartQueueTask resets a task's counters and sets it running again.
// Works from any state, including the terminal ones.
func (f *Frontend) RestartQueueTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var updated api.QueueTask
	err := f.store.UpdateTask(id, func(task *api.QueueTask) error {
		now := f.now()
		task.Status = api.TaskStatusRunning
		task.RetryCount = 0
		task.FailureCount = 0
		task.Purchased = 0
		task.LastError = ""
		task.NextAttemptAt = now.Unix()
		task.UpdatedAt = now
		updated = *task
		return nil
	})
	if errors.Is(err, database.ErrNotFound) {
		rest.WriteError(w, http.StatusNotFound, rest.ErrorCodeNotFound,
			"No task with id %q.", id)
		return
	}
	if err != nil {
		f.logger.Error(err.Error())
		rest.WriteInternalServerError(w)
		return
	}

	_ = rest.WriteJSONResponse(w, http.StatusOK, updated)
}

// DeleteQueueTask removes a task. Its purchase history is retained.
func (f *Frontend) DeleteQueueTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	found := false
	err := f.store.MutateTasks(func(tasks *[]api.QueueTask) error {
		kept := lo.Filter(*tasks, func(task api.QueueTask, _ int) bool {
			return task.ID != id
		})
		found = len(kept) != len(*tasks)
		*tasks = kept
		return nil
	})
	if err != nil {
		f.logger.Error(err.Error())
		rest.WriteInternalServerError(w)
		return
	}
	if !found {
		rest.WriteError(w, http.StatusNotFound, rest.ErrorCodeNotFound,
			"No task with id %q.", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ClearQueueTasks bulk-deletes tasks, scoped to the active account unless
// scope=all.
func (f *Frontend) ClearQueueTasks(w http.ResponseWriter, r *http.Request) {
	all := scopeAll(r)
	var account api.Account
	if !all {
		var ok bool
		account, ok = f.activeAccount(r)
		if !ok {
			_ = rest.WriteJSONResponse(w, http.StatusOK, map[string]int{"deleted": 0})
			return
		}
	}

	deleted := 0
	err := f.store.MutateTasks(func(tasks *[]api.QueueTask) error {
		kept := lo.Filter(*tasks, func(task api.QueueTask, _ int) bool {
			return !all && task.AccountID != account.ID
		})
		deleted = len(*tasks) - len(kept)
		*tasks = kept
		return nil
	})
	if err != nil {
		f.logger.Error(err.Error())
		rest.WriteInternalServerError(w)
		return
	}

	_ = rest.WriteJSONResponse(w, http.StatusOK, map[string]int{"deleted": deleted})
}
