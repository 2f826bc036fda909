// Package frontend implements the HTTP control plane: CRUD for queue
// tasks, purchase history, accounts and availability subscriptions, plus
// status and metrics endpoints.
package frontend

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/woodchen-ink/OVH/internal/api"
	"github.com/woodchen-ink/OVH/internal/api/rest"
	"github.com/woodchen-ink/OVH/internal/database"
	"github.com/woodchen-ink/OVH/internal/monitor"
	"github.com/woodchen-ink/OVH/internal/ovh"
	"github.com/woodchen-ink/OVH/internal/scheduler"
)

// ProgramName identifies the service in logs.
const ProgramName = "ovh-sniper"

// Frontend serves the control plane.
type Frontend struct {
	logger      *slog.Logger
	listener    net.Listener
	server      http.Server
	store       *database.Store
	pool        *ovh.Pool
	scheduler   *scheduler.Scheduler
	monitor     *monitor.Monitor
	validate    *validator.Validate
	apiSecret   string
	authEnabled bool
	now         func() time.Time
	ready       atomic.Value
	done        chan struct{}
}

// NewFrontend builds the control plane around its collaborators and wires
// the route table.
func NewFrontend(logger *slog.Logger, listener net.Listener, store *database.Store, pool *ovh.Pool, sched *scheduler.Scheduler, mon *monitor.Monitor, apiSecret string, authEnabled bool) *Frontend {
	f := &Frontend{
		logger:      logger,
		listener:    listener,
		store:       store,
		pool:        pool,
		scheduler:   sched,
		monitor:     mon,
		validate:    api.NewValidator(),
		apiSecret:   apiSecret,
		authEnabled: authEnabled,
		now:         time.Now,
		done:        make(chan struct{}),
		server: http.Server{
			ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError),
			BaseContext: func(net.Listener) context.Context {
				return ContextWithLogger(context.Background(), logger)
			},
		},
	}

	mux := NewMiddlewareMux(
		MiddlewarePanic,
		MiddlewareLogging,
		f.MiddlewareAuth)

	mux.HandleFunc("/", f.NotFound)
	mux.HandleFunc("GET /health", f.Healthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /queue", f.ListQueueTasks)
	mux.HandleFunc("GET /queue/paged", f.ListQueueTasksPaged)
	mux.HandleFunc("POST /queue", f.CreateQueueTask)
	mux.HandleFunc("PUT /queue/{id}", f.UpdateQueueTask)
	mux.HandleFunc("PUT /queue/{id}/status", f.UpdateQueueTaskStatus)
	mux.HandleFunc("PUT /queue/{id}/restart", f.RestartQueueTask)
	mux.HandleFunc("DELETE /queue/clear", f.ClearQueueTasks)
	mux.HandleFunc("DELETE /queue/{id}", f.DeleteQueueTask)

	mux.HandleFunc("GET /purchase-history", f.ListPurchaseHistory)
	mux.HandleFunc("DELETE /purchase-history", f.ClearPurchaseHistory)

	mux.HandleFunc("GET /stats", f.Stats)

	mux.HandleFunc("GET /accounts", f.ListAccounts)
	mux.HandleFunc("POST /accounts", f.CreateAccount)
	mux.HandleFunc("DELETE /accounts/{id}", f.DeleteAccount)

	mux.HandleFunc("GET /vps-monitor/subscriptions", f.ListSubscriptions)
	mux.HandleFunc("POST /vps-monitor/subscriptions", f.CreateSubscription)
	mux.HandleFunc("PUT /vps-monitor/subscriptions/{id}", f.UpdateSubscription)
	mux.HandleFunc("DELETE /vps-monitor/subscriptions/{id}", f.DeleteSubscription)
	mux.HandleFunc("GET /vps-monitor/status", f.MonitorStatus)
	mux.HandleFunc("POST /vps-monitor/start", f.MonitorStart)
	mux.HandleFunc("POST /vps-monitor/stop", f.MonitorStop)

	f.server.Handler = mux

	return f
}

// Run serves until stop is closed, then shuts down gracefully.
func (f *Frontend) Run(ctx context.Context, stop <-chan struct{}) {
	if stop != nil {
		go func() {
			<-stop
			f.ready.Store(false)
			_ = f.server.Shutdown(ctx)
		}()
	}

	f.logger.Info(fmt.Sprintf("listening on %s", f.listener.Addr().String()))
	f.ready.Store(true)

	if err := f.server.Serve(f.listener); err != http.ErrServerClosed {
		f.logger.Error(err.Error())
	}

	close(f.done)
}

// Join waits for the frontend to finish serving.
func (f *Frontend) Join() {
	<-f.done
}

func (f *Frontend) NotFound(w http.ResponseWriter, r *http.Request) {
	rest.WriteError(w, http.StatusNotFound, rest.ErrorCodeNotFound,
		"No route for %s %s.", r.Method, r.URL.Path)
}

func (f *Frontend) Healthz(w http.ResponseWriter, r *http.Request) {
	ready, ok := f.ready.Load().(bool)

	healthStatus := func() float64 {
		if ok && ready {
			return 1.0
		}
		return 0.0
	}()

	if healthStatus > 0 {
		_ = rest.WriteJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		rest.WriteError(w, http.StatusInternalServerError, rest.ErrorCodeInternalServerError,
			"Not ready.")
	}
}
