// Package scheduler implements the purchase queue processor: a worker pool
// fed by a one-second dispatcher that races availability probes against
// each task's retry interval and converts stock into idempotent order
// attempts.
package scheduler

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/woodchen-ink/OVH/internal/api"
	"github.com/woodchen-ink/OVH/internal/availability"
	"github.com/woodchen-ink/OVH/internal/database"
	"github.com/woodchen-ink/OVH/internal/notify"
	"github.com/woodchen-ink/OVH/internal/order"
	"github.com/woodchen-ink/OVH/internal/ovh"
)

const (
	// dispatchInterval is the cadence at which due tasks are collected.
	// Individual tasks pace themselves with their own retry interval.
	dispatchInterval = time.Second

	// maxWorkers caps the worker pool regardless of account count.
	maxWorkers = 32

	// rateLimitBackoffCap bounds the doubling backoff applied after 429
	// responses, in seconds.
	rateLimitBackoffCap = 600

	// errorMessageLimit truncates error messages recorded in history.
	errorMessageLimit = 500
)

// Attempt outcome labels for metrics.
const (
	outcomeSuccess     = "success"
	outcomeUnavailable = "unavailable"
	outcomeTransient   = "transient"
	outcomeRateLimited = "rate_limited"
	outcomeFatal       = "fatal"
)

func listOutcomeLabelValues() iter.Seq[string] {
	return slices.Values([]string{
		outcomeSuccess,
		outcomeUnavailable,
		outcomeTransient,
		outcomeRateLimited,
		outcomeFatal,
	})
}

// Prober reports per-datacenter availability for a plan and option set.
type Prober interface {
	Probe(ctx context.Context, client *ovh.Client, planCode string, options, datacenters []string) (map[string]availability.State, error)
}

// Placer executes one order attempt.
type Placer interface {
	PlaceOrder(ctx context.Context, client *ovh.Client, req order.Request) (*order.Result, error)
}

// Scheduler owns the queue-task lifecycle: it picks due tasks, paces
// retries, drives the probe and the order driver, and records outcomes.
type Scheduler struct {
	store    *database.Store
	pool     *ovh.Pool
	prober   Prober
	placer   Placer
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time

	// taskLocks enforces at most one concurrent attempt per task.
	taskLocks cmap.ConcurrentMap[string, *sync.Mutex]
	// inflight tracks tasks with an attempt in progress, for the
	// control plane's update-conflict check.
	inflight cmap.ConcurrentMap[string, time.Time]
	// backoffs remembers the last rate-limit backoff per task.
	backoffs cmap.ConcurrentMap[string, int64]

	taskChannel chan string
	taskWorkers sync.WaitGroup

	ticksCount      prometheus.Counter
	attemptsCount   *prometheus.CounterVec
	purchasesCount  prometheus.Counter
	attemptDuration prometheus.Histogram
	runningGauge    prometheus.Gauge
	workerGauge     prometheus.Gauge
}

// New creates a Scheduler. Metrics are registered on the given registerer.
func New(store *database.Store, pool *ovh.Pool, prober Prober, placer Placer, notifier notify.Notifier, logger *slog.Logger, registerer prometheus.Registerer) *Scheduler {
	s := &Scheduler{
		store:     store,
		pool:      pool,
		prober:    prober,
		placer:    placer,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
		taskLocks: cmap.New[*sync.Mutex](),
		inflight:  cmap.New[time.Time](),
		backoffs:  cmap.New[int64](),

		ticksCount: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "sniper_scheduler_ticks_total",
				Help: "Total count of dispatcher ticks.",
			},
		),
		attemptsCount: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sniper_scheduler_attempts_total",
				Help: "Total count of task attempts by outcome.",
			},
			[]string{"outcome"},
		),
		purchasesCount: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "sniper_scheduler_purchases_total",
				Help: "Total count of successfully purchased units.",
			},
		),
		attemptDuration: promauto.With(registerer).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sniper_scheduler_attempt_duration_seconds",
				Help:    "Histogram of attempt latencies.",
				Buckets: []float64{.25, .5, 1, 2, 5, 10, 30, 90},
			},
		),
		runningGauge: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "sniper_scheduler_running_tasks",
				Help: "Number of tasks in the running state.",
			},
		),
		workerGauge: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "sniper_scheduler_workers",
				Help: "Number of concurrent attempt workers.",
			},
		),
	}

	for v := range listOutcomeLabelValues() {
		s.attemptsCount.WithLabelValues(v)
	}

	return s
}

// workerCount sizes the pool to min(32, 2 x account count), at least one.
func (s *Scheduler) workerCount() int {
	n := 2 * len(s.store.ListAccounts())
	if n < 1 {
		n = 1
	}
	if n > maxWorkers {
		n = maxWorkers
	}
	return n
}

// Run executes the dispatcher loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	numWorkers := s.workerCount()
	s.workerGauge.Set(float64(numWorkers))
	s.logger.Info(fmt.Sprintf("Processing %d task attempts at a time", numWorkers))

	s.taskChannel = make(chan string, numWorkers)

	s.taskWorkers.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer s.taskWorkers.Done()
			for taskID := range s.taskChannel {
				s.processTask(ctx, taskID)
			}
		}()
	}

	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ticker.C:
			s.dispatchDueTasks()
		case <-ctx.Done():
			break loop
		}
	}

	close(s.taskChannel)
}

// Join waits for in-flight attempts to finish after Run returns.
func (s *Scheduler) Join() {
	s.taskWorkers.Wait()
}

// AttemptInProgress reports whether the task currently has an attempt
// running. The control plane refuses config updates while this holds.
func (s *Scheduler) AttemptInProgress(taskID string) bool {
	return s.inflight.Has(taskID)
}

// dispatchDueTasks feeds every due running task to the worker pool, oldest
// first so older tasks win contention for workers.
func (s *Scheduler) dispatchDueTasks() {
	s.ticksCount.Inc()

	now := s.now().Unix()
	tasks := s.store.ListTasks()

	var running int
	due := make([]api.QueueTask, 0, len(tasks))
	for _, task := range tasks {
		if task.Status != api.TaskStatusRunning {
			continue
		}
		running++
		if task.NextAttemptAt <= now {
			due = append(due, task)
		}
	}
	s.runningGauge.Set(float64(running))

	slices.SortFunc(due, func(a, b api.QueueTask) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	for _, task := range due {
		select {
		case s.taskChannel <- task.ID:
		default:
			// The channel is full. Push the task anyway but log how
			// long we block for; per-task locks make a duplicate
			// dispatch harmless.
			start := time.Now()
			s.taskChannel <- task.ID
			s.logger.Warn(fmt.Sprintf("Task dispatch blocked for %s", time.Since(start)),
				"task_id", task.ID)
		}
	}
}

func (s *Scheduler) lockFor(taskID string) *sync.Mutex {
	if lock, ok := s.taskLocks.Get(taskID); ok {
		return lock
	}
	s.taskLocks.SetIfAbsent(taskID, &sync.Mutex{})
	lock, _ := s.taskLocks.Get(taskID)
	return lock
}

// forgetTask drops per-task bookkeeping after deletion or completion.
func (s *Scheduler) forgetTask(taskID string) {
	s.backoffs.Remove(taskID)
}
