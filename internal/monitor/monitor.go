// Package monitor implements the subscription-driven availability poller.
// It observes stock transitions and notifies; it never places orders
// itself (auto-ordering is expressed as a parallel queue task).
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/woodchen-ink/OVH/internal/api"
	"github.com/woodchen-ink/OVH/internal/availability"
	"github.com/woodchen-ink/OVH/internal/database"
	"github.com/woodchen-ink/OVH/internal/notify"
	"github.com/woodchen-ink/OVH/internal/ovh"
)

const (
	// DefaultCheckInterval is the monitor's polling cadence.
	DefaultCheckInterval = 60 * time.Second

	// MinCheckInterval is the floor for configured cadences.
	MinCheckInterval = 30 * time.Second
)

// Prober reports per-datacenter availability for a plan.
type Prober interface {
	Probe(ctx context.Context, client *ovh.Client, planCode string, options, datacenters []string) (map[string]availability.State, error)
}

// Status is a snapshot of the monitor's state.
type Status struct {
	Running           bool  `json:"running"`
	SubscriptionCount int   `json:"subscriptionCount"`
	CheckInterval     int64 `json:"checkInterval"`
}

// Monitor polls availability for every subscription on a fixed cadence and
// publishes stock-change notifications.
type Monitor struct {
	store    *database.Store
	pool     *ovh.Pool
	prober   Prober
	notifier notify.Notifier
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	subscriptionLocks cmap.ConcurrentMap[string, *sync.Mutex]

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}

	checksCount        prometheus.Counter
	changesCount       *prometheus.CounterVec
	subscriptionsGauge prometheus.Gauge
}

// New creates a Monitor. Intervals below MinCheckInterval are clamped.
func New(store *database.Store, pool *ovh.Pool, prober Prober, notifier notify.Notifier, logger *slog.Logger, interval time.Duration, registerer prometheus.Registerer) *Monitor {
	if interval < MinCheckInterval {
		interval = MinCheckInterval
	}

	m := &Monitor{
		store:             store,
		pool:              pool,
		prober:            prober,
		notifier:          notifier,
		logger:            logger,
		interval:          interval,
		now:               time.Now,
		subscriptionLocks: cmap.New[*sync.Mutex](),

		checksCount: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "sniper_monitor_checks_total",
				Help: "Total count of subscription availability checks.",
			},
		),
		changesCount: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sniper_monitor_changes_total",
				Help: "Total count of observed availability transitions.",
			},
			[]string{"change"},
		),
		subscriptionsGauge: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "sniper_monitor_subscriptions",
				Help: "Number of subscriptions being monitored.",
			},
		),
	}

	m.changesCount.WithLabelValues(string(api.ChangeTypeAvailable))
	m.changesCount.WithLabelValues(string(api.ChangeTypeUnavailable))

	return m
}

// Start launches the polling loop. Idempotent.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	m.logger.Info("availability monitor started", "interval", m.interval.String())
	go m.run(ctx)
}

// Stop halts the polling loop and waits for the current tick to finish.
// Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running.CompareAndSwap(true, false) {
		return
	}

	m.cancel()
	<-m.done
	m.logger.Info("availability monitor stopped")
}

// Status reports whether the monitor runs, how many subscriptions it
// watches and at what cadence.
func (m *Monitor) Status() Status {
	return Status{
		Running:           m.running.Load(),
		SubscriptionCount: len(m.store.ListSubscriptions()),
		CheckInterval:     int64(m.interval.Seconds()),
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Check immediately on startup.
	m.tick(ctx)

	for {
		select {
		case <-ticker.C:
			m.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	subscriptions := m.store.ListSubscriptions()
	m.subscriptionsGauge.Set(float64(len(subscriptions)))

	for _, subscription := range subscriptions {
		if ctx.Err() != nil {
			return
		}
		m.processSubscription(ctx, subscription.ID)
	}
}

func (m *Monitor) lockFor(subscriptionID string) *sync.Mutex {
	if lock, ok := m.subscriptionLocks.Get(subscriptionID); ok {
		return lock
	}
	m.subscriptionLocks.SetIfAbsent(subscriptionID, &sync.Mutex{})
	lock, _ := m.subscriptionLocks.Get(subscriptionID)
	return lock
}

// resolveAccount picks the subscription's account, falling back to the
// account aliased "default" and then to the first registered account.
func (m *Monitor) resolveAccount(subscription api.Subscription) (api.Account, bool) {
	if subscription.AccountID != "" {
		return m.store.GetAccount(subscription.AccountID)
	}
	accounts := m.store.ListAccounts()
	for _, account := range accounts {
		if account.Alias == "default" {
			return account, true
		}
	}
	if len(accounts) > 0 {
		return accounts[0], true
	}
	return api.Account{}, false
}

// change is one observed transition, queued for notification and history.
type change struct {
	datacenter string
	changeType api.ChangeType
	oldStatus  string
}

func (m *Monitor) processSubscription(ctx context.Context, subscriptionID string) {
	lock := m.lockFor(subscriptionID)
	if !lock.TryLock() {
		return
	}
	defer lock.Unlock()

	subscription, ok := m.store.GetSubscription(subscriptionID)
	if !ok {
		return
	}

	logger := m.logger.With("subscription_id", subscription.ID, "plan_code", subscription.PlanCode)

	account, ok := m.resolveAccount(subscription)
	if !ok {
		logger.Debug("no account available for subscription, skipping")
		return
	}

	client, err := m.pool.Get(account)
	if err != nil {
		logger.Error(fmt.Sprintf("Error building client: %v", err))
		return
	}

	m.checksCount.Inc()

	// An empty datacenter list watches everything the plan is offered in.
	states, err := m.prober.Probe(ctx, client, subscription.PlanCode, nil, subscription.Datacenters)
	if err != nil {
		logger.Warn(fmt.Sprintf("Availability check failed: %v", err))
		return
	}

	changes := m.detectChanges(subscription, states)
	m.notifyChanges(ctx, subscription, changes)
	m.persist(subscription.ID, states, changes, logger)
}

// detectChanges compares the probe result against the last observation.
// A datacenter seen for the first time notifies on stock (if asked), and
// on absence only when the operator opted into unavailability alerts.
func (m *Monitor) detectChanges(subscription api.Subscription, states map[string]availability.State) []change {
	var changes []change

	for dc, state := range states {
		if state == availability.StateUnknown {
			continue
		}
		nowAvailable := state == availability.StateAvailable

		last, seen := subscription.LastStatus[dc]
		switch {
		case !seen && nowAvailable && subscription.NotifyAvailable:
			changes = append(changes, change{dc, api.ChangeTypeAvailable, ""})
		case !seen && !nowAvailable && subscription.NotifyUnavailable:
			changes = append(changes, change{dc, api.ChangeTypeUnavailable, ""})
		case seen && !last.Available && nowAvailable && subscription.NotifyAvailable:
			changes = append(changes, change{dc, api.ChangeTypeAvailable, "unavailable"})
		case seen && last.Available && !nowAvailable && subscription.NotifyUnavailable:
			changes = append(changes, change{dc, api.ChangeTypeUnavailable, "available"})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].datacenter < changes[j].datacenter
	})
	return changes
}

// notifyChanges sends one grouped message for everything that came into
// stock and individual messages for datacenters that went out.
func (m *Monitor) notifyChanges(ctx context.Context, subscription api.Subscription, changes []change) {
	var availableDCs []string
	for _, c := range changes {
		if c.changeType == api.ChangeTypeAvailable {
			availableDCs = append(availableDCs, c.datacenter)
		}
		m.changesCount.WithLabelValues(string(c.changeType)).Inc()
	}

	if len(availableDCs) > 0 {
		m.notifier.Send(ctx, fmt.Sprintf("🟢 %s available in %s (%s)",
			subscription.PlanCode, strings.Join(availableDCs, ", "), subscription.OVHSubsidiary))
	}

	for _, c := range changes {
		if c.changeType != api.ChangeTypeUnavailable {
			continue
		}
		m.notifier.Send(ctx, fmt.Sprintf("🔴 %s no longer available in %s (%s)",
			subscription.PlanCode, c.datacenter, subscription.OVHSubsidiary))
	}
}

// persist updates lastStatus for every reported datacenter and appends the
// observed transitions to the bounded history ring.
func (m *Monitor) persist(subscriptionID string, states map[string]availability.State, changes []change, logger *slog.Logger) {
	now := m.now()

	err := m.store.UpdateSubscription(subscriptionID, func(subscription *api.Subscription) error {
		if subscription.LastStatus == nil {
			subscription.LastStatus = map[string]api.DatacenterStatus{}
		}
		for dc, state := range states {
			if state == availability.StateUnknown {
				continue
			}
			subscription.LastStatus[dc] = api.DatacenterStatus{
				Available:  state == availability.StateAvailable,
				LastSeenAt: now,
			}
		}

		for _, c := range changes {
			subscription.History = append(subscription.History, api.SubscriptionEvent{
				Timestamp:  now,
				Datacenter: c.datacenter,
				ChangeType: c.changeType,
				OldStatus:  c.oldStatus,
			})
		}
		if excess := len(subscription.History) - api.SubscriptionHistoryCap; excess > 0 {
			subscription.History = subscription.History[excess:]
		}
		return nil
	})
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		logger.Error(fmt.Sprintf("Error persisting subscription state: %v", err))
	}
}
