package monitor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woodchen-ink/OVH/internal/api"
	"github.com/woodchen-ink/OVH/internal/availability"
	"github.com/woodchen-ink/OVH/internal/database"
	"github.com/woodchen-ink/OVH/internal/ovh"
)

type fakeProber struct {
	states map[string]availability.State
	err    error
	calls  int
}

func (f *fakeProber) Probe(ctx context.Context, client *ovh.Client, planCode string, options, datacenters []string) (map[string]availability.State, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.states, nil
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Send(ctx context.Context, text string) {
	n.messages = append(n.messages, text)
}

type fixture struct {
	store    *database.Store
	prober   *fakeProber
	notifier *recordingNotifier
	monitor  *Monitor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := database.New(t.TempDir(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	require.NoError(t, store.MutateAccounts(func(accounts *[]api.Account) error {
		*accounts = append(*accounts, api.Account{
			ID:                "account-1",
			Alias:             "default",
			Zone:              "FR",
			EndpointRegion:    api.EndpointEU,
			ApplicationKey:    "ak",
			ApplicationSecret: "as",
			ConsumerKey:       "ck",
		})
		return nil
	}))

	f := &fixture{
		store:    store,
		prober:   &fakeProber{states: map[string]availability.State{}},
		notifier: &recordingNotifier{},
	}

	f.monitor = New(store, ovh.NewPool(), f.prober, f.notifier,
		slog.New(slog.DiscardHandler), DefaultCheckInterval, prometheus.NewRegistry())

	return f
}

func (f *fixture) addSubscription(t *testing.T, subscription api.Subscription) {
	t.Helper()
	require.NoError(t, f.store.MutateSubscriptions(func(subscriptions *[]api.Subscription) error {
		*subscriptions = append(*subscriptions, subscription)
		return nil
	}))
}

func (f *fixture) subscription(t *testing.T, id string) api.Subscription {
	t.Helper()
	subscription, ok := f.store.GetSubscription(id)
	require.True(t, ok)
	return subscription
}

func baseSubscription() api.Subscription {
	return api.Subscription{
		ID:              "sub-1",
		PlanCode:        "24ska01",
		OVHSubsidiary:   "FR",
		Datacenters:     []string{"gra", "rbx"},
		NotifyAvailable: true,
	}
}

func TestFirstCheckNotifiesOnStock(t *testing.T) {
	f := newFixture(t)
	f.addSubscription(t, baseSubscription())
	f.prober.states = map[string]availability.State{
		"gra": availability.StateAvailable,
		"rbx": availability.StateUnavailable,
	}

	f.monitor.processSubscription(context.Background(), "sub-1")

	// First sighting of stock notifies; first sighting of absence stays
	// silent unless the operator opted in.
	require.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0], "🟢")
	assert.Contains(t, f.notifier.messages[0], "gra")

	subscription := f.subscription(t, "sub-1")
	assert.True(t, subscription.LastStatus["gra"].Available)
	assert.False(t, subscription.LastStatus["rbx"].Available)
	require.Len(t, subscription.History, 1)
	assert.Equal(t, api.ChangeTypeAvailable, subscription.History[0].ChangeType)
}

func TestFirstCheckUnavailableNotifiesWhenOptedIn(t *testing.T) {
	f := newFixture(t)
	subscription := baseSubscription()
	subscription.NotifyUnavailable = true
	f.addSubscription(t, subscription)
	f.prober.states = map[string]availability.State{"gra": availability.StateUnavailable}

	f.monitor.processSubscription(context.Background(), "sub-1")

	require.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0], "🔴")
}

func TestTransitionToAvailableGroupsDatacenters(t *testing.T) {
	f := newFixture(t)
	subscription := baseSubscription()
	subscription.LastStatus = map[string]api.DatacenterStatus{
		"gra": {Available: false},
		"rbx": {Available: false},
	}
	f.addSubscription(t, subscription)
	f.prober.states = map[string]availability.State{
		"gra": availability.StateAvailable,
		"rbx": availability.StateAvailable,
	}

	f.monitor.processSubscription(context.Background(), "sub-1")

	// One grouped message for every datacenter that came into stock.
	require.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0], "gra, rbx")

	got := f.subscription(t, "sub-1")
	require.Len(t, got.History, 2)
	assert.Equal(t, "unavailable", got.History[0].OldStatus)
}

func TestTransitionToUnavailablePerDatacenter(t *testing.T) {
	f := newFixture(t)
	subscription := baseSubscription()
	subscription.NotifyUnavailable = true
	subscription.LastStatus = map[string]api.DatacenterStatus{
		"gra": {Available: true},
		"rbx": {Available: true},
	}
	f.addSubscription(t, subscription)
	f.prober.states = map[string]availability.State{
		"gra": availability.StateUnavailable,
		"rbx": availability.StateUnavailable,
	}

	f.monitor.processSubscription(context.Background(), "sub-1")

	// Out-of-stock messages go out one per datacenter.
	require.Len(t, f.notifier.messages, 2)
	assert.Contains(t, f.notifier.messages[0], "🔴")
	assert.Contains(t, f.notifier.messages[0], "gra")
	assert.Contains(t, f.notifier.messages[1], "rbx")
}

func TestNoChangeNoNotification(t *testing.T) {
	f := newFixture(t)
	subscription := baseSubscription()
	subscription.NotifyUnavailable = true
	subscription.LastStatus = map[string]api.DatacenterStatus{
		"gra": {Available: true},
	}
	f.addSubscription(t, subscription)
	f.prober.states = map[string]availability.State{"gra": availability.StateAvailable}

	f.monitor.processSubscription(context.Background(), "sub-1")

	assert.Empty(t, f.notifier.messages)
	assert.Empty(t, f.subscription(t, "sub-1").History)
}

func TestNotifyFlagsGateTransitions(t *testing.T) {
	f := newFixture(t)
	subscription := baseSubscription()
	subscription.NotifyAvailable = false
	subscription.LastStatus = map[string]api.DatacenterStatus{"gra": {Available: false}}
	f.addSubscription(t, subscription)
	f.prober.states = map[string]availability.State{"gra": availability.StateAvailable}

	f.monitor.processSubscription(context.Background(), "sub-1")

	assert.Empty(t, f.notifier.messages)
	// The baseline still advances so a later opt-in does not replay the
	// transition.
	assert.True(t, f.subscription(t, "sub-1").LastStatus["gra"].Available)
}

func TestUnknownStateIsIgnored(t *testing.T) {
	f := newFixture(t)
	subscription := baseSubscription()
	subscription.NotifyUnavailable = true
	subscription.LastStatus = map[string]api.DatacenterStatus{"gra": {Available: true}}
	f.addSubscription(t, subscription)
	f.prober.states = map[string]availability.State{"gra": availability.StateUnknown}

	f.monitor.processSubscription(context.Background(), "sub-1")

	// Unknown is not a transition and does not touch the baseline.
	assert.Empty(t, f.notifier.messages)
	assert.True(t, f.subscription(t, "sub-1").LastStatus["gra"].Available)
}

func TestHistoryRingIsBounded(t *testing.T) {
	f := newFixture(t)
	subscription := baseSubscription()
	for i := 0; i < api.SubscriptionHistoryCap; i++ {
		subscription.History = append(subscription.History, api.SubscriptionEvent{Datacenter: "old"})
	}
	subscription.LastStatus = map[string]api.DatacenterStatus{"gra": {Available: false}}
	f.addSubscription(t, subscription)
	f.prober.states = map[string]availability.State{"gra": availability.StateAvailable}

	f.monitor.processSubscription(context.Background(), "sub-1")

	history := f.subscription(t, "sub-1").History
	require.Len(t, history, api.SubscriptionHistoryCap)
	assert.Equal(t, "gra", history[len(history)-1].Datacenter)
	assert.Equal(t, "old", history[0].Datacenter)
}

func TestProbeErrorLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	subscription := baseSubscription()
	subscription.LastStatus = map[string]api.DatacenterStatus{"gra": {Available: true}}
	f.addSubscription(t, subscription)
	f.prober.err = &ovh.APIError{StatusCode: 500, Message: "Internal error"}

	f.monitor.processSubscription(context.Background(), "sub-1")

	assert.Empty(t, f.notifier.messages)
	assert.True(t, f.subscription(t, "sub-1").LastStatus["gra"].Available)
}

func TestNoAccountSkipsSubscription(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.MutateAccounts(func(accounts *[]api.Account) error {
		*accounts = nil
		return nil
	}))
	f.addSubscription(t, baseSubscription())

	f.monitor.processSubscription(context.Background(), "sub-1")
	assert.Equal(t, 0, f.prober.calls)
}

func TestStartStopIdempotent(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.monitor.Status().Running)

	f.monitor.Start()
	f.monitor.Start()
	assert.True(t, f.monitor.Status().Running)

	f.monitor.Stop()
	f.monitor.Stop()
	assert.False(t, f.monitor.Status().Running)
}

func TestStatusCounts(t *testing.T) {
	f := newFixture(t)
	f.addSubscription(t, baseSubscription())

	status := f.monitor.Status()
	assert.Equal(t, 1, status.SubscriptionCount)
	assert.Equal(t, int64(DefaultCheckInterval/time.Second), status.CheckInterval)
}

func TestIntervalClamped(t *testing.T) {
	f := newFixture(t)
	clamped := New(f.store, ovh.NewPool(), f.prober, f.notifier,
		slog.New(slog.DiscardHandler), 5*time.Second, prometheus.NewRegistry())
	assert.Equal(t, int64(MinCheckInterval/time.Second), clamped.Status().CheckInterval)
}
