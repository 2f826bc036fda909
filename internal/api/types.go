package api

import (
	"slices"
	"time"
)

const (
	// MinRetryInterval is the floor for QueueTask.RetryInterval, in seconds.
	MinRetryInterval = 15

	// MaxQuantity bounds the number of units a single task may purchase.
	MaxQuantity = 100

	// HistorySoftCap bounds the purchase history collection; older
	// entries are trimmed on append.
	HistorySoftCap = 10000

	// SubscriptionHistoryCap bounds the per-subscription change ring.
	SubscriptionHistoryCap = 100
)

// Account holds one set of OVH API credentials. Keys are immutable after
// creation; tasks and subscriptions reference accounts by ID.
type Account struct {
	ID                string         `json:"id"`
	Alias             string         `json:"alias"`
	Zone              string         `json:"zone" validate:"required"`
	EndpointRegion    EndpointRegion `json:"endpointRegion" validate:"required,oneof=ovh-eu ovh-us ovh-ca"`
	ApplicationKey    string         `json:"applicationKey" validate:"required"`
	ApplicationSecret string         `json:"applicationSecret" validate:"required"`
	ConsumerKey       string         `json:"consumerKey" validate:"required"`
	CreatedAt         time.Time      `json:"createdAt"`
}

// QueueTask is the unit of purchase intent: buy Quantity units of PlanCode
// in the first available datacenter, retrying every RetryInterval seconds.
type QueueTask struct {
	ID          string   `json:"id"`
	AccountID   string   `json:"accountId"`
	PlanCode    string   `json:"planCode"`
	Datacenters []string `json:"datacenters"`
	Options     []string `json:"options"`

	Quantity      int   `json:"quantity"`
	RetryInterval int64 `json:"retryInterval"`
	AutoPay       bool  `json:"autoPay"`

	Status        TaskStatus `json:"status"`
	RetryCount    int        `json:"retryCount"`
	FailureCount  int        `json:"failureCount"`
	Purchased     int        `json:"purchased"`
	NextAttemptAt int64      `json:"nextAttemptAt"`
	LastError     string     `json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the task.
func (t QueueTask) Clone() QueueTask {
	t.Datacenters = slices.Clone(t.Datacenters)
	t.Options = slices.Clone(t.Options)
	return t
}

// Price is the order price breakdown returned by the cart checkout preview.
type Price struct {
	WithTax      float64 `json:"withTax"`
	WithoutTax   float64 `json:"withoutTax"`
	Tax          float64 `json:"tax"`
	CurrencyCode string  `json:"currencyCode"`
}

// PurchaseHistoryEntry records the outcome of one order attempt. Entries
// are append-only from the scheduler's perspective.
type PurchaseHistoryEntry struct {
	ID           string         `json:"id"`
	TaskID       string         `json:"taskId"`
	AccountID    string         `json:"accountId"`
	PlanCode     string         `json:"planCode"`
	Datacenter   string         `json:"datacenter"`
	Options      []string       `json:"options,omitempty"`
	Status       PurchaseStatus `json:"status"`
	OrderID      string         `json:"orderId,omitempty"`
	OrderURL     string         `json:"orderUrl,omitempty"`
	Price        *Price         `json:"price,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Sequence     int            `json:"sequence,omitempty"`
	PurchaseTime time.Time      `json:"purchaseTime"`
}

// DatacenterStatus is the last availability observation for one datacenter
// of a subscription.
type DatacenterStatus struct {
	Available  bool      `json:"available"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// SubscriptionEvent is one availability transition in a subscription's
// bounded history ring.
type SubscriptionEvent struct {
	Timestamp  time.Time  `json:"timestamp"`
	Datacenter string     `json:"datacenter"`
	ChangeType ChangeType `json:"changeType"`
	OldStatus  string     `json:"oldStatus,omitempty"`
}

// Subscription asks the availability monitor to watch one plan and notify
// on stock transitions. An empty Datacenters list watches every datacenter
// the plan is offered in. MonitorLinux and MonitorWindows round-trip on
// the wire; the plan code already encodes the image family, so the
// monitor does not consult them.
type Subscription struct {
	ID                string                      `json:"id"`
	AccountID         string                      `json:"accountId,omitempty"`
	PlanCode          string                      `json:"planCode"`
	OVHSubsidiary     string                      `json:"ovhSubsidiary"`
	Datacenters       []string                    `json:"datacenters"`
	MonitorLinux      bool                        `json:"monitorLinux"`
	MonitorWindows    bool                        `json:"monitorWindows"`
	NotifyAvailable   bool                        `json:"notifyAvailable"`
	NotifyUnavailable bool                        `json:"notifyUnavailable"`
	LastStatus        map[string]DatacenterStatus `json:"lastStatus"`
	History           []SubscriptionEvent         `json:"history"`
	CreatedAt         time.Time                   `json:"createdAt"`
}

// Clone returns a deep copy of the subscription.
func (s Subscription) Clone() Subscription {
	s.Datacenters = slices.Clone(s.Datacenters)
	s.History = slices.Clone(s.History)
	if s.LastStatus != nil {
		last := make(map[string]DatacenterStatus, len(s.LastStatus))
		for k, v := range s.LastStatus {
			last[k] = v
		}
		s.LastStatus = last
	}
	return s
}
