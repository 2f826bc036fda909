package api

// QueueTaskRequest is the wire shape for creating or updating a queue task.
type QueueTaskRequest struct {
	PlanCode      string   `json:"planCode" validate:"required"`
	Datacenters   []string `json:"datacenters" validate:"required,min=1,dive,datacenter"`
	Options       []string `json:"options" validate:"omitempty,dive,required"`
	Quantity      int      `json:"quantity" validate:"required,min=1,max=100"`
	RetryInterval int64    `json:"retryInterval" validate:"required,min=15"`
	AutoPay       bool     `json:"autoPay"`
	AccountID     string   `json:"accountId"`
}

// TaskStatusRequest is the wire shape for PUT /queue/{id}/status.
type TaskStatusRequest struct {
	Status TaskStatus `json:"status" validate:"required,oneof=running paused"`
}

// SubscriptionRequest is the wire shape for creating or updating an
// availability subscription.
type SubscriptionRequest struct {
	PlanCode          string   `json:"planCode" validate:"required"`
	OVHSubsidiary     string   `json:"ovhSubsidiary" validate:"required"`
	Datacenters       []string `json:"datacenters" validate:"omitempty,dive,datacenter"`
	MonitorLinux      bool     `json:"monitorLinux"`
	MonitorWindows    bool     `json:"monitorWindows"`
	NotifyAvailable   bool     `json:"notifyAvailable"`
	NotifyUnavailable bool     `json:"notifyUnavailable"`
	AccountID         string   `json:"accountId"`
}

// AccountRequest is the wire shape for registering an OVH account.
type AccountRequest struct {
	Alias             string         `json:"alias"`
	Zone              string         `json:"zone" validate:"required"`
	EndpointRegion    EndpointRegion `json:"endpointRegion" validate:"required,oneof=ovh-eu ovh-us ovh-ca"`
	ApplicationKey    string         `json:"applicationKey" validate:"required"`
	ApplicationSecret string         `json:"applicationSecret" validate:"required"`
	ConsumerKey       string         `json:"consumerKey" validate:"required"`
}
