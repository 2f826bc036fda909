package api

import (
	"iter"
	"slices"
)

// TaskStatus is the lifecycle state of a QueueTask.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsTerminal returns true for states the scheduler never ticks again
// without an explicit restart.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// ListTaskStatuses returns an iterator that yields all valid task statuses.
func ListTaskStatuses() iter.Seq[TaskStatus] {
	return slices.Values([]TaskStatus{
		TaskStatusPending,
		TaskStatusRunning,
		TaskStatusPaused,
		TaskStatusCompleted,
		TaskStatusFailed,
	})
}

// PurchaseStatus is the outcome of a single order attempt.
type PurchaseStatus string

const (
	PurchaseStatusSuccess PurchaseStatus = "success"
	PurchaseStatusFailed  PurchaseStatus = "failed"
)

// ChangeType classifies an availability transition observed by the monitor.
type ChangeType string

const (
	ChangeTypeAvailable   ChangeType = "available"
	ChangeTypeUnavailable ChangeType = "unavailable"
)

// EndpointRegion selects the OVH API root URL and signing keys.
type EndpointRegion string

const (
	EndpointEU EndpointRegion = "ovh-eu"
	EndpointUS EndpointRegion = "ovh-us"
	EndpointCA EndpointRegion = "ovh-ca"
)

// ListEndpointRegions returns an iterator that yields all supported
// endpoint regions.
func ListEndpointRegions() iter.Seq[EndpointRegion] {
	return slices.Values([]EndpointRegion{EndpointEU, EndpointUS, EndpointCA})
}
