package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validQueueTaskRequest() QueueTaskRequest {
	return QueueTaskRequest{
		PlanCode:      "24ska01",
		Datacenters:   []string{"gra", "rbx"},
		Quantity:      1,
		RetryInterval: 30,
	}
}

func TestQueueTaskRequestValidation(t *testing.T) {
	validate := NewValidator()

	type testCase struct {
		name    string
		mutate  func(req *QueueTaskRequest)
		wantErr bool
	}

	tests := []testCase{
		{
			name:   "valid",
			mutate: func(req *QueueTaskRequest) {},
		},
		{
			name:    "quantity zero",
			mutate:  func(req *QueueTaskRequest) { req.Quantity = 0 },
			wantErr: true,
		},
		{
			name:   "quantity at cap",
			mutate: func(req *QueueTaskRequest) { req.Quantity = MaxQuantity },
		},
		{
			name:    "quantity over cap",
			mutate:  func(req *QueueTaskRequest) { req.Quantity = MaxQuantity + 1 },
			wantErr: true,
		},
		{
			name:   "retry interval at floor",
			mutate: func(req *QueueTaskRequest) { req.RetryInterval = MinRetryInterval },
		},
		{
			name:    "retry interval below floor",
			mutate:  func(req *QueueTaskRequest) { req.RetryInterval = MinRetryInterval - 1 },
			wantErr: true,
		},
		{
			name:    "no datacenters",
			mutate:  func(req *QueueTaskRequest) { req.Datacenters = nil },
			wantErr: true,
		},
		{
			name:    "empty datacenter entry",
			mutate:  func(req *QueueTaskRequest) { req.Datacenters = []string{"gra", ""} },
			wantErr: true,
		},
		{
			name:    "malformed datacenter entry",
			mutate:  func(req *QueueTaskRequest) { req.Datacenters = []string{"gra", "GRA"} },
			wantErr: true,
		},
		{
			name:   "numbered datacenter",
			mutate: func(req *QueueTaskRequest) { req.Datacenters = []string{"sbg5"} },
		},
		{
			name:    "missing plan code",
			mutate:  func(req *QueueTaskRequest) { req.PlanCode = "" },
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			req := validQueueTaskRequest()
			test.mutate(&req)

			err := validate.Struct(req)
			if test.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidationMessageUsesJSONNames(t *testing.T) {
	validate := NewValidator()

	req := validQueueTaskRequest()
	req.Quantity = 0
	req.RetryInterval = 5

	err := validate.Struct(req)
	require.Error(t, err)

	message := ValidationMessage(err)
	assert.Contains(t, message, `"quantity"`)
	assert.Contains(t, message, `"retryInterval"`)
	assert.NotContains(t, message, "Quantity")
}

func TestSubscriptionRequestValidation(t *testing.T) {
	validate := NewValidator()

	valid := SubscriptionRequest{PlanCode: "24ska01", OVHSubsidiary: "FR"}
	assert.NoError(t, validate.Struct(valid))

	valid.Datacenters = []string{"gra", "sbg5"}
	assert.NoError(t, validate.Struct(valid))

	invalid := valid
	invalid.Datacenters = []string{"not-a-dc"}
	assert.Error(t, validate.Struct(invalid))
}

func TestTaskStatusRequestValidation(t *testing.T) {
	validate := NewValidator()

	assert.NoError(t, validate.Struct(TaskStatusRequest{Status: TaskStatusRunning}))
	assert.NoError(t, validate.Struct(TaskStatusRequest{Status: TaskStatusPaused}))
	assert.Error(t, validate.Struct(TaskStatusRequest{Status: TaskStatusCompleted}))
	assert.Error(t, validate.Struct(TaskStatusRequest{Status: ""}))
}

func TestAccountRequestValidation(t *testing.T) {
	validate := NewValidator()

	valid := AccountRequest{
		Zone:              "FR",
		EndpointRegion:    EndpointEU,
		ApplicationKey:    "ak",
		ApplicationSecret: "as",
		ConsumerKey:       "ck",
	}
	assert.NoError(t, validate.Struct(valid))

	invalid := valid
	invalid.EndpointRegion = "ovh-mars"
	assert.Error(t, validate.Struct(invalid))
}

func TestTaskStatusIsTerminal(t *testing.T) {
	assert.True(t, TaskStatusCompleted.IsTerminal())
	assert.True(t, TaskStatusFailed.IsTerminal())
	assert.False(t, TaskStatusPending.IsTerminal())
	assert.False(t, TaskStatusRunning.IsTerminal())
	assert.False(t, TaskStatusPaused.IsTerminal())
}

func TestClonesAreDeep(t *testing.T) {
	task := QueueTask{Datacenters: []string{"gra"}, Options: []string{"ram"}}
	clone := task.Clone()
	clone.Datacenters[0] = "mutated"
	clone.Options[0] = "mutated"
	assert.Equal(t, "gra", task.Datacenters[0])
	assert.Equal(t, "ram", task.Options[0])

	subscription := Subscription{
		Datacenters: []string{"gra"},
		LastStatus:  map[string]DatacenterStatus{"gra": {Available: true}},
	}
	subscriptionClone := subscription.Clone()
	subscriptionClone.LastStatus["gra"] = DatacenterStatus{Available: false}
	assert.True(t, subscription.LastStatus["gra"].Available)
}
