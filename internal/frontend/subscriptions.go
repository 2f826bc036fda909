package frontend

import (
	"errors"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/woodchen-ink/OVH/internal/api"
	"github.com/woodchen-ink/OVH/internal/api/rest"
	"github.com/woodchen-ink/OVH/internal/database"
)

// ListSubscriptions returns all availability subscriptions.
func (f *Frontend) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subscriptions := f.store.ListSubscriptions()
	slices.SortFunc(subscriptions, func(a, b api.Subscription) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	_ = rest.WriteJSONResponse(w, http.StatusOK, subscriptions)
}

// CreateSubscription registers a plan for availability monitoring. The
// first check establishes a baseline; notifications follow from there.
func (f *Frontend) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req api.SubscriptionRequest
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

	subscription := api.Subscription{
		ID:                uuid.NewString(),
		AccountID:         req.AccountID,
		PlanCode:          req.PlanCode,
		OVHSubsidiary:     req.OVHSubsidiary,
		Datacenters:       req.Datacenters,
		MonitorLinux:      req.MonitorLinux,
		MonitorWindows:    req.MonitorWindows,
		NotifyAvailable:   req.NotifyAvailable,
		NotifyUnavailable: req.NotifyUnavailable,
		LastStatus:        map[string]api.DatacenterStatus{},
		History:           []api.SubscriptionEvent{},
		CreatedAt:         f.now(),
	}

	err := f.store.MutateSubscriptions(func(subscriptions *[]api.Subscription) error {
		*subscriptions = append(*subscriptions, subscription)
		return nil
	})
	if err != nil {
		f.logger.Error(err.Error())
		rest.WriteInternalServerError(w)
		return
	}

	_ = rest.WriteJSONResponse(w, http.StatusCreated, subscription)
}

// UpdateSubscription replaces a subscription's configuration while keeping
// its accumulated status baseline and history ring.
func (f *Frontend) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req api.SubscriptionRequest
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

	var updated api.Subscription
	err := f.store.UpdateSubscription(id, func(subscription *api.Subscription) error {
		subscription.AccountID = req.AccountID
		subscription.PlanCode = req.PlanCode
		subscription.OVHSubsidiary = req.OVHSubsidiary
		subscription.Datacenters = req.Datacenters
		subscription.MonitorLinux = req.MonitorLinux
		subscription.MonitorWindows = req.MonitorWindows
		subscription.NotifyAvailable = req.NotifyAvailable
		subscription.NotifyUnavailable = req.NotifyUnavailable
		updated = *subscription
		return nil
	})
	if errors.Is(err, database.ErrNotFound) {
		rest.WriteError(w, http.StatusNotFound, rest.ErrorCodeNotFound,
			"No subscription with id %q.", id)
		return
	}
	if err != nil {
		f.logger.Error(err.Error())
		rest.WriteInternalServerError(w)
		return
	}

	_ = rest.WriteJSONResponse(w, http.StatusOK, updated)
}

// DeleteSubscription removes an availability subscription.
func (f *Frontend) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	found := false
	err := f.store.MutateSubscriptions(func(subscriptions *[]api.Subscription) error {
		kept := lo.Filter(*subscriptions, func(subscription api.Subscription, _ int) bool {
			return subscription.ID != id
		})
		found = len(kept) != len(*subscriptions)
		*subscriptions = kept
		return nil
	})
	if err != nil {
		f.logger.Error(err.Error())
		rest.WriteInternalServerError(w)
		return
	}
	if !found {
		rest.WriteError(w, http.StatusNotFound, rest.ErrorCodeNotFound,
			"No subscription with id %q.", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MonitorStatus reports whether the availability monitor is running.
func (f *Frontend) MonitorStatus(w http.ResponseWriter, r *http.Request) {
	_ = rest.WriteJSONResponse(w, http.StatusOK, f.monitor.Status())
}

// MonitorStart starts the availability monitor. Idempotent.
func (f *Frontend) MonitorStart(w http.ResponseWriter, r *http.Request) {
	f.monitor.Start()
	_ = rest.WriteJSONResponse(w, http.StatusOK, f.monitor.Status())
}

// MonitorStop stops the availability monitor. Idempotent.
func (f *Frontend) MonitorStop(w http.ResponseWriter, r *http.Request) {
	f.monitor.Stop()
	_ = rest.WriteJSONResponse(w, http.StatusOK, f.monitor.Status())
}
