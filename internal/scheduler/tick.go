package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/woodchen-ink/OVH/internal/api"
	"github.com/woodchen-ink/OVH/internal/availability"
	"github.com/woodchen-ink/OVH/internal/database"
	"github.com/woodchen-ink/OVH/internal/order"
	"github.com/woodchen-ink/OVH/internal/ovh"
)

// processTask runs one attempt for a task. The per-task lock is taken
// non-blocking: if an attempt is already running the tick is skipped and
// the next one revisits.
func (s *Scheduler) processTask(ctx context.Context, taskID string) {
	lock := s.lockFor(taskID)
	if !lock.TryLock() {
		return
	}
	defer lock.Unlock()

	// Reload under the lock; the control plane may have mutated or
	// deleted the task since dispatch.
	task, ok := s.store.GetTask(taskID)
	if !ok || task.Status != api.TaskStatusRunning {
		return
	}

	s.inflight.Set(taskID, s.now())
	defer s.inflight.Remove(taskID)

	timer := prometheus.NewTimer(s.attemptDuration)
	defer timer.ObserveDuration()

	logger := s.logger.With("task_id", task.ID, "plan_code", task.PlanCode)

	// Quantity may have been lowered to or below what is already
	// purchased.
	if task.Purchased >= task.Quantity {
		s.completeTask(task, logger)
		return
	}

	account, ok := s.store.GetAccount(task.AccountID)
	if !ok {
		s.failTask(task, "", "account removed", logger)
		return
	}

	client, err := s.pool.Get(account)
	if err != nil {
		s.failTask(task, "", err.Error(), logger)
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, availability.ProbeTimeout)
	states, err := s.prober.Probe(probeCtx, client, task.PlanCode, task.Options, task.Datacenters)
	cancel()
	if err != nil {
		s.handleAttemptError(task, "", err, logger)
		return
	}

	// First available datacenter in priority order wins.
	var datacenter string
	for _, dc := range task.Datacenters {
		if states[dc] == availability.StateAvailable {
			datacenter = dc
			break
		}
	}
	if datacenter == "" {
		s.recordUnavailable(task, false, logger)
		return
	}

	logger.Info("stock detected, placing order", "datacenter", datacenter)

	result, err := s.placer.PlaceOrder(ctx, client, order.Request{
		PlanCode:      task.PlanCode,
		Datacenter:    datacenter,
		Options:       task.Options,
		OVHSubsidiary: account.Zone,
		AutoPay:       task.AutoPay,
	})
	if err != nil {
		if errors.Is(err, order.ErrNotAvailable) {
			// Lost the stock race to another buyer between probe
			// and add-to-cart.
			logger.Info("stock race lost", "datacenter", datacenter)
			s.recordUnavailable(task, true, logger)
			return
		}
		s.handleAttemptError(task, datacenter, err, logger)
		return
	}

	s.recordSuccess(task, account, datacenter, result, logger)
}

// recordUnavailable reschedules the task after a tick that found no stock.
// countFailure distinguishes an add-to-cart rejection from an empty probe.
func (s *Scheduler) recordUnavailable(task api.QueueTask, countFailure bool, logger *slog.Logger) {
	s.attemptsCount.WithLabelValues(outcomeUnavailable).Inc()
	s.backoffs.Remove(task.ID)

	err := s.store.UpdateTask(task.ID, func(task *api.QueueTask) error {
		now := s.now()
		task.RetryCount++
		if countFailure {
			task.FailureCount++
		}
		task.NextAttemptAt = now.Unix() + task.RetryInterval
		task.UpdatedAt = now
		return nil
	})
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		logger.Error(fmt.Sprintf("Error rescheduling task: %v", err))
	}
}

// handleAttemptError applies the error policy table: auth and not-found
// are fatal, rate limiting backs off exponentially, everything else
// retries on the task's own cadence.
func (s *Scheduler) handleAttemptError(task api.QueueTask, datacenter string, attemptErr error, logger *slog.Logger) {
	switch {
	case ovh.IsAuthError(attemptErr):
		s.failTask(task, datacenter, "authentication failed: "+attemptErr.Error(), logger)

	case ovh.IsNotFound(attemptErr):
		s.failTask(task, datacenter, attemptErr.Error(), logger)

	case ovh.IsRateLimited(attemptErr):
		s.attemptsCount.WithLabelValues(outcomeRateLimited).Inc()

		previous, _ := s.backoffs.Get(task.ID)
		delay := 2 * previous
		if delay < task.RetryInterval {
			delay = task.RetryInterval
		}
		if delay > rateLimitBackoffCap {
			delay = rateLimitBackoffCap
		}
		s.backoffs.Set(task.ID, delay)

		logger.Warn(fmt.Sprintf("Rate limited, backing off %ds", delay))
		s.rescheduleAfter(task, delay, false, attemptErr, logger)

	default:
		// Transient: 5xx, timeout, network, conflict. Retry forever
		// unless the operator pauses.
		s.attemptsCount.WithLabelValues(outcomeTransient).Inc()
		s.backoffs.Remove(task.ID)
		logger.Warn(fmt.Sprintf("Attempt failed, will retry: %v", attemptErr))
		s.rescheduleAfter(task, task.RetryInterval, true, attemptErr, logger)
	}
}

func (s *Scheduler) rescheduleAfter(task api.QueueTask, delaySeconds int64, countFailure bool, attemptErr error, logger *slog.Logger) {
	err := s.store.UpdateTask(task.ID, func(task *api.QueueTask) error {
		now := s.now()
		task.RetryCount++
		if countFailure {
			task.FailureCount++
		}
		task.NextAttemptAt = now.Unix() + delaySeconds
		task.LastError = truncate(attemptErr.Error())
		task.UpdatedAt = now
		return nil
	})
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		logger.Error(fmt.Sprintf("Error rescheduling task: %v", err))
	}
}

// failTask transitions the task to failed and records the fatal outcome in
// history. Only operator intervention (restart) revives a failed task.
func (s *Scheduler) failTask(task api.QueueTask, datacenter, message string, logger *slog.Logger) {
	s.attemptsCount.WithLabelValues(outcomeFatal).Inc()
	s.forgetTask(task.ID)

	message = truncate(message)
	logger.Error("task failed", "error", message)

	err := s.store.UpdateTask(task.ID, func(task *api.QueueTask) error {
		task.Status = api.TaskStatusFailed
		task.LastError = message
		task.UpdatedAt = s.now()
		return nil
	})
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		logger.Error(fmt.Sprintf("Error persisting failed task: %v", err))
	}

	if err := s.store.AppendHistory(api.PurchaseHistoryEntry{
		ID:           newID(),
		TaskID:       task.ID,
		AccountID:    task.AccountID,
		PlanCode:     task.PlanCode,
		Datacenter:   datacenter,
		Options:      task.Options,
		Status:       api.PurchaseStatusFailed,
		ErrorMessage: message,
		PurchaseTime: s.now(),
	}); err != nil {
		logger.Error(fmt.Sprintf("Error appending history: %v", err))
	}

	s.notifier.Send(context.Background(), fmt.Sprintf(
		"❌ Task for %s failed: %s", task.PlanCode, message))
}

// completeTask marks a task whose quantity is already covered as completed.
func (s *Scheduler) completeTask(task api.QueueTask, logger *slog.Logger) {
	s.forgetTask(task.ID)

	err := s.store.UpdateTask(task.ID, func(task *api.QueueTask) error {
		task.Status = api.TaskStatusCompleted
		task.UpdatedAt = s.now()
		return nil
	})
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		logger.Error(fmt.Sprintf("Error completing task: %v", err))
		return
	}
	logger.Info("task completed", "purchased", task.Purchased)
}

// recordSuccess advances the task by one purchased unit. The task is
// persisted before the history entry; a crash in between loses at most the
// bookkeeping of this one attempt.
func (s *Scheduler) recordSuccess(task api.QueueTask, account api.Account, datacenter string, result *order.Result, logger *slog.Logger) {
	s.attemptsCount.WithLabelValues(outcomeSuccess).Inc()
	s.purchasesCount.Inc()
	s.backoffs.Remove(task.ID)

	sequence := task.Purchased + 1
	completed := sequence >= task.Quantity

	err := s.store.UpdateTask(task.ID, func(task *api.QueueTask) error {
		now := s.now()
		task.Purchased = sequence
		task.LastError = ""
		if task.Purchased >= task.Quantity {
			task.Status = api.TaskStatusCompleted
		} else {
			task.NextAttemptAt = now.Unix() + task.RetryInterval
		}
		task.UpdatedAt = now
		return nil
	})
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		logger.Error(fmt.Sprintf("Error persisting purchased unit: %v", err))
	}

	if err := s.store.AppendHistory(api.PurchaseHistoryEntry{
		ID:           newID(),
		TaskID:       task.ID,
		AccountID:    task.AccountID,
		PlanCode:     task.PlanCode,
		Datacenter:   datacenter,
		Options:      task.Options,
		Status:       api.PurchaseStatusSuccess,
		OrderID:      result.OrderID,
		OrderURL:     result.OrderURL,
		Price:        result.Price,
		ErrorMessage: truncate(result.ErrorMessage),
		Sequence:     sequence,
		PurchaseTime: s.now(),
	}); err != nil {
		logger.Error(fmt.Sprintf("Error appending history: %v", err))
	}

	message := fmt.Sprintf("✅ Purchased %s in %s (%d/%d), order %s",
		task.PlanCode, datacenter, sequence, task.Quantity, result.OrderID)
	if result.ErrorMessage != "" {
		message += "\n⚠️ " + result.ErrorMessage
	}
	if !task.AutoPay && result.OrderURL != "" {
		message += "\nPay at: " + result.OrderURL
	}
	s.notifier.Send(context.Background(), message)

	logger.Info("unit purchased",
		"datacenter", datacenter,
		"order_id", result.OrderID,
		"sequence", sequence,
		"account", account.ID,
		"completed", completed)

	if completed {
		s.forgetTask(task.ID)
	}
}

func truncate(message string) string {
	if len(message) > errorMessageLimit {
		return message[:errorMessageLimit]
	}
	return message
}
