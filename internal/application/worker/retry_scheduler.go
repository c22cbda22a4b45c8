package worker

import (
	"errors"
	"sync"
	"time"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/application/contracts"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/event"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infra/logging"
)

// RetryScheduler is the controller's retry policy and turns pending
// transactions into delayed retry requests. At most one request per
// transaction and attempt is waiting at a time.
type RetryScheduler struct {
	EventBus  contracts.EventPublisher
	MaxRetry  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Logger    logging.Logger

	mu      sync.Mutex
	waiting map[string]int
}

// Exhausted reports whether a transaction that is still blocked after
// attempts invocations must give up. MaxRetry <= 0 never gives up.
func (r *RetryScheduler) Exhausted(attempts int) bool {
	return r.MaxRetry > 0 && attempts >= r.MaxRetry
}

// Next is BaseDelay*2^(attempts-1) capped at MaxDelay, but never shorter than
// the plugin's hint.
func (r *RetryScheduler) Next(attempts int, hint time.Duration) time.Duration {
	return max(r.backoff(attempts), hint)
}

func (r *RetryScheduler) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		return r.MaxDelay
	}
	return min(r.BaseDelay*time.Duration(1<<(attempt-1)), r.MaxDelay)
}

// Handle schedules a retry for a pending transaction that has a retry time.
// Transactions waiting for an asynchronous confirmation carry none.
func (r *RetryScheduler) Handle(evt event.Event) error {
	if evt.Type != event.TransactionPending {
		return nil
	}

	payload, ok := evt.Payload.(event.TransactionPayload)
	if !ok {
		return errors.New("invalid payload for TRANSACTION_PENDING")
	}
	if !payload.Recoverable || payload.NextRetryAt == nil {
		return nil
	}

	r.ScheduleRetry(event.RetryPayload{
		TransactionID: payload.TransactionID,
		Attempt:       payload.Attempt + 1,
	}, time.Until(*payload.NextRetryAt))
	return nil
}

// ScheduleRetry publishes a retry request once delay has passed. It is a
// no-op while a request for the same or a later attempt is still waiting.
func (r *RetryScheduler) ScheduleRetry(payload event.RetryPayload, delay time.Duration) {
	if !r.claim(payload) {
		if r.Logger != nil {
			r.Logger.Info("retry already scheduled", map[string]any{
				"transaction_id": payload.TransactionID,
				"attempt":        payload.Attempt,
			})
		}
		return
	}

	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		r.release(payload)
		err := r.EventBus.Publish(event.Event{
			Type:    event.TransactionRetryRequested,
			Payload: payload,
		})
		if err != nil && r.Logger != nil {
			r.Logger.Error("failed to publish retry request", map[string]any{
				"transaction_id": payload.TransactionID,
				"attempt":        payload.Attempt,
				"error":          err,
			})
		}
	}()
}

func (r *RetryScheduler) claim(payload event.RetryPayload) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if attempt, ok := r.waiting[payload.TransactionID]; ok && attempt >= payload.Attempt {
		return false
	}
	if r.waiting == nil {
		r.waiting = make(map[string]int)
	}
	r.waiting[payload.TransactionID] = payload.Attempt
	return true
}

func (r *RetryScheduler) release(payload event.RetryPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.waiting[payload.TransactionID] == payload.Attempt {
		delete(r.waiting, payload.TransactionID)
	}
}
