package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/application/controller"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/event"
	apperrors "github.com/rcarvalho-pb/payment_orchestrator-go/internal/errors"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infra/logging"
)

type Resumer interface {
	ResumeAttempt(ctx context.Context, transactionID string, attempt int) (*controller.Result, error)
}

// RetryHandler resumes a transaction when its retry request arrives. A
// request that finds the instruction busy is handed back to Scheduler.
type RetryHandler struct {
	Controller Resumer
	Scheduler  *RetryScheduler
	Logger     logging.Logger
	Timeout    time.Duration
}

func (h *RetryHandler) Handle(evt event.Event) error {
	if evt.Type != event.TransactionRetryRequested {
		return nil
	}

	payload, ok := evt.Payload.(event.RetryPayload)
	if !ok {
		return errors.New("invalid payload for TRANSACTION_RETRY_REQUESTED")
	}

	h.Logger.Info("retrying transaction", map[string]any{
		"transaction_id": payload.TransactionID,
		"attempt":        payload.Attempt,
	})

	ctx := context.Background()
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	res, err := h.Controller.ResumeAttempt(ctx, payload.TransactionID, payload.Attempt)
	if err != nil {
		fields := map[string]any{
			"transaction_id": payload.TransactionID,
			"attempt":        payload.Attempt,
			"error":          err,
		}
		if apperrors.IsKind(err, apperrors.KindConflict) && h.Scheduler != nil {
			h.Logger.Info("transaction busy, retry postponed", fields)
			h.Scheduler.ScheduleRetry(payload, h.Scheduler.Next(payload.Attempt, 0))
			return nil
		}
		// Only infrastructure failures are worth redelivering.
		if apperrors.IsKind(err, apperrors.KindInternal) {
			h.Logger.Error("retry failed", fields)
			return err
		}
		h.Logger.Warn("retry dropped", fields)
		return nil
	}

	h.Logger.Info("retry processed", map[string]any{
		"transaction_id": payload.TransactionID,
		"status":         res.Status().String(),
		"reason_code":    res.ReasonCode(),
	})
	return nil
}
