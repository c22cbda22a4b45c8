package worker

import (
	"context"
	"time"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/application/contracts"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/event"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infra/logging"
)

type PendingSource interface {
	Pending(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Recovery requests a retry for every pending transaction whose retry time
// has passed. Scheduled retries live in memory, so this runs at startup to
// pick up what a previous process left behind.
type Recovery struct {
	Source    PendingSource
	EventBus  contracts.EventPublisher
	Logger    logging.Logger
	BatchSize int
}

func (r *Recovery) Sweep(ctx context.Context, now time.Time) (int, error) {
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}

	ids, err := r.Source.Pending(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	requested := 0
	for _, id := range ids {
		err := r.EventBus.Publish(event.Event{
			Type:    event.TransactionRetryRequested,
			Payload: event.RetryPayload{TransactionID: id},
		})
		if err != nil {
			r.Logger.Error("failed to request recovery retry", map[string]any{
				"transaction_id": id,
				"error":          err,
			})
			continue
		}
		requested++
	}

	if requested > 0 {
		r.Logger.Info("recovered pending transactions", map[string]any{"count": requested})
	}
	return requested, nil
}
