package outbox

import (
	"context"
	"time"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/application/contracts"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/event"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infra/logging"
)

// Dispatcher polls the outbox and publishes what it finds. An event is
// marked published only after every subscriber accepted it, so delivery is
// at least once.
type Dispatcher struct {
	Repo         Repository
	EventBus     contracts.EventPublisher
	Logger       logging.Logger
	PollInterval time.Duration
	BatchSize    int
}

func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.DispatchOnce(ctx)
		}
	}
}

func (d *Dispatcher) DispatchOnce(ctx context.Context) {
	events, err := d.Repo.FindUnpublished(ctx, d.BatchSize)
	if err != nil {
		d.log("outbox poll failed", map[string]any{"error": err})
		return
	}

	for _, evt := range events {
		payload, err := event.DecodePayload(evt.Type, evt.Payload)
		if err != nil {
			d.log("outbox event cannot be decoded", map[string]any{
				"event_id":   evt.ID,
				"event_type": string(evt.Type),
				"error":      err,
			})
			continue
		}

		if err := d.EventBus.Publish(event.Event{Type: evt.Type, Payload: payload}); err != nil {
			d.log("outbox publish failed", map[string]any{
				"event_id":   evt.ID,
				"event_type": string(evt.Type),
				"error":      err,
			})
			continue
		}

		if err := d.Repo.MarkPublished(ctx, evt.ID); err != nil {
			d.log("outbox mark published failed", map[string]any{"event_id": evt.ID, "error": err})
		}
	}
}

func (d *Dispatcher) log(msg string, fields map[string]any) {
	if d.Logger != nil {
		d.Logger.Error(msg, fields)
	}
}
