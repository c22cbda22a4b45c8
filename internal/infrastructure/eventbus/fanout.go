package eventbus

import (
	"errors"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/application/contracts"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/event"
)

// Fanout publishes every event to all of its publishers and joins their
// errors.
type Fanout []contracts.EventPublisher

func (f Fanout) Publish(evt event.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
