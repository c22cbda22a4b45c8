package contracts

import "github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/event"

// EventRecorder stores an event for later delivery (outbox).
type EventRecorder interface {
	Record(event.Event) error
}

// EventPublisher delivers an event to its subscribers right away.
type EventPublisher interface {
	Publish(event.Event) error
}
