package eventbus

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/event"
)

type HandlerFunc func(event.Event) error

// InMemoryBus delivers events synchronously to the subscribers of their
// type, in subscription order. Handlers run outside the bus lock, so a
// handler may publish or subscribe itself.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerFunc
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[event.Type][]HandlerFunc),
	}
}

func (b *InMemoryBus) Subscribe(eventType event.Type, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish runs every subscriber even when an earlier one fails and joins
// their errors.
func (b *InMemoryBus) Publish(evt event.Event) error {
	b.mu.RLock()
	handlers := slices.Clone(b.handlers[evt.Type])
	b.mu.RUnlock()

	var errs []error
	for i, handler := range handlers {
		if err := handler(evt); err != nil {
			errs = append(errs, fmt.Errorf("%s handler %d: %w", evt.Type, i, err))
		}
	}
	return errors.Join(errs...)
}
