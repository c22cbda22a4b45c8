package worker

import (
	"cmp"
	"errors"
	"slices"
	"sync"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/event"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infra/logging"
)

// AttentionHandler collects the transactions an operator has to review until
// they are acknowledged.
type AttentionHandler struct {
	Logger logging.Logger

	mu   sync.RWMutex
	open map[string]event.TransactionPayload
}

func (h *AttentionHandler) Handle(evt event.Event) error {
	if evt.Type != event.AttentionRequired {
		return nil
	}

	payload, ok := evt.Payload.(event.TransactionPayload)
	if !ok {
		return errors.New("invalid payload for ATTENTION_REQUIRED")
	}

	h.mu.Lock()
	if h.open == nil {
		h.open = make(map[string]event.TransactionPayload)
	}
	h.open[payload.TransactionID] = payload
	h.mu.Unlock()

	h.Logger.Error("operator review required", map[string]any{
		"transaction_id": payload.TransactionID,
		"instruction_id": payload.InstructionID,
		"operation":      payload.Operation,
		"reason_code":    payload.ReasonCode,
	})
	return nil
}

// Acknowledge removes a reviewed transaction. It reports whether the
// transaction was open.
func (h *AttentionHandler) Acknowledge(transactionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, ok := h.open[transactionID]
	delete(h.open, transactionID)
	return ok
}

// Open lists the transactions awaiting review ordered by transaction id.
func (h *AttentionHandler) Open() []event.TransactionPayload {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]event.TransactionPayload, 0, len(h.open))
	for _, p := range h.open {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b event.TransactionPayload) int {
		return cmp.Compare(a.TransactionID, b.TransactionID)
	})
	return out
}
