package controller

import (
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/event"
)

// publish records the domain events of a settled transaction. The outbox
// delivers them later, so a failure to record is logged and not returned.
func (c *Controller) publish(res *Result, attention bool) {
	if c.Events == nil {
		return
	}
	payload := transactionPayload(res)

	var types []event.Type
	switch res.Status() {
	case StatusSuccess:
		types = append(types, event.TransactionSucceeded)
	case StatusPending:
		types = append(types, event.TransactionPending)
	default:
		types = append(types, event.TransactionFailed)
	}
	if attention {
		types = append(types, event.AttentionRequired)
	}

	for _, t := range types {
		if err := c.Events.Record(event.Event{Type: t, Payload: payload}); err != nil {
			c.Logger.Error("failed to record event", map[string]any{
				"event_type":     string(t),
				"transaction_id": payload.TransactionID,
				"error":          err,
			})
		}
	}
}

func transactionPayload(res *Result) event.TransactionPayload {
	tx := res.Transaction()
	p := event.TransactionPayload{
		TransactionID:   tx.ID,
		InstructionID:   res.Instruction().ID,
		Operation:       string(tx.Type),
		State:           string(tx.State),
		Amount:          tx.RequestedAmount.String(),
		ProcessedAmount: tx.ProcessedAmount.String(),
		ReasonCode:      res.ReasonCode(),
		Recoverable:     res.IsRecoverable(),
		Attempt:         tx.Attempts,
		NextRetryAt:     tx.NextRetryAt,
	}
	if res.Payment() != nil {
		p.PaymentID = res.Payment().ID
	}
	if res.Credit() != nil {
		p.CreditID = res.Credit().ID
	}
	return p
}
