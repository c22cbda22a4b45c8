package controller

import (
	"fmt"
	"sort"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/extdata"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/payment"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/plugin"
)

// classify applies a plugin outcome to tx and its owner and builds the
// Result. attention is true when this outcome flagged the owner for review.
func (c *Controller) classify(tx *payment.FinancialTransaction, out plugin.Outcome) (res *Result, attention bool, err error) {
	tx.NextRetryAt = nil

	switch out.Kind {
	case plugin.KindCompleted:
		resp := out.Response
		if resp.TrackingID != "" {
			tx.TrackingID = resp.TrackingID
		}
		mergeExtendedData(tx.Instruction(), resp.ExtendedData)

		if !resp.Final {
			if err := tx.Transition(payment.StatePending); err != nil {
				return nil, false, err
			}
			tx.ProcessedAmount = resp.ProcessedAmount
			tx.ResponseCode = orDefault(resp.ResponseCode, payment.ResponseCodePending)
			tx.ReasonCode = orDefault(resp.ReasonCode, payment.ReasonCodeAwaiting)
			res, err = NewTransactionResult(tx, StatusPending, tx.ReasonCode, WithRecoverable(true))
			return res, false, err
		}

		if err := tx.Transition(payment.StateSuccess); err != nil {
			return nil, false, err
		}
		tx.ProcessedAmount = resp.ProcessedAmount
		if tx.ProcessedAmount.IsZero() {
			tx.ProcessedAmount = tx.RequestedAmount
		}
		tx.ResponseCode = orDefault(resp.ResponseCode, payment.ResponseCodeSuccess)
		tx.ReasonCode = orDefault(resp.ReasonCode, payment.ReasonCodeSuccess)
		tx.ApplySuccess()
		res, err = NewTransactionResult(tx, StatusSuccess, tx.ReasonCode)
		return res, false, err

	case plugin.KindPending:
		if c.Retry.Exhausted(tx.Attempts) {
			if err := tx.Transition(payment.StateFailed); err != nil {
				return nil, false, err
			}
			tx.ResponseCode = payment.ResponseCodeFailed
			tx.ReasonCode = payment.ReasonCodeRetriesExhausted
			tx.ApplyFailure()
			tx.FlagAttention()
			res, err = NewTransactionResult(tx, StatusFailed, tx.ReasonCode)
			return res, true, err
		}

		if err := tx.Transition(payment.StatePending); err != nil {
			return nil, false, err
		}
		tx.ResponseCode = payment.ResponseCodePending
		tx.ReasonCode = orDefault(out.ReasonCode, payment.ReasonCodeBlocked)
		next := c.Now().Add(c.Retry.Next(tx.Attempts, out.RetryAfter))
		tx.NextRetryAt = &next
		res, err = NewTransactionResult(tx, StatusPending, tx.ReasonCode, WithRecoverable(true))
		return res, false, err

	case plugin.KindRejected:
		if err := tx.Transition(payment.StateFailed); err != nil {
			return nil, false, err
		}
		perr := out.Err
		if perr == nil {
			perr = plugin.NewError("rejected by backend")
		}
		tx.ResponseCode = orDefault(perr.ResponseCode, payment.ResponseCodeFailed)
		tx.ReasonCode = orDefault(out.ReasonCode, orDefault(perr.ReasonCode, payment.ReasonCodeInvalid))
		tx.ApplyFailure()
		res, err = NewTransactionResult(tx, StatusFailed, tx.ReasonCode, WithPluginError(perr))
		return res, false, err

	default:
		cause := out.Cause
		if cause == nil {
			cause = fmt.Errorf("plugin returned an unclassified outcome (%s)", out.Kind)
		}
		if err := tx.Transition(payment.StateFailed); err != nil {
			return nil, false, err
		}
		tx.ResponseCode = payment.ResponseCodeFailed
		tx.ReasonCode = payment.ReasonCodeUnexpected
		tx.FlagAttention()
		res, err = NewTransactionResult(tx, StatusUnknown, tx.ReasonCode, WithCause(cause))
		return res, true, err
	}
}

// mergeExtendedData stores plugin supplied entries in key order.
func mergeExtendedData(instr *payment.PaymentInstruction, data map[string]any) {
	if len(data) == 0 || instr == nil {
		return
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if instr.ExtendedData == nil {
		instr.ExtendedData = extdata.New()
	}
	for _, k := range keys {
		instr.ExtendedData.Set(k, data[k])
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
