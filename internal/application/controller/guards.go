package controller

import (
	"github.com/shopspring/decimal"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/payment"
	apperrors "github.com/rcarvalho-pb/payment_orchestrator-go/internal/errors"
)

// reuse returns the pending transaction of an owner when the caller repeats
// the same operation with the same amount. Anything else while a
// transaction is pending is refused.
func reuse(pending *payment.FinancialTransaction, t payment.TransactionType, amount decimal.Decimal) (*payment.FinancialTransaction, error) {
	if pending.Type != t || !pending.RequestedAmount.Equal(amount) {
		return nil, apperrors.InvalidState(
			"transaction %s (%s of %s) is pending, only the same operation and amount can be retried",
			pending.ID, pending.Type, pending.RequestedAmount,
		).WithContext("transaction_id", pending.ID)
	}
	return pending, nil
}

func (c *Controller) approval(t payment.TransactionType) preparer {
	return func(instr *payment.PaymentInstruction, amount decimal.Decimal) (*payment.FinancialTransaction, bool, error) {
		for _, p := range instr.Payments {
			pending := p.PendingTransaction()
			if pending == nil || (pending.Type != payment.TypeApprove && pending.Type != payment.TypeApproveAndDeposit) {
				continue
			}
			tx, err := reuse(pending, t, amount)
			return tx, err == nil, err
		}

		available := instr.Amount.Sub(instr.ApprovedAmount).Sub(instr.ApprovingAmount())
		if amount.GreaterThan(available) {
			return nil, false, apperrors.InvalidState("cannot approve %s on instruction %s, only %s is left",
				amount, instr.ID, available)
		}
		p := instr.NewPayment(c.NewID(), amount)
		return p.NewTransaction(c.NewID(), t, amount), false, nil
	}
}

func (c *Controller) onPayment(paymentID string, t payment.TransactionType) preparer {
	return func(instr *payment.PaymentInstruction, amount decimal.Decimal) (*payment.FinancialTransaction, bool, error) {
		p := instr.Payment(paymentID)
		if p == nil {
			return nil, false, apperrors.NotFound("payment %s", paymentID)
		}
		if pending := p.PendingTransaction(); pending != nil {
			tx, err := reuse(pending, t, amount)
			return tx, err == nil, err
		}

		switch t {
		case payment.TypeDeposit:
			if p.Status != payment.StatusApproved && p.Status != payment.StatusDeposited {
				return nil, false, apperrors.InvalidState("payment %s is %s and cannot be deposited", p.ID, p.Status)
			}
			if left := p.ApprovedAmount.Sub(p.DepositedAmount); amount.GreaterThan(left) {
				return nil, false, apperrors.InvalidState("cannot deposit %s on payment %s, only %s is approved and not deposited",
					amount, p.ID, left)
			}
		case payment.TypeReverseApproval:
			if p.Status != payment.StatusApproved {
				return nil, false, apperrors.InvalidState("payment %s is %s, only approved payments can be reversed", p.ID, p.Status)
			}
			if !p.DepositedAmount.IsZero() {
				return nil, false, apperrors.InvalidState("payment %s has deposits, reverse the deposit first", p.ID)
			}
			if amount.GreaterThan(p.ApprovedAmount) {
				return nil, false, apperrors.InvalidState("cannot reverse %s on payment %s, only %s is approved",
					amount, p.ID, p.ApprovedAmount)
			}
		case payment.TypeReverseDeposit:
			if p.Status != payment.StatusDeposited {
				return nil, false, apperrors.InvalidState("payment %s is %s, only deposited payments can be reversed", p.ID, p.Status)
			}
			if amount.GreaterThan(p.DepositedAmount) {
				return nil, false, apperrors.InvalidState("cannot reverse %s on payment %s, only %s is deposited",
					amount, p.ID, p.DepositedAmount)
			}
		default:
			return nil, false, apperrors.Argument("%s is not a payment operation", t)
		}
		return p.NewTransaction(c.NewID(), t, amount), false, nil
	}
}

func (c *Controller) crediting() preparer {
	return func(instr *payment.PaymentInstruction, amount decimal.Decimal) (*payment.FinancialTransaction, bool, error) {
		for _, cr := range instr.Credits {
			if pending := cr.PendingTransaction(); pending != nil && pending.Type == payment.TypeCredit {
				tx, err := reuse(pending, payment.TypeCredit, amount)
				return tx, err == nil, err
			}
		}

		available := instr.DepositedAmount.Sub(instr.CreditedAmount)
		if amount.GreaterThan(available) {
			return nil, false, apperrors.InvalidState("cannot credit %s on instruction %s, only %s is deposited and not credited",
				amount, instr.ID, available)
		}
		cr := instr.NewCredit(c.NewID(), amount)
		return cr.NewTransaction(c.NewID(), payment.TypeCredit, amount), false, nil
	}
}

func (c *Controller) onCredit(creditID string) preparer {
	return func(instr *payment.PaymentInstruction, amount decimal.Decimal) (*payment.FinancialTransaction, bool, error) {
		cr := instr.Credit(creditID)
		if cr == nil {
			return nil, false, apperrors.NotFound("credit %s", creditID)
		}
		if pending := cr.PendingTransaction(); pending != nil {
			tx, err := reuse(pending, payment.TypeReverseCredit, amount)
			return tx, err == nil, err
		}
		if cr.Status != payment.StatusCredited {
			return nil, false, apperrors.InvalidState("credit %s is %s, only credited credits can be reversed", cr.ID, cr.Status)
		}
		if amount.GreaterThan(cr.CreditedAmount) {
			return nil, false, apperrors.InvalidState("cannot reverse %s on credit %s, only %s is credited",
				amount, cr.ID, cr.CreditedAmount)
		}
		return cr.NewTransaction(c.NewID(), payment.TypeReverseCredit, amount), false, nil
	}
}
