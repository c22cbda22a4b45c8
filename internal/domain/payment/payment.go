package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusNew       Status = "NEW"
	StatusApproved  Status = "APPROVED"
	StatusDeposited Status = "DEPOSITED"
	StatusCredited  Status = "CREDITED"
	StatusFailed    Status = "FAILED"
	StatusCanceled  Status = "CANCELED"
)

// history is the ordered attempt log shared by payments and credits.
type history struct {
	Transactions      []*FinancialTransaction
	AttentionRequired bool
}

// PendingTransaction returns the latest transaction when it has not reached
// a terminal state.
func (h *history) PendingTransaction() *FinancialTransaction {
	if len(h.Transactions) == 0 {
		return nil
	}
	last := h.Transactions[len(h.Transactions)-1]
	if last.State.IsTerminal() {
		return nil
	}
	return last
}

func (h *history) LatestTransaction() *FinancialTransaction {
	if len(h.Transactions) == 0 {
		return nil
	}
	return h.Transactions[len(h.Transactions)-1]
}

func (h *history) IsAttentionRequired() bool {
	return h.AttentionRequired
}

// Payment is a money movement from the payer, approved then deposited.
type Payment struct {
	history

	ID              string
	Status          Status
	TargetAmount    decimal.Decimal
	ApprovedAmount  decimal.Decimal
	DepositedAmount decimal.Decimal
	CreatedAt       time.Time

	Instruction *PaymentInstruction
}

// NewTransaction appends a NEW transaction of type t to the payment.
func (p *Payment) NewTransaction(id string, t TransactionType, amount decimal.Decimal) *FinancialTransaction {
	now := time.Now().UTC()
	tx := &FinancialTransaction{
		ID:              id,
		Type:            t,
		State:           StateNew,
		RequestedAmount: amount,
		ProcessedAmount: decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
		Payment:         p,
	}
	p.Transactions = append(p.Transactions, tx)
	return tx
}

// Credit is a money movement back to the payer, tied to a deposited
// instruction.
type Credit struct {
	history

	ID             string
	Status         Status
	TargetAmount   decimal.Decimal
	CreditedAmount decimal.Decimal
	CreatedAt      time.Time

	Instruction *PaymentInstruction
}

func (c *Credit) NewTransaction(id string, t TransactionType, amount decimal.Decimal) *FinancialTransaction {
	now := time.Now().UTC()
	tx := &FinancialTransaction{
		ID:              id,
		Type:            t,
		State:           StateNew,
		RequestedAmount: amount,
		ProcessedAmount: decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
		Credit:          c,
	}
	c.Transactions = append(c.Transactions, tx)
	return tx
}
