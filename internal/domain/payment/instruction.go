package payment

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/extdata"
)

type InstructionState string

const (
	InstructionNew     InstructionState = "NEW"
	InstructionValid   InstructionState = "VALID"
	InstructionInvalid InstructionState = "INVALID"
)

// PaymentInstruction is a request to move Amount in Currency with the chosen
// payment method. Amount and currency never change after creation; plugins
// may append to ExtendedData while processing.
type PaymentInstruction struct {
	ID              string
	Amount          decimal.Decimal
	Currency        string
	PaymentMethod   string
	State           InstructionState
	ExtendedData    *extdata.Data
	ApprovedAmount  decimal.Decimal
	DepositedAmount decimal.Decimal
	CreditedAmount  decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Payments []*Payment
	Credits  []*Credit
}

func NewInstruction(id string, amount decimal.Decimal, currency, method string, data *extdata.Data) *PaymentInstruction {
	if data == nil {
		data = extdata.New()
	}
	now := time.Now().UTC()
	return &PaymentInstruction{
		ID:              id,
		Amount:          amount,
		Currency:        currency,
		PaymentMethod:   method,
		State:           InstructionNew,
		ExtendedData:    data,
		ApprovedAmount:  decimal.Zero,
		DepositedAmount: decimal.Zero,
		CreditedAmount:  decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewPayment attaches a NEW payment for amount to the instruction.
func (i *PaymentInstruction) NewPayment(id string, amount decimal.Decimal) *Payment {
	p := &Payment{
		ID:              id,
		Status:          StatusNew,
		TargetAmount:    amount,
		ApprovedAmount:  decimal.Zero,
		DepositedAmount: decimal.Zero,
		CreatedAt:       time.Now().UTC(),
		Instruction:     i,
	}
	i.Payments = append(i.Payments, p)
	return p
}

func (i *PaymentInstruction) NewCredit(id string, amount decimal.Decimal) *Credit {
	c := &Credit{
		ID:             id,
		Status:         StatusNew,
		TargetAmount:   amount,
		CreditedAmount: decimal.Zero,
		CreatedAt:      time.Now().UTC(),
		Instruction:    i,
	}
	i.Credits = append(i.Credits, c)
	return c
}

func (i *PaymentInstruction) Payment(id string) *Payment {
	for _, p := range i.Payments {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (i *PaymentInstruction) Credit(id string) *Credit {
	for _, c := range i.Credits {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Transaction finds a transaction by id across all payments and credits.
func (i *PaymentInstruction) Transaction(id string) *FinancialTransaction {
	for _, p := range i.Payments {
		for _, tx := range p.Transactions {
			if tx.ID == id {
				return tx
			}
		}
	}
	for _, c := range i.Credits {
		for _, tx := range c.Transactions {
			if tx.ID == id {
				return tx
			}
		}
	}
	return nil
}

// Transactions lists every transaction of the instruction, payments first.
func (i *PaymentInstruction) Transactions() []*FinancialTransaction {
	var out []*FinancialTransaction
	for _, p := range i.Payments {
		out = append(out, p.Transactions...)
	}
	for _, c := range i.Credits {
		out = append(out, c.Transactions...)
	}
	return out
}

// ApprovingAmount sums the requested amounts of pending approvals.
func (i *PaymentInstruction) ApprovingAmount() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range i.Payments {
		if tx := p.PendingTransaction(); tx != nil && (tx.Type == TypeApprove || tx.Type == TypeApproveAndDeposit) {
			sum = sum.Add(tx.RequestedAmount)
		}
	}
	return sum
}
