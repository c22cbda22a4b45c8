package controller

import (
	"fmt"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/payment"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/plugin"
	apperrors "github.com/rcarvalho-pb/payment_orchestrator-go/internal/errors"
)

type Status int

const (
	StatusFailed Status = iota + 1
	StatusPending
	StatusSuccess
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusFailed:
		return "FAILED"
	case StatusPending:
		return "PENDING"
	case StatusSuccess:
		return "SUCCESS"
	case StatusUnknown:
		return "UNKNOWN"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Result is the immutable outcome of a controller operation. It concerns
// either one financial transaction or one payment instruction, never both.
type Result struct {
	status      Status
	reasonCode  string
	recoverable bool
	pluginErr   *plugin.Error
	cause       error

	transaction *payment.FinancialTransaction
	payment     *payment.Payment
	credit      *payment.Credit
	instruction *payment.PaymentInstruction
}

type ResultOption func(*Result)

func WithRecoverable(recoverable bool) ResultOption {
	return func(r *Result) { r.recoverable = recoverable }
}

func WithPluginError(err *plugin.Error) ResultOption {
	return func(r *Result) { r.pluginErr = err }
}

func WithCause(err error) ResultOption {
	return func(r *Result) { r.cause = err }
}

// NewTransactionResult builds a Result for tx. Payment, credit and
// instruction are taken from the transaction's owner.
func NewTransactionResult(tx *payment.FinancialTransaction, status Status, reasonCode string, opts ...ResultOption) (*Result, error) {
	if tx == nil {
		return nil, apperrors.Argument("a transaction result needs a financial transaction")
	}
	instr := tx.Instruction()
	if instr == nil {
		return nil, apperrors.Argument("transaction %s is not attached to a payment instruction", tx.ID)
	}
	r := &Result{
		status:      status,
		reasonCode:  reasonCode,
		transaction: tx,
		payment:     tx.Payment,
		credit:      tx.Credit,
		instruction: instr,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// NewInstructionResult builds a Result for an instruction-level step such as
// check or validate. It carries no payment or credit.
func NewInstructionResult(instr *payment.PaymentInstruction, status Status, reasonCode string, opts ...ResultOption) (*Result, error) {
	if instr == nil {
		return nil, apperrors.Argument("an instruction result needs a payment instruction")
	}
	r := &Result{
		status:      status,
		reasonCode:  reasonCode,
		instruction: instr,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Result) Status() Status             { return r.status }
func (r *Result) ReasonCode() string         { return r.reasonCode }
func (r *Result) IsRecoverable() bool        { return r.recoverable }
func (r *Result) IsSuccess() bool            { return r.status == StatusSuccess }
func (r *Result) PluginError() *plugin.Error { return r.pluginErr }
func (r *Result) Cause() error               { return r.cause }

func (r *Result) Transaction() *payment.FinancialTransaction { return r.transaction }
func (r *Result) Payment() *payment.Payment                  { return r.payment }
func (r *Result) Credit() *payment.Credit                    { return r.credit }
func (r *Result) Instruction() *payment.PaymentInstruction   { return r.instruction }

// IsAttentionRequired reports whether an operator must review the payment or
// credit. Asking an instruction-level Result panics with *errors.LogicError.
func (r *Result) IsAttentionRequired() bool {
	switch {
	case r.payment != nil:
		return r.payment.IsAttentionRequired()
	case r.credit != nil:
		return r.credit.IsAttentionRequired()
	}
	panic(&apperrors.LogicError{Message: "attention required queried on a result without payment or credit"})
}
