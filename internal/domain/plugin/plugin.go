// Package plugin defines the contract between the controller and payment
// backends. Backends never touch transaction state; they describe what
// happened through an Outcome and the controller classifies it.
package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/payment"
)

// Plugin is a payment backend able to serve one or more payment methods.
//
// Check and Validate return nil when the instruction is acceptable, or an
// *Error describing what is wrong. Any other error is treated as a backend
// failure.
type Plugin interface {
	Name() string
	Processes(method string) bool
	IsThreadSafe() bool

	CheckPaymentInstruction(ctx context.Context, instruction *payment.PaymentInstruction) error
	ValidatePaymentInstruction(ctx context.Context, instruction *payment.PaymentInstruction) error

	Approve(ctx context.Context, tx *payment.FinancialTransaction, retry bool) Outcome
	ApproveAndDeposit(ctx context.Context, tx *payment.FinancialTransaction, retry bool) Outcome
	Deposit(ctx context.Context, tx *payment.FinancialTransaction, retry bool) Outcome
	Credit(ctx context.Context, tx *payment.FinancialTransaction, retry bool) Outcome
	ReverseApproval(ctx context.Context, tx *payment.FinancialTransaction, retry bool) Outcome
	ReverseDeposit(ctx context.Context, tx *payment.FinancialTransaction, retry bool) Outcome
	ReverseCredit(ctx context.Context, tx *payment.FinancialTransaction, retry bool) Outcome
}

type OutcomeKind int

const (
	// KindCompleted: the backend processed the request. Response.Final tells
	// whether the result is final or awaits asynchronous confirmation.
	KindCompleted OutcomeKind = iota + 1
	// KindPending: not yet, try again later.
	KindPending
	// KindRejected: the backend refused the request for good.
	KindRejected
	// KindUnexpected: anything the backend could not classify.
	KindUnexpected
)

func (k OutcomeKind) String() string {
	switch k {
	case KindCompleted:
		return "completed"
	case KindPending:
		return "pending"
	case KindRejected:
		return "rejected"
	case KindUnexpected:
		return "unexpected"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Response carries the backend's view of a processed transaction.
type Response struct {
	ProcessedAmount decimal.Decimal
	ResponseCode    string
	ReasonCode      string
	TrackingID      string
	Final           bool
	// ExtendedData entries the backend wants stored on the instruction.
	ExtendedData map[string]any
}

// Outcome is the tagged result of a plugin operation. Build it with
// Completed, Pending, Rejected or Unexpected.
type Outcome struct {
	Kind       OutcomeKind
	Response   Response
	RetryAfter time.Duration
	ReasonCode string
	Err        *Error
	Cause      error
}

func Completed(resp Response) Outcome {
	return Outcome{Kind: KindCompleted, Response: resp}
}

// Pending signals a block. retryAfter is a hint, zero means no preference.
func Pending(retryAfter time.Duration, reasonCode string) Outcome {
	if reasonCode == "" {
		reasonCode = payment.ReasonCodeBlocked
	}
	return Outcome{Kind: KindPending, RetryAfter: retryAfter, ReasonCode: reasonCode}
}

func Rejected(err *Error) Outcome {
	if err == nil {
		err = NewError("rejected by backend")
	}
	return Outcome{Kind: KindRejected, Err: err, ReasonCode: err.ReasonCode}
}

func Unexpected(cause error) Outcome {
	return Outcome{Kind: KindUnexpected, Cause: cause}
}
