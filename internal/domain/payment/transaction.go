package payment

import (
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/rcarvalho-pb/payment_orchestrator-go/internal/errors"
)

type TransactionType string

const (
	TypeApprove           TransactionType = "approve"
	TypeApproveAndDeposit TransactionType = "approve_and_deposit"
	TypeDeposit           TransactionType = "deposit"
	TypeCredit            TransactionType = "credit"
	TypeReverseApproval   TransactionType = "reverse_approval"
	TypeReverseDeposit    TransactionType = "reverse_deposit"
	TypeReverseCredit     TransactionType = "reverse_credit"
)

// IsCredit reports whether transactions of this type belong to a Credit.
func (t TransactionType) IsCredit() bool {
	return t == TypeCredit || t == TypeReverseCredit
}

type TransactionState string

const (
	StateNew     TransactionState = "NEW"
	StatePending TransactionState = "PENDING"
	StateSuccess TransactionState = "SUCCESS"
	StateFailed  TransactionState = "FAILED"
)

func (s TransactionState) IsTerminal() bool {
	return s == StateSuccess || s == StateFailed
}

// CanTransitionTo encodes NEW -> PENDING -> {SUCCESS, FAILED}, with the
// terminal states also reachable directly from NEW. PENDING may re-enter
// PENDING when a retry is blocked again.
func (s TransactionState) CanTransitionTo(target TransactionState) bool {
	switch s {
	case StateNew:
		return target == StatePending || target == StateSuccess || target == StateFailed
	case StatePending:
		return target == StatePending || target == StateSuccess || target == StateFailed
	default:
		return false
	}
}

const (
	ResponseCodeSuccess = "success"
	ResponseCodePending = "pending"
	ResponseCodeFailed  = "failed"

	ReasonCodeSuccess          = "none"
	ReasonCodeBlocked          = "blocked"
	ReasonCodeTimeout          = "timeout"
	ReasonCodeInvalid          = "invalid"
	ReasonCodeUnexpected       = "unexpected"
	ReasonCodeRetriesExhausted = "retries_exhausted"
	ReasonCodeUnsupported      = "method_not_supported"
	ReasonCodeAwaiting         = "awaiting_confirmation"
)

// FinancialTransaction is one attempt at an operation against exactly one
// Payment or exactly one Credit. It is appended to its owner's history and
// never removed.
type FinancialTransaction struct {
	ID              string
	Type            TransactionType
	State           TransactionState
	RequestedAmount decimal.Decimal
	ProcessedAmount decimal.Decimal
	ResponseCode    string
	ReasonCode      string
	TrackingID      string
	Attempts        int
	NextRetryAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Payment *Payment
	Credit  *Credit
}

// Transition moves the transaction to target or fails with an invalid_state
// error naming both states.
func (t *FinancialTransaction) Transition(target TransactionState) error {
	if !t.State.CanTransitionTo(target) {
		return apperrors.InvalidState("transaction %s cannot move from %s to %s", t.ID, t.State, target).
			WithContext("transaction_id", t.ID)
	}
	t.State = target
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Instruction returns the instruction reached through the owning payment or
// credit.
func (t *FinancialTransaction) Instruction() *PaymentInstruction {
	switch {
	case t.Credit != nil:
		return t.Credit.Instruction
	case t.Payment != nil:
		return t.Payment.Instruction
	}
	return nil
}

// OwnerID returns the id of the owning payment or credit.
func (t *FinancialTransaction) OwnerID() string {
	if t.Credit != nil {
		return t.Credit.ID
	}
	if t.Payment != nil {
		return t.Payment.ID
	}
	return ""
}
