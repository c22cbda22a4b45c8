// Package sandbox is a simulated payment backend. Each operation rolls a
// die: ApprovalRate percent of calls complete, PendingRate percent block and
// the rest are declined.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/payment"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/plugin"
)

// OutcomeKey forces the outcome of every operation on an instruction. Its
// value is one of the Force* constants.
const OutcomeKey = "sandbox_outcome"

const (
	ForceComplete   = "complete"
	ForceAsync      = "async"
	ForcePending    = "pending"
	ForceReject     = "reject"
	ForceUnexpected = "unexpected"
)

// CardNumberKey holds a card number that Validate checks with the Luhn
// algorithm.
const CardNumberKey = "card_number"

var Limit = decimal.NewFromInt(10000)

type Plugin struct {
	Methods      []string
	ApprovalRate int
	PendingRate  int
	RetryAfter   time.Duration

	rng *rand.Rand
}

func New(methods []string, approvalRate, pendingRate int) *Plugin {
	return &Plugin{
		Methods:      methods,
		ApprovalRate: approvalRate,
		PendingRate:  pendingRate,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *Plugin) Name() string { return "sandbox" }

func (p *Plugin) Processes(method string) bool { return slices.Contains(p.Methods, method) }

// IsThreadSafe is false: the random source is not safe for concurrent use.
func (p *Plugin) IsThreadSafe() bool { return false }

func (p *Plugin) CheckPaymentInstruction(_ context.Context, instr *payment.PaymentInstruction) error {
	if instr.Amount.GreaterThan(Limit) {
		perr := plugin.NewError("amount above sandbox limit")
		perr.ReasonCode = payment.ReasonCodeInvalid
		if err := perr.AddDataError("amount", fmt.Sprintf("must not exceed %s", Limit)); err != nil {
			return err
		}
		return perr
	}
	return nil
}

func (p *Plugin) ValidatePaymentInstruction(_ context.Context, instr *payment.PaymentInstruction) error {
	number, ok := instr.ExtendedData.GetString(CardNumberKey)
	if !ok {
		return nil
	}
	if !luhn(number) {
		perr := plugin.NewError("invalid card number")
		perr.ReasonCode = payment.ReasonCodeInvalid
		if err := perr.AddDataError("data_creditcard.number", "invalid"); err != nil {
			return err
		}
		return perr
	}
	return nil
}

func (p *Plugin) Approve(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return p.execute(tx)
}

func (p *Plugin) ApproveAndDeposit(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return p.execute(tx)
}

func (p *Plugin) Deposit(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return p.execute(tx)
}

func (p *Plugin) Credit(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return p.execute(tx)
}

func (p *Plugin) ReverseApproval(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return p.execute(tx)
}

func (p *Plugin) ReverseDeposit(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return p.execute(tx)
}

func (p *Plugin) ReverseCredit(ctx context.Context, tx *payment.FinancialTransaction, retry bool) plugin.Outcome {
	return p.execute(tx)
}

func (p *Plugin) execute(tx *payment.FinancialTransaction) plugin.Outcome {
	forced := ""
	if instr := tx.Instruction(); instr != nil {
		forced, _ = instr.ExtendedData.GetString(OutcomeKey)
	}

	switch forced {
	case ForceComplete:
		return p.complete(tx, true)
	case ForceAsync:
		return p.complete(tx, false)
	case ForcePending:
		return plugin.Pending(p.RetryAfter, payment.ReasonCodeBlocked)
	case ForceReject:
		return p.decline()
	case ForceUnexpected:
		return plugin.Unexpected(errors.New("sandbox: injected failure"))
	}

	roll := p.roll()
	switch {
	case roll < p.ApprovalRate:
		return p.complete(tx, true)
	case roll < p.ApprovalRate+p.PendingRate:
		return plugin.Pending(p.RetryAfter, payment.ReasonCodeBlocked)
	}
	return p.decline()
}

func (p *Plugin) roll() int {
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p.rng.Intn(100)
}

func (p *Plugin) complete(tx *payment.FinancialTransaction, final bool) plugin.Outcome {
	return plugin.Completed(plugin.Response{
		ProcessedAmount: tx.RequestedAmount,
		ResponseCode:    payment.ResponseCodeSuccess,
		TrackingID:      "sbx-" + tx.ID,
		Final:           final,
		ExtendedData: map[string]any{
			"sandbox_last_operation": string(tx.Type),
		},
	})
}

func (p *Plugin) decline() plugin.Outcome {
	perr := plugin.NewError("declined by sandbox").AddGlobalError("the payment was declined")
	perr.ReasonCode = "declined"
	perr.ResponseCode = payment.ResponseCodeFailed
	return plugin.Rejected(perr)
}

func luhn(number string) bool {
	sum := 0
	digits := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c == ' ' || c == '-' {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
		digits++
	}
	return digits >= 12 && sum%10 == 0
}
