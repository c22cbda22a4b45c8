// Package controller drives payment instructions through their plugins and
// keeps the financial transaction state machine.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/application/contracts"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/payment"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/plugin"
	apperrors "github.com/rcarvalho-pb/payment_orchestrator-go/internal/errors"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infra/logging"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infra/metrics"
)

// RetryPolicy bounds how often a blocked transaction is retried.
type RetryPolicy interface {
	// Exhausted reports whether a transaction blocked after attempts
	// invocations must give up.
	Exhausted(attempts int) bool
	// Next returns the delay before the next attempt. hint is the plugin's
	// own retry-after, zero when it has none.
	Next(attempts int, hint time.Duration) time.Duration
}

// StatusUpdate is an out-of-band confirmation of a pending transaction.
type StatusUpdate struct {
	State           payment.TransactionState
	ProcessedAmount decimal.Decimal
	ResponseCode    string
	ReasonCode      string
	TrackingID      string
	Message         string
}

// Controller is safe for concurrent use. Registry and Repo are required;
// every other dependency has a default.
type Controller struct {
	Registry *Registry
	Repo     payment.Repository
	Locker   Locker
	Events   contracts.EventRecorder
	Retry    RetryPolicy
	Logger   logging.Logger
	Metrics  metrics.Recorder
	Tracer   trace.Tracer
	NewID    func() string
	Now      func() time.Time

	once sync.Once
}

func (c *Controller) init() {
	c.once.Do(func() {
		if c.Locker == nil {
			c.Locker = NewLocalLocker()
		}
		if c.Retry == nil {
			c.Retry = unbounded{}
		}
		if c.Logger == nil {
			c.Logger = logging.Nop{}
		}
		if c.Tracer == nil {
			c.Tracer = otel.Tracer("payment-controller")
		}
		if c.NewID == nil {
			c.NewID = uuid.NewString
		}
		if c.Now == nil {
			c.Now = func() time.Time { return time.Now().UTC() }
		}
	})
}

type unbounded struct{}

func (unbounded) Exhausted(int) bool { return false }

func (unbounded) Next(_ int, hint time.Duration) time.Duration { return hint }

// CreatePaymentInstruction checks and validates instr. When both pass the
// instruction becomes VALID and is stored; otherwise the failing Result is
// returned and nothing is stored. An id that is already taken is a conflict
// and the stored aggregate is left untouched.
func (c *Controller) CreatePaymentInstruction(ctx context.Context, instr *payment.PaymentInstruction) (*Result, error) {
	if instr == nil {
		return nil, apperrors.Argument("payment instruction is required")
	}
	c.init()
	if instr.ID == "" {
		instr.ID = c.NewID()
	}

	unlock, err := c.Locker.TryLock(ctx, instr.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	_, err = c.Repo.FindByID(ctx, instr.ID)
	switch {
	case err == nil:
		return nil, instructionExists(instr.ID, payment.ErrInstructionExists)
	case !errors.Is(err, payment.ErrInstructionNotFound):
		return nil, lookupError(err)
	}

	res, err := c.CheckPaymentInstruction(ctx, instr)
	if err != nil || !res.IsSuccess() {
		return res, err
	}
	res, err = c.ValidatePaymentInstruction(ctx, instr)
	if err != nil {
		return nil, err
	}
	if !res.IsSuccess() {
		instr.State = payment.InstructionInvalid
		return res, nil
	}

	instr.State = payment.InstructionValid
	instr.UpdatedAt = c.Now()
	if err := c.Repo.Create(ctx, instr); err != nil {
		if errors.Is(err, payment.ErrInstructionExists) {
			return nil, instructionExists(instr.ID, err)
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "save payment instruction %s", instr.ID)
	}
	return NewInstructionResult(instr, StatusSuccess, payment.ReasonCodeSuccess)
}

func instructionExists(id string, err error) error {
	return apperrors.Wrap(apperrors.KindConflict, err, "payment instruction %s already exists", id).
		WithContext("instruction_id", id)
}

// CheckPaymentInstruction asks the plugin whether it can handle instr at all.
// It never touches transaction history.
func (c *Controller) CheckPaymentInstruction(ctx context.Context, instr *payment.PaymentInstruction) (*Result, error) {
	return c.preflight(ctx, "check", instr, func(p plugin.Plugin) func(context.Context, *payment.PaymentInstruction) error {
		return p.CheckPaymentInstruction
	})
}

// ValidatePaymentInstruction runs the plugin's field level validation.
func (c *Controller) ValidatePaymentInstruction(ctx context.Context, instr *payment.PaymentInstruction) (*Result, error) {
	return c.preflight(ctx, "validate", instr, func(p plugin.Plugin) func(context.Context, *payment.PaymentInstruction) error {
		return p.ValidatePaymentInstruction
	})
}

func (c *Controller) preflight(
	ctx context.Context,
	op string,
	instr *payment.PaymentInstruction,
	pick func(plugin.Plugin) func(context.Context, *payment.PaymentInstruction) error,
) (*Result, error) {
	if instr == nil {
		return nil, apperrors.Argument("payment instruction is required")
	}
	c.init()
	ctx, span := c.Tracer.Start(ctx, "controller."+op, trace.WithAttributes(
		attribute.String("payment.instruction_id", instr.ID),
		attribute.String("payment.method", instr.PaymentMethod),
	))
	defer span.End()

	p, err := c.Registry.Resolve(instr.PaymentMethod)
	if err != nil {
		return c.instructionResult(span, op, instr, StatusFailed, payment.ReasonCodeUnsupported,
			WithCause(err), WithPluginError(methodError(instr.PaymentMethod)))
	}
	if perr := structuralErrors(instr); perr != nil {
		return c.instructionResult(span, op, instr, StatusFailed, payment.ReasonCodeInvalid, WithPluginError(perr))
	}

	err = guard(func() error { return pick(p)(ctx, instr) })
	if err == nil {
		return c.instructionResult(span, op, instr, StatusSuccess, payment.ReasonCodeSuccess)
	}
	var perr *plugin.Error
	if errors.As(err, &perr) {
		reason := perr.ReasonCode
		if reason == "" {
			reason = payment.ReasonCodeInvalid
		}
		return c.instructionResult(span, op, instr, StatusFailed, reason, WithPluginError(perr))
	}
	return c.instructionResult(span, op, instr, StatusUnknown, payment.ReasonCodeUnexpected, WithCause(err))
}

func methodError(method string) *plugin.Error {
	perr := plugin.NewError(fmt.Sprintf("payment method %q is not available", method))
	perr.ReasonCode = payment.ReasonCodeUnsupported
	if method == "" {
		return perr.AddGlobalError(PaymentMethodRequiredMessage)
	}
	return perr.AddGlobalError(InvalidPaymentMethodMessage)
}

// structuralErrors rejects instructions no backend could process.
func structuralErrors(instr *payment.PaymentInstruction) *plugin.Error {
	perr := plugin.NewError("invalid payment instruction")
	perr.ReasonCode = payment.ReasonCodeInvalid
	if !instr.Amount.IsPositive() {
		_ = perr.AddDataError("amount", "amount must be positive")
	}
	if !isCurrencyCode(instr.Currency) {
		_ = perr.AddDataError("currency", "currency must be a three letter ISO 4217 code")
	}
	if !perr.HasErrors() {
		return nil
	}
	return perr
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func (c *Controller) instructionResult(span trace.Span, op string, instr *payment.PaymentInstruction, status Status, reason string, opts ...ResultOption) (*Result, error) {
	res, err := NewInstructionResult(instr, status, reason, opts...)
	if err != nil {
		return nil, err
	}
	c.observe(span, op, res, false)
	return res, nil
}

// Approve reserves amount on a new payment of the instruction. A pending
// approval of the same amount is retried instead.
func (c *Controller) Approve(ctx context.Context, instructionID string, amount decimal.Decimal) (*Result, error) {
	return c.process(ctx, payment.TypeApprove, amount, c.byInstruction(instructionID), c.approval(payment.TypeApprove))
}

// ApproveAndDeposit approves and captures amount in one backend call.
func (c *Controller) ApproveAndDeposit(ctx context.Context, instructionID string, amount decimal.Decimal) (*Result, error) {
	return c.process(ctx, payment.TypeApproveAndDeposit, amount, c.byInstruction(instructionID), c.approval(payment.TypeApproveAndDeposit))
}

func (c *Controller) Deposit(ctx context.Context, paymentID string, amount decimal.Decimal) (*Result, error) {
	return c.process(ctx, payment.TypeDeposit, amount, c.byPayment(paymentID), c.onPayment(paymentID, payment.TypeDeposit))
}

func (c *Controller) ReverseApproval(ctx context.Context, paymentID string, amount decimal.Decimal) (*Result, error) {
	return c.process(ctx, payment.TypeReverseApproval, amount, c.byPayment(paymentID), c.onPayment(paymentID, payment.TypeReverseApproval))
}

func (c *Controller) ReverseDeposit(ctx context.Context, paymentID string, amount decimal.Decimal) (*Result, error) {
	return c.process(ctx, payment.TypeReverseDeposit, amount, c.byPayment(paymentID), c.onPayment(paymentID, payment.TypeReverseDeposit))
}

// Credit pays amount back on a new credit of the instruction.
func (c *Controller) Credit(ctx context.Context, instructionID string, amount decimal.Decimal) (*Result, error) {
	return c.process(ctx, payment.TypeCredit, amount, c.byInstruction(instructionID), c.crediting())
}

func (c *Controller) ReverseCredit(ctx context.Context, creditID string, amount decimal.Decimal) (*Result, error) {
	return c.process(ctx, payment.TypeReverseCredit, amount, c.byCredit(creditID), c.onCredit(creditID))
}

// Resume re-invokes the operation of a pending transaction. A terminal
// transaction yields the Result of its recorded state and the plugin is not
// called.
func (c *Controller) Resume(ctx context.Context, transactionID string) (*Result, error) {
	return c.resume(ctx, transactionID, 0, false)
}

// ResumeAttempt runs scheduled retry number attempt of a pending
// transaction. A request for an attempt that already ran, or one arriving
// before the transaction's retry time, returns the current Result without
// calling the plugin, so redelivered requests cannot use up the retry
// budget. attempt 0 only checks the retry time.
func (c *Controller) ResumeAttempt(ctx context.Context, transactionID string, attempt int) (*Result, error) {
	return c.resume(ctx, transactionID, attempt, true)
}

func (c *Controller) resume(ctx context.Context, transactionID string, attempt int, scheduled bool) (*Result, error) {
	c.init()
	ctx, span := c.Tracer.Start(ctx, "controller.resume", trace.WithAttributes(
		attribute.String("payment.transaction_id", transactionID),
		attribute.Int("payment.attempt", attempt),
	))
	defer span.End()

	instr, unlock, err := c.acquire(ctx, c.byTransaction(transactionID))
	if err != nil {
		return nil, c.fail(span, err)
	}
	defer unlock()

	tx := instr.Transaction(transactionID)
	if tx == nil {
		return nil, c.fail(span, apperrors.NotFound("financial transaction %s", transactionID))
	}
	if tx.State.IsTerminal() {
		return recorded(tx)
	}
	if scheduled && !c.due(tx, attempt) {
		c.Logger.Info("retry request skipped", map[string]any{
			"transaction_id": tx.ID,
			"attempt":        attempt,
			"attempts":       tx.Attempts,
			"next_retry_at":  tx.NextRetryAt,
		})
		return NewTransactionResult(tx, StatusPending, tx.ReasonCode, WithRecoverable(true))
	}

	p, err := c.Registry.Resolve(instr.PaymentMethod)
	if err != nil {
		return nil, c.fail(span, err)
	}
	return c.invoke(ctx, span, p, tx, tx.State != payment.StateNew)
}

// due reports whether retry number attempt of tx may run now.
func (c *Controller) due(tx *payment.FinancialTransaction, attempt int) bool {
	if attempt > 0 && attempt <= tx.Attempts {
		return false
	}
	return tx.NextRetryAt == nil || !c.Now().Before(*tx.NextRetryAt)
}

// UpdateTransactionStatus settles a pending transaction from an
// asynchronous confirmation. Repeating a confirmation that was already
// applied returns the recorded Result.
func (c *Controller) UpdateTransactionStatus(ctx context.Context, transactionID string, update StatusUpdate) (*Result, error) {
	if update.State != payment.StateSuccess && update.State != payment.StateFailed {
		return nil, apperrors.Argument("a status update must be %s or %s, got %q",
			payment.StateSuccess, payment.StateFailed, update.State)
	}
	c.init()
	ctx, span := c.Tracer.Start(ctx, "controller.update_status", trace.WithAttributes(
		attribute.String("payment.transaction_id", transactionID),
		attribute.String("payment.state", string(update.State)),
	))
	defer span.End()

	instr, unlock, err := c.acquire(ctx, c.byTransaction(transactionID))
	if err != nil {
		return nil, c.fail(span, err)
	}
	defer unlock()

	tx := instr.Transaction(transactionID)
	if tx == nil {
		return nil, c.fail(span, apperrors.NotFound("financial transaction %s", transactionID))
	}
	if tx.State.IsTerminal() {
		if tx.State == update.State {
			return recorded(tx)
		}
		return nil, c.fail(span, apperrors.InvalidState("transaction %s is already %s", tx.ID, tx.State))
	}

	var out plugin.Outcome
	if update.State == payment.StateSuccess {
		out = plugin.Completed(plugin.Response{
			ProcessedAmount: update.ProcessedAmount,
			ResponseCode:    update.ResponseCode,
			ReasonCode:      update.ReasonCode,
			TrackingID:      update.TrackingID,
			Final:           true,
		})
	} else {
		msg := update.Message
		if msg == "" {
			msg = "rejected by backend"
		}
		perr := plugin.NewError(msg)
		perr.ReasonCode = update.ReasonCode
		perr.ResponseCode = update.ResponseCode
		out = plugin.Rejected(perr)
	}
	return c.settle(ctx, span, tx, out)
}

type loader func(context.Context) (*payment.PaymentInstruction, error)

// preparer finds the transaction to run, or creates it after checking the
// amount guards. retry is true when an existing pending transaction is
// reused.
type preparer func(instr *payment.PaymentInstruction, amount decimal.Decimal) (tx *payment.FinancialTransaction, retry bool, err error)

func (c *Controller) process(ctx context.Context, t payment.TransactionType, amount decimal.Decimal, load loader, prepare preparer) (*Result, error) {
	c.init()
	ctx, span := c.Tracer.Start(ctx, "controller."+string(t), trace.WithAttributes(
		attribute.String("payment.operation", string(t)),
		attribute.String("payment.amount", amount.String()),
	))
	defer span.End()

	if !amount.IsPositive() {
		return nil, c.fail(span, apperrors.Argument("amount must be positive, got %s", amount))
	}

	instr, unlock, err := c.acquire(ctx, load)
	if err != nil {
		return nil, c.fail(span, err)
	}
	defer unlock()

	if instr.State != payment.InstructionValid {
		return nil, c.fail(span, apperrors.InvalidState("payment instruction %s is %s, expected %s",
			instr.ID, instr.State, payment.InstructionValid))
	}
	p, err := c.Registry.Resolve(instr.PaymentMethod)
	if err != nil {
		return nil, c.fail(span, err)
	}

	tx, retry, err := prepare(instr, amount)
	if err != nil {
		return nil, c.fail(span, err)
	}
	return c.invoke(ctx, span, p, tx, retry)
}

// acquire takes the single-writer lock of the instruction load returns and
// reloads it under the lock.
func (c *Controller) acquire(ctx context.Context, load loader) (*payment.PaymentInstruction, func(), error) {
	instr, err := load(ctx)
	if err != nil {
		return nil, nil, lookupError(err)
	}
	unlock, err := c.Locker.TryLock(ctx, instr.ID)
	if err != nil {
		return nil, nil, err
	}
	fresh, err := c.Repo.FindByID(ctx, instr.ID)
	if err != nil {
		unlock()
		return nil, nil, lookupError(err)
	}
	return fresh, unlock, nil
}

func lookupError(err error) error {
	if errors.Is(err, payment.ErrInstructionNotFound) || errors.Is(err, payment.ErrTransactionNotFound) {
		return apperrors.Wrap(apperrors.KindNotFound, err, "load payment instruction")
	}
	return apperrors.Wrap(apperrors.KindInternal, err, "load payment instruction")
}

func (c *Controller) byInstruction(id string) loader {
	return func(ctx context.Context) (*payment.PaymentInstruction, error) { return c.Repo.FindByID(ctx, id) }
}

func (c *Controller) byPayment(id string) loader {
	return func(ctx context.Context) (*payment.PaymentInstruction, error) { return c.Repo.FindByPaymentID(ctx, id) }
}

func (c *Controller) byCredit(id string) loader {
	return func(ctx context.Context) (*payment.PaymentInstruction, error) { return c.Repo.FindByCreditID(ctx, id) }
}

func (c *Controller) byTransaction(id string) loader {
	return func(ctx context.Context) (*payment.PaymentInstruction, error) {
		return c.Repo.FindByTransactionID(ctx, id)
	}
}

// invoke calls the plugin and settles its outcome.
func (c *Controller) invoke(ctx context.Context, span trace.Span, p plugin.Plugin, tx *payment.FinancialTransaction, retry bool) (*Result, error) {
	span.SetAttributes(
		attribute.String("payment.transaction_id", tx.ID),
		attribute.String("payment.plugin", p.Name()),
		attribute.Bool("payment.retry", retry),
	)
	call := operation(p, tx.Type)
	if call == nil {
		return nil, c.fail(span, apperrors.Argument("unknown transaction type %q", tx.Type))
	}

	out := safeCall(ctx, call, tx, retry)
	tx.Attempts++
	return c.settle(ctx, span, tx, out)
}

func (c *Controller) settle(ctx context.Context, span trace.Span, tx *payment.FinancialTransaction, out plugin.Outcome) (*Result, error) {
	res, attention, err := c.classify(tx, out)
	if err != nil {
		return nil, c.fail(span, err)
	}
	if err := c.Repo.Save(ctx, tx.Instruction()); err != nil {
		return nil, c.fail(span, apperrors.Wrap(apperrors.KindInternal, err, "save payment instruction %s", tx.Instruction().ID))
	}
	c.publish(res, attention)
	c.observe(span, string(tx.Type), res, attention)
	return res, nil
}

// safeCall turns a plugin panic into an unexpected outcome.
func safeCall(
	ctx context.Context,
	call func(context.Context, *payment.FinancialTransaction, bool) plugin.Outcome,
	tx *payment.FinancialTransaction,
	retry bool,
) (out plugin.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = plugin.Unexpected(fmt.Errorf("plugin panicked: %v", r))
		}
	}()
	return call(ctx, tx, retry)
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panicked: %v", r)
		}
	}()
	return fn()
}

// recorded rebuilds the Result of a terminal transaction.
func recorded(tx *payment.FinancialTransaction) (*Result, error) {
	switch {
	case tx.State == payment.StateSuccess:
		return NewTransactionResult(tx, StatusSuccess, tx.ReasonCode)
	case tx.ReasonCode == payment.ReasonCodeUnexpected:
		return NewTransactionResult(tx, StatusUnknown, tx.ReasonCode)
	default:
		return NewTransactionResult(tx, StatusFailed, tx.ReasonCode)
	}
}

func (c *Controller) observe(span trace.Span, op string, res *Result, attention bool) {
	fields := map[string]any{
		"operation":      op,
		"instruction_id": res.Instruction().ID,
		"status":         res.Status().String(),
		"reason_code":    res.ReasonCode(),
		"recoverable":    res.IsRecoverable(),
	}
	if tx := res.Transaction(); tx != nil {
		fields["transaction_id"] = tx.ID
		fields["state"] = string(tx.State)
		fields["attempt"] = tx.Attempts
	}
	if res.Cause() != nil {
		fields["error"] = res.Cause()
	}

	span.SetAttributes(
		attribute.String("payment.status", res.Status().String()),
		attribute.String("payment.reason_code", res.ReasonCode()),
	)

	switch {
	case attention:
		fields["attention_required"] = true
		c.Logger.Error("payment needs operator attention", fields)
		span.SetStatus(codes.Error, res.ReasonCode())
	case res.Status() == StatusUnknown:
		c.Logger.Error("plugin outcome could not be classified", fields)
		span.SetStatus(codes.Error, res.ReasonCode())
	case res.Status() == StatusFailed:
		c.Logger.Warn("payment operation failed", fields)
	default:
		c.Logger.Info("payment operation processed", fields)
	}

	if c.Metrics != nil {
		c.Metrics.ObserveResult(op, res.Status().String())
		if attention {
			c.Metrics.ObserveAttention(op)
		}
	}
}

func (c *Controller) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.Logger.Warn("payment operation rejected", map[string]any{"error": err})
	return err
}
