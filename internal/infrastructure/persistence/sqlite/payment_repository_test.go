package sqlite_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/extdata"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/payment"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infrastructure/encryption"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infrastructure/persistence/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sqlite.Open(sqlite.DriverPure, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, sqlite.RunMigrations(db))
	return db
}

func newInstruction(id string) *payment.PaymentInstruction {
	data := extdata.New()
	data.Set("foo", "bar")
	instr := payment.NewInstruction(id, decimal.RequireFromString("100.50"), "EUR", "creditcard", data)
	instr.State = payment.InstructionValid
	return instr
}

func rawBlob(t *testing.T, db *sql.DB, id string) []byte {
	t.Helper()
	var blob []byte
	require.NoError(t, db.QueryRow(`SELECT extended_data FROM payment_instructions WHERE id = ?`, id).Scan(&blob))
	return blob
}

func TestPaymentRepository_WhenEncryptionEnabled_ShouldHideAndRestoreExtendedData(t *testing.T) {
	db := setupTestDB(t)
	svc, err := encryption.NewAESService("a-strong-secret", "", "")
	require.NoError(t, err)
	repo := sqlite.NewPaymentRepository(db, extdata.NewCodec(svc))
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newInstruction("instr-1")))

	assert.NotContains(t, string(rawBlob(t, db, "instr-1")), "bar")

	got, err := repo.FindByID(ctx, "instr-1")
	require.NoError(t, err)
	value, ok := got.ExtendedData.GetString("foo")
	require.True(t, ok)
	assert.Equal(t, "bar", value)
}

func TestPaymentRepository_WhenEncryptionDisabled_ShouldStorePlainJSON(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewPaymentRepository(db, extdata.NewCodec(nil))
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newInstruction("instr-1")))

	assert.Contains(t, string(rawBlob(t, db, "instr-1")), `"bar"`)
}

func TestPaymentRepository_ShouldRoundTripWholeAggregate(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewPaymentRepository(db, nil)
	ctx := context.Background()

	instr := newInstruction("instr-1")
	p := instr.NewPayment("pay-1", decimal.RequireFromString("100.50"))
	approve := p.NewTransaction("tx-1", payment.TypeApprove, decimal.RequireFromString("100.50"))
	require.NoError(t, approve.Transition(payment.StateSuccess))
	approve.ProcessedAmount = decimal.RequireFromString("100.50")
	approve.ResponseCode = payment.ResponseCodeSuccess
	approve.ReasonCode = payment.ReasonCodeSuccess
	approve.Attempts = 1
	approve.ApplySuccess()

	deposit := p.NewTransaction("tx-2", payment.TypeDeposit, decimal.RequireFromString("40"))
	require.NoError(t, deposit.Transition(payment.StatePending))
	next := time.Now().UTC().Add(time.Minute)
	deposit.NextRetryAt = &next
	deposit.Attempts = 1

	c := instr.NewCredit("cred-1", decimal.RequireFromString("5"))
	c.NewTransaction("tx-3", payment.TypeCredit, decimal.RequireFromString("5"))
	c.AttentionRequired = true

	require.NoError(t, repo.Save(ctx, instr))

	got, err := repo.FindByTransactionID(ctx, "tx-2")
	require.NoError(t, err)

	assert.Equal(t, payment.InstructionValid, got.State)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("100.50")))
	assert.True(t, got.ApprovedAmount.Equal(decimal.RequireFromString("100.50")))

	require.Len(t, got.Payments, 1)
	gp := got.Payments[0]
	assert.Equal(t, payment.StatusApproved, gp.Status)
	assert.Same(t, got, gp.Instruction)
	require.Len(t, gp.Transactions, 2)
	assert.Equal(t, "tx-1", gp.Transactions[0].ID)
	assert.Same(t, gp, gp.Transactions[0].Payment)

	pending := gp.PendingTransaction()
	require.NotNil(t, pending)
	assert.Equal(t, "tx-2", pending.ID)
	assert.Equal(t, payment.TypeDeposit, pending.Type)
	require.NotNil(t, pending.NextRetryAt)
	assert.WithinDuration(t, next, *pending.NextRetryAt, time.Millisecond)

	require.Len(t, got.Credits, 1)
	assert.True(t, got.Credits[0].IsAttentionRequired())
	require.Len(t, got.Credits[0].Transactions, 1)
	assert.Same(t, got.Credits[0], got.Credits[0].Transactions[0].Credit)
	assert.Nil(t, got.Credits[0].Transactions[0].Payment)
}

func TestPaymentRepository_Save_ShouldUpdateExistingRows(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewPaymentRepository(db, nil)
	ctx := context.Background()

	instr := newInstruction("instr-1")
	p := instr.NewPayment("pay-1", decimal.RequireFromString("10"))
	tx := p.NewTransaction("tx-1", payment.TypeApprove, decimal.RequireFromString("10"))
	require.NoError(t, tx.Transition(payment.StatePending))
	require.NoError(t, repo.Save(ctx, instr))

	loaded, err := repo.FindByPaymentID(ctx, "pay-1")
	require.NoError(t, err)
	ltx := loaded.Transaction("tx-1")
	require.NotNil(t, ltx)
	require.NoError(t, ltx.Transition(payment.StateFailed))
	ltx.ReasonCode = payment.ReasonCodeRetriesExhausted
	ltx.FlagAttention()
	loaded.ExtendedData.Set("gateway_ref", "abc")
	require.NoError(t, repo.Save(ctx, loaded))

	again, err := repo.FindByID(ctx, "instr-1")
	require.NoError(t, err)
	assert.Equal(t, payment.StateFailed, again.Transaction("tx-1").State)
	assert.Equal(t, payment.ReasonCodeRetriesExhausted, again.Transaction("tx-1").ReasonCode)
	assert.True(t, again.Payments[0].IsAttentionRequired())
	assert.Equal(t, []string{"foo", "gateway_ref"}, again.ExtendedData.Keys())
}

func TestPaymentRepository_WhenMissing_ShouldReturnNotFoundSentinels(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewPaymentRepository(db, nil)
	ctx := context.Background()

	_, err := repo.FindByID(ctx, "nope")
	assert.ErrorIs(t, err, payment.ErrInstructionNotFound)

	_, err = repo.FindByPaymentID(ctx, "nope")
	assert.ErrorIs(t, err, payment.ErrInstructionNotFound)

	_, err = repo.FindByCreditID(ctx, "nope")
	assert.ErrorIs(t, err, payment.ErrInstructionNotFound)

	_, err = repo.FindByTransactionID(ctx, "nope")
	assert.ErrorIs(t, err, payment.ErrTransactionNotFound)
}

func TestPaymentRepository_WhenKeyDiffers_ShouldFailToDecode(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	writer, err := encryption.NewSecretboxService("first-secret")
	require.NoError(t, err)
	reader, err := encryption.NewSecretboxService("second-secret")
	require.NoError(t, err)

	require.NoError(t, sqlite.NewPaymentRepository(db, extdata.NewCodec(writer)).Save(ctx, newInstruction("instr-1")))

	_, err = sqlite.NewPaymentRepository(db, extdata.NewCodec(reader)).FindByID(ctx, "instr-1")
	assert.Error(t, err)
}

func TestPaymentRepository_Pending_ShouldListDueRetries(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewPaymentRepository(db, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	instr := newInstruction("instr-1")
	p := instr.NewPayment("pay-1", decimal.RequireFromString("10"))
	due := p.NewTransaction("tx-due", payment.TypeApprove, decimal.RequireFromString("10"))
	require.NoError(t, due.Transition(payment.StatePending))
	past := now.Add(-time.Minute)
	due.NextRetryAt = &past

	other := instr.NewPayment("pay-2", decimal.RequireFromString("10"))
	later := other.NewTransaction("tx-later", payment.TypeApprove, decimal.RequireFromString("10"))
	require.NoError(t, later.Transition(payment.StatePending))
	future := now.Add(time.Hour)
	later.NextRetryAt = &future

	require.NoError(t, repo.Save(ctx, instr))

	ids, err := repo.Pending(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"tx-due"}, ids)
}

func TestPaymentRepository_Create_WhenIDTaken_ShouldLeaveStoredAggregate(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewPaymentRepository(db, nil)
	ctx := context.Background()

	instr := newInstruction("instr-1")
	require.NoError(t, repo.Create(ctx, instr))
	p := instr.NewPayment("pay-1", decimal.RequireFromString("100.50"))
	approve := p.NewTransaction("tx-1", payment.TypeApprove, decimal.RequireFromString("100.50"))
	require.NoError(t, approve.Transition(payment.StateSuccess))
	approve.ProcessedAmount = decimal.RequireFromString("100.50")
	approve.ApplySuccess()
	require.NoError(t, repo.Save(ctx, instr))

	fresh := payment.NewInstruction("instr-1", decimal.RequireFromString("100.50"), "EUR", "creditcard", nil)
	err := repo.Create(ctx, fresh)
	assert.ErrorIs(t, err, payment.ErrInstructionExists)

	got, err := repo.FindByID(ctx, "instr-1")
	require.NoError(t, err)
	assert.True(t, got.ApprovedAmount.Equal(decimal.RequireFromString("100.50")))
	require.Len(t, got.Payments, 1)
	assert.Equal(t, payment.StatusApproved, got.Payments[0].Status)
	assert.Equal(t, []string{"foo"}, got.ExtendedData.Keys())
}
