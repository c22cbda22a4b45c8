package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/extdata"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/payment"
)

// PaymentRepository stores instruction aggregates across four tables. The
// extended data store is written as one blob through the codec.
type PaymentRepository struct {
	db    *sql.DB
	codec *extdata.Codec
}

func NewPaymentRepository(db *sql.DB, codec *extdata.Codec) *PaymentRepository {
	if codec == nil {
		codec = extdata.NewCodec(nil)
	}
	return &PaymentRepository{db: db, codec: codec}
}

const (
	insertInstruction = `INSERT INTO payment_instructions
		 (id, amount, currency, payment_method, state, extended_data,
		  approved_amount, deposited_amount, credited_amount, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	createInstruction = insertInstruction + `
		 ON CONFLICT(id) DO NOTHING`

	upsertInstruction = insertInstruction + `
		 ON CONFLICT(id) DO UPDATE SET
		  state = excluded.state,
		  extended_data = excluded.extended_data,
		  approved_amount = excluded.approved_amount,
		  deposited_amount = excluded.deposited_amount,
		  credited_amount = excluded.credited_amount,
		  updated_at = excluded.updated_at`
)

// Create inserts a new aggregate. An existing id is left untouched and
// reported as payment.ErrInstructionExists.
func (r *PaymentRepository) Create(ctx context.Context, instr *payment.PaymentInstruction) error {
	return r.store(ctx, instr, createInstruction)
}

func (r *PaymentRepository) Save(ctx context.Context, instr *payment.PaymentInstruction) error {
	return r.store(ctx, instr, upsertInstruction)
}

func (r *PaymentRepository) store(ctx context.Context, instr *payment.PaymentInstruction, statement string) error {
	blob, err := r.codec.Encode(instr.ExtendedData)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, statement,
		instr.ID,
		instr.Amount,
		instr.Currency,
		instr.PaymentMethod,
		string(instr.State),
		blob,
		instr.ApprovedAmount,
		instr.DepositedAmount,
		instr.CreditedAmount,
		instr.CreatedAt,
		instr.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save instruction %s: %w", instr.ID, err)
	}
	if statement == createInstruction {
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("save instruction %s: %w", instr.ID, err)
		}
		if n == 0 {
			return fmt.Errorf("%s: %w", instr.ID, payment.ErrInstructionExists)
		}
	}

	for pos, p := range instr.Payments {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO payments
			 (id, instruction_id, position, status, target_amount, approved_amount,
			  deposited_amount, attention_required, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			  status = excluded.status,
			  approved_amount = excluded.approved_amount,
			  deposited_amount = excluded.deposited_amount,
			  attention_required = excluded.attention_required`,
			p.ID,
			instr.ID,
			pos,
			string(p.Status),
			p.TargetAmount,
			p.ApprovedAmount,
			p.DepositedAmount,
			p.AttentionRequired,
			p.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("save payment %s: %w", p.ID, err)
		}
		for tpos, ft := range p.Transactions {
			if err := saveTransaction(ctx, tx, ft, p.ID, "", tpos); err != nil {
				return err
			}
		}
	}

	for pos, c := range instr.Credits {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO credits
			 (id, instruction_id, position, status, target_amount, credited_amount,
			  attention_required, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			  status = excluded.status,
			  credited_amount = excluded.credited_amount,
			  attention_required = excluded.attention_required`,
			c.ID,
			instr.ID,
			pos,
			string(c.Status),
			c.TargetAmount,
			c.CreditedAmount,
			c.AttentionRequired,
			c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("save credit %s: %w", c.ID, err)
		}
		for tpos, ft := range c.Transactions {
			if err := saveTransaction(ctx, tx, ft, "", c.ID, tpos); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func saveTransaction(ctx context.Context, tx *sql.Tx, ft *payment.FinancialTransaction, paymentID, creditID string, pos int) error {
	var nextRetry sql.NullTime
	if ft.NextRetryAt != nil {
		nextRetry = sql.NullTime{Time: *ft.NextRetryAt, Valid: true}
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO financial_transactions
		 (id, payment_id, credit_id, position, type, state, requested_amount,
		  processed_amount, response_code, reason_code, tracking_id, attempts,
		  next_retry_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		  state = excluded.state,
		  processed_amount = excluded.processed_amount,
		  response_code = excluded.response_code,
		  reason_code = excluded.reason_code,
		  tracking_id = excluded.tracking_id,
		  attempts = excluded.attempts,
		  next_retry_at = excluded.next_retry_at,
		  updated_at = excluded.updated_at`,
		ft.ID,
		nullString(paymentID),
		nullString(creditID),
		pos,
		string(ft.Type),
		string(ft.State),
		ft.RequestedAmount,
		ft.ProcessedAmount,
		ft.ResponseCode,
		ft.ReasonCode,
		ft.TrackingID,
		ft.Attempts,
		nextRetry,
		ft.CreatedAt,
		ft.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save transaction %s: %w", ft.ID, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*payment.PaymentInstruction, error) {
	var (
		instr payment.PaymentInstruction
		state string
		blob  []byte
	)

	err := r.db.QueryRowContext(ctx,
		`SELECT id, amount, currency, payment_method, state, extended_data,
		        approved_amount, deposited_amount, credited_amount, created_at, updated_at
		 FROM payment_instructions WHERE id = ?`, id,
	).Scan(
		&instr.ID,
		&instr.Amount,
		&instr.Currency,
		&instr.PaymentMethod,
		&state,
		&blob,
		&instr.ApprovedAmount,
		&instr.DepositedAmount,
		&instr.CreditedAmount,
		&instr.CreatedAt,
		&instr.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instruction %s: %w", id, payment.ErrInstructionNotFound)
	}
	if err != nil {
		return nil, err
	}
	instr.State = payment.InstructionState(state)

	if instr.ExtendedData, err = r.codec.Decode(blob); err != nil {
		return nil, fmt.Errorf("instruction %s: %w", id, err)
	}

	if err := r.loadPayments(ctx, &instr); err != nil {
		return nil, err
	}
	if err := r.loadCredits(ctx, &instr); err != nil {
		return nil, err
	}
	if err := r.loadTransactions(ctx, &instr); err != nil {
		return nil, err
	}

	return &instr, nil
}

func (r *PaymentRepository) loadPayments(ctx context.Context, instr *payment.PaymentInstruction) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, status, target_amount, approved_amount, deposited_amount,
		        attention_required, created_at
		 FROM payments WHERE instruction_id = ? ORDER BY position`, instr.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p      payment.Payment
			status string
		)
		if err := rows.Scan(
			&p.ID,
			&status,
			&p.TargetAmount,
			&p.ApprovedAmount,
			&p.DepositedAmount,
			&p.AttentionRequired,
			&p.CreatedAt,
		); err != nil {
			return err
		}
		p.Status = payment.Status(status)
		p.Instruction = instr
		instr.Payments = append(instr.Payments, &p)
	}
	return rows.Err()
}

func (r *PaymentRepository) loadCredits(ctx context.Context, instr *payment.PaymentInstruction) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, status, target_amount, credited_amount, attention_required, created_at
		 FROM credits WHERE instruction_id = ? ORDER BY position`, instr.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c      payment.Credit
			status string
		)
		if err := rows.Scan(
			&c.ID,
			&status,
			&c.TargetAmount,
			&c.CreditedAmount,
			&c.AttentionRequired,
			&c.CreatedAt,
		); err != nil {
			return err
		}
		c.Status = payment.Status(status)
		c.Instruction = instr
		instr.Credits = append(instr.Credits, &c)
	}
	return rows.Err()
}

func (r *PaymentRepository) loadTransactions(ctx context.Context, instr *payment.PaymentInstruction) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT t.id, t.payment_id, t.credit_id, t.type, t.state, t.requested_amount,
		        t.processed_amount, t.response_code, t.reason_code, t.tracking_id,
		        t.attempts, t.next_retry_at, t.created_at, t.updated_at
		 FROM financial_transactions t
		 LEFT JOIN payments p ON t.payment_id = p.id
		 LEFT JOIN credits c ON t.credit_id = c.id
		 WHERE p.instruction_id = ? OR c.instruction_id = ?
		 ORDER BY t.position`, instr.ID, instr.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ft                  payment.FinancialTransaction
			paymentID, creditID sql.NullString
			txType, state       string
			nextRetry           sql.NullTime
		)
		if err := rows.Scan(
			&ft.ID,
			&paymentID,
			&creditID,
			&txType,
			&state,
			&ft.RequestedAmount,
			&ft.ProcessedAmount,
			&ft.ResponseCode,
			&ft.ReasonCode,
			&ft.TrackingID,
			&ft.Attempts,
			&nextRetry,
			&ft.CreatedAt,
			&ft.UpdatedAt,
		); err != nil {
			return err
		}
		ft.Type = payment.TransactionType(txType)
		ft.State = payment.TransactionState(state)
		if nextRetry.Valid {
			at := nextRetry.Time
			ft.NextRetryAt = &at
		}

		switch {
		case paymentID.Valid:
			p := instr.Payment(paymentID.String)
			if p == nil {
				return fmt.Errorf("transaction %s references unknown payment %s", ft.ID, paymentID.String)
			}
			ft.Payment = p
			p.Transactions = append(p.Transactions, &ft)
		case creditID.Valid:
			c := instr.Credit(creditID.String)
			if c == nil {
				return fmt.Errorf("transaction %s references unknown credit %s", ft.ID, creditID.String)
			}
			ft.Credit = c
			c.Transactions = append(c.Transactions, &ft)
		}
	}
	return rows.Err()
}

func (r *PaymentRepository) FindByTransactionID(ctx context.Context, transactionID string) (*payment.PaymentInstruction, error) {
	return r.findOwner(ctx,
		`SELECT COALESCE(p.instruction_id, c.instruction_id)
		 FROM financial_transactions t
		 LEFT JOIN payments p ON t.payment_id = p.id
		 LEFT JOIN credits c ON t.credit_id = c.id
		 WHERE t.id = ?`,
		transactionID, payment.ErrTransactionNotFound)
}

func (r *PaymentRepository) FindByPaymentID(ctx context.Context, paymentID string) (*payment.PaymentInstruction, error) {
	return r.findOwner(ctx,
		`SELECT instruction_id FROM payments WHERE id = ?`,
		paymentID, payment.ErrInstructionNotFound)
}

func (r *PaymentRepository) FindByCreditID(ctx context.Context, creditID string) (*payment.PaymentInstruction, error) {
	return r.findOwner(ctx,
		`SELECT instruction_id FROM credits WHERE id = ?`,
		creditID, payment.ErrInstructionNotFound)
}

func (r *PaymentRepository) findOwner(ctx context.Context, query, id string, notFound error) (*payment.PaymentInstruction, error) {
	var instructionID string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&instructionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, notFound)
	}
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, instructionID)
}

// Pending lists the ids of transactions still waiting on a retry whose time
// has come, oldest first.
func (r *PaymentRepository) Pending(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM financial_transactions
		 WHERE state = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		 ORDER BY next_retry_at
		 LIMIT ?`,
		string(payment.StatePending), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
