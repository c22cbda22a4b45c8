package sqlite

import "database/sql"

func RunMigrations(db *sql.DB) error {
	stmts := []string{

		`CREATE TABLE IF NOT EXISTS payment_instructions (
			id TEXT PRIMARY KEY,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			payment_method TEXT NOT NULL,
			state TEXT NOT NULL,
			extended_data BLOB,
			approved_amount TEXT NOT NULL,
			deposited_amount TEXT NOT NULL,
			credited_amount TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			instruction_id TEXT NOT NULL REFERENCES payment_instructions(id),
			position INTEGER NOT NULL,
			status TEXT NOT NULL,
			target_amount TEXT NOT NULL,
			approved_amount TEXT NOT NULL,
			deposited_amount TEXT NOT NULL,
			attention_required INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS credits (
			id TEXT PRIMARY KEY,
			instruction_id TEXT NOT NULL REFERENCES payment_instructions(id),
			position INTEGER NOT NULL,
			status TEXT NOT NULL,
			target_amount TEXT NOT NULL,
			credited_amount TEXT NOT NULL,
			attention_required INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS financial_transactions (
			id TEXT PRIMARY KEY,
			payment_id TEXT REFERENCES payments(id),
			credit_id TEXT REFERENCES credits(id),
			position INTEGER NOT NULL,
			type TEXT NOT NULL,
			state TEXT NOT NULL,
			requested_amount TEXT NOT NULL,
			processed_amount TEXT NOT NULL,
			response_code TEXT NOT NULL DEFAULT '',
			reason_code TEXT NOT NULL DEFAULT '',
			tracking_id TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			next_retry_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			CHECK ((payment_id IS NULL) <> (credit_id IS NULL))
		);`,

		`CREATE INDEX IF NOT EXISTS idx_payments_instruction ON payments(instruction_id);`,
		`CREATE INDEX IF NOT EXISTS idx_credits_instruction ON credits(instruction_id);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_payment ON financial_transactions(payment_id);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_credit ON financial_transactions(credit_id);`,

		`CREATE TABLE IF NOT EXISTS outbox_events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			payload BLOB NOT NULL,
			published INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
