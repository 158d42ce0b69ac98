package database

import (
	"database/sql"
	"fmt"
	"log"
)

// Migrate applies the schema idempotently on startup. The unique
// constraints here carry correctness weight: (account_id,
// idempotency_key) closes the replay window on the ledger, and the
// payment_records primary key bounds webhook redelivery to one logical
// processing.
func Migrate(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id UUID PRIMARY KEY,
			pet_name TEXT NOT NULL,
			owner_name TEXT NOT NULL,
			balance BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id UUID PRIMARY KEY,
			account_id UUID NOT NULL REFERENCES accounts(id),
			delta BIGINT NOT NULL,
			reason TEXT NOT NULL,
			reference_type TEXT NOT NULL,
			reference_id TEXT NOT NULL DEFAULT '',
			actor_id TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (account_id, idempotency_key)
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id UUID PRIMARY KEY,
			account_id UUID NOT NULL REFERENCES accounts(id),
			dates TEXT[] NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			notes TEXT NOT NULL DEFAULT '',
			ledger_entry_id UUID REFERENCES ledger_entries(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			approved_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS admission_events (
			id UUID PRIMARY KEY,
			account_id UUID NOT NULL REFERENCES accounts(id),
			admission_date TEXT NOT NULL,
			booking_id UUID REFERENCES bookings(id),
			ledger_entry_id UUID NOT NULL REFERENCES ledger_entries(id),
			actor_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_admission_events_date ON admission_events (admission_date)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries (account_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS payment_records (
			external_event_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			credits BIGINT NOT NULL DEFAULT 0,
			ledger_entry_id UUID REFERENCES ledger_entries(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	log.Println("Database schema up to date")
	return nil
}
