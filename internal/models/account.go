package models

import (
	"time"
)

// Account holds the materialized credit balance for one pet.
// Balance is in whole credit units and is written exclusively by the
// ledger store; it always equals the sum of the account's ledger entries.
type Account struct {
	ID        string    `json:"id" db:"id"`
	PetName   string    `json:"pet_name" db:"pet_name"`
	OwnerName string    `json:"owner_name" db:"owner_name"`
	Balance   int64     `json:"balance" db:"balance"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Ledger entry reason codes.
const (
	ReasonAdmission        = "admission"
	ReasonBooking          = "booking"
	ReasonPaymentGrant     = "payment_grant"
	ReasonCompensation     = "compensation"
	ReasonManualAdjustment = "manual_adjustment"
)

// Reference ties a ledger entry back to the record that caused it.
type Reference struct {
	Type string `json:"type" db:"reference_type"`
	ID   string `json:"id" db:"reference_id"`
}

// LedgerEntry is an immutable, append-only balance change. Entries are
// never updated or deleted; corrections are new entries with the
// opposite-sign delta and reason "compensation".
type LedgerEntry struct {
	ID             string    `json:"id" db:"id"`
	AccountID      string    `json:"account_id" db:"account_id"`
	Delta          int64     `json:"delta" db:"delta"`
	Reason         string    `json:"reason" db:"reason"`
	Reference      Reference `json:"reference"`
	ActorID        string    `json:"actor_id" db:"actor_id"`
	IdempotencyKey string    `json:"idempotency_key" db:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
