package models

import (
	"time"
)

// Payment record statuses, mirroring the processor's confirmed outcomes.
const (
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
)

// PaymentRecord is the audit row for one external payment-confirmation
// event. ExternalEventID is unique, which bounds processing of any
// replayed delivery to at most one logical application.
type PaymentRecord struct {
	ExternalEventID string    `json:"external_event_id" db:"external_event_id"`
	Status          string    `json:"status" db:"status"`
	Credits         int64     `json:"credits" db:"credits"`
	LedgerEntryID   *string   `json:"ledger_entry_id,omitempty" db:"ledger_entry_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
