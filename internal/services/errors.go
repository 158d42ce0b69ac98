package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across the credit engine and its callers.
var (
	// ErrAccountNotFound is fatal: the account row does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientBalance means the debit would drive the balance
	// below zero. The caller needs a new top-up, not a retry.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrBusy means the per-account lock could not be acquired within
	// the configured wait. Safe to retry: every mutation is idempotent.
	ErrBusy = errors.New("account busy, retry")

	// ErrUnknownPaymentStatus rejects payment events whose status is
	// neither succeeded nor failed, so a malformed delivery is never
	// mistaken for an already-handled one.
	ErrUnknownPaymentStatus = errors.New("unknown payment event status")

	// ErrInvalidTransition means the booking is not in a status that
	// permits the requested operation.
	ErrInvalidTransition = errors.New("invalid booking status transition")

	// ErrBookingNotFound is returned for an unknown booking id.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrAdmissionNotFound is returned for an unknown admission event id.
	ErrAdmissionNotFound = errors.New("admission event not found")

	// ErrEntryNotFound is returned for an unknown ledger entry id.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrBookingElapsed means an approved booking has dates in the past,
	// so a flat cancellation refund would be wrong. The caller must
	// compute a prorated refund and issue it through the credit engine.
	ErrBookingElapsed = errors.New("booking has elapsed dates, partial refund must be computed by caller")
)

// CapacityExceededError names every date of a booking that is already at
// daily capacity. The approval aborts before any state change.
type CapacityExceededError struct {
	Dates []string
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("daily capacity exceeded on %s", strings.Join(e.Dates, ", "))
}

// CompensationFailureError reports that a debit committed but the
// follow-up compensation did not, leaving the ledger and a dependent
// record out of sync until reconciled. It is always logged with enough
// context for offline reconciliation before being returned.
type CompensationFailureError struct {
	AccountID string
	EntryID   string

	// Delta is the original entry's delta left standing un-compensated,
	// so a negative value means credits are still held from the account.
	Delta int64

	Reference string
	Err       error
}

func (e *CompensationFailureError) Error() string {
	return fmt.Sprintf("compensation failed for account %s entry %s (delta %d, ref %s): %v",
		e.AccountID, e.EntryID, e.Delta, e.Reference, e.Err)
}

func (e *CompensationFailureError) Unwrap() error {
	return e.Err
}
