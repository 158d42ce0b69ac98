package models

import (
	"time"
)

// Booking statuses. Cancelled, Rejected and Completed are terminal;
// bookings are never physically deleted.
const (
	BookingPending   = "PENDING"
	BookingApproved  = "APPROVED"
	BookingRejected  = "REJECTED"
	BookingCancelled = "CANCELLED"
	BookingCompleted = "COMPLETED"
)

// Booking is a request for admission across a set of future dates.
// Dates are calendar days formatted as "2006-01-02".
type Booking struct {
	ID            string     `json:"id" db:"id"`
	AccountID     string     `json:"account_id" db:"account_id"`
	Dates         []string   `json:"dates" db:"dates"`
	Status        string     `json:"status" db:"status"`
	Notes         string     `json:"notes" db:"notes"`
	LedgerEntryID *string    `json:"ledger_entry_id,omitempty" db:"ledger_entry_id"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty" db:"approved_at"`
}

// AdmissionEvent records one physically realized admission: an immediate
// check-in, or one date inside an approved booking. Booking admissions
// all point at the single ledger entry that debited the booking.
type AdmissionEvent struct {
	ID            string    `json:"id" db:"id"`
	AccountID     string    `json:"account_id" db:"account_id"`
	Date          string    `json:"date" db:"admission_date"`
	BookingID     *string   `json:"booking_id,omitempty" db:"booking_id"`
	LedgerEntryID string    `json:"ledger_entry_id" db:"ledger_entry_id"`
	ActorID       string    `json:"actor_id" db:"actor_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
