package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/spf13/viper"

	"github.com/pawledger/backend/internal/models"
)

// BookingService runs the approval state machine:
//
//	Pending  -> Approved | Rejected | Cancelled
//	Approved -> Completed | Cancelled
//
// Approval combines the per-date capacity check, the multi-unit debit
// and the admission rows into one atomic decision: the caller sees
// either full success or no effect, except the narrow compensation
// failure case which is logged for reconciliation.
type BookingService struct {
	db            *sql.DB
	store         *LedgerStore
	engine        *CreditEngine
	dailyCapacity int
}

func NewBookingService(db *sql.DB, store *LedgerStore, engine *CreditEngine) *BookingService {
	viper.SetDefault("daycare.daily_capacity", 20)
	return &BookingService{
		db:            db,
		store:         store,
		engine:        engine,
		dailyCapacity: viper.GetInt("daycare.daily_capacity"),
	}
}

// Submit creates a Pending booking. No ledger interaction.
func (s *BookingService) Submit(ctx context.Context, accountID string, dates []string, notes string) (*models.Booking, error) {
	normalized, err := normalizeDates(dates)
	if err != nil {
		return nil, err
	}

	// Account existence up front, so a typo'd id fails loudly here
	// instead of at approval time.
	if _, err := s.store.GetBalance(ctx, accountID); err != nil {
		return nil, err
	}

	booking := &models.Booking{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Dates:     normalized,
		Status:    models.BookingPending,
		Notes:     notes,
		CreatedAt: time.Now(),
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (id, account_id, dates, status, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		booking.ID, booking.AccountID, pq.Array(booking.Dates), booking.Status,
		booking.Notes, booking.CreatedAt); err != nil {
		return nil, err
	}
	return booking, nil
}

// GetBooking fetches one booking by id.
func (s *BookingService) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	var b models.Booking
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, dates, status, notes, ledger_entry_id, created_at, approved_at
		FROM bookings WHERE id = $1`, bookingID).
		Scan(&b.ID, &b.AccountID, pq.Array(&b.Dates), &b.Status, &b.Notes,
			&b.LedgerEntryID, &b.CreatedAt, &b.ApprovedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Approve takes a Pending booking through capacity check, multi-unit
// debit and admission-event creation. Any failure after the debit
// committed triggers compensation and leaves the booking Pending with
// zero admission rows.
func (s *BookingService) Approve(ctx context.Context, bookingID, actorID, notes string) (*models.Booking, error) {
	booking, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingPending {
		return nil, fmt.Errorf("%w: cannot approve booking in status %s", ErrInvalidTransition, booking.Status)
	}

	// Step 1: every date must have headroom. No state changes yet.
	var full []string
	for _, date := range booking.Dates {
		count, err := s.countAdmissions(ctx, date)
		if err != nil {
			return nil, err
		}
		if count >= s.dailyCapacity {
			full = append(full, date)
		}
	}
	if len(full) > 0 {
		return nil, &CapacityExceededError{Dates: full}
	}

	// Step 2: one debit for the whole date set, keyed by the booking id
	// so a retried approval replays instead of double-debiting.
	units := int64(len(booking.Dates))
	ref := models.Reference{Type: models.ReasonBooking, ID: booking.ID}
	debit, err := s.engine.Debit(ctx, booking.AccountID, units, actorID, ref, booking.ID, false)
	if err != nil {
		return nil, err
	}

	// Step 3: admission rows plus the status flip in one transaction,
	// all sharing the debit entry.
	approvedAt := time.Now()
	if err := s.recordApproval(ctx, booking, debit.EntryID, actorID, approvedAt); err != nil {
		if debit.Replayed && errors.Is(err, ErrInvalidTransition) {
			// A replayed debit plus a failed status flip means a
			// concurrent approval already won with this same entry. That
			// entry backs the winner's admission rows, so compensating it
			// here would strand them without a debit.
			if current, readErr := s.GetBooking(ctx, bookingID); readErr == nil && current.Status == models.BookingApproved {
				return nil, err
			}
		}
		return nil, s.compensateApproval(ctx, booking, debit.EntryID, units, ref, actorID, err)
	}

	booking.Status = models.BookingApproved
	booking.LedgerEntryID = &debit.EntryID
	booking.ApprovedAt = &approvedAt
	if notes != "" {
		booking.Notes = notes
	}
	log.Printf("[BOOKING] Approved %s: %d dates, entry %s, balance %d",
		booking.ID, len(booking.Dates), debit.EntryID, debit.NewBalance)
	return booking, nil
}

func (s *BookingService) recordApproval(ctx context.Context, booking *models.Booking,
	entryID, actorID string, approvedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, date := range booking.Dates {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO admission_events (id, account_id, admission_date, booking_id, ledger_entry_id, actor_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New().String(), booking.AccountID, date, booking.ID, entryID, actorID, approvedAt); err != nil {
			return err
		}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE bookings SET status = $1, ledger_entry_id = $2, approved_at = $3
		WHERE id = $4 AND status = $5`,
		models.BookingApproved, entryID, approvedAt, booking.ID, models.BookingPending)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: booking %s left Pending concurrently", ErrInvalidTransition, booking.ID)
	}

	return tx.Commit()
}

func (s *BookingService) compensateApproval(ctx context.Context, booking *models.Booking,
	entryID string, units int64, ref models.Reference, actorID string, cause error) error {
	if _, compErr := s.engine.Compensate(ctx, entryID, actorID); compErr != nil {
		failure := &CompensationFailureError{
			AccountID: booking.AccountID,
			EntryID:   entryID,
			Delta:     -units,
			Reference: ref.Type + ":" + ref.ID,
			Err:       compErr,
		}
		log.Printf("[BOOKING] ALERT compensation failed: account=%s entry=%s booking=%s cause=%v comp=%v",
			booking.AccountID, entryID, booking.ID, cause, compErr)
		return failure
	}
	log.Printf("[BOOKING] Approval of %s failed after debit, compensated entry %s: %v", booking.ID, entryID, cause)
	return fmt.Errorf("booking approval failed, debit compensated: %w", cause)
}

// Reject moves a Pending booking to Rejected. The booking was never
// debited, so there is no ledger interaction.
func (s *BookingService) Reject(ctx context.Context, bookingID, actorID, reason string) (*models.Booking, error) {
	booking, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingPending {
		return nil, fmt.Errorf("%w: cannot reject booking in status %s", ErrInvalidTransition, booking.Status)
	}
	if err := s.setStatus(ctx, bookingID, models.BookingPending, models.BookingRejected); err != nil {
		return nil, err
	}
	booking.Status = models.BookingRejected
	log.Printf("[BOOKING] Rejected %s by %s: %s", bookingID, actorID, reason)
	return booking, nil
}

// Cancel terminates a booking. Pending bookings just flip status. An
// Approved booking whose dates are all still in the future gets a full
// compensating credit first; its pre-created admission rows are removed
// in the same transaction as the status change. Partially elapsed
// bookings are refused: the caller must compute a prorated refund and
// apply it through the credit engine.
func (s *BookingService) Cancel(ctx context.Context, bookingID, actorID string) (*models.Booking, error) {
	booking, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	switch booking.Status {
	case models.BookingPending:
		if err := s.setStatus(ctx, bookingID, models.BookingPending, models.BookingCancelled); err != nil {
			return nil, err
		}

	case models.BookingApproved:
		today := time.Now().Format(dayFormat)
		for _, date := range booking.Dates {
			if date <= today {
				return nil, ErrBookingElapsed
			}
		}
		if booking.LedgerEntryID == nil {
			return nil, fmt.Errorf("approved booking %s has no ledger entry", bookingID)
		}
		// Compensate first: if the status flip below fails, a retried
		// cancel replays the compensation key instead of refunding twice.
		if _, err := s.engine.Compensate(ctx, *booking.LedgerEntryID, actorID); err != nil {
			return nil, err
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM admission_events WHERE booking_id = $1`, bookingID); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE bookings SET status = $1 WHERE id = $2 AND status = $3`,
			models.BookingCancelled, bookingID, models.BookingApproved); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: cannot cancel booking in status %s", ErrInvalidTransition, booking.Status)
	}

	booking.Status = models.BookingCancelled
	log.Printf("[BOOKING] Cancelled %s by %s", bookingID, actorID)
	return booking, nil
}

// Complete marks an Approved booking whose dates have all elapsed as
// Completed. No ledger interaction; the credits were consumed at
// approval.
func (s *BookingService) Complete(ctx context.Context, bookingID, actorID string) (*models.Booking, error) {
	booking, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingApproved {
		return nil, fmt.Errorf("%w: cannot complete booking in status %s", ErrInvalidTransition, booking.Status)
	}
	if err := s.setStatus(ctx, bookingID, models.BookingApproved, models.BookingCompleted); err != nil {
		return nil, err
	}
	booking.Status = models.BookingCompleted
	log.Printf("[BOOKING] Completed %s by %s", bookingID, actorID)
	return booking, nil
}

func (s *BookingService) setStatus(ctx context.Context, bookingID, from, to string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET status = $1 WHERE id = $2 AND status = $3`, to, bookingID, from)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: booking %s no longer %s", ErrInvalidTransition, bookingID, from)
	}
	return nil
}

func (s *BookingService) countAdmissions(ctx context.Context, date string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM admission_events WHERE admission_date = $1`, date).Scan(&count)
	return count, err
}

// normalizeDates validates, dedupes and sorts a requested date set.
func normalizeDates(dates []string) ([]string, error) {
	if len(dates) == 0 {
		return nil, fmt.Errorf("booking requires at least one date")
	}
	seen := make(map[string]bool, len(dates))
	normalized := make([]string, 0, len(dates))
	for _, date := range dates {
		if _, err := time.Parse(dayFormat, date); err != nil {
			return nil, fmt.Errorf("invalid booking date %q: %w", date, err)
		}
		if seen[date] {
			continue
		}
		seen[date] = true
		normalized = append(normalized, date)
	}
	sort.Strings(normalized)
	return normalized, nil
}
