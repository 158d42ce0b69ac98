package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/pawledger/backend/internal/models"
)

// Calendar-day format shared by bookings and admissions.
const dayFormat = "2006-01-02"

// AdmissionService gates immediate check-ins on the credit balance. A
// successful admission is exactly one debit plus one admission event;
// the caller never observes a debited-but-unadmitted state.
type AdmissionService struct {
	db     *sql.DB
	store  *LedgerStore
	engine *CreditEngine
}

func NewAdmissionService(db *sql.DB, store *LedgerStore, engine *CreditEngine) *AdmissionService {
	return &AdmissionService{db: db, store: store, engine: engine}
}

// CheckAdmission reports whether the account could be admitted right
// now. Pure read, no side effects.
func (s *AdmissionService) CheckAdmission(ctx context.Context, accountID string, unitsRequired int64) (bool, int64, error) {
	balance, err := s.store.GetBalance(ctx, accountID)
	if err != nil {
		return false, 0, err
	}
	return balance >= unitsRequired, balance, nil
}

// Admit debits the account and records the admission event. On
// InsufficientBalance the admission is refused with no side effects. If
// the event insert fails after the debit committed, the debit is
// compensated before the error is propagated.
func (s *AdmissionService) Admit(ctx context.Context, accountID, date string, unitsRequired int64,
	actorID, idempotencyKey string) (*models.AdmissionEvent, *AppendResult, error) {
	return s.admit(ctx, accountID, date, unitsRequired, actorID, idempotencyKey, false)
}

// ForceAdmit admits even when the balance cannot cover it, driving the
// balance negative. The debit is still written to the ledger so the
// override stays auditable; there is no silent bypass.
func (s *AdmissionService) ForceAdmit(ctx context.Context, accountID, date string, unitsRequired int64,
	actorID, idempotencyKey string) (*models.AdmissionEvent, *AppendResult, error) {
	return s.admit(ctx, accountID, date, unitsRequired, actorID, idempotencyKey, true)
}

func (s *AdmissionService) admit(ctx context.Context, accountID, date string, unitsRequired int64,
	actorID, idempotencyKey string, allowNegative bool) (*models.AdmissionEvent, *AppendResult, error) {
	if _, err := time.Parse(dayFormat, date); err != nil {
		return nil, nil, fmt.Errorf("invalid admission date %q: %w", date, err)
	}
	if unitsRequired <= 0 {
		return nil, nil, fmt.Errorf("units required must be positive, got %d", unitsRequired)
	}

	event := &models.AdmissionEvent{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Date:      date,
		ActorID:   actorID,
		CreatedAt: time.Now(),
	}
	if idempotencyKey == "" {
		idempotencyKey = event.ID
	}

	ref := models.Reference{Type: models.ReasonAdmission, ID: event.ID}
	debit, err := s.engine.Debit(ctx, accountID, unitsRequired, actorID, ref, idempotencyKey, allowNegative)
	if err != nil {
		return nil, nil, err
	}
	event.LedgerEntryID = debit.EntryID

	if debit.Replayed {
		// A retried call: the original admission row already consumes
		// the replayed debit, so return it instead of inserting a
		// second physical admission.
		existing, lookupErr := s.eventByEntry(ctx, debit.EntryID)
		if lookupErr == nil {
			return existing, debit, nil
		}
		if !errors.Is(lookupErr, sql.ErrNoRows) {
			return nil, nil, lookupErr
		}
		// Replayed debit with no event row: the prior attempt died
		// between the debit commit and the insert. Fall through and
		// let the insert below heal it.
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO admission_events (id, account_id, admission_date, booking_id, ledger_entry_id, actor_id, created_at)
		VALUES ($1, $2, $3, NULL, $4, $5, $6)`,
		event.ID, event.AccountID, event.Date, event.LedgerEntryID, event.ActorID, event.CreatedAt); err != nil {
		return nil, nil, s.compensateDebit(ctx, accountID, debit, unitsRequired, actorID, ref, err)
	}

	return event, debit, nil
}

func (s *AdmissionService) eventByEntry(ctx context.Context, entryID string) (*models.AdmissionEvent, error) {
	var e models.AdmissionEvent
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, admission_date, booking_id, ledger_entry_id, actor_id, created_at
		FROM admission_events WHERE ledger_entry_id = $1`, entryID).
		Scan(&e.ID, &e.AccountID, &e.Date, &e.BookingID, &e.LedgerEntryID, &e.ActorID, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Release ends an admission. By default the consumed credit is kept; a
// caller-computed refund is credited idempotently off the event id.
func (s *AdmissionService) Release(ctx context.Context, admissionEventID string, refundUnits int64, actorID string) (*AppendResult, error) {
	var accountID string
	err := s.db.QueryRowContext(ctx,
		`SELECT account_id FROM admission_events WHERE id = $1`, admissionEventID).Scan(&accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAdmissionNotFound
	}
	if err != nil {
		return nil, err
	}

	if refundUnits <= 0 {
		return nil, nil
	}
	ref := models.Reference{Type: models.ReasonManualAdjustment, ID: admissionEventID}
	return s.engine.Credit(ctx, accountID, refundUnits, actorID, ref, admissionEventID+":release")
}

// compensateDebit undoes a committed debit whose dependent write failed.
// If the compensation itself fails, the ledger and the admission record
// are out of sync until reconciled; that is logged and surfaced as
// CompensationFailureError.
func (s *AdmissionService) compensateDebit(ctx context.Context, accountID string, debit *AppendResult,
	units int64, actorID string, ref models.Reference, cause error) error {
	if _, compErr := s.engine.Compensate(ctx, debit.EntryID, actorID); compErr != nil {
		failure := &CompensationFailureError{
			AccountID: accountID,
			EntryID:   debit.EntryID,
			Delta:     -units,
			Reference: ref.Type + ":" + ref.ID,
			Err:       compErr,
		}
		log.Printf("[ADMISSION] ALERT compensation failed: account=%s entry=%s ref=%s:%s cause=%v comp=%v",
			accountID, debit.EntryID, ref.Type, ref.ID, cause, compErr)
		return failure
	}
	log.Printf("[ADMISSION] Admission insert failed after debit, compensated entry %s: %v", debit.EntryID, cause)
	return fmt.Errorf("admission record failed, debit compensated: %w", cause)
}
