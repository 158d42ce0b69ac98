package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/pawledger/backend/internal/models"
)

// PaymentEvent is a pre-verified payment-confirmation event from the
// processor. Signature checking happens upstream; by the time an event
// reaches the adapter it is trusted but possibly redelivered.
type PaymentEvent struct {
	ExternalID string `json:"external_id" validate:"required"`
	Status     string `json:"status" validate:"required"`
	AccountID  string `json:"account_id"`
	Credits    int64  `json:"credits"`
}

// PaymentIntakeService converts confirmed payment events into idempotent
// credit grants. The external event id keys both the audit row and the
// ledger entry, so at-least-once delivery applies each event exactly once.
type PaymentIntakeService struct {
	db        *sql.DB
	engine    *CreditEngine
	validator *ValidationHelper
}

func NewPaymentIntakeService(db *sql.DB, engine *CreditEngine) *PaymentIntakeService {
	return &PaymentIntakeService{
		db:        db,
		engine:    engine,
		validator: NewValidationHelper(),
	}
}

// OnPaymentEvent processes one event. Unrecognized statuses are rejected
// with a distinct error, never dropped, so an upstream retry is not
// mistaken for "already handled".
func (s *PaymentIntakeService) OnPaymentEvent(ctx context.Context, event PaymentEvent) (*models.PaymentRecord, error) {
	if err := s.validator.ValidateStruct(&event); err != nil {
		return nil, err
	}

	switch event.Status {
	case models.PaymentSucceeded:
		return s.applyGrant(ctx, event)
	case models.PaymentFailed:
		record := &models.PaymentRecord{
			ExternalEventID: event.ExternalID,
			Status:          models.PaymentFailed,
			Credits:         event.Credits,
			CreatedAt:       time.Now(),
		}
		if err := s.insertRecord(ctx, record); err != nil {
			return nil, err
		}
		log.Printf("[PAYMENT] Recorded failed event %s", event.ExternalID)
		return record, nil
	default:
		return nil, fmt.Errorf("%w: %q (event %s)", ErrUnknownPaymentStatus, event.Status, event.ExternalID)
	}
}

func (s *PaymentIntakeService) applyGrant(ctx context.Context, event PaymentEvent) (*models.PaymentRecord, error) {
	if event.AccountID == "" {
		return nil, fmt.Errorf("succeeded event %s has no target account", event.ExternalID)
	}
	if event.Credits <= 0 {
		return nil, fmt.Errorf("succeeded event %s has non-positive credits %d", event.ExternalID, event.Credits)
	}

	// Ledger first: the credit is keyed by the external id, so a replay
	// after a crashed run is a no-op and a retried insert below heals
	// the audit row.
	ref := models.Reference{Type: models.ReasonPaymentGrant, ID: event.ExternalID}
	grant, err := s.engine.Credit(ctx, event.AccountID, event.Credits, "payment-processor", ref, event.ExternalID)
	if err != nil {
		return nil, err
	}

	record := &models.PaymentRecord{
		ExternalEventID: event.ExternalID,
		Status:          models.PaymentSucceeded,
		Credits:         event.Credits,
		LedgerEntryID:   &grant.EntryID,
		CreatedAt:       time.Now(),
	}
	if err := s.insertRecord(ctx, record); err != nil {
		return nil, err
	}

	if grant.Replayed {
		log.Printf("[PAYMENT] Replayed event %s, no balance change", event.ExternalID)
	} else {
		log.Printf("[PAYMENT] Granted %d credits to %s from event %s, balance %d",
			event.Credits, event.AccountID, event.ExternalID, grant.NewBalance)
	}
	return record, nil
}

// insertRecord writes the audit row. The primary key on the external
// event id makes replays no-ops.
func (s *PaymentIntakeService) insertRecord(ctx context.Context, record *models.PaymentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_records (external_event_id, status, credits, ledger_entry_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_event_id) DO NOTHING`,
		record.ExternalEventID, record.Status, record.Credits, record.LedgerEntryID, record.CreatedAt)
	return err
}
