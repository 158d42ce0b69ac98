package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/pawledger/backend/internal/models"
)

func newBookingTest(t *testing.T) (*BookingService, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	store := NewLedgerStore(db)
	service := NewBookingService(db, store, NewCreditEngine(store, nil))
	return service, mock, func() { db.Close() }
}

func expectGetBooking(mock sqlmock.Sqlmock, id, accountID, status string, dates []byte, entryID any) {
	mock.ExpectQuery("SELECT id, account_id, dates, status, notes, ledger_entry_id, created_at, approved_at FROM bookings WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "dates", "status", "notes", "ledger_entry_id", "created_at", "approved_at"}).
			AddRow(id, accountID, dates, status, "", entryID, time.Now(), nil))
}

func expectDateCount(mock sqlmock.Sqlmock, date string, count int) {
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM admission_events WHERE admission_date = \\$1").
		WithArgs(date).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(count))
}

func TestBookingService_Submit(t *testing.T) {
	service, mock, closeDB := newBookingTest(t)
	defer closeDB()

	t.Run("creates pending booking with normalized dates", func(t *testing.T) {
		mock.ExpectQuery("SELECT balance FROM accounts WHERE id = \\$1").
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(5))
		mock.ExpectExec("INSERT INTO bookings").
			WithArgs(sqlmock.AnyArg(), "acct-1", sqlmock.AnyArg(), "PENDING", "weekend stay", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		booking, err := service.Submit(context.Background(), "acct-1",
			[]string{"2026-09-03", "2026-09-01", "2026-09-03", "2026-09-02"}, "weekend stay")
		assert.NoError(t, err)
		assert.Equal(t, models.BookingPending, booking.Status)
		assert.Equal(t, []string{"2026-09-01", "2026-09-02", "2026-09-03"}, booking.Dates)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectQuery("SELECT balance FROM accounts WHERE id = \\$1").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := service.Submit(context.Background(), "ghost", []string{"2026-09-01"}, "")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("rejects empty and malformed date sets", func(t *testing.T) {
		_, err := service.Submit(context.Background(), "acct-1", nil, "")
		assert.Error(t, err)
		_, err = service.Submit(context.Background(), "acct-1", []string{"tomorrow"}, "")
		assert.Error(t, err)
	})
}

func TestBookingService_Approve(t *testing.T) {
	service, mock, closeDB := newBookingTest(t)
	defer closeDB()
	ctx := context.Background()
	dates := []byte("{2026-09-01,2026-09-02,2026-09-03}")

	t.Run("approves within capacity and balance", func(t *testing.T) {
		// Balance 5, three dates: debit of 3 leaves 2, one admission
		// row per date, booking flips to Approved.
		expectGetBooking(mock, "bk-1", "acct-1", models.BookingPending, dates, nil)
		expectDateCount(mock, "2026-09-01", 4)
		expectDateCount(mock, "2026-09-02", 0)
		expectDateCount(mock, "2026-09-03", 12)

		mock.ExpectBegin()
		expectLockedBalance(mock, "acct-1", 5)
		expectNoReplay(mock, "acct-1", "bk-1")
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), "acct-1", int64(-3), "booking", "booking", "bk-1", "staff-1", "bk-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts SET balance = balance \\+ \\$1").
			WithArgs(int64(-3), sqlmock.AnyArg(), "acct-1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		mock.ExpectBegin()
		for _, date := range []string{"2026-09-01", "2026-09-02", "2026-09-03"} {
			mock.ExpectExec("INSERT INTO admission_events").
				WithArgs(sqlmock.AnyArg(), "acct-1", date, "bk-1", sqlmock.AnyArg(), "staff-1", sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))
		}
		mock.ExpectExec("UPDATE bookings SET status = \\$1, ledger_entry_id = \\$2, approved_at = \\$3").
			WithArgs(models.BookingApproved, sqlmock.AnyArg(), sqlmock.AnyArg(), "bk-1", models.BookingPending).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		booking, err := service.Approve(ctx, "bk-1", "staff-1", "")
		assert.NoError(t, err)
		assert.Equal(t, models.BookingApproved, booking.Status)
		assert.NotNil(t, booking.LedgerEntryID)
		assert.NotNil(t, booking.ApprovedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance leaves booking pending with zero rows", func(t *testing.T) {
		// Balance 2, three dates: the debit aborts and nothing else runs.
		expectGetBooking(mock, "bk-1", "acct-1", models.BookingPending, dates, nil)
		expectDateCount(mock, "2026-09-01", 0)
		expectDateCount(mock, "2026-09-02", 0)
		expectDateCount(mock, "2026-09-03", 0)

		mock.ExpectBegin()
		expectLockedBalance(mock, "acct-1", 2)
		expectNoReplay(mock, "acct-1", "bk-1")
		mock.ExpectRollback()

		_, err := service.Approve(ctx, "bk-1", "staff-1", "")
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("any full date aborts before any state change", func(t *testing.T) {
		expectGetBooking(mock, "bk-1", "acct-1", models.BookingPending, dates, nil)
		expectDateCount(mock, "2026-09-01", 20)
		expectDateCount(mock, "2026-09-02", 3)
		expectDateCount(mock, "2026-09-03", 20)

		_, err := service.Approve(ctx, "bk-1", "staff-1", "")
		var capErr *CapacityExceededError
		assert.True(t, errors.As(err, &capErr))
		assert.Equal(t, []string{"2026-09-01", "2026-09-03"}, capErr.Dates)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("admission insert failure compensates the debit", func(t *testing.T) {
		expectGetBooking(mock, "bk-1", "acct-1", models.BookingPending, dates, nil)
		expectDateCount(mock, "2026-09-01", 0)
		expectDateCount(mock, "2026-09-02", 0)
		expectDateCount(mock, "2026-09-03", 0)

		mock.ExpectBegin()
		expectLockedBalance(mock, "acct-1", 5)
		expectNoReplay(mock, "acct-1", "bk-1")
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), "acct-1", int64(-3), "booking", "booking", "bk-1", "staff-1", "bk-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts SET balance = balance \\+ \\$1").
			WithArgs(int64(-3), sqlmock.AnyArg(), "acct-1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO admission_events").
			WillReturnError(fmt.Errorf("insert failed"))
		mock.ExpectRollback()

		// Compensation restores the 3 units.
		mock.ExpectQuery("SELECT id, account_id, delta, reason, reference_type, reference_id, actor_id, idempotency_key, created_at FROM ledger_entries WHERE id = \\$1").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "delta", "reason", "reference_type", "reference_id", "actor_id", "idempotency_key", "created_at"}).
				AddRow("entry-debit", "acct-1", -3, "booking", "booking", "bk-1", "staff-1", "bk-1", time.Now()))
		mock.ExpectBegin()
		expectLockedBalance(mock, "acct-1", 2)
		expectNoReplay(mock, "acct-1", "bk-1:compensate")
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), "acct-1", int64(3), "compensation", "entry", "entry-debit", "staff-1", "bk-1:compensate", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts SET balance = balance \\+ \\$1").
			WithArgs(int64(3), sqlmock.AnyArg(), "acct-1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		_, err := service.Approve(ctx, "bk-1", "staff-1", "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "debit compensated")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("losing a concurrent approval race does not compensate the winner", func(t *testing.T) {
		// Both approvals read the booking while Pending. The loser's
		// debit replays the winner's entry, its status flip affects zero
		// rows, and a re-read shows the booking Approved. The replayed
		// entry backs the winner's admission rows, so no compensation
		// may be issued.
		expectGetBooking(mock, "bk-1", "acct-1", models.BookingPending, dates, nil)
		expectDateCount(mock, "2026-09-01", 0)
		expectDateCount(mock, "2026-09-02", 0)
		expectDateCount(mock, "2026-09-03", 0)

		mock.ExpectBegin()
		expectLockedBalance(mock, "acct-1", 2)
		mock.ExpectQuery("SELECT id FROM ledger_entries WHERE account_id = \\$1 AND idempotency_key = \\$2").
			WithArgs("acct-1", "bk-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("entry-debit"))
		mock.ExpectCommit()

		mock.ExpectBegin()
		for _, date := range []string{"2026-09-01", "2026-09-02", "2026-09-03"} {
			mock.ExpectExec("INSERT INTO admission_events").
				WithArgs(sqlmock.AnyArg(), "acct-1", date, "bk-1", "entry-debit", "staff-2", sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))
		}
		mock.ExpectExec("UPDATE bookings SET status = \\$1, ledger_entry_id = \\$2, approved_at = \\$3").
			WithArgs(models.BookingApproved, "entry-debit", sqlmock.AnyArg(), "bk-1", models.BookingPending).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		expectGetBooking(mock, "bk-1", "acct-1", models.BookingApproved, dates, "entry-debit")

		_, err := service.Approve(ctx, "bk-1", "staff-2", "")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-pending booking cannot be approved", func(t *testing.T) {
		expectGetBooking(mock, "bk-1", "acct-1", models.BookingApproved, dates, nil)

		_, err := service.Approve(ctx, "bk-1", "staff-1", "")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestBookingService_Reject(t *testing.T) {
	service, mock, closeDB := newBookingTest(t)
	defer closeDB()
	dates := []byte("{2026-09-01}")

	t.Run("pending booking is rejected without ledger interaction", func(t *testing.T) {
		expectGetBooking(mock, "bk-1", "acct-1", models.BookingPending, dates, nil)
		mock.ExpectExec("UPDATE bookings SET status = \\$1 WHERE id = \\$2 AND status = \\$3").
			WithArgs(models.BookingRejected, "bk-1", models.BookingPending).
			WillReturnResult(sqlmock.NewResult(1, 1))

		booking, err := service.Reject(context.Background(), "bk-1", "staff-1", "no space")
		assert.NoError(t, err)
		assert.Equal(t, models.BookingRejected, booking.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("approved booking cannot be rejected", func(t *testing.T) {
		expectGetBooking(mock, "bk-1", "acct-1", models.BookingApproved, dates, nil)

		_, err := service.Reject(context.Background(), "bk-1", "staff-1", "")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestBookingService_Cancel(t *testing.T) {
	service, mock, closeDB := newBookingTest(t)
	defer closeDB()
	ctx := context.Background()

	t.Run("pending cancellation has no ledger interaction", func(t *testing.T) {
		expectGetBooking(mock, "bk-1", "acct-1", models.BookingPending, []byte("{2099-01-01}"), nil)
		mock.ExpectExec("UPDATE bookings SET status = \\$1 WHERE id = \\$2 AND status = \\$3").
			WithArgs(models.BookingCancelled, "bk-1", models.BookingPending).
			WillReturnResult(sqlmock.NewResult(1, 1))

		booking, err := service.Cancel(ctx, "bk-1", "owner-1")
		assert.NoError(t, err)
		assert.Equal(t, models.BookingCancelled, booking.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("approved future booking is compensated in full", func(t *testing.T) {
		// Approved 3-date booking, debit entry-1 of 3 units: cancelling
		// restores the pre-approval balance and removes the admission rows.
		expectGetBooking(mock, "bk-1", "acct-1", models.BookingApproved,
			[]byte("{2099-01-02,2099-01-03,2099-01-04}"), "entry-1")

		mock.ExpectQuery("SELECT id, account_id, delta, reason, reference_type, reference_id, actor_id, idempotency_key, created_at FROM ledger_entries WHERE id = \\$1").
			WithArgs("entry-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "delta", "reason", "reference_type", "reference_id", "actor_id", "idempotency_key", "created_at"}).
				AddRow("entry-1", "acct-1", -3, "booking", "booking", "bk-1", "staff-1", "bk-1", time.Now()))
		mock.ExpectBegin()
		expectLockedBalance(mock, "acct-1", 2)
		expectNoReplay(mock, "acct-1", "bk-1:compensate")
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), "acct-1", int64(3), "compensation", "entry", "entry-1", "owner-1", "bk-1:compensate", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts SET balance = balance \\+ \\$1").
			WithArgs(int64(3), sqlmock.AnyArg(), "acct-1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM admission_events WHERE booking_id = \\$1").
			WithArgs("bk-1").
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectExec("UPDATE bookings SET status = \\$1 WHERE id = \\$2 AND status = \\$3").
			WithArgs(models.BookingCancelled, "bk-1", models.BookingApproved).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		booking, err := service.Cancel(ctx, "bk-1", "owner-1")
		assert.NoError(t, err)
		assert.Equal(t, models.BookingCancelled, booking.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("elapsed dates require caller-computed refund", func(t *testing.T) {
		expectGetBooking(mock, "bk-1", "acct-1", models.BookingApproved,
			[]byte("{2020-01-01,2099-01-02}"), "entry-1")

		_, err := service.Cancel(ctx, "bk-1", "owner-1")
		assert.ErrorIs(t, err, ErrBookingElapsed)
	})

	t.Run("terminal booking cannot be cancelled", func(t *testing.T) {
		expectGetBooking(mock, "bk-1", "acct-1", models.BookingCompleted, []byte("{2026-09-01}"), nil)

		_, err := service.Cancel(ctx, "bk-1", "owner-1")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestBookingService_Complete(t *testing.T) {
	service, mock, closeDB := newBookingTest(t)
	defer closeDB()

	t.Run("approved booking completes", func(t *testing.T) {
		expectGetBooking(mock, "bk-1", "acct-1", models.BookingApproved, []byte("{2026-08-01}"), "entry-1")
		mock.ExpectExec("UPDATE bookings SET status = \\$1 WHERE id = \\$2 AND status = \\$3").
			WithArgs(models.BookingCompleted, "bk-1", models.BookingApproved).
			WillReturnResult(sqlmock.NewResult(1, 1))

		booking, err := service.Complete(context.Background(), "bk-1", "staff-1")
		assert.NoError(t, err)
		assert.Equal(t, models.BookingCompleted, booking.Status)
	})

	t.Run("pending booking cannot complete", func(t *testing.T) {
		expectGetBooking(mock, "bk-1", "acct-1", models.BookingPending, []byte("{2026-08-01}"), nil)

		_, err := service.Complete(context.Background(), "bk-1", "staff-1")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestNormalizeDates(t *testing.T) {
	t.Run("dedupes and sorts", func(t *testing.T) {
		dates, err := normalizeDates([]string{"2026-09-02", "2026-09-01", "2026-09-02"})
		assert.NoError(t, err)
		assert.Equal(t, []string{"2026-09-01", "2026-09-02"}, dates)
	})

	t.Run("rejects empty set", func(t *testing.T) {
		_, err := normalizeDates(nil)
		assert.Error(t, err)
	})

	t.Run("rejects malformed date", func(t *testing.T) {
		_, err := normalizeDates([]string{"01/09/2026"})
		assert.Error(t, err)
	})
}
