package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/spf13/viper"

	"github.com/pawledger/backend/internal/models"
)

// Postgres error codes surfaced by lib/pq.
const (
	pgLockNotAvailable = "55P03"
	pgUniqueViolation  = "23505"
)

// LedgerStore is the sole writer of balance state. Every balance change
// funnels through Append: one storage transaction that locks the account
// row, replays idempotently, inserts the immutable entry and updates the
// materialized balance. No other component writes accounts.balance.
type LedgerStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	viper.SetDefault("database.lock_timeout", 3*time.Second)
	return &LedgerStore{
		db:          db,
		lockTimeout: viper.GetDuration("database.lock_timeout"),
	}
}

// AppendParams describes one prospective ledger entry.
type AppendParams struct {
	AccountID      string
	Delta          int64
	Reason         string
	Reference      models.Reference
	ActorID        string
	IdempotencyKey string

	// AllowNegative skips the negative-balance guard on debits.
	// Used by forced admissions and compensating entries.
	AllowNegative bool
}

// AppendResult reports the committed outcome of an append. Replayed is
// true when (accountId, idempotencyKey) had already been applied; the
// prior entry id and the unchanged balance are returned in that case.
type AppendResult struct {
	EntryID    string
	NewBalance int64
	Replayed   bool
}

// Append runs AppendTx in its own transaction.
//
// Concurrency contract: the FOR UPDATE lock on the account row
// linearizes all balance mutations per account. Two concurrent appends
// never both observe the pre-mutation balance; the second always sees
// the first's committed result before deciding.
func (s *LedgerStore) Append(ctx context.Context, p AppendParams) (*AppendResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result, err := s.AppendTx(ctx, tx, p)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// AppendTx appends inside the caller's transaction, so a caller can
// combine the balance mutation with its own dependent writes.
func (s *LedgerStore) AppendTx(ctx context.Context, tx *sql.Tx, p AppendParams) (*AppendResult, error) {
	// Bound the row-lock wait for this transaction only.
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return nil, err
	}

	balance, err := s.lockAccount(ctx, tx, p.AccountID)
	if err != nil {
		return nil, err
	}

	// Idempotent replay: same account + key returns the prior result,
	// no new entry, no balance change. Checked under the row lock so
	// concurrent replays cannot both pass.
	var priorID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM ledger_entries WHERE account_id = $1 AND idempotency_key = $2`,
		p.AccountID, p.IdempotencyKey).Scan(&priorID)
	if err == nil {
		return &AppendResult{EntryID: priorID, NewBalance: balance, Replayed: true}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if p.Delta < 0 && !p.AllowNegative && balance+p.Delta < 0 {
		return nil, ErrInsufficientBalance
	}

	entryID := uuid.New().String()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, delta, reason, reference_type, reference_id, actor_id, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entryID, p.AccountID, p.Delta, p.Reason, p.Reference.Type, p.Reference.ID,
		p.ActorID, p.IdempotencyKey, time.Now()); err != nil {
		return nil, translatePQError(err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts SET balance = balance + $1, updated_at = $2 WHERE id = $3`,
		p.Delta, time.Now(), p.AccountID); err != nil {
		return nil, err
	}

	return &AppendResult{EntryID: entryID, NewBalance: balance + p.Delta}, nil
}

func (s *LedgerStore) lockAccount(ctx context.Context, tx *sql.Tx, accountID string) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, translatePQError(err)
	}
	return balance, nil
}

// GetBalance is a point read of the materialized balance.
func (s *LedgerStore) GetBalance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// GetHistory returns an account's entries, newest first. Audit and
// reporting only; the balance is never recomputed from history.
func (s *LedgerStore) GetHistory(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, delta, reason, reference_type, reference_id, actor_id, idempotency_key, created_at
		FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Delta, &e.Reason,
			&e.Reference.Type, &e.Reference.ID, &e.ActorID, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetEntry fetches one ledger entry by id.
func (s *LedgerStore) GetEntry(ctx context.Context, entryID string) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, delta, reason, reference_type, reference_id, actor_id, idempotency_key, created_at
		FROM ledger_entries WHERE id = $1`, entryID).
		Scan(&e.ID, &e.AccountID, &e.Delta, &e.Reason,
			&e.Reference.Type, &e.Reference.ID, &e.ActorID, &e.IdempotencyKey, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateAccount registers a new zero-balance account for a pet.
func (s *LedgerStore) CreateAccount(ctx context.Context, petName, ownerName string) (*models.Account, error) {
	account := &models.Account{
		ID:        uuid.New().String(),
		PetName:   petName,
		OwnerName: ownerName,
		CreatedAt: time.Now(),
	}
	account.UpdatedAt = account.CreatedAt
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, pet_name, owner_name, balance, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5)`,
		account.ID, account.PetName, account.OwnerName, account.CreatedAt, account.UpdatedAt); err != nil {
		return nil, err
	}
	return account, nil
}

// translatePQError maps lib/pq lock-timeout failures to ErrBusy so
// callers can retry with backoff.
func translatePQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgLockNotAvailable {
		return ErrBusy
	}
	return err
}
