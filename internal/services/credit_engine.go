package services

import (
	"context"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"

	"github.com/pawledger/backend/internal/models"
)

// CreditEngine exposes debit, credit and compensate on top of the ledger
// store. It is the only component other callers go through to mutate a
// balance; the admission gate, the booking workflow and the payment
// intake adapter all funnel here.
type CreditEngine struct {
	store *LedgerStore
	redis *redis.Client
}

// NewCreditEngine creates the engine. redisClient may be nil; the cached
// balance is then simply never populated or invalidated.
func NewCreditEngine(store *LedgerStore, redisClient *redis.Client) *CreditEngine {
	return &CreditEngine{store: store, redis: redisClient}
}

// Debit removes amount credits. The balance read and the write happen in
// one storage transaction, so the guard against going negative cannot
// race a concurrent mutation. A replayed idempotency key returns the
// original result without a second entry.
func (e *CreditEngine) Debit(ctx context.Context, accountID string, amount int64, actorID string,
	ref models.Reference, idempotencyKey string, allowNegative bool) (*AppendResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	result, err := e.store.Append(ctx, AppendParams{
		AccountID:      accountID,
		Delta:          -amount,
		Reason:         ref.Type,
		Reference:      ref,
		ActorID:        actorID,
		IdempotencyKey: idempotencyKey,
		AllowNegative:  allowNegative,
	})
	if err != nil {
		return nil, err
	}
	e.invalidateBalance(ctx, accountID)
	return result, nil
}

// Credit adds amount credits. Fails only if the account does not exist.
func (e *CreditEngine) Credit(ctx context.Context, accountID string, amount int64, actorID string,
	ref models.Reference, idempotencyKey string) (*AppendResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	result, err := e.store.Append(ctx, AppendParams{
		AccountID:      accountID,
		Delta:          amount,
		Reason:         ref.Type,
		Reference:      ref,
		ActorID:        actorID,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	e.invalidateBalance(ctx, accountID)
	return result, nil
}

// Compensate undoes a prior entry with an opposite-sign entry that
// references it. The key is derived from the original entry's key, so
// repeated compensation attempts replay instead of double-applying. The
// original entry itself is never touched.
func (e *CreditEngine) Compensate(ctx context.Context, originalEntryID, actorID string) (*AppendResult, error) {
	original, err := e.store.GetEntry(ctx, originalEntryID)
	if err != nil {
		return nil, err
	}
	result, err := e.store.Append(ctx, AppendParams{
		AccountID:      original.AccountID,
		Delta:          -original.Delta,
		Reason:         models.ReasonCompensation,
		Reference:      models.Reference{Type: "entry", ID: original.ID},
		ActorID:        actorID,
		IdempotencyKey: original.IdempotencyKey + ":compensate",
		AllowNegative:  true,
	})
	if err != nil {
		return nil, err
	}
	e.invalidateBalance(ctx, original.AccountID)
	return result, nil
}

func balanceCacheKey(accountID string) string {
	return "balance:" + accountID
}

func (e *CreditEngine) invalidateBalance(ctx context.Context, accountID string) {
	if e.redis == nil {
		return
	}
	if err := e.redis.Del(ctx, balanceCacheKey(accountID)).Err(); err != nil {
		log.Printf("[LEDGER] Failed to invalidate balance cache for %s: %v", accountID, err)
	}
}
