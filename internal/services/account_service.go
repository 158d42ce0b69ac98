package services

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/pawledger/backend/internal/models"
)

const balanceCacheTTL = 30 * time.Second

// AccountService is the read/registration surface around the ledger:
// account creation, balance enquiry and history. Balance reads go
// through a short-lived redis cache that the credit engine invalidates
// on every mutation.
type AccountService struct {
	store *LedgerStore
	redis *redis.Client
}

func NewAccountService(store *LedgerStore, redisClient *redis.Client) *AccountService {
	return &AccountService{store: store, redis: redisClient}
}

// Register creates a zero-balance account for a newly enrolled pet.
func (s *AccountService) Register(ctx context.Context, petName, ownerName string) (*models.Account, error) {
	return s.store.CreateAccount(ctx, petName, ownerName)
}

// GetBalance returns the materialized balance, served from cache when
// fresh.
func (s *AccountService) GetBalance(ctx context.Context, accountID string) (int64, error) {
	if s.redis != nil {
		cached, err := s.redis.Get(ctx, balanceCacheKey(accountID)).Result()
		if err == nil {
			if balance, parseErr := strconv.ParseInt(cached, 10, 64); parseErr == nil {
				return balance, nil
			}
		} else if err != redis.Nil {
			log.Printf("[ACCOUNT] Balance cache read failed for %s: %v", accountID, err)
		}
	}

	balance, err := s.store.GetBalance(ctx, accountID)
	if err != nil {
		return 0, err
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, balanceCacheKey(accountID),
			strconv.FormatInt(balance, 10), balanceCacheTTL).Err(); err != nil {
			log.Printf("[ACCOUNT] Balance cache write failed for %s: %v", accountID, err)
		}
	}
	return balance, nil
}

// GetHistory returns the account's ledger entries, newest first.
func (s *AccountService) GetHistory(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error) {
	return s.store.GetHistory(ctx, accountID, limit)
}
