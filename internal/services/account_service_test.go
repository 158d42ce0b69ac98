package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestAccountService_GetBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	store := NewLedgerStore(db)
	ctx := context.Background()

	t.Run("serves from cache when fresh", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewAccountService(store, redisClient)

		redisMock.ExpectGet("balance:acct-1").SetVal("7")

		balance, err := service.GetBalance(ctx, "acct-1")
		assert.NoError(t, err)
		assert.Equal(t, int64(7), balance)
		assert.NoError(t, redisMock.ExpectationsWereMet())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("falls through to postgres and populates cache", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewAccountService(store, redisClient)

		redisMock.ExpectGet("balance:acct-1").RedisNil()
		mock.ExpectQuery("SELECT balance FROM accounts WHERE id = \\$1").
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(7))
		redisMock.ExpectSet("balance:acct-1", "7", 30*time.Second).SetVal("OK")

		balance, err := service.GetBalance(ctx, "acct-1")
		assert.NoError(t, err)
		assert.Equal(t, int64(7), balance)
		assert.NoError(t, redisMock.ExpectationsWereMet())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("works without redis", func(t *testing.T) {
		service := NewAccountService(store, nil)

		mock.ExpectQuery("SELECT balance FROM accounts WHERE id = \\$1").
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(4))

		balance, err := service.GetBalance(ctx, "acct-1")
		assert.NoError(t, err)
		assert.Equal(t, int64(4), balance)
	})
}

func TestAccountService_Register(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	service := NewAccountService(NewLedgerStore(db), nil)

	mock.ExpectExec("INSERT INTO accounts").
		WithArgs(sqlmock.AnyArg(), "Mochi", "Ade", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	account, err := service.Register(context.Background(), "Mochi", "Ade")
	assert.NoError(t, err)
	assert.Equal(t, "Mochi", account.PetName)
	assert.Equal(t, int64(0), account.Balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}
