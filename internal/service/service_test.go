package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/brianYuDesign/balance-engine/internal/errs"
	"github.com/brianYuDesign/balance-engine/internal/logger"
	"github.com/brianYuDesign/balance-engine/internal/model"
	"github.com/brianYuDesign/balance-engine/internal/outbox"
	"github.com/brianYuDesign/balance-engine/internal/record"
	"github.com/brianYuDesign/balance-engine/internal/repo"
	"github.com/brianYuDesign/balance-engine/internal/snapshot"
	"github.com/go-redis/redismock/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeProducer struct {
	published int
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	f.published++
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func newTestService(t *testing.T) (*BalanceService, *repo.Repository, redismock.ClientMock) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	log, err := logger.New("test")
	assert.NoError(t, err)
	r := repo.NewRepository(db, log)
	assert.NoError(t, r.AutoMigrate())

	rdb, mock := redismock.NewClientMock()
	writer := outbox.NewWriter(r, &fakeProducer{}, "balance-changes", log)
	cache := snapshot.NewReader(rdb, "balance")
	svc := NewBalanceService(writer, r, cache, log)
	return svc, r, mock
}

func TestMutateReturnsEventID(t *testing.T) {
	svc, r, _ := newTestService(t)
	ctx := context.Background()

	eventID, err := svc.Mutate(ctx, &record.Mutation{
		TransactionID: "t1",
		AccountID:     1,
		UserKey:       "user-1",
		Currency:      "USDT",
		Kind:          record.KindDeposit,
		Amount:        decimal.NewFromInt(100),
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, eventID)

	var evt model.OutboxEvent
	assert.NoError(t, r.DB(ctx).First(&evt, "event_id = ?", eventID).Error)
	assert.Equal(t, model.OutboxSent, evt.Status)
}

func TestMutateRejectsInvalidRequest(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Mutate(context.Background(), &record.Mutation{
		TransactionID: "t1",
		AccountID:     1,
		UserKey:       "user-1",
		Currency:      "USDT",
		Kind:          record.KindDeposit,
		Amount:        decimal.NewFromInt(-5),
	})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestMutateDistinguishesDuplicate(t *testing.T) {
	svc, r, _ := newTestService(t)
	ctx := context.Background()

	assert.NoError(t, r.DB(ctx).Create(&model.LedgerEntry{
		TransactionID: "t1", AccountID: 1, CurrencyCode: "USDT",
		Kind: record.KindDeposit, Amount: decimal.NewFromInt(1),
		AvailableBefore: decimal.Zero, AvailableAfter: decimal.NewFromInt(1),
		FrozenBefore: decimal.Zero, FrozenAfter: decimal.Zero,
		Status: model.LedgerSuccess,
	}).Error)

	_, err := svc.Mutate(ctx, &record.Mutation{
		TransactionID: "t1",
		AccountID:     1,
		UserKey:       "user-1",
		Currency:      "USDT",
		Kind:          record.KindDeposit,
		Amount:        decimal.NewFromInt(100),
	})
	assert.Equal(t, errs.KindDuplicate, errs.KindOf(err))
}

func TestQueryPrefersCache(t *testing.T) {
	svc, _, mock := newTestService(t)

	body := `{"available":"42","frozen":"0","version":7,"updated_at":"2024-01-01T00:00:00Z"}`
	mock.ExpectHGetAll(snapshot.Key("balance", 1, "USDT")).SetVal(map[string]string{
		"value": body,
		"ts":    "7",
	})

	bal, err := svc.Query(context.Background(), 1, "USDT")
	assert.NoError(t, err)
	assert.True(t, bal.Available.Equal(decimal.NewFromInt(42)))
	assert.Equal(t, uint64(7), bal.Version)
}

func TestQueryFallsBackToStore(t *testing.T) {
	svc, r, mock := newTestService(t)
	ctx := context.Background()

	assert.NoError(t, r.DB(ctx).Create(&model.Balance{
		AccountID: 1, CurrencyCode: "USDT",
		Available: decimal.NewFromInt(99), Frozen: decimal.Zero,
		Version: 3, UpdatedAt: time.Now(),
	}).Error)

	mock.ExpectHGetAll(snapshot.Key("balance", 1, "USDT")).SetVal(map[string]string{})

	bal, err := svc.Query(ctx, 1, "USDT")
	assert.NoError(t, err)
	assert.True(t, bal.Available.Equal(decimal.NewFromInt(99)))
}

func TestQueryUnknownBalance(t *testing.T) {
	svc, _, mock := newTestService(t)
	mock.ExpectHGetAll(snapshot.Key("balance", 5, "BTC")).SetVal(map[string]string{})

	_, err := svc.Query(context.Background(), 5, "BTC")
	assert.Equal(t, errs.KindUnknownBalance, errs.KindOf(err))
}
