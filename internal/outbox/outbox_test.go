package outbox

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/brianYuDesign/balance-engine/internal/errs"
	"github.com/brianYuDesign/balance-engine/internal/logger"
	"github.com/brianYuDesign/balance-engine/internal/model"
	"github.com/brianYuDesign/balance-engine/internal/record"
	"github.com/brianYuDesign/balance-engine/internal/repo"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type published struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

type fakeProducer struct {
	msgs []published
	fail map[string]error // per-topic failure injection
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	if err := f.fail[topic]; err != nil {
		return err
	}
	f.msgs = append(f.msgs, published{topic: topic, key: key, value: value, headers: headers})
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func newTestRepo(t *testing.T) *repo.Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	log, err := logger.New("test")
	assert.NoError(t, err)
	r := repo.NewRepository(db, log)
	assert.NoError(t, r.AutoMigrate())
	return r
}

func testMutation(tx string) *record.Mutation {
	return &record.Mutation{
		TransactionID: tx,
		AccountID:     1,
		UserKey:       "user-1",
		Currency:      "USDT",
		Kind:          record.KindDeposit,
		Amount:        decimal.NewFromInt(100),
	}
}

func TestWritePersistsAndPublishes(t *testing.T) {
	r := newTestRepo(t)
	pub := &fakeProducer{}
	log, _ := logger.New("test")
	w := NewWriter(r, pub, "balance-changes", log)

	eventID, err := w.Write(context.Background(), testMutation("t1"))
	assert.NoError(t, err)
	assert.NotEmpty(t, eventID)

	var evt model.OutboxEvent
	assert.NoError(t, r.DB(context.Background()).First(&evt, "event_id = ?", eventID).Error)
	assert.Equal(t, model.OutboxSent, evt.Status)
	assert.Equal(t, "user-1", evt.PartitionKey)

	assert.Len(t, pub.msgs, 1)
	assert.Equal(t, "balance-changes", pub.msgs[0].topic)
	assert.Equal(t, eventID, pub.msgs[0].headers[HeaderEventID])
	assert.Equal(t, "t1", pub.msgs[0].headers[HeaderTransactionID])
}

func TestWriteRejectsProcessedTransaction(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	assert.NoError(t, r.DB(ctx).Create(&model.LedgerEntry{
		TransactionID: "t1", AccountID: 1, CurrencyCode: "USDT",
		Kind: "deposit", Amount: decimal.NewFromInt(1),
		AvailableBefore: decimal.Zero, AvailableAfter: decimal.NewFromInt(1),
		FrozenBefore: decimal.Zero, FrozenAfter: decimal.Zero,
		Status: model.LedgerSuccess,
	}).Error)

	log, _ := logger.New("test")
	w := NewWriter(r, &fakeProducer{}, "balance-changes", log)

	_, err := w.Write(ctx, testMutation("t1"))
	assert.Equal(t, errs.KindDuplicate, errs.KindOf(err))

	var count int64
	assert.NoError(t, r.DB(ctx).Model(&model.OutboxEvent{}).Count(&count).Error)
	assert.Equal(t, int64(0), count, "duplicate must not enqueue")
}

func TestWriteSurvivesPublishFailure(t *testing.T) {
	r := newTestRepo(t)
	pub := &fakeProducer{fail: map[string]error{"balance-changes": errors.New("broker down")}}
	log, _ := logger.New("test")
	w := NewWriter(r, pub, "balance-changes", log)

	eventID, err := w.Write(context.Background(), testMutation("t1"))
	assert.NoError(t, err, "the caller already has a durable row")
	assert.NotEmpty(t, eventID)

	var evt model.OutboxEvent
	assert.NoError(t, r.DB(context.Background()).First(&evt, "event_id = ?", eventID).Error)
	assert.Equal(t, model.OutboxFailed, evt.Status)
	assert.Equal(t, 1, evt.RetryCount)
}

func TestSweeperRepublishesStuckPending(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	payload, _ := record.Marshal(testMutation("t1"))
	evt := &model.OutboxEvent{
		EventID: uuid.NewString(), Topic: "balance-changes", PartitionKey: "user-1",
		Payload: string(payload), Status: model.OutboxPending,
	}
	assert.NoError(t, r.DB(ctx).Create(evt).Error)
	// age the row past the stuck threshold
	assert.NoError(t, r.DB(ctx).Model(evt).Update("created_at", time.Now().Add(-time.Minute)).Error)

	pub := &fakeProducer{}
	log, _ := logger.New("test")
	s := NewSweeper(r, pub, SweeperConfig{StuckAfter: time.Second, MaxRetries: 3, DLQTopic: "balance-changes-dlq"}, log)

	assert.NoError(t, s.Sweep(ctx))
	assert.Len(t, pub.msgs, 1)
	assert.Equal(t, "t1", pub.msgs[0].headers[HeaderTransactionID])

	var got model.OutboxEvent
	assert.NoError(t, r.DB(ctx).First(&got, "event_id = ?", evt.EventID).Error)
	assert.Equal(t, model.OutboxSent, got.Status)
}

func TestSweeperEscalatesExhaustedRowsToDLQ(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	payload, _ := record.Marshal(testMutation("t1"))
	evt := &model.OutboxEvent{
		EventID: uuid.NewString(), Topic: "balance-changes", PartitionKey: "user-1",
		Payload: string(payload), Status: model.OutboxFailed, RetryCount: 2,
	}
	assert.NoError(t, r.DB(ctx).Create(evt).Error)

	pub := &fakeProducer{fail: map[string]error{"balance-changes": errors.New("broker down")}}
	log, _ := logger.New("test")
	s := NewSweeper(r, pub, SweeperConfig{StuckAfter: time.Second, MaxRetries: 3, DLQTopic: "balance-changes-dlq"}, log)

	// third failure hits the cap and escalates
	assert.NoError(t, s.Sweep(ctx))
	assert.Len(t, pub.msgs, 1)
	assert.Equal(t, "balance-changes-dlq", pub.msgs[0].topic)

	pub.fail = nil
	assert.NoError(t, s.Sweep(ctx))
	assert.Len(t, pub.msgs, 1, "terminal rows are never republished")

	var got model.OutboxEvent
	assert.NoError(t, r.DB(ctx).First(&got, "event_id = ?", evt.EventID).Error)
	assert.Equal(t, model.OutboxFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
}
