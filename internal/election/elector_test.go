package election

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/brianYuDesign/balance-engine/internal/errs"
	"github.com/brianYuDesign/balance-engine/internal/logger"
	"github.com/brianYuDesign/balance-engine/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.LeaderLease{}))
	return db
}

func newElector(t *testing.T, db *gorm.DB, ttl time.Duration) *Elector {
	t.Helper()
	log, err := logger.New("test")
	assert.NoError(t, err)
	return NewElector(db, 0, ttl, log)
}

func TestAcquireIsExclusive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := newElector(t, db, time.Minute)
	b := newElector(t, db, time.Minute)

	okA, err := a.Acquire(ctx)
	assert.NoError(t, err)
	assert.True(t, okA)

	okB, err := b.Acquire(ctx)
	assert.NoError(t, err)
	assert.False(t, okB, "second elector must not steal an unexpired lease")
}

func TestAcquireTakesOverExpiredLease(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := newElector(t, db, 10*time.Millisecond)
	b := newElector(t, db, time.Minute)

	ok, err := a.Acquire(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	ok, err = b.Acquire(ctx)
	assert.NoError(t, err)
	assert.True(t, ok, "expired lease rolls to the new holder")

	// the old holder can no longer renew or fence
	renewed, err := a.Renew(ctx)
	assert.NoError(t, err)
	assert.False(t, renewed)

	err = db.Transaction(func(tx *gorm.DB) error { return a.Fence(tx) })
	assert.Equal(t, errs.KindLeaseLost, errs.KindOf(err))
}

func TestRenewExtendsHeldLease(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := newElector(t, db, time.Minute)

	ok, err := a.Acquire(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)

	renewed, err := a.Renew(ctx)
	assert.NoError(t, err)
	assert.True(t, renewed)
}

func TestFencePassesForHolder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := newElector(t, db, time.Minute)

	ok, err := a.Acquire(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, db.Transaction(func(tx *gorm.DB) error { return a.Fence(tx) }))
}

func TestReleaseFreesTheLease(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := newElector(t, db, time.Minute)
	b := newElector(t, db, time.Minute)

	ok, err := a.Acquire(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, a.Release(ctx))

	ok, err = b.Acquire(ctx)
	assert.NoError(t, err)
	assert.True(t, ok, "released lease is immediately acquirable")
}

func TestReleaseDoesNotTouchForeignLease(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := newElector(t, db, 10*time.Millisecond)
	b := newElector(t, db, time.Minute)

	ok, _ := a.Acquire(ctx)
	assert.True(t, ok)
	time.Sleep(20 * time.Millisecond)
	ok, _ = b.Acquire(ctx)
	assert.True(t, ok)

	// a's lease rolled to b; a's release must be a no-op
	assert.NoError(t, a.Release(ctx))
	var lease model.LeaderLease
	assert.NoError(t, db.First(&lease, "partition = ?", int32(0)).Error)
	assert.Equal(t, b.HolderID(), lease.HolderID)
}
