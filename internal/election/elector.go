package election

import (
	"context"
	"errors"
	"time"

	"github.com/brianYuDesign/balance-engine/internal/errs"
	"github.com/brianYuDesign/balance-engine/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Elector manages the single-row lease for one partition. Acquire takes
// ownership only from an expired holder; Renew extends a lease the
// caller still holds; Fence asserts ownership inside a commit
// transaction; Release deletes the row on graceful shutdown.
//
// Wall-clock timestamps are generated application-side and passed as
// parameters, so the TTL must exceed the tolerable skew between nodes
// and the database.
type Elector struct {
	db        *gorm.DB
	partition int32
	holderID  string
	ttl       time.Duration
	log       *zap.SugaredLogger
}

func NewElector(db *gorm.DB, partition int32, ttl time.Duration, log *zap.SugaredLogger) *Elector {
	return &Elector{
		db:        db,
		partition: partition,
		holderID:  uuid.NewString(),
		ttl:       ttl,
		log:       log,
	}
}

// HolderID identifies this elector instance across the fleet.
func (e *Elector) HolderID() string { return e.holderID }

// Partition returns the partition this elector contends for.
func (e *Elector) Partition() int32 { return e.partition }

// Acquire attempts to take the lease. The upsert flips ownership only
// when the stored lease has expired; reading the row back afterwards
// tells us whether we won.
func (e *Elector) Acquire(ctx context.Context) (bool, error) {
	now := time.Now()
	lease := model.LeaderLease{
		Partition:  e.partition,
		HolderID:   e.holderID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(e.ttl),
	}
	err := e.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "partition"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"holder_id":   e.holderID,
			"acquired_at": now,
			"expires_at":  now.Add(e.ttl),
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "leader_leases.expires_at < ?", Vars: []interface{}{now}},
		}},
	}).Create(&lease).Error
	if err != nil {
		return false, errs.Wrap(errs.KindTransient, "acquire lease", err)
	}

	var current model.LeaderLease
	if err := e.db.WithContext(ctx).First(&current, "partition = ?", e.partition).Error; err != nil {
		return false, errs.Wrap(errs.KindTransient, "read lease", err)
	}
	return current.HolderID == e.holderID && current.ExpiresAt.After(now), nil
}

// Renew extends the lease; false means it expired and may have rolled
// to another holder.
func (e *Elector) Renew(ctx context.Context) (bool, error) {
	now := time.Now()
	res := e.db.WithContext(ctx).Model(&model.LeaderLease{}).
		Where("partition = ? AND holder_id = ? AND expires_at > ?", e.partition, e.holderID, now).
		Update("expires_at", now.Add(e.ttl))
	if res.Error != nil {
		return false, errs.Wrap(errs.KindTransient, "renew lease", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Fence asserts, inside the caller's transaction, that this elector
// still holds an unexpired lease. The no-op update takes a row lock so
// a concurrent takeover serializes against the commit.
func (e *Elector) Fence(tx *gorm.DB) error {
	now := time.Now()
	res := tx.Model(&model.LeaderLease{}).
		Where("partition = ? AND holder_id = ? AND expires_at > ?", e.partition, e.holderID, now).
		Update("acquired_at", gorm.Expr("acquired_at"))
	if res.Error != nil {
		return errs.Wrap(errs.KindTransient, "fence read", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.Newf(errs.KindLeaseLost, "lease for partition %d not held by %s", e.partition, e.holderID)
	}
	return nil
}

// Release drops the lease if still held. Losing a race here is fine;
// the row then belongs to the new holder.
func (e *Elector) Release(ctx context.Context) error {
	err := e.db.WithContext(ctx).
		Where("partition = ? AND holder_id = ?", e.partition, e.holderID).
		Delete(&model.LeaderLease{}).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.Wrap(errs.KindTransient, "release lease", err)
	}
	return nil
}
