package repo

import (
	"context"
	"strings"
	"time"

	"github.com/brianYuDesign/balance-engine/internal/errs"
	"github.com/brianYuDesign/balance-engine/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BalanceUpsert carries the absolute post-batch state of one
// (account, currency). ExpectedVersion is the pre-batch version; zero
// means first touch and the row is inserted instead of updated.
type BalanceUpsert struct {
	AccountID       uint64
	Currency        string
	Available       decimal.Decimal
	Frozen          decimal.Decimal
	Version         uint64
	ExpectedVersion uint64
}

// BatchCommit is everything one batch writes in a single transaction:
// balance upserts, terminal ledger rows and the offset advance.
type BatchCommit struct {
	Group     string
	Topic     string
	Partition int32
	Offset    int64
	Upserts   []BalanceUpsert
	Entries   []*model.LedgerEntry
}

const stagingDDL = `CREATE TEMPORARY TABLE IF NOT EXISTS balance_staging (
	account_id bigint NOT NULL,
	currency_code varchar(16) NOT NULL,
	available numeric(36,18) NOT NULL,
	frozen numeric(36,18) NOT NULL,
	version bigint NOT NULL,
	expected_version bigint NOT NULL
)`

// CommitBatch writes a whole batch under the leader fence. The fence
// callback runs first, inside the same transaction, so a worker that
// lost its lease cannot commit. Row counts are checked against the
// upsert set; a mismatch means the balances moved under us and the
// batch must be retried from a fresh working set.
func (r *Repository) CommitBatch(ctx context.Context, fence func(tx *gorm.DB) error, c *BatchCommit) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if fence != nil {
			if err := fence(tx); err != nil {
				return err
			}
		}
		now := time.Now()
		if len(c.Upserts) > 0 {
			if err := applyUpserts(tx, c.Upserts, now); err != nil {
				return err
			}
		}
		if len(c.Entries) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(c.Entries).Error; err != nil {
				return errs.Wrap(errs.KindTransient, "insert ledger rows", err)
			}
		}
		return advanceOffset(tx, c, now)
	})
}

func applyUpserts(tx *gorm.DB, ups []BalanceUpsert, now time.Time) error {
	if err := tx.Exec(stagingDDL).Error; err != nil {
		return errs.Wrap(errs.KindTransient, "create staging table", err)
	}
	if err := tx.Exec("DELETE FROM balance_staging").Error; err != nil {
		return errs.Wrap(errs.KindTransient, "clear staging table", err)
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO balance_staging (account_id, currency_code, available, frozen, version, expected_version) VALUES ")
	args := make([]interface{}, 0, len(ups)*6)
	for i, u := range ups {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, u.AccountID, u.Currency, u.Available.String(), u.Frozen.String(), u.Version, u.ExpectedVersion)
	}
	if err := tx.Exec(sb.String(), args...).Error; err != nil {
		return errs.Wrap(errs.KindTransient, "stage balance upserts", err)
	}

	// Set-based apply: one join-update for known rows, one insert for
	// first-touch rows. Non-negativity is re-asserted in the predicate
	// even though the worker pre-validates.
	update := tx.Exec(`UPDATE balances SET
		available = s.available,
		frozen = s.frozen,
		version = s.version,
		updated_at = ?
	FROM balance_staging s
	WHERE balances.account_id = s.account_id
	  AND balances.currency_code = s.currency_code
	  AND balances.version = s.expected_version
	  AND s.available >= 0 AND s.frozen >= 0`, now)
	if update.Error != nil {
		return errs.Wrap(errs.KindTransient, "apply balance updates", update.Error)
	}

	insert := tx.Exec(`INSERT INTO balances (account_id, currency_code, available, frozen, version, updated_at)
	SELECT s.account_id, s.currency_code, s.available, s.frozen, s.version, ?
	FROM balance_staging s
	WHERE s.expected_version = 0
	  AND s.available >= 0 AND s.frozen >= 0
	  AND NOT EXISTS (
		SELECT 1 FROM balances b
		WHERE b.account_id = s.account_id AND b.currency_code = s.currency_code
	  )`, now)
	if insert.Error != nil {
		return errs.Wrap(errs.KindTransient, "insert first-touch balances", insert.Error)
	}

	if update.RowsAffected+insert.RowsAffected != int64(len(ups)) {
		return errs.Newf(errs.KindTransient,
			"balance version drift: %d staged, %d applied",
			len(ups), update.RowsAffected+insert.RowsAffected)
	}
	return nil
}

func advanceOffset(tx *gorm.DB, c *BatchCommit, now time.Time) error {
	off := model.ConsumerOffset{
		GroupID:    c.Group,
		Topic:      c.Topic,
		Partition:  c.Partition,
		LastOffset: c.Offset,
		UpdatedAt:  now,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "group_id"}, {Name: "topic"}, {Name: "partition"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_offset": c.Offset,
			"updated_at":  now,
		}),
		// offsets never move backwards
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "excluded.last_offset > consumer_offsets.last_offset"},
		}},
	}).Create(&off).Error
	if err != nil {
		return errs.Wrap(errs.KindTransient, "advance consumer offset", err)
	}
	return nil
}
