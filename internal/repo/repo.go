package repo

import (
	"context"
	"errors"
	"time"

	"github.com/brianYuDesign/balance-engine/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Repository wraps the relational store. It is shared by the outbox
// writer, the partition workers and the query path.
type Repository struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// AutoMigrate creates the engine's tables.
func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&model.Account{},
		&model.Balance{},
		&model.LedgerEntry{},
		&model.OutboxEvent{},
		&model.LeaderLease{},
		&model.ConsumerOffset{},
	)
}

// CreateAccount serves the administrative seed path; the engine itself
// only reads accounts.
func (r *Repository) CreateAccount(ctx context.Context, a *model.Account) error {
	return r.db.WithContext(ctx).Create(a).Error
}

// GetAccount looks an account up by internal id.
func (r *Repository) GetAccount(ctx context.Context, id uint64) (*model.Account, error) {
	var a model.Account
	if err := r.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// LoadBalance fetches one (account, currency) balance; (nil, nil) when
// the pair has never been touched.
func (r *Repository) LoadBalance(ctx context.Context, accountID uint64, currency string) (*model.Balance, error) {
	var b model.Balance
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND currency_code = ?", accountID, currency).
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetLedgerEntry fetches the ledger row for a transaction id, or nil.
func (r *Repository) GetLedgerEntry(ctx context.Context, transactionID string) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// TerminalStatuses maps each given transaction id that already has a
// terminal ledger row to its status. Ids without a terminal row are
// absent from the result.
func (r *Repository) TerminalStatuses(ctx context.Context, transactionIDs []string) (map[string]string, error) {
	if len(transactionIDs) == 0 {
		return map[string]string{}, nil
	}
	type row struct {
		TransactionID string
		Status        string
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).
		Select("transaction_id", "status").
		Where("transaction_id IN ? AND status IN ?", transactionIDs,
			[]string{model.LedgerSuccess, model.LedgerFailed}).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, rw := range rows {
		out[rw.TransactionID] = rw.Status
	}
	return out, nil
}

// LedgerHistory returns an account's ledger rows since a point in time,
// oldest first.
func (r *Repository) LedgerHistory(ctx context.Context, accountID uint64, currency string, limit int, since time.Time) ([]model.LedgerEntry, error) {
	var rows []model.LedgerEntry
	q := r.db.WithContext(ctx).
		Where("account_id = ? AND created_at >= ?", accountID, since)
	if currency != "" {
		q = q.Where("currency_code = ?", currency)
	}
	err := q.Order("created_at asc").Limit(limit).Find(&rows).Error
	return rows, err
}

// LastOffset returns the committed offset for (group, topic, partition),
// or -1 when nothing was ever committed.
func (r *Repository) LastOffset(ctx context.Context, group, topic string, partition int32) (int64, error) {
	var o model.ConsumerOffset
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND topic = ? AND partition = ?", group, topic, partition).
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}
	return o.LastOffset, nil
}
