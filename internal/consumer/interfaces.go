package consumer

import (
	"context"

	"github.com/brianYuDesign/balance-engine/internal/model"
	"github.com/brianYuDesign/balance-engine/internal/repo"
	"github.com/brianYuDesign/balance-engine/internal/snapshot"
	"github.com/brianYuDesign/balance-engine/internal/stream"
	"gorm.io/gorm"
)

// Narrow capability interfaces injected into the worker. The repo,
// elector, snapshot updater and DLQ producer each implement one; tests
// swap in fakes.

// BalanceStore is the relational surface the worker needs.
type BalanceStore interface {
	LoadBalance(ctx context.Context, accountID uint64, currency string) (*model.Balance, error)
	TerminalStatuses(ctx context.Context, transactionIDs []string) (map[string]string, error)
	CommitBatch(ctx context.Context, fence func(tx *gorm.DB) error, c *repo.BatchCommit) error
}

// OffsetStore reads the committed offset for recovery.
type OffsetStore interface {
	LastOffset(ctx context.Context, group, topic string, partition int32) (int64, error)
}

// LeaseGuard is the per-partition lease.
type LeaseGuard interface {
	Acquire(ctx context.Context) (bool, error)
	Renew(ctx context.Context) (bool, error)
	Fence(tx *gorm.DB) error
	Release(ctx context.Context) error
}

// SnapshotSink receives committed balance states.
type SnapshotSink interface {
	Enqueue(s snapshot.Snapshot)
}

// DeadLetter routes unprocessable records off the main topic.
type DeadLetter interface {
	Route(ctx context.Context, msg stream.Message, retries int, kind, cause string) error
}
