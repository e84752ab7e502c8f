package service

import (
	"context"
	"time"

	"github.com/brianYuDesign/balance-engine/internal/errs"
	"github.com/brianYuDesign/balance-engine/internal/model"
	"github.com/brianYuDesign/balance-engine/internal/outbox"
	"github.com/brianYuDesign/balance-engine/internal/record"
	"github.com/brianYuDesign/balance-engine/internal/repo"
	"github.com/brianYuDesign/balance-engine/internal/snapshot"
	"go.uber.org/zap"
)

// BalanceService is the inbound call surface: mutations go through the
// outbox into the log, queries come from the cache with the relational
// store as the authority.
type BalanceService struct {
	writer *outbox.Writer
	repo   *repo.Repository
	cache  *snapshot.Reader
	log    *zap.SugaredLogger
}

func NewBalanceService(w *outbox.Writer, r *repo.Repository, cache *snapshot.Reader, logger *zap.SugaredLogger) *BalanceService {
	return &BalanceService{writer: w, repo: r, cache: cache, log: logger}
}

// Mutate validates and enqueues one mutation; the returned event id
// proves the request is durable. Duplicate, Validation and Transient
// outcomes are distinguished by error kind.
func (s *BalanceService) Mutate(ctx context.Context, m *record.Mutation) (string, error) {
	return s.writer.Write(ctx, m)
}

// Query returns the current balance, preferring the cache. A cache hit
// may trail the store by up to the snapshot flush interval; callers
// needing read-your-writes should query again after the mutation's
// ledger row lands.
func (s *BalanceService) Query(ctx context.Context, accountID uint64, currency string) (*model.Balance, error) {
	if v, err := s.cache.Get(ctx, accountID, currency); err == nil && v != nil {
		return &model.Balance{
			AccountID:    accountID,
			CurrencyCode: currency,
			Available:    v.Available,
			Frozen:       v.Frozen,
			Version:      v.Version,
			UpdatedAt:    v.UpdatedAt,
		}, nil
	} else if err != nil {
		s.log.Debugf("cache read %d/%s: %v", accountID, currency, err)
	}

	bal, err := s.repo.LoadBalance(ctx, accountID, currency)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "load balance", err)
	}
	if bal == nil {
		return nil, errs.Newf(errs.KindUnknownBalance, "no balance for account %d currency %s", accountID, currency)
	}
	return bal, nil
}

// History returns recent ledger rows for an account, oldest first.
func (s *BalanceService) History(ctx context.Context, accountID uint64, currency string, limit int, since time.Time) ([]model.LedgerEntry, error) {
	return s.repo.LedgerHistory(ctx, accountID, currency, limit, since)
}
