package consumer

import (
	"fmt"

	"github.com/brianYuDesign/balance-engine/internal/model"
	lru "github.com/hashicorp/golang-lru/v2"
)

// WorkingSet is the per-partition write-through read cache of recently
// touched balances. The lease guarantees a single writer per
// partition, so entries are only ever mutated by one worker; the LRU
// bound keeps large partitions from pinning every balance in memory.
type WorkingSet struct {
	cache *lru.Cache[string, *model.Balance]
}

func NewWorkingSet(size int) (*WorkingSet, error) {
	if size <= 0 {
		size = 4096
	}
	c, err := lru.New[string, *model.Balance](size)
	if err != nil {
		return nil, err
	}
	return &WorkingSet{cache: c}, nil
}

func balanceKey(accountID uint64, currency string) string {
	return fmt.Sprintf("%d:%s", accountID, currency)
}

// Get returns the cached balance or nil.
func (w *WorkingSet) Get(accountID uint64, currency string) *model.Balance {
	b, ok := w.cache.Get(balanceKey(accountID, currency))
	if !ok {
		return nil
	}
	return b
}

// Put stores the post-commit balance.
func (w *WorkingSet) Put(b *model.Balance) {
	w.cache.Add(balanceKey(b.AccountID, b.CurrencyCode), b)
}

// Reset drops every entry; used when a batch aborts and the in-memory
// view can no longer be trusted.
func (w *WorkingSet) Reset() {
	w.cache.Purge()
}

// Len reports the resident entry count.
func (w *WorkingSet) Len() int { return w.cache.Len() }
