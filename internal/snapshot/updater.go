package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Snapshot is one committed balance state fanned out to the cache. The
// balance version doubles as the last-writer-wins timestamp.
type Snapshot struct {
	AccountID uint64
	Currency  string
	Available decimal.Decimal
	Frozen    decimal.Decimal
	Version   uint64
	UpdatedAt time.Time
}

// Value is the serialized hash field stored under the cache key.
type Value struct {
	Available decimal.Decimal `json:"available"`
	Frozen    decimal.Decimal `json:"frozen"`
	Version   uint64          `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Key builds the cache key for one (account, currency).
func Key(namespace string, accountID uint64, currency string) string {
	return fmt.Sprintf("%s:%d:%s", namespace, accountID, currency)
}

// lwwScript overwrites {value, ts} only when the incoming timestamp
// strictly exceeds the stored one.
const lwwScript = `local ts = redis.call('HGET', KEYS[1], 'ts')
if ts and tonumber(ts) >= tonumber(ARGV[1]) then return 0 end
redis.call('HSET', KEYS[1], 'value', ARGV[2], 'ts', ARGV[1])
return 1`

// Config tunes the updater fan-out.
type Config struct {
	Namespace     string
	WorkerCount   int
	FlushInterval time.Duration
	QueueDepth    int
}

// Updater propagates committed balances to Redis, best effort. Keys
// shard by account id so a given key is only ever written by one
// worker; each worker coalesces to the newest version per key and
// flushes a pipeline of LWW scripts on an interval.
type Updater struct {
	client redis.Cmdable
	cfg    Config
	log    *zap.SugaredLogger

	queues []chan Snapshot
	wg     sync.WaitGroup
	once   sync.Once
}

func NewUpdater(client redis.Cmdable, cfg Config, log *zap.SugaredLogger) *Updater {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 100 * time.Millisecond
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1024
	}
	u := &Updater{client: client, cfg: cfg, log: log}
	u.queues = make([]chan Snapshot, cfg.WorkerCount)
	for i := range u.queues {
		u.queues[i] = make(chan Snapshot, cfg.QueueDepth)
	}
	return u
}

// Start launches the shard workers.
func (u *Updater) Start(ctx context.Context) {
	for i := range u.queues {
		u.wg.Add(1)
		go u.worker(ctx, u.queues[i])
	}
}

// Enqueue hands a committed snapshot to its shard worker. A full queue
// drops the snapshot rather than stalling the commit path; the
// authoritative store already holds the state.
func (u *Updater) Enqueue(s Snapshot) {
	q := u.queues[int(s.AccountID)%len(u.queues)]
	select {
	case q <- s:
	default:
		u.log.Warnw("snapshot queue full, dropping", "account", s.AccountID, "currency", s.Currency)
	}
}

// Stop closes the queues and waits for the final flushes.
func (u *Updater) Stop() {
	u.once.Do(func() {
		for _, q := range u.queues {
			close(q)
		}
	})
	u.wg.Wait()
}

func (u *Updater) worker(ctx context.Context, q chan Snapshot) {
	defer u.wg.Done()
	pending := make(map[string]Snapshot)
	ticker := time.NewTicker(u.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case s, ok := <-q:
			if !ok {
				u.flush(context.Background(), pending)
				return
			}
			key := Key(u.cfg.Namespace, s.AccountID, s.Currency)
			if prev, seen := pending[key]; !seen || s.Version > prev.Version {
				pending[key] = s
			}
		case <-ticker.C:
			u.flush(ctx, pending)
			pending = make(map[string]Snapshot)
		case <-ctx.Done():
			u.flush(context.Background(), pending)
			return
		}
	}
}

// flush issues one pipelined LWW script call per key. Errors are
// logged and the batch is dropped; readers fall back to the store.
func (u *Updater) flush(ctx context.Context, pending map[string]Snapshot) {
	if len(pending) == 0 {
		return
	}
	pipe := u.client.Pipeline()
	for key, s := range pending {
		body, err := json.Marshal(Value{
			Available: s.Available,
			Frozen:    s.Frozen,
			Version:   s.Version,
			UpdatedAt: s.UpdatedAt,
		})
		if err != nil {
			u.log.Errorf("marshal snapshot %s: %v", key, err)
			continue
		}
		pipe.Eval(ctx, lwwScript, []string{key}, s.Version, string(body))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		u.log.Warnf("snapshot flush: %v", err)
	}
}
