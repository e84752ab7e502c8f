package consumer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/brianYuDesign/balance-engine/internal/errs"
	"github.com/brianYuDesign/balance-engine/internal/stream"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// State of a partition worker.
type State int32

const (
	StateFollower State = iota
	StateCandidate
	StateLeader
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateFollower:
		return "follower"
	case StateCandidate:
		return "candidate"
	case StateLeader:
		return "leader"
	case StateDraining:
		return "draining"
	default:
		return "stopped"
	}
}

// Config tunes one partition worker.
type Config struct {
	Partition int32
	Group     string
	Topic     string

	MaxBatch   int
	MaxLatency time.Duration
	LongPoll   time.Duration

	MaxRetries      int
	InitialInterval time.Duration
	BackoffFactor   float64
	CommitTimeout   time.Duration

	RenewEvery     time.Duration
	WorkingSetSize int
}

func (c *Config) applyDefaults() {
	if c.MaxBatch == 0 {
		c.MaxBatch = 200
	}
	if c.MaxLatency == 0 {
		c.MaxLatency = 100 * time.Millisecond
	}
	if c.LongPoll == 0 {
		c.LongPoll = time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialInterval == 0 {
		c.InitialInterval = time.Second
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = 2.0
	}
	if c.CommitTimeout == 0 {
		c.CommitTimeout = 5 * time.Second
	}
	if c.RenewEvery == 0 {
		c.RenewEvery = 2 * time.Second
	}
}

// Worker serializes all mutations of one partition: it contends for the
// lease, polls the log, aggregates batches, and commits them under the
// leader fence. A worker is logically single-threaded; parallelism
// comes from running one worker per partition.
type Worker struct {
	cfg     Config
	store   BalanceStore
	offsets OffsetStore
	lease   LeaseGuard
	sources stream.SourceFactory
	sink    SnapshotSink
	dlq     DeadLetter
	ws      *WorkingSet
	log     *zap.SugaredLogger

	state atomic.Int32
}

func NewWorker(cfg Config, store BalanceStore, offsets OffsetStore, lease LeaseGuard,
	sources stream.SourceFactory, sink SnapshotSink, dlq DeadLetter, log *zap.SugaredLogger) (*Worker, error) {
	cfg.applyDefaults()
	ws, err := NewWorkingSet(cfg.WorkingSetSize)
	if err != nil {
		return nil, err
	}
	return &Worker{
		cfg:     cfg,
		store:   store,
		offsets: offsets,
		lease:   lease,
		sources: sources,
		sink:    sink,
		dlq:     dlq,
		ws:      ws,
		log:     log.With("partition", cfg.Partition),
	}, nil
}

// State reports the worker's current state.
func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) { w.state.Store(int32(s)) }

// Run drives the follower/candidate/leader cycle until ctx is done,
// then drains: the in-flight batch is already committed or rolled
// back, the lease is released, and the worker stops.
func (w *Worker) Run(ctx context.Context) error {
	defer w.setState(StateStopped)

	for ctx.Err() == nil {
		w.setState(StateFollower)
		if !w.awaitLease(ctx) {
			break
		}
		w.setState(StateLeader)
		w.log.Infow("lease acquired, consuming")
		if err := w.lead(ctx); err != nil && ctx.Err() == nil {
			if errs.KindOf(err) == errs.KindLeaseLost {
				w.log.Warnw("lease lost, stepping down")
				continue
			}
			w.log.Errorw("leader loop failed, stepping down", "err", err)
		}
	}

	w.setState(StateDraining)
	releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.lease.Release(releaseCtx); err != nil {
		w.log.Warnf("release lease: %v", err)
	}
	return nil
}

// awaitLease retries acquisition until it wins or ctx is done.
func (w *Worker) awaitLease(ctx context.Context) bool {
	for {
		w.setState(StateCandidate)
		ok, err := w.lease.Acquire(ctx)
		if err != nil {
			w.log.Warnf("acquire lease: %v", err)
		}
		if ok {
			return true
		}
		w.setState(StateFollower)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(w.cfg.RenewEvery):
		}
	}
}

// lead consumes from the committed offset until the lease is lost or
// ctx is done. The working set starts empty on every election and is
// repopulated on demand.
func (w *Worker) lead(ctx context.Context) error {
	last, err := w.offsets.LastOffset(ctx, w.cfg.Group, w.cfg.Topic, w.cfg.Partition)
	if err != nil {
		return errs.Wrap(errs.KindTransient, "read committed offset", err)
	}
	src, err := w.sources(last + 1)
	if err != nil {
		return errs.Wrap(errs.KindTransient, "open partition source", err)
	}
	defer src.Close()
	w.ws.Reset()

	leadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var lost atomic.Bool
	go w.renewLoop(leadCtx, cancel, &lost)

	var buf []stream.Message
	for {
		if leadCtx.Err() != nil {
			if lost.Load() {
				return errs.New(errs.KindLeaseLost, "lease expired during consumption")
			}
			return nil
		}

		timeout := w.cfg.LongPoll
		if len(buf) > 0 {
			timeout = w.cfg.MaxLatency
		}
		fetchCtx, fetchCancel := context.WithTimeout(leadCtx, timeout)
		msg, err := src.Fetch(fetchCtx)
		fetchCancel()

		switch {
		case err == nil:
			buf = append(buf, msg)
			if len(buf) < w.cfg.MaxBatch {
				continue
			}
		case errors.Is(err, context.DeadlineExceeded):
			if len(buf) == 0 {
				continue
			}
		case leadCtx.Err() != nil:
			continue
		default:
			w.log.Warnf("fetch: %v", err)
			select {
			case <-leadCtx.Done():
			case <-time.After(w.cfg.InitialInterval):
			}
			continue
		}

		if err := w.flush(leadCtx, buf); err != nil {
			return err
		}
		buf = buf[:0]
	}
}

// renewLoop keeps the lease alive; a definitive loss cancels the leader
// context. Transient renew errors are tolerated until the TTL runs out.
func (w *Worker) renewLoop(ctx context.Context, cancel context.CancelFunc, lost *atomic.Bool) {
	ticker := time.NewTicker(w.cfg.RenewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := w.lease.Renew(ctx)
			if err != nil {
				w.log.Warnf("renew lease: %v", err)
				continue
			}
			if !ok {
				lost.Store(true)
				cancel()
				return
			}
		}
	}
}

// flush computes and commits one batch. Dead letters are routed before
// the commit (at-least-once; a retried batch may re-route them), the
// commit itself retries transient failures with exponential backoff,
// and a lease-lost fence aborts with no offset advance.
func (w *Worker) flush(ctx context.Context, msgs []stream.Message) error {
	plan, err := w.buildPlan(ctx, msgs)
	if err != nil {
		w.ws.Reset()
		return err
	}

	for _, dl := range plan.deadLetters {
		if err := w.dlq.Route(ctx, dl.msg, 0, dl.kind.String(), dl.cause); err != nil {
			w.ws.Reset()
			return errs.Wrap(errs.KindTransient, "route dead letter", err)
		}
	}

	commit := func() error {
		commitCtx, cancel := context.WithTimeout(ctx, w.cfg.CommitTimeout)
		defer cancel()
		err := w.store.CommitBatch(commitCtx, w.lease.Fence, &plan.commit)
		if err != nil && errs.KindOf(err) == errs.KindLeaseLost {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.cfg.InitialInterval
	bo.Multiplier = w.cfg.BackoffFactor
	if err := backoff.Retry(commit, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(w.cfg.MaxRetries)), ctx)); err != nil {
		w.ws.Reset()
		return err
	}

	for _, bal := range plan.applied {
		w.ws.Put(bal)
	}
	for _, s := range plan.snapshots {
		w.sink.Enqueue(s)
	}
	w.log.Debugw("batch committed",
		"records", len(msgs),
		"ledger_rows", len(plan.commit.Entries),
		"offset", plan.commit.Offset)
	return nil
}
