package outbox

import (
	"context"
	"time"

	"github.com/brianYuDesign/balance-engine/internal/errs"
	"github.com/brianYuDesign/balance-engine/internal/model"
	"github.com/brianYuDesign/balance-engine/internal/record"
	"github.com/brianYuDesign/balance-engine/internal/repo"
	"github.com/brianYuDesign/balance-engine/internal/stream"
	"go.uber.org/zap"
)

// SweeperConfig bounds the reconciliation loop.
type SweeperConfig struct {
	Interval   time.Duration // tick between sweeps
	StuckAfter time.Duration // pending rows older than this are re-published
	MaxRetries int           // failed rows at this count escalate to the DLQ
	BatchSize  int
	DLQTopic   string
}

// Sweeper re-publishes outbox rows that never made it to the log:
// pending rows stuck past a threshold and failed rows under the retry
// cap. Rows that exhaust their retries are routed to the dead-letter
// topic and never touched again. Publications keep the original event
// id, so duplicates are absorbed downstream by the ledger index.
type Sweeper struct {
	repo *repo.Repository
	pub  stream.Producer
	cfg  SweeperConfig
	log  *zap.SugaredLogger
}

func NewSweeper(r *repo.Repository, pub stream.Producer, cfg SweeperConfig, log *zap.SugaredLogger) *Sweeper {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Second
	}
	if cfg.StuckAfter == 0 {
		cfg.StuckAfter = 5 * time.Second
	}
	return &Sweeper{repo: r, pub: pub, cfg: cfg, log: log}
}

// Run ticks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Errorf("sweep: %v", err)
			}
		}
	}
}

// Sweep performs one reconciliation pass.
func (s *Sweeper) Sweep(ctx context.Context) error {
	events, err := s.repo.DueOutboxEvents(ctx, s.cfg.StuckAfter, s.cfg.MaxRetries, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, evt := range events {
		if err := s.republish(ctx, evt); err != nil {
			s.log.Warnf("republish %s (retry %d): %v", evt.EventID, evt.RetryCount, err)
		}
	}
	return nil
}

func (s *Sweeper) republish(ctx context.Context, evt model.OutboxEvent) error {
	headers := map[string]string{HeaderEventID: evt.EventID}
	if m, err := record.Unmarshal([]byte(evt.Payload)); err == nil {
		headers[HeaderTransactionID] = m.TransactionID
	}

	err := s.pub.Publish(ctx, evt.Topic, []byte(evt.PartitionKey), []byte(evt.Payload), headers)
	if err == nil {
		return s.repo.MarkOutboxSent(ctx, evt.EventID)
	}

	if merr := s.repo.MarkOutboxFailed(ctx, evt.EventID, err.Error()); merr != nil {
		return merr
	}
	if evt.RetryCount+1 >= s.cfg.MaxRetries {
		s.escalate(ctx, evt, err)
	}
	return err
}

// escalate routes an exhausted row to the dead-letter topic. Best
// effort; the row stays queryable either way.
func (s *Sweeper) escalate(ctx context.Context, evt model.OutboxEvent, cause error) {
	dlq := record.NewDLQMessage(evt.Topic, -1, -1, []byte(evt.PartitionKey), []byte(evt.Payload),
		evt.RetryCount+1, errs.KindDLQ.String(), cause.Error())
	body, err := dlq.Encode()
	if err != nil {
		s.log.Errorf("encode dlq message %s: %v", evt.EventID, err)
		return
	}
	if err := s.pub.Publish(ctx, s.cfg.DLQTopic, []byte(evt.PartitionKey), body, map[string]string{HeaderEventID: evt.EventID}); err != nil {
		s.log.Errorf("publish dlq message %s: %v", evt.EventID, err)
		return
	}
	s.log.Infow("outbox event escalated to dlq", "event_id", evt.EventID, "retries", evt.RetryCount+1)
}
