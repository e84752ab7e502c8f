package outbox

import (
	"context"

	"github.com/brianYuDesign/balance-engine/internal/errs"
	"github.com/brianYuDesign/balance-engine/internal/model"
	"github.com/brianYuDesign/balance-engine/internal/record"
	"github.com/brianYuDesign/balance-engine/internal/repo"
	"github.com/brianYuDesign/balance-engine/internal/stream"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Header keys carried on every published mutation.
const (
	HeaderEventID       = "event_id"
	HeaderTransactionID = "transaction_id"
)

// Writer bridges a validated mutation into the durable log without a
// dual write: the outbox row commits first, publication follows, and
// the sweeper reconciles lost publishes. Duplicate transaction ids are
// rejected against the ledger index before anything is written.
type Writer struct {
	repo  *repo.Repository
	pub   stream.Producer
	topic string
	log   *zap.SugaredLogger
}

func NewWriter(r *repo.Repository, pub stream.Producer, topic string, log *zap.SugaredLogger) *Writer {
	return &Writer{repo: r, pub: pub, topic: topic, log: log}
}

// Write persists the mutation to the outbox and publishes it. The
// event id is returned as soon as the outbox row is durable; a failed
// publish is recorded on the row and left to the sweeper.
func (w *Writer) Write(ctx context.Context, m *record.Mutation) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	payload, err := record.Marshal(m)
	if err != nil {
		return "", errs.Wrap(errs.KindValidation, "marshal mutation", err)
	}

	evt := &model.OutboxEvent{
		EventID:      uuid.NewString(),
		Topic:        w.topic,
		PartitionKey: m.UserKey,
		Payload:      string(payload),
		Status:       model.OutboxPending,
	}
	err = w.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := w.repo.GetLedgerEntry(ctx, m.TransactionID)
		if err != nil {
			return errs.Wrap(errs.KindTransient, "ledger lookup", err)
		}
		if existing != nil {
			return errs.Newf(errs.KindDuplicate, "transaction %s already processed", m.TransactionID)
		}
		return w.repo.CreateOutboxEvent(ctx, tx, evt)
	})
	if err != nil {
		if errs.KindOf(err) == errs.KindNone {
			return "", errs.Wrap(errs.KindTransient, "persist outbox event", err)
		}
		return "", err
	}

	headers := map[string]string{
		HeaderEventID:       evt.EventID,
		HeaderTransactionID: m.TransactionID,
	}
	if err := w.pub.Publish(ctx, w.topic, []byte(evt.PartitionKey), payload, headers); err != nil {
		w.log.Warnf("publish event %s: %v", evt.EventID, err)
		if merr := w.repo.MarkOutboxFailed(ctx, evt.EventID, err.Error()); merr != nil {
			w.log.Errorf("mark outbox failed %s: %v", evt.EventID, merr)
		}
		return evt.EventID, nil
	}
	if err := w.repo.MarkOutboxSent(ctx, evt.EventID); err != nil {
		w.log.Errorf("mark outbox sent %s: %v", evt.EventID, err)
	}
	return evt.EventID, nil
}
