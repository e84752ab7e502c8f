package repo

import (
	"context"
	"time"

	"github.com/brianYuDesign/balance-engine/internal/model"
	"gorm.io/gorm"
)

// CreateOutboxEvent writes a pending event inside the caller's
// transaction; see outbox.Writer.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// DueOutboxEvents pulls rows the sweeper should republish: pending rows
// stuck past the threshold, plus failed rows under the retry cap.
func (r *Repository) DueOutboxEvents(ctx context.Context, stuckAfter time.Duration, maxRetries, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	cutoff := time.Now().Add(-stuckAfter)
	err := r.db.WithContext(ctx).
		Where("(status = ? AND created_at < ?) OR (status = ? AND retry_count < ?)",
			model.OutboxPending, cutoff, model.OutboxFailed, maxRetries).
		Order("created_at").
		Limit(limit).
		Find(&evts).Error
	return evts, err
}

// MarkOutboxSent transitions a published row to sent.
func (r *Repository) MarkOutboxSent(ctx context.Context, eventID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{"status": model.OutboxSent, "sent_at": &now}).Error
}

// MarkOutboxFailed records a publish failure and bumps the retry count.
func (r *Repository) MarkOutboxFailed(ctx context.Context, eventID string, cause string) error {
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"status":      model.OutboxFailed,
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  cause,
		}).Error
}
