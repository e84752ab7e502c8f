package model

import "time"

// Outbox event statuses. Failed rows below the retry cap are retried by
// the sweeper; rows at the cap are terminal and escalated to the DLQ.
const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

type OutboxEvent struct {
	EventID      string    `gorm:"primaryKey;size:36"`
	Topic        string    `gorm:"size:128;not null"`
	PartitionKey string    `gorm:"size:64;not null"`
	Payload      string    `gorm:"type:jsonb;not null"`
	Status       string    `gorm:"size:16;not null;default:'pending';index"`
	RetryCount   int       `gorm:"not null;default:0"`
	LastError    string    `gorm:"size:512"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	SentAt       *time.Time
}

func (OutboxEvent) TableName() string { return "outbox" }
