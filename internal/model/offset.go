package model

import "time"

// ConsumerOffset stores the last committed log offset per
// (group, topic, partition). Advances happen inside the batch commit
// transaction and are monotonic.
type ConsumerOffset struct {
	ID         uint64    `gorm:"primaryKey"`
	GroupID    string    `gorm:"size:64;not null;uniqueIndex:uq_consumer_offset,priority:1"`
	Topic      string    `gorm:"size:128;not null;uniqueIndex:uq_consumer_offset,priority:2"`
	Partition  int32     `gorm:"not null;uniqueIndex:uq_consumer_offset,priority:3"`
	LastOffset int64     `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (ConsumerOffset) TableName() string { return "consumer_offsets" }
