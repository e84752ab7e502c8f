package model

import "time"

// Account is created by the administrative path; the engine only reads it.
type Account struct {
	ID          uint64    `gorm:"primaryKey"`
	BusinessKey string    `gorm:"size:64;uniqueIndex;not null"`
	ShardID     int32     `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (Account) TableName() string { return "accounts" }
