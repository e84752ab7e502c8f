package model

import "time"

// LeaderLease is the single-row-per-partition lease backing leader
// election. Ownership changes only when the previous lease expired.
type LeaderLease struct {
	Partition  int32     `gorm:"primaryKey;autoIncrement:false"`
	HolderID   string    `gorm:"size:64;not null"`
	AcquiredAt time.Time `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"not null;index"`
}

func (LeaderLease) TableName() string { return "leader_leases" }
