package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance holds the available/frozen funds of one (account, currency).
// Version increments on every successful mutation and doubles as the
// logical timestamp for cache last-writer-wins.
type Balance struct {
	AccountID    uint64          `gorm:"primaryKey;autoIncrement:false"`
	CurrencyCode string          `gorm:"primaryKey;size:16"`
	Available    decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	Frozen       decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	Version      uint64          `gorm:"not null;default:0"`
	UpdatedAt    time.Time
}

func (Balance) TableName() string { return "balances" }
