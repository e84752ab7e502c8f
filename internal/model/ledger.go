package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger entry statuses.
const (
	LedgerInit       = "init"
	LedgerProcessing = "processing"
	LedgerSuccess    = "success"
	LedgerFailed     = "failed"
)

// LedgerEntry records the terminal outcome of one mutation. The primary
// key on TransactionID is the idempotency index for the whole system.
type LedgerEntry struct {
	TransactionID   string          `gorm:"primaryKey;size:64"`
	AccountID       uint64          `gorm:"index;not null"`
	CurrencyCode    string          `gorm:"size:16;not null"`
	Kind            string          `gorm:"size:16;not null"`
	Amount          decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	AvailableBefore decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	AvailableAfter  decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	FrozenBefore    decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	FrozenAfter     decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	Status          string          `gorm:"size:16;not null"`
	ErrorMessage    string          `gorm:"size:512"`
	CreatedAt       time.Time       `gorm:"autoCreateTime"`
}

func (LedgerEntry) TableName() string { return "ledger" }

// TerminalStatus reports whether s is success or failed.
func TerminalStatus(s string) bool { return s == LedgerSuccess || s == LedgerFailed }
