package record

import (
	"encoding/json"

	"github.com/brianYuDesign/balance-engine/internal/errs"
	"github.com/shopspring/decimal"
)

// SchemaVersion of the mutation wire format.
const SchemaVersion = 1

// Mutation kinds.
const (
	KindDeposit  = "deposit"
	KindWithdraw = "withdraw"
	KindFreeze   = "freeze"
	KindUnfreeze = "unfreeze"
	KindTransfer = "transfer"
)

// Mutation is the self-describing payload carried through the outbox and
// the log. Amount serializes as a string decimal; Metadata is an opaque
// extension field round-tripped untouched.
type Mutation struct {
	SchemaVersion int             `json:"schema_version"`
	TransactionID string          `json:"transaction_id"`
	AccountID     uint64          `json:"account_id"`
	UserKey       string          `json:"user_key"`
	Currency      string          `json:"currency"`
	Kind          string          `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// ValidKind reports whether k is a known mutation kind.
func ValidKind(k string) bool {
	switch k {
	case KindDeposit, KindWithdraw, KindFreeze, KindUnfreeze, KindTransfer:
		return true
	}
	return false
}

// Validate checks the invariants every mutation must satisfy before it
// enters the pipeline.
func (m *Mutation) Validate() error {
	if m.TransactionID == "" {
		return errs.New(errs.KindValidation, "transaction_id is required")
	}
	if m.AccountID == 0 {
		return errs.New(errs.KindValidation, "account_id is required")
	}
	if m.UserKey == "" {
		return errs.New(errs.KindValidation, "user_key is required")
	}
	if m.Currency == "" {
		return errs.New(errs.KindValidation, "currency is required")
	}
	if !ValidKind(m.Kind) {
		return errs.Newf(errs.KindValidation, "unknown kind %q", m.Kind)
	}
	if m.Amount.LessThanOrEqual(decimal.Zero) {
		return errs.New(errs.KindValidation, "amount must be positive")
	}
	return nil
}

// Marshal serializes m, stamping the schema version.
func Marshal(m *Mutation) ([]byte, error) {
	m.SchemaVersion = SchemaVersion
	return json.Marshal(m)
}

// Unmarshal parses and structurally validates a mutation payload.
// Callers route failures to the dead-letter topic.
func Unmarshal(b []byte) (*Mutation, error) {
	var m Mutation
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "malformed mutation payload", err)
	}
	if m.SchemaVersion != SchemaVersion {
		return nil, errs.Newf(errs.KindValidation, "unsupported schema version %d", m.SchemaVersion)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
