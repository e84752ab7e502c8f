package record

import (
	"encoding/json"
	"testing"

	"github.com/brianYuDesign/balance-engine/internal/errs"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMutationRoundTrip(t *testing.T) {
	m := &Mutation{
		TransactionID: "t1",
		AccountID:     1,
		UserKey:       "user-1",
		Currency:      "USDT",
		Kind:          KindDeposit,
		Amount:        decimal.RequireFromString("100.000000000000000001"),
		Description:   "first deposit",
		Metadata:      json.RawMessage(`{"source":"api"}`),
	}
	b, err := Marshal(m)
	assert.NoError(t, err)

	got, err := Unmarshal(b)
	assert.NoError(t, err)
	assert.Equal(t, SchemaVersion, got.SchemaVersion)
	assert.Equal(t, "t1", got.TransactionID)
	assert.True(t, got.Amount.Equal(m.Amount), "amount must survive the round trip exactly")
	assert.JSONEq(t, `{"source":"api"}`, string(got.Metadata))
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestUnmarshalRejectsUnknownKind(t *testing.T) {
	m := &Mutation{
		SchemaVersion: SchemaVersion,
		TransactionID: "t1",
		AccountID:     1,
		UserKey:       "u",
		Currency:      "USDT",
		Kind:          "mint",
		Amount:        decimal.NewFromInt(1),
	}
	b, _ := json.Marshal(m)
	_, err := Unmarshal(b)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestValidateRejectsNonPositiveAmount(t *testing.T) {
	m := &Mutation{
		TransactionID: "t1",
		AccountID:     1,
		UserKey:       "u",
		Currency:      "USDT",
		Kind:          KindWithdraw,
		Amount:        decimal.Zero,
	}
	assert.Equal(t, errs.KindValidation, errs.KindOf(m.Validate()))
}

func TestDLQMessageRoundTrip(t *testing.T) {
	raw := []byte(`{"broken":`)
	d := NewDLQMessage("balance-changes", 3, 42, []byte("user-1"), raw, 2, "validation", "malformed payload")
	b, err := d.Encode()
	assert.NoError(t, err)

	var got DLQMessage
	assert.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "balance-changes", got.OriginalTopic)
	assert.Equal(t, int64(42), got.OriginalOffset)
	assert.Equal(t, raw, got.OriginalValue)
	assert.Equal(t, 2, got.RetryCount)
	assert.NotEmpty(t, got.FailedAt)
}
