package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation decisions: terminal kinds
// produce a failed ledger row and advance the offset, Transient retries,
// LeaseLost aborts the batch without an offset advance.
type Kind int

const (
	KindNone Kind = iota
	KindDuplicate
	KindInsufficientFunds
	KindUnknownBalance
	KindValidation
	KindTransient
	KindLeaseLost
	KindDLQ
)

func (k Kind) String() string {
	switch k {
	case KindDuplicate:
		return "duplicate"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindUnknownBalance:
		return "unknown_balance"
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindLeaseLost:
		return "lease_lost"
	case KindDLQ:
		return "dlq"
	default:
		return "none"
	}
}

// Error carries a kind alongside the message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a kinded error with the given message.
func New(k Kind, msg string) error { return &Error{Kind: k, Msg: msg} }

// Newf is New with formatting.
func Newf(k Kind, format string, args ...interface{}) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(k Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Msg: msg, Err: err}
}

// KindOf extracts the kind from err, or KindNone.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}

// Terminal reports whether err is terminal at the record level.
func Terminal(err error) bool {
	switch KindOf(err) {
	case KindDuplicate, KindInsufficientFunds, KindUnknownBalance, KindValidation:
		return true
	}
	return false
}
