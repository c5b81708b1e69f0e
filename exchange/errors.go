package exchange

import (
	"errors"
	"fmt"
)

// Kind classifies exchange failures so callers branch on a value instead of
// inspecting error text.
type Kind int

const (
	KindUnknown Kind = iota
	KindRejected
	KindPositionModeMismatch
	KindNotFound
	KindTransient
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindRejected:
		return "rejected"
	case KindPositionModeMismatch:
		return "position_mode_mismatch"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Error is the classified error returned by Client implementations.
type Error struct {
	Kind    Kind
	Op      string // e.g. "create_order"
	Code    string // venue-specific code, if any
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s, code %s)", e.Op, msg, e.Kind, e.Code)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Op, msg, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error.
func NewError(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
