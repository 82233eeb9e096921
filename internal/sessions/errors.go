package sessions

import (
	"errors"
	"fmt"
)

// Kind classifies registry failures so callers can branch without knowing
// which document store backs the registry.
type Kind string

const (
	KindStoreUnavailable Kind = "store_unavailable"
	KindNotFound         Kind = "not_found"
	KindMalformedInput   Kind = "malformed_input"
	KindSubscription     Kind = "subscription"
)

// Error is the typed failure returned by every Registry operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("sessions: %s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("sessions: %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a registry Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind == kind
	}
	return false
}

func malformed(op, message string) error {
	return &Error{Kind: KindMalformedInput, Op: op, Message: message}
}

func unavailable(op string, err error) error {
	return &Error{Kind: KindStoreUnavailable, Op: op, Message: "session store unavailable", Err: err}
}

func notFound(op, id string) error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf("session %q not found", id)}
}
