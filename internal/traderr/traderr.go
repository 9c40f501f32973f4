// Package traderr
package traderr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how callers should react to it.
type Kind int

const (
	// KindProtocol marks a malformed or unsupported action. Programmer error,
	// fatal to the calling path only.
	KindProtocol Kind = iota + 1
	// KindVenue marks a rejected or failed venue call. Recoverable; retried on
	// the caller's next cycle.
	KindVenue
	// KindStorage marks an unavailable persistence layer. Recoverable and
	// cycle-scoped; in-memory state stays intact.
	KindStorage
	// KindConfig marks an invalid or missing property. Fatal at strategy-start
	// time only.
	KindConfig
	// KindLifecycle marks start/stop misuse such as a double start.
	KindLifecycle
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindVenue:
		return "venue"
	case KindStorage:
		return "storage"
	case KindConfig:
		return "config"
	case KindLifecycle:
		return "lifecycle"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the wrapped cause.
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

// New creates a typed error without a cause.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error. A nil cause yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind of err, or 0 when err carries none.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
