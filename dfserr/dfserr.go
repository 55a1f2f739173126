// Package dfserr defines the error taxonomy shared by every package in this
// module. Components never return a bare errors.New; they wrap the
// underlying cause with a Kind so callers can branch on it with Is.
package dfserr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind uint8

const (
	// InvalidParameters signals a construction-time misuse: wrong key
	// size, empty address, bad port. Never recoverable.
	InvalidParameters Kind = iota
	// IO signals a filesystem read/write/create/remove failure.
	IO
	// Crypto signals RNG failure, padding failure, or cipher init failure.
	Crypto
	// Network signals connect, accept, send, recv, or resolve failure.
	Network
	// NotFound signals a Store lookup miss. Not exceptional internally.
	NotFound
	// FrameTooLarge signals a deserialized payload_size over the configured cap.
	FrameTooLarge
)

func (k Kind) String() string {
	switch k {
	case InvalidParameters:
		return "invalid_parameters"
	case IO:
		return "io"
	case Crypto:
		return "crypto"
	case Network:
		return "network"
	case NotFound:
		return "not_found"
	case FrameTooLarge:
		return "frame_too_large"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and a contextual message.
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

// Wrap builds a *Error from a lower-level cause. err may be nil, in which
// case the resulting error carries no wrapped cause.
func Wrap(err error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// New builds a *Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
