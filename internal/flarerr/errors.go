// Package flarerr provides typed errors for the flare server.
//
// Command handlers return errors classified by Kind; the connection layer
// uses the kind to decide between sending an error response and tearing
// down the connection.
package flarerr

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Kind classifies an error for the protocol layer.
type Kind int

const (
	// KindInternal is an unexpected failure.
	KindInternal Kind = iota
	// KindInvalidInput is a missing or empty required option, or a missing cmd.
	KindInvalidInput
	// KindNotFound is an unknown session id or a missing sample file/header.
	KindNotFound
	// KindTransport is a malformed frame, JSON parse failure, or socket
	// failure. Transport errors are fatal to the owning connection.
	KindTransport
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindTransport:
		return "transport"
	default:
		return "internal"
	}
}

// Error is a kinded error with a human-readable message.
type Error struct {
	kind Kind
	msg  string
	err  error // wrapped cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.err != nil && e.msg == "" {
		return e.err.Error()
	}
	return e.msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.err
}

// Kind returns the error's kind.
func (e *Error) Kind() Kind {
	return e.kind
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a kind and message. Returns nil if err is nil.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: fmt.Sprintf("%s: %v", msg, err), err: err}
}

// InvalidInput creates an InvalidInput error.
func InvalidInput(msg string) *Error {
	return New(KindInvalidInput, msg)
}

// MissingOption creates an InvalidInput error for an absent required option.
func MissingOption(name string) *Error {
	return Newf(KindInvalidInput, "missing option '%s'", name)
}

// NotFound creates a NotFound error.
func NotFound(msg string) *Error {
	return New(KindNotFound, msg)
}

// Transport wraps err as a Transport error.
func Transport(err error, msg string) *Error {
	return Wrap(KindTransport, err, msg)
}

// KindOf classifies an arbitrary error. Errors that do not carry a kind
// are treated as internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// DeferClose properly closes an io.Closer with logging.
// Use this in defer statements to avoid suppressing close errors.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn().Err(err).Msg(msg)
	}
}
