// Package errs defines the error kinds shared by the model store, the
// predictor registry and the daemon supervisor.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure. Two *Error values match under
// errors.Is when their kinds are equal.
type Kind string

const (
	KindNotRunning            Kind = "not_running"
	KindPermissionDenied      Kind = "permission_denied"
	KindFetchFailed           Kind = "fetch_failed"
	KindIntegrityUnresolvable Kind = "integrity_unresolvable"
	KindIOFailure             Kind = "io_failure"
	KindPredictorUnavailable  Kind = "predictor_unavailable"
	KindUpToDate              Kind = "up_to_date"
	KindInvalidInput          Kind = "invalid_input"
)

// Sentinels for errors.Is checks.
var (
	ErrNotRunning            = New(KindNotRunning, "daemon is not running")
	ErrPermissionDenied      = New(KindPermissionDenied, "root permissions required")
	ErrFetchFailed           = New(KindFetchFailed, "model fetch failed")
	ErrIntegrityUnresolvable = New(KindIntegrityUnresolvable, "remote digest unavailable")
	ErrIOFailure             = New(KindIOFailure, "local I/O failure")
	ErrPredictorUnavailable  = New(KindPredictorUnavailable, "predictor unavailable")
	ErrInvalidInput          = New(KindInvalidInput, "invalid input")

	// ErrUpToDate is returned by storage backends when the local copy is
	// current and nothing has to be downloaded. It never leaves the model
	// store.
	ErrUpToDate = New(KindUpToDate, "local model is up to date")
)

// Error is the error type used across solverd.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on kind so wrapped errors compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail attaches a key/value pair for structured logging.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap wraps err with a kind and message. A nil err yields nil.
func Wrap(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

// KindOf returns the kind of the outermost *Error in the chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
