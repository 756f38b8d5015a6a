// Package apperr defines the error categories used across aoievidence-cli.
//
// Error taxonomy
//
//	UserError  – caused by missing or invalid user input (wrong flag, bad value, …).
//	             The CLI prints only the message; usage help is NOT repeated.
//	             Exit code: 1.
//
//	ErrCancelled – the user deliberately aborted an interactive flow (eviction
//	               confirmation prompt, …).
//	               Exit code: 0 (not a failure).
//
//	*Error     – a pipeline failure with a Kind (InvalidGeometry, TileUnavailable,
//	             BundleCollision, …), the component that raised it and the key it
//	             concerns (tile id, AOI id, bundle id, run id).
//	             Exit code: 1.
//
// Everything else is a plain Go error (I/O, network, JSON parsing, …) and is
// propagated with fmt.Errorf("context: %w", err) wrapping.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCancelled is returned when the user explicitly aborts an interactive
// operation.  The CLI should exit 0 rather than 1 when it sees this error.
var ErrCancelled = errors.New("operation cancelled")

// UserError represents an error caused by invalid or missing user input.
// Cobra command handlers return this instead of a bare fmt.Errorf so that
// the root command can suppress repeated usage output and format the message
// in a user-friendly way.
type UserError struct {
	Message string
}

func (e *UserError) Error() string { return e.Message }

// User creates a UserError with the given message.
func User(msg string) error { return &UserError{Message: msg} }

// Userf creates a formatted UserError.
func Userf(format string, args ...any) error {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// IsUser reports whether err is (or wraps) a *UserError.
func IsUser(err error) bool {
	var u *UserError
	return errors.As(err, &u)
}

// Kind classifies a pipeline failure.
type Kind string

const (
	InvalidGeometry    Kind = "InvalidGeometry"
	EmptyGeometry      Kind = "EmptyGeometry"
	TileUnavailable    Kind = "TileUnavailable"
	RasterMismatch     Kind = "RasterMismatch"
	MissingCoverage    Kind = "MissingCoverage"
	BundleCollision    Kind = "BundleCollision"
	UnexpectedRunCount Kind = "UnexpectedRunCount"
	InvalidConfig      Kind = "InvalidConfig"
)

// Sentinels usable with errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrInvalidGeometry    = &Error{Kind: InvalidGeometry}
	ErrEmptyGeometry      = &Error{Kind: EmptyGeometry}
	ErrTileUnavailable    = &Error{Kind: TileUnavailable}
	ErrRasterMismatch     = &Error{Kind: RasterMismatch}
	ErrMissingCoverage    = &Error{Kind: MissingCoverage}
	ErrBundleCollision    = &Error{Kind: BundleCollision}
	ErrUnexpectedRunCount = &Error{Kind: UnexpectedRunCount}
	ErrInvalidConfig      = &Error{Kind: InvalidConfig}
)

// Error is a classified pipeline failure.
type Error struct {
	Kind      Kind
	Component string // aoi, tilecache, zonal, bundle, staging, ...
	Key       string // tile id, AOI id, bundle id or run id the failure concerns
	Message   string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Component != "" {
		b.WriteString(" [" + e.Component + "]")
	}
	if e.Key != "" {
		b.WriteString(" " + e.Key)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so the package sentinels work with
// errors.Is regardless of component, key or message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Component == "" && t.Key == "" && t.Message == "" && t.Err == nil
}

// New creates a classified error.
func New(kind Kind, component, key, format string, args ...any) error {
	return &Error{Kind: kind, Component: component, Key: key, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, component, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Component: component, Key: key, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
