/*
Package arherr implements the error taxonomy of spec.md §7 as sentinel-
wrapped kinds checked with errors.Is/As, instead of ad-hoc string-matched
errors. Every fallible operation in the core returns an error that, when it
originates in this module, wraps one of the Kind values below so a caller
(CLI, front-end collaborator) can branch on what went wrong without parsing
messages.
*/
package arherr

import (
	"errors"
	"fmt"
)

// Kind is one of the error categories from spec.md §7's taxonomy table.
type Kind string

const (
	KindLocked      Kind = "locked"
	KindValidation  Kind = "validation"
	KindConflict    Kind = "conflict"
	KindNotFound    Kind = "not_found"
	KindCorruption  Kind = "corruption"
	KindIO          Kind = "io"
	KindNetwork     Kind = "network"
	KindCancelled   Kind = "cancelled"
)

// Error is the concrete error type produced by this package. Callers should
// use errors.Is against the Kind-specific sentinels below, or errors.As to
// recover *Error and inspect Kind/Fields directly.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Wrapped error
}

// FieldError is one entry in a structured Validation error.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is supports errors.Is(err, arherr.Locked) style checks against the
// exported sentinels by comparing Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message != "" {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels usable with errors.Is, e.g. errors.Is(err, arherr.Locked).
var (
	Locked     = &Error{Kind: KindLocked}
	Validation = &Error{Kind: KindValidation}
	Conflict   = &Error{Kind: KindConflict}
	NotFound   = &Error{Kind: KindNotFound}
	Corruption = &Error{Kind: KindCorruption}
	IO         = &Error{Kind: KindIO}
	Network    = &Error{Kind: KindNetwork}
	Cancelled  = &Error{Kind: KindCancelled}
)

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind that wraps err, preserving it for
// errors.Unwrap/errors.As.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Wrapped: err}
}

// WithFields attaches field-level validation entries and returns the
// receiver for chaining at the call site.
func (e *Error) WithFields(fields ...FieldError) *Error {
	e.Fields = fields
	return e
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, and reports ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err's kind matches kind, for callers that prefer a
// plain function over errors.Is(err, sentinel).
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
