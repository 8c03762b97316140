package faults

// Error classification for the classification service.
//
// Every failure surfaced by the spectrum, template and classify packages
// carries one of the kinds below so that the transport layer can map it to a
// response without string matching:
//
//   Format          - unrecognized or unparsable spectrum file
//   Validation      - shape/range/option violation caught before inference
//   NotFound        - unknown template key, model ID or file
//   Conflict        - duplicate model registration
//   Pipeline        - failure inside the classification/redshift stages
//   Configuration   - built-in model or template corpus failed to load (fatal)
//   ExternalService - the opaque inference backend failed
//
// Format, Validation and NotFound are expected client-facing outcomes and are
// never retried. Configuration errors abort startup.

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Format Kind = iota
	Validation
	NotFound
	Conflict
	Pipeline
	Configuration
	ExternalService
)

func (k Kind) String() string {
	switch k {
	case Format:
		return "format"
	case Validation:
		return "validation"
	case NotFound:
		return "not-found"
	case Conflict:
		return "conflict"
	case Pipeline:
		return "pipeline"
	case Configuration:
		return "configuration"
	case ExternalService:
		return "external-service"
	}
	return "unknown"
}

// Error is a kinded error. It wraps an optional cause so callers can keep
// using errors.Is/errors.As across package boundaries.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

// Kind reports the classification of the error.
func (e *Error) Kind() Kind { return e.kind }

// New builds a kinded error from a format string.
func New(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the kind of err, unwrapping as needed. The second return
// value is false when err carries no classification.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind, true
	}
	return 0, false
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
