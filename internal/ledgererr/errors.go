package ledgererr

import (
	"errors"
	"fmt"
)

// Class is the error category from the ledger's taxonomy. The class
// decides handling policy: format errors are surfaced immediately and
// never retried, invariant violations are fatal to the operation and
// always audited before propagating, upstream failures become explicit
// MissingData disclosures.
type Class string

const (
	ClassFormat    Class = "format"
	ClassInvariant Class = "invariant"
	ClassNotFound  Class = "not_found"
	ClassUpstream  Class = "upstream"
)

// Machine-readable error codes.
const (
	CodeMalformedHash     = "MALFORMED_HASH"
	CodeParseFailure      = "PARSE_FAILURE"
	CodeDuplicateEvidence = "DUPLICATE_EVIDENCE"
	CodeTenantMismatch    = "TENANT_MISMATCH"
	CodeHashMismatch      = "HASH_MISMATCH"
	CodeMissingEvidence   = "MISSING_EVIDENCE"
	CodeSchemaUnsupported = "SCHEMA_VERSION_UNSUPPORTED"
)

// Error is a typed ledger error carrying its taxonomy class and a
// machine-readable code alongside the human-readable message.
type Error struct {
	Class   Class
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithCause attaches an underlying cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// Format creates a format error (malformed hash, unparseable record).
func Format(code, format string, args ...any) *Error {
	return &Error{Class: ClassFormat, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Invariant creates an invariant violation. Callers must audit-log the
// violation before letting it propagate.
func Invariant(code, format string, args ...any) *Error {
	return &Error{Class: ClassInvariant, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Upstream creates an upstream collection failure with the MissingData
// reason code as its error code.
func Upstream(reasonCode, format string, args ...any) *Error {
	return &Error{Class: ClassUpstream, Code: reasonCode, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates an explicit not-found error for the few call sites
// where absence is exceptional rather than an empty result.
func NotFound(code, format string, args ...any) *Error {
	return &Error{Class: ClassNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

// ClassOf returns the taxonomy class of err, or an empty class for
// untyped errors.
func ClassOf(err error) Class {
	var le *Error
	if errors.As(err, &le) {
		return le.Class
	}
	return ""
}

// CodeOf returns the machine-readable code of err, or "".
func CodeOf(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// IsInvariant reports whether err is an invariant violation.
func IsInvariant(err error) bool {
	return ClassOf(err) == ClassInvariant
}

// IsFormat reports whether err is a format error.
func IsFormat(err error) bool {
	return ClassOf(err) == ClassFormat
}

// IsUpstream reports whether err is an upstream collection failure.
func IsUpstream(err error) bool {
	return ClassOf(err) == ClassUpstream
}
