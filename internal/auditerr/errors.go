// Package auditerr defines the error taxonomy shared by the temporal index,
// the snapshot resolver, the diff writer and the event ledger.
//
// Every error is returned to the immediate caller; nothing in the core
// swallows one. Use the Is helpers, which see through wrapping.
package auditerr

import (
	"errors"
	"fmt"
)

// Code categorizes an Error.
type Code string

const (
	// CodeConflictingEntry: two different entries claim the same (ObjectID, CommitID).
	CodeConflictingEntry Code = "CONFLICTING_ENTRY"

	// CodeNotFound: the object never existed in the log at all.
	CodeNotFound Code = "NOT_FOUND"

	// CodeUnsupported: type-wide enumeration on a lazy context, or a
	// root-scoped query for an id that is not an aggregate root.
	CodeUnsupported Code = "UNSUPPORTED_OPERATION"

	// CodeStructuralIntegrity: a diff input set has an unresolvable parent
	// link or a parent cycle.
	CodeStructuralIntegrity Code = "STRUCTURAL_INTEGRITY"

	// CodeConcurrencyExhausted: the optimistic event-order advance gave up.
	CodeConcurrencyExhausted Code = "CONCURRENCY_EXHAUSTED"

	// CodeConfiguration: missing entity metadata or an invalid event variant.
	CodeConfiguration Code = "CONFIGURATION"

	// CodeInvalidState: an event transition not allowed by its state machine.
	CodeInvalidState Code = "INVALID_STATE"
)

// Error carries a code plus whatever identifiers locate the failure.
type Error struct {
	Code     Code
	Message  string
	ObjectID int64
	CommitID int64
	Details  map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.ObjectID != 0 && e.CommitID != 0:
		return fmt.Sprintf("%s: %s (object=%d, commit=%d)", e.Code, e.Message, e.ObjectID, e.CommitID)
	case e.ObjectID != 0:
		return fmt.Sprintf("%s: %s (object=%d)", e.Code, e.Message, e.ObjectID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Is lets errors.Is match on code: errors.Is(err, &Error{Code: CodeNotFound}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// HasCode reports whether err wraps an *Error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

func IsConflictingEntry(err error) bool     { return HasCode(err, CodeConflictingEntry) }
func IsNotFound(err error) bool             { return HasCode(err, CodeNotFound) }
func IsUnsupported(err error) bool          { return HasCode(err, CodeUnsupported) }
func IsStructuralIntegrity(err error) bool  { return HasCode(err, CodeStructuralIntegrity) }
func IsConcurrencyExhausted(err error) bool { return HasCode(err, CodeConcurrencyExhausted) }
func IsConfiguration(err error) bool        { return HasCode(err, CodeConfiguration) }
func IsInvalidState(err error) bool         { return HasCode(err, CodeInvalidState) }

// ConflictingEntry reports two different entries for one (object, commit).
func ConflictingEntry(objectID, commitID int64) *Error {
	return &Error{
		Code:     CodeConflictingEntry,
		Message:  "different entries claim the same object revision",
		ObjectID: objectID,
		CommitID: commitID,
	}
}

// NotFound reports an object with no log entries at all.
func NotFound(objectID int64, format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...), ObjectID: objectID}
}

// Unsupported reports a usage-contract violation.
func Unsupported(format string, args ...any) *Error {
	return &Error{Code: CodeUnsupported, Message: fmt.Sprintf(format, args...)}
}

// StructuralIntegrity reports a corrupt diff input set.
func StructuralIntegrity(objectID int64, format string, args ...any) *Error {
	return &Error{Code: CodeStructuralIntegrity, Message: fmt.Sprintf(format, args...), ObjectID: objectID}
}

// ConcurrencyExhausted reports a CAS loop that hit its bound.
func ConcurrencyExhausted(attempts int) *Error {
	return &Error{
		Code:    CodeConcurrencyExhausted,
		Message: fmt.Sprintf("event order counter still contended after %d attempts", attempts),
		Details: map[string]string{"attempts": fmt.Sprintf("%d", attempts)},
	}
}

// Configuration reports missing or invalid metadata.
func Configuration(format string, args ...any) *Error {
	return &Error{Code: CodeConfiguration, Message: fmt.Sprintf(format, args...)}
}

// InvalidState reports a forbidden state transition.
func InvalidState(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidState, Message: fmt.Sprintf(format, args...)}
}
