package shared

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for transport mapping and tests.
type Kind string

const (
	// KindValidation marks malformed or out-of-range input; nothing was written.
	KindValidation Kind = "validation"
	// KindNotFound marks a missing order, item, product, branch or user.
	KindNotFound Kind = "not_found"
	// KindAuthorization marks an actor lacking the role or branch scope for an operation.
	KindAuthorization Kind = "authorization"
	// KindConflict marks illegal transitions, duplicates, price mismatches and reassignments.
	KindConflict Kind = "conflict"
	// KindDependency marks a data store or channel failure; details stay in the logs.
	KindDependency Kind = "dependency"
)

// Error carries a stable kind plus a bilingual user-facing message.
type Error struct {
	Kind Kind
	Text Text
	Err  error
}

// Error implements the error interface using the English message.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Text.En, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Text.En)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Message returns the user-facing text in the requested language.
func (e *Error) Message(lang Lang) string { return e.Text.In(lang) }

// E builds a new Error with Arabic and English messages.
func E(kind Kind, ar, en string) *Error {
	return &Error{Kind: kind, Text: Text{Ar: ar, En: en}}
}

// Wrap attaches a kind and bilingual message to an underlying error.
func Wrap(kind Kind, err error, ar, en string) *Error {
	return &Error{Kind: kind, Text: Text{Ar: ar, En: en}, Err: err}
}

// KindOf extracts the kind from err; unclassified errors count as dependency failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDependency
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage returns the text shown to callers. Dependency failures are
// replaced with a generic message so internals never leak.
func UserMessage(err error, lang Lang) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindDependency {
		return e.Message(lang)
	}
	return Text{Ar: "خطأ في السيرفر", En: "Server error"}.In(lang)
}
