package tether

import (
	"errors"
	"fmt"
)

// ConversionError reports a value that cannot be coerced to a column's kind.
// Raised synchronously at assignment or flush time; never retried.
type ConversionError struct {
	// Column is the column the value was destined for, when known.
	Column string

	// Kind is the target column kind.
	Kind Kind

	// Value is the rejected value.
	Value any

	// Reason describes why the coercion failed.
	Reason string
}

func (e *ConversionError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("cannot convert %T to %s for column %q: %s", e.Value, e.Kind, e.Column, e.Reason)
	}
	return fmt.Sprintf("cannot convert %T to %s: %s", e.Value, e.Kind, e.Reason)
}

// IsConversionError reports whether err is (or wraps) a ConversionError.
func IsConversionError(err error) bool {
	var ce *ConversionError
	return errors.As(err, &ce)
}

// ReferenceError reports an object linked to the wrong store, an operation
// on an unlinked object, or a relationship target that cannot be resolved.
// Raised synchronously; never retried.
type ReferenceError struct {
	// Class names the affected class, when known.
	Class string

	// Message is a human-readable description.
	Message string
}

func (e *ReferenceError) Error() string {
	if e.Class != "" {
		return fmt.Sprintf("reference error: %s: %s", e.Class, e.Message)
	}
	return fmt.Sprintf("reference error: %s", e.Message)
}

// IsReferenceError reports whether err is (or wraps) a ReferenceError.
func IsReferenceError(err error) bool {
	var re *ReferenceError
	return errors.As(err, &re)
}

// FlushError wraps the first write failure encountered during a flush.
// Writes issued before the failure remain applied in the open transaction;
// the caller decides whether to Rollback. No automatic rollback or retry.
type FlushError struct {
	// Class names the class whose write failed.
	Class string

	// Statement is the SQL text of the failed write.
	Statement string

	// Err is the underlying executor error.
	Err error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush %s: %v", e.Class, e.Err)
}

func (e *FlushError) Unwrap() error {
	return e.Err
}

// IsFlushError reports whether err is (or wraps) a FlushError.
func IsFlushError(err error) bool {
	var fe *FlushError
	return errors.As(err, &fe)
}

// NotOneError reports a query that yielded zero or more than one row where
// exactly one was expected.
type NotOneError struct {
	// Class names the queried class.
	Class string

	// Count is the number of rows observed: 0, or 2 meaning "at least two".
	Count int
}

func (e *NotOneError) Error() string {
	if e.Count == 0 {
		return fmt.Sprintf("expected one %s row, got none", e.Class)
	}
	return fmt.Sprintf("expected one %s row, got multiple", e.Class)
}

// IsNotOneError reports whether err is (or wraps) a NotOneError.
func IsNotOneError(err error) bool {
	var ne *NotOneError
	return errors.As(err, &ne)
}
