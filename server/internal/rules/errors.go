package rules

import (
	"errors"
	"fmt"
)

// ErrEmptyDocument is returned by Import for a document with no records
// section at all: empty input, or a mapping without a rules key. An explicit
// empty list ("rules: []") is a valid, empty rule set.
var ErrEmptyDocument = errors.New("rules: document has no rules section")

// ValidationError reports a malformed rule. Err, when set, carries the cause
// (for example an UnknownKindError).
type ValidationError struct {
	RuleID string
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := "invalid rule"
	if e.RuleID != "" {
		msg += fmt.Sprintf(" %q", e.RuleID)
	}
	if e.Field != "" {
		msg += ": " + e.Field
	}
	return msg + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// UnknownKindError reports a kind outside the supported set.
type UnknownKindError struct {
	Kind Kind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown rule kind %q", e.Kind)
}

// RuleNotFoundError is returned for operations on an id that is not registered.
type RuleNotFoundError struct {
	ID string
}

func (e *RuleNotFoundError) Error() string {
	return fmt.Sprintf("rule %q not found", e.ID)
}

// DuplicateRuleError is returned when adding a rule whose id is already registered.
type DuplicateRuleError struct {
	ID string
}

func (e *DuplicateRuleError) Error() string {
	return fmt.Sprintf("rule %q already exists", e.ID)
}

// RecordError ties a decode or validation failure to its position in an
// imported document.
type RecordError struct {
	Index int
	ID    string
	Err   error
}

func (e *RecordError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("record %d (%s): %v", e.Index, e.ID, e.Err)
	}
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is or wraps a RuleNotFoundError.
func IsNotFound(err error) bool {
	var nf *RuleNotFoundError
	return errors.As(err, &nf)
}

// IsDuplicate reports whether err is or wraps a DuplicateRuleError.
func IsDuplicate(err error) bool {
	var d *DuplicateRuleError
	return errors.As(err, &d)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
