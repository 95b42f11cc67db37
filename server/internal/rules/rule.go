package rules

import (
	"strings"
	"time"
)

// DefaultSymbol labels events from rules that do not name an instrument.
const DefaultSymbol = "CU"

// Rule is a declarative alert definition. Rules are values: the engine keeps
// its own copy and owns all runtime state separately.
type Rule struct {
	ID        string
	Name      string
	Symbol    string
	Severity  Severity
	Cooldown  time.Duration
	Enabled   bool
	Condition Condition
}

// Kind returns the kind of the rule's condition, or "" when it has none.
func (r Rule) Kind() Kind {
	if r.Condition == nil {
		return ""
	}
	return r.Condition.Kind()
}

// Normalize fills optional fields with their defaults.
func (r Rule) Normalize() Rule {
	r.ID = strings.TrimSpace(r.ID)
	if r.Name == "" {
		r.Name = r.ID
	}
	if r.Symbol == "" {
		r.Symbol = DefaultSymbol
	}
	if r.Severity == "" {
		r.Severity = DefaultSeverity
	}
	if r.Condition != nil {
		r.Condition = r.Condition.withDefaults()
	}
	return r
}

// Validate checks r after normalization. The id may be empty; the engine
// assigns one on registration.
func (r Rule) Validate() error {
	r = r.Normalize()
	if r.Condition == nil {
		return &ValidationError{RuleID: r.ID, Field: "kind", Reason: "is required"}
	}
	if r.Cooldown < 0 {
		return &ValidationError{RuleID: r.ID, Field: "cooldown_seconds", Reason: "must not be negative"}
	}
	if r.Severity.Rank() == 0 {
		return &ValidationError{RuleID: r.ID, Field: "severity", Reason: "unknown severity " + string(r.Severity)}
	}
	if err := r.Condition.validate(); err != nil {
		if ve, ok := err.(*ValidationError); ok {
			ve.RuleID = r.ID
			return ve
		}
		return &ValidationError{RuleID: r.ID, Field: "parameters", Reason: err.Error(), Err: err}
	}
	return nil
}
