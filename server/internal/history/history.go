package history

import (
	"context"
	"errors"
	"time"

	"github.com/copperwatch/copperwatch/server/internal/alerts"
	"github.com/copperwatch/copperwatch/server/internal/rules"
)

// Store is an append-only event log with filtered, paginated reads.
type Store interface {
	Append(ctx context.Context, ev alerts.Event) error
	Query(ctx context.Context, f Filter) (Page, error)
	// Prune deletes events older than before and reports how many went.
	Prune(ctx context.Context, before time.Time) (int, error)
}

// Filter selects events. Zero fields do not constrain the result.
type Filter struct {
	RuleID      string
	Since       time.Time // inclusive
	Until       time.Time // exclusive
	MinSeverity rules.Severity
	Offset      int
	// Limit caps the page size; zero means no cap.
	Limit int
}

// Page is one slice of matching events in ascending timestamp order.
type Page struct {
	Events []alerts.Event `json:"events"`
	// Total counts every matching event, ignoring Offset and Limit.
	Total int `json:"total"`
}

var errNegativePaging = errors.New("history: offset and limit must not be negative")

func (f Filter) validate() error {
	if f.Offset < 0 || f.Limit < 0 {
		return errNegativePaging
	}
	return nil
}

func (f Filter) match(ev alerts.Event) bool {
	if f.RuleID != "" && ev.RuleID != f.RuleID {
		return false
	}
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !ev.Timestamp.Before(f.Until) {
		return false
	}
	if f.MinSeverity != "" && ev.Severity.Rank() < f.MinSeverity.Rank() {
		return false
	}
	return true
}

// Recent returns every event recorded in the last hours hours.
func Recent(ctx context.Context, s Store, hours int) ([]alerts.Event, error) {
	if hours <= 0 {
		return nil, errors.New("history: hours must be positive")
	}
	page, err := s.Query(ctx, Filter{Since: time.Now().Add(-time.Duration(hours) * time.Hour)})
	if err != nil {
		return nil, err
	}
	return page.Events, nil
}
