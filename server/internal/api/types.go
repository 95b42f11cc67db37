package api

import (
	"time"

	"github.com/copperwatch/copperwatch/server/internal/alerts"
	"github.com/copperwatch/copperwatch/server/internal/rules"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status         string   `json:"status"`
	RuleCount      int      `json:"rule_count"`
	EnabledCount   int      `json:"enabled_count"`
	Notifiers      []string `json:"notifiers"`
	MonitorRunning bool     `json:"monitor_running"`
}

// RuleResponse is one rule in GET /api/v1/rules or GET /api/v1/rules/{id}:
// the serialized record plus its runtime state.
type RuleResponse struct {
	rules.Record
	LastValue   *float64   `json:"last_value,omitempty"`
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
}

// EnabledRequest is the body of PATCH /api/v1/rules/{id}.
type EnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// ImportResponse is the payload for POST /api/v1/rules/import.
type ImportResponse struct {
	Imported int      `json:"imported"`
	Errors   []string `json:"errors"`
}

// AlertsResponse is the payload for GET /api/v1/alerts.
type AlertsResponse struct {
	Alerts []alerts.Event `json:"alerts"`
	Total  int            `json:"total"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

// SnapshotRequest is the body of POST /api/v1/snapshots.
type SnapshotRequest struct {
	Timestamp time.Time          `json:"timestamp"`
	Fields    map[string]float64 `json:"fields"`
}

// SummaryResponse reports one evaluation pass.
type SummaryResponse struct {
	Timestamp        time.Time      `json:"timestamp"`
	Evaluated        int            `json:"evaluated"`
	Fired            int            `json:"fired"`
	Suppressed       int            `json:"suppressed"`
	Skipped          int            `json:"skipped"`
	Errored          int            `json:"errored"`
	DeliveryFailures int            `json:"delivery_failures"`
	Events           []alerts.Event `json:"events"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

func toRuleResponse(s alerts.RuleStatus) RuleResponse {
	return RuleResponse{
		Record:      rules.ToRecord(s.Rule),
		LastValue:   s.LastValue,
		LastFiredAt: s.LastFiredAt,
	}
}

func toSummaryResponse(s alerts.Summary) SummaryResponse {
	events := s.Events
	if events == nil {
		events = []alerts.Event{}
	}
	return SummaryResponse{
		Timestamp:        s.Timestamp,
		Evaluated:        s.Evaluated,
		Fired:            s.Fired,
		Suppressed:       s.Suppressed,
		Skipped:          s.Skipped,
		Errored:          s.Errored,
		DeliveryFailures: s.DeliveryFailures,
		Events:           events,
	}
}
