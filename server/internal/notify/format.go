package notify

import (
	"fmt"
	"time"

	"github.com/copperwatch/copperwatch/server/internal/alerts"
	"github.com/copperwatch/copperwatch/server/internal/rules"
)

func severityLabel(s rules.Severity) string {
	switch s {
	case rules.SeverityCritical:
		return "[CRITICAL]"
	case rules.SeverityWarning:
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s rules.Severity) string {
	switch s {
	case rules.SeverityCritical:
		return "FF4F6A"
	case rules.SeverityWarning:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}

// summary is the one-line rendering shared by console, chat and email subjects.
func summary(ev alerts.Event) string {
	return fmt.Sprintf("%s %s %s", severityLabel(ev.Severity), ev.Symbol, ev.Message)
}

func fail(channel string, err error) error {
	return &alerts.DeliveryError{Channel: channel, Err: err}
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
