package alerts

import (
	"time"

	"github.com/copperwatch/copperwatch/server/internal/rules"
)

// Event is one fired alert. Events are immutable once built.
type Event struct {
	ID        string             `json:"id"`
	RuleID    string             `json:"rule_id"`
	RuleName  string             `json:"rule_name"`
	Kind      rules.Kind         `json:"kind"`
	Symbol    string             `json:"symbol"`
	Severity  rules.Severity     `json:"severity"`
	Message   string             `json:"message"`
	Value     float64            `json:"triggering_value"`
	Threshold float64            `json:"threshold"`
	Timestamp time.Time          `json:"timestamp"`
	Fields    map[string]float64 `json:"fields,omitempty"`
}

// Clone returns a copy of ev that shares no memory with it.
func (ev Event) Clone() Event {
	if ev.Fields != nil {
		fields := make(map[string]float64, len(ev.Fields))
		for k, v := range ev.Fields {
			fields[k] = v
		}
		ev.Fields = fields
	}
	return ev
}
