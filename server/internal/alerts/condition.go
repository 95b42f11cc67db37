package alerts

import (
	"fmt"
	"math"
	"time"

	"github.com/copperwatch/copperwatch/pkg/types"
	"github.com/copperwatch/copperwatch/server/internal/rules"
)

// Decision is the evaluator's verdict for one rule against one snapshot.
type Decision struct {
	// Skip is set when a field the rule needs is missing from the snapshot.
	// The engine must leave the rule's state untouched.
	Skip bool
	Fire bool
	// Observed is the monitored value the engine remembers as last value.
	Observed float64
	// Value is the triggering value reported in events. It differs from
	// Observed only for percent_change, where it is the change in percent.
	Value     float64
	Threshold float64
	Message   string
}

// State is the runtime state the engine keeps for one rule.
type State struct {
	LastValue   float64
	HasLast     bool
	LastFiredAt time.Time
	// Recent holds earlier observed values, oldest first. Only rules with a
	// lookback keep any.
	Recent []float64
}

// observe returns a copy of s advanced by one observation of v. keep bounds
// the length of Recent.
func (s State) observe(v float64, keep int) State {
	next := s
	next.LastValue, next.HasLast = v, true
	if keep <= 0 {
		next.Recent = nil
		return next
	}
	recent := make([]float64, 0, keep)
	if n := len(s.Recent); n >= keep {
		recent = append(recent, s.Recent[n-keep+1:]...)
	} else {
		recent = append(recent, s.Recent...)
	}
	next.Recent = append(recent, v)
	return next
}

// forgetObservations clears the remembered values but keeps LastFiredAt.
func (s State) forgetObservations() State {
	return State{LastFiredAt: s.LastFiredAt}
}

// lookback is how many earlier values r needs to remember.
func lookback(r rules.Rule) int {
	if c, ok := r.Condition.(rules.PercentChange); ok {
		return c.LookbackPeriods
	}
	return 0
}

// Evaluate decides whether r fires for snap given the rule's state. It reads
// st and never modifies it.
func Evaluate(r rules.Rule, snap types.Snapshot, st State) Decision {
	switch c := r.Condition.(type) {
	case rules.PriceAbove:
		return evalLevel(snap, c.Field, ">", c.Threshold)
	case rules.PriceBelow:
		return evalLevel(snap, c.Field, "<", c.Threshold)
	case rules.VolatilityHigh:
		return evalLevel(snap, c.Field, ">", c.Threshold)
	case rules.IndicatorThreshold:
		return evalLevel(snap, c.Field, c.Comparator, c.Threshold)

	case rules.PriceCrossUp:
		return evalCross(snap, c.Field, c.Threshold, st, true)
	case rules.PriceCrossDown:
		return evalCross(snap, c.Field, c.Threshold, st, false)
	case rules.RSIOverbought:
		return evalCross(snap, c.Field, c.Bound, st, true)
	case rules.RSIOversold:
		return evalCross(snap, c.Field, c.Bound, st, false)

	case rules.MACDGoldenCross:
		return evalMACD(snap, c.MACDField, c.SignalField, st, true)
	case rules.MACDDeathCross:
		return evalMACD(snap, c.MACDField, c.SignalField, st, false)

	case rules.PercentChange:
		return evalPercent(snap, c, st)

	default:
		return Decision{Skip: true, Message: fmt.Sprintf("unsupported condition %T", c)}
	}
}

// evalLevel is level-triggered: it fires on every observation that satisfies
// the comparison.
func evalLevel(snap types.Snapshot, field, op string, threshold float64) Decision {
	v, ok := snap.Get(field)
	if !ok {
		return Decision{Skip: true}
	}
	d := Decision{Observed: v, Value: v, Threshold: threshold}
	if compareFloat(v, op, threshold) {
		d.Fire = true
		d.Message = fmt.Sprintf("%s %.2f %s %.2f", field, v, op, threshold)
	}
	return d
}

// evalCross is edge-triggered: up fires when the previous value was at or
// below level and the current one is above it; down is the mirror image.
// Without a previous value it only seeds state.
func evalCross(snap types.Snapshot, field string, level float64, st State, up bool) Decision {
	v, ok := snap.Get(field)
	if !ok {
		return Decision{Skip: true}
	}
	d := Decision{Observed: v, Value: v, Threshold: level}
	if !st.HasLast {
		return d
	}
	if up && st.LastValue <= level && v > level {
		d.Fire = true
		d.Message = fmt.Sprintf("%s crossed above %.2f (%.2f -> %.2f)", field, level, st.LastValue, v)
	}
	if !up && st.LastValue >= level && v < level {
		d.Fire = true
		d.Message = fmt.Sprintf("%s crossed below %.2f (%.2f -> %.2f)", field, level, st.LastValue, v)
	}
	return d
}

// evalMACD monitors macd - signal and fires when it changes sign.
func evalMACD(snap types.Snapshot, macdField, signalField string, st State, golden bool) Decision {
	m, ok := snap.Get(macdField)
	if !ok {
		return Decision{Skip: true}
	}
	s, ok := snap.Get(signalField)
	if !ok {
		return Decision{Skip: true}
	}
	diff := m - s
	d := Decision{Observed: diff, Value: diff}
	if !st.HasLast {
		return d
	}
	if golden && st.LastValue <= 0 && diff > 0 {
		d.Fire = true
		d.Message = fmt.Sprintf("golden cross: %s %.4f above %s %.4f", macdField, m, signalField, s)
	}
	if !golden && st.LastValue >= 0 && diff < 0 {
		d.Fire = true
		d.Message = fmt.Sprintf("death cross: %s %.4f below %s %.4f", macdField, m, signalField, s)
	}
	return d
}

// evalPercent compares against the value seen LookbackPeriods observations
// ago. It stays quiet until that many observations exist.
func evalPercent(snap types.Snapshot, c rules.PercentChange, st State) Decision {
	v, ok := snap.Get(c.Field)
	if !ok {
		return Decision{Skip: true}
	}
	d := Decision{Observed: v, Threshold: c.Threshold}
	n := len(st.Recent)
	if c.LookbackPeriods < 1 || n < c.LookbackPeriods {
		return d
	}
	old := st.Recent[n-c.LookbackPeriods]
	if old == 0 {
		return d
	}
	pct := (v/old - 1) * 100
	d.Value = pct
	var moved bool
	switch c.Direction {
	case rules.DirectionUp:
		moved = pct > c.Threshold
	case rules.DirectionDown:
		moved = pct < -c.Threshold
	default:
		moved = math.Abs(pct) > c.Threshold
	}
	if moved {
		d.Fire = true
		d.Message = fmt.Sprintf("%s moved %+.2f%% over %d period(s) (%.2f -> %.2f)",
			c.Field, pct, c.LookbackPeriods, old, v)
	}
	return d
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
