package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/copperwatch/copperwatch/pkg/types"
)

// MaxLookback bounds the per-rule history a percent_change rule may keep.
const MaxLookback = 1000

// Default RSI bounds.
const (
	DefaultRSIOverbought = 75.0
	DefaultRSIOversold   = 25.0
)

// Condition is the kind-specific part of a rule. The concrete types below are
// the only implementations.
type Condition interface {
	Kind() Kind
	// Level is the threshold reported in alert events.
	Level() float64

	validate() error
	withDefaults() Condition
	required() []string
}

// PriceAbove fires while the field is strictly above Threshold.
type PriceAbove struct {
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Field     string  `json:"field,omitempty" yaml:"field,omitempty"`
}

// PriceBelow fires while the field is strictly below Threshold.
type PriceBelow struct {
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Field     string  `json:"field,omitempty" yaml:"field,omitempty"`
}

// PriceCrossUp fires on the observation that moves the field from at-or-below
// Threshold to above it.
type PriceCrossUp struct {
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Field     string  `json:"field,omitempty" yaml:"field,omitempty"`
}

// PriceCrossDown fires on the observation that moves the field from
// at-or-above Threshold to below it.
type PriceCrossDown struct {
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Field     string  `json:"field,omitempty" yaml:"field,omitempty"`
}

// Percent change directions. The empty direction behaves as DirectionBoth.
const (
	DirectionBoth = "both"
	DirectionUp   = "up"
	DirectionDown = "down"
)

// PercentChange fires when the change against the value observed
// LookbackPeriods observations ago exceeds Threshold percent. Direction
// restricts it to rises (up) or falls (down); by default either counts.
type PercentChange struct {
	Threshold       float64 `json:"threshold" yaml:"threshold"`
	LookbackPeriods int     `json:"lookback_periods,omitempty" yaml:"lookback_periods,omitempty"`
	Field           string  `json:"field,omitempty" yaml:"field,omitempty"`
	Direction       string  `json:"direction,omitempty" yaml:"direction,omitempty"`
}

// RSIOverbought fires when RSI crosses above Bound.
type RSIOverbought struct {
	Bound float64 `json:"bound,omitempty" yaml:"bound,omitempty"`
	Field string  `json:"field,omitempty" yaml:"field,omitempty"`
}

// RSIOversold fires when RSI crosses below Bound.
type RSIOversold struct {
	Bound float64 `json:"bound,omitempty" yaml:"bound,omitempty"`
	Field string  `json:"field,omitempty" yaml:"field,omitempty"`
}

// MACDGoldenCross fires when MACD crosses above its signal line.
type MACDGoldenCross struct {
	MACDField   string `json:"macd_field,omitempty" yaml:"macd_field,omitempty"`
	SignalField string `json:"signal_field,omitempty" yaml:"signal_field,omitempty"`
}

// MACDDeathCross fires when MACD crosses below its signal line.
type MACDDeathCross struct {
	MACDField   string `json:"macd_field,omitempty" yaml:"macd_field,omitempty"`
	SignalField string `json:"signal_field,omitempty" yaml:"signal_field,omitempty"`
}

// VolatilityHigh fires while volatility is strictly above Threshold.
type VolatilityHigh struct {
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Field     string  `json:"field,omitempty" yaml:"field,omitempty"`
}

// IndicatorThreshold compares any named snapshot field against Threshold.
type IndicatorThreshold struct {
	Field      string  `json:"field" yaml:"field"`
	Comparator string  `json:"comparator" yaml:"comparator"`
	Threshold  float64 `json:"threshold" yaml:"threshold"`
}

func (PriceAbove) Kind() Kind         { return KindPriceAbove }
func (PriceBelow) Kind() Kind         { return KindPriceBelow }
func (PriceCrossUp) Kind() Kind       { return KindPriceCrossUp }
func (PriceCrossDown) Kind() Kind     { return KindPriceCrossDown }
func (PercentChange) Kind() Kind      { return KindPercentChange }
func (RSIOverbought) Kind() Kind      { return KindRSIOverbought }
func (RSIOversold) Kind() Kind        { return KindRSIOversold }
func (MACDGoldenCross) Kind() Kind    { return KindMACDGoldenCross }
func (MACDDeathCross) Kind() Kind     { return KindMACDDeathCross }
func (VolatilityHigh) Kind() Kind     { return KindVolatilityHigh }
func (IndicatorThreshold) Kind() Kind { return KindIndicatorThreshold }

func (c PriceAbove) Level() float64         { return c.Threshold }
func (c PriceBelow) Level() float64         { return c.Threshold }
func (c PriceCrossUp) Level() float64       { return c.Threshold }
func (c PriceCrossDown) Level() float64     { return c.Threshold }
func (c PercentChange) Level() float64      { return c.Threshold }
func (c RSIOverbought) Level() float64      { return c.Bound }
func (c RSIOversold) Level() float64        { return c.Bound }
func (MACDGoldenCross) Level() float64      { return 0 }
func (MACDDeathCross) Level() float64       { return 0 }
func (c VolatilityHigh) Level() float64     { return c.Threshold }
func (c IndicatorThreshold) Level() float64 { return c.Threshold }

func (c PriceAbove) withDefaults() Condition {
	c.Field = orDefault(c.Field, types.FieldPrice)
	return c
}

func (c PriceBelow) withDefaults() Condition {
	c.Field = orDefault(c.Field, types.FieldPrice)
	return c
}

func (c PriceCrossUp) withDefaults() Condition {
	c.Field = orDefault(c.Field, types.FieldPrice)
	return c
}

func (c PriceCrossDown) withDefaults() Condition {
	c.Field = orDefault(c.Field, types.FieldPrice)
	return c
}

func (c PercentChange) withDefaults() Condition {
	c.Field = orDefault(c.Field, types.FieldPrice)
	if c.LookbackPeriods == 0 {
		c.LookbackPeriods = 1
	}
	return c
}

func (c RSIOverbought) withDefaults() Condition {
	c.Field = orDefault(c.Field, types.FieldRSI)
	if c.Bound == 0 {
		c.Bound = DefaultRSIOverbought
	}
	return c
}

func (c RSIOversold) withDefaults() Condition {
	c.Field = orDefault(c.Field, types.FieldRSI)
	if c.Bound == 0 {
		c.Bound = DefaultRSIOversold
	}
	return c
}

func (c MACDGoldenCross) withDefaults() Condition {
	c.MACDField = orDefault(c.MACDField, types.FieldMACD)
	c.SignalField = orDefault(c.SignalField, types.FieldMACDSignal)
	return c
}

func (c MACDDeathCross) withDefaults() Condition {
	c.MACDField = orDefault(c.MACDField, types.FieldMACD)
	c.SignalField = orDefault(c.SignalField, types.FieldMACDSignal)
	return c
}

func (c VolatilityHigh) withDefaults() Condition {
	c.Field = orDefault(c.Field, types.FieldVolatility)
	return c
}

func (c IndicatorThreshold) withDefaults() Condition { return c }

func (PriceAbove) required() []string         { return []string{"threshold"} }
func (PriceBelow) required() []string         { return []string{"threshold"} }
func (PriceCrossUp) required() []string       { return []string{"threshold"} }
func (PriceCrossDown) required() []string     { return []string{"threshold"} }
func (PercentChange) required() []string      { return []string{"threshold"} }
func (RSIOverbought) required() []string      { return nil }
func (RSIOversold) required() []string        { return nil }
func (MACDGoldenCross) required() []string    { return nil }
func (MACDDeathCross) required() []string     { return nil }
func (VolatilityHigh) required() []string     { return []string{"threshold"} }
func (IndicatorThreshold) required() []string { return []string{"field", "comparator", "threshold"} }

func (c PriceAbove) validate() error     { return checkLevel(c.Field, c.Threshold) }
func (c PriceBelow) validate() error     { return checkLevel(c.Field, c.Threshold) }
func (c PriceCrossUp) validate() error   { return checkLevel(c.Field, c.Threshold) }
func (c PriceCrossDown) validate() error { return checkLevel(c.Field, c.Threshold) }

func (c PercentChange) validate() error {
	if err := checkLevel(c.Field, c.Threshold); err != nil {
		return err
	}
	if c.Threshold <= 0 {
		return &ValidationError{Field: "parameters.threshold", Reason: "must be positive"}
	}
	if c.LookbackPeriods < 1 || c.LookbackPeriods > MaxLookback {
		return &ValidationError{
			Field:  "parameters.lookback_periods",
			Reason: fmt.Sprintf("must be in [1, %d]", MaxLookback),
		}
	}
	switch c.Direction {
	case "", DirectionBoth, DirectionUp, DirectionDown:
	default:
		return &ValidationError{
			Field:  "parameters.direction",
			Reason: fmt.Sprintf("unknown direction %q (want up, down or both)", c.Direction),
		}
	}
	return nil
}

func (c RSIOverbought) validate() error { return checkRSI(c.Field, c.Bound) }
func (c RSIOversold) validate() error   { return checkRSI(c.Field, c.Bound) }

func (c MACDGoldenCross) validate() error { return checkMACD(c.MACDField, c.SignalField) }
func (c MACDDeathCross) validate() error  { return checkMACD(c.MACDField, c.SignalField) }

func (c VolatilityHigh) validate() error {
	if err := checkLevel(c.Field, c.Threshold); err != nil {
		return err
	}
	if c.Threshold < 0 {
		return &ValidationError{Field: "parameters.threshold", Reason: "must not be negative"}
	}
	return nil
}

func (c IndicatorThreshold) validate() error {
	if err := checkLevel(c.Field, c.Threshold); err != nil {
		return err
	}
	if !ValidComparator(c.Comparator) {
		return &ValidationError{
			Field:  "parameters.comparator",
			Reason: fmt.Sprintf("%q unknown: want >|>=|<|<=|==|!=", c.Comparator),
		}
	}
	return nil
}

// ValidComparator reports whether op is a supported comparison operator.
func ValidComparator(op string) bool {
	switch op {
	case ">", ">=", "<", "<=", "==", "!=":
		return true
	}
	return false
}

func checkLevel(field string, level float64) error {
	if field == "" {
		return &ValidationError{Field: "parameters.field", Reason: "must not be empty"}
	}
	if math.IsNaN(level) || math.IsInf(level, 0) {
		return &ValidationError{Field: "parameters.threshold", Reason: "must be a finite number"}
	}
	return nil
}

func checkRSI(field string, bound float64) error {
	if field == "" {
		return &ValidationError{Field: "parameters.field", Reason: "must not be empty"}
	}
	if math.IsNaN(bound) || bound <= 0 || bound >= 100 {
		return &ValidationError{Field: "parameters.bound", Reason: "must be in (0, 100)"}
	}
	return nil
}

func checkMACD(macd, signal string) error {
	if macd == "" || signal == "" {
		return &ValidationError{Field: "parameters", Reason: "macd_field and signal_field must not be empty"}
	}
	if macd == signal {
		return &ValidationError{Field: "parameters", Reason: "macd_field and signal_field must differ"}
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// DecodeCondition builds the condition for kind from a loosely-typed
// parameter map as found in JSON or YAML records. Unknown parameter names are
// rejected. Defaults are applied; the result is not yet validated.
func DecodeCondition(kind Kind, params map[string]any) (Condition, error) {
	var (
		c   Condition
		err error
	)
	switch kind {
	case KindPriceAbove:
		c, err = decodeInto[PriceAbove](params)
	case KindPriceBelow:
		c, err = decodeInto[PriceBelow](params)
	case KindPriceCrossUp:
		c, err = decodeInto[PriceCrossUp](params)
	case KindPriceCrossDown:
		c, err = decodeInto[PriceCrossDown](params)
	case KindPercentChange:
		c, err = decodeInto[PercentChange](params)
	case KindRSIOverbought:
		c, err = decodeInto[RSIOverbought](params)
	case KindRSIOversold:
		c, err = decodeInto[RSIOversold](params)
	case KindMACDGoldenCross:
		c, err = decodeInto[MACDGoldenCross](params)
	case KindMACDDeathCross:
		c, err = decodeInto[MACDDeathCross](params)
	case KindVolatilityHigh:
		c, err = decodeInto[VolatilityHigh](params)
	case KindIndicatorThreshold:
		c, err = decodeInto[IndicatorThreshold](params)
	default:
		uk := &UnknownKindError{Kind: kind}
		return nil, &ValidationError{Field: "kind", Reason: uk.Error(), Err: uk}
	}
	if err != nil {
		return nil, &ValidationError{Field: "parameters", Reason: err.Error(), Err: err}
	}
	for _, key := range c.required() {
		if _, ok := params[key]; !ok {
			return nil, &ValidationError{Field: "parameters." + key, Reason: "is required"}
		}
	}
	return c.withDefaults(), nil
}

// EncodeCondition returns the parameter map for c with defaults applied.
func EncodeCondition(c Condition) map[string]any {
	data, err := json.Marshal(c.withDefaults())
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func decodeInto[T Condition](params map[string]any) (Condition, error) {
	var c T
	if len(params) == 0 {
		return c, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return nil, err
	}
	return c, nil
}
