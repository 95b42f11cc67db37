package rules

import "fmt"

// Kind names a rule's condition family.
type Kind string

const (
	KindPriceAbove         Kind = "price_above"
	KindPriceBelow         Kind = "price_below"
	KindPriceCrossUp       Kind = "price_cross_up"
	KindPriceCrossDown     Kind = "price_cross_down"
	KindPercentChange      Kind = "percent_change"
	KindRSIOverbought      Kind = "rsi_overbought"
	KindRSIOversold        Kind = "rsi_oversold"
	KindMACDGoldenCross    Kind = "macd_golden_cross"
	KindMACDDeathCross     Kind = "macd_death_cross"
	KindVolatilityHigh     Kind = "volatility_high"
	KindIndicatorThreshold Kind = "generic_indicator_threshold"
)

// Kinds returns every supported kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindPriceAbove, KindPriceBelow, KindPriceCrossUp, KindPriceCrossDown,
		KindPercentChange, KindRSIOverbought, KindRSIOversold,
		KindMACDGoldenCross, KindMACDDeathCross, KindVolatilityHigh,
		KindIndicatorThreshold,
	}
}

// Crossing reports whether the kind is edge-triggered and therefore needs a
// previous observation before it can fire.
func (k Kind) Crossing() bool {
	switch k {
	case KindPriceCrossUp, KindPriceCrossDown,
		KindRSIOverbought, KindRSIOversold,
		KindMACDGoldenCross, KindMACDDeathCross:
		return true
	}
	return false
}

// Severity is the urgency attached to every event a rule produces.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// DefaultSeverity is applied when a rule does not set one.
const DefaultSeverity = SeverityWarning

// Rank orders severities: info < warning < critical. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// ParseSeverity validates s. The empty string maps to DefaultSeverity.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case "":
		return DefaultSeverity, nil
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return Severity(s), nil
	}
	return "", fmt.Errorf("unknown severity %q: want info|warning|critical", s)
}
