package rules

import "time"

// Templates returns the stock rule set for copper monitoring. The returned
// rules are fresh copies and may be modified by the caller.
func Templates() []Rule {
	return []Rule{
		{
			ID:        "price_breakout",
			Name:      "Price breakout",
			Severity:  SeverityWarning,
			Cooldown:  30 * time.Minute,
			Enabled:   true,
			Condition: PriceAbove{Threshold: 75000},
		},
		{
			ID:        "price_support",
			Name:      "Support break",
			Severity:  SeverityWarning,
			Cooldown:  30 * time.Minute,
			Enabled:   true,
			Condition: PriceBelow{Threshold: 65000},
		},
		{
			ID:        "big_movement",
			Name:      "Large price move",
			Severity:  SeverityCritical,
			Cooldown:  15 * time.Minute,
			Enabled:   true,
			Condition: PercentChange{Threshold: 2.5, LookbackPeriods: 1},
		},
		{
			ID:        "rsi_overbought",
			Name:      "RSI overbought",
			Severity:  SeverityInfo,
			Cooldown:  60 * time.Minute,
			Enabled:   true,
			Condition: RSIOverbought{Bound: 75},
		},
		{
			ID:        "rsi_oversold",
			Name:      "RSI oversold",
			Severity:  SeverityInfo,
			Cooldown:  60 * time.Minute,
			Enabled:   true,
			Condition: RSIOversold{Bound: 25},
		},
		{
			ID:        "high_volatility",
			Name:      "High volatility",
			Severity:  SeverityWarning,
			Cooldown:  120 * time.Minute,
			Enabled:   true,
			Condition: VolatilityHigh{Threshold: 4.0},
		},
	}
}
