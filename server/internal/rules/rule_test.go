package rules

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRule_NormalizeDefaults(t *testing.T) {
	r := Rule{ID: " r1 ", Condition: RSIOverbought{}}.Normalize()

	assert.Equal(t, "r1", r.ID)
	assert.Equal(t, "r1", r.Name)
	assert.Equal(t, DefaultSymbol, r.Symbol)
	assert.Equal(t, SeverityWarning, r.Severity)
	assert.Equal(t, RSIOverbought{Bound: DefaultRSIOverbought, Field: "rsi_14"}, r.Condition)
}

func TestRule_Validate(t *testing.T) {
	tests := []struct {
		name  string
		rule  Rule
		field string
	}{
		{"no condition", Rule{ID: "a"}, "kind"},
		{"negative cooldown", Rule{ID: "a", Cooldown: -time.Second, Condition: PriceAbove{Threshold: 1}}, "cooldown_seconds"},
		{"bad severity", Rule{ID: "a", Severity: "loud", Condition: PriceAbove{Threshold: 1}}, "severity"},
		{"nan threshold", Rule{ID: "a", Condition: PriceBelow{Threshold: math.NaN()}}, "parameters.threshold"},
		{"zero percent", Rule{ID: "a", Condition: PercentChange{Threshold: 0}}, "parameters.threshold"},
		{"lookback too long", Rule{ID: "a", Condition: PercentChange{Threshold: 1, LookbackPeriods: MaxLookback + 1}}, "parameters.lookback_periods"},
		{"unknown direction", Rule{ID: "a", Condition: PercentChange{Threshold: 1, Direction: "sideways"}}, "parameters.direction"},
		{"rsi bound out of range", Rule{ID: "a", Condition: RSIOversold{Bound: 120}}, "parameters.bound"},
		{"macd same field", Rule{ID: "a", Condition: MACDGoldenCross{MACDField: "m", SignalField: "m"}}, "parameters"},
		{"negative volatility", Rule{ID: "a", Condition: VolatilityHigh{Threshold: -1}}, "parameters.threshold"},
		{"bad comparator", Rule{ID: "a", Condition: IndicatorThreshold{Field: "adx", Comparator: "~", Threshold: 1}}, "parameters.comparator"},
		{"indicator without field", Rule{ID: "a", Condition: IndicatorThreshold{Comparator: ">", Threshold: 1}}, "parameters.field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "want ValidationError, got %v", err)
			assert.Equal(t, tt.field, ve.Field)
			assert.Equal(t, "a", ve.RuleID)
		})
	}
}

func TestRule_ValidateAcceptsEveryKindWithDefaults(t *testing.T) {
	conds := []Condition{
		PriceAbove{Threshold: 75000},
		PriceBelow{Threshold: 65000},
		PriceCrossUp{Threshold: 70000},
		PriceCrossDown{Threshold: 70000},
		PercentChange{Threshold: 2.5},
		RSIOverbought{},
		RSIOversold{},
		MACDGoldenCross{},
		MACDDeathCross{},
		VolatilityHigh{Threshold: 4},
		IndicatorThreshold{Field: "adx_14", Comparator: ">=", Threshold: 25},
	}
	require.Len(t, conds, len(Kinds()))
	for i, c := range conds {
		assert.Equal(t, Kinds()[i], c.Kind())
		assert.NoError(t, Rule{ID: string(c.Kind()), Condition: c}.Validate(), c.Kind())
	}
}

func TestKind_Crossing(t *testing.T) {
	assert.True(t, KindPriceCrossUp.Crossing())
	assert.True(t, KindMACDDeathCross.Crossing())
	assert.True(t, KindRSIOversold.Crossing())
	assert.False(t, KindPriceAbove.Crossing())
	assert.False(t, KindPercentChange.Crossing())
}

func TestParseSeverity(t *testing.T) {
	s, err := ParseSeverity("")
	require.NoError(t, err)
	assert.Equal(t, SeverityWarning, s)

	s, err = ParseSeverity("critical")
	require.NoError(t, err)
	assert.Equal(t, 3, s.Rank())

	_, err = ParseSeverity("urgent")
	assert.Error(t, err)
	assert.Less(t, SeverityInfo.Rank(), SeverityWarning.Rank())
}

func TestDecodeCondition(t *testing.T) {
	c, err := DecodeCondition(KindPercentChange, map[string]any{"threshold": 2.5, "lookback_periods": 3})
	require.NoError(t, err)
	assert.Equal(t, PercentChange{Threshold: 2.5, LookbackPeriods: 3, Field: "price"}, c)

	c, err = DecodeCondition(KindPercentChange, map[string]any{"threshold": 5, "direction": "down"})
	require.NoError(t, err)
	assert.Equal(t, PercentChange{Threshold: 5, LookbackPeriods: 1, Field: "price", Direction: DirectionDown}, c)

	c, err = DecodeCondition(KindMACDDeathCross, nil)
	require.NoError(t, err)
	assert.Equal(t, MACDDeathCross{MACDField: "macd", SignalField: "macd_signal"}, c)
}

func TestDecodeCondition_UnknownKind(t *testing.T) {
	_, err := DecodeCondition("moon_phase", map[string]any{"threshold": 1})

	var uk *UnknownKindError
	require.True(t, errors.As(err, &uk))
	assert.Equal(t, Kind("moon_phase"), uk.Kind)
	assert.True(t, IsValidation(err))
}

func TestDecodeCondition_Rejects(t *testing.T) {
	_, err := DecodeCondition(KindPriceAbove, map[string]any{})
	assert.True(t, IsValidation(err), "missing threshold")

	_, err = DecodeCondition(KindPriceAbove, map[string]any{"threshold": 1, "treshold": 2})
	assert.True(t, IsValidation(err), "unknown parameter")

	_, err = DecodeCondition(KindPriceAbove, map[string]any{"threshold": "high"})
	assert.True(t, IsValidation(err), "wrong type")
}

func TestEncodeCondition_AppliesDefaults(t *testing.T) {
	got := EncodeCondition(RSIOversold{})
	assert.Equal(t, map[string]any{"bound": 25.0, "field": "rsi_14"}, got)
}

func TestTemplates_AreValidAndIndependent(t *testing.T) {
	a := Templates()
	require.Len(t, a, 6)
	for _, r := range a {
		assert.NoError(t, r.Validate(), r.ID)
	}
	a[0].Name = "changed"
	assert.Equal(t, "Price breakout", Templates()[0].Name)
	assert.Equal(t, 120*time.Minute, a[5].Cooldown)
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, IsNotFound(&RuleNotFoundError{ID: "x"}))
	assert.True(t, IsDuplicate(&DuplicateRuleError{ID: "x"}))
	assert.False(t, IsNotFound(errors.New("x")))
	assert.Contains(t, (&RecordError{Index: 2, ID: "r", Err: errors.New("bad")}).Error(), "record 2 (r)")
}
