package types

import (
	"math"
	"time"
)

// Well-known snapshot field names. Providers may publish any other name;
// generic indicator rules can reference them directly.
const (
	FieldPrice      = "price"
	FieldOpen       = "open"
	FieldHigh       = "high"
	FieldLow        = "low"
	FieldClose      = "close"
	FieldVolume     = "volume"
	FieldRSI        = "rsi_14"
	FieldMACD       = "macd"
	FieldMACDSignal = "macd_signal"
	FieldVolatility = "volatility_20d"
)

// OHLCV lists the fields copied into every alert event as its data snapshot.
var OHLCV = []string{FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume, FieldPrice}

// Snapshot is one observation of market data at a point in time.
// Consumers treat it as read-only.
type Snapshot struct {
	Timestamp time.Time          `json:"timestamp"`
	Fields    map[string]float64 `json:"fields"`
}

// Get returns the named field. NaN and infinite values count as missing.
func (s Snapshot) Get(name string) (float64, bool) {
	v, ok := s.Fields[name]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Subset copies the named fields that are present. It returns nil when none are.
func (s Snapshot) Subset(names ...string) map[string]float64 {
	var out map[string]float64
	for _, n := range names {
		v, ok := s.Get(n)
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[string]float64, len(names))
		}
		out[n] = v
	}
	return out
}
