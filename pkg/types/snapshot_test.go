package types

import (
	"math"
	"testing"
)

func TestSnapshot_Get(t *testing.T) {
	s := Snapshot{Fields: map[string]float64{
		"price": 71000,
		"bad":   math.NaN(),
		"inf":   math.Inf(1),
	}}

	if v, ok := s.Get("price"); !ok || v != 71000 {
		t.Errorf("Get(price): got (%v, %v), want (71000, true)", v, ok)
	}
	for _, name := range []string{"bad", "inf", "missing"} {
		if _, ok := s.Get(name); ok {
			t.Errorf("Get(%s): got ok, want missing", name)
		}
	}
}

func TestSnapshot_Subset(t *testing.T) {
	s := Snapshot{Fields: map[string]float64{"open": 1, "close": 2, "rsi_14": 50}}

	got := s.Subset(OHLCV...)
	if len(got) != 2 || got["open"] != 1 || got["close"] != 2 {
		t.Errorf("Subset: got %v, want open and close only", got)
	}
	if got := (Snapshot{}).Subset(OHLCV...); got != nil {
		t.Errorf("Subset of empty snapshot: got %v, want nil", got)
	}
}
