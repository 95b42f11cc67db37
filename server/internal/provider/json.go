package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/copperwatch/copperwatch/pkg/types"
)

const timestampKey = "timestamp"

type jsonProvider struct {
	endpoint string
	fields   map[string]string
	client   *http.Client
}

// Fetch reads one JSON object and keeps its numeric values. Numeric strings
// are accepted since some vendors quote prices.
func (p *jsonProvider) Fetch(ctx context.Context) (types.Snapshot, error) {
	body, err := get(ctx, p.client, p.endpoint, "application/json")
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("json provider %s: %w", p.endpoint, err)
	}
	defer body.Close()

	var doc map[string]interface{}
	dec := json.NewDecoder(body)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return types.Snapshot{}, fmt.Errorf("json provider %s: decode: %w", p.endpoint, err)
	}
	return snapshotFromDoc(doc, p.fields)
}

func snapshotFromDoc(doc map[string]interface{}, mapping map[string]string) (types.Snapshot, error) {
	snap := types.Snapshot{Fields: make(map[string]float64)}

	if raw, ok := doc[timestampKey]; ok {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return types.Snapshot{}, err
		}
		snap.Timestamp = ts
	}

	if len(mapping) > 0 {
		for field, key := range mapping {
			if v, ok := number(doc[key]); ok {
				snap.Fields[field] = v
			}
		}
	} else {
		for key, raw := range doc {
			if key == timestampKey {
				continue
			}
			if v, ok := number(raw); ok {
				snap.Fields[key] = v
			}
		}
	}

	if len(snap.Fields) == 0 {
		return types.Snapshot{}, ErrNoFields
	}
	return snap, nil
}

func number(raw interface{}) (float64, bool) {
	var v float64
	var err error
	switch x := raw.(type) {
	case json.Number:
		v, err = x.Float64()
	case string:
		v, err = strconv.ParseFloat(x, 64)
	case float64:
		v = x
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func parseTimestamp(raw interface{}) (time.Time, error) {
	switch x := raw.(type) {
	case string:
		ts, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", x, err)
		}
		return ts.UTC(), nil
	case json.Number:
		secs, err := x.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", x, err)
		}
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("parse timestamp: unsupported type %T", raw)
	}
}
