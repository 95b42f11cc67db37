package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/copperwatch/copperwatch/pkg/types"
)

type promProvider struct {
	endpoint string
	fields   map[string]string
	client   *http.Client
}

// Fetch scrapes the exposition endpoint. Each field takes the first sample of
// its metric family, so exporters should publish one series per indicator.
func (p *promProvider) Fetch(ctx context.Context) (types.Snapshot, error) {
	body, err := get(ctx, p.client, p.endpoint, string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("prometheus provider %s: %w", p.endpoint, err)
	}
	defer body.Close()

	mfs, err := parseMetrics(body)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("prometheus provider %s: %w", p.endpoint, err)
	}
	return snapshotFromFamilies(mfs, p.fields)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	if err != nil {
		slog.Debug("provider: partial exposition parse", "err", err)
	}
	return mfs, nil
}

func snapshotFromFamilies(mfs map[string]*dto.MetricFamily, mapping map[string]string) (types.Snapshot, error) {
	snap := types.Snapshot{Fields: make(map[string]float64)}
	var newest int64

	take := func(field string, mf *dto.MetricFamily) {
		v, ts, ok := firstValue(mf)
		if !ok {
			return
		}
		snap.Fields[field] = v
		if ts > newest {
			newest = ts
		}
	}
	if len(mapping) > 0 {
		for field, family := range mapping {
			take(field, mfs[family])
		}
	} else {
		for name, mf := range mfs {
			take(name, mf)
		}
	}

	if len(snap.Fields) == 0 {
		return types.Snapshot{}, ErrNoFields
	}
	if newest > 0 {
		snap.Timestamp = time.UnixMilli(newest).UTC()
	}
	return snap, nil
}

// firstValue returns the first gauge, counter, or untyped sample in mf and its
// timestamp in milliseconds (zero when the exposition omits it).
func firstValue(mf *dto.MetricFamily) (float64, int64, bool) {
	if mf == nil {
		return 0, 0, false
	}
	for _, m := range mf.GetMetric() {
		switch {
		case m.Gauge != nil:
			return m.Gauge.GetValue(), m.GetTimestampMs(), true
		case m.Counter != nil:
			return m.Counter.GetValue(), m.GetTimestampMs(), true
		case m.Untyped != nil:
			return m.Untyped.GetValue(), m.GetTimestampMs(), true
		}
	}
	return 0, 0, false
}
