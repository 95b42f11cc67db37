package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/copperwatch/copperwatch/server/internal/metrics"
)

// Pruner periodically removes events older than the retention window.
type Pruner struct {
	cron      *cron.Cron
	store     Store
	retention time.Duration
	now       func() time.Time
}

// NewPruner schedules pruning of s on spec, a cron expression such as
// "@every 1h" or "0 3 * * *".
func NewPruner(s Store, retention time.Duration, spec string) (*Pruner, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("history: retention must be positive, got %s", retention)
	}
	p := &Pruner{
		cron:      cron.New(),
		store:     s,
		retention: retention,
		now:       time.Now,
	}
	if _, err := p.cron.AddFunc(spec, p.run); err != nil {
		return nil, fmt.Errorf("history: prune schedule %q: %w", spec, err)
	}
	return p, nil
}

// Start runs the schedule in the background.
func (p *Pruner) Start() { p.cron.Start() }

// Stop halts the schedule and waits for a running prune to finish.
func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
}

func (p *Pruner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := p.PruneOnce(ctx); err != nil {
		slog.Warn("history: prune failed", "err", err)
	}
}

// PruneOnce deletes everything older than now minus the retention window.
func (p *Pruner) PruneOnce(ctx context.Context) (int, error) {
	n, err := p.store.Prune(ctx, p.now().Add(-p.retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.HistoryPruned.Add(float64(n))
		slog.Debug("history: pruned events", "count", n)
	}
	return n, nil
}
