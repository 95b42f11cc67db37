package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/copperwatch/copperwatch/pkg/types"
	"github.com/copperwatch/copperwatch/server/internal/alerts"
	"github.com/copperwatch/copperwatch/server/internal/metrics"
)

// ErrAlreadyRunning is returned by Start when the loop is active.
var ErrAlreadyRunning = errors.New("monitor: loop already running")

// TransientDataError wraps a failure to obtain a snapshot. The loop logs it
// and waits for the next tick.
type TransientDataError struct {
	Err error
}

func (e *TransientDataError) Error() string {
	return fmt.Sprintf("monitor: snapshot unavailable: %v", e.Err)
}

func (e *TransientDataError) Unwrap() error { return e.Err }

// Provider supplies the latest market snapshot.
type Provider interface {
	Fetch(ctx context.Context) (types.Snapshot, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (types.Snapshot, error)

func (f ProviderFunc) Fetch(ctx context.Context) (types.Snapshot, error) { return f(ctx) }

// Evaluator runs one evaluation pass. *alerts.Engine satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, snap types.Snapshot) alerts.Summary
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock sets the clock used to stamp snapshots that carry no timestamp.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithPassHook registers a callback invoked after every completed pass.
func WithPassHook(fn func(alerts.Summary)) Option {
	return func(l *Loop) { l.onPass = fn }
}

// Loop periodically fetches a snapshot and evaluates it. The zero value is
// not usable; call New.
type Loop struct {
	eval   Evaluator
	now    func() time.Time
	onPass func(alerts.Summary)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// passMu serializes passes between the loop goroutine and RunOnce.
	passMu   sync.Mutex
	lastSeen time.Time
}

// New returns a stopped Loop feeding eval.
func New(eval Evaluator, opts ...Option) *Loop {
	l := &Loop{eval: eval, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Start begins polling p every interval. The first pass runs immediately.
func (l *Loop) Start(p Provider, interval time.Duration) error {
	if p == nil {
		return errors.New("monitor: provider is nil")
	}
	if interval <= 0 {
		return fmt.Errorf("monitor: interval must be positive, got %s", interval)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, p, interval, l.done)
	slog.Info("monitor: started", "interval", interval)
	return nil
}

// Stop cancels scheduling and waits for an in-flight pass to finish. It is a
// no-op when the loop is stopped.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.cancel, l.done = nil, nil
	slog.Info("monitor: stopped")
}

// Running reports whether the loop is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

func (l *Loop) run(ctx context.Context, p Provider, interval time.Duration, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(interval)
	defer t.Stop()

	l.tick(ctx, p)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.tick(ctx, p)
		}
	}
}

func (l *Loop) tick(ctx context.Context, p Provider) {
	if _, err := l.RunOnce(ctx, p); err != nil {
		var tde *TransientDataError
		if errors.As(err, &tde) && ctx.Err() != nil {
			return
		}
		slog.Warn("monitor: pass skipped", "err", err)
	}
}

// RunOnce performs a single fetch and evaluation. A fetch failure is returned
// as *TransientDataError. A snapshot older than the last evaluated one is
// skipped with an error and never reaches the engine.
func (l *Loop) RunOnce(ctx context.Context, p Provider) (alerts.Summary, error) {
	l.passMu.Lock()
	defer l.passMu.Unlock()

	snap, err := p.Fetch(ctx)
	if err != nil {
		metrics.ProviderFetches.WithLabelValues("failed").Inc()
		return alerts.Summary{}, &TransientDataError{Err: err}
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = l.now()
	}
	if snap.Timestamp.Before(l.lastSeen) {
		metrics.ProviderFetches.WithLabelValues("stale").Inc()
		return alerts.Summary{}, fmt.Errorf("monitor: stale snapshot at %s, last evaluated %s",
			snap.Timestamp.Format(time.RFC3339), l.lastSeen.Format(time.RFC3339))
	}
	metrics.ProviderFetches.WithLabelValues("success").Inc()
	l.lastSeen = snap.Timestamp

	// Stop must not abort notifier calls already under way.
	sum := l.eval.Evaluate(context.WithoutCancel(ctx), snap)
	slog.Debug("monitor: pass complete",
		"evaluated", sum.Evaluated, "fired", sum.Fired, "suppressed", sum.Suppressed,
		"skipped", sum.Skipped, "delivery_failures", sum.DeliveryFailures)
	if l.onPass != nil {
		l.onPass(sum)
	}
	return sum, nil
}

// Submit evaluates a snapshot pushed by a caller instead of fetched from a
// provider. It follows the same ordering rules as scheduled passes.
func (l *Loop) Submit(ctx context.Context, snap types.Snapshot) (alerts.Summary, error) {
	return l.RunOnce(ctx, ProviderFunc(func(context.Context) (types.Snapshot, error) {
		return snap, nil
	}))
}
