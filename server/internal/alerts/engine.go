package alerts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/copperwatch/copperwatch/pkg/types"
	"github.com/copperwatch/copperwatch/server/internal/metrics"
	"github.com/copperwatch/copperwatch/server/internal/rules"
)

const defaultNotifyTimeout = 10 * time.Second

// Rule origins. Rules file reloads only touch rules that came from the file.
const (
	originAPI  = "api"
	originFile = "file"
)

// Notifier delivers an event to one channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// History records fired events.
type History interface {
	Append(ctx context.Context, ev Event) error
}

// RuleStatus is a rule together with a read-only copy of its runtime state.
type RuleStatus struct {
	rules.Rule
	LastValue   *float64
	LastFiredAt *time.Time
}

// Summary reports what one evaluation pass did.
type Summary struct {
	Timestamp        time.Time
	Evaluated        int
	Fired            int
	Suppressed       int
	Skipped          int
	Errored          int
	DeliveryFailures int
	DeliveryErrors   []error
	Events           []Event
}

// ReloadResult reports how a rules file reload changed the live set.
type ReloadResult struct {
	Added   int
	Updated int
	Removed int
	Errors  []error
}

type entry struct {
	rule   rules.Rule
	state  State
	origin string
	// gen changes whenever the rule is replaced, so a pass that started
	// before the change does not commit stale state.
	gen uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithHistory sets where fired events are recorded.
func WithHistory(h History) Option {
	return func(e *Engine) { e.history = h }
}

// WithNotifyTimeout bounds each notifier call. Non-positive values are ignored.
func WithNotifyTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithClock replaces the clock used for snapshots without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine owns the rule set and evaluates it against snapshots.
//
// Engine is safe for concurrent use. Evaluate calls are serialized; rule and
// notifier mutations may happen at any time and take effect from the next
// pass.
type Engine struct {
	mu        sync.RWMutex
	order     []string
	entries   map[string]*entry
	notifiers []Notifier
	gen       uint64

	history History
	timeout time.Duration
	now     func() time.Time

	evalMu sync.Mutex
}

// New creates an Engine with no rules and no notifiers.
func New(opts ...Option) *Engine {
	e := &Engine{
		entries: make(map[string]*entry),
		timeout: defaultNotifyTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddRule validates and registers r. An empty id is replaced by a generated
// one, which is returned.
func (e *Engine) AddRule(r rules.Rule) (string, error) {
	return e.add(r, originAPI)
}

func (e *Engine) add(r rules.Rule, origin string) (string, error) {
	r = r.Normalize()
	if r.ID == "" {
		r.ID = uuid.NewString()
		if r.Name == "" {
			r.Name = r.ID
		}
	}
	if err := r.Validate(); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entries[r.ID]; ok {
		return "", &rules.DuplicateRuleError{ID: r.ID}
	}
	e.gen++
	e.entries[r.ID] = &entry{rule: r, origin: origin, gen: e.gen}
	e.order = append(e.order, r.ID)
	metrics.RulesLoaded.Set(float64(len(e.entries)))
	return r.ID, nil
}

// UpdateRule replaces the declarative fields of an existing rule. Runtime
// state is reset when the condition changes and kept otherwise.
func (e *Engine) UpdateRule(r rules.Rule) error {
	r = r.Normalize()
	if err := r.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[r.ID]
	if !ok {
		return &rules.RuleNotFoundError{ID: r.ID}
	}
	e.replace(ent, r)
	return nil
}

// replace must be called with mu held.
func (e *Engine) replace(ent *entry, r rules.Rule) {
	switch {
	case ent.rule.Condition != r.Condition:
		ent.state = State{}
	case !ent.rule.Enabled && r.Enabled:
		ent.state = ent.state.forgetObservations()
	}
	ent.rule = r
	e.gen++
	ent.gen = e.gen
}

// RemoveRule unregisters the rule with the given id.
func (e *Engine) RemoveRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entries[id]; !ok {
		return &rules.RuleNotFoundError{ID: id}
	}
	e.remove(id)
	return nil
}

// remove must be called with mu held.
func (e *Engine) remove(id string) {
	delete(e.entries, id)
	for i, v := range e.order {
		if v == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	metrics.RulesLoaded.Set(float64(len(e.entries)))
}

// SetEnabled enables or disables a rule. Re-enabling drops the observed
// values recorded before the rule was disabled, so crossing and lookback
// rules start from the next snapshot. LastFiredAt is kept and cooldown still
// applies.
func (e *Engine) SetEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[id]
	if !ok {
		return &rules.RuleNotFoundError{ID: id}
	}
	if ent.rule.Enabled == enabled {
		return nil
	}
	r := ent.rule
	r.Enabled = enabled
	e.replace(ent, r)
	return nil
}

// Rule returns one rule with its state.
func (e *Engine) Rule(id string) (RuleStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.entries[id]
	if !ok {
		return RuleStatus{}, &rules.RuleNotFoundError{ID: id}
	}
	return ent.status(), nil
}

// Rules returns every rule in registration order.
func (e *Engine) Rules() []RuleStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]RuleStatus, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.entries[id].status())
	}
	return out
}

func (ent *entry) status() RuleStatus {
	s := RuleStatus{Rule: ent.rule}
	if ent.state.HasLast {
		v := ent.state.LastValue
		s.LastValue = &v
	}
	if !ent.state.LastFiredAt.IsZero() {
		t := ent.state.LastFiredAt
		s.LastFiredAt = &t
	}
	return s
}

// AddNotifier appends n to the fan-out list.
func (e *Engine) AddNotifier(n Notifier) {
	e.mu.Lock()
	e.notifiers = append(e.notifiers, n)
	e.mu.Unlock()
}

// RemoveNotifier drops every notifier with the given name and reports
// whether any was registered.
func (e *Engine) RemoveNotifier(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.notifiers[:0:0]
	for _, n := range e.notifiers {
		if n.Name() != name {
			kept = append(kept, n)
		}
	}
	removed := len(kept) != len(e.notifiers)
	e.notifiers = kept
	return removed
}

// Notifiers returns the names of the registered notifiers in order.
func (e *Engine) Notifiers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.notifiers))
	for i, n := range e.notifiers {
		out[i] = n.Name()
	}
	return out
}

// Evaluate runs one pass over the enabled rules in registration order.
//
// The cooldown clock is the snapshot timestamp, or the engine clock when the
// snapshot has none. A rule whose condition holds but whose cooldown has not
// elapsed is suppressed: its last value still advances, its last firing time
// does not. Evaluate never fails; problems are counted in the Summary.
func (e *Engine) Evaluate(ctx context.Context, snap types.Snapshot) Summary {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	start := time.Now()
	now := snap.Timestamp
	if now.IsZero() {
		now = e.now()
	}
	sum := Summary{Timestamp: now}

	e.mu.RLock()
	work := make([]entry, 0, len(e.order))
	for _, id := range e.order {
		if ent := e.entries[id]; ent.rule.Enabled {
			work = append(work, *ent)
		}
	}
	notifiers := append([]Notifier(nil), e.notifiers...)
	e.mu.RUnlock()

	for _, w := range work {
		sum.Evaluated++
		kind := string(w.rule.Kind())

		d, err := evaluateSafe(w.rule, snap, w.state)
		if err != nil {
			sum.Errored++
			metrics.RuleOutcomes.WithLabelValues(kind, "errored").Inc()
			slog.Error("alerts: evaluation failed", "rule", w.rule.ID, "err", err)
			continue
		}
		if d.Skip {
			sum.Skipped++
			metrics.RuleOutcomes.WithLabelValues(kind, "skipped").Inc()
			slog.Debug("alerts: rule skipped, field missing", "rule", w.rule.ID)
			continue
		}

		next := w.state.observe(d.Observed, lookback(w.rule))
		switch {
		case !d.Fire:
			metrics.RuleOutcomes.WithLabelValues(kind, "quiet").Inc()

		case inCooldown(w.rule, w.state, now):
			sum.Suppressed++
			metrics.RuleOutcomes.WithLabelValues(kind, "suppressed").Inc()
			slog.Debug("alerts: rule suppressed by cooldown",
				"rule", w.rule.ID,
				"last_fired", w.state.LastFiredAt,
				"cooldown", w.rule.Cooldown,
			)

		default:
			ev := newEvent(w.rule, d, snap, now)
			slog.Warn("alerts: rule fired",
				"rule", w.rule.ID,
				"kind", kind,
				"value", d.Value,
				"severity", w.rule.Severity,
			)

			derrs := e.dispatch(ctx, notifiers, ev)
			sum.DeliveryFailures += len(derrs)
			sum.DeliveryErrors = append(sum.DeliveryErrors, derrs...)

			if e.history != nil {
				if err := e.history.Append(ctx, ev); err != nil {
					sum.Errored++
					metrics.HistoryAppends.WithLabelValues("failed").Inc()
					slog.Error("alerts: history append failed", "rule", w.rule.ID, "err", err)
				} else {
					metrics.HistoryAppends.WithLabelValues("success").Inc()
				}
			}

			next.LastFiredAt = now
			sum.Fired++
			sum.Events = append(sum.Events, ev)
			metrics.RuleOutcomes.WithLabelValues(kind, "fired").Inc()
		}
		e.commit(w.rule.ID, w.gen, next)
	}

	metrics.EvaluationPasses.Inc()
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	return sum
}

func inCooldown(r rules.Rule, st State, now time.Time) bool {
	if st.LastFiredAt.IsZero() {
		return false
	}
	return now.Sub(st.LastFiredAt) < r.Cooldown
}

// evaluateSafe turns an evaluator panic into an error so one bad rule cannot
// take down the pass.
func evaluateSafe(r rules.Rule, snap types.Snapshot, st State) (d Decision, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("evaluator panic: %v", p)
		}
	}()
	return Evaluate(r, snap, st), nil
}

func newEvent(r rules.Rule, d Decision, snap types.Snapshot, now time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		RuleID:    r.ID,
		RuleName:  r.Name,
		Kind:      r.Kind(),
		Symbol:    r.Symbol,
		Severity:  r.Severity,
		Message:   fmt.Sprintf("%s: %s", r.Name, d.Message),
		Value:     d.Value,
		Threshold: d.Threshold,
		Timestamp: now,
		Fields:    snap.Subset(types.OHLCV...),
	}
}

// commit stores st unless the rule was removed or replaced mid-pass.
func (e *Engine) commit(id string, gen uint64, st State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent, ok := e.entries[id]; ok && ent.gen == gen {
		ent.state = st
	}
}

// dispatch sends ev to every notifier concurrently and returns one
// DeliveryError per failed channel.
func (e *Engine) dispatch(ctx context.Context, notifiers []Notifier, ev Event) []error {
	if len(notifiers) == 0 {
		return nil
	}
	errs := make([]error, len(notifiers))
	var wg sync.WaitGroup
	for i, n := range notifiers {
		wg.Add(1)
		go func(i int, n Notifier) {
			defer wg.Done()
			errs[i] = e.send(ctx, n, ev)
		}(i, n)
	}
	wg.Wait()

	var failed []error
	for i, err := range errs {
		if err == nil {
			continue
		}
		slog.Error("alerts: delivery failed",
			"channel", notifiers[i].Name(),
			"rule", ev.RuleID,
			"err", err,
		)
		failed = append(failed, err)
	}
	return failed
}

// send calls n with a timeout. A notifier that ignores its context is
// abandoned once the timeout expires.
func (e *Engine) send(ctx context.Context, n Notifier, ev Event) error {
	name := n.Name()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("notifier panic: %v", p)
			}
		}()
		done <- n.Send(ctx, ev)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	metrics.DeliveryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.Deliveries.WithLabelValues(name, "success").Inc()
		return nil
	}
	metrics.Deliveries.WithLabelValues(name, "failed").Inc()
	var de *DeliveryError
	if errors.As(err, &de) {
		return err
	}
	return &DeliveryError{Channel: name, Err: err}
}

// ReloadRules synchronizes the rules that came from the rules file with rs:
// new ids are added, changed rules replaced and file rules absent from rs
// removed. Rules added through the API are never touched; an id in rs that
// collides with one is reported as a DuplicateRuleError.
func (e *Engine) ReloadRules(rs []rules.Rule) ReloadResult {
	var res ReloadResult
	wanted := make(map[string]rules.Rule, len(rs))
	order := make([]string, 0, len(rs))
	for _, r := range rs {
		r = r.Normalize()
		if r.ID == "" {
			res.Errors = append(res.Errors, &rules.ValidationError{Field: "id", Reason: "is required in a rules file"})
			continue
		}
		if err := r.Validate(); err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		if _, dup := wanted[r.ID]; dup {
			res.Errors = append(res.Errors, &rules.DuplicateRuleError{ID: r.ID})
			continue
		}
		wanted[r.ID] = r
		order = append(order, r.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range append([]string(nil), e.order...) {
		ent := e.entries[id]
		if _, keep := wanted[id]; ent.origin == originFile && !keep {
			e.remove(id)
			res.Removed++
		}
	}
	for _, id := range order {
		r := wanted[id]
		ent, ok := e.entries[id]
		switch {
		case !ok:
			e.gen++
			e.entries[id] = &entry{rule: r, origin: originFile, gen: e.gen}
			e.order = append(e.order, id)
			res.Added++
		case ent.origin != originFile:
			res.Errors = append(res.Errors, &rules.DuplicateRuleError{ID: id})
		case ent.rule != r:
			e.replace(ent, r)
			res.Updated++
		}
	}
	metrics.RulesLoaded.Set(float64(len(e.entries)))
	return res
}

// ImportRules decodes a rules document and registers every valid record.
// Records that fail to decode, validate or register are reported
// individually and do not affect the others.
func (e *Engine) ImportRules(r io.Reader, f rules.Format) (int, []error) {
	res, err := rules.Import(r, f)
	if err != nil {
		return 0, []error{err}
	}
	errs := res.Errors
	added := 0
	for _, rule := range res.Rules {
		if _, err := e.AddRule(rule); err != nil {
			errs = append(errs, err)
			continue
		}
		added++
	}
	return added, errs
}

// ExportRules writes the declarative part of every rule. Runtime state is
// not exported.
func (e *Engine) ExportRules(w io.Writer, f rules.Format) error {
	return rules.Export(w, f, e.ruleList())
}

func (e *Engine) ruleList() []rules.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]rules.Rule, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.entries[id].rule)
	}
	return out
}
