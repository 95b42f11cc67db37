package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/copperwatch/copperwatch/server/internal/alerts"
	"github.com/copperwatch/copperwatch/server/internal/rules"
)

const schema = `
CREATE TABLE IF NOT EXISTS alert_events (
	seq              BIGSERIAL PRIMARY KEY,
	id               TEXT NOT NULL UNIQUE,
	rule_id          TEXT NOT NULL,
	rule_name        TEXT NOT NULL,
	kind             TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	severity         TEXT NOT NULL,
	severity_rank    SMALLINT NOT NULL,
	message          TEXT NOT NULL,
	triggering_value DOUBLE PRECISION NOT NULL,
	threshold        DOUBLE PRECISION NOT NULL,
	fired_at         TIMESTAMPTZ NOT NULL,
	fields           JSONB
);
CREATE INDEX IF NOT EXISTS alert_events_fired_at_idx ON alert_events (fired_at);
CREATE INDEX IF NOT EXISTS alert_events_rule_id_idx ON alert_events (rule_id, fired_at);
`

const insertEvent = `INSERT INTO alert_events
	(id, rule_id, rule_name, kind, symbol, severity, severity_rank, message, triggering_value, threshold, fired_at, fields)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

const selectColumns = `id, rule_id, rule_name, kind, symbol, severity, message, triggering_value, threshold, fired_at, fields`

// eventRow mirrors one alert_events row.
type eventRow struct {
	ID        string    `db:"id"`
	RuleID    string    `db:"rule_id"`
	RuleName  string    `db:"rule_name"`
	Kind      string    `db:"kind"`
	Symbol    string    `db:"symbol"`
	Severity  string    `db:"severity"`
	Message   string    `db:"message"`
	Value     float64   `db:"triggering_value"`
	Threshold float64   `db:"threshold"`
	FiredAt   time.Time `db:"fired_at"`
	Fields    []byte    `db:"fields"`
}

func (r eventRow) event() (alerts.Event, error) {
	ev := alerts.Event{
		ID:        r.ID,
		RuleID:    r.RuleID,
		RuleName:  r.RuleName,
		Kind:      rules.Kind(r.Kind),
		Symbol:    r.Symbol,
		Severity:  rules.Severity(r.Severity),
		Message:   r.Message,
		Value:     r.Value,
		Threshold: r.Threshold,
		Timestamp: r.FiredAt.UTC(),
	}
	if len(r.Fields) > 0 {
		if err := json.Unmarshal(r.Fields, &ev.Fields); err != nil {
			return alerts.Event{}, fmt.Errorf("decode fields of event %s: %w", r.ID, err)
		}
	}
	return ev, nil
}

// PostgresStore keeps events in the alert_events table.
type PostgresStore struct {
	db *sqlx.DB
}

// OpenPostgres connects to dsn, verifies the connection and creates the
// schema when missing.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping postgres: %w", err)
	}
	s := NewPostgres(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the alert_events table and its indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, ev alerts.Event) error {
	var fields []byte
	if len(ev.Fields) > 0 {
		var err error
		if fields, err = json.Marshal(ev.Fields); err != nil {
			return fmt.Errorf("history: encode fields: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, insertEvent,
		ev.ID, ev.RuleID, ev.RuleName, string(ev.Kind), ev.Symbol,
		string(ev.Severity), ev.Severity.Rank(), ev.Message,
		ev.Value, ev.Threshold, ev.Timestamp.UTC(), fields)
	if err != nil {
		return fmt.Errorf("history: insert event %s: %w", ev.ID, err)
	}
	return nil
}

// where renders f as a WHERE clause with positional arguments.
func where(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.RuleID != "" {
		add("rule_id = $%d", f.RuleID)
	}
	if !f.Since.IsZero() {
		add("fired_at >= $%d", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		add("fired_at < $%d", f.Until.UTC())
	}
	if f.MinSeverity != "" {
		add("severity_rank >= $%d", f.MinSeverity.Rank())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *PostgresStore) Query(ctx context.Context, f Filter) (Page, error) {
	if err := f.validate(); err != nil {
		return Page{}, err
	}
	clause, args := where(f)

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM alert_events"+clause, args...); err != nil {
		return Page{}, fmt.Errorf("history: count events: %w", err)
	}

	q := "SELECT " + selectColumns + " FROM alert_events" + clause + " ORDER BY fired_at, seq"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return Page{}, fmt.Errorf("history: select events: %w", err)
	}
	page := Page{Events: make([]alerts.Event, 0, len(rows)), Total: total}
	for _, r := range rows {
		ev, err := r.event()
		if err != nil {
			return Page{}, err
		}
		page.Events = append(page.Events, ev)
	}
	return page, nil
}

func (s *PostgresStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM alert_events WHERE fired_at < $1", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return int(n), nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
