package history

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/copperwatch/copperwatch/server/internal/alerts"
	"github.com/copperwatch/copperwatch/server/internal/rules"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func event(n int, rule string, sev rules.Severity) alerts.Event {
	return alerts.Event{
		ID:        fmt.Sprintf("evt-%d", n),
		RuleID:    rule,
		Severity:  sev,
		Timestamp: base.Add(time.Duration(n) * time.Minute),
	}
}

func fill(t *testing.T, s Store, events ...alerts.Event) {
	t.Helper()
	for _, ev := range events {
		if err := s.Append(context.Background(), ev); err != nil {
			t.Fatalf("Append(%s): %v", ev.ID, err)
		}
	}
}

func ids(events []alerts.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}

func equalIDs(t *testing.T, got []alerts.Event, want ...string) {
	t.Helper()
	g := ids(got)
	if len(g) != len(want) {
		t.Fatalf("events: got %v, want %v", g, want)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("events: got %v, want %v", g, want)
		}
	}
}

func TestMemory_QueryAll(t *testing.T) {
	s := NewMemory(0)
	fill(t, s, event(1, "a", rules.SeverityInfo), event(2, "b", rules.SeverityWarning), event(3, "a", rules.SeverityCritical))

	page, err := s.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if page.Total != 3 {
		t.Errorf("Total: got %d, want 3", page.Total)
	}
	equalIDs(t, page.Events, "evt-1", "evt-2", "evt-3")
}

func TestMemory_EventsAreIsolated(t *testing.T) {
	s := NewMemory(0)
	ev := event(1, "a", rules.SeverityInfo)
	ev.Fields = map[string]float64{"price": 76000}
	fill(t, s, ev)

	// The caller's map after Append.
	ev.Fields["price"] = -2

	page, err := s.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	// A query result handed to an API client.
	page.Events[0].Fields["price"] = -1

	page, err = s.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got := page.Events[0].Fields["price"]; got != 76000 {
		t.Errorf("stored price: got %v, want 76000", got)
	}
}

func TestMemory_QueryEmpty(t *testing.T) {
	page, err := NewMemory(10).Query(context.Background(), Filter{RuleID: "x"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if page.Events == nil || len(page.Events) != 0 || page.Total != 0 {
		t.Errorf("empty query: got %+v", page)
	}
}

func TestMemory_Filters(t *testing.T) {
	s := NewMemory(0)
	fill(t, s,
		event(1, "a", rules.SeverityInfo),
		event(2, "b", rules.SeverityWarning),
		event(3, "a", rules.SeverityCritical),
		event(4, "a", rules.SeverityWarning),
	)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"rule", Filter{RuleID: "a"}, []string{"evt-1", "evt-3", "evt-4"}},
		{"since inclusive", Filter{Since: base.Add(3 * time.Minute)}, []string{"evt-3", "evt-4"}},
		{"until exclusive", Filter{Until: base.Add(3 * time.Minute)}, []string{"evt-1", "evt-2"}},
		{"min severity", Filter{MinSeverity: rules.SeverityWarning}, []string{"evt-2", "evt-3", "evt-4"}},
		{"combined", Filter{RuleID: "a", MinSeverity: rules.SeverityWarning, Until: base.Add(4 * time.Minute)}, []string{"evt-3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := s.Query(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			equalIDs(t, page.Events, tt.want...)
			if page.Total != len(tt.want) {
				t.Errorf("Total: got %d, want %d", page.Total, len(tt.want))
			}
		})
	}
}

func TestMemory_Pagination(t *testing.T) {
	s := NewMemory(0)
	for i := 1; i <= 5; i++ {
		fill(t, s, event(i, "a", rules.SeverityWarning))
	}

	page, err := s.Query(context.Background(), Filter{Offset: 1, Limit: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	equalIDs(t, page.Events, "evt-2", "evt-3")
	if page.Total != 5 {
		t.Errorf("Total: got %d, want 5", page.Total)
	}

	page, _ = s.Query(context.Background(), Filter{Offset: 10})
	if len(page.Events) != 0 || page.Total != 5 {
		t.Errorf("offset past end: got %d events, total %d", len(page.Events), page.Total)
	}
}

func TestMemory_NegativePaging(t *testing.T) {
	if _, err := NewMemory(0).Query(context.Background(), Filter{Offset: -1}); err == nil {
		t.Error("negative offset: expected error")
	}
	if _, err := NewMemory(0).Query(context.Background(), Filter{Limit: -1}); err == nil {
		t.Error("negative limit: expected error")
	}
}

func TestMemory_MaxEntriesDropsOldest(t *testing.T) {
	s := NewMemory(3)
	for i := 1; i <= 5; i++ {
		fill(t, s, event(i, "a", rules.SeverityWarning))
	}
	if s.Len() != 3 {
		t.Fatalf("Len: got %d, want 3", s.Len())
	}
	page, _ := s.Query(context.Background(), Filter{})
	equalIDs(t, page.Events, "evt-3", "evt-4", "evt-5")
}

func TestMemory_Prune(t *testing.T) {
	s := NewMemory(0)
	for i := 1; i <= 4; i++ {
		fill(t, s, event(i, "a", rules.SeverityWarning))
	}

	n, err := s.Prune(context.Background(), base.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Errorf("Prune removed %d, want 2", n)
	}
	page, _ := s.Query(context.Background(), Filter{})
	equalIDs(t, page.Events, "evt-3", "evt-4")

	if n, _ := s.Prune(context.Background(), base); n != 0 {
		t.Errorf("second Prune removed %d, want 0", n)
	}
}

func TestMemory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemory(0)
	if err := s.Append(ctx, event(1, "a", rules.SeverityInfo)); err == nil {
		t.Error("Append with cancelled ctx: expected error")
	}
	if s.Len() != 0 {
		t.Errorf("Len: got %d, want 0", s.Len())
	}
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	s := NewMemory(100)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = s.Append(context.Background(), event(w*100+i, "a", rules.SeverityInfo))
				_, _ = s.Query(context.Background(), Filter{Limit: 5})
			}
		}(w)
	}
	wg.Wait()
	if s.Len() != 100 {
		t.Errorf("Len: got %d, want 100", s.Len())
	}
}

func TestRecent(t *testing.T) {
	s := NewMemory(0)
	now := time.Now()
	fill(t, s,
		alerts.Event{ID: "old", Timestamp: now.Add(-5 * time.Hour)},
		alerts.Event{ID: "new", Timestamp: now.Add(-30 * time.Minute)},
	)

	got, err := Recent(context.Background(), s, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	equalIDs(t, got, "new")

	if _, err := Recent(context.Background(), s, 0); err == nil {
		t.Error("Recent(0): expected error")
	}
}
