package history

import (
	"context"
	"sync"
	"time"

	"github.com/copperwatch/copperwatch/server/internal/alerts"
)

// MemoryStore is a thread-safe in-memory event log. When full, the oldest
// event is dropped to make room. Events are copied in and out, so callers
// never share a Fields map with the log.
type MemoryStore struct {
	mu         sync.RWMutex
	events     []alerts.Event
	maxEntries int
}

// NewMemory creates a MemoryStore holding at most maxEntries events. Zero
// or less means unbounded.
func NewMemory(maxEntries int) *MemoryStore {
	return &MemoryStore{maxEntries: maxEntries}
}

func (s *MemoryStore) Append(ctx context.Context, ev alerts.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev.Clone())
	if s.maxEntries > 0 && len(s.events) > s.maxEntries {
		// Reslicing keeps Append amortized O(1); the next growth copies only
		// live events.
		s.events = s.events[len(s.events)-s.maxEntries:]
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, f Filter) (Page, error) {
	if err := f.validate(); err != nil {
		return Page{}, err
	}
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	page := Page{Events: []alerts.Event{}}
	for _, ev := range s.events {
		if !f.match(ev) {
			continue
		}
		page.Total++
		if page.Total <= f.Offset {
			continue
		}
		if f.Limit > 0 && len(page.Events) >= f.Limit {
			continue
		}
		page.Events = append(page.Events, ev.Clone())
	}
	return page, nil
}

func (s *MemoryStore) Prune(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	for _, ev := range s.events {
		if !ev.Timestamp.Before(before) {
			kept = append(kept, ev)
		}
	}
	removed := len(s.events) - len(kept)
	// Clear the tail so dropped events can be collected.
	for i := len(kept); i < len(s.events); i++ {
		s.events[i] = alerts.Event{}
	}
	s.events = kept
	return removed, nil
}

// Len returns the number of events held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
