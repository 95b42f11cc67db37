package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copperwatch/copperwatch/server/internal/alerts"
)

func TestNewPruner_Validation(t *testing.T) {
	_, err := NewPruner(NewMemory(0), 0, "@every 1h")
	assert.Error(t, err)

	_, err = NewPruner(NewMemory(0), time.Hour, "not a schedule")
	assert.Error(t, err)
}

func TestPruner_PruneOnce(t *testing.T) {
	s := NewMemory(0)
	fill(t, s,
		alerts.Event{ID: "old", Timestamp: base.Add(-48 * time.Hour)},
		alerts.Event{ID: "edge", Timestamp: base.Add(-24 * time.Hour)},
		alerts.Event{ID: "fresh", Timestamp: base.Add(-time.Hour)},
	)

	p, err := NewPruner(s, 24*time.Hour, "@every 1h")
	require.NoError(t, err)
	p.now = func() time.Time { return base }

	n, err := p.PruneOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	page, _ := s.Query(context.Background(), Filter{})
	assert.Equal(t, []string{"edge", "fresh"}, ids(page.Events))
}

func TestPruner_StartStop(t *testing.T) {
	p, err := NewPruner(NewMemory(0), time.Hour, "@every 1h")
	require.NoError(t, err)
	p.Start()
	p.Stop()
}
