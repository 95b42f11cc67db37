package rules

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(p, []byte("rules: []\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan ImportResult, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, p, func(r ImportResult) {
			select {
			case got <- r:
			default:
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	doc := "rules:\n  - id: a\n    kind: price_above\n    parameters: {threshold: 75000}\n"
	require.NoError(t, os.WriteFile(p, []byte(doc), 0o600))

	deadline := time.After(3 * time.Second)
	for loaded := false; !loaded; {
		select {
		case res := <-got:
			if len(res.Rules) == 1 {
				require.Equal(t, "a", res.Rules[0].ID)
				loaded = true
			}
		case <-deadline:
			t.Fatal("no reload within 3s")
		}
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_RewritingUnchangedFileNeverDropsRules(t *testing.T) {
	p := filepath.Join(t.TempDir(), "rules.yaml")
	doc := []byte("rules:\n  - id: a\n    kind: price_above\n    parameters: {threshold: 75000}\n")
	require.NoError(t, os.WriteFile(p, doc, 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		sizes []int
	)
	reloaded := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, p, 20*time.Millisecond, func(r ImportResult) {
			mu.Lock()
			sizes = append(sizes, len(r.Rules))
			mu.Unlock()
			select {
			case reloaded <- struct{}{}:
			default:
			}
		})
	}()

	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 50; i++ {
		require.NoError(t, os.WriteFile(p, doc, 0o600))
		time.Sleep(time.Millisecond)
	}

	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("no reload within 3s")
	}
	// Let any trailing reload land before inspecting.
	time.Sleep(100 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, sizes)
	for i, n := range sizes {
		require.Equal(t, 1, n, "reload %d", i)
	}
	require.Less(t, len(sizes), 50, "writes were not coalesced")
}

func TestWatch_EmptyFileKeepsPreviousRules(t *testing.T) {
	p := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(p, []byte("rules: []\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan ImportResult, 4)
	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, p, 20*time.Millisecond, func(r ImportResult) { got <- r })
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, nil, 0o600))

	select {
	case r := <-got:
		t.Fatalf("empty file applied as %d rules", len(r.Rules))
	case <-time.After(300 * time.Millisecond):
	}
	cancel()
	require.NoError(t, <-done)
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), func(ImportResult) {})
	require.Error(t, err)
}
