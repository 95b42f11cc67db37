package notify

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/copperwatch/copperwatch/server/internal/alerts"
)

// Console writes one line per event to an io.Writer.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole returns a Console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Send(ctx context.Context, ev alerts.Event) error {
	if err := ctx.Err(); err != nil {
		return fail(c.Name(), err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "%s %s value=%.4f threshold=%.4f rule=%s\n",
		timestamp(ev.Timestamp), summary(ev), ev.Value, ev.Threshold, ev.RuleID)
	if err != nil {
		return fail(c.Name(), err)
	}
	return nil
}
