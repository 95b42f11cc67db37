package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/copperwatch/copperwatch/server/internal/alerts"
	"github.com/copperwatch/copperwatch/server/internal/config"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	maxResponseBodySize   = 1024
	userAgent             = "copperwatch"
)

// HTTPStatusError is returned when a webhook answers with a non-2xx status.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Webhook posts events as JSON to a URL. The payload shape depends on the
// target type: slack, teams, or the generic {"alert": ...} envelope used for
// http and pagerduty.
type Webhook struct {
	name    string
	kind    string
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhook builds a Webhook from cfg, resolving the URL from the environment.
func NewWebhook(cfg config.WebhookConfig) *Webhook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	name := cfg.Name
	if name == "" {
		name = "webhook-" + cfg.Type
	}
	return &Webhook{
		name:    name,
		kind:    cfg.Type,
		url:     cfg.URL(),
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}
}

func (w *Webhook) Name() string { return w.name }

func (w *Webhook) Send(ctx context.Context, ev alerts.Event) error {
	if w.url == "" {
		return fail(w.name, errors.New("webhook url is empty (check url_env)"))
	}
	body, err := w.payload(ev)
	if err != nil {
		return fail(w.name, fmt.Errorf("encode payload: %w", err))
	}
	if err := w.post(ctx, body); err != nil {
		return fail(w.name, err)
	}
	return nil
}

func (w *Webhook) payload(ev alerts.Event) ([]byte, error) {
	switch w.kind {
	case "slack":
		return json.Marshal(map[string]string{
			"text": fmt.Sprintf("*%s* %s %s", severityLabel(ev.Severity), ev.Symbol, ev.Message),
		})
	case "teams":
		return json.Marshal(map[string]interface{}{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": severityColor(ev.Severity),
			"summary":    ev.RuleName,
			"title":      fmt.Sprintf("Copperwatch Alert: %s", ev.RuleName),
			"text":       ev.Message,
		})
	default:
		return json.Marshal(map[string]interface{}{"alert": ev})
	}
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
		return &HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return nil
}
