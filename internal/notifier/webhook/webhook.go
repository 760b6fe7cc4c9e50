// Package webhook implements an HTTP webhook notifier
package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/newthinker/keywatch/internal/notifier"
)

// Webhook implements the Notifier interface for HTTP webhooks
type Webhook struct {
	url     string
	headers map[string]string
	client  *resty.Client
}

// New creates a new Webhook notifier
func New(url string, headers map[string]string) *Webhook {
	return &Webhook{
		url:     url,
		headers: headers,
		client:  resty.New().SetTimeout(30 * time.Second),
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Init(cfg notifier.Config) error {
	if url, ok := cfg.Params["url"].(string); ok {
		w.url = url
	}
	switch headers := cfg.Params["headers"].(type) {
	case map[string]string:
		w.headers = headers
	case map[string]any:
		w.headers = make(map[string]string, len(headers))
		for k, v := range headers {
			w.headers[k] = fmt.Sprint(v)
		}
	}

	if w.url == "" {
		return fmt.Errorf("webhook: url is required")
	}

	if w.client == nil {
		w.client = resty.New().SetTimeout(30 * time.Second)
	}

	return nil
}

// payload is the JSON body posted for each event.
type payload struct {
	Type     string             `json:"type"`
	Start    string             `json:"start"`
	End      string             `json:"end"`
	At       string             `json:"at"`
	Count    int                `json:"count"`
	Failures []notifier.Failure `json:"failures"`
}

func (w *Webhook) Send(ctx context.Context, ev notifier.Event) error {
	if len(ev.Failures) == 0 {
		return nil
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeaders(w.headers).
		SetBody(payload{
			Type:     "refresh_failed",
			Start:    ev.Window.Start.Format(time.RFC3339),
			End:      ev.Window.End.Format(time.RFC3339),
			At:       ev.At.Format(time.RFC3339),
			Count:    len(ev.Failures),
			Failures: ev.Failures,
		}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}

	if resp.StatusCode() >= 400 {
		return fmt.Errorf("webhook: server returned %d", resp.StatusCode())
	}

	return nil
}
