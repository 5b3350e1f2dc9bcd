// Package report delivers run summaries to an external channel.
// Delivery is best effort: callers log failures and move on.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
)

// Notifier accepts a free-form textual summary.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Webhook posts summaries as Slack-compatible {"text": ...} payloads.
type Webhook struct {
	url  string
	http *http.Client
}

// NewWebhook creates a Webhook notifier for the given incoming-webhook URL.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:  url,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify delivers one summary. The error is informational only; nothing in
// the system treats a failed report as fatal.
func (w *Webhook) Notify(ctx context.Context, text string) error {
	payload, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "post summary")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return errors.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
