// Package webhook posts run lifecycle events to an operator endpoint.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/use-agent/harvest/policy"
)

// SignatureHeader carries the HMAC-SHA256 of the body when a secret is set.
const SignatureHeader = "X-Harvest-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string `json:"type"` // "run.completed" or "run.interrupted"
	RunID     string `json:"run_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Deliver sends a webhook event synchronously.
func Deliver(ctx context.Context, client *http.Client, url, secret string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Harvest-Webhook/1.0")
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Notifier delivers events with a fixed retry schedule. It runs in the
// caller's goroutine so a final event is not lost at process exit.
type Notifier struct {
	URL    string
	Secret string
	Client *http.Client
	Delays []time.Duration
	Sleep  policy.SleepFunc
}

// NewNotifier creates a Notifier retrying after 1s and 5s. An empty url
// yields nil, and a nil *Notifier sends nothing.
func NewNotifier(url, secret string) *Notifier {
	if url == "" {
		return nil
	}
	return &Notifier{
		URL:    url,
		Secret: secret,
		Client: &http.Client{Timeout: 10 * time.Second},
		Delays: []time.Duration{0, 1 * time.Second, 5 * time.Second},
		Sleep:  policy.Sleep,
	}
}

// Notify delivers event, retrying per Delays. It returns the last error.
func (n *Notifier) Notify(ctx context.Context, event *Event) error {
	if n == nil {
		return nil
	}
	var err error
	for attempt, delay := range n.Delays {
		if err := n.Sleep(ctx, delay); err != nil {
			return err
		}
		if err = Deliver(ctx, n.Client, n.URL, n.Secret, event); err == nil {
			slog.Info("webhook delivered", "event", event.Type, "attempt", attempt+1)
			return nil
		}
		slog.Warn("webhook delivery failed", "event", event.Type, "attempt", attempt+1, "error", err)
	}
	return err
}
