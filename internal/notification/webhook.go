package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Headers set on every webhook delivery so receivers can route without
// decoding the body.
const (
	HeaderEvent = "X-Backtest-Event"
	HeaderRunID = "X-Backtest-Run-ID"
	HeaderLevel = "X-Backtest-Level"
)

// Event names carried in HeaderEvent and the body.
const (
	EventRunFinished = "backtest.finished"
	EventAlert       = "alert"
)

// webhookEvent is the JSON body POSTed to the endpoint.
type webhookEvent struct {
	Event  string `json:"event"`
	SentAt string `json:"sent_at"`
	Alert
}

// WebhookNotifier posts alerts as JSON events to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhookNotifier posts to url with a 10s per-delivery timeout.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

func eventFor(a Alert) string {
	if a.RunID != "" {
		return EventRunFinished
	}
	return EventAlert
}

// Send delivers alert. Non-2xx answers are errors carrying the start of the
// response body.
func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	ev := webhookEvent{
		Event:  eventFor(alert),
		SentAt: w.now().UTC().Format(time.RFC3339Nano),
		Alert:  alert,
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: encode %s: %w", ev.Event, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, ev.Event)
	req.Header.Set(HeaderLevel, string(alert.Level))
	if alert.RunID != "" {
		req.Header.Set(HeaderRunID, alert.RunID)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver run %q: %w", alert.RunID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook: %s rejected with status %d: %s",
			ev.Event, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	log.Printf("[notify] webhook %s delivered (run=%s level=%s)", ev.Event, alert.RunID, alert.Level)
	return nil
}
