// Package notify publishes pipeline events to an external sink. Delivery is
// best effort; callers treat failures as log-only.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	EventActionAssigned  = "action_assigned"
	EventActionEscalated = "action_escalated"
	EventAlertRaised     = "alert_raised"
)

type Event struct {
	Type     string    `json:"type"`
	TenantID string    `json:"tenant_id"`
	ActionID string    `json:"action_id,omitempty"`
	Priority string    `json:"priority,omitempty"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// NoopSink drops every event. Used when no webhook is configured.
type NoopSink struct{}

func (NoopSink) Publish(context.Context, Event) error { return nil }

// WebhookSink POSTs events as JSON to a fixed URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSink) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: publish %s: %w", ev.Type, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: publish %s: sink returned %d", ev.Type, resp.StatusCode)
	}
	return nil
}
