// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package detection

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/narratrace/narratrace/internal/config"
	"github.com/narratrace/narratrace/internal/logging"
	"github.com/narratrace/narratrace/internal/metrics"
)

// WebhookNotifier delivers campaign alerts to a generic webhook endpoint.
// A circuit breaker guards the endpoint: after a run of consecutive
// failures, deliveries are rejected locally until the cooldown elapses.
type WebhookNotifier struct {
	url     string
	headers map[string]string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]

	mu      sync.RWMutex
	enabled bool
}

// WebhookPayload is the JSON body sent to the webhook endpoint.
type WebhookPayload struct {
	Alert     *Alert    `json:"alert"`
	EventType string    `json:"event_type"` // campaign_alert
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // narratrace
}

// NewWebhookNotifier creates a webhook notifier from configuration.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	settings := gobreaker.Settings{
		Name:    "webhook_notifier",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("webhook circuit breaker state change")
		},
	}

	return &WebhookNotifier{
		url:     cfg.URL,
		headers: make(map[string]string),
		enabled: cfg.Enabled,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name returns the notifier name.
func (n *WebhookNotifier) Name() string {
	return "webhook"
}

// Enabled returns whether this notifier is enabled.
func (n *WebhookNotifier) Enabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled && n.url != ""
}

// SetEnabled enables or disables the notifier.
func (n *WebhookNotifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// SetHeaders replaces the custom headers sent with each delivery.
func (n *WebhookNotifier) SetHeaders(headers map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.headers = make(map[string]string)
	for k, v := range headers {
		n.headers[k] = v
	}
}

// Send delivers an alert through the circuit breaker.
func (n *WebhookNotifier) Send(ctx context.Context, alert *Alert) error {
	if !n.Enabled() {
		return nil
	}

	start := time.Now()
	_, err := n.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, n.deliver(ctx, alert)
	})

	switch {
	case err == nil:
		metrics.RecordAlert(n.Name(), "success", time.Since(start))
	case err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests:
		metrics.RecordAlert(n.Name(), "rejected", time.Since(start))
	default:
		metrics.RecordAlert(n.Name(), "failure", time.Since(start))
	}
	return err
}

func (n *WebhookNotifier) deliver(ctx context.Context, alert *Alert) error {
	n.mu.RLock()
	url := n.url
	headers := make(map[string]string, len(n.headers))
	for k, v := range n.headers {
		headers[k] = v
	}
	n.mu.RUnlock()

	payload := WebhookPayload{
		Alert:     alert,
		EventType: "campaign_alert",
		Timestamp: time.Now().UTC(),
		Source:    "narratrace",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
