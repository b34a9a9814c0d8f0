// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package detection

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/narratrace/narratrace/internal/config"
)

func testAlert() *Alert {
	return &Alert{
		ID:         "a1b2c3",
		CampaignID: "deadbeef",
		Severity:   SeverityHigh,
		Score:      74.5,
		Title:      "Coordinated campaign detected for narrative cluster 3",
		CreatedAt:  time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

func testWebhookConfig(url string) config.WebhookConfig {
	return config.WebhookConfig{
		Enabled:          true,
		URL:              url,
		Timeout:          2 * time.Second,
		BreakerThreshold: 3,
		BreakerCooldown:  time.Minute,
	}
}

func TestWebhookNotifierSend(t *testing.T) {
	var received atomic.Int64
	var gotPayload WebhookPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %s, want application/json", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotPayload); err != nil {
			t.Errorf("unmarshal payload: %v", err)
		}
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	n := NewWebhookNotifier(testWebhookConfig(server.URL))
	if n.Name() != "webhook" {
		t.Errorf("Name() = %s, want webhook", n.Name())
	}
	if !n.Enabled() {
		t.Fatal("notifier should be enabled")
	}

	if err := n.Send(context.Background(), testAlert()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if received.Load() != 1 {
		t.Errorf("server received %d requests, want 1", received.Load())
	}
	if gotPayload.EventType != "campaign_alert" {
		t.Errorf("event_type = %s, want campaign_alert", gotPayload.EventType)
	}
	if gotPayload.Source != "narratrace" {
		t.Errorf("source = %s, want narratrace", gotPayload.Source)
	}
	if gotPayload.Alert == nil || gotPayload.Alert.CampaignID != "deadbeef" {
		t.Errorf("alert payload = %+v, want campaign id deadbeef", gotPayload.Alert)
	}
}

func TestWebhookNotifierCustomHeaders(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	n := NewWebhookNotifier(testWebhookConfig(server.URL))
	n.SetHeaders(map[string]string{"Authorization": "Bearer token123"})

	if err := n.Send(context.Background(), testAlert()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotAuth != "Bearer token123" {
		t.Errorf("Authorization = %q, want Bearer token123", gotAuth)
	}
}

func TestWebhookNotifierDisabled(t *testing.T) {
	var received atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
	}))
	t.Cleanup(server.Close)

	n := NewWebhookNotifier(testWebhookConfig(server.URL))
	n.SetEnabled(false)

	if err := n.Send(context.Background(), testAlert()); err != nil {
		t.Fatalf("Send() on disabled notifier error = %v", err)
	}
	if received.Load() != 0 {
		t.Errorf("disabled notifier sent %d requests, want 0", received.Load())
	}
}

func TestWebhookNotifierServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	n := NewWebhookNotifier(testWebhookConfig(server.URL))
	if err := n.Send(context.Background(), testAlert()); err == nil {
		t.Fatal("Send() to failing endpoint returned nil error")
	}
}

func TestWebhookNotifierBreakerOpens(t *testing.T) {
	var received atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	n := NewWebhookNotifier(testWebhookConfig(server.URL))

	// Trip the breaker with consecutive failures.
	for i := 0; i < 3; i++ {
		if err := n.Send(context.Background(), testAlert()); err == nil {
			t.Fatalf("Send() %d returned nil error", i)
		}
	}
	afterTrip := received.Load()
	if afterTrip != 3 {
		t.Fatalf("server received %d requests before trip, want 3", afterTrip)
	}

	// Breaker is open: deliveries are rejected without hitting the endpoint.
	err := n.Send(context.Background(), testAlert())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Send() with open breaker error = %v, want ErrOpenState", err)
	}
	if received.Load() != afterTrip {
		t.Errorf("server received %d requests after trip, want %d", received.Load(), afterTrip)
	}
}
