// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package detection

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
)

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
	msgs   []*message.Message
	err    error
}

func (p *capturePublisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, msg := range msgs {
		p.topics = append(p.topics, topic)
		p.msgs = append(p.msgs, msg)
	}
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func newTestNATSNotifier(pub message.Publisher) *NATSNotifier {
	return &NATSNotifier{
		publisher: pub,
		subject:   "campaigns.alerts",
		logger:    watermill.NopLogger{},
	}
}

func TestNATSNotifierSend(t *testing.T) {
	pub := &capturePublisher{}
	n := newTestNATSNotifier(pub)

	if n.Name() != "nats" {
		t.Errorf("Name() = %s, want nats", n.Name())
	}
	if !n.Enabled() {
		t.Fatal("notifier should be enabled before Close")
	}

	alert := testAlert()
	if err := n.Send(context.Background(), alert); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(pub.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.msgs))
	}
	if pub.topics[0] != "campaigns.alerts" {
		t.Errorf("topic = %s, want campaigns.alerts", pub.topics[0])
	}

	msg := pub.msgs[0]
	if msg.UUID != alert.ID {
		t.Errorf("message UUID = %s, want %s", msg.UUID, alert.ID)
	}
	if got := msg.Metadata.Get("campaign_id"); got != alert.CampaignID {
		t.Errorf("campaign_id metadata = %s, want %s", got, alert.CampaignID)
	}
	if got := msg.Metadata.Get("severity"); got != string(SeverityHigh) {
		t.Errorf("severity metadata = %s, want %s", got, SeverityHigh)
	}

	var decoded Alert
	if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.Score != alert.Score {
		t.Errorf("decoded score = %v, want %v", decoded.Score, alert.Score)
	}
}

func TestNATSNotifierSendError(t *testing.T) {
	pub := &capturePublisher{err: errors.New("connection lost")}
	n := newTestNATSNotifier(pub)

	if err := n.Send(context.Background(), testAlert()); err == nil {
		t.Fatal("Send() with failing publisher returned nil error")
	}
}

func TestNATSNotifierClosed(t *testing.T) {
	pub := &capturePublisher{}
	n := newTestNATSNotifier(pub)

	if err := n.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if n.Enabled() {
		t.Error("notifier should report disabled after Close")
	}
	if err := n.Send(context.Background(), testAlert()); err == nil {
		t.Fatal("Send() after Close returned nil error")
	}
	if err := n.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
