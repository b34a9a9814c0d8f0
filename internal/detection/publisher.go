// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package detection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/narratrace/narratrace/internal/config"
	"github.com/narratrace/narratrace/internal/metrics"
)

// NATSNotifier publishes campaign alerts to a JetStream subject through
// Watermill. Downstream consumers (dashboards, ticketing bridges)
// subscribe to the subject and fan out deliveries themselves; message
// id tracking lets JetStream deduplicate redelivered alerts.
type NATSNotifier struct {
	publisher message.Publisher
	subject   string
	logger    watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// NewNATSNotifier creates a Watermill NATS publisher for alert delivery.
func NewNATSNotifier(cfg config.NATSConfig, logger watermill.LoggerAdapter) (*NATSNotifier, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			// The alert stream is provisioned by StreamInitializer before
			// the publisher starts, so no auto-provisioning here.
			Disabled:      false,
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	return &NATSNotifier{
		publisher: pub,
		subject:   cfg.Subject,
		logger:    logger,
	}, nil
}

// Name returns the notifier name.
func (n *NATSNotifier) Name() string {
	return "nats"
}

// Enabled reports whether the notifier can deliver alerts.
func (n *NATSNotifier) Enabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return !n.closed
}

// Send serializes the alert and publishes it to the configured subject.
// The alert ID doubles as the message UUID so consumers can deduplicate.
func (n *NATSNotifier) Send(ctx context.Context, alert *Alert) error {
	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return fmt.Errorf("nats notifier is closed")
	}
	n.mu.RUnlock()

	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	msg := message.NewMessage(alert.ID, data)
	msg.Metadata.Set("campaign_id", alert.CampaignID)
	msg.Metadata.Set("severity", string(alert.Severity))

	start := time.Now()
	if err := n.publisher.Publish(n.subject, msg); err != nil {
		metrics.RecordAlert(n.Name(), "failure", time.Since(start))
		return fmt.Errorf("publish alert %s: %w", alert.ID, err)
	}
	metrics.RecordAlert(n.Name(), "success", time.Since(start))
	return nil
}

// Close gracefully shuts down the underlying publisher.
func (n *NATSNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	return n.publisher.Close()
}
