// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/narratrace/narratrace/internal/config"
)

// JetStreamContext is the subset of jetstream.JetStream the initializer
// needs, so tests can substitute a recording implementation.
type JetStreamContext interface {
	Stream(ctx context.Context, name string) (jetstream.Stream, error)
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// StreamInitializer provisions the alert stream before the publisher
// starts. The publisher relies on the stream existing: it publishes with
// auto-provision off and uses the stream's duplicate window for msg-id
// deduplication.
type StreamInitializer struct {
	js  JetStreamContext
	cfg config.NATSConfig
}

// NewStreamInitializer creates a stream initializer for the alert stream.
func NewStreamInitializer(js JetStreamContext, cfg config.NATSConfig) (*StreamInitializer, error) {
	if js == nil {
		return nil, fmt.Errorf("JetStream context required")
	}
	if cfg.Stream == "" || cfg.Subject == "" {
		return nil, fmt.Errorf("stream name and subject required")
	}
	return &StreamInitializer{js: js, cfg: cfg}, nil
}

// EnsureStream creates the alert stream, or updates its configuration if
// it already exists. Idempotent.
func (s *StreamInitializer) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:       s.cfg.Stream,
		Subjects:   []string{s.cfg.Subject},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     s.cfg.StreamMaxAge,
		Duplicates: 2 * time.Minute,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
	}

	_, err := s.js.Stream(ctx, s.cfg.Stream)
	if err == nil {
		stream, err := s.js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("update stream %s: %w", s.cfg.Stream, err)
		}
		return stream, nil
	}

	if errors.Is(err, jetstream.ErrStreamNotFound) {
		stream, err := s.js.CreateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", s.cfg.Stream, err)
		}
		return stream, nil
	}

	return nil, fmt.Errorf("check stream %s: %w", s.cfg.Stream, err)
}
