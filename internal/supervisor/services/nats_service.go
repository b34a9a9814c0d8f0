// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package services

import (
	"context"
	"fmt"
	"time"
)

// EmbeddedBroker matches the embedded NATS server's lifecycle.
// Satisfied by *detection.EmbeddedServer, which starts listening in its
// constructor; the wrapper only supervises shutdown and liveness.
type EmbeddedBroker interface {
	IsRunning() bool
	Shutdown(ctx context.Context) error
}

// NATSServerService wraps the embedded NATS server as a supervised service.
type NATSServerService struct {
	broker          EmbeddedBroker
	shutdownTimeout time.Duration
	name            string
}

// NewNATSServerService creates an embedded broker service wrapper.
func NewNATSServerService(broker EmbeddedBroker, shutdownTimeout time.Duration) *NATSServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &NATSServerService{
		broker:          broker,
		shutdownTimeout: shutdownTimeout,
		name:            "nats-server",
	}
}

// Serve implements suture.Service. Returning an error when the broker has
// stopped unexpectedly lets suture apply its restart policy.
func (s *NATSServerService) Serve(ctx context.Context) error {
	if !s.broker.IsRunning() {
		return fmt.Errorf("embedded NATS server is not running")
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.broker.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("NATS server shutdown failed: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for suture's log messages.
func (s *NATSServerService) String() string {
	return s.name
}
