// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package services

import (
	"context"
	"time"

	"github.com/narratrace/narratrace/internal/logging"
)

// GarbageCollector matches the store's value-log GC method.
// Satisfied by *detection.BadgerStore.
type GarbageCollector interface {
	RunGC() error
}

// StoreGCService periodically reclaims space in the Badger value log.
// Badger never runs value-log GC on its own; something has to drive it.
type StoreGCService struct {
	store    GarbageCollector
	interval time.Duration
	name     string
}

// NewStoreGCService creates a GC service running at the given interval.
func NewStoreGCService(store GarbageCollector, interval time.Duration) *StoreGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &StoreGCService{
		store:    store,
		interval: interval,
		name:     "store-gc",
	}
}

// Serve implements suture.Service.
func (s *StoreGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.store.RunGC(); err != nil {
				logging.Error().Err(err).Msg("badger value log GC failed")
			}
		}
	}
}

// String implements fmt.Stringer for suture's log messages.
func (s *StoreGCService) String() string {
	return s.name
}
