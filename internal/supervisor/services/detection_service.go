// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package services

import (
	"context"
)

// DetectionEngine matches the detection engine's scheduler loop.
// Satisfied by *detection.Engine.
type DetectionEngine interface {
	// RunWithContext runs scheduled detection passes until the context is
	// canceled.
	RunWithContext(ctx context.Context) error
}

// DetectionService wraps the detection engine as a supervised service.
// If the scheduler loop crashes, suture restarts it with backoff.
type DetectionService struct {
	engine DetectionEngine
	name   string
}

// NewDetectionService creates a detection engine service wrapper.
func NewDetectionService(engine DetectionEngine) *DetectionService {
	return &DetectionService{
		engine: engine,
		name:   "detection-engine",
	}
}

// Serve implements suture.Service. It returns ctx.Err() on normal shutdown.
func (d *DetectionService) Serve(ctx context.Context) error {
	return d.engine.RunWithContext(ctx)
}

// String implements fmt.Stringer for suture's log messages.
func (d *DetectionService) String() string {
	return d.name
}
