// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package detection

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData signals too few events to fit the multi-state
	// burst model. Resolved by the z-score fallback, never a hard failure.
	ErrInsufficientData = errors.New("insufficient data for model fit")

	// ErrStaleEvidence signals an attempted update to a campaign whose
	// status has left "detected". The update is skipped and logged, never
	// retried.
	ErrStaleEvidence = errors.New("campaign frozen by human review decision")

	// ErrUpstreamUnavailable signals that the post feed or persistence
	// collaborator is unreachable. Retried with backoff at the pass level.
	ErrUpstreamUnavailable = errors.New("upstream collaborator unavailable")

	// ErrCampaignNotFound is returned by CampaignStore lookups for unknown ids.
	ErrCampaignNotFound = errors.New("campaign not found")
)

// MissingFeatureError reports an absent author or post field. The caller
// imputes the population median and continues; scoring never fails on a
// single missing field.
type MissingFeatureError struct {
	AuthorID string
	Feature  string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("author %s missing feature %q", e.AuthorID, e.Feature)
}

// IsRetryable reports whether an error should trigger a pass-level retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}
