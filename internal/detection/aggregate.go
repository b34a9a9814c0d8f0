// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package detection

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/narratrace/narratrace/internal/config"
	"github.com/narratrace/narratrace/internal/logging"
	"github.com/narratrace/narratrace/internal/metrics"
	"github.com/narratrace/narratrace/internal/models"
)

// Aggregator fuses burst, coordination, bot, and content signals into one
// Campaign per (narrative cluster, window) pair. Campaign ids are
// deterministic, and writes to the same id are serialized through a
// per-campaign mutex so concurrent re-runs stay idempotent.
type Aggregator struct {
	cfg   config.ScoreConfig
	store CampaignStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ClusterSignals carries everything the aggregator needs for one
// (narrative cluster, window) pair.
type ClusterSignals struct {
	Cluster      NarrativeCluster
	Posts        []models.EnrichedPost // cluster members inside the window
	Bursts       []BurstEvent
	Coordination []CoordinationCluster
	BotScores    map[string]BotScore // all scored authors; filtered to involved ones
}

// NewAggregator creates a campaign aggregator from configuration.
func NewAggregator(cfg config.ScoreConfig, store CampaignStore) *Aggregator {
	return &Aggregator{
		cfg:   cfg,
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

// Aggregate scores one (narrative cluster, window) pair and upserts the
// resulting Campaign. It returns nil when the window does not qualify
// (no posts, or score below the floor), ErrStaleEvidence when a human
// decision has frozen the campaign, and an Alert when the campaign is new
// or its severity bucket escalated.
func (ag *Aggregator) Aggregate(ctx context.Context, sig ClusterSignals, w Window) (*Campaign, *Alert, error) {
	if len(sig.Posts) == 0 {
		return nil, nil, nil
	}

	breakdown, involved := ag.components(sig)
	score := ag.fuse(breakdown)
	if score < ScoreFloor {
		return nil, nil, nil
	}

	id := CampaignID(sig.Cluster.ID, w.Start)
	lock := ag.campaignLock(id)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	campaign := &Campaign{
		ID:                 id,
		NarrativeClusterID: sig.Cluster.ID,
		WindowStart:        w.Start,
		WindowEnd:          w.End,
		Score:              score,
		Severity:           SeverityForScore(score),
		Breakdown:          breakdown,
		Methods:            ag.methods(sig, breakdown),
		Evidence:           ag.evidence(sig, involved),
		Status:             StatusDetected,
		HumanReviewNeeded:  score >= HighBoundary,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	existing, err := ag.store.GetCampaign(ctx, id)
	switch {
	case errors.Is(err, ErrCampaignNotFound):
		if err := ag.store.PutCampaign(ctx, campaign); err != nil {
			return nil, nil, fmt.Errorf("create campaign %s: %w", id, err)
		}
		metrics.RecordCampaign(true, string(campaign.Severity), score)
		logging.Info().
			Str("campaign_id", id).
			Int("narrative_cluster", sig.Cluster.ID).
			Float64("score", score).
			Str("severity", string(campaign.Severity)).
			Msg("campaign created")
		return campaign, ag.newAlert(campaign, false), nil

	case err != nil:
		return nil, nil, fmt.Errorf("read campaign %s: %w", id, err)
	}

	if existing.Status != StatusDetected {
		// A human decision froze this record. Skip, log, surface; never
		// overwrite and never retry.
		metrics.CampaignsSkippedStale.Inc()
		logging.Warn().
			Str("campaign_id", id).
			Str("status", string(existing.Status)).
			Msg("skipping update of human-reviewed campaign")
		return nil, nil, ErrStaleEvidence
	}

	campaign.CreatedAt = existing.CreatedAt
	if err := ag.store.PutCampaign(ctx, campaign); err != nil {
		return nil, nil, fmt.Errorf("update campaign %s: %w", id, err)
	}
	metrics.RecordCampaign(false, string(campaign.Severity), score)

	if severityRank(campaign.Severity) > severityRank(existing.Severity) {
		logging.Info().
			Str("campaign_id", id).
			Str("from", string(existing.Severity)).
			Str("to", string(campaign.Severity)).
			Msg("campaign severity escalated")
		return campaign, ag.newAlert(campaign, true), nil
	}
	return campaign, nil, nil
}

// components computes the four normalized signal components and the set of
// involved author ids.
func (ag *Aggregator) components(sig ClusterSignals) (ScoreBreakdown, []string) {
	var breakdown ScoreBreakdown

	for _, b := range sig.Bursts {
		c := clamp01(b.Intensity / ag.cfg.IntensityCap)
		if c > breakdown.Burst {
			breakdown.Burst = c
		}
	}

	for _, cc := range sig.Coordination {
		c := clamp01(cc.Density * cc.AvgConfidence)
		if c > breakdown.Coordination {
			breakdown.Coordination = c
		}
	}

	authorSet := make(map[string]struct{})
	for i := range sig.Posts {
		authorSet[sig.Posts[i].AuthorID] = struct{}{}
	}
	involved := make([]string, 0, len(authorSet))
	for a := range authorSet {
		involved = append(involved, a)
	}
	sort.Strings(involved)

	if len(involved) > 0 {
		bots := 0
		for _, a := range involved {
			if sig.BotScores[a].Likelihood >= ag.cfg.BotThreshold {
				bots++
			}
		}
		breakdown.BotPresence = float64(bots) / float64(len(involved))
	}

	var content float64
	for i := range sig.Posts {
		content += (clamp01(sig.Posts[i].ToxicityScore) + clamp01(math.Abs(sig.Posts[i].StanceScore))) / 2
	}
	breakdown.Content = content / float64(len(sig.Posts))

	return breakdown, involved
}

// fuse combines the components into the 0-100 campaign score. With convex
// weights and components in [0,1] the result is always bounded.
func (ag *Aggregator) fuse(b ScoreBreakdown) float64 {
	raw := ag.cfg.WeightBurst*b.Burst +
		ag.cfg.WeightCoordination*b.Coordination +
		ag.cfg.WeightBotPresence*b.BotPresence +
		ag.cfg.WeightContent*b.Content
	return clamp01(raw) * 100
}

// methods lists the detection methods that contributed evidence.
func (ag *Aggregator) methods(sig ClusterSignals, b ScoreBreakdown) []DetectionMethod {
	seen := make(map[DetectionMethod]bool)
	var methods []DetectionMethod
	add := func(m DetectionMethod) {
		if !seen[m] {
			seen[m] = true
			methods = append(methods, m)
		}
	}
	for _, ev := range sig.Bursts {
		add(ev.Method)
	}
	if len(sig.Coordination) > 0 {
		add(MethodCoordination)
	}
	if b.BotPresence > 0 {
		add(MethodBotScoring)
	}
	if b.Content > 0 {
		add(MethodContent)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
	return methods
}

// evidence assembles the audit trail. Everything is sorted so recomputing
// from identical inputs yields a byte-identical evidence set.
func (ag *Aggregator) evidence(sig ClusterSignals, involved []string) Evidence {
	postIDs := make([]string, 0, len(sig.Posts))
	for i := range sig.Posts {
		postIDs = append(postIDs, sig.Posts[i].ID)
	}
	sort.Strings(postIDs)

	likelihoods := make(map[string]float64, len(involved))
	components := make(map[string]BotComponents, len(involved))
	for _, a := range involved {
		if s, ok := sig.BotScores[a]; ok {
			likelihoods[a] = s.Likelihood
			components[a] = s.Components
		}
	}

	bursts := make([]BurstEvent, len(sig.Bursts))
	copy(bursts, sig.Bursts)
	sort.Slice(bursts, func(i, j int) bool { return bursts[i].Start.Before(bursts[j].Start) })

	clusters := make([]CoordinationCluster, len(sig.Coordination))
	copy(clusters, sig.Coordination)
	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].AuthorIDs[0] < clusters[j].AuthorIDs[0]
	})

	return Evidence{
		PostIDs:              postIDs,
		AuthorIDs:            involved,
		BurstEvents:          bursts,
		CoordinationClusters: clusters,
		BotLikelihoods:       likelihoods,
		BotComponents:        components,
	}
}

func (ag *Aggregator) newAlert(c *Campaign, escalated bool) *Alert {
	return &Alert{
		ID:         uuid.NewString(),
		CampaignID: c.ID,
		Severity:   c.Severity,
		Score:      c.Score,
		Title:      fmt.Sprintf("coordinated campaign %s in narrative cluster %d", c.Severity, c.NarrativeClusterID),
		Escalated:  escalated,
		CreatedAt:  time.Now().UTC(),
	}
}

// campaignLock returns the mutex serializing writes to one campaign id.
func (ag *Aggregator) campaignLock(id string) *sync.Mutex {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	lock, ok := ag.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		ag.locks[id] = lock
	}
	return lock
}

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}
