// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package detection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/narratrace/narratrace/internal/config"
	"github.com/narratrace/narratrace/internal/logging"
	"github.com/narratrace/narratrace/internal/metrics"
	"github.com/narratrace/narratrace/internal/models"
)

// Engine coordinates the four detectors and campaign aggregation for a
// detection pass. A pass covers one time window: it pulls enriched posts
// from the feed, updates narrative clusters, runs burst, bot, and
// coordination analysis per cluster, and fuses the signals into campaigns.
type Engine struct {
	cfg        config.EngineConfig
	feed       PostFeed
	snapshots  SnapshotStore
	burst      *BurstDetector
	clusterer  *NarrativeClusterer
	botScorer  *BotScorer
	graph      *GraphBuilder
	aggregator *Aggregator

	mu        sync.RWMutex
	notifiers []Notifier
	enabled   bool
}

// NewEngine creates a detection engine.
func NewEngine(
	cfg config.EngineConfig,
	feed PostFeed,
	snapshots SnapshotStore,
	burst *BurstDetector,
	clusterer *NarrativeClusterer,
	botScorer *BotScorer,
	graph *GraphBuilder,
	aggregator *Aggregator,
) *Engine {
	return &Engine{
		cfg:        cfg,
		feed:       feed,
		snapshots:  snapshots,
		burst:      burst,
		clusterer:  clusterer,
		botScorer:  botScorer,
		graph:      graph,
		aggregator: aggregator,
		notifiers:  make([]Notifier, 0),
		enabled:    true,
	}
}

// RegisterNotifier adds a notifier to the engine.
func (e *Engine) RegisterNotifier(notifier Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.notifiers = append(e.notifiers, notifier)
	logging.Info().Str("notifier", notifier.Name()).Msg("registered notifier")
}

// SetEnabled enables or disables the engine. A disabled engine turns
// Detect into a no-op.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

// Enabled returns whether the engine is enabled.
func (e *Engine) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// Detect runs one full detection pass over the window and returns the
// campaigns written or refreshed during the pass, sorted by id.
//
// The pass is abandoned only when the upstream feed stays unavailable
// through all retries. Malformed posts and frozen campaigns are skipped
// and logged; they never fail the pass.
func (e *Engine) Detect(ctx context.Context, w Window) ([]*Campaign, error) {
	if !e.Enabled() {
		return nil, nil
	}

	start := time.Now()

	posts, err := e.fetchPosts(ctx, w)
	if err != nil {
		metrics.RecordPass("failure", time.Since(start), 0)
		return nil, fmt.Errorf("fetch posts: %w", err)
	}

	posts = e.sanitize(posts, w)
	if len(posts) == 0 {
		metrics.RecordPass("success", time.Since(start), 0)
		return nil, nil
	}

	// Bot scoring and narrative clustering operate on disjoint inputs
	// (authors vs posts) and run concurrently.
	var botScores map[string]BotScore
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		authors, err := e.fetchAuthors(gctx, authorIDs(posts))
		if err != nil {
			return fmt.Errorf("fetch authors: %w", err)
		}
		botScores = e.botScorer.ScoreAll(authors)
		return nil
	})
	g.Go(func() error {
		e.clusterer.Assign(posts)
		return nil
	})
	if err := g.Wait(); err != nil {
		metrics.RecordPass("failure", time.Since(start), len(posts))
		return nil, err
	}

	signals, err := e.clusterSignals(ctx, posts, botScores, w)
	if err != nil {
		metrics.RecordPass("failure", time.Since(start), len(posts))
		return nil, err
	}

	campaigns, alerts, err := e.aggregateAll(ctx, signals, w)
	if err != nil {
		metrics.RecordPass("failure", time.Since(start), len(posts))
		return nil, err
	}

	e.notify(ctx, alerts)

	metrics.RecordPass("success", time.Since(start), len(posts))
	logging.Info().
		Int("posts", len(posts)).
		Int("clusters", len(signals)).
		Int("campaigns", len(campaigns)).
		Int("alerts", len(alerts)).
		Dur("duration", time.Since(start)).
		Msg("detection pass completed")

	return campaigns, nil
}

// fetchPosts pulls enriched posts with exponential backoff on transient
// upstream failures.
func (e *Engine) fetchPosts(ctx context.Context, w Window) ([]models.EnrichedPost, error) {
	var posts []models.EnrichedPost
	err := e.retryUpstream(ctx, "posts", func() error {
		var err error
		posts, err = e.feed.PostsInWindow(ctx, w)
		return err
	})
	return posts, err
}

// fetchAuthors pulls author profiles with the same retry policy.
func (e *Engine) fetchAuthors(ctx context.Context, ids []string) (map[string]models.AuthorProfile, error) {
	var authors map[string]models.AuthorProfile
	err := e.retryUpstream(ctx, "authors", func() error {
		var err error
		authors, err = e.feed.Authors(ctx, ids)
		return err
	})
	return authors, err
}

func (e *Engine) retryUpstream(ctx context.Context, what string, op func() error) error {
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		metrics.UpstreamRetries.Inc()
		logging.Warn().Err(err).Str("upstream", what).Msg("upstream fetch failed, retrying")
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryInitialDelay

	err := backoff.Retry(wrapped, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(e.cfg.RetryAttempts)), ctx))
	if err != nil && IsRetryable(err) {
		metrics.UpstreamFailures.Inc()
	}
	return err
}

// sanitize drops records the detectors cannot use: missing ids, missing
// authors, zero timestamps, or timestamps outside the window. Dropped
// records are logged and never abort the pass.
func (e *Engine) sanitize(posts []models.EnrichedPost, w Window) []models.EnrichedPost {
	clean := posts[:0]
	for i := range posts {
		p := &posts[i]
		switch {
		case p.ID == "":
			logging.Warn().Str("author_id", p.AuthorID).Msg("skipping post without id")
		case p.AuthorID == "":
			logging.Warn().Str("post_id", p.ID).Msg("skipping post without author")
		case p.PostedAt.IsZero():
			logging.Warn().Str("post_id", p.ID).Msg("skipping post without timestamp")
		case !w.Contains(p.PostedAt):
			logging.Warn().Str("post_id", p.ID).Time("posted_at", p.PostedAt).Msg("skipping post outside window")
		default:
			clean = append(clean, *p)
			continue
		}
	}
	return clean
}

// clusterSignals assembles per-cluster detector output: burst events over
// the cluster's member posts, coordination clusters from the pairwise
// graph, and the shared bot score map. Baseline rates and edge snapshots
// are persisted so later passes start from prior state.
func (e *Engine) clusterSignals(
	ctx context.Context,
	posts []models.EnrichedPost,
	botScores map[string]BotScore,
	w Window,
) ([]ClusterSignals, error) {
	byCluster := make(map[int][]models.EnrichedPost)
	for i := range posts {
		if id, ok := e.clusterer.ClusterFor(posts[i].ID); ok {
			byCluster[id] = append(byCluster[id], posts[i])
		}
	}

	clusters := e.clusterer.Clusters()
	signals := make([]ClusterSignals, 0, len(clusters))
	for _, cluster := range clusters {
		members := byCluster[cluster.ID]
		if len(members) == 0 {
			continue
		}

		key := burstKey(cluster.ID)
		prior, _, err := e.snapshots.GetBurstBaseline(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load burst baseline %s: %w", key, err)
		}

		times := make([]time.Time, len(members))
		for i := range members {
			times[i] = members[i].PostedAt
		}
		bursts, baseline := e.burst.Detect(key, times, w, prior)
		if err := e.snapshots.PutBurstBaseline(ctx, key, baseline); err != nil {
			return nil, fmt.Errorf("store burst baseline %s: %w", key, err)
		}

		edges := e.graph.BuildEdges(members)
		if err := e.snapshots.PutEdges(ctx, cluster.ID, edges); err != nil {
			return nil, fmt.Errorf("store edge snapshot %d: %w", cluster.ID, err)
		}

		signals = append(signals, ClusterSignals{
			Cluster:      cluster,
			Posts:        members,
			Bursts:       bursts,
			Coordination: e.graph.Clusters(edges),
			BotScores:    botScores,
		})
	}
	return signals, nil
}

// aggregateAll fuses per-cluster signals into campaigns, bounded by
// MaxConcurrentWindows. Frozen campaigns are skipped, not errors.
func (e *Engine) aggregateAll(ctx context.Context, signals []ClusterSignals, w Window) ([]*Campaign, []*Alert, error) {
	var (
		mu        sync.Mutex
		campaigns []*Campaign
		alerts    []*Alert
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrentWindows)
	for _, sig := range signals {
		sig := sig
		g.Go(func() error {
			campaign, alert, err := e.aggregator.Aggregate(gctx, sig, w)
			if err != nil {
				if errors.Is(err, ErrStaleEvidence) {
					return nil
				}
				return fmt.Errorf("aggregate cluster %d: %w", sig.Cluster.ID, err)
			}
			if campaign == nil {
				return nil
			}
			mu.Lock()
			campaigns = append(campaigns, campaign)
			if alert != nil {
				alerts = append(alerts, alert)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	sort.Slice(campaigns, func(i, j int) bool { return campaigns[i].ID < campaigns[j].ID })
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].CampaignID < alerts[j].CampaignID })
	return campaigns, alerts, nil
}

// notify delivers alerts to all enabled notifiers. Delivery failures are
// logged, never propagated: the campaign record is already persisted.
func (e *Engine) notify(ctx context.Context, alerts []*Alert) {
	if len(alerts) == 0 {
		return
	}

	e.mu.RLock()
	notifiers := make([]Notifier, 0, len(e.notifiers))
	for _, n := range e.notifiers {
		if n.Enabled() {
			notifiers = append(notifiers, n)
		}
	}
	e.mu.RUnlock()

	for _, alert := range alerts {
		for _, notifier := range notifiers {
			if err := notifier.Send(ctx, alert); err != nil {
				logging.Error().
					Err(err).
					Str("notifier", notifier.Name()).
					Str("campaign_id", alert.CampaignID).
					Msg("failed to deliver alert")
			}
		}
	}
}

// RunWithContext runs scheduled detection passes until the context is
// canceled. Each pass covers the trailing configured window ending now.
// This method is designed to work with suture supervision.
func (e *Engine) RunWithContext(ctx context.Context) error {
	logging.Info().
		Dur("pass_interval", e.cfg.PassInterval).
		Dur("window", e.cfg.Window).
		Msg("detection engine started")

	ticker := time.NewTicker(e.cfg.PassInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("detection engine shutting down")
			return ctx.Err()
		case now := <-ticker.C:
			w := Window{Start: now.Add(-e.cfg.Window), End: now}
			if _, err := e.Detect(ctx, w); err != nil {
				logging.Error().Err(err).Msg("detection pass failed")
			}
		}
	}
}

func burstKey(clusterID int) string {
	return fmt.Sprintf("cluster:%d", clusterID)
}

func authorIDs(posts []models.EnrichedPost) []string {
	seen := make(map[string]struct{}, len(posts))
	ids := make([]string, 0, len(posts))
	for i := range posts {
		if _, ok := seen[posts[i].AuthorID]; ok {
			continue
		}
		seen[posts[i].AuthorID] = struct{}{}
		ids = append(ids, posts[i].AuthorID)
	}
	sort.Strings(ids)
	return ids
}
