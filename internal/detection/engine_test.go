// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/narratrace/narratrace/internal/config"
	"github.com/narratrace/narratrace/internal/metrics"
	"github.com/narratrace/narratrace/internal/models"
)

// stubFeed is an in-memory PostFeed. The first failPosts calls to
// PostsInWindow fail with ErrUpstreamUnavailable to exercise retries.
type stubFeed struct {
	mu        sync.Mutex
	posts     []models.EnrichedPost
	authors   map[string]models.AuthorProfile
	failPosts int
	postCalls int
}

func (f *stubFeed) PostsInWindow(_ context.Context, w Window) ([]models.EnrichedPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postCalls++
	if f.failPosts > 0 {
		f.failPosts--
		return nil, ErrUpstreamUnavailable
	}
	var out []models.EnrichedPost
	for _, p := range f.posts {
		if w.Contains(p.PostedAt) || p.PostedAt.IsZero() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *stubFeed) Authors(_ context.Context, ids []string) (map[string]models.AuthorProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]models.AuthorProfile, len(ids))
	for _, id := range ids {
		if a, ok := f.authors[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

// memSnapshotStore is an in-memory SnapshotStore.
type memSnapshotStore struct {
	mu        sync.Mutex
	baselines map[string]float64
	edges     map[int][]CoordinationEdge
}

func newMemSnapshotStore() *memSnapshotStore {
	return &memSnapshotStore{
		baselines: make(map[string]float64),
		edges:     make(map[int][]CoordinationEdge),
	}
}

func (s *memSnapshotStore) GetBurstBaseline(_ context.Context, key string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rate, ok := s.baselines[key]
	return rate, ok, nil
}

func (s *memSnapshotStore) PutBurstBaseline(_ context.Context, key string, rate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselines[key] = rate
	return nil
}

func (s *memSnapshotStore) PutEdges(_ context.Context, clusterID int, edges []CoordinationEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges[clusterID] = edges
	return nil
}

func (s *memSnapshotStore) GetEdges(_ context.Context, clusterID int) ([]CoordinationEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edges[clusterID], nil
}

// captureNotifier records every alert it is asked to deliver.
type captureNotifier struct {
	mu     sync.Mutex
	alerts []*Alert
	err    error
}

func (n *captureNotifier) Send(_ context.Context, alert *Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.alerts = append(n.alerts, alert)
	return nil
}

func (n *captureNotifier) Name() string  { return "capture" }
func (n *captureNotifier) Enabled() bool { return true }

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

func newTestEngine(feed PostFeed, campaigns CampaignStore, snapshots SnapshotStore) *Engine {
	engineCfg := config.EngineConfig{
		PassInterval:         time.Minute,
		Window:               24 * time.Hour,
		MaxConcurrentWindows: 4,
		RetryAttempts:        3,
		RetryInitialDelay:    time.Millisecond,
	}
	burstCfg := config.BurstConfig{
		BinInterval: time.Hour,
		SFactor:     2.0,
		Gamma:       1.0,
		NumStates:   3,
		MinSamples:  10,
		ZWindow:     24,
		ZThreshold:  2.5,
	}
	clusterCfg := config.ClusterConfig{
		AcceptThreshold: 0.75,
		TieEpsilon:      1e-9,
		ReassignDrift:   0.15,
		BufferFlushSize: 50,
		MinClusterSize:  5,
		NeighborRadius:  0.3,
		KeywordLimit:    10,
	}
	botCfg := config.BotConfig{
		WeightAccountAge:      0.25,
		WeightPostingFreq:     0.25,
		WeightFollowRatio:     0.20,
		WeightCompleteness:    0.15,
		WeightUsername:        0.15,
		BaselineFrequencyMean: 5.0,
		BaselineFrequencyStd:  10.0,
		MatureAccountDays:     730,
		VerifiedDamping:       0.5,
	}
	graphCfg := config.GraphConfig{
		PairWindow:           time.Hour,
		TemporalDecay:        30 * time.Minute,
		WeightTemporal:       0.4,
		WeightText:           0.4,
		WeightArtifact:       0.2,
		MinEdgeWeight:        0.5,
		MaxAuthorsPerCluster: 500,
	}

	return NewEngine(
		engineCfg,
		feed,
		snapshots,
		NewBurstDetector(burstCfg),
		NewNarrativeClusterer(clusterCfg),
		NewBotScorer(botCfg),
		NewGraphBuilder(graphCfg),
		NewAggregator(testScoreConfig(), campaigns),
	)
}

func engineWindow() Window {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return Window{Start: start, End: start.Add(24 * time.Hour)}
}

// waveAuthors builds 25 automated-looking and 15 organic-looking profiles.
func waveAuthors() map[string]models.AuthorProfile {
	authors := make(map[string]models.AuthorProfile, 40)
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("bot%02d", i)
		authors[id] = models.AuthorProfile{
			ID:                     id,
			Platform:               "birdsite",
			AccountAgeDays:         5,
			FollowersCount:         10,
			FollowingCount:         3000,
			PostingFrequency:       100,
			ProfileCompleteness:    0,
			UsernamePatternScore:   0.9,
			HasAccountAge:          true,
			HasPostingFrequency:    true,
			HasProfileCompleteness: true,
			HasUsernamePattern:     true,
		}
	}
	for i := 0; i < 15; i++ {
		id := fmt.Sprintf("org%02d", i)
		authors[id] = models.AuthorProfile{
			ID:                     id,
			Platform:               "birdsite",
			AccountAgeDays:         2000,
			FollowersCount:         1000,
			FollowingCount:         300,
			PostingFrequency:       4,
			ProfileCompleteness:    0.95,
			UsernamePatternScore:   0.1,
			HasAccountAge:          true,
			HasPostingFrequency:    true,
			HasProfileCompleteness: true,
			HasUsernamePattern:     true,
		}
	}
	return authors
}

// wavePosts builds a 500-post hashtag wave: 40 authors posting round-robin
// every 14.4 seconds across a two-hour span, near-identical embeddings,
// hostile tone, all pushing the same hashtag.
func wavePosts(w Window) []models.EnrichedPost {
	ids := make([]string, 0, 40)
	for i := 0; i < 25; i++ {
		ids = append(ids, fmt.Sprintf("bot%02d", i))
	}
	for i := 0; i < 15; i++ {
		ids = append(ids, fmt.Sprintf("org%02d", i))
	}

	spikeStart := w.Start.Add(10 * time.Hour)
	posts := make([]models.EnrichedPost, 0, 500)
	for i := 0; i < 500; i++ {
		posts = append(posts, models.EnrichedPost{
			ID:            fmt.Sprintf("post%03d", i),
			AuthorID:      ids[i%len(ids)],
			Text:          "they can't hide the collapse anymore #IndiaFailing",
			PostedAt:      spikeStart.Add(time.Duration(i) * 14400 * time.Millisecond),
			Language:      "en",
			ToxicityScore: 0.8,
			StanceScore:   -0.9,
			Embedding:     []float64{1 + float64(i%7)*0.01, 0, 0},
			Hashtags:      []string{"IndiaFailing"},
		})
	}
	return posts
}

func TestEngineDetectCoordinatedWave(t *testing.T) {
	w := engineWindow()
	feed := &stubFeed{posts: wavePosts(w), authors: waveAuthors()}
	store := newMemCampaignStore()
	snaps := newMemSnapshotStore()
	notifier := &captureNotifier{}

	engine := newTestEngine(feed, store, snaps)
	engine.RegisterNotifier(notifier)

	campaigns, err := engine.Detect(context.Background(), w)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(campaigns) != 1 {
		t.Fatalf("Detect() returned %d campaigns, want 1", len(campaigns))
	}

	c := campaigns[0]
	if c.Severity != SeverityHigh && c.Severity != SeverityCritical {
		t.Errorf("severity = %s, want high or critical (score %.2f)", c.Severity, c.Score)
	}
	if c.Score <= HighBoundary {
		t.Errorf("score = %.2f, want > %.0f", c.Score, HighBoundary)
	}
	if !c.HumanReviewNeeded {
		t.Error("high-scoring campaign should be flagged for human review")
	}
	if c.Status != StatusDetected {
		t.Errorf("status = %s, want %s", c.Status, StatusDetected)
	}

	// The two-hour spike against a flat day must register as a burst
	// spanning the spike.
	if len(c.Evidence.BurstEvents) == 0 {
		t.Fatal("no burst events in evidence")
	}
	burst := c.Evidence.BurstEvents[0]
	if burst.Method != MethodStateModel {
		t.Errorf("burst method = %s, want %s", burst.Method, MethodStateModel)
	}
	spikeStart := w.Start.Add(10 * time.Hour)
	spikeEnd := w.Start.Add(12 * time.Hour)
	if burst.Start.After(spikeStart) || burst.End.Before(spikeEnd) {
		t.Errorf("burst [%v, %v) does not cover spike [%v, %v)", burst.Start, burst.End, spikeStart, spikeEnd)
	}
	if burst.Intensity < 6 {
		t.Errorf("burst intensity = %.2f, want >= 6", burst.Intensity)
	}

	// All forty authors fire within the pair window with near-identical
	// text and a shared hashtag, so they form one coordination cluster.
	if len(c.Evidence.CoordinationClusters) != 1 {
		t.Fatalf("coordination clusters = %d, want 1", len(c.Evidence.CoordinationClusters))
	}
	coord := c.Evidence.CoordinationClusters[0]
	if len(coord.AuthorIDs) != 40 {
		t.Errorf("coordination cluster has %d authors, want 40", len(coord.AuthorIDs))
	}

	botsFlagged := 0
	for id, likelihood := range c.Evidence.BotLikelihoods {
		if len(id) >= 3 && id[:3] == "bot" && likelihood >= 0.7 {
			botsFlagged++
		}
	}
	if botsFlagged < 20 {
		t.Errorf("flagged %d bot-like authors, want >= 20 of 25", botsFlagged)
	}

	if notifier.count() != 1 {
		t.Fatalf("delivered %d alerts, want 1", notifier.count())
	}
	alert := notifier.alerts[0]
	if alert.CampaignID != c.ID {
		t.Errorf("alert campaign id = %s, want %s", alert.CampaignID, c.ID)
	}
	if alert.Escalated {
		t.Error("first alert for a new campaign should not be marked escalated")
	}

	// The pass persists the burst baseline for the next window.
	if _, ok, _ := snaps.GetBurstBaseline(context.Background(), burstKey(c.NarrativeClusterID)); !ok {
		t.Error("burst baseline was not persisted")
	}
	if edges, _ := snaps.GetEdges(context.Background(), c.NarrativeClusterID); len(edges) == 0 {
		t.Error("edge snapshot was not persisted")
	}
}

func TestEngineDetectIdempotent(t *testing.T) {
	w := engineWindow()
	feed := &stubFeed{posts: wavePosts(w), authors: waveAuthors()}
	store := newMemCampaignStore()
	notifier := &captureNotifier{}

	engine := newTestEngine(feed, store, newMemSnapshotStore())
	engine.RegisterNotifier(notifier)

	first, err := engine.Detect(context.Background(), w)
	if err != nil {
		t.Fatalf("first Detect() error = %v", err)
	}
	second, err := engine.Detect(context.Background(), w)
	if err != nil {
		t.Fatalf("second Detect() error = %v", err)
	}

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("campaigns = %d then %d, want 1 and 1", len(first), len(second))
	}
	if first[0].ID != second[0].ID {
		t.Errorf("campaign id changed between passes: %s then %s", first[0].ID, second[0].ID)
	}
	if first[0].Score != second[0].Score {
		t.Errorf("score changed between passes: %.4f then %.4f", first[0].Score, second[0].Score)
	}
	if !second[0].CreatedAt.Equal(first[0].CreatedAt) {
		t.Error("re-detection must preserve the original creation time")
	}
	if len(store.campaigns) != 1 {
		t.Errorf("store holds %d campaigns, want 1", len(store.campaigns))
	}

	// Same severity bucket on the refresh, so no second alert.
	if notifier.count() != 1 {
		t.Errorf("delivered %d alerts across two passes, want 1", notifier.count())
	}
}

func TestEngineDetectOrganicTrickle(t *testing.T) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	w := Window{Start: start, End: start.Add(30 * 24 * time.Hour)}

	var posts []models.EnrichedPost
	for i := 0; i < 10; i++ {
		posts = append(posts, models.EnrichedPost{
			ID:            fmt.Sprintf("post%d", i),
			AuthorID:      fmt.Sprintf("org%02d", i),
			Text:          "monsoon season photos",
			PostedAt:      start.Add(time.Duration(i) * 3 * 24 * time.Hour),
			ToxicityScore: 0.1,
			StanceScore:   0.2,
			Embedding:     []float64{1, 0, 0},
		})
	}
	authors := make(map[string]models.AuthorProfile, 10)
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("org%02d", i)
		a := waveAuthors()["org00"]
		a.ID = id
		authors[id] = a
	}

	feed := &stubFeed{posts: posts, authors: authors}
	store := newMemCampaignStore()
	notifier := &captureNotifier{}

	engine := newTestEngine(feed, store, newMemSnapshotStore())
	engine.RegisterNotifier(notifier)

	campaigns, err := engine.Detect(context.Background(), w)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(campaigns) != 0 {
		t.Errorf("Detect() returned %d campaigns for organic traffic, want 0", len(campaigns))
	}
	if len(store.campaigns) != 0 {
		t.Errorf("store holds %d campaigns, want 0", len(store.campaigns))
	}
	if notifier.count() != 0 {
		t.Errorf("delivered %d alerts, want 0", notifier.count())
	}
}

func TestEngineDetectSkipsMalformedPosts(t *testing.T) {
	w := engineWindow()
	posts := wavePosts(w)
	posts = append(posts,
		models.EnrichedPost{AuthorID: "bot00", PostedAt: w.Start.Add(time.Hour), Embedding: []float64{1, 0, 0}},
		models.EnrichedPost{ID: "orphan", PostedAt: w.Start.Add(time.Hour), Embedding: []float64{1, 0, 0}},
		models.EnrichedPost{ID: "untimed", AuthorID: "bot01", Embedding: []float64{1, 0, 0}},
	)

	feed := &stubFeed{posts: posts, authors: waveAuthors()}
	store := newMemCampaignStore()

	engine := newTestEngine(feed, store, newMemSnapshotStore())
	campaigns, err := engine.Detect(context.Background(), w)
	if err != nil {
		t.Fatalf("Detect() with malformed records error = %v", err)
	}
	if len(campaigns) != 1 {
		t.Fatalf("Detect() returned %d campaigns, want 1", len(campaigns))
	}
	for _, id := range campaigns[0].Evidence.PostIDs {
		if id == "orphan" || id == "untimed" {
			t.Errorf("malformed post %s leaked into evidence", id)
		}
	}
}

func TestEngineDetectCountsPostsOnce(t *testing.T) {
	w := engineWindow()
	feed := &stubFeed{posts: wavePosts(w), authors: waveAuthors()}

	engine := newTestEngine(feed, newMemCampaignStore(), newMemSnapshotStore())

	before := testutil.ToFloat64(metrics.PostsProcessed)
	if _, err := engine.Detect(context.Background(), w); err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	after := testutil.ToFloat64(metrics.PostsProcessed)

	// One pass over 500 posts counts each post exactly once.
	if got := after - before; got != 500 {
		t.Errorf("PostsProcessed grew by %v over one pass of 500 posts, want 500", got)
	}
}

func TestEngineDetectRetriesUpstream(t *testing.T) {
	w := engineWindow()
	feed := &stubFeed{posts: wavePosts(w), authors: waveAuthors(), failPosts: 2}
	store := newMemCampaignStore()

	engine := newTestEngine(feed, store, newMemSnapshotStore())
	campaigns, err := engine.Detect(context.Background(), w)
	if err != nil {
		t.Fatalf("Detect() should have recovered after retries, error = %v", err)
	}
	if len(campaigns) != 1 {
		t.Errorf("Detect() returned %d campaigns, want 1", len(campaigns))
	}
	if feed.postCalls != 3 {
		t.Errorf("feed called %d times, want 3", feed.postCalls)
	}
}

func TestEngineDetectAbandonsPassWhenUpstreamDown(t *testing.T) {
	w := engineWindow()
	feed := &stubFeed{posts: wavePosts(w), authors: waveAuthors(), failPosts: 100}
	store := newMemCampaignStore()

	engine := newTestEngine(feed, store, newMemSnapshotStore())
	_, err := engine.Detect(context.Background(), w)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("Detect() error = %v, want ErrUpstreamUnavailable", err)
	}
	if len(store.campaigns) != 0 {
		t.Errorf("abandoned pass wrote %d campaigns, want 0", len(store.campaigns))
	}
}

func TestEngineDisabled(t *testing.T) {
	w := engineWindow()
	feed := &stubFeed{posts: wavePosts(w), authors: waveAuthors()}
	engine := newTestEngine(feed, newMemCampaignStore(), newMemSnapshotStore())
	engine.SetEnabled(false)

	campaigns, err := engine.Detect(context.Background(), w)
	if err != nil {
		t.Fatalf("Detect() on disabled engine error = %v", err)
	}
	if campaigns != nil {
		t.Errorf("disabled engine returned %d campaigns, want none", len(campaigns))
	}
	if feed.postCalls != 0 {
		t.Errorf("disabled engine called the feed %d times, want 0", feed.postCalls)
	}
}
