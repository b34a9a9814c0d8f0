// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package detection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/narratrace/narratrace/internal/config"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := OpenBadger(config.StorageConfig{InMemory: true})
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerStore(db)
}

func TestBadgerStoreCampaignRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	w := testWindow()

	campaign := &Campaign{
		ID:                 CampaignID(7, w.Start),
		NarrativeClusterID: 7,
		WindowStart:        w.Start,
		WindowEnd:          w.End,
		Score:              82.5,
		Severity:           SeverityHigh,
		Status:             StatusDetected,
		Evidence: Evidence{
			PostIDs:        []string{"p1", "p2"},
			AuthorIDs:      []string{"a", "b"},
			BotLikelihoods: map[string]float64{"a": 0.9},
		},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := store.PutCampaign(ctx, campaign); err != nil {
		t.Fatalf("PutCampaign() error = %v", err)
	}

	got, err := store.GetCampaign(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("GetCampaign() error = %v", err)
	}
	if got.Score != campaign.Score || got.Severity != campaign.Severity || got.Status != campaign.Status {
		t.Errorf("GetCampaign() = %+v, want %+v", got, campaign)
	}
	if len(got.Evidence.PostIDs) != 2 || got.Evidence.BotLikelihoods["a"] != 0.9 {
		t.Errorf("Evidence did not survive round trip: %+v", got.Evidence)
	}
}

func TestBadgerStoreCampaignNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetCampaign(context.Background(), "missing")
	if !errors.Is(err, ErrCampaignNotFound) {
		t.Errorf("GetCampaign(missing) error = %v, want ErrCampaignNotFound", err)
	}
}

func TestBadgerStoreListCampaignsByWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	put := func(cluster int, start time.Time) {
		t.Helper()
		err := store.PutCampaign(ctx, &Campaign{
			ID:                 CampaignID(cluster, start),
			NarrativeClusterID: cluster,
			WindowStart:        start,
			WindowEnd:          start.Add(2 * time.Hour),
			Score:              40,
			Severity:           SeverityLow,
			Status:             StatusDetected,
		})
		if err != nil {
			t.Fatalf("PutCampaign() error = %v", err)
		}
	}
	put(1, base)
	put(2, base.Add(time.Hour))
	put(3, base.Add(48*time.Hour)) // outside query window

	got, err := store.ListCampaigns(ctx, Window{Start: base, End: base.Add(3 * time.Hour)})
	if err != nil {
		t.Fatalf("ListCampaigns() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ListCampaigns() = %d campaigns, want 2 overlapping", len(got))
	}
}

func TestBadgerStoreBurstBaseline(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, found, err := store.GetBurstBaseline(ctx, "cluster-7")
	if err != nil {
		t.Fatalf("GetBurstBaseline() error = %v", err)
	}
	if found {
		t.Error("GetBurstBaseline() found = true for missing key")
	}

	if err := store.PutBurstBaseline(ctx, "cluster-7", 4.25); err != nil {
		t.Fatalf("PutBurstBaseline() error = %v", err)
	}
	rate, found, err := store.GetBurstBaseline(ctx, "cluster-7")
	if err != nil {
		t.Fatalf("GetBurstBaseline() error = %v", err)
	}
	if !found || rate != 4.25 {
		t.Errorf("GetBurstBaseline() = (%v, %v), want (4.25, true)", rate, found)
	}
}

func TestBadgerStoreEdgeSnapshots(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	got, err := store.GetEdges(ctx, 7)
	if err != nil {
		t.Fatalf("GetEdges() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetEdges() = %v for missing snapshot, want nil", got)
	}

	edges := []CoordinationEdge{
		{AuthorA: "a", AuthorB: "b", Weight: 0.8},
		{AuthorA: "a", AuthorB: "c", Weight: 0.6},
	}
	if err := store.PutEdges(ctx, 7, edges); err != nil {
		t.Fatalf("PutEdges() error = %v", err)
	}

	got, err = store.GetEdges(ctx, 7)
	if err != nil {
		t.Fatalf("GetEdges() error = %v", err)
	}
	if len(got) != 2 || got[0].AuthorB != "b" || got[1].Weight != 0.6 {
		t.Errorf("GetEdges() = %+v, want stored snapshot back", got)
	}
}
