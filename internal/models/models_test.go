// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package models

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestEnrichedPostUnknownFieldsPassThrough(t *testing.T) {
	raw := []byte(`{
		"id": "p1",
		"author_id": "a1",
		"text": "hello",
		"language": "en",
		"toxicity_score": 0.4,
		"stance_score": -0.2,
		"hashtags": ["x"],
		"collector_batch": "batch-77",
		"quote_count": 12
	}`)

	var post EnrichedPost
	if err := json.Unmarshal(raw, &post); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if post.ID != "p1" || post.ToxicityScore != 0.4 {
		t.Errorf("typed fields not decoded: %+v", post)
	}
	if _, ok := post.Extra["collector_batch"]; !ok {
		t.Error("expected collector_batch preserved in Extra")
	}
	if _, ok := post.Extra["quote_count"]; !ok {
		t.Error("expected quote_count preserved in Extra")
	}
	if _, ok := post.Extra["id"]; ok {
		t.Error("known field leaked into Extra")
	}

	// Round trip keeps the opaque fields.
	out, err := json.Marshal(post)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var echoed map[string]json.RawMessage
	if err := json.Unmarshal(out, &echoed); err != nil {
		t.Fatalf("unmarshal round trip: %v", err)
	}
	if _, ok := echoed["collector_batch"]; !ok {
		t.Error("collector_batch lost on round trip")
	}
}

func TestArtifacts(t *testing.T) {
	post := EnrichedPost{
		Hashtags: []string{"#a", "#b"},
		URLs:     []string{"https://example.com/x"},
	}

	set := post.Artifacts()
	if len(set) != 3 {
		t.Fatalf("expected 3 artifacts, got %d", len(set))
	}
	if _, ok := set["https://example.com/x"]; !ok {
		t.Error("url missing from artifact set")
	}
}

func TestFollowRatio(t *testing.T) {
	tests := []struct {
		name      string
		followers int64
		following int64
		want      float64
	}{
		{"balanced", 100, 100, 1.0},
		{"follower heavy", 500, 50, 10.0},
		{"zero following", 42, 0, 42.0},
		{"zero both", 0, 0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := AuthorProfile{FollowersCount: tt.followers, FollowingCount: tt.following}
			if got := a.FollowRatio(); got != tt.want {
				t.Errorf("FollowRatio() = %v, want %v", got, tt.want)
			}
		})
	}
}
