// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package detection

import (
	"math"
	"sort"
	"time"

	"github.com/narratrace/narratrace/internal/config"
	"github.com/narratrace/narratrace/internal/logging"
	"github.com/narratrace/narratrace/internal/metrics"
	"github.com/narratrace/narratrace/internal/models"
)

// GraphBuilder infers coordination between authors who posted about the same
// narrative within a bounded time window. Candidate pairs are restricted to
// posts inside PairWindow of each other, never a full Cartesian product, and
// weak edges are discarded before clustering to keep the graph sparse.
type GraphBuilder struct {
	cfg config.GraphConfig
}

// NewGraphBuilder creates a graph builder from configuration.
func NewGraphBuilder(cfg config.GraphConfig) *GraphBuilder {
	return &GraphBuilder{cfg: cfg}
}

// BuildEdges computes weighted author-to-author edges from the posts of one
// narrative cluster. The returned edges all satisfy weight >= MinEdgeWeight
// and are normalized so AuthorA < AuthorB.
func (gb *GraphBuilder) BuildEdges(posts []models.EnrichedPost) []CoordinationEdge {
	posts = gb.capAuthors(posts)

	ordered := make([]models.EnrichedPost, len(posts))
	copy(ordered, posts)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].PostedAt.Equal(ordered[j].PostedAt) {
			return ordered[i].PostedAt.Before(ordered[j].PostedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	type pairKey struct{ a, b string }
	best := make(map[pairKey]CoordinationEdge)

	// Sliding window over time-ordered posts bounds candidate pairs.
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			dt := ordered[j].PostedAt.Sub(ordered[i].PostedAt)
			if dt > gb.cfg.PairWindow {
				break
			}
			pi, pj := &ordered[i], &ordered[j]
			if pi.AuthorID == pj.AuthorID {
				continue
			}

			weight, evidence := gb.pairWeight(pi, pj, dt)
			if weight < gb.cfg.MinEdgeWeight {
				continue
			}

			a, b := pi.AuthorID, pj.AuthorID
			if b < a {
				a, b = b, a
			}
			key := pairKey{a, b}
			if prev, ok := best[key]; !ok || weight > prev.Weight {
				best[key] = CoordinationEdge{AuthorA: a, AuthorB: b, Weight: weight, Evidence: evidence}
			}
		}
	}

	edges := make([]CoordinationEdge, 0, len(best))
	for _, e := range best {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].AuthorA != edges[j].AuthorA {
			return edges[i].AuthorA < edges[j].AuthorA
		}
		return edges[i].AuthorB < edges[j].AuthorB
	})

	metrics.CoordinationEdges.Observe(float64(len(edges)))
	return edges
}

// pairWeight computes the composite edge weight for one post pair: temporal
// proximity decaying exponentially with the gap, cosine similarity of the
// embeddings, and Jaccard overlap of shared hashtags/URLs.
func (gb *GraphBuilder) pairWeight(a, b *models.EnrichedPost, dt time.Duration) (float64, []EdgeEvidence) {
	temporal := math.Exp(-dt.Seconds() / gb.cfg.TemporalDecay.Seconds())
	textual := clamp01(cosineSimilarity(a.Embedding, b.Embedding))
	artifact := jaccard(a.Artifacts(), b.Artifacts())

	weight := gb.cfg.WeightTemporal*temporal +
		gb.cfg.WeightText*textual +
		gb.cfg.WeightArtifact*artifact

	evidence := []EdgeEvidence{
		{PostA: a.ID, PostB: b.ID, Similarity: "temporal", Score: temporal},
		{PostA: a.ID, PostB: b.ID, Similarity: "textual", Score: textual},
		{PostA: a.ID, PostB: b.ID, Similarity: "artifact", Score: artifact},
	}
	return weight, evidence
}

// Clusters extracts connected components from the retained edges. Every
// returned cluster has at least two distinct authors; coordination requires
// multiple participants by definition.
func (gb *GraphBuilder) Clusters(edges []CoordinationEdge) []CoordinationCluster {
	if len(edges) == 0 {
		return nil
	}

	parent := make(map[string]string)
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b string) {
		if _, ok := parent[a]; !ok {
			parent[a] = a
		}
		if _, ok := parent[b]; !ok {
			parent[b] = b
		}
		ra, rb := find(a), find(b)
		if ra != rb {
			// Root on the smaller id keeps component roots deterministic.
			if rb < ra {
				ra, rb = rb, ra
			}
			parent[rb] = ra
		}
	}

	for _, e := range edges {
		union(e.AuthorA, e.AuthorB)
	}

	members := make(map[string][]string)
	for author := range parent {
		root := find(author)
		members[root] = append(members[root], author)
	}
	edgeStats := make(map[string]struct {
		count  int
		weight float64
	})
	for _, e := range edges {
		root := find(e.AuthorA)
		s := edgeStats[root]
		s.count++
		s.weight += e.Weight
		edgeStats[root] = s
	}

	roots := make([]string, 0, len(members))
	for root := range members {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	var clusters []CoordinationCluster
	for _, root := range roots {
		authors := members[root]
		if len(authors) < 2 {
			continue
		}
		sort.Strings(authors)
		s := edgeStats[root]
		v := float64(len(authors))
		clusters = append(clusters, CoordinationCluster{
			AuthorIDs:     authors,
			EdgeCount:     s.count,
			Density:       2 * float64(s.count) / (v * (v - 1)),
			AvgConfidence: s.weight / float64(s.count),
		})
	}

	if len(clusters) > 0 {
		logging.Debug().Int("clusters", len(clusters)).Int("edges", len(edges)).Msg("coordination clusters extracted")
	}
	return clusters
}

// capAuthors bounds pairwise work per narrative cluster. When the cap is
// exceeded, the most active authors are kept; ties break on author id.
func (gb *GraphBuilder) capAuthors(posts []models.EnrichedPost) []models.EnrichedPost {
	counts := make(map[string]int)
	for i := range posts {
		counts[posts[i].AuthorID]++
	}
	if len(counts) <= gb.cfg.MaxAuthorsPerCluster {
		return posts
	}

	authors := make([]string, 0, len(counts))
	for a := range counts {
		authors = append(authors, a)
	}
	sort.Slice(authors, func(i, j int) bool {
		if counts[authors[i]] != counts[authors[j]] {
			return counts[authors[i]] > counts[authors[j]]
		}
		return authors[i] < authors[j]
	})

	keep := make(map[string]bool, gb.cfg.MaxAuthorsPerCluster)
	for _, a := range authors[:gb.cfg.MaxAuthorsPerCluster] {
		keep[a] = true
	}
	logging.Warn().
		Int("authors", len(counts)).
		Int("cap", gb.cfg.MaxAuthorsPerCluster).
		Msg("author cap exceeded, keeping most active authors")

	kept := make([]models.EnrichedPost, 0, len(posts))
	for i := range posts {
		if keep[posts[i].AuthorID] {
			kept = append(kept, posts[i])
		}
	}
	return kept
}

// jaccard computes set overlap of two string sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
