// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package detection

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/narratrace/narratrace/internal/config"
	"github.com/narratrace/narratrace/internal/logging"
	"github.com/narratrace/narratrace/internal/metrics"
	"github.com/narratrace/narratrace/internal/models"
)

// NarrativeClusterer groups posts into thematic clusters by embedding
// proximity. Cluster ids are stable; new posts are assigned to the nearest
// existing centroid when similarity clears the acceptance threshold, and
// buffered otherwise until a density reclustering pass is worth its cost.
type NarrativeClusterer struct {
	cfg config.ClusterConfig

	mu         sync.Mutex
	nextID     int
	clusters   map[int]*clusterState
	assigned   map[string]int      // post id -> cluster id
	buffered   map[string]struct{} // post ids currently in the buffer
	buffer     []bufferedPost
	sinceFlush int
}

type clusterState struct {
	id        int
	sum       []float64 // running component sum for the centroid
	count     int
	members   []clusterMember
	keywords  map[string]int
	toxSum    float64
	stanceSum float64
	createdAt time.Time
	updatedAt time.Time
}

// clusterMember keeps the full post so a drifted member can be re-buffered
// intact and its hashtag counts unwound from the cluster keywords.
type clusterMember struct {
	post       models.EnrichedPost
	confidence float64 // cosine similarity at assignment time
}

type bufferedPost struct {
	post models.EnrichedPost
}

// NewNarrativeClusterer creates a clusterer from configuration.
func NewNarrativeClusterer(cfg config.ClusterConfig) *NarrativeClusterer {
	return &NarrativeClusterer{
		cfg:      cfg,
		nextID:   1,
		clusters: make(map[int]*clusterState),
		assigned: make(map[string]int),
		buffered: make(map[string]struct{}),
	}
}

// Assign routes each post to a cluster or the pending buffer. Posts without
// an embedding are skipped; a malformed record never aborts the batch.
func (nc *NarrativeClusterer) Assign(posts []models.EnrichedPost) {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	for i := range posts {
		p := &posts[i]
		if len(p.Embedding) == 0 {
			logging.Warn().Str("post_id", p.ID).Msg("post has no embedding, skipping cluster assignment")
			continue
		}
		if _, ok := nc.assigned[p.ID]; ok {
			continue // already a member
		}
		if _, ok := nc.buffered[p.ID]; ok {
			continue // already waiting for a density pass
		}
		nc.assignOne(p)
	}

	if nc.sinceFlush >= nc.cfg.BufferFlushSize {
		nc.flushBuffer()
	}
	metrics.ClustersActive.Set(float64(len(nc.clusters)))
}

// assignOne matches a post against existing centroids. Equidistant
// candidates (within TieEpsilon) resolve to the lower cluster id so the
// outcome never depends on map iteration order.
func (nc *NarrativeClusterer) assignOne(p *models.EnrichedPost) {
	bestID := -1
	bestSim := -1.0
	for _, id := range nc.sortedClusterIDs() {
		cs := nc.clusters[id]
		sim := cosineSimilarity(p.Embedding, cs.centroid())
		if sim > bestSim+nc.cfg.TieEpsilon {
			bestID = id
			bestSim = sim
		}
	}

	if bestID >= 0 && bestSim >= nc.cfg.AcceptThreshold {
		nc.addMember(nc.clusters[bestID], p, bestSim)
		metrics.ClusterAssignments.WithLabelValues("matched").Inc()
		return
	}

	nc.rebuffer(*p)
	nc.sinceFlush++
	metrics.ClusterAssignments.WithLabelValues("buffered").Inc()
}

// rebuffer places a post in the pending buffer exactly once.
func (nc *NarrativeClusterer) rebuffer(p models.EnrichedPost) {
	if _, ok := nc.buffered[p.ID]; ok {
		return
	}
	nc.buffered[p.ID] = struct{}{}
	nc.buffer = append(nc.buffer, bufferedPost{post: p})
}

// flushBuffer runs a density pass over buffered posts: any group of at least
// MinClusterSize posts within NeighborRadius of a seed becomes a new
// cluster. Noise stays buffered for a later pass.
func (nc *NarrativeClusterer) flushBuffer() {
	nc.sinceFlush = 0
	n := len(nc.buffer)
	if n == 0 {
		return
	}

	used := make([]bool, n)
	var remaining []bufferedPost

	for seed := 0; seed < n; seed++ {
		if used[seed] {
			continue
		}
		group := []int{seed}
		for j := seed + 1; j < n; j++ {
			if used[j] {
				continue
			}
			dist := 1 - cosineSimilarity(nc.buffer[seed].post.Embedding, nc.buffer[j].post.Embedding)
			if dist <= nc.cfg.NeighborRadius {
				group = append(group, j)
			}
		}
		if len(group) < nc.cfg.MinClusterSize {
			continue
		}

		cs := nc.newCluster()
		for _, idx := range group {
			used[idx] = true
			p := nc.buffer[idx].post
			delete(nc.buffered, p.ID)
			sim := cosineSimilarity(p.Embedding, nc.buffer[seed].post.Embedding)
			nc.addMember(cs, &p, sim)
			metrics.ClusterAssignments.WithLabelValues("density_new").Inc()
		}
		logging.Info().
			Int("cluster_id", cs.id).
			Int("members", len(group)).
			Msg("density pass created narrative cluster")
	}

	for i := 0; i < n; i++ {
		if !used[i] {
			remaining = append(remaining, nc.buffer[i])
		}
	}
	nc.buffer = remaining

	nc.reassignDrifted()
}

// reassignDrifted removes members whose similarity to their centroid has
// drifted well below the acceptance threshold and re-buffers them. Stable
// members are never churned for small drifts.
func (nc *NarrativeClusterer) reassignDrifted() {
	floor := nc.cfg.AcceptThreshold - nc.cfg.ReassignDrift
	for _, id := range nc.sortedClusterIDs() {
		cs := nc.clusters[id]
		centroid := cs.centroid()
		kept := cs.members[:0]
		for _, m := range cs.members {
			if cosineSimilarity(m.post.Embedding, centroid) < floor {
				delete(nc.assigned, m.post.ID)
				nc.rebuffer(m.post)
				cs.removeMember(m)
				metrics.ClusterAssignments.WithLabelValues("reassigned").Inc()
				continue
			}
			kept = append(kept, m)
		}
		cs.members = kept
	}
}

func (nc *NarrativeClusterer) newCluster() *clusterState {
	cs := &clusterState{
		id:        nc.nextID,
		keywords:  make(map[string]int),
		createdAt: time.Now().UTC(),
		updatedAt: time.Now().UTC(),
	}
	nc.nextID++
	nc.clusters[cs.id] = cs
	return cs
}

func (nc *NarrativeClusterer) addMember(cs *clusterState, p *models.EnrichedPost, confidence float64) {
	if cs.sum == nil {
		cs.sum = make([]float64, len(p.Embedding))
	}
	for i, v := range p.Embedding {
		if i < len(cs.sum) {
			cs.sum[i] += v
		}
	}
	cs.count++
	cs.members = append(cs.members, clusterMember{post: *p, confidence: confidence})
	cs.toxSum += p.ToxicityScore
	cs.stanceSum += p.StanceScore
	for _, h := range p.Hashtags {
		cs.keywords[strings.ToLower(h)]++
	}
	cs.updatedAt = time.Now().UTC()
	nc.assigned[p.ID] = cs.id
}

func (cs *clusterState) centroid() []float64 {
	if cs.count == 0 {
		return nil
	}
	c := make([]float64, len(cs.sum))
	for i, v := range cs.sum {
		c[i] = v / float64(cs.count)
	}
	return c
}

func (cs *clusterState) removeMember(m clusterMember) {
	for i, v := range m.post.Embedding {
		if i < len(cs.sum) {
			cs.sum[i] -= v
		}
	}
	if cs.count > 0 {
		cs.count--
	}
	cs.toxSum -= m.post.ToxicityScore
	cs.stanceSum -= m.post.StanceScore
	for _, h := range m.post.Hashtags {
		key := strings.ToLower(h)
		if cs.keywords[key]--; cs.keywords[key] <= 0 {
			delete(cs.keywords, key)
		}
	}
}

// sortedClusterIDs returns cluster ids ascending for deterministic iteration.
func (nc *NarrativeClusterer) sortedClusterIDs() []int {
	ids := make([]int, 0, len(nc.clusters))
	for id := range nc.clusters {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ClusterFor returns the cluster id a post was assigned to.
func (nc *NarrativeClusterer) ClusterFor(postID string) (int, bool) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	id, ok := nc.assigned[postID]
	return id, ok
}

// Clusters returns a snapshot of all live clusters. Member ids are ordered
// by assignment confidence, highest first; keywords by frequency.
func (nc *NarrativeClusterer) Clusters() []NarrativeCluster {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	out := make([]NarrativeCluster, 0, len(nc.clusters))
	for _, id := range nc.sortedClusterIDs() {
		cs := nc.clusters[id]
		if cs.count == 0 {
			continue
		}

		members := make([]clusterMember, len(cs.members))
		copy(members, cs.members)
		sort.SliceStable(members, func(i, j int) bool {
			if members[i].confidence != members[j].confidence {
				return members[i].confidence > members[j].confidence
			}
			return members[i].post.ID < members[j].post.ID
		})
		memberIDs := make([]string, len(members))
		for i, m := range members {
			memberIDs[i] = m.post.ID
		}

		out = append(out, NarrativeCluster{
			ID:          cs.id,
			Centroid:    cs.centroid(),
			MemberIDs:   memberIDs,
			Keywords:    topKeywords(cs.keywords, nc.cfg.KeywordLimit),
			AvgToxicity: cs.toxSum / float64(cs.count),
			AvgStance:   cs.stanceSum / float64(cs.count),
			CreatedAt:   cs.createdAt,
			UpdatedAt:   cs.updatedAt,
		})
	}
	return out
}

// topKeywords returns up to limit keywords by descending count, ties broken
// lexicographically for determinism.
func topKeywords(counts map[string]int, limit int) []string {
	type kc struct {
		k string
		c int
	}
	all := make([]kc, 0, len(counts))
	for k, c := range counts {
		all = append(all, kc{k, c})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].c != all[j].c {
			return all[i].c > all[j].c
		}
		return all[i].k < all[j].k
	})
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]string, len(all))
	for i, e := range all {
		out[i] = e.k
	}
	return out
}

// cosineSimilarity returns the cosine of the angle between two vectors, or 0
// when either has zero norm or lengths differ.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
