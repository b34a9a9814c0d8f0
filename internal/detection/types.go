// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package detection

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/narratrace/narratrace/internal/models"
)

// Severity is the campaign severity bucket mapped from the 0-100 score.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severity bucket boundaries on the 0-100 campaign score scale.
// Scores below ScoreFloor never produce a Campaign.
const (
	ScoreFloor     = 30.0
	MediumBoundary = 50.0
	HighBoundary   = 70.0
	CriticalBound  = 85.0
)

// SeverityForScore maps a campaign score to its severity bucket.
// The score must be at or above ScoreFloor; callers filter lower scores out
// before a Campaign exists.
func SeverityForScore(score float64) Severity {
	switch {
	case score >= CriticalBound:
		return SeverityCritical
	case score >= HighBoundary:
		return SeverityHigh
	case score >= MediumBoundary:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// CampaignStatus is the review lifecycle state of a Campaign. Only the
// engine sets StatusDetected; every other transition belongs to the external
// human-review collaborator.
type CampaignStatus string

const (
	StatusDetected      CampaignStatus = "detected"
	StatusInvestigating CampaignStatus = "investigating"
	StatusConfirmed     CampaignStatus = "confirmed"
	StatusFalsePositive CampaignStatus = "false_positive"
	StatusResolved      CampaignStatus = "resolved"
)

// DetectionMethod identifies which signal produced a piece of evidence.
type DetectionMethod string

const (
	MethodStateModel   DetectionMethod = "state_model"
	MethodZScore       DetectionMethod = "zscore"
	MethodCoordination DetectionMethod = "coordination_graph"
	MethodBotScoring   DetectionMethod = "bot_scoring"
	MethodContent      DetectionMethod = "content_severity"
)

// BurstIntensity labels a burst event's intensity ratio.
type BurstIntensity string

const (
	IntensityLow     BurstIntensity = "low"
	IntensityMedium  BurstIntensity = "medium"
	IntensityHigh    BurstIntensity = "high"
	IntensityExtreme BurstIntensity = "extreme"
)

// IntensityBucket labels an intensity ratio (observed rate over baseline).
func IntensityBucket(ratio float64) BurstIntensity {
	switch {
	case ratio >= 6:
		return IntensityExtreme
	case ratio >= 4:
		return IntensityHigh
	case ratio >= 3:
		return IntensityMedium
	default:
		return IntensityLow
	}
}

// BurstEvent is a detected interval of abnormally high posting volume for a
// key. Value object, recreated each detection pass.
type BurstEvent struct {
	Key        string          `json:"key"`
	Start      time.Time       `json:"start"`
	End        time.Time       `json:"end"`
	Peak       time.Time       `json:"peak"`
	Intensity  float64         `json:"intensity"` // observed rate / baseline rate at peak bin
	Bucket     BurstIntensity  `json:"bucket"`
	Method     DetectionMethod `json:"method"`
	Confidence float64         `json:"confidence"` // [0,1]
}

// NarrativeCluster is a thematically coherent group of posts defined by
// embedding proximity. Member ids are ordered by assignment confidence.
type NarrativeCluster struct {
	ID          int       `json:"id"`
	Centroid    []float64 `json:"centroid"`
	MemberIDs   []string  `json:"member_ids"`
	Keywords    []string  `json:"keywords"`
	AvgToxicity float64   `json:"avg_toxicity"`
	AvgStance   float64   `json:"avg_stance"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CoordinationEdge is a weighted relation between two authors. The pair is
// unordered; builders normalize so AuthorA < AuthorB.
type CoordinationEdge struct {
	AuthorA  string         `json:"author_a"`
	AuthorB  string         `json:"author_b"`
	Weight   float64        `json:"weight"` // [0,1]
	Evidence []EdgeEvidence `json:"evidence,omitempty"`
}

// EdgeEvidence records one post pair contributing to an edge.
type EdgeEvidence struct {
	PostA      string  `json:"post_a"`
	PostB      string  `json:"post_b"`
	Similarity string  `json:"similarity"` // "temporal", "textual", "artifact"
	Score      float64 `json:"score"`
}

// CoordinationCluster is a connected subgraph of authors above the edge
// weight threshold. Transient: recomputed per aggregation pass and persisted
// only inside the Campaign that references it.
type CoordinationCluster struct {
	AuthorIDs     []string `json:"author_ids"`
	EdgeCount     int      `json:"edge_count"`
	Density       float64  `json:"density"`        // 2|E| / (|V|(|V|-1))
	AvgConfidence float64  `json:"avg_confidence"` // mean edge weight
}

// Evidence is the audit trail attached to a Campaign. The campaign score is
// a deterministic pure function of this set.
type Evidence struct {
	PostIDs              []string              `json:"post_ids"`
	AuthorIDs            []string              `json:"author_ids"`
	BurstEvents          []BurstEvent          `json:"burst_events,omitempty"`
	CoordinationClusters []CoordinationCluster `json:"coordination_clusters,omitempty"`
	BotLikelihoods       map[string]float64    `json:"bot_likelihoods,omitempty"`

	// BotComponents carries the per-feature breakdown behind each
	// likelihood, keyed by author id.
	BotComponents map[string]BotComponents `json:"bot_components,omitempty"`
}

// ScoreBreakdown records each normalized component and its weighted
// contribution to the final campaign score.
type ScoreBreakdown struct {
	Burst        float64 `json:"burst"`
	Coordination float64 `json:"coordination"`
	BotPresence  float64 `json:"bot_presence"`
	Content      float64 `json:"content"`
}

// Campaign is the aggregated, scored unit of suspected coordinated activity.
type Campaign struct {
	ID                 string            `json:"id"`
	NarrativeClusterID int               `json:"narrative_cluster_id"`
	WindowStart        time.Time         `json:"window_start"`
	WindowEnd          time.Time         `json:"window_end"`
	Score              float64           `json:"score"` // [30,100]
	Severity           Severity          `json:"severity"`
	Breakdown          ScoreBreakdown    `json:"breakdown"`
	Methods            []DetectionMethod `json:"detection_methods"`
	Evidence           Evidence          `json:"evidence"`
	Status             CampaignStatus    `json:"status"`
	HumanReviewNeeded  bool              `json:"human_review_required"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// CampaignID derives the stable campaign id for a narrative cluster and
// window start. Re-runs over the same window converge on the same id.
func CampaignID(narrativeClusterID int, windowStart time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%d", narrativeClusterID, windowStart.Unix())))
	return hex.EncodeToString(sum[:16])
}

// Alert is derived 1:1 from a newly created or escalated Campaign.
// Immutable once emitted.
type Alert struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	Severity   Severity  `json:"severity"`
	Score      float64   `json:"score"`
	Title      string    `json:"title"`
	Escalated  bool      `json:"escalated"` // severity bucket escalation of an existing campaign
	CreatedAt  time.Time `json:"created_at"`
}

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// PostFeed supplies enriched posts and author profiles for a window. The
// implementation talks to the external collection/NLP collaborators.
type PostFeed interface {
	// PostsInWindow returns enriched posts with posted_at inside the window.
	PostsInWindow(ctx context.Context, w Window) ([]models.EnrichedPost, error)

	// Authors returns profiles for the given author ids. Missing authors are
	// simply absent from the result, not an error.
	Authors(ctx context.Context, ids []string) (map[string]models.AuthorProfile, error)
}

// CampaignStore persists Campaign records. Writes replace the whole record
// atomically; there are no partial evidence updates.
type CampaignStore interface {
	// GetCampaign returns the campaign or ErrCampaignNotFound.
	GetCampaign(ctx context.Context, id string) (*Campaign, error)

	// PutCampaign writes or replaces a campaign atomically.
	PutCampaign(ctx context.Context, c *Campaign) error

	// ListCampaigns returns campaigns overlapping the window.
	ListCampaigns(ctx context.Context, w Window) ([]Campaign, error)
}

// SnapshotStore persists per-key burst baselines and coordination edges so
// incremental reruns do not start cold.
type SnapshotStore interface {
	// GetBurstBaseline returns the stored baseline rate for a key, or ok=false.
	GetBurstBaseline(ctx context.Context, key string) (rate float64, ok bool, err error)

	// PutBurstBaseline stores the baseline rate for a key.
	PutBurstBaseline(ctx context.Context, key string, rate float64) error

	// PutEdges replaces the stored edge snapshot for a narrative cluster.
	PutEdges(ctx context.Context, clusterID int, edges []CoordinationEdge) error

	// GetEdges returns the stored edge snapshot for a narrative cluster.
	GetEdges(ctx context.Context, clusterID int) ([]CoordinationEdge, error)
}

// Notifier delivers alerts to an external channel.
type Notifier interface {
	// Send delivers an alert to the notification channel.
	Send(ctx context.Context, alert *Alert) error

	// Name returns the notifier name (e.g., "webhook", "nats").
	Name() string

	// Enabled returns whether this notifier is enabled.
	Enabled() bool
}
