// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides instrumentation for:
// - Detection pass throughput and latency
// - Per-detector signal volumes (bursts, clusters, edges)
// - Campaign lifecycle (created, updated, skipped)
// - Alert delivery and circuit breaker state
// - Snapshot store operations (Badger)

var (
	// Detection Pass Metrics
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_passes_total",
			Help: "Total number of detection passes",
		},
		[]string{"result"}, // "success", "partial", "abandoned"
	)

	PassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "detection_pass_duration_seconds",
			Help:    "Duration of full detection passes in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}, // Passes over large windows can take minutes
		},
	)

	PostsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detection_posts_processed_total",
			Help: "Total number of enriched posts consumed by detection passes",
		},
	)

	PostsImputed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detection_posts_imputed_total",
			Help: "Total number of posts with missing features filled by imputation",
		},
	)

	// Detector Signal Metrics
	BurstsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burst_events_total",
			Help: "Total number of burst events emitted",
		},
		[]string{"method", "intensity"}, // method: "state_model", "zscore"
	)

	BurstFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "burst_zscore_fallbacks_total",
			Help: "Total number of keys routed to the z-score fallback for sparse data",
		},
	)

	ClustersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "narrative_clusters_active",
			Help: "Current number of active narrative clusters",
		},
	)

	ClusterAssignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrative_cluster_assignments_total",
			Help: "Total number of post-to-cluster assignments",
		},
		[]string{"kind"}, // "matched", "buffered", "reassigned", "density_new"
	)

	BotScoresComputed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_scores_computed_total",
			Help: "Total number of bot likelihood scores computed",
		},
	)

	CoordinationEdges = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coordination_edges_per_cluster",
			Help:    "Number of retained coordination edges per narrative cluster",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// Campaign Lifecycle Metrics
	CampaignsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaigns_created_total",
			Help: "Total number of new campaigns created",
		},
		[]string{"severity"},
	)

	CampaignsUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campaigns_updated_total",
			Help: "Total number of existing campaigns re-scored",
		},
	)

	CampaignsSkippedStale = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campaigns_skipped_stale_total",
			Help: "Total number of campaign updates skipped because a human decision froze the campaign",
		},
	)

	CampaignScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "campaign_score",
			Help:    "Distribution of computed campaign scores",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	// Alert Delivery Metrics
	AlertsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_published_total",
			Help: "Total number of campaign alerts handed to notifiers",
		},
		[]string{"notifier", "result"}, // notifier: "webhook", "nats"; result: "success", "failure", "rejected"
	)

	AlertDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alert_delivery_duration_seconds",
			Help:    "Duration of alert delivery attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"notifier"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Snapshot Store Metrics
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operations_total",
			Help: "Total number of snapshot store operations",
		},
		[]string{"operation", "result"}, // operation: "get", "put", "list", "gc"
	)

	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Duration of snapshot store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Upstream Feed Metrics
	UpstreamRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "upstream_retries_total",
			Help: "Total number of upstream feed retries",
		},
	)

	UpstreamFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "upstream_failures_total",
			Help: "Total number of passes abandoned due to upstream unavailability",
		},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordPass records a completed detection pass.
func RecordPass(result string, duration time.Duration, posts int) {
	PassesTotal.WithLabelValues(result).Inc()
	PassDuration.Observe(duration.Seconds())
	PostsProcessed.Add(float64(posts))
}

// RecordBurst records an emitted burst event.
func RecordBurst(method, intensity string) {
	BurstsDetected.WithLabelValues(method, intensity).Inc()
}

// RecordCampaign records a campaign create or update outcome.
func RecordCampaign(created bool, severity string, score float64) {
	if created {
		CampaignsCreated.WithLabelValues(severity).Inc()
	} else {
		CampaignsUpdated.Inc()
	}
	CampaignScore.Observe(score)
}

// RecordAlert records an alert delivery attempt.
func RecordAlert(notifier, result string, duration time.Duration) {
	AlertsPublished.WithLabelValues(notifier, result).Inc()
	AlertDeliveryDuration.WithLabelValues(notifier).Observe(duration.Seconds())
}

// RecordStoreOperation records a snapshot store operation.
func RecordStoreOperation(operation string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	StoreOperations.WithLabelValues(operation, result).Inc()
	StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
