// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

// Package config loads and validates engine configuration. Every detection
// weight and threshold lives here rather than in code, so tuning a
// deployment never requires a rebuild.
package config

import (
	"time"
)

// Config is the root configuration for the detection engine.
type Config struct {
	Engine  EngineConfig  `koanf:"engine"`
	Burst   BurstConfig   `koanf:"burst"`
	Cluster ClusterConfig `koanf:"cluster"`
	Bot     BotConfig     `koanf:"bot"`
	Graph   GraphConfig   `koanf:"graph"`
	Score   ScoreConfig   `koanf:"score"`
	Storage StorageConfig `koanf:"storage"`
	NATS    NATSConfig    `koanf:"nats"`
	Webhook WebhookConfig `koanf:"webhook"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
}

// EngineConfig controls detection pass scheduling and resilience.
type EngineConfig struct {
	// PassInterval is how often the scheduler runs a detection pass.
	PassInterval time.Duration `koanf:"pass_interval" validate:"min=1s"`

	// Window is the trailing time window each scheduled pass covers.
	Window time.Duration `koanf:"window" validate:"min=1m"`

	// MaxConcurrentWindows bounds concurrent (cluster, window) aggregations.
	MaxConcurrentWindows int `koanf:"max_concurrent_windows" validate:"min=1"`

	// RetryAttempts is the maximum number of upstream retries per pass.
	RetryAttempts uint `koanf:"retry_attempts" validate:"max=20"`

	// RetryInitialDelay seeds the exponential backoff between retries.
	RetryInitialDelay time.Duration `koanf:"retry_initial_delay" validate:"min=1ms"`
}

// BurstConfig parameterizes the burst detector.
type BurstConfig struct {
	// BinInterval is the fixed bin width events are discretized into.
	BinInterval time.Duration `koanf:"bin_interval" validate:"min=1m"`

	// SFactor is the geometric ratio between successive burst-state rates.
	SFactor float64 `koanf:"s_factor" validate:"gt=1"`

	// Gamma is the per-level state transition cost.
	Gamma float64 `koanf:"gamma" validate:"gt=0"`

	// NumStates is the number of rate states including baseline.
	NumStates int `koanf:"num_states" validate:"min=2,max=8"`

	// MinSamples is the minimum event count before the multi-state model is
	// trusted; sparser keys fall back to the rolling z-score test.
	MinSamples int `koanf:"min_samples" validate:"min=1"`

	// ZWindow is the number of trailing bins used by the z-score fallback.
	ZWindow int `koanf:"z_window" validate:"min=2"`

	// ZThreshold is the z-score above which a bin is flagged.
	ZThreshold float64 `koanf:"z_threshold" validate:"gt=0"`
}

// ClusterConfig parameterizes the narrative clusterer.
type ClusterConfig struct {
	// AcceptThreshold is the minimum cosine similarity for assigning a post
	// to an existing centroid.
	AcceptThreshold float64 `koanf:"accept_threshold" validate:"gte=0,lte=1"`

	// TieEpsilon is the similarity margin within which two centroids are
	// considered equidistant (resolved toward the lower cluster id).
	TieEpsilon float64 `koanf:"tie_epsilon" validate:"gte=0"`

	// ReassignDrift is the similarity drop that triggers reassignment of an
	// already-stable member.
	ReassignDrift float64 `koanf:"reassign_drift" validate:"gte=0,lte=1"`

	// BufferFlushSize is how many unassigned posts accumulate before a
	// density reclustering pass runs.
	BufferFlushSize int `koanf:"buffer_flush_size" validate:"min=2"`

	// MinClusterSize is the density pass's minimum members per new cluster.
	MinClusterSize int `koanf:"min_cluster_size" validate:"min=2"`

	// NeighborRadius is the density pass's cosine-distance neighborhood.
	NeighborRadius float64 `koanf:"neighbor_radius" validate:"gt=0,lte=1"`

	// KeywordLimit caps dominant keywords tracked per cluster.
	KeywordLimit int `koanf:"keyword_limit" validate:"min=1"`
}

// BotConfig parameterizes the bot likelihood scorer. Weights are applied to
// normalized features and should sum to 1.
type BotConfig struct {
	WeightAccountAge   float64 `koanf:"weight_account_age" validate:"gte=0,lte=1"`
	WeightPostingFreq  float64 `koanf:"weight_posting_freq" validate:"gte=0,lte=1"`
	WeightFollowRatio  float64 `koanf:"weight_follow_ratio" validate:"gte=0,lte=1"`
	WeightCompleteness float64 `koanf:"weight_completeness" validate:"gte=0,lte=1"`
	WeightUsername     float64 `koanf:"weight_username" validate:"gte=0,lte=1"`

	// BaselineFrequencyMean/Std describe the platform posting-rate baseline
	// used for the posting-frequency z-score.
	BaselineFrequencyMean float64 `koanf:"baseline_frequency_mean" validate:"gt=0"`
	BaselineFrequencyStd  float64 `koanf:"baseline_frequency_std" validate:"gt=0"`

	// MatureAccountDays is the account age at which the age feature decays
	// to near zero.
	MatureAccountDays float64 `koanf:"mature_account_days" validate:"gt=0"`

	// VerifiedDamping multiplies the final score for verified accounts.
	VerifiedDamping float64 `koanf:"verified_damping" validate:"gte=0,lte=1"`
}

// GraphConfig parameterizes the coordination graph builder.
type GraphConfig struct {
	// PairWindow is the maximum time gap between two posts for their
	// authors to become a candidate pair.
	PairWindow time.Duration `koanf:"pair_window" validate:"min=1s"`

	// TemporalDecay is the exponential decay constant for the temporal
	// proximity component.
	TemporalDecay time.Duration `koanf:"temporal_decay" validate:"min=1s"`

	WeightTemporal float64 `koanf:"weight_temporal" validate:"gte=0,lte=1"`
	WeightText     float64 `koanf:"weight_text" validate:"gte=0,lte=1"`
	WeightArtifact float64 `koanf:"weight_artifact" validate:"gte=0,lte=1"`

	// MinEdgeWeight discards weaker edges before clustering; this is what
	// keeps the graph sparse.
	MinEdgeWeight float64 `koanf:"min_edge_weight" validate:"gte=0,lte=1"`

	// MaxAuthorsPerCluster caps pairwise comparison per narrative cluster.
	MaxAuthorsPerCluster int `koanf:"max_authors_per_cluster" validate:"min=2"`
}

// ScoreConfig parameterizes the campaign aggregator's score fusion.
type ScoreConfig struct {
	WeightBurst        float64 `koanf:"weight_burst" validate:"gte=0,lte=1"`
	WeightCoordination float64 `koanf:"weight_coordination" validate:"gte=0,lte=1"`
	WeightBotPresence  float64 `koanf:"weight_bot_presence" validate:"gte=0,lte=1"`
	WeightContent      float64 `koanf:"weight_content" validate:"gte=0,lte=1"`

	// BotThreshold is the likelihood above which an author counts toward
	// bot prevalence.
	BotThreshold float64 `koanf:"bot_threshold" validate:"gte=0,lte=1"`

	// IntensityCap saturates burst intensity before normalization.
	IntensityCap float64 `koanf:"intensity_cap" validate:"gt=0"`
}

// StorageConfig configures the Badger snapshot store.
type StorageConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// NATSConfig configures the alert publisher.
type NATSConfig struct {
	Enabled        bool          `koanf:"enabled"`
	URL            string        `koanf:"url"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	Subject        string        `koanf:"subject"`
	Stream         string        `koanf:"stream"`
	StreamMaxAge   time.Duration `koanf:"stream_max_age"`
	MaxReconnects  int           `koanf:"max_reconnects"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
}

// WebhookConfig configures the webhook alert notifier.
type WebhookConfig struct {
	Enabled bool          `koanf:"enabled"`
	URL     string        `koanf:"url" validate:"omitempty,url"`
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`

	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit breaker; BreakerCooldown is how long it stays open.
	BreakerThreshold uint32        `koanf:"breaker_threshold" validate:"min=1"`
	BreakerCooldown  time.Duration `koanf:"breaker_cooldown" validate:"min=1s"`
}

// ServerConfig configures the observability HTTP endpoint.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`
}

// LoggingConfig configures the zerolog layer.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with production defaults. Defaults are
// applied first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			PassInterval:         5 * time.Minute,
			Window:               24 * time.Hour,
			MaxConcurrentWindows: 4,
			RetryAttempts:        5,
			RetryInitialDelay:    500 * time.Millisecond,
		},
		Burst: BurstConfig{
			BinInterval: time.Hour,
			SFactor:     2.0,
			Gamma:       1.0,
			NumStates:   3,
			MinSamples:  10,
			ZWindow:     24,
			ZThreshold:  2.5,
		},
		Cluster: ClusterConfig{
			AcceptThreshold: 0.75,
			TieEpsilon:      1e-9,
			ReassignDrift:   0.15,
			BufferFlushSize: 50,
			MinClusterSize:  5,
			NeighborRadius:  0.3,
			KeywordLimit:    10,
		},
		Bot: BotConfig{
			WeightAccountAge:      0.25,
			WeightPostingFreq:     0.25,
			WeightFollowRatio:     0.20,
			WeightCompleteness:    0.15,
			WeightUsername:        0.15,
			BaselineFrequencyMean: 5.0,
			BaselineFrequencyStd:  10.0,
			MatureAccountDays:     730,
			VerifiedDamping:       0.5,
		},
		Graph: GraphConfig{
			PairWindow:           time.Hour,
			TemporalDecay:        30 * time.Minute,
			WeightTemporal:       0.4,
			WeightText:           0.4,
			WeightArtifact:       0.2,
			MinEdgeWeight:        0.5,
			MaxAuthorsPerCluster: 500,
		},
		Score: ScoreConfig{
			WeightBurst:        0.20,
			WeightCoordination: 0.30,
			WeightBotPresence:  0.25,
			WeightContent:      0.25,
			BotThreshold:       0.7,
			IntensityCap:       6.0,
		},
		Storage: StorageConfig{
			Path:     "/data/narratrace",
			InMemory: false,
		},
		NATS: NATSConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: false,
			StoreDir:       "/data/nats/jetstream",
			Subject:        "campaigns.alerts",
			Stream:         "CAMPAIGN_ALERTS",
			StreamMaxAge:   7 * 24 * time.Hour,
			MaxReconnects:  10,
			ReconnectWait:  2 * time.Second,
		},
		Webhook: WebhookConfig{
			Enabled:          false,
			URL:              "",
			Timeout:          10 * time.Second,
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    9632,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
