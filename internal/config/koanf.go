// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/narratrace/config.yaml",
	"/etc/narratrace/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
//
// Precedence is ENV > File > Defaults. Environment variable names are mapped
// to nested koanf paths via an explicit table so that stray variables never
// pollute the configuration.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unmarshal into Config struct
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	// Check environment variable first
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	// Search default paths
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - PASS_INTERVAL -> engine.pass_interval
//   - BURST_S_FACTOR -> burst.s_factor
//   - NATS_URL -> nats.url
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Engine mappings
		"pass_interval":          "engine.pass_interval",
		"detection_window":       "engine.window",
		"max_concurrent_windows": "engine.max_concurrent_windows",
		"engine_retry_attempts":  "engine.retry_attempts",
		"engine_retry_delay":     "engine.retry_initial_delay",

		// Burst detector mappings
		"burst_bin_interval": "burst.bin_interval",
		"burst_s_factor":     "burst.s_factor",
		"burst_gamma":        "burst.gamma",
		"burst_num_states":   "burst.num_states",
		"burst_min_samples":  "burst.min_samples",
		"burst_z_window":     "burst.z_window",
		"burst_z_threshold":  "burst.z_threshold",

		// Narrative clusterer mappings
		"cluster_accept_threshold": "cluster.accept_threshold",
		"cluster_tie_epsilon":      "cluster.tie_epsilon",
		"cluster_reassign_drift":   "cluster.reassign_drift",
		"cluster_buffer_flush":     "cluster.buffer_flush_size",
		"cluster_min_size":         "cluster.min_cluster_size",
		"cluster_neighbor_radius":  "cluster.neighbor_radius",
		"cluster_keyword_limit":    "cluster.keyword_limit",

		// Bot scorer mappings
		"bot_weight_account_age":  "bot.weight_account_age",
		"bot_weight_posting_freq": "bot.weight_posting_freq",
		"bot_weight_follow_ratio": "bot.weight_follow_ratio",
		"bot_weight_completeness": "bot.weight_completeness",
		"bot_weight_username":     "bot.weight_username",
		"bot_baseline_freq_mean":  "bot.baseline_frequency_mean",
		"bot_baseline_freq_std":   "bot.baseline_frequency_std",
		"bot_mature_account_days": "bot.mature_account_days",
		"bot_verified_damping":    "bot.verified_damping",

		// Coordination graph mappings
		"graph_pair_window":     "graph.pair_window",
		"graph_temporal_decay":  "graph.temporal_decay",
		"graph_weight_temporal": "graph.weight_temporal",
		"graph_weight_text":     "graph.weight_text",
		"graph_weight_artifact": "graph.weight_artifact",
		"graph_min_edge_weight": "graph.min_edge_weight",
		"graph_max_authors":     "graph.max_authors_per_cluster",

		// Score fusion mappings
		"score_weight_burst":        "score.weight_burst",
		"score_weight_coordination": "score.weight_coordination",
		"score_weight_bot_presence": "score.weight_bot_presence",
		"score_weight_content":      "score.weight_content",
		"score_bot_threshold":       "score.bot_threshold",
		"score_intensity_cap":       "score.intensity_cap",

		// Storage mappings
		"storage_path":      "storage.path",
		"storage_in_memory": "storage.in_memory",

		// NATS mappings
		"nats_enabled":        "nats.enabled",
		"nats_url":            "nats.url",
		"nats_embedded":       "nats.embedded_server",
		"nats_store_dir":      "nats.store_dir",
		"nats_subject":        "nats.subject",
		"nats_max_reconnects": "nats.max_reconnects",
		"nats_reconnect_wait": "nats.reconnect_wait",

		// Webhook mappings
		"webhook_enabled":           "webhook.enabled",
		"webhook_url":               "webhook.url",
		"webhook_timeout":           "webhook.timeout",
		"webhook_breaker_threshold": "webhook.breaker_threshold",
		"webhook_breaker_cooldown":  "webhook.breaker_cooldown",

		// Server mappings
		"http_port":    "server.port",
		"http_host":    "server.host",
		"http_timeout": "server.timeout",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// For unmapped keys, return empty string to skip them.
	// This prevents random environment variables from polluting config.
	return ""
}
