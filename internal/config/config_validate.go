// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package config

import (
	"fmt"
	"math"

	"github.com/narratrace/narratrace/internal/validation"
)

// weightSumTolerance is the allowed deviation when checking that a weight
// group sums to 1. Weights come from YAML floats, so exact equality is too
// strict.
const weightSumTolerance = 1e-6

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	if err := c.validateBot(); err != nil {
		return err
	}

	if err := c.validateGraph(); err != nil {
		return err
	}

	if err := c.validateScore(); err != nil {
		return err
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if err := c.validateNATS(); err != nil {
		return err
	}

	return c.validateWebhook()
}

// validateBot checks that the bot feature weights form a convex combination.
func (c *Config) validateBot() error {
	sum := c.Bot.WeightAccountAge + c.Bot.WeightPostingFreq +
		c.Bot.WeightFollowRatio + c.Bot.WeightCompleteness + c.Bot.WeightUsername
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("bot feature weights must sum to 1.0, got %.6f", sum)
	}
	return nil
}

// validateGraph checks that the edge weight components form a convex combination.
func (c *Config) validateGraph() error {
	sum := c.Graph.WeightTemporal + c.Graph.WeightText + c.Graph.WeightArtifact
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("graph edge weights must sum to 1.0, got %.6f", sum)
	}
	return nil
}

// validateScore checks that the campaign score weights form a convex
// combination. Anything else breaks the 0-100 score bound.
func (c *Config) validateScore() error {
	sum := c.Score.WeightBurst + c.Score.WeightCoordination +
		c.Score.WeightBotPresence + c.Score.WeightContent
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("score fusion weights must sum to 1.0, got %.6f", sum)
	}
	return nil
}

// validateStorage checks the snapshot store configuration.
func (c *Config) validateStorage() error {
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("STORAGE_PATH is required when STORAGE_IN_MEMORY=false")
	}
	return nil
}

// validateNATS validates NATS configuration (only if enabled).
func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}

	if c.NATS.URL == "" && !c.NATS.EmbeddedServer {
		return fmt.Errorf("NATS_URL is required when NATS_ENABLED=true and NATS_EMBEDDED=false")
	}
	if c.NATS.EmbeddedServer && c.NATS.StoreDir == "" {
		return fmt.Errorf("NATS_STORE_DIR is required when NATS_EMBEDDED=true")
	}
	if c.NATS.Subject == "" {
		return fmt.Errorf("NATS_SUBJECT must not be empty when NATS_ENABLED=true")
	}
	return nil
}

// validateWebhook validates webhook configuration (only if enabled).
func (c *Config) validateWebhook() error {
	if !c.Webhook.Enabled {
		return nil
	}

	if c.Webhook.URL == "" {
		return fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_ENABLED=true")
	}
	return nil
}
