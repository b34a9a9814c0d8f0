// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package detection

import (
	"math"
	"sort"

	"github.com/narratrace/narratrace/internal/config"
	"github.com/narratrace/narratrace/internal/logging"
	"github.com/narratrace/narratrace/internal/metrics"
	"github.com/narratrace/narratrace/internal/models"
)

// BotScorer assigns each author a likelihood of being an automated account
// from normalized profile features. Weights come from configuration; a
// missing feature is imputed with the population median so a single absent
// field never blocks scoring.
type BotScorer struct {
	cfg config.BotConfig
}

// NewBotScorer creates a bot scorer from configuration.
func NewBotScorer(cfg config.BotConfig) *BotScorer {
	return &BotScorer{cfg: cfg}
}

// featureMedians holds population medians used to impute missing fields.
type featureMedians struct {
	accountAge   float64
	postingFreq  float64
	completeness float64
	usernameScr  float64
}

// BotComponents is the per-feature breakdown behind a bot likelihood, each
// normalized to [0,1]. Retained in campaign evidence so a reviewer can see
// which behavior drove the score.
type BotComponents struct {
	AccountAge          float64 `json:"account_age"`
	PostingFrequency    float64 `json:"posting_frequency"`
	FollowImbalance     float64 `json:"follow_imbalance"`
	ProfileCompleteness float64 `json:"profile_completeness"`
	UsernamePattern     float64 `json:"username_pattern"`
}

// BotScore pairs an author's overall likelihood with its component breakdown.
type BotScore struct {
	Likelihood float64       `json:"likelihood"`
	Components BotComponents `json:"components"`
}

// ScoreAll computes bot likelihoods for a population of authors. Likelihoods
// are clipped to [0,1].
func (bs *BotScorer) ScoreAll(authors map[string]models.AuthorProfile) map[string]BotScore {
	med := bs.medians(authors)

	out := make(map[string]BotScore, len(authors))
	for id, a := range authors {
		out[id] = bs.score(&a, med)
		metrics.BotScoresComputed.Inc()
	}
	return out
}

// score combines the weighted normalized features for one author.
func (bs *BotScorer) score(a *models.AuthorProfile, med featureMedians) BotScore {
	age := a.AccountAgeDays
	if !a.HasAccountAge {
		age = med.accountAge
		bs.warnImputed(a.ID, "account_age")
	}
	freq := a.PostingFrequency
	if !a.HasPostingFrequency {
		freq = med.postingFreq
		bs.warnImputed(a.ID, "posting_frequency")
	}
	completeness := a.ProfileCompleteness
	if !a.HasProfileCompleteness {
		completeness = med.completeness
		bs.warnImputed(a.ID, "profile_completeness")
	}
	usernameScore := a.UsernamePatternScore
	if !a.HasUsernamePattern {
		usernameScore = med.usernameScr
		bs.warnImputed(a.ID, "username_pattern_score")
	}

	comps := BotComponents{
		AccountAge:          clamp01(1 - age/bs.cfg.MatureAccountDays),
		ProfileCompleteness: clamp01(1 - completeness),
		UsernamePattern:     clamp01(usernameScore),
	}

	// Posting-frequency z-score against the platform baseline; only
	// above-baseline activity is suspicious.
	z := (freq - bs.cfg.BaselineFrequencyMean) / bs.cfg.BaselineFrequencyStd
	comps.PostingFrequency = clamp01(z / 4)

	// Follow imbalance: aggressively following with few followers back.
	// The inverse of FollowRatio is how many accounts are followed per
	// follower gained.
	if a.FollowingCount > 0 {
		comps.FollowImbalance = clamp01(1 / math.Max(a.FollowRatio(), 1e-9) / 10)
	}

	score := bs.cfg.WeightAccountAge*comps.AccountAge +
		bs.cfg.WeightPostingFreq*comps.PostingFrequency +
		bs.cfg.WeightFollowRatio*comps.FollowImbalance +
		bs.cfg.WeightCompleteness*comps.ProfileCompleteness +
		bs.cfg.WeightUsername*comps.UsernamePattern

	if a.Verified {
		score *= bs.cfg.VerifiedDamping
	}
	return BotScore{Likelihood: clamp01(score), Components: comps}
}

// medians computes per-feature population medians over present values.
func (bs *BotScorer) medians(authors map[string]models.AuthorProfile) featureMedians {
	var ages, freqs, completeness, usernames []float64
	for _, a := range authors {
		if a.HasAccountAge {
			ages = append(ages, a.AccountAgeDays)
		}
		if a.HasPostingFrequency {
			freqs = append(freqs, a.PostingFrequency)
		}
		if a.HasProfileCompleteness {
			completeness = append(completeness, a.ProfileCompleteness)
		}
		if a.HasUsernamePattern {
			usernames = append(usernames, a.UsernamePatternScore)
		}
	}
	return featureMedians{
		// Fallbacks when the whole population lacks a field lean neutral:
		// a mature account age, baseline posting rate, half-complete profile.
		accountAge:   medianOr(ages, bs.cfg.MatureAccountDays),
		postingFreq:  medianOr(freqs, bs.cfg.BaselineFrequencyMean),
		completeness: medianOr(completeness, 0.5),
		usernameScr:  medianOr(usernames, 0.5),
	}
}

func (bs *BotScorer) warnImputed(authorID, feature string) {
	err := &MissingFeatureError{AuthorID: authorID, Feature: feature}
	logging.Warn().Err(err).Str("author_id", authorID).Str("feature", feature).Msg("imputing missing author feature")
}

// medianOr returns the median of values, or fallback for an empty slice.
func medianOr(values []float64, fallback float64) float64 {
	if len(values) == 0 {
		return fallback
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
