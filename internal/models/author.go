// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package models

// AuthorProfile describes an account as supplied by the collection
// collaborator. Read-only to the engine. Feature fields may be missing
// (zero-valued with the matching Has* flag false); the bot scorer imputes
// them rather than failing.
type AuthorProfile struct {
	ID       string `json:"id"`
	Platform string `json:"platform"`

	AccountAgeDays float64 `json:"account_age_days"`
	FollowersCount int64   `json:"followers_count"`
	FollowingCount int64   `json:"following_count"`
	Verified       bool    `json:"verified"`

	// PostingFrequency is posts per day over the account lifetime.
	PostingFrequency float64 `json:"posting_frequency"`

	// ProfileCompleteness is the fraction of profile fields filled, [0,1].
	ProfileCompleteness float64 `json:"profile_completeness"`

	// UsernamePatternScore is the collector's bot-like-username score, [0,1].
	UsernamePatternScore float64 `json:"username_pattern_score"`

	// Presence flags for optional features. A false flag means the field
	// was absent upstream, not observed as zero.
	HasAccountAge          bool `json:"has_account_age"`
	HasPostingFrequency    bool `json:"has_posting_frequency"`
	HasProfileCompleteness bool `json:"has_profile_completeness"`
	HasUsernamePattern     bool `json:"has_username_pattern"`
}

// FollowRatio returns followers/following, guarding division by zero.
// Accounts following nobody report a ratio equal to their follower count.
func (a *AuthorProfile) FollowRatio() float64 {
	if a.FollowingCount == 0 {
		return float64(a.FollowersCount)
	}
	return float64(a.FollowersCount) / float64(a.FollowingCount)
}
