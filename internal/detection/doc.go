// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

// Package detection implements the coordinated campaign detection engine.
//
// The engine consumes pre-scored posts and author profiles and fuses four
// independent signals into auditable Campaign records with a 0-100 score:
//
//   - Burst Detector: flags intervals of abnormal posting volume per key
//     using a cost-minimizing two-state rate model, with a rolling z-score
//     fallback for sparse keys.
//   - Narrative Clusterer: groups posts by embedding proximity with
//     incremental centroid assignment and periodic density reclustering.
//   - Bot Likelihood Scorer: weighted behavioral features with median
//     imputation for missing fields.
//   - Coordination Graph Builder: weighted author-to-author edges from
//     temporal proximity, textual similarity, and shared artifacts;
//     coordinated clusters extracted via connected components.
//
// The Campaign Aggregator combines all four signals per (narrative cluster,
// time window) pair. Campaign ids are deterministic, so repeated passes over
// overlapping windows converge on the same record instead of forking
// duplicates. A campaign whose status has been moved out of "detected" by a
// human reviewer is frozen: the engine logs and skips rather than
// overwriting the decision.
package detection
