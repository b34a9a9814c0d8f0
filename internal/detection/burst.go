// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package detection

import (
	"math"
	"time"

	"github.com/narratrace/narratrace/internal/config"
	"github.com/narratrace/narratrace/internal/logging"
	"github.com/narratrace/narratrace/internal/metrics"
)

// BurstDetector flags time intervals of abnormally high posting volume for a
// key. The primary model assigns each bin one of a geometric ladder of rate
// states via a cost-minimizing state-path search; sparse keys fall back to a
// rolling z-score test instead of fitting the multi-state model on noise.
type BurstDetector struct {
	cfg config.BurstConfig
}

// NewBurstDetector creates a burst detector from configuration.
func NewBurstDetector(cfg config.BurstConfig) *BurstDetector {
	return &BurstDetector{cfg: cfg}
}

// Detect runs burst detection for one key over the window. events are the
// raw post timestamps for the key; priorBaseline is the stored baseline rate
// from a previous pass (events per bin), or <= 0 when none exists.
//
// The returned baseline is the rate to persist for the next pass.
func (d *BurstDetector) Detect(key string, events []time.Time, w Window, priorBaseline float64) ([]BurstEvent, float64) {
	counts, binStart := d.binCounts(events, w)
	if len(counts) == 0 {
		return nil, priorBaseline
	}

	baseline := meanCounts(counts)
	if priorBaseline > 0 {
		// Blend with the stored baseline so a single bursty window does not
		// poison the next pass's notion of normal volume.
		baseline = (baseline + priorBaseline) / 2
	}
	if baseline <= 0 {
		return nil, 0
	}

	var bursts []BurstEvent
	if len(events) < d.cfg.MinSamples {
		metrics.BurstFallbacks.Inc()
		logging.Debug().
			Err(ErrInsufficientData).
			Str("key", key).
			Int("events", len(events)).
			Int("min_samples", d.cfg.MinSamples).
			Msg("falling back to z-score detection")
		bursts = d.detectZScore(key, counts, binStart, baseline)
	} else {
		bursts = d.detectStatePath(key, counts, binStart, baseline)
	}

	for _, b := range bursts {
		metrics.RecordBurst(string(b.Method), string(b.Bucket))
	}
	return bursts, baseline
}

// binCounts discretizes events into fixed-width bins covering the window.
// Events outside the window are dropped.
func (d *BurstDetector) binCounts(events []time.Time, w Window) ([]int, time.Time) {
	if !w.End.After(w.Start) || d.cfg.BinInterval <= 0 {
		return nil, time.Time{}
	}
	n := int(w.End.Sub(w.Start) / d.cfg.BinInterval)
	if w.Start.Add(time.Duration(n)*d.cfg.BinInterval).Before(w.End) {
		n++ // partial trailing bin
	}
	counts := make([]int, n)
	for _, t := range events {
		if !w.Contains(t) {
			continue
		}
		i := int(t.Sub(w.Start) / d.cfg.BinInterval)
		if i >= 0 && i < n {
			counts[i]++
		}
	}
	return counts, w.Start
}

// detectStatePath assigns each bin a rate state via dynamic programming.
// State i has expected rate baseline*s^i; each transition costs gamma per
// level climbed, which keeps single noisy bins from flapping the state.
func (d *BurstDetector) detectStatePath(key string, counts []int, binStart time.Time, baseline float64) []BurstEvent {
	numStates := d.cfg.NumStates
	rates := make([]float64, numStates)
	for i := range rates {
		rates[i] = baseline * math.Pow(d.cfg.SFactor, float64(i))
	}

	n := len(counts)
	const inf = math.MaxFloat64 / 4
	cost := make([][]float64, n)
	back := make([][]int, n)
	for b := 0; b < n; b++ {
		cost[b] = make([]float64, numStates)
		back[b] = make([]int, numStates)
		for s := 0; s < numStates; s++ {
			emit := emissionCost(counts[b], rates[s])
			if b == 0 {
				// Start in baseline; entering a higher state up front still
				// pays the climb cost.
				cost[b][s] = emit + d.cfg.Gamma*float64(s)
				continue
			}
			best := inf
			bestPrev := 0
			for p := 0; p < numStates; p++ {
				c := cost[b-1][p] + emit + transitionCost(p, s, d.cfg.Gamma)
				if c < best {
					best = c
					bestPrev = p
				}
			}
			cost[b][s] = best
			back[b][s] = bestPrev
		}
	}

	// Recover the optimal state path.
	states := make([]int, n)
	bestEnd := 0
	for s := 1; s < numStates; s++ {
		if cost[n-1][s] < cost[n-1][bestEnd] {
			bestEnd = s
		}
	}
	states[n-1] = bestEnd
	for b := n - 1; b > 0; b-- {
		states[b-1] = back[b][states[b]]
	}

	return d.collectRuns(key, counts, states, binStart, baseline, MethodStateModel, numStates)
}

// detectZScore flags bins whose count exceeds the trailing window mean by
// more than ZThreshold standard deviations. A zero-variance trailing window
// means the z-score is undefined and the bin is never flagged.
func (d *BurstDetector) detectZScore(key string, counts []int, binStart time.Time, baseline float64) []BurstEvent {
	n := len(counts)
	flags := make([]int, n)
	for b := 0; b < n; b++ {
		lo := b - d.cfg.ZWindow
		if lo < 0 {
			lo = 0
		}
		if b-lo < 2 {
			continue // not enough trailing bins
		}
		mean, std := meanStd(counts[lo:b])
		if std == 0 {
			continue
		}
		z := (float64(counts[b]) - mean) / std
		if z > d.cfg.ZThreshold {
			flags[b] = 1
		}
	}
	return d.collectRuns(key, counts, flags, binStart, baseline, MethodZScore, 2)
}

// collectRuns converts maximal runs of non-baseline state into BurstEvents.
func (d *BurstDetector) collectRuns(key string, counts, states []int, binStart time.Time, baseline float64, method DetectionMethod, numStates int) []BurstEvent {
	var bursts []BurstEvent
	n := len(states)
	for b := 0; b < n; {
		if states[b] == 0 {
			b++
			continue
		}
		start := b
		peak := b
		maxState := states[b]
		for b < n && states[b] != 0 {
			if counts[b] > counts[peak] {
				peak = b
			}
			if states[b] > maxState {
				maxState = states[b]
			}
			b++
		}
		intensity := float64(counts[peak]) / baseline
		confidence := float64(maxState) / float64(numStates-1)
		if confidence > 1 {
			confidence = 1
		}
		bursts = append(bursts, BurstEvent{
			Key:        key,
			Start:      binStart.Add(time.Duration(start) * d.cfg.BinInterval),
			End:        binStart.Add(time.Duration(b) * d.cfg.BinInterval),
			Peak:       binStart.Add(time.Duration(peak) * d.cfg.BinInterval),
			Intensity:  intensity,
			Bucket:     IntensityBucket(intensity),
			Method:     method,
			Confidence: confidence,
		})
	}
	if len(bursts) > 0 {
		logging.Debug().
			Str("key", key).
			Int("bursts", len(bursts)).
			Str("method", string(method)).
			Msg("burst runs detected")
	}
	return bursts
}

// emissionCost is the negative log-likelihood of count under a Poisson rate,
// up to the count-dependent constant shared by all states.
func emissionCost(count int, rate float64) float64 {
	if rate <= 0 {
		return math.MaxFloat64 / 8
	}
	return rate - float64(count)*math.Log(rate)
}

// transitionCost charges gamma per state level climbed; descending is free.
func transitionCost(from, to int, gamma float64) float64 {
	if to > from {
		return gamma * float64(to-from)
	}
	return 0
}

func meanCounts(counts []int) float64 {
	if len(counts) == 0 {
		return 0
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	return float64(total) / float64(len(counts))
}

func meanStd(counts []int) (float64, float64) {
	mean := meanCounts(counts)
	if len(counts) < 2 {
		return mean, 0
	}
	var ss float64
	for _, c := range counts {
		d := float64(c) - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(counts)))
}
