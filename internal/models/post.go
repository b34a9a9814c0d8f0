// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

// Package models defines the input records the detection engine consumes.
// Both record types are produced by external collaborators (data collection
// plus NLP classification) and are read-only to the engine.
package models

import (
	"time"

	"github.com/goccy/go-json"
)

// EnrichedPost is a single post after NLP enrichment. The engine never
// mutates it. Fields the engine does not recognize are preserved in Extra
// and passed through as opaque evidence.
type EnrichedPost struct {
	ID            string    `json:"id"`
	AuthorID      string    `json:"author_id"`
	Text          string    `json:"text"`
	PostedAt      time.Time `json:"posted_at"`
	Language      string    `json:"language"`
	ToxicityScore float64   `json:"toxicity_score"` // [0,1]
	StanceScore   float64   `json:"stance_score"`   // [-1,1]
	Embedding     []float64 `json:"embedding"`
	Hashtags      []string  `json:"hashtags"`
	URLs          []string  `json:"urls"`

	// Extra holds unrecognized upstream fields verbatim.
	Extra map[string]json.RawMessage `json:"-"`
}

// knownPostFields are the JSON keys unmarshaled into typed fields; anything
// else lands in Extra.
var knownPostFields = map[string]struct{}{
	"id": {}, "author_id": {}, "text": {}, "posted_at": {}, "language": {},
	"toxicity_score": {}, "stance_score": {}, "embedding": {}, "hashtags": {}, "urls": {},
}

// UnmarshalJSON decodes the typed fields and captures unknown keys in Extra.
func (p *EnrichedPost) UnmarshalJSON(data []byte) error {
	type alias EnrichedPost
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if _, ok := knownPostFields[key]; ok {
			delete(raw, key)
		}
	}
	if len(raw) > 0 {
		a.Extra = raw
	}

	*p = EnrichedPost(a)
	return nil
}

// MarshalJSON emits the typed fields plus any pass-through extras.
func (p EnrichedPost) MarshalJSON() ([]byte, error) {
	type alias EnrichedPost
	data, err := json.Marshal(alias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return data, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for key, val := range p.Extra {
		if _, ok := merged[key]; !ok {
			merged[key] = val
		}
	}
	return json.Marshal(merged)
}

// Artifacts returns the post's shared artifacts (hashtags and URLs) as a
// set, used for overlap comparisons between authors.
func (p *EnrichedPost) Artifacts() map[string]struct{} {
	set := make(map[string]struct{}, len(p.Hashtags)+len(p.URLs))
	for _, h := range p.Hashtags {
		set[h] = struct{}{}
	}
	for _, u := range p.URLs {
		set[u] = struct{}{}
	}
	return set
}
