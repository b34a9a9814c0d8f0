// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package detection

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/narratrace/narratrace/internal/models"
)

// Key prefixes for the ingest side of the database. Collectors write
// enriched posts and author profiles here; the engine only reads.
const (
	postKeyPrefix   = "post:"
	authorKeyPrefix = "author:"
)

// BadgerFeed implements PostFeed on the same BadgerDB that backs campaign
// storage. The collection/NLP pipeline writes records through PutPost and
// PutAuthor; Detect reads them per window.
type BadgerFeed struct {
	db *badger.DB
}

// NewBadgerFeed creates a feed backed by an open BadgerDB handle.
func NewBadgerFeed(db *badger.DB) *BadgerFeed {
	return &BadgerFeed{db: db}
}

// PutPost stores an enriched post under its id.
func (f *BadgerFeed) PutPost(_ context.Context, p *models.EnrichedPost) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal post: %w", err)
	}
	err = f.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(postKeyPrefix+p.ID), data)
	})
	if err != nil {
		return fmt.Errorf("put post %s: %w", p.ID, err)
	}
	return nil
}

// PutAuthor stores an author profile under its id.
func (f *BadgerFeed) PutAuthor(_ context.Context, a *models.AuthorProfile) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal author: %w", err)
	}
	err = f.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(authorKeyPrefix+a.ID), data)
	})
	if err != nil {
		return fmt.Errorf("put author %s: %w", a.ID, err)
	}
	return nil
}

// PostsInWindow returns enriched posts with posted_at inside the window.
// Records that fail to decode are skipped; they never abort the scan.
func (f *BadgerFeed) PostsInWindow(_ context.Context, w Window) ([]models.EnrichedPost, error) {
	var out []models.EnrichedPost

	err := f.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(postKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var p models.EnrichedPost
				if err := json.Unmarshal(val, &p); err != nil {
					return nil
				}
				if w.Contains(p.PostedAt) {
					out = append(out, p)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan posts: %v", ErrUpstreamUnavailable, err)
	}
	return out, nil
}

// Authors returns profiles for the given author ids. Unknown ids are absent
// from the result.
func (f *BadgerFeed) Authors(_ context.Context, ids []string) (map[string]models.AuthorProfile, error) {
	out := make(map[string]models.AuthorProfile, len(ids))

	err := f.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get([]byte(authorKeyPrefix + id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			err = item.Value(func(val []byte) error {
				var a models.AuthorProfile
				if err := json.Unmarshal(val, &a); err != nil {
					return nil
				}
				out[a.ID] = a
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: load authors: %v", ErrUpstreamUnavailable, err)
	}
	return out, nil
}

var _ PostFeed = (*BadgerFeed)(nil)
