// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package detection

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/narratrace/narratrace/internal/config"
	"github.com/narratrace/narratrace/internal/metrics"
)

// Key prefixes for BadgerDB storage
const (
	campaignKeyPrefix = "campaign:"
	baselineKeyPrefix = "burst_baseline:"
	edgesKeyPrefix    = "edges:"
)

// BadgerStore implements CampaignStore and SnapshotStore on BadgerDB.
// Campaign writes go through a single transaction, so a record is replaced
// atomically or not at all.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens the detection database per storage configuration.
func OpenBadger(cfg config.StorageConfig) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", cfg.Path, err)
	}
	return db, nil
}

// NewBadgerStore creates a store backed by an open BadgerDB handle.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// GetCampaign retrieves a campaign by id.
func (s *BadgerStore) GetCampaign(_ context.Context, id string) (*Campaign, error) {
	start := time.Now()
	var campaign Campaign

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(campaignKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrCampaignNotFound
		}
		if err != nil {
			return fmt.Errorf("get campaign: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &campaign)
		})
	})
	if errors.Is(err, ErrCampaignNotFound) {
		return nil, err
	}
	metrics.RecordStoreOperation("get", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

// PutCampaign writes or replaces a campaign atomically.
func (s *BadgerStore) PutCampaign(_ context.Context, c *Campaign) error {
	start := time.Now()
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal campaign: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(campaignKeyPrefix+c.ID), data)
	})
	metrics.RecordStoreOperation("put", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("put campaign %s: %w", c.ID, err)
	}
	return nil
}

// ListCampaigns returns campaigns whose window overlaps w.
func (s *BadgerStore) ListCampaigns(_ context.Context, w Window) ([]Campaign, error) {
	start := time.Now()
	var out []Campaign

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(campaignKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var c Campaign
				if err := json.Unmarshal(val, &c); err != nil {
					return err
				}
				if c.WindowStart.Before(w.End) && w.Start.Before(c.WindowEnd) {
					out = append(out, c)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	metrics.RecordStoreOperation("list", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return out, nil
}

// GetBurstBaseline returns the stored baseline rate for a key.
func (s *BadgerStore) GetBurstBaseline(_ context.Context, key string) (float64, bool, error) {
	var rate float64
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(baselineKeyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			r, err := strconv.ParseFloat(string(val), 64)
			if err != nil {
				return fmt.Errorf("corrupt baseline for %q: %w", key, err)
			}
			rate = r
			found = true
			return nil
		})
	})
	if err != nil {
		return 0, false, fmt.Errorf("get baseline %q: %w", key, err)
	}
	return rate, found, nil
}

// PutBurstBaseline stores the baseline rate for a key.
func (s *BadgerStore) PutBurstBaseline(_ context.Context, key string, rate float64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		val := strconv.FormatFloat(rate, 'g', -1, 64)
		return txn.Set([]byte(baselineKeyPrefix+key), []byte(val))
	})
	if err != nil {
		return fmt.Errorf("put baseline %q: %w", key, err)
	}
	return nil
}

// PutEdges replaces the edge snapshot for a narrative cluster.
func (s *BadgerStore) PutEdges(_ context.Context, clusterID int, edges []CoordinationEdge) error {
	data, err := json.Marshal(edges)
	if err != nil {
		return fmt.Errorf("marshal edges: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(edgesKeyPrefix+strconv.Itoa(clusterID)), data)
	})
	if err != nil {
		return fmt.Errorf("put edges for cluster %d: %w", clusterID, err)
	}
	return nil
}

// GetEdges returns the stored edge snapshot for a narrative cluster, or nil
// when none exists.
func (s *BadgerStore) GetEdges(_ context.Context, clusterID int) ([]CoordinationEdge, error) {
	var edges []CoordinationEdge

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(edgesKeyPrefix + strconv.Itoa(clusterID)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &edges)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get edges for cluster %d: %w", clusterID, err)
	}
	return edges, nil
}

// RunGC triggers Badger value-log garbage collection. Safe to call
// periodically; returns without error when there is nothing to collect.
func (s *BadgerStore) RunGC() error {
	start := time.Now()
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
		err = nil
	}
	metrics.RecordStoreOperation("gc", time.Since(start), err)
	return err
}
