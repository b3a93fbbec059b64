// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

const downloadKeyPrefix = "download/"

// DownloadStore is the system of record for DownloadRecords. It keeps every
// record in memory and writes through to a KVStore for durability. A nil
// KVStore makes it memory-only.
type DownloadStore struct {
	mu      sync.RWMutex
	kv      KVStore
	records map[string]*DownloadRecord
}

func NewDownloadStore(kv KVStore) *DownloadStore {
	return &DownloadStore{
		kv:      kv,
		records: make(map[string]*DownloadRecord),
	}
}

func downloadKey(id string) string {
	return downloadKeyPrefix + id
}

// Load replaces the in-memory table with what is persisted.
func (s *DownloadStore) Load(ctx context.Context) (int, error) {
	if s.kv == nil {
		return 0, nil
	}

	raw, err := s.kv.List(ctx, downloadKeyPrefix)
	if err != nil {
		return 0, err
	}

	loaded := make(map[string]*DownloadRecord, len(raw))
	for key, value := range raw {
		var rec DownloadRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Skipping unreadable download record")
			continue
		}
		if rec.ID == "" {
			rec.ID = strings.TrimPrefix(key, downloadKeyPrefix)
		}
		loaded[rec.ID] = &rec
	}

	s.mu.Lock()
	s.records = loaded
	s.mu.Unlock()

	return len(loaded), nil
}

func (s *DownloadStore) Get(id string) (*DownloadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrDownloadNotFound
	}
	return rec.Clone(), nil
}

// List returns snapshots of every record, oldest first.
func (s *DownloadStore) List() []*DownloadRecord {
	return s.filter(func(*DownloadRecord) bool { return true })
}

// ListActive returns snapshots of non-terminal records, oldest first.
func (s *DownloadStore) ListActive() []*DownloadRecord {
	return s.filter(func(r *DownloadRecord) bool { return !r.Status.IsTerminal() })
}

func (s *DownloadStore) filter(keep func(*DownloadRecord) bool) []*DownloadRecord {
	s.mu.RLock()
	out := make([]*DownloadRecord, 0, len(s.records))
	for _, rec := range s.records {
		if keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Save persists rec and then replaces the in-memory copy.
func (s *DownloadStore) Save(ctx context.Context, rec *DownloadRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("save download: missing id")
	}

	if s.kv != nil {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode download %s: %w", rec.ID, err)
		}
		if err := s.kv.Set(ctx, downloadKey(rec.ID), data); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.records[rec.ID] = rec.Clone()
	s.mu.Unlock()
	return nil
}

func (s *DownloadStore) Delete(ctx context.Context, id string) error {
	s.mu.RLock()
	_, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return ErrDownloadNotFound
	}

	if s.kv != nil {
		if err := s.kv.Delete(ctx, downloadKey(id)); err != nil {
			return err
		}
	}

	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

// CountByStatus is used by the metrics collector.
func (s *DownloadStore) CountByStatus() map[DownloadStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[DownloadStatus]int)
	for _, rec := range s.records {
		counts[rec.Status]++
	}
	return counts
}
