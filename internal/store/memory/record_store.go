// Package memory implements the record store as an in-process map. It backs
// unit tests and the TESTING run profile, which must not touch a real
// database.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/paperharvest/paperharvest/internal/paper"
)

// RecordStore is a mutex-guarded map keyed by record identity. All methods
// are safe for concurrent use and every mutation is applied atomically under
// the lock, mirroring the transactional guarantees of the Postgres store.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]paper.Record
}

// NewRecordStore returns an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]paper.Record)}
}

var (
	_ paper.RecordStore = (*RecordStore)(nil)
	_ paper.SyncStore   = (*RecordStore)(nil)
)

// Exists implements paper.RecordStore.
func (s *RecordStore) Exists(_ context.Context, identity string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[identity]
	return ok, nil
}

// Upsert implements paper.RecordStore. Merging keeps the stored record's
// immutable fields and only fills mutable fields that are still empty.
func (s *RecordStore) Upsert(_ context.Context, rec paper.Record) (paper.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[rec.Identity]
	if !ok {
		stored := rec
		stored.Authors = append([]string(nil), rec.Authors...)
		stored.Sources = dedupe(rec.Sources)
		stored.URLs = dedupe(rec.URLs)
		stored.SyncedToCloud = false
		s.records[rec.Identity] = stored
		return paper.UpsertInserted, nil
	}

	existing.Sources = mergeUnique(existing.Sources, rec.Sources)
	existing.URLs = mergeUnique(existing.URLs, rec.URLs)
	if existing.Abstract == "" {
		existing.Abstract = rec.Abstract
	}
	if len(existing.Authors) == 0 {
		existing.Authors = append([]string(nil), rec.Authors...)
	}
	if existing.LocalPath == "" {
		existing.LocalPath = rec.LocalPath
	}
	existing.RunID = rec.RunID
	s.records[rec.Identity] = existing
	return paper.UpsertMerged, nil
}

// Rollback implements paper.RecordStore. Records sighted by other sources
// survive with the source attribution removed; records owned solely by the
// rolled-back source are deleted and their artifact paths returned.
func (s *RecordStore) Rollback(_ context.Context, source, runID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var paths []string
	for identity, rec := range s.records {
		if rec.RunID != runID || !contains(rec.Sources, source) {
			continue
		}
		if len(rec.Sources) > 1 {
			rec.Sources = remove(rec.Sources, source)
			s.records[identity] = rec
			continue
		}
		if rec.LocalPath != "" {
			paths = append(paths, rec.LocalPath)
		}
		delete(s.records, identity)
	}
	sort.Strings(paths)
	return paths, nil
}

// Migrate implements paper.RecordStore. Nothing to do in memory.
func (s *RecordStore) Migrate(context.Context) error {
	return nil
}

// Unsynced implements paper.SyncStore.
func (s *RecordStore) Unsynced(context.Context) ([]paper.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []paper.Record
	for _, rec := range s.records {
		if !rec.SyncedToCloud && rec.LocalPath != "" {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

// MarkSynced implements paper.SyncStore.
func (s *RecordStore) MarkSynced(_ context.Context, identities []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range identities {
		if rec, ok := s.records[id]; ok {
			rec.SyncedToCloud = true
			s.records[id] = rec
		}
	}
	return nil
}

// Get returns a copy of the record for an identity, for tests and
// diagnostics.
func (s *RecordStore) Get(identity string) (paper.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[identity]
	return rec, ok
}

// Len reports the number of stored records.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func dedupe(values []string) []string {
	return mergeUnique(nil, values)
}

func mergeUnique(base, extra []string) []string {
	out := append([]string(nil), base...)
	seen := make(map[string]struct{}, len(out))
	for _, v := range out {
		seen[v] = struct{}{}
	}
	for _, v := range extra {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func remove(values []string, target string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}
