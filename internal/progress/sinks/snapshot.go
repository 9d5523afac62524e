package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/paperharvest/paperharvest/internal/progress"
)

// SourceStatus is the latest observed state for one source in a run.
type SourceStatus struct {
	Source    string    `json:"source"`
	Stage     string    `json:"stage"`
	UpdatedAt time.Time `json:"updated_at"`
	New       int64     `json:"new"`
	Duplicate int64     `json:"duplicate"`
	Filtered  int64     `json:"filtered"`
	Errors    int64     `json:"errors"`
	Status    string    `json:"status,omitempty"`
	Note      string    `json:"note,omitempty"`
}

// RunSnapshot is a point-in-time view of the most recent run.
type RunSnapshot struct {
	RunID   string         `json:"run_id"`
	Sources []SourceStatus `json:"sources"`
}

// SnapshotSink keeps the latest per-source state of the most recent run in
// memory, serving the status API. A new run ID resets the snapshot.
type SnapshotSink struct {
	mu      sync.RWMutex
	runID   [16]byte
	runName string
	sources map[string]SourceStatus
}

// NewSnapshotSink returns an empty snapshot.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{sources: make(map[string]SourceStatus)}
}

// Consume implements progress.Sink.
func (s *SnapshotSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		if evt.RunID != s.runID {
			s.runID = evt.RunID
			s.runName = evt.RunUUID().String()
			s.sources = make(map[string]SourceStatus)
		}
		s.sources[evt.Source] = SourceStatus{
			Source:    evt.Source,
			Stage:     string(evt.Stage),
			UpdatedAt: evt.TS,
			New:       evt.New,
			Duplicate: evt.Duplicate,
			Filtered:  evt.Filtered,
			Errors:    evt.Errors,
			Status:    evt.Status,
			Note:      evt.Note,
		}
	}
	return nil
}

// Latest returns a copy of the current snapshot. ok is false before any
// event has been observed.
func (s *SnapshotSink) Latest() (RunSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.runName == "" {
		return RunSnapshot{}, false
	}
	snap := RunSnapshot{RunID: s.runName, Sources: make([]SourceStatus, 0, len(s.sources))}
	for _, st := range s.sources {
		snap.Sources = append(snap.Sources, st)
	}
	return snap, true
}

// Close implements progress.Sink.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}
