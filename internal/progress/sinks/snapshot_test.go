package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperharvest/paperharvest/internal/progress"
)

var (
	runA = progress.UUIDToBytes(uuid.MustParse("018f3d4e-4444-7000-8000-000000000004"))
	runB = progress.UUIDToBytes(uuid.MustParse("018f3d4e-5555-7000-8000-000000000005"))
)

func sinkEvent(run [16]byte, stage progress.Stage, source string, newCount int64) progress.Event {
	return progress.Event{
		RunID:  run,
		TS:     time.Unix(1700000000, 0).UTC(),
		Stage:  stage,
		Source: source,
		New:    newCount,
	}
}

func TestSnapshotTracksLatestPerSource(t *testing.T) {
	t.Parallel()
	s := NewSnapshotSink()

	_, ok := s.Latest()
	assert.False(t, ok, "empty before any event")

	require.NoError(t, s.Consume(context.Background(), []progress.Event{
		sinkEvent(runA, progress.StageSourceStart, "arxiv", 0),
		sinkEvent(runA, progress.StageItem, "arxiv", 3),
		sinkEvent(runA, progress.StageSourceStart, "labscrape", 0),
	}))

	snap, ok := s.Latest()
	require.True(t, ok)
	assert.Len(t, snap.Sources, 2)

	byName := map[string]SourceStatus{}
	for _, st := range snap.Sources {
		byName[st.Source] = st
	}
	assert.Equal(t, int64(3), byName["arxiv"].New)
	assert.Equal(t, string(progress.StageItem), byName["arxiv"].Stage)
}

func TestSnapshotResetsOnNewRun(t *testing.T) {
	t.Parallel()
	s := NewSnapshotSink()

	require.NoError(t, s.Consume(context.Background(), []progress.Event{
		sinkEvent(runA, progress.StageSourceDone, "arxiv", 5),
	}))
	require.NoError(t, s.Consume(context.Background(), []progress.Event{
		sinkEvent(runB, progress.StageSourceStart, "labscrape", 0),
	}))

	snap, ok := s.Latest()
	require.True(t, ok)
	require.Len(t, snap.Sources, 1)
	assert.Equal(t, "labscrape", snap.Sources[0].Source)
}
