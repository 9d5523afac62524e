package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperharvest/paperharvest/internal/classifier"
	"github.com/paperharvest/paperharvest/internal/filter"
	"github.com/paperharvest/paperharvest/internal/paper"
	"github.com/paperharvest/paperharvest/internal/progress"
	"github.com/paperharvest/paperharvest/internal/query"
	"github.com/paperharvest/paperharvest/internal/store/memory"
)

const testRunID = "018f3d4e-1111-7000-8000-000000000001"

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

// fakeSource yields a fixed candidate list and records download calls.
type fakeSource struct {
	name      string
	cands     []paper.Candidate
	searchErr error
	nextErr   error

	mu        sync.Mutex
	downloads []string
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Search(_ context.Context, _ paper.SearchRequest) (paper.Cursor, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return &fakeCursor{cands: s.cands, nextErr: s.nextErr}, nil
}

func (s *fakeSource) Download(_ context.Context, c paper.Candidate) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads = append(s.downloads, c.PDFURL)
	return "/tmp/" + s.name + fmt.Sprintf("-%d.pdf", len(s.downloads)), nil
}

type fakeCursor struct {
	cands   []paper.Candidate
	pos     int
	nextErr error
}

func (c *fakeCursor) Next(_ context.Context, max int) ([]paper.Candidate, error) {
	if c.nextErr != nil {
		return nil, c.nextErr
	}
	if c.pos >= len(c.cands) {
		return nil, nil
	}
	end := c.pos + max
	if end > len(c.cands) {
		end = len(c.cands)
	}
	batch := c.cands[c.pos:end]
	c.pos = end
	return batch, nil
}

func (c *fakeCursor) Close() error { return nil }

// captureEmitter records events for assertions.
type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *captureEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *captureEmitter) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, len(e.events))
	for i, evt := range e.events {
		out[i] = evt.Stage
	}
	return out
}

func testRunContext(t *testing.T, queryText string) paper.RunContext {
	t.Helper()
	pred, err := query.Parse(queryText)
	require.NoError(t, err)
	return paper.RunContext{
		RunID:     testRunID,
		Mode:      paper.ModeDaily,
		Query:     pred,
		BatchSize: 5,
	}
}

func newTestWorker(src paper.Source, store paper.RecordStore, rc paper.RunContext, emitter progress.Emitter) *Worker {
	fm := filter.New(classifier.New(classifier.DefaultThresholds()), rc.Query, rc.Exclusions)
	return New(src, store, fm, emitter, fakeClock{now: time.Unix(1700000000, 0).UTC()}, nil)
}

func researchCandidate(i int) paper.Candidate {
	return paper.Candidate{
		Title:    fmt.Sprintf("Transformer Variants Part %d", i),
		Abstract: "We propose a transformer method and demonstrate strong results.",
		URL:      fmt.Sprintf("https://example.org/papers/%d", i),
		PDFURL:   fmt.Sprintf("https://example.org/papers/%d.pdf", i),
		Authors:  []string{"A. Author"},
	}
}

func TestRunHappyPathCounters(t *testing.T) {
	t.Parallel()

	// 12 candidates: 9 genuine, 3 noise. One of the genuine ones is
	// pre-seeded in the store, so it counts as a duplicate.
	var cands []paper.Candidate
	for i := 0; i < 9; i++ {
		cands = append(cands, researchCandidate(i))
	}
	cands = append(cands,
		paper.Candidate{
			Title:    "Transformer Engineer Wanted",
			Abstract: "We are hiring! Apply now to work on transformer systems.",
			URL:      "https://example.org/jobs/1",
		},
		paper.Candidate{
			Title:    "Transformer Platform",
			Abstract: "Flexible pricing for every team. Subscribe for updates on our solution.",
			URL:      "https://example.org/marketing/1",
		},
		paper.Candidate{
			Title:    "This Week in Transformers",
			Abstract: "Our weekly roundup of the best transformer links.",
			URL:      "https://example.org/roundup/1",
		},
	)

	store := memory.NewRecordStore()
	seeded := researchCandidate(0)
	_, err := store.Upsert(context.Background(), paper.Record{
		Identity: paper.Identity(seeded), Title: seeded.Title, RunID: "earlier-run",
	})
	require.NoError(t, err)

	src := &fakeSource{name: "arxiv", cands: cands}
	rc := testRunContext(t, `("transformer")`)
	emitter := &captureEmitter{}
	w := newTestWorker(src, store, rc, emitter)

	outcome := w.Run(context.Background(), rc)

	assert.Equal(t, paper.StateCompleted, outcome.State)
	assert.Equal(t, 8, outcome.Counters.New)
	assert.Equal(t, 1, outcome.Counters.Duplicate)
	assert.Equal(t, 3, outcome.Counters.Filtered)
	assert.Equal(t, 0, outcome.Counters.Errors)
	assert.Len(t, outcome.Touched, 8)
	assert.False(t, outcome.ZeroResults)
	assert.Equal(t, 9, store.Len())

	stages := emitter.stages()
	require.NotEmpty(t, stages)
	assert.Equal(t, progress.StageSourceStart, stages[0])
	assert.Equal(t, progress.StageSourceDone, stages[len(stages)-1])
}

func TestRunEmitsHeartbeatsAroundCollaboratorWaits(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "arxiv", cands: []paper.Candidate{researchCandidate(1)}}
	rc := testRunContext(t, `("transformer")`)
	emitter := &captureEmitter{}
	w := newTestWorker(src, memory.NewRecordStore(), rc, emitter)

	w.Run(context.Background(), rc)

	beats := 0
	for _, stage := range emitter.stages() {
		if stage == progress.StageHeartbeat {
			beats++
		}
	}
	// Two batch fetches (the candidate and the empty tail) plus one
	// download.
	assert.Equal(t, 3, beats)
}

func TestRunDuplicateSkipsDownload(t *testing.T) {
	t.Parallel()

	cand := researchCandidate(1)
	store := memory.NewRecordStore()
	_, err := store.Upsert(context.Background(), paper.Record{
		Identity: paper.Identity(cand), Title: cand.Title,
	})
	require.NoError(t, err)

	src := &fakeSource{name: "arxiv", cands: []paper.Candidate{cand}}
	rc := testRunContext(t, `("transformer")`)
	w := newTestWorker(src, store, rc, nil)

	outcome := w.Run(context.Background(), rc)
	assert.Equal(t, 1, outcome.Counters.Duplicate)
	assert.Empty(t, src.downloads, "duplicates must not trigger downloads")
}

func TestRunPerSourceLimit(t *testing.T) {
	t.Parallel()

	var cands []paper.Candidate
	for i := 0; i < 20; i++ {
		cands = append(cands, researchCandidate(i))
	}
	src := &fakeSource{name: "arxiv", cands: cands}
	rc := testRunContext(t, `("transformer")`)
	rc.PerSourceLimit = 7

	store := memory.NewRecordStore()
	w := newTestWorker(src, store, rc, nil)

	outcome := w.Run(context.Background(), rc)
	assert.Equal(t, paper.StateCompleted, outcome.State)
	assert.Equal(t, 7, outcome.Counters.New)
	assert.Equal(t, 7, store.Len())
}

func TestBackfillCountsDuplicatesTowardLimit(t *testing.T) {
	t.Parallel()

	var cands []paper.Candidate
	store := memory.NewRecordStore()
	for i := 0; i < 10; i++ {
		cand := researchCandidate(i)
		cands = append(cands, cand)
		if i < 4 {
			_, err := store.Upsert(context.Background(), paper.Record{
				Identity: paper.Identity(cand), Title: cand.Title,
			})
			require.NoError(t, err)
		}
	}

	src := &fakeSource{name: "arxiv", cands: cands}
	rc := testRunContext(t, `("transformer")`)
	rc.Mode = paper.ModeBackfill
	rc.PerSourceLimit = 6

	w := newTestWorker(src, store, rc, nil)
	outcome := w.Run(context.Background(), rc)

	assert.Equal(t, 4, outcome.Counters.Duplicate)
	assert.Equal(t, 2, outcome.Counters.New)
}

func TestRunDateFloor(t *testing.T) {
	t.Parallel()

	old := researchCandidate(1)
	old.Published = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	fresh := researchCandidate(2)
	fresh.Published = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	src := &fakeSource{name: "arxiv", cands: []paper.Candidate{old, fresh}}
	rc := testRunContext(t, `("transformer")`)
	rc.StartDate = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	store := memory.NewRecordStore()
	w := newTestWorker(src, store, rc, nil)

	outcome := w.Run(context.Background(), rc)
	assert.Equal(t, 1, outcome.Counters.New)
	assert.Equal(t, 1, outcome.Counters.Filtered)
}

func TestRunZeroResultsFlag(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "arxiv"}
	rc := testRunContext(t, `("transformer")`)
	store := memory.NewRecordStore()
	w := newTestWorker(src, store, rc, nil)

	outcome := w.Run(context.Background(), rc)
	assert.Equal(t, paper.StateCompleted, outcome.State)
	assert.True(t, outcome.ZeroResults)

	// TESTING runs expect tiny result sets; no flag there.
	rc.Mode = paper.ModeTesting
	outcome = w.Run(context.Background(), rc)
	assert.False(t, outcome.ZeroResults)
}

func TestRunSearchFailure(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "arxiv", searchErr: errors.New("upstream 503")}
	rc := testRunContext(t, `("transformer")`)
	emitter := &captureEmitter{}
	w := newTestWorker(src, memory.NewRecordStore(), rc, emitter)

	outcome := w.Run(context.Background(), rc)
	assert.Equal(t, paper.StateFailed, outcome.State)
	assert.Contains(t, outcome.ErrorText, "upstream 503")

	stages := emitter.stages()
	assert.Equal(t, progress.StageSourceError, stages[len(stages)-1])
}

func TestRunBatchFailure(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "arxiv", cands: []paper.Candidate{researchCandidate(1)}, nextErr: errors.New("connection reset")}
	rc := testRunContext(t, `("transformer")`)
	w := newTestWorker(src, memory.NewRecordStore(), rc, nil)

	outcome := w.Run(context.Background(), rc)
	assert.Equal(t, paper.StateFailed, outcome.State)
	assert.Contains(t, outcome.ErrorText, "fetch batch")
}

func TestRunCancellationReturnsPartial(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{name: "arxiv", cands: []paper.Candidate{researchCandidate(1)}}
	rc := testRunContext(t, `("transformer")`)
	w := newTestWorker(src, memory.NewRecordStore(), rc, nil)

	outcome := w.Run(ctx, rc)
	assert.Equal(t, paper.StateCompleted, outcome.State)
	assert.Equal(t, 0, outcome.Counters.New)
}
