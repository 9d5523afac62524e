// Package worker runs the per-source harvest pipeline: search, filter,
// download, store. One Worker instance serves one source; the supervisor owns
// retries, timeouts, and rollback.
package worker

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/paperharvest/paperharvest/internal/filter"
	"github.com/paperharvest/paperharvest/internal/paper"
	"github.com/paperharvest/paperharvest/internal/progress"
)

// Worker processes one source for one run attempt. All collaborators are
// injected; the worker owns no goroutines and returns a single Outcome.
type Worker struct {
	source  paper.Source
	store   paper.RecordStore
	filter  *filter.Manager
	emitter progress.Emitter
	clock   paper.Clock
	logger  *zap.Logger
}

// New builds a Worker. emitter may be nil when progress reporting is not
// wanted (tests).
func New(source paper.Source, store paper.RecordStore, fm *filter.Manager,
	emitter progress.Emitter, clock paper.Clock, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		source:  source,
		store:   store,
		filter:  fm,
		emitter: emitter,
		clock:   clock,
		logger:  logger.With(zap.String("source", source.Name())),
	}
}

// Run executes one harvest attempt. Cancellation stops the loop at the next
// item boundary and returns the partial outcome as COMPLETED; the supervisor
// decides whether a cancelled attempt counts (it synthesizes TIMED_OUT when
// the cancellation was its own doing).
func (w *Worker) Run(ctx context.Context, rc paper.RunContext) paper.Outcome {
	outcome := paper.Outcome{Source: w.source.Name(), State: paper.StateStarting}
	w.emit(rc, progress.StageSourceStart, outcome, "starting", "")

	cursor, err := w.source.Search(ctx, paper.SearchRequest{
		Query:      searchTerms(rc),
		StartDate:  rc.StartDate,
		MaxResults: rc.PerSourceLimit,
	})
	if err != nil {
		return w.fail(rc, outcome, fmt.Errorf("search: %w", err))
	}
	defer cursor.Close()

	outcome.State = paper.StateFetching
	seen := 0
	for {
		if ctx.Err() != nil {
			break
		}
		// Beat before each collaborator wait so the supervisor measures the
		// silence of a single network call, not the whole attempt.
		w.emit(rc, progress.StageHeartbeat, outcome, "fetching", "")
		batch, err := cursor.Next(ctx, rc.BatchSize)
		if err != nil {
			return w.fail(rc, outcome, fmt.Errorf("fetch batch: %w", err))
		}
		if len(batch) == 0 {
			break
		}
		seen += len(batch)

		stop := false
		for _, cand := range batch {
			if ctx.Err() != nil {
				stop = true
				break
			}
			w.processCandidate(ctx, rc, cand, &outcome)
			w.emit(rc, progress.StageItem, outcome, "processing", "")
			if rc.LimitReached(outcome.Counters) {
				stop = true
				break
			}
		}
		if stop {
			break
		}
	}

	if seen == 0 && rc.Mode != paper.ModeTesting {
		outcome.ZeroResults = true
		w.logger.Warn("source returned zero candidates",
			zap.String("run_id", rc.RunID),
			zap.String("mode", string(rc.Mode)),
			zap.Time("start_date", rc.StartDate))
	}

	outcome.State = paper.StateCompleted
	w.emit(rc, progress.StageSourceDone, outcome, "done", "")
	return outcome
}

// processCandidate runs one candidate through dedup, filtering, download, and
// storage, updating the outcome counters in place. Item-level failures are
// counted, not fatal.
func (w *Worker) processCandidate(ctx context.Context, rc paper.RunContext,
	cand paper.Candidate, outcome *paper.Outcome) {

	if rc.RespectsDateFloor() && !cand.Published.IsZero() && cand.Published.Before(rc.StartDate) {
		outcome.Counters.Filtered++
		return
	}

	normalized := cand.URL
	if cand.URL != "" {
		var err error
		normalized, err = paper.NormalizeURL(cand.URL)
		if err != nil {
			w.logger.Debug("unusable candidate url", zap.String("url", cand.URL), zap.Error(err))
			outcome.Counters.Errors++
			return
		}
		cand.URL = normalized
	}
	identity := paper.Identity(cand)

	exists, err := w.store.Exists(ctx, identity)
	if err != nil {
		w.logger.Warn("existence probe failed", zap.String("identity", identity), zap.Error(err))
		outcome.Counters.Errors++
		return
	}
	if exists {
		outcome.Counters.Duplicate++
		return
	}

	if ok, stage := w.filter.Accept(cand); !ok {
		w.logger.Debug("candidate rejected",
			zap.String("title", cand.Title), zap.String("stage", string(stage)))
		outcome.Counters.Filtered++
		return
	}

	outcome.State = paper.StateStoring
	var localPath string
	if cand.PDFURL != "" {
		w.emit(rc, progress.StageHeartbeat, *outcome, "downloading", "")
		localPath, err = w.source.Download(ctx, cand)
		if err != nil {
			w.logger.Warn("download failed",
				zap.String("identity", identity), zap.Error(err))
			outcome.Counters.Errors++
			return
		}
	}

	result, err := w.store.Upsert(ctx, paper.Record{
		Identity:  identity,
		Title:     cand.Title,
		Authors:   cand.Authors,
		Abstract:  cand.Abstract,
		Published: cand.Published,
		Sources:   []string{w.source.Name()},
		URLs:      urlList(normalized),
		LocalPath: localPath,
		RunID:     rc.RunID,
	})
	if err != nil {
		w.logger.Warn("upsert failed", zap.String("identity", identity), zap.Error(err))
		outcome.Counters.Errors++
		return
	}

	outcome.Touched = append(outcome.Touched, identity)
	switch result {
	case paper.UpsertInserted:
		outcome.Counters.New++
	case paper.UpsertMerged:
		// Lost the race with another source sighting the same paper.
		outcome.Counters.Duplicate++
	}
	outcome.State = paper.StateFetching
}

func (w *Worker) fail(rc paper.RunContext, outcome paper.Outcome, err error) paper.Outcome {
	err = &paper.SourceFailure{Source: w.source.Name(), Err: err}
	outcome.State = paper.StateFailed
	outcome.ErrorText = err.Error()
	w.logger.Error("source attempt failed", zap.String("run_id", rc.RunID), zap.Error(err))
	w.emit(rc, progress.StageSourceError, outcome, "failed", err.Error())
	return outcome
}

func (w *Worker) emit(rc paper.RunContext, stage progress.Stage, outcome paper.Outcome, status, note string) {
	if w.emitter == nil {
		return
	}
	runID, err := parseRunID(rc.RunID)
	if err != nil {
		return
	}
	w.emitter.Emit(progress.Event{
		RunID:     runID,
		TS:        w.clock.Now(),
		Stage:     stage,
		Source:    w.source.Name(),
		New:       int64(outcome.Counters.New),
		Duplicate: int64(outcome.Counters.Duplicate),
		Filtered:  int64(outcome.Counters.Filtered),
		Errors:    int64(outcome.Counters.Errors),
		Status:    status,
		Note:      note,
	})
}

// searchTerms flattens the parsed predicate into the keyword string handed to
// sources. Sources apply their own native syntax; the predicate itself is
// still enforced locally by the filter.
func searchTerms(rc paper.RunContext) string {
	if rc.Query == nil {
		return ""
	}
	var terms []string
	for _, group := range rc.Query.Groups() {
		terms = append(terms, group...)
	}
	return strings.Join(terms, " ")
}

func urlList(url string) []string {
	if url == "" {
		return nil
	}
	return []string{url}
}
