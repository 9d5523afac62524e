// Package supervisor coordinates one harvest run: it launches an isolated
// worker per source, watches liveness, enforces the attempt timeout, rolls
// back failed attempts, and retries with a delay. Worker crashes surface as
// failed outcomes, never as a crashed run.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/paperharvest/paperharvest/internal/filter"
	"github.com/paperharvest/paperharvest/internal/paper"
	"github.com/paperharvest/paperharvest/internal/progress"
	"github.com/paperharvest/paperharvest/internal/worker"
)

// Config holds the supervision knobs.
type Config struct {
	// HeartbeatInterval is how often the monitor polls a running attempt.
	HeartbeatInterval time.Duration
	// WorkerTimeout is the longest a worker may go without emitting a
	// progress event before the attempt is declared hung.
	WorkerTimeout time.Duration
	// MaxRetries is the attempt ceiling per source, including the first.
	MaxRetries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
	// CancelGrace is how long a cancelled worker gets to unwind before its
	// goroutine is abandoned.
	CancelGrace time.Duration
}

// DefaultConfig returns the production supervision values.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 100 * time.Millisecond,
		WorkerTimeout:     600 * time.Second,
		MaxRetries:        5,
		RetryDelay:        2 * time.Second,
		CancelGrace:       5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.WorkerTimeout <= 0 {
		c.WorkerTimeout = d.WorkerTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = d.CancelGrace
	}
	return c
}

// Supervisor owns a run across all sources. Sources never see each other;
// the record store is the only shared resource.
type Supervisor struct {
	cfg     Config
	store   paper.RecordStore
	filter  *filter.Manager
	emitter progress.Emitter
	clock   paper.Clock
	logger  *zap.Logger

	// removeArtifact deletes a rolled-back download. Overridable in tests.
	removeArtifact func(path string) error
}

// New builds a Supervisor.
func New(cfg Config, store paper.RecordStore, fm *filter.Manager,
	emitter progress.Emitter, clock paper.Clock, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		cfg:            cfg.withDefaults(),
		store:          store,
		filter:         fm,
		emitter:        emitter,
		clock:          clock,
		logger:         logger,
		removeArtifact: os.Remove,
	}
}

// Run executes the harvest for every source concurrently and returns the
// final outcome per source name. It never returns early because one source
// misbehaves; ctx cancellation is the only way to stop the whole run.
func (s *Supervisor) Run(ctx context.Context, rc paper.RunContext, sources []paper.Source) map[string]paper.Outcome {
	results := make(map[string]paper.Outcome, len(sources))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error {
			outcome := s.superviseSource(gctx, rc, src)
			mu.Lock()
			results[src.Name()] = outcome
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	s.logRunSummary(rc, results)
	return results
}

// superviseSource runs the attempt loop for one source. A failed or timed-out
// attempt is rolled back before the next attempt so retries start from a
// clean slate.
func (s *Supervisor) superviseSource(ctx context.Context, rc paper.RunContext, src paper.Source) paper.Outcome {
	logger := s.logger.With(zap.String("source", src.Name()), zap.String("run_id", rc.RunID))

	var outcome paper.Outcome
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		outcome = s.runAttempt(ctx, rc, src)
		if outcome.State == paper.StateCompleted {
			return outcome
		}

		logger.Warn("attempt ended abnormally",
			zap.Int("attempt", attempt),
			zap.String("state", string(outcome.State)),
			zap.String("error", outcome.ErrorText))
		s.rollbackAttempt(rc, src.Name(), logger)

		if ctx.Err() != nil || attempt == s.cfg.MaxRetries {
			break
		}
		select {
		case <-time.After(s.cfg.RetryDelay):
		case <-ctx.Done():
			return outcome
		}
	}
	return outcome
}

// heartbeatTracker forwards progress events and records when the most recent
// one arrived. The monitor loop reads the timestamp to detect stalled workers.
type heartbeatTracker struct {
	inner progress.Emitter
	clock paper.Clock
	last  atomic.Int64
}

func newHeartbeatTracker(inner progress.Emitter, clock paper.Clock) *heartbeatTracker {
	t := &heartbeatTracker{inner: inner, clock: clock}
	t.last.Store(clock.Now().UnixNano())
	return t
}

func (t *heartbeatTracker) Emit(ev progress.Event) {
	t.last.Store(t.clock.Now().UnixNano())
	if t.inner != nil {
		t.inner.Emit(ev)
	}
}

func (t *heartbeatTracker) lastBeat() time.Time {
	return time.Unix(0, t.last.Load())
}

// runAttempt executes a single worker attempt under the heartbeat monitor.
// The worker runs on its own goroutine; a panic there becomes a failed
// outcome.
func (s *Supervisor) runAttempt(ctx context.Context, rc paper.RunContext, src paper.Source) paper.Outcome {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	beats := newHeartbeatTracker(s.emitter, s.clock)
	w := worker.New(src, s.store, s.filter, beats, s.clock, s.logger)
	outcomeCh := make(chan paper.Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcomeCh <- paper.Outcome{
					Source:    src.Name(),
					State:     paper.StateFailed,
					ErrorText: fmt.Sprintf("worker panic: %v", r),
				}
			}
		}()
		outcomeCh <- w.Run(attemptCtx, rc)
	}()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case outcome := <-outcomeCh:
			return outcome
		case <-ticker.C:
			if s.clock.Now().Sub(beats.lastBeat()) < s.cfg.WorkerTimeout {
				continue
			}
			// The worker went silent. Cancel the attempt and collect
			// whatever partial counters it surrenders within the grace
			// period.
			cancel()
			partial, _ := s.awaitOutcome(outcomeCh, src.Name())
			return paper.Outcome{
				Source:    src.Name(),
				State:     paper.StateTimedOut,
				Counters:  partial.Counters,
				Touched:   partial.Touched,
				ErrorText: fmt.Sprintf("no heartbeat for %s", s.cfg.WorkerTimeout),
			}
		case <-ctx.Done():
			outcome, ok := s.awaitOutcome(outcomeCh, src.Name())
			if !ok {
				outcome.State = paper.StateFailed
				outcome.ErrorText = "worker ignored run cancellation"
			}
			return outcome
		}
	}
}

// awaitOutcome collects a cancelled worker's outcome, giving up after the
// grace period so a collaborator stuck in a call that never observes
// cancellation cannot stall the run. The abandoned goroutine's eventual send
// lands in the buffered channel and it exits on its own.
func (s *Supervisor) awaitOutcome(outcomeCh <-chan paper.Outcome, source string) (paper.Outcome, bool) {
	select {
	case o := <-outcomeCh:
		return o, true
	case <-time.After(s.cfg.CancelGrace):
		s.logger.Warn("abandoning worker stuck past cancellation",
			zap.String("source", source),
			zap.Duration("grace", s.cfg.CancelGrace))
		return paper.Outcome{Source: source}, false
	}
}

// rollbackAttempt reverses everything the attempt persisted, including
// downloaded artifacts. Rollback runs on a fresh context so a cancelled run
// still cleans up.
func (s *Supervisor) rollbackAttempt(rc paper.RunContext, source string, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	paths, err := s.store.Rollback(ctx, source, rc.RunID)
	if err != nil {
		logger.Error("rollback failed", zap.Error(err))
		return
	}
	for _, path := range paths {
		if err := s.removeArtifact(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("artifact cleanup failed", zap.String("path", path), zap.Error(err))
		}
	}
	logger.Info("attempt rolled back", zap.Int("artifacts", len(paths)))
}

func (s *Supervisor) logRunSummary(rc paper.RunContext, results map[string]paper.Outcome) {
	var totals paper.Counters
	failed := 0
	for _, o := range results {
		totals.New += o.Counters.New
		totals.Duplicate += o.Counters.Duplicate
		totals.Filtered += o.Counters.Filtered
		totals.Errors += o.Counters.Errors
		if o.State != paper.StateCompleted {
			failed++
		}
	}
	s.logger.Info("run finished",
		zap.String("run_id", rc.RunID),
		zap.String("mode", string(rc.Mode)),
		zap.Int("sources", len(results)),
		zap.Int("sources_failed", failed),
		zap.Int("new", totals.New),
		zap.Int("duplicate", totals.Duplicate),
		zap.Int("filtered", totals.Filtered),
		zap.Int("errors", totals.Errors))
}
