package paper

import (
	"time"

	"github.com/paperharvest/paperharvest/internal/query"
)

// Mode selects a run profile controlling batch sizes, ceilings, and date
// filtering.
type Mode string

// Run modes loaded from configuration.
const (
	ModeTesting  Mode = "TESTING"
	ModeDaily    Mode = "DAILY"
	ModeBackfill Mode = "BACKFILL"
)

// State represents the lifecycle state of a per-source worker.
type State string

// Worker states. The first three are transient and only appear in progress
// events; the rest are terminal and appear in outcomes.
const (
	StateStarting State = "STARTING"
	StateFetching State = "FETCHING"
	StateStoring  State = "STORING"

	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateTimedOut  State = "TIMED_OUT"
)

// Terminal reports whether the state ends a worker attempt.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut:
		return true
	default:
		return false
	}
}

// Candidate is one paper's metadata as returned by a source collaborator,
// before filtering and deduplication.
type Candidate struct {
	Title     string
	Abstract  string
	URL       string
	PDFURL    string
	Authors   []string
	Published time.Time
}

// Record is the canonical entity for one paper. Exactly one Record exists per
// Identity; repeat sightings merge into the existing record.
type Record struct {
	// Identity is the dedup key: the hash of the normalized canonical URL,
	// or a title+first-author hash when no URL is available.
	Identity string
	Title    string
	Authors  []string
	Abstract string
	// Published is the publication date reported by the first source that
	// saw the paper.
	Published time.Time
	// Sources accumulates the names of every source that sighted the paper.
	Sources []string
	// URLs holds the distinct normalized URLs seen across sources, in
	// sighting order.
	URLs []string
	// LocalPath is set once, by the worker that performed the download.
	LocalPath string
	// RunID identifies the run that created or last touched the record.
	RunID string
	// SyncedToCloud is cleared on insert and set only by the cloud
	// transfer collaborator.
	SyncedToCloud bool
}

// Counters tracks per-source tallies for one worker attempt.
type Counters struct {
	New       int `json:"new"`
	Duplicate int `json:"duplicate"`
	Filtered  int `json:"filtered"`
	Errors    int `json:"errors"`
}

// Outcome is the result of one source's worker. It is owned by the worker
// until handed to the supervisor, after which it is read-only.
type Outcome struct {
	Source   string   `json:"source"`
	State    State    `json:"state"`
	Counters Counters `json:"counters"`
	// Touched lists every record identity the worker inserted or merged,
	// in processing order. The supervisor uses it for diagnostics; rollback
	// itself is scoped by (source, run_id).
	Touched []string `json:"touched,omitempty"`
	// ZeroResults flags a non-TESTING run in which the source returned no
	// candidates at all. Reported, not treated as a failure.
	ZeroResults bool   `json:"zero_results,omitempty"`
	ErrorText   string `json:"error_text,omitempty"`
}

// RunContext carries the immutable configuration for one supervisor
// invocation. It is built once, shared by value with every worker, and never
// persisted.
type RunContext struct {
	RunID string
	Mode  Mode
	// Query is the parsed boolean predicate evaluated by the filter layer.
	Query *query.Predicate
	// Exclusions are plain-text exclusion terms supplied outside the query.
	Exclusions []string
	// StartDate is the publication-date floor for DAILY and BACKFILL runs;
	// ignored in TESTING.
	StartDate time.Time
	// PerSourceLimit caps accepted papers per source; zero means unlimited.
	PerSourceLimit int
	// BatchSize bounds how many candidates a worker requests per fetch.
	BatchSize int
}

// RespectsDateFloor reports whether the run enforces StartDate.
func (rc RunContext) RespectsDateFloor() bool {
	return rc.Mode != ModeTesting && !rc.StartDate.IsZero()
}

// CountsDuplicatesTowardLimit reports whether duplicates advance the fetch
// ceiling. Backfill runs over historical ranges are duplicate-heavy, so they
// count duplicates to keep making forward progress.
func (rc RunContext) CountsDuplicatesTowardLimit() bool {
	return rc.Mode == ModeBackfill
}

// LimitReached reports whether the counters have hit the per-source ceiling.
func (rc RunContext) LimitReached(c Counters) bool {
	if rc.PerSourceLimit <= 0 {
		return false
	}
	progress := c.New
	if rc.CountsDuplicatesTowardLimit() {
		progress += c.Duplicate
	}
	return progress >= rc.PerSourceLimit
}
