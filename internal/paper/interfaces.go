package paper

import (
	"context"
	"time"
)

// UpsertResult reports what a RecordStore upsert did.
type UpsertResult string

// Upsert results.
const (
	UpsertInserted UpsertResult = "inserted"
	UpsertMerged   UpsertResult = "merged"
)

// RecordStore is the transactional datastore of canonical paper records. It is
// the only resource shared by concurrent workers; every mutating operation
// runs as a single transaction so a reader never observes a half-merged
// record.
type RecordStore interface {
	// Exists probes for an identity. Workers call it before triggering any
	// download side effect.
	Exists(ctx context.Context, identity string) (bool, error)
	// Upsert inserts a new record, or merges the record's source and URLs
	// into the existing row for the same identity. Mutable fields are only
	// filled when previously empty.
	Upsert(ctx context.Context, rec Record) (UpsertResult, error)
	// Rollback deletes every record created by (source, runID) and returns
	// the local artifact paths that were attached to them. Records shared
	// with other sources lose only the source attribution. All or nothing.
	Rollback(ctx context.Context, source, runID string) ([]string, error)
	// Migrate applies any pending schema upgrades. Idempotent; safe to run
	// at every startup and after an interrupted migration.
	Migrate(ctx context.Context) error
}

// SyncStore is the bookkeeping surface used by the cloud transfer
// collaborator. Only that collaborator sets the synced flag.
type SyncStore interface {
	Unsynced(ctx context.Context) ([]Record, error)
	MarkSynced(ctx context.Context, identities []string) error
}

// SearchRequest describes one source search.
type SearchRequest struct {
	// Query is the raw boolean query text; sources that cannot evaluate it
	// natively may extract keywords from it.
	Query string
	// StartDate is the publication-date floor; zero means unbounded.
	StartDate time.Time
	// MaxResults caps the total candidates the cursor will yield.
	MaxResults int
}

// Cursor yields candidates lazily in source order. It is finite and not
// restartable mid-stream.
type Cursor interface {
	// Next returns up to max candidates. An empty slice with a nil error
	// means the stream is exhausted.
	Next(ctx context.Context, max int) ([]Candidate, error)
	Close() error
}

// Source is one independent content-discovery collaborator. Implementations
// must honor ctx cancellation promptly in both Search and Download.
type Source interface {
	Name() string
	Search(ctx context.Context, req SearchRequest) (Cursor, error)
	// Download fetches the candidate's document and returns the local path.
	Download(ctx context.Context, c Candidate) (string, error)
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}
