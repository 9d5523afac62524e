// Package postgres implements the canonical record store on PostgreSQL via
// pgx. Every mutating operation runs inside a single transaction so
// concurrent workers never observe a half-merged record.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/paperharvest/paperharvest/internal/paper"
)

// dbPool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it,
// which keeps the store unit-testable without a live database.
type dbPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RecordStore persists paper records in the papers table.
type RecordStore struct {
	pool   dbPool
	logger *zap.Logger
}

var (
	_ paper.RecordStore = (*RecordStore)(nil)
	_ paper.SyncStore   = (*RecordStore)(nil)
)

// New connects a pool and returns the store. The DSN is validated by pgxpool;
// the schema is created lazily by Migrate.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*RecordStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool, logger), nil
}

// NewWithPool wraps an existing pool (or a pgxmock stand-in).
func NewWithPool(pool dbPool, logger *zap.Logger) *RecordStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordStore{pool: pool, logger: logger}
}

// Close releases the underlying pool.
func (s *RecordStore) Close() {
	s.pool.Close()
}

// migrations are applied in order, each guarded by the schema_version table.
// Steps must stay idempotent: a crash between a step and its version bump
// leaves the step to be re-run on the next startup.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS papers (
		identity        TEXT PRIMARY KEY,
		title           TEXT NOT NULL,
		authors         TEXT[] NOT NULL DEFAULT '{}',
		abstract        TEXT NOT NULL DEFAULT '',
		published       TIMESTAMPTZ,
		sources         TEXT[] NOT NULL DEFAULT '{}',
		urls            TEXT[] NOT NULL DEFAULT '{}',
		local_path      TEXT NOT NULL DEFAULT '',
		run_id          TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_papers_run_id ON papers (run_id)`,
	`ALTER TABLE papers ADD COLUMN IF NOT EXISTS synced_to_cloud BOOLEAN NOT NULL DEFAULT FALSE`,
}

// Migrate applies pending schema steps. Safe to run at every startup.
func (s *RecordStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var version int
	err := s.pool.QueryRow(ctx, `SELECT version FROM schema_version`).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := s.pool.Exec(ctx, `INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("seed schema_version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		if _, err := s.pool.Exec(ctx, migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := s.pool.Exec(ctx, `UPDATE schema_version SET version = $1`, i+1); err != nil {
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		s.logger.Info("applied schema migration", zap.Int("version", i+1))
	}
	return nil
}

// Exists implements paper.RecordStore.
func (s *RecordStore) Exists(ctx context.Context, identity string) (bool, error) {
	var found bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM papers WHERE identity = $1)`, identity).Scan(&found)
	if err != nil {
		return false, &paper.StorageError{Op: "exists", Identity: identity, Err: err}
	}
	return found, nil
}

// Upsert implements paper.RecordStore. The row is locked FOR UPDATE for the
// duration of the merge so two workers sighting the same paper serialize.
func (s *RecordStore) Upsert(ctx context.Context, rec paper.Record) (paper.UpsertResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", &paper.StorageError{Op: "upsert", Identity: rec.Identity, Err: err}
	}
	defer tx.Rollback(ctx)

	var (
		existing  paper.Record
		published *time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT abstract, authors, sources, urls, local_path, published
		 FROM papers WHERE identity = $1 FOR UPDATE`, rec.Identity).
		Scan(&existing.Abstract, &existing.Authors, &existing.Sources,
			&existing.URLs, &existing.LocalPath, &published)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx,
			`INSERT INTO papers
			 (identity, title, authors, abstract, published, sources, urls, local_path, run_id, synced_to_cloud)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE)`,
			rec.Identity, rec.Title, rec.Authors, rec.Abstract, nullableTime(rec.Published),
			rec.Sources, rec.URLs, rec.LocalPath, rec.RunID); err != nil {
			return "", &paper.StorageError{Op: "insert", Identity: rec.Identity, Err: err}
		}
		if err := tx.Commit(ctx); err != nil {
			return "", &paper.StorageError{Op: "insert", Identity: rec.Identity, Err: err}
		}
		return paper.UpsertInserted, nil

	case err != nil:
		return "", &paper.StorageError{Op: "upsert", Identity: rec.Identity, Err: err}
	}

	sources := mergeUnique(existing.Sources, rec.Sources)
	urls := mergeUnique(existing.URLs, rec.URLs)
	abstract := existing.Abstract
	if abstract == "" {
		abstract = rec.Abstract
	}
	authors := existing.Authors
	if len(authors) == 0 {
		authors = rec.Authors
	}
	localPath := existing.LocalPath
	if localPath == "" {
		localPath = rec.LocalPath
	}

	// run_id always moves to the merging run: it records the run that last
	// touched the record, which rollback depends on.
	if _, err := tx.Exec(ctx,
		`UPDATE papers
		 SET sources = $2, urls = $3, abstract = $4, authors = $5, local_path = $6, run_id = $7
		 WHERE identity = $1`,
		rec.Identity, sources, urls, abstract, authors, localPath, rec.RunID); err != nil {
		return "", &paper.StorageError{Op: "merge", Identity: rec.Identity, Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", &paper.StorageError{Op: "merge", Identity: rec.Identity, Err: err}
	}
	return paper.UpsertMerged, nil
}

// Rollback implements paper.RecordStore. Rows sighted by other sources keep
// the record and lose only the source attribution; rows owned solely by the
// rolled-back source are deleted and their artifact paths returned.
func (s *RecordStore) Rollback(ctx context.Context, source, runID string) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, &paper.StorageError{Op: "rollback", Err: err}
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT identity, sources, local_path FROM papers
		 WHERE run_id = $1 AND $2 = ANY(sources) FOR UPDATE`, runID, source)
	if err != nil {
		return nil, &paper.StorageError{Op: "rollback", Err: err}
	}

	type target struct {
		identity  string
		sources   []string
		localPath string
	}
	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.identity, &t.sources, &t.localPath); err != nil {
			rows.Close()
			return nil, &paper.StorageError{Op: "rollback", Err: err}
		}
		targets = append(targets, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, &paper.StorageError{Op: "rollback", Err: err}
	}

	var paths []string
	for _, t := range targets {
		if len(t.sources) > 1 {
			if _, err := tx.Exec(ctx,
				`UPDATE papers SET sources = array_remove(sources, $2) WHERE identity = $1`,
				t.identity, source); err != nil {
				return nil, &paper.StorageError{Op: "rollback", Identity: t.identity, Err: err}
			}
			continue
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM papers WHERE identity = $1`, t.identity); err != nil {
			return nil, &paper.StorageError{Op: "rollback", Identity: t.identity, Err: err}
		}
		if t.localPath != "" {
			paths = append(paths, t.localPath)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &paper.StorageError{Op: "rollback", Err: err}
	}
	s.logger.Info("rolled back source run",
		zap.String("source", source), zap.String("run_id", runID),
		zap.Int("records", len(targets)), zap.Int("artifacts", len(paths)))
	return paths, nil
}

// Unsynced implements paper.SyncStore. Only records with a downloaded
// artifact are eligible for cloud transfer.
func (s *RecordStore) Unsynced(ctx context.Context) ([]paper.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT identity, title, local_path FROM papers
		 WHERE synced_to_cloud = FALSE AND local_path <> '' ORDER BY identity`)
	if err != nil {
		return nil, &paper.StorageError{Op: "unsynced", Err: err}
	}
	defer rows.Close()

	var out []paper.Record
	for rows.Next() {
		var rec paper.Record
		if err := rows.Scan(&rec.Identity, &rec.Title, &rec.LocalPath); err != nil {
			return nil, &paper.StorageError{Op: "unsynced", Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &paper.StorageError{Op: "unsynced", Err: err}
	}
	return out, nil
}

// MarkSynced implements paper.SyncStore.
func (s *RecordStore) MarkSynced(ctx context.Context, identities []string) error {
	if len(identities) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE papers SET synced_to_cloud = TRUE WHERE identity = ANY($1)`, identities); err != nil {
		return &paper.StorageError{Op: "mark_synced", Err: err}
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
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
