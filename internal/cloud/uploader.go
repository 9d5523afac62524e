// Package cloud transfers downloaded artifacts to object storage and records
// sync state back in the record store.
package cloud

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/paperharvest/paperharvest/internal/paper"
)

const defaultParallelUploads = 4

// Uploader copies unsynced PDFs into a GCS bucket. Only records that upload
// successfully are marked synced; failures are retried on the next Sync.
type Uploader struct {
	bucket   *storage.BucketHandle
	store    paper.SyncStore
	prefix   string
	parallel int
	logger   *zap.Logger
}

// Config for the uploader.
type Config struct {
	Bucket string
	// Prefix is prepended to object names (default "papers").
	Prefix string
	// Parallel bounds concurrent uploads (default 4).
	Parallel int
}

// NewUploader builds a GCS-backed uploader.
func NewUploader(ctx context.Context, cfg Config, store paper.SyncStore, logger *zap.Logger) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("cloud: bucket name is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return newUploader(client.Bucket(cfg.Bucket), cfg, store, logger), nil
}

func newUploader(bucket *storage.BucketHandle, cfg Config, store paper.SyncStore, logger *zap.Logger) *Uploader {
	if cfg.Prefix == "" {
		cfg.Prefix = "papers"
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = defaultParallelUploads
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		bucket:   bucket,
		store:    store,
		prefix:   cfg.Prefix,
		parallel: cfg.Parallel,
		logger:   logger,
	}
}

// Sync uploads every unsynced artifact and marks the successful ones. It
// returns the number of records synced; individual upload failures are
// logged and left unsynced rather than failing the whole pass.
func (u *Uploader) Sync(ctx context.Context) (int, error) {
	records, err := u.store.Unsynced(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unsynced records: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	var (
		mu     sync.Mutex
		synced []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.parallel)
	for _, rec := range records {
		g.Go(func() error {
			if err := u.upload(gctx, rec); err != nil {
				u.logger.Warn("artifact upload failed",
					zap.String("identity", rec.Identity),
					zap.String("path", rec.LocalPath),
					zap.Error(err))
				return nil
			}
			mu.Lock()
			synced = append(synced, rec.Identity)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if len(synced) == 0 {
		return 0, nil
	}
	if err := u.store.MarkSynced(ctx, synced); err != nil {
		return 0, fmt.Errorf("mark synced: %w", err)
	}
	u.logger.Info("cloud sync pass finished",
		zap.Int("synced", len(synced)), zap.Int("pending", len(records)-len(synced)))
	return len(synced), nil
}

func (u *Uploader) upload(ctx context.Context, rec paper.Record) error {
	f, err := os.Open(rec.LocalPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	obj := u.bucket.Object(path.Join(u.prefix, rec.Identity+".pdf"))
	w := obj.NewWriter(ctx)
	w.ContentType = "application/pdf"
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize object: %w", err)
	}
	return nil
}
