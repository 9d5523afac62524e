// Package app assembles the harvest application from configuration: record
// store, filter pipeline, progress sinks, sources, supervisor, and the
// operational surfaces.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/paperharvest/paperharvest/internal/api"
	"github.com/paperharvest/paperharvest/internal/classifier"
	"github.com/paperharvest/paperharvest/internal/cloud"
	"github.com/paperharvest/paperharvest/internal/clock/system"
	"github.com/paperharvest/paperharvest/internal/config"
	"github.com/paperharvest/paperharvest/internal/filter"
	iduuid "github.com/paperharvest/paperharvest/internal/id/uuid"
	"github.com/paperharvest/paperharvest/internal/logging"
	"github.com/paperharvest/paperharvest/internal/paper"
	"github.com/paperharvest/paperharvest/internal/progress"
	"github.com/paperharvest/paperharvest/internal/progress/sinks"
	"github.com/paperharvest/paperharvest/internal/query"
	"github.com/paperharvest/paperharvest/internal/source"
	"github.com/paperharvest/paperharvest/internal/store/memory"
	"github.com/paperharvest/paperharvest/internal/store/postgres"
	"github.com/paperharvest/paperharvest/internal/supervisor"
)

// recordStore is the full storage surface the app needs from a backend.
type recordStore interface {
	paper.RecordStore
	paper.SyncStore
}

// App holds every assembled collaborator for one process lifetime.
type App struct {
	Cfg       *config.Config
	Logger    *zap.Logger
	Store     recordStore
	Predicate *query.Predicate
	Sources   []paper.Source
	Hub       *progress.Hub
	Snapshot  *sinks.SnapshotSink
	Registry  *prometheus.Registry
	Server    *api.Server
	Uploader  *cloud.Uploader

	clock        paper.Clock
	idGen        *iduuid.Generator
	pubsubClient *pubsub.Client
	storeCloser  func()
}

// New builds the application. The boolean query is parsed here, so an
// invalid query aborts startup before any source or database is touched.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return nil, err
	}

	predicate, err := query.Parse(cfg.Query.Text)
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}

	a := &App{
		Cfg:       cfg,
		Logger:    logger,
		Predicate: predicate,
		Snapshot:  sinks.NewSnapshotSink(),
		Registry:  prometheus.NewRegistry(),
		clock:     system.New(),
		idGen:     iduuid.NewGenerator(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector())

	if err := a.buildStore(ctx); err != nil {
		return nil, err
	}
	if err := a.buildProgress(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.buildSources()
	if err := a.buildCloud(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Server.Enabled {
		a.Server = api.New(cfg.Server.Addr, a.Snapshot, a.Registry, logger)
	}
	return a, nil
}

func (a *App) buildStore(ctx context.Context) error {
	if a.Cfg.Database.UseMemory {
		a.Store = memory.NewRecordStore()
		return nil
	}
	pg, err := postgres.New(ctx, a.Cfg.Database.DSN, a.Logger)
	if err != nil {
		return err
	}
	a.Store = pg
	a.storeCloser = pg.Close
	return nil
}

func (a *App) buildProgress(ctx context.Context) error {
	sinkList := []progress.Sink{
		sinks.NewLogSink(a.Logger),
		a.Snapshot,
	}
	promSink, err := sinks.NewPrometheusSink(a.Registry)
	if err != nil {
		return fmt.Errorf("register progress metrics: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if a.Cfg.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, a.Cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		a.pubsubClient = client
		sinkList = append(sinkList, sinks.NewPubSubSink(client.Topic(a.Cfg.PubSub.Topic)))
	}

	a.Hub = progress.NewHub(progress.Config{Logger: a.Logger}, sinkList...)
	return nil
}

func (a *App) buildSources() {
	if a.Cfg.Sources.Arxiv.Enabled {
		c := a.Cfg.Sources.Arxiv
		a.Sources = append(a.Sources, source.NewArxiv(source.ArxivConfig{
			BaseURL:     c.BaseURL,
			DownloadDir: c.DownloadDir,
			UserAgent:   c.UserAgent,
			PageSize:    c.PageSize,
		}, a.Logger))
	}
	if a.Cfg.Sources.LabScrape.Enabled {
		c := a.Cfg.Sources.LabScrape
		a.Sources = append(a.Sources, source.NewLabScrape(source.LabScrapeConfig{
			Seeds:       c.Seeds,
			UserAgent:   c.UserAgent,
			DownloadDir: c.DownloadDir,
			Headless:    c.Headless,
		}, a.Logger))
	}
}

func (a *App) buildCloud(ctx context.Context) error {
	if !a.Cfg.Cloud.Enabled {
		return nil
	}
	uploader, err := cloud.NewUploader(ctx, cloud.Config{
		Bucket:   a.Cfg.Cloud.Bucket,
		Prefix:   a.Cfg.Cloud.Prefix,
		Parallel: a.Cfg.Cloud.Parallel,
	}, a.Store, a.Logger)
	if err != nil {
		return err
	}
	a.Uploader = uploader
	return nil
}

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	return a.Store.Migrate(ctx)
}

// Harvest runs one full orchestration pass across all enabled sources and
// returns the per-source outcomes. startDate is the publication floor for
// modes that enforce one; zero means unbounded.
func (a *App) Harvest(ctx context.Context, startDate time.Time) (map[string]paper.Outcome, error) {
	if len(a.Sources) == 0 {
		return nil, fmt.Errorf("no sources enabled")
	}
	profile, err := a.Cfg.Profile()
	if err != nil {
		return nil, err
	}

	runID, err := a.idGen.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}

	rc := paper.RunContext{
		RunID:          runID,
		Mode:           paper.Mode(a.Cfg.Mode),
		Query:          a.Predicate,
		Exclusions:     a.Cfg.Query.Exclusions,
		PerSourceLimit: profile.PerSourceLimit,
		BatchSize:      profile.BatchSize,
	}
	if profile.EnforceDateFloor {
		rc.StartDate = startDate
	}

	fm := filter.New(classifier.New(classifier.DefaultThresholds()), a.Predicate, a.Cfg.Query.Exclusions)
	sup := supervisor.New(supervisor.Config{
		HeartbeatInterval: a.Cfg.Supervisor.HeartbeatInterval,
		WorkerTimeout:     a.Cfg.Supervisor.WorkerTimeout,
		MaxRetries:        a.Cfg.Supervisor.MaxRetries,
		RetryDelay:        a.Cfg.Supervisor.RetryDelay,
		CancelGrace:       a.Cfg.Supervisor.CancelGrace,
	}, a.Store, fm, a.Hub, a.clock, a.Logger)

	a.Logger.Info("starting harvest run",
		zap.String("run_id", runID),
		zap.String("mode", a.Cfg.Mode),
		zap.Int("sources", len(a.Sources)),
		zap.Time("start_date", rc.StartDate))

	results := sup.Run(ctx, rc, a.Sources)

	if a.Uploader != nil {
		if _, err := a.Uploader.Sync(ctx); err != nil {
			a.Logger.Error("cloud sync failed", zap.Error(err))
		}
	}
	return results, nil
}

// Close releases every owned resource. Safe on a partially built App.
func (a *App) Close() {
	if a.Hub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		a.Hub.Close(ctx)
		cancel()
	}
	if a.pubsubClient != nil {
		a.pubsubClient.Close()
	}
	if a.storeCloser != nil {
		a.storeCloser()
	}
	if a.Logger != nil {
		a.Logger.Sync()
	}
}
