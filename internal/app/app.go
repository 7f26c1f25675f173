// Package app builds the long-lived harvester services from configuration,
// acting as the dependency injection container for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/assets"
	"github.com/JakeFAU/catalog-harvester/internal/browser"
	"github.com/JakeFAU/catalog-harvester/internal/clock/system"
	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/discovery"
	"github.com/JakeFAU/catalog-harvester/internal/extract"
	collyfetcher "github.com/JakeFAU/catalog-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-harvester/internal/harvest"
	"github.com/JakeFAU/catalog-harvester/internal/hash/sha256"
	"github.com/JakeFAU/catalog-harvester/internal/httpclient"
	"github.com/JakeFAU/catalog-harvester/internal/id/uuid"
	"github.com/JakeFAU/catalog-harvester/internal/normalize"
	"github.com/JakeFAU/catalog-harvester/internal/pipeline"
	"github.com/JakeFAU/catalog-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-harvester/internal/retry"
	fssink "github.com/JakeFAU/catalog-harvester/internal/sink/fs"
	pgsink "github.com/JakeFAU/catalog-harvester/internal/sink/postgres"
	"github.com/JakeFAU/catalog-harvester/internal/storage/gcs"
	"github.com/JakeFAU/catalog-harvester/internal/storage/local"
)

// App holds the shared services of one process.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	client    *httpclient.Client
	fetcher   *collyfetcher.Fetcher
	store     harvest.BlobStore
	sinks     []harvest.RecordSink
	publisher harvest.Publisher

	closers []func() error
}

// New connects every configured backend. It fails fast; anything opened
// before the failure is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	policy := retry.New(cfg.HTTP.MaxRetries, cfg.HTTP.BackoffInitial, cfg.HTTP.BackoffMax)
	a.client = httpclient.New(httpclient.Config{
		UserAgent:         cfg.Catalog.UserAgent,
		Timeout:           cfg.HTTP.Timeout,
		LargeTimeout:      cfg.HTTP.PDFTimeout,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Referer:           cfg.Catalog.BaseURL,
	}, policy, logger.Named("http"))
	a.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Catalog.UserAgent,
		Timeout:   cfg.HTTP.Timeout,
	}, policy, logger)

	if a.store, err = a.openStore(ctx); err != nil {
		return a, err
	}

	recordSink, err := fssink.New(a.store, logger)
	if err != nil {
		return a, fmt.Errorf("init record sink: %w", err)
	}
	a.sinks = append(a.sinks, recordSink)

	if cfg.Sink.PostgresDSN != "" {
		pg, err := pgsink.New(ctx, pgsink.Config{DSN: cfg.Sink.PostgresDSN, Table: cfg.Sink.PostgresTable})
		if err != nil {
			return a, fmt.Errorf("init postgres sink: %w", err)
		}
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		if err := pg.EnsureTable(ctx); err != nil {
			return a, err
		}
		a.sinks = append(a.sinks, pg)
		logger.Info("postgres sink enabled", zap.String("table", cfg.Sink.PostgresTable))
	}

	if cfg.PubSub.Topic != "" {
		pub, err := pubsub.Open(ctx, cfg.PubSub.ProjectID, pipeline.EventName, logger)
		if err != nil {
			return a, fmt.Errorf("init publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		a.publisher = pub
		logger.Info("completion events enabled", zap.String("topic", cfg.PubSub.Topic))
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) (harvest.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.GCSPrefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.logger.Info("writing to gcs", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return store, nil
	case config.BackendLocal, "":
		store, err := local.New(local.Config{BaseDir: a.cfg.Output.Root})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		a.logger.Info("writing to local directory", zap.String("root", store.BaseDir()))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
}

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// CatalogURL is the absolute URL of the catalog root.
func (a *App) CatalogURL() string {
	return strings.TrimRight(a.cfg.Catalog.BaseURL, "/") + a.cfg.Catalog.CatalogPath
}

// Extractor builds the detail extractor.
func (a *App) Extractor() *extract.Extractor {
	return extract.New(a.fetcher, a.logger)
}

// Launcher returns a discovery launcher that starts a fresh browser per call.
func (a *App) Launcher() discovery.Launcher {
	cfg := browser.Config{
		CatalogURL:        a.CatalogURL(),
		CategorySelector:  a.cfg.Discovery.CategorySelector,
		UserAgent:         a.cfg.Catalog.UserAgent,
		NavigationTimeout: a.cfg.Browser.NavigationTimeout,
		WaitTimeout:       a.cfg.Browser.WaitTimeout,
		ExecPath:          a.cfg.Browser.ExecPath,
	}
	return func(ctx context.Context) (discovery.CategoryBrowser, error) {
		session, err := browser.Launch(ctx, cfg, a.logger)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

// Pipeline assembles a harvest run.
func (a *App) Pipeline() (*pipeline.Pipeline, error) {
	normalizer, err := normalize.New(a.logger)
	if err != nil {
		return nil, fmt.Errorf("init normalizer: %w", err)
	}
	discoverer := discovery.New(discovery.Config{
		BaseURL:                a.cfg.Catalog.BaseURL,
		CatalogPath:            a.cfg.Catalog.CatalogPath,
		PageSize:               a.cfg.Discovery.PageSize,
		MaxPages:               a.cfg.Discovery.MaxPages,
		MaxConsecutiveFailures: a.cfg.Discovery.MaxConsecutiveFailures,
	}, a.Launcher(), a.client, a.logger)

	var topic string
	if a.publisher != nil {
		topic = a.cfg.PubSub.Topic
	}
	return pipeline.New(pipeline.Config{
		MaxProducts: a.cfg.Pipeline.MaxProducts,
		Topic:       topic,
	}, pipeline.Deps{
		Discoverer: discoverer,
		Extractor:  a.Extractor(),
		Retriever:  assets.New(a.cfg.Catalog.BaseURL, a.client, a.store, a.logger),
		Normalizer: normalizer,
		Sinks:      a.sinks,
		Publisher:  a.publisher,
		Hasher:     sha256.New(),
		Clock:      system.New(),
		IDs:        uuid.New(),
		Logger:     a.logger,
	})
}

// Close releases every backend in reverse opening order.
func (a *App) Close() {
	if a == nil {
		return
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing services", zap.Error(err))
	}
}
