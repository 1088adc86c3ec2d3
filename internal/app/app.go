// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	pubsubclient "cloud.google.com/go/pubsub/v2"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/policy-search-crawler/internal/config"
	"github.com/JakeFAU/policy-search-crawler/internal/crawler"
	"github.com/JakeFAU/policy-search-crawler/internal/detector"
	collyfetcher "github.com/JakeFAU/policy-search-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/policy-search-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/policy-search-crawler/internal/id/uuid"
	"github.com/JakeFAU/policy-search-crawler/internal/metrics"
	"github.com/JakeFAU/policy-search-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/policy-search-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/policy-search-crawler/internal/search"
	"github.com/JakeFAU/policy-search-crawler/internal/storage/gcs"
	"github.com/JakeFAU/policy-search-crawler/internal/storage/local"
	"github.com/JakeFAU/policy-search-crawler/internal/storage/postgres"
)

// Components are the collaborators an App hands to the orchestrator.
type Components struct {
	Store     crawler.Store
	Searcher  crawler.Searcher
	Pacer     crawler.Pacer
	Publisher crawler.Publisher
	IDs       crawler.IDGenerator
}

// App holds the shared services for one CLI invocation.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	parts   Components
	closers []func() error
}

// New builds every service named by cfg. Nothing reaches the network or
// launches a browser until first use, except the Postgres pool, which
// connects and migrates eagerly so a bad DSN fails fast.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	a.logger.Debug("initializing application services",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("search", cfg.Search.Backend),
	)

	store, err := a.buildStore(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	searcher, err := a.buildSearcher()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init search: %w", err)
	}
	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init pubsub: %w", err)
	}

	a.parts = Components{
		Store:     store,
		Searcher:  searcher,
		Pacer:     ratelimit.New(cfg.Pacing),
		Publisher: publisher,
		IDs:       uuid.New(),
	}
	return a, nil
}

// Assemble wraps ready-made components, mainly for tests and embedding.
func Assemble(cfg config.Config, logger *zap.Logger, parts Components) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	if parts.IDs == nil {
		parts.IDs = uuid.New()
	}
	return &App{cfg: cfg, logger: logger, parts: parts}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the configured state store.
func (a *App) Store() crawler.Store {
	return a.parts.Store
}

// Engine builds an orchestrator for one pass with a fresh run ID.
func (a *App) Engine() (*crawler.Engine, error) {
	if a.parts.Searcher == nil {
		return nil, errors.New("no searcher configured")
	}
	runID, err := a.parts.IDs.NewID()
	if err != nil {
		return nil, err
	}
	return crawler.NewEngine(
		crawler.EngineConfig{RunID: runID, Topic: a.cfg.PubSub.TopicName},
		a.parts.Store,
		a.parts.Searcher,
		a.parts.Pacer,
		a.parts.Publisher,
		nil,
		a.logger.Named("crawler"),
	), nil
}

// Close shuts services down in reverse creation order and exports metrics
// when a textfile path is configured. It is safe to call more than once.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil

	if path := a.cfg.Metrics.TextfilePath; path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			a.logger.Warn("write metrics textfile failed", zap.String("path", path), zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func (a *App) buildStore(ctx context.Context) (crawler.Store, error) {
	logger := a.logger.Named("storage")
	switch a.cfg.Storage.Backend {
	case config.BackendLocal:
		return local.New(a.cfg.Storage.Local, logger)
	case config.BackendGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return gcs.New(client, a.cfg.Storage.GCS, logger)
	case config.BackendPostgres:
		store, err := postgres.NewStore(ctx, a.cfg.Storage.Postgres, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
}

func (a *App) buildSearcher() (crawler.Searcher, error) {
	var fetcher crawler.Fetcher
	switch a.cfg.Search.Backend {
	case config.SearchHeadless:
		f, err := headless.NewChromedp(a.cfg.Headless, a.logger.Named("headless"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, f.Close)
		fetcher = f
	case config.SearchHTTP:
		fetcher = collyfetcher.New(a.cfg.HTTP)
	default:
		return nil, fmt.Errorf("unknown search backend %q", a.cfg.Search.Backend)
	}

	headers := http.Header{}
	if lang := a.cfg.Search.AcceptLanguage; lang != "" {
		headers.Set("Accept-Language", lang)
	}
	return search.NewClient(
		search.Config{BaseURL: a.cfg.Search.BaseURL, Phrase: a.cfg.Search.Phrase, Headers: headers},
		fetcher,
		detector.NewHeuristic(a.cfg.Detector),
		a.logger.Named("search"),
	)
}

func (a *App) buildPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" {
		return nil, nil
	}
	client, err := pubsubclient.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	pub := pubsub.New(client)
	a.closers = append(a.closers, pub.Close)
	a.logger.Info("publishing pass summaries", zap.String("topic", a.cfg.PubSub.TopicName))
	return pub, nil
}
