// Package app initializes and holds the long-lived services of a running
// ScrapQT process, acting as the dependency injection container both
// service binaries share.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MikoAlt/scrapqt/internal/clock/system"
	"github.com/MikoAlt/scrapqt/internal/config"
	"github.com/MikoAlt/scrapqt/internal/credentials"
	"github.com/MikoAlt/scrapqt/internal/hash/sha256"
	"github.com/MikoAlt/scrapqt/internal/id/uuid"
	"github.com/MikoAlt/scrapqt/internal/metrics"
	"github.com/MikoAlt/scrapqt/internal/progress"
	"github.com/MikoAlt/scrapqt/internal/progress/sinks"
	"github.com/MikoAlt/scrapqt/internal/scrape"
	"github.com/MikoAlt/scrapqt/internal/scraper"
	"github.com/MikoAlt/scrapqt/internal/scraper/plugins/catalog"
	"github.com/MikoAlt/scrapqt/internal/scraper/plugins/tokopedia"
	"github.com/MikoAlt/scrapqt/internal/sentiment"
	"github.com/MikoAlt/scrapqt/internal/store"
)

// App holds the shared services for one process. Initialized once at
// startup and handed to the API layer; fails fast if any dependency cannot
// be built.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store    *store.SQLite
	registry *scraper.Registry
	pipeline *scrape.Pipeline
	hub      *progress.Hub
	runner   *sentiment.Runner
	creds    *credentials.Registry
}

// New builds the full service graph from config.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	clk := system.New()
	st, err := store.Open(cfg.DB.Path, clk)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	hasher := sha256.New()
	ids := uuid.NewUUIDGenerator()

	registry := scraper.NewRegistry(cfg.PluginTimeout(), logger)
	plugins := []scraper.Scraper{
		catalog.New(),
		tokopedia.New(tokopedia.Config{
			BaseURL:   cfg.Scraper.MarketplaceBaseURL,
			UserAgent: cfg.Scraper.MarketplaceUserAgent,
			MaxItems:  cfg.Scraper.MarketplaceMaxItems,
			Timeout:   time.Duration(cfg.Scraper.MarketplaceTimeoutSecs) * time.Second,
		}),
	}
	for _, p := range plugins {
		if err := registry.Register(p); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("register plugin: %w", err)
		}
	}

	pipeline := scrape.New(st, registry, hasher, clk, scrape.Config{
		Concurrency: cfg.Scraper.Concurrency,
		FollowLinks: cfg.Scraper.FollowLinks,
	}, logger)

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("register progress metrics: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger},
		sinks.NewLogSink(logger), promSink)

	runner := sentiment.NewRunner(
		st,
		sentiment.NewExponentialRetryPolicy(),
		hub,
		ids,
		clk,
		sentiment.Config{BatchSize: cfg.Sentiment.BatchSize},
		logger,
	)

	creds, err := credentials.NewRegistry(cfg.Runtime.CredentialsPath, hasher, ids, clk)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open credential registry: %w", err)
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		registry: registry,
		pipeline: pipeline,
		hub:      hub,
		runner:   runner,
		creds:    creds,
	}, nil
}

// Store exposes the data store.
func (a *App) Store() *store.SQLite { return a.store }

// Pipeline exposes the scrape pipeline.
func (a *App) Pipeline() *scrape.Pipeline { return a.pipeline }

// Runner exposes the sentiment runner.
func (a *App) Runner() *sentiment.Runner { return a.runner }

// Credentials exposes the credential registry.
func (a *App) Credentials() *credentials.Registry { return a.creds }

// Logger exposes the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Analysis returns the credential-resolving job facade served over HTTP.
func (a *App) Analysis() *AnalysisService {
	return &AnalysisService{
		runner: a.runner,
		creds:  a.creds,
		cfg:    a.cfg,
	}
}

// Close gracefully shuts down the service graph.
func (a *App) Close(ctx context.Context) {
	if err := a.runner.Wait(ctx); err != nil {
		a.logger.Warn("analysis job still running at shutdown", zap.Error(err))
	}
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("progress hub close failed", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", zap.Error(err))
	}
}

// AnalysisService resolves a credential reference into a scorer and drives
// the sentiment runner with it.
type AnalysisService struct {
	runner *sentiment.Runner
	creds  *credentials.Registry
	cfg    config.Config
}

// Start resolves the credential, builds the provider scorer, and starts a
// job. batchSize <= 0 falls back to the configured default.
func (s *AnalysisService) Start(ctx context.Context, credentialRef string, batchSize int) (string, error) {
	apiKey, err := s.creds.Resolve(credentialRef)
	if err != nil {
		return "", err
	}
	provider, err := sentiment.NewProvider(sentiment.ProviderConfig{
		BaseURL: s.cfg.Provider.BaseURL,
		APIKey:  apiKey,
		Timeout: s.cfg.ProviderTimeout(),
		RPS:     s.cfg.Provider.RPS,
		Burst:   s.cfg.Provider.Burst,
	})
	if err != nil {
		return "", err
	}
	return s.runner.Start(ctx, provider, batchSize)
}

// Progress proxies to the runner.
func (s *AnalysisService) Progress(jobID string) (sentiment.Snapshot, error) {
	return s.runner.Progress(jobID)
}

// Cancel proxies to the runner.
func (s *AnalysisService) Cancel(jobID string) error {
	return s.runner.Cancel(jobID)
}
