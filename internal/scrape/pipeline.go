// Package scrape implements the scrape job: fan out a query across the
// registered scraper plugins, normalize and deduplicate the listings, and
// write them through the data store.
package scrape

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MikoAlt/scrapqt/internal/metrics"
	"github.com/MikoAlt/scrapqt/internal/scraper"
	"github.com/MikoAlt/scrapqt/internal/store"
)

// Config controls pipeline behavior.
type Config struct {
	// Concurrency bounds how many plugins run at once. <=0 means 1.
	Concurrency int
	// FollowLinks also scrapes queries linked through query_links, one
	// level deep.
	FollowLinks bool
}

// PluginError is one plugin's failure inside an otherwise successful job.
type PluginError struct {
	Plugin  string `json:"plugin"`
	Message string `json:"message"`
}

// Result aggregates one scrape job.
type Result struct {
	Query      string              `json:"query"`
	Added      int                 `json:"added"`
	Updated    int                 `json:"updated"`
	Dropped    int                 `json:"dropped"`
	Errors     []PluginError       `json:"errors"`
	Exclusions []scraper.Exclusion `json:"-"`
	Elapsed    time.Duration       `json:"-"`
}

// Pipeline executes scrape jobs against the store.
type Pipeline struct {
	store    store.Store
	registry *scraper.Registry
	hasher   URLHasher
	clock    store.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Pipeline.
func New(
	st store.Store,
	registry *scraper.Registry,
	hasher URLHasher,
	clock store.Clock,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:    st,
		registry: registry,
		hasher:   hasher,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run executes the scrape job for queryText. Partial plugin failures land in
// Result.Errors; only store-level failures and an unresolvable query are
// returned as errors.
func (p *Pipeline) Run(ctx context.Context, queryText string) (Result, error) {
	start := p.clock.Now()
	result := Result{Query: store.NormalizeQuery(queryText)}

	queryID, err := p.store.GetOrCreateQuery(ctx, queryText)
	if err != nil {
		return Result{}, fmt.Errorf("resolve query: %w", err)
	}

	active, excluded := p.registry.Active(ctx)
	result.Exclusions = excluded

	if err := p.runOne(ctx, queryID, queryText, active, &result); err != nil {
		return Result{}, err
	}

	if p.cfg.FollowLinks {
		if err := p.scrapeLinked(ctx, queryID, active, &result); err != nil {
			return Result{}, err
		}
	}

	result.Elapsed = p.clock.Now().Sub(start)
	metrics.ObserveScrapeJob(result.Added, result.Updated, len(result.Errors), result.Elapsed)
	p.logger.Info("scrape job finished",
		zap.String("query", result.Query),
		zap.Int("added", result.Added),
		zap.Int("updated", result.Updated),
		zap.Int("dropped", result.Dropped),
		zap.Int("plugin_errors", len(result.Errors)),
		zap.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

// runOne dispatches all active plugins for one query with bounded
// concurrency and persists their listings. The aggregate only returns after
// every dispatched plugin finished or timed out.
func (p *Pipeline) runOne(
	ctx context.Context,
	queryID int64,
	queryText string,
	active []scraper.Scraper,
	result *Result,
) error {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		storeErr error
	)
	sem := make(chan struct{}, p.cfg.Concurrency)

	for _, s := range active {
		wg.Add(1)
		go func(s scraper.Scraper) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			listings, execErr := p.registry.Dispatch(ctx, s, queryText)
			mu.Lock()
			defer mu.Unlock()
			if execErr != nil {
				result.Errors = append(result.Errors, PluginError{
					Plugin:  execErr.Plugin,
					Message: execErr.Message,
				})
				return
			}
			if err := p.persist(ctx, s.Name(), queryID, listings, result); err != nil && storeErr == nil {
				storeErr = err
			}
		}(s)
	}
	wg.Wait()
	return storeErr
}

// persist normalizes and upserts one plugin's listings. Called with the
// result mutex held; SQLite serializes writers anyway, so store calls are
// effectively sequential.
func (p *Pipeline) persist(
	ctx context.Context,
	plugin string,
	queryID int64,
	listings []scraper.RawListing,
	result *Result,
) error {
	now := p.clock.Now()
	for _, l := range listings {
		candidate, err := normalize(l, plugin, now, p.hasher)
		if err != nil {
			result.Dropped++
			p.logger.Debug("listing dropped",
				zap.String("plugin", plugin),
				zap.String("title", l.Title),
				zap.Error(err),
			)
			continue
		}
		id, wasNew, err := p.store.UpsertProduct(ctx, candidate)
		if err != nil {
			return fmt.Errorf("upsert product: %w", err)
		}
		if err := p.store.LinkProductToQuery(ctx, id, queryID); err != nil {
			return fmt.Errorf("link product: %w", err)
		}
		if wasNew {
			result.Added++
		} else {
			result.Updated++
		}
	}
	return nil
}

// scrapeLinked runs the already-active plugin set over queries linked to the
// primary. One level only: the original recursed through links, which loops
// forever on cyclic link graphs.
func (p *Pipeline) scrapeLinked(
	ctx context.Context,
	primaryID int64,
	active []scraper.Scraper,
	result *Result,
) error {
	links, err := p.store.LinkedQueries(ctx, primaryID)
	if err != nil {
		return fmt.Errorf("load linked queries: %w", err)
	}
	for _, link := range links {
		text, err := p.store.QueryText(ctx, link.LinkedID)
		if err != nil {
			return fmt.Errorf("resolve linked query: %w", err)
		}
		p.logger.Info("scraping linked query",
			zap.String("query", text),
			zap.String("relationship", link.RelationshipType),
		)
		if err := p.runOne(ctx, link.LinkedID, text, active, result); err != nil {
			return err
		}
	}
	return nil
}
