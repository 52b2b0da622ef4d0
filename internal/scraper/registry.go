package scraper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultDispatchTimeout = 30 * time.Second

// Registry validates and holds the registered scrapers in registration
// order, and dispatches queries to them with per-plugin fault isolation.
type Registry struct {
	scrapers        []Scraper
	byName          map[string]struct{}
	dispatchTimeout time.Duration
	logger          *zap.Logger
}

// NewRegistry creates an empty Registry. A zero dispatchTimeout falls back
// to 30s; a hung third-party plugin must not stall a whole job.
func NewRegistry(dispatchTimeout time.Duration, logger *zap.Logger) *Registry {
	if dispatchTimeout <= 0 {
		dispatchTimeout = defaultDispatchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byName:          make(map[string]struct{}),
		dispatchTimeout: dispatchTimeout,
		logger:          logger,
	}
}

// Register validates the scraper and adds it. Validation failures return an
// ErrInvalidPlugin-wrapped error and leave the registry unchanged.
func (r *Registry) Register(s Scraper) error {
	if s == nil {
		return fmt.Errorf("%w: nil scraper", ErrInvalidPlugin)
	}
	name := safeName(s)
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidPlugin)
	}
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("%w: duplicate name %q", ErrInvalidPlugin, name)
	}
	r.byName[name] = struct{}{}
	r.scrapers = append(r.scrapers, s)
	r.logger.Info("scraper plugin registered", zap.String("plugin", name))
	return nil
}

// Names returns the registered plugin names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.scrapers))
	for _, s := range r.scrapers {
		names = append(names, s.Name())
	}
	return names
}

// Active partitions the registered scrapers into those whose availability
// check passes and diagnostics for those it excludes. Exclusion is never
// silent.
func (r *Registry) Active(ctx context.Context) ([]Scraper, []Exclusion) {
	var (
		active   []Scraper
		excluded []Exclusion
	)
	for _, s := range r.scrapers {
		if err := r.checkAvailable(ctx, s); err != nil {
			excluded = append(excluded, Exclusion{Name: s.Name(), Reason: err.Error()})
			r.logger.Warn("scraper plugin excluded",
				zap.String("plugin", s.Name()),
				zap.String("reason", err.Error()),
			)
			continue
		}
		active = append(active, s)
	}
	return active, excluded
}

type searchResult struct {
	listings []RawListing
	err      error
}

// Dispatch runs one plugin's search under the registry timeout, converting
// panics, errors, and timeouts into an *ExecutionError so the caller's job
// continues with the remaining plugins. The timeout is hard: the search
// runs in its own goroutine, and when the deadline wins the goroutine is
// abandoned and its eventual result discarded, so a plugin that ignores
// ctx still cannot stall the job.
func (r *Registry) Dispatch(ctx context.Context, s Scraper, query string) ([]RawListing, *ExecutionError) {
	ctx, cancel := context.WithTimeout(ctx, r.dispatchTimeout)
	defer cancel()

	resultCh := make(chan searchResult, 1)
	go func() {
		listings, err := r.search(ctx, s, query)
		resultCh <- searchResult{listings: listings, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			if ctx.Err() != nil {
				return nil, &ExecutionError{Plugin: s.Name(), Message: "timeout"}
			}
			return nil, &ExecutionError{Plugin: s.Name(), Message: res.err.Error()}
		}
		return res.listings, nil
	case <-ctx.Done():
		r.logger.Warn("scraper plugin abandoned after timeout",
			zap.String("plugin", s.Name()),
			zap.Duration("timeout", r.dispatchTimeout),
		)
		return nil, &ExecutionError{Plugin: s.Name(), Message: "timeout"}
	}
}

func (r *Registry) checkAvailable(ctx context.Context, s Scraper) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("availability check panicked: %v", rec)
		}
	}()
	return s.Available(ctx)
}

func (r *Registry) search(ctx context.Context, s Scraper, query string) (listings []RawListing, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("scraper plugin panicked",
				zap.String("plugin", s.Name()),
				zap.Any("panic", rec),
			)
			listings = nil
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return s.Search(ctx, query)
}

func safeName(s Scraper) (name string) {
	defer func() {
		if recover() != nil {
			name = ""
		}
	}()
	return s.Name()
}
