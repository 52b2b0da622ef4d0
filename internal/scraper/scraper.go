// Package scraper defines the capability contract scraper plugins satisfy
// and the registry that validates, tracks, and dispatches them.
package scraper

import (
	"context"
	"errors"
)

// ErrInvalidPlugin indicates a candidate failed contract validation and was
// not registered.
var ErrInvalidPlugin = errors.New("scraper: invalid plugin")

// RawListing is a single unnormalized result produced by a plugin. Pointer
// fields are optional; the pipeline drops listings without a URL.
type RawListing struct {
	Title       string
	Price       *float64
	ReviewScore *float64
	ReviewCount *int64
	URL         string
	ImageURL    string
	Description string
	IsUsed      bool
}

// Scraper is the capability contract every plugin must satisfy. Plugins are
// third-party code of unknown quality; the registry assumes any call may
// fail, hang, or panic.
type Scraper interface {
	// Name identifies the plugin; unique within a registry.
	Name() string
	// Available reports whether the plugin can currently serve searches.
	// A non-nil error carries the reason and excludes the plugin from
	// dispatch.
	Available(ctx context.Context) error
	// Search returns listings for the query. Implementations must honor
	// ctx cancellation.
	Search(ctx context.Context, query string) ([]RawListing, error)
}

// ExecutionError captures an isolated per-plugin failure. One plugin's
// failure never aborts the other plugins in a job.
type ExecutionError struct {
	Plugin  string
	Message string
}

func (e *ExecutionError) Error() string {
	return "scraper plugin " + e.Plugin + ": " + e.Message
}

// Exclusion records why a registered plugin was left out of a dispatch set.
type Exclusion struct {
	Name   string
	Reason string
}
