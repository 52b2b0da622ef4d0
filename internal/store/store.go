// Package store implements the embedded relational data store for products,
// queries, and their associations. It is the only component that touches the
// database; pipelines observe and mutate rows exclusively through this API.
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced by the store. Callers branch on these rather than
// on driver error text.
var (
	// ErrNotFound indicates the referenced row no longer exists.
	ErrNotFound = errors.New("store: not found")
	// ErrConstraintViolation indicates a uniqueness or foreign-key invariant
	// was breached. The caller decides whether to retry as an update.
	ErrConstraintViolation = errors.New("store: constraint violation")
)

// Product is a persisted listing row. Pointer fields are nullable columns;
// a nil SentimentScore is the "unscored" state, distinct from a real 0.0.
type Product struct {
	ID             int64
	Title          string
	Price          *float64
	ReviewScore    *float64
	ReviewCount    *int64
	URL            string
	URLHash        string
	Marketplace    string
	IsUsed         bool
	ScrapedAt      time.Time
	SentimentScore *float64
	Description    string
	ImageURL       string
}

// Candidate is a normalized listing ready for upsert. Candidates never carry
// a sentiment score; new rows always start unscored.
type Candidate struct {
	Title       string
	Price       *float64
	ReviewScore *float64
	ReviewCount *int64
	URL         string
	URLHash     string
	Marketplace string
	IsUsed      bool
	Description string
	ImageURL    string
	ScrapedAt   time.Time
}

// Query is a saved search string, unique by normalized text.
type Query struct {
	ID        int64
	Text      string
	CreatedAt time.Time
}

// QueryLink is a directed edge between two queries.
type QueryLink struct {
	PrimaryID        int64
	LinkedID         int64
	RelationshipType string
}

// Stats summarizes the products table for diagnostics.
type Stats struct {
	TotalProducts int64
	ScoredCount   int64
	UniqueURLs    int64
	QueryCount    int64
}

// Clock abstracts time.Now so tests can pin timestamps.
type Clock interface {
	Now() time.Time
}

// Store is the transactional persistence contract shared by both pipelines.
type Store interface {
	// UpsertProduct inserts the candidate or, when a row with the same
	// url_hash exists, updates its mutable fields (price, review stats,
	// description, image, scraped_at) leaving sentiment_score untouched.
	UpsertProduct(ctx context.Context, c Candidate) (id int64, wasNew bool, err error)

	// LinkProductToQuery records the association; idempotent.
	LinkProductToQuery(ctx context.Context, productID, queryID int64) error

	// GetOrCreateQuery resolves the query row for the normalized text,
	// creating it on first use.
	GetOrCreateQuery(ctx context.Context, text string) (int64, error)

	// FetchUnscored returns up to limit products with no sentiment score and
	// id > afterID, ordered by id. Keyset pagination keeps a job's cursor
	// stable under concurrent inserts.
	FetchUnscored(ctx context.Context, afterID int64, limit int) ([]Product, error)

	// CountUnscored reports how many products still lack a score.
	CountUnscored(ctx context.Context) (int64, error)

	// ApplySentimentScore sets the score on one row. Returns ErrNotFound if
	// the row vanished.
	ApplySentimentScore(ctx context.Context, productID int64, score float64) error

	// ListProductsByQuery returns products linked to the query text, newest
	// first.
	ListProductsByQuery(ctx context.Context, queryText string) ([]Product, error)

	// LinkQueries records a directed relationship between two queries.
	LinkQueries(ctx context.Context, primaryID, linkedID int64, relationshipType string) error

	// LinkedQueries returns the outgoing links of a query.
	LinkedQueries(ctx context.Context, primaryID int64) ([]QueryLink, error)

	// QueryText resolves a query id back to its text.
	QueryText(ctx context.Context, queryID int64) (string, error)

	// Stats returns table-level counts.
	Stats(ctx context.Context) (Stats, error)

	// ClearAll truncates all four tables in one transaction.
	ClearAll(ctx context.Context) error

	Close() error
}
