// Package api exposes the HTTP interfaces of the scraper and sentiment
// services.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/MikoAlt/scrapqt/internal/metrics"
	"github.com/MikoAlt/scrapqt/internal/scrape"
	"github.com/MikoAlt/scrapqt/internal/store"
)

// ScrapeRunner runs one scrape job to completion.
type ScrapeRunner interface {
	Run(ctx context.Context, queryText string) (scrape.Result, error)
}

// ProductCatalog is the slice of the data store the scraper API serves.
type ProductCatalog interface {
	ListProductsByQuery(ctx context.Context, queryText string) ([]store.Product, error)
	LinkQueries(ctx context.Context, primaryID, linkedID int64, relationshipType string) error
	Stats(ctx context.Context) (store.Stats, error)
	ClearAll(ctx context.Context) error
}

// ScraperServer wires HTTP handlers to the scrape pipeline and the store.
type ScraperServer struct {
	router   chi.Router
	pipeline ScrapeRunner
	products ProductCatalog
	logger   *zap.Logger
}

// NewScraperServer constructs a ScraperServer with middleware and routes.
func NewScraperServer(pipeline ScrapeRunner, products ProductCatalog, logger *zap.Logger) *ScraperServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ScraperServer{
		pipeline: pipeline,
		products: products,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(120 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/scrape", s.scrape)
		r.Get("/products", s.listProducts)
		r.Get("/stats", s.stats)
		r.Delete("/products", s.clearProducts)
		r.Post("/queries/link", s.linkQueries)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *ScraperServer) Handler() http.Handler {
	return s.router
}

func (s *ScraperServer) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type scrapeRequest struct {
	Query string `json:"query"`
}

type scrapeResponse struct {
	Query     string               `json:"query"`
	Added     int                  `json:"added"`
	Updated   int                  `json:"updated"`
	Dropped   int                  `json:"dropped"`
	Errors    []scrape.PluginError `json:"errors"`
	ElapsedMS int64                `json:"elapsed_ms"`
}

func (s *ScraperServer) scrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	result, err := s.pipeline.Run(r.Context(), req.Query)
	if err != nil {
		s.logger.Error("scrape run failed", zap.String("query", req.Query), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	errs := result.Errors
	if errs == nil {
		errs = []scrape.PluginError{}
	}
	writeJSON(w, http.StatusOK, scrapeResponse{
		Query:     result.Query,
		Added:     result.Added,
		Updated:   result.Updated,
		Dropped:   result.Dropped,
		Errors:    errs,
		ElapsedMS: result.Elapsed.Milliseconds(),
	})
}

type productPayload struct {
	ID             int64    `json:"id"`
	Title          string   `json:"title"`
	Price          *float64 `json:"price"`
	ReviewScore    *float64 `json:"review_score"`
	ReviewCount    *int64   `json:"review_count"`
	URL            string   `json:"url"`
	Marketplace    string   `json:"marketplace"`
	IsUsed         bool     `json:"is_used"`
	SentimentScore *float64 `json:"sentiment_score"`
	ScrapedAt      string   `json:"scraped_at"`
}

func (s *ScraperServer) listProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter is required")
		return
	}
	products, err := s.products.ListProductsByQuery(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload := make([]productPayload, 0, len(products))
	for _, p := range products {
		payload = append(payload, productPayload{
			ID:             p.ID,
			Title:          p.Title,
			Price:          p.Price,
			ReviewScore:    p.ReviewScore,
			ReviewCount:    p.ReviewCount,
			URL:            p.URL,
			Marketplace:    p.Marketplace,
			IsUsed:         p.IsUsed,
			SentimentScore: p.SentimentScore,
			ScrapedAt:      p.ScrapedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "products": payload})
}

func (s *ScraperServer) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.products.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"total_products": stats.TotalProducts,
		"scored_count":   stats.ScoredCount,
		"unique_urls":    stats.UniqueURLs,
		"query_count":    stats.QueryCount,
	})
}

func (s *ScraperServer) clearProducts(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		writeError(w, http.StatusBadRequest, "destructive operation requires confirm=true")
		return
	}
	if err := s.products.ClearAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Warn("all scraped data cleared")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type linkQueriesRequest struct {
	PrimaryID        int64  `json:"primary_id"`
	LinkedID         int64  `json:"linked_id"`
	RelationshipType string `json:"relationship_type"`
}

func (s *ScraperServer) linkQueries(w http.ResponseWriter, r *http.Request) {
	var req linkQueriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.PrimaryID == 0 || req.LinkedID == 0 {
		writeError(w, http.StatusBadRequest, "primary_id and linked_id are required")
		return
	}
	err := s.products.LinkQueries(r.Context(), req.PrimaryID, req.LinkedID, req.RelationshipType)
	if err != nil {
		if errors.Is(err, store.ErrConstraintViolation) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}
