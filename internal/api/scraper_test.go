package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MikoAlt/scrapqt/internal/scrape"
	"github.com/MikoAlt/scrapqt/internal/store"
)

type fakeScrapeRunner struct {
	result  scrape.Result
	err     error
	gotText string
}

func (f *fakeScrapeRunner) Run(_ context.Context, queryText string) (scrape.Result, error) {
	f.gotText = queryText
	if f.err != nil {
		return scrape.Result{}, f.err
	}
	return f.result, nil
}

type fakeCatalog struct {
	products []store.Product
	stats    store.Stats
	listErr  error
	linkErr  error
	linked   []store.QueryLink
	cleared  bool
}

func (f *fakeCatalog) ListProductsByQuery(_ context.Context, _ string) ([]store.Product, error) {
	return f.products, f.listErr
}

func (f *fakeCatalog) LinkQueries(_ context.Context, primaryID, linkedID int64, rel string) error {
	if f.linkErr != nil {
		return f.linkErr
	}
	f.linked = append(f.linked, store.QueryLink{
		PrimaryID: primaryID, LinkedID: linkedID, RelationshipType: rel,
	})
	return nil
}

func (f *fakeCatalog) Stats(_ context.Context) (store.Stats, error) {
	return f.stats, nil
}

func (f *fakeCatalog) ClearAll(_ context.Context) error {
	f.cleared = true
	return nil
}

func newScraperTestServer(runner ScrapeRunner, catalog ProductCatalog) *httptest.Server {
	s := NewScraperServer(runner, catalog, zap.NewNop())
	return httptest.NewServer(s.Handler())
}

func TestScrapeEndpoint(t *testing.T) {
	runner := &fakeScrapeRunner{
		result: scrape.Result{
			Query:   "gaming laptop",
			Added:   2,
			Updated: 1,
			Dropped: 1,
			Errors:  []scrape.PluginError{{Plugin: "tokopedia", Message: "timeout"}},
			Elapsed: 1500 * time.Millisecond,
		},
	}
	srv := newScraperTestServer(runner, &fakeCatalog{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/scrape", "application/json",
		strings.NewReader(`{"query":"gaming laptop"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body scrapeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "gaming laptop", body.Query)
	require.Equal(t, 2, body.Added)
	require.Equal(t, 1, body.Updated)
	require.Equal(t, 1, body.Dropped)
	require.Len(t, body.Errors, 1)
	require.Equal(t, "tokopedia", body.Errors[0].Plugin)
	require.Equal(t, int64(1500), body.ElapsedMS)
	require.Equal(t, "gaming laptop", runner.gotText)
}

func TestScrapeEndpointValidation(t *testing.T) {
	srv := newScraperTestServer(&fakeScrapeRunner{}, &fakeCatalog{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/scrape", "application/json",
		strings.NewReader(`not json`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/v1/scrape", "application/json",
		strings.NewReader(`{"query":""}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScrapeEndpointPipelineError(t *testing.T) {
	srv := newScraperTestServer(&fakeScrapeRunner{err: errors.New("store unavailable")}, &fakeCatalog{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/scrape", "application/json",
		strings.NewReader(`{"query":"laptop"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestListProductsEndpoint(t *testing.T) {
	price := 999.0
	score := 0.42
	catalog := &fakeCatalog{
		products: []store.Product{{
			ID:             7,
			Title:          "Gaming Laptop",
			Price:          &price,
			URL:            "https://shop.test/laptop",
			Marketplace:    "tokopedia",
			SentimentScore: &score,
			ScrapedAt:      time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		}},
	}
	srv := newScraperTestServer(&fakeScrapeRunner{}, catalog)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/products?query=laptop")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Query    string           `json:"query"`
		Products []productPayload `json:"products"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "laptop", body.Query)
	require.Len(t, body.Products, 1)
	require.Equal(t, "Gaming Laptop", body.Products[0].Title)
	require.NotNil(t, body.Products[0].SentimentScore)
	require.InDelta(t, 0.42, *body.Products[0].SentimentScore, 1e-9)
	require.Equal(t, "2025-06-01T10:00:00Z", body.Products[0].ScrapedAt)
}

func TestListProductsRequiresQuery(t *testing.T) {
	srv := newScraperTestServer(&fakeScrapeRunner{}, &fakeCatalog{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/products")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	catalog := &fakeCatalog{stats: store.Stats{
		TotalProducts: 10, ScoredCount: 4, UniqueURLs: 10, QueryCount: 3,
	}}
	srv := newScraperTestServer(&fakeScrapeRunner{}, catalog)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, int64(10), body["total_products"])
	require.Equal(t, int64(4), body["scored_count"])
	require.Equal(t, int64(3), body["query_count"])
}

func TestLinkQueriesEndpoint(t *testing.T) {
	catalog := &fakeCatalog{}
	srv := newScraperTestServer(&fakeScrapeRunner{}, catalog)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/queries/link", "application/json",
		strings.NewReader(`{"primary_id":1,"linked_id":2,"relationship_type":"related"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, catalog.linked, 1)
	require.Equal(t, int64(1), catalog.linked[0].PrimaryID)

	// Self-links surface the constraint as unprocessable.
	catalog.linkErr = store.ErrConstraintViolation
	resp, err = http.Post(srv.URL+"/v1/queries/link", "application/json",
		strings.NewReader(`{"primary_id":1,"linked_id":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestScraperHealthz(t *testing.T) {
	srv := newScraperTestServer(&fakeScrapeRunner{}, &fakeCatalog{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestClearProductsRequiresConfirmation(t *testing.T) {
	catalog := &fakeCatalog{}
	srv := newScraperTestServer(&fakeScrapeRunner{}, catalog)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/products", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.False(t, catalog.cleared)

	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/v1/products?confirm=true", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, catalog.cleared)
}
