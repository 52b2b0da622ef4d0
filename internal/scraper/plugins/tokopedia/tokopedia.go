// Package tokopedia implements a marketplace scraper using the Colly
// collector. Selectors target the mobile search page, which ships listing
// cards in plain HTML.
package tokopedia

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/MikoAlt/scrapqt/internal/scraper"
)

// Config controls collector behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	MaxItems  int
}

// Scraper implements scraper.Scraper against the Tokopedia search page.
type Scraper struct {
	cfg           Config
	baseCollector *colly.Collector
	client        *http.Client
}

// New builds a Scraper. Zero config fields get conservative defaults.
func New(cfg Config) *Scraper {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.tokopedia.com"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "scrapqt/1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 40
	}
	c := colly.NewCollector(colly.Async(false))
	c.UserAgent = cfg.UserAgent
	c.SetRequestTimeout(cfg.Timeout)
	return &Scraper{
		cfg:           cfg,
		baseCollector: c,
		client:        &http.Client{Timeout: cfg.Timeout},
	}
}

// Name implements scraper.Scraper.
func (s *Scraper) Name() string { return "tokopedia" }

// Available implements scraper.Scraper with a cheap reachability probe.
func (s *Scraper) Available(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.cfg.BaseURL, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", s.cfg.BaseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("probe %s: status %d", s.cfg.BaseURL, resp.StatusCode)
	}
	return nil
}

// Search implements scraper.Scraper. Each call clones the base collector so
// concurrent searches never share callback state.
func (s *Scraper) Search(ctx context.Context, query string) ([]scraper.RawListing, error) {
	var (
		listings []scraper.RawListing
		visitErr error
	)
	collector := s.baseCollector.Clone()
	collector.UserAgent = s.cfg.UserAgent
	collector.SetRequestTimeout(s.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		// Abort promptly on job cancellation; colly has no native ctx plumbing.
		if err := ctx.Err(); err != nil {
			r.Abort()
			visitErr = err
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		visitErr = err
	})
	collector.OnHTML(`div[data-testid="divProductWrapper"]`, func(e *colly.HTMLElement) {
		if len(listings) >= s.cfg.MaxItems {
			return
		}
		l := scraper.RawListing{
			Title:    strings.TrimSpace(e.ChildText(`span[data-testid="spnSRPProdName"]`)),
			URL:      e.Request.AbsoluteURL(e.ChildAttr("a", "href")),
			ImageURL: e.ChildAttr("img", "src"),
		}
		if price, ok := parsePrice(e.ChildText(`span[data-testid="spnSRPProdPrice"]`)); ok {
			l.Price = &price
		}
		if score, ok := parseFloat(e.ChildText(`span[data-testid="spnSRPProdRating"]`)); ok {
			l.ReviewScore = &score
		}
		if count, ok := parseReviewCount(e.ChildText(`span[data-testid="spnSRPProdSold"]`)); ok {
			l.ReviewCount = &count
		}
		listings = append(listings, l)
	})

	searchURL := fmt.Sprintf("%s/search?st=product&q=%s", s.cfg.BaseURL, url.QueryEscape(query))
	if err := collector.Visit(searchURL); err != nil {
		return nil, fmt.Errorf("visit search page: %w", err)
	}
	collector.Wait()

	if visitErr != nil && len(listings) == 0 {
		return nil, fmt.Errorf("search %q: %w", query, visitErr)
	}
	return listings, nil
}

// parsePrice handles "Rp1.250.000" style values.
func parsePrice(text string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, text)
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseFloat(text string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseReviewCount handles "500+ terjual" style counters.
func parseReviewCount(text string) (int64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, text)
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
