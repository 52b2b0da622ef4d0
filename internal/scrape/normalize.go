package scrape

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/MikoAlt/scrapqt/internal/scraper"
	"github.com/MikoAlt/scrapqt/internal/store"
)

// errNoURL marks a listing that cannot be canonicalized; the pipeline drops
// it and counts a normalization error rather than failing the job.
var errNoURL = errors.New("listing has no usable url")

// URLHasher computes the dedup hash for a canonical URL.
type URLHasher interface {
	HashURL(url string) string
}

// normalize converts a raw listing into an upsert candidate. The canonical
// URL form (lowercased scheme/host, no fragment, no tracking params) feeds
// the url_hash so the same product reached through different links
// deduplicates.
func normalize(l scraper.RawListing, plugin string, now time.Time, hasher URLHasher) (store.Candidate, error) {
	canonical, err := canonicalURL(l.URL)
	if err != nil {
		return store.Candidate{}, err
	}
	title := strings.TrimSpace(l.Title)
	if title == "" {
		title = "Unknown Product"
	}
	c := store.Candidate{
		Title:       title,
		Price:       l.Price,
		URL:         canonical,
		URLHash:     hasher.HashURL(canonical),
		Marketplace: plugin,
		IsUsed:      l.IsUsed,
		Description: strings.TrimSpace(l.Description),
		ImageURL:    strings.TrimSpace(l.ImageURL),
		ScrapedAt:   now,
	}
	if l.ReviewScore != nil {
		c.ReviewScore = clampFloat(*l.ReviewScore, 0, 5)
	}
	if l.ReviewCount != nil && *l.ReviewCount >= 0 {
		count := *l.ReviewCount
		c.ReviewCount = &count
	}
	return c, nil
}

func canonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errNoURL
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", errNoURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errNoURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String(), nil
}

func clampFloat(v, lo, hi float64) *float64 {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return &v
}
