// Package catalog implements a network-free scraper backed by a fixed
// product catalog. It exists so the full pipeline can run in development and
// tests without hitting any marketplace.
package catalog

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/MikoAlt/scrapqt/internal/scraper"
)

type template struct {
	brand string
	model string
	specs string
}

// Catalog templates per category keyword. Listings are derived
// deterministically from (category, model) so repeated scrapes of the same
// query produce the same URLs and exercise the update path, not inserts.
var templates = map[string][]template{
	"laptop": {
		{"TechPro", "UltraBook X15", "16GB RAM, 512GB SSD, RTX 4060"},
		{"PowerMax", "Gaming Beast G7", "32GB RAM, 1TB SSD, RTX 4070"},
		{"SlimTech", "Business Elite", "8GB RAM, 256GB SSD, Intel Iris"},
	},
	"mouse": {
		{"GamerPro", "Precision X1", "Wireless, RGB, 25600 DPI"},
		{"TechGrip", "Elite Gaming", "Wired, Programmable, 16000 DPI"},
		{"OfficeMax", "Business Silent", "Wireless, Silent Click, 1600 DPI"},
	},
	"keyboard": {
		{"KeyMaster", "Mechanical Pro", "RGB Backlit, Blue Switches"},
		{"TypeMax", "Silent Worker", "Wireless, Brown Switches, Compact"},
	},
	"headset": {
		{"AudioMax", "Gaming Pro X", "7.1 Surround, Noise Canceling"},
		{"SoundTech", "Studio Elite", "Hi-Fi, 50mm Drivers"},
	},
}

// Scraper implements scraper.Scraper over the static catalog.
type Scraper struct{}

// New returns the catalog scraper.
func New() *Scraper {
	return &Scraper{}
}

// Name implements scraper.Scraper.
func (s *Scraper) Name() string { return "catalog" }

// Available implements scraper.Scraper; the catalog is always reachable.
func (s *Scraper) Available(_ context.Context) error { return nil }

// Search implements scraper.Scraper. Matching is keyword based: any catalog
// category appearing in the query contributes its templates.
func (s *Scraper) Search(ctx context.Context, query string) ([]scraper.RawListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []scraper.RawListing
	for category, items := range templates {
		if !strings.Contains(q, category) {
			continue
		}
		for _, tpl := range items {
			out = append(out, listing(category, tpl))
		}
	}
	return out, nil
}

func listing(category string, tpl template) scraper.RawListing {
	title := fmt.Sprintf("%s %s (%s)", tpl.brand, tpl.model, tpl.specs)
	seed := seedFor(category, tpl.model)
	price := float64(150_000 + seed%2_850_000)
	reviewScore := 3.0 + float64(seed%21)/10.0 // 3.0..5.0
	reviewCount := int64(5 + seed%500)
	slug := strings.ToLower(strings.ReplaceAll(tpl.brand+"-"+tpl.model, " ", "-"))
	return scraper.RawListing{
		Title:       title,
		Price:       &price,
		ReviewScore: &reviewScore,
		ReviewCount: &reviewCount,
		URL:         "https://catalog.scrapqt.local/p/" + slug,
		ImageURL:    "https://catalog.scrapqt.local/img/" + slug + ".jpg",
		Description: fmt.Sprintf("High-quality %s from %s. %s.", category, tpl.brand, tpl.specs),
		IsUsed:      seed%5 == 0,
	}
}

func seedFor(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p)) //nolint:errcheck
	}
	return h.Sum64()
}
