// Package extract turns fetched pages into listing records. The
// Extractor contract is what the URL processor depends on; the site
// extractor in this package is the goquery-backed implementation for
// the target listing source.
package extract

import (
	"context"

	"github.com/kauaDaviAmaro/listing-harvester/internal/agent"
	"github.com/kauaDaviAmaro/listing-harvester/internal/listing"
)

// PageFunc receives one scraped search page as soon as it completes.
// Pages of one search URL arrive in page-number order.
type PageFunc func(ctx context.Context, pageNum int, records []listing.Record, baseURL string) error

// SaveFunc receives one enriched record as soon as it is scraped.
type SaveFunc func(ctx context.Context, record listing.Record) error

// Extractor scrapes the two URL shapes the source serves: individual
// record pages and paginated search-result pages.
type Extractor interface {
	// ScrapeListing scrapes one individual record page. Source-side
	// failures (block pages, unexpected markup) come back as a record
	// carrying an error field; infrastructure failures return an error.
	ScrapeListing(ctx context.Context, page agent.Page, url string, deep bool) (listing.Record, error)

	// ScrapeSearchResults walks search pagination up to maxPages,
	// invoking pageFn per completed page, and returns every shallow
	// record discovered.
	ScrapeSearchResults(ctx context.Context, page agent.Page, url string, maxPages int, pageFn PageFunc) ([]listing.Record, error)

	// DeepScrapeListings runs the enrichment pass over discovered
	// records, invoking saveFn per enriched record as it lands.
	DeepScrapeListings(ctx context.Context, page agent.Page, records []listing.Record, saveFn SaveFunc) ([]listing.Record, error)
}
