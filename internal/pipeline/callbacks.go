package pipeline

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kauaDaviAmaro/listing-harvester/internal/extract"
	"github.com/kauaDaviAmaro/listing-harvester/internal/listing"
	"github.com/kauaDaviAmaro/listing-harvester/internal/store"
)

// ImageFetcher localizes a record's remote images. Implemented by
// images.Downloader; failures are handled inside, the returned record
// is always usable.
type ImageFetcher interface {
	Fetch(ctx context.Context, rec listing.Record) listing.Record
}

// rowCache holds the store's rows keyed by URL, loaded lazily on the
// first save of a run so enrichment merges do not re-read the CSV per
// record. Guarded by mu; merge and persist run under it so cache and
// file never diverge.
type rowCache struct {
	mu     sync.Mutex
	loaded bool
	rows   map[string]listing.Record
}

// saveFunc builds the persistence callback handed to the extractor.
// With requireExisting set, records that match no stored row are
// dropped instead of inserted; enrichment runs must only update rows
// the harvest already produced.
func (o *Orchestrator) saveFunc(requireExisting bool) extract.SaveFunc {
	return func(ctx context.Context, rec listing.Record) error {
		return o.mergeAndPersist(ctx, rec, requireExisting)
	}
}

func (o *Orchestrator) mergeAndPersist(ctx context.Context, rec listing.Record, requireExisting bool) error {
	if o.cfg.DownloadImages && o.images != nil {
		rec = o.images.Fetch(ctx, rec)
	}
	recURL := rec.URL()

	o.cache.mu.Lock()
	defer o.cache.mu.Unlock()
	if !o.cache.loaded {
		o.cache.rows = o.store.Load().Rows
		o.cache.loaded = true
	}

	key, existing, found := lookupCachedRow(o.cache.rows, recURL)
	merged := rec
	switch {
	case found:
		merged = store.Merge(existing, rec)
	case requireExisting:
		o.logger.Warn("no stored row matches enriched record; skipping",
			zap.String("url", recURL))
		return nil
	default:
		key = recURL
	}

	if err := o.store.SaveListing(ctx, merged); err != nil {
		return err
	}
	o.cache.rows[key] = merged
	return nil
}

// pageFunc persists each search-result page as soon as it is parsed,
// so an interrupted pagination loses at most the page in flight.
func (o *Orchestrator) pageFunc() extract.PageFunc {
	return func(ctx context.Context, pageNum int, records []listing.Record, baseURL string) error {
		o.logger.Info("persisting page batch",
			zap.String("search_url", baseURL),
			zap.Int("page", pageNum),
			zap.Int("records", len(records)))
		return o.store.SavePageBatch(ctx, pageNum, records)
	}
}

// lookupCachedRow resolves a record URL against stored row keys:
// exact match first, then with the trailing slash trimmed, then
// substring containment either way. Stored keys sometimes carry
// tracking suffixes the live page URL lacks, and vice versa.
func lookupCachedRow(rows map[string]listing.Record, rawURL string) (string, listing.Record, bool) {
	if rawURL == "" {
		return "", nil, false
	}
	if rec, ok := rows[rawURL]; ok {
		return rawURL, rec, true
	}
	trimmed := strings.TrimRight(rawURL, "/")
	if rec, ok := rows[trimmed]; ok {
		return trimmed, rec, true
	}
	for key, rec := range rows {
		keyTrimmed := strings.TrimRight(key, "/")
		if keyTrimmed == "" {
			continue
		}
		if strings.Contains(trimmed, keyTrimmed) || strings.Contains(keyTrimmed, trimmed) {
			return key, rec, true
		}
	}
	return "", nil, false
}
