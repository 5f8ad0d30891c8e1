package pipeline

import (
	"sort"
	"strings"

	"github.com/kauaDaviAmaro/listing-harvester/internal/store"
)

// enrichmentIndicators are the detail-page fields only a deep scrape
// fills. A stored row with fewer than two of them is considered
// shallow and gets re-visited by enrichment runs.
var enrichmentIndicators = []string{
	"full_address",
	"full_description",
	"advertiser_name",
	"advertiser_code",
	"zap_code",
	"phone_partial",
	"has_whatsapp",
	"iptu",
	"condo_fee",
	"suites",
	"floor_level",
}

const minFilledIndicators = 2

// SelectEnrichmentURLs picks the stored listing URLs still missing
// deep detail. Rows without a resolvable record-page URL and rows
// pointing at search pages are never selected. The result is sorted so
// reruns walk the store in a stable order.
func SelectEnrichmentURLs(snap store.Snapshot, listingURLMarker string, searchURLMarkers []string) []string {
	var urls []string
	for _, rec := range snap.Rows {
		recURL := rec.URL()
		if !isListingPageURL(recURL, listingURLMarker, searchURLMarkers) {
			continue
		}
		filled := 0
		for _, field := range enrichmentIndicators {
			if v, ok := rec[field]; ok && !v.IsEmpty() {
				filled++
			}
		}
		if filled < minFilledIndicators {
			urls = append(urls, recURL)
		}
	}
	sort.Strings(urls)
	return urls
}

func isListingPageURL(rawURL, marker string, searchMarkers []string) bool {
	if rawURL == "" || marker == "" || !strings.Contains(rawURL, marker) {
		return false
	}
	for _, sm := range searchMarkers {
		if sm != "" && strings.Contains(rawURL, sm) {
			return false
		}
	}
	return true
}
