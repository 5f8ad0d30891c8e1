package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kauaDaviAmaro/listing-harvester/internal/listing"
	"github.com/kauaDaviAmaro/listing-harvester/internal/store"
)

func TestSelectEnrichmentURLs(t *testing.T) {
	t.Parallel()

	shallowURL := "https://www.zapimoveis.com.br/imovel/id-1/"
	richURL := "https://www.zapimoveis.com.br/imovel/id-2/"
	searchURL := "https://www.zapimoveis.com.br/venda/casas/"
	partialURL := "https://www.zapimoveis.com.br/imovel/id-3/"

	snap := store.Snapshot{Rows: map[string]listing.Record{
		shallowURL: {
			"url":   listing.Text(shallowURL),
			"price": listing.Text("100"),
		},
		richURL: {
			"url":              listing.Text(richURL),
			"full_address":     listing.Text("Rua A, 1"),
			"full_description": listing.Text("Casa ampla"),
			"iptu":             listing.Text("R$ 120"),
		},
		searchURL: {
			"url": listing.Text(searchURL),
		},
		partialURL: {
			"url":          listing.Text(partialURL),
			"full_address": listing.Text("Rua B, 2"),
			"iptu":         listing.Text("None"),
		},
		"listing_4": {
			"price": listing.Text("900"),
		},
	}}

	urls := SelectEnrichmentURLs(snap, "/imovel/", []string{"/venda/", "/aluguel/"})
	require.Equal(t, []string{shallowURL, partialURL}, urls)
}

func TestSelectEnrichmentURLsEmptyStore(t *testing.T) {
	t.Parallel()

	urls := SelectEnrichmentURLs(store.Snapshot{Rows: map[string]listing.Record{}}, "/imovel/", nil)
	require.Empty(t, urls)
}
