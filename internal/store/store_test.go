package store

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kauaDaviAmaro/listing-harvester/internal/listing"
)

const testMarker = "zapimoveis.com.br"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(Config{
		Path:             filepath.Join(t.TempDir(), "listings.csv"),
		ListingURLMarker: testMarker,
		LockWait:         time.Second,
	}, zap.NewNop())
}

func listingURL(id string) string {
	return "https://www.zapimoveis.com.br/imovel/id-" + id + "/"
}

func TestSaveListingInsertsAndMerges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	url := listingURL("100")

	first := listing.Record{
		"url":   listing.Text(url),
		"price": listing.Text("100"),
		"title": listing.Text("T"),
	}
	require.NoError(t, s.SaveListing(ctx, first))

	// An empty price must not displace the stored one; a new field must
	// widen the schema.
	second := listing.Record{
		"url":      listing.Text(url),
		"price":    listing.Null(),
		"location": listing.Text("Centro"),
	}
	require.NoError(t, s.SaveListing(ctx, second))

	snap := s.Load()
	require.Len(t, snap.Rows, 1)
	rec := snap.Rows[url]
	require.Equal(t, "100", rec["price"].Cell())
	require.Equal(t, "T", rec["title"].Cell())
	require.Equal(t, "Centro", rec["location"].Cell())
}

func TestSaveListingRejectsWithoutTouchingFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveListing(ctx, listing.Record{}))
	require.NoError(t, s.SaveListing(ctx, listing.Record{"price": listing.Text("1")}))
	require.NoError(t, s.SaveListing(ctx, listing.Record{
		"url":   listing.Text(listingURL("1")),
		"error": listing.Text("BrowserType.launch failed: xvfb missing"),
	}))

	_, err := os.Stat(s.Path())
	require.True(t, os.IsNotExist(err), "rejected saves must not create the file")
}

func TestSaveListingPersistsRetryExhaustion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	url := listingURL("7")

	require.NoError(t, s.SaveListing(ctx, listing.Record{
		"url":   listing.Text(url),
		"error": listing.Text("Max retries exceeded"),
	}))

	snap := s.Load()
	require.Len(t, snap.Rows, 1)
	require.Equal(t, "Max retries exceeded", snap.Rows[url].ErrorText())
}

func TestLoadSaveIdempotence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	recs := []listing.Record{
		{"url": listing.Text(listingURL("1")), "price": listing.Text("100"), "title": listing.Text("A")},
		{"url": listing.Text(listingURL("2")), "price": listing.Text("200"), "area": listing.Text("80")},
	}
	require.NoError(t, s.SaveBatch(ctx, recs))

	first := s.Load()
	data1, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	// Re-saving what was just loaded must not change the file.
	reload := make([]listing.Record, 0, len(first.Rows))
	for _, rec := range first.Rows {
		reload = append(reload, rec)
	}
	require.NoError(t, s.SaveBatch(ctx, reload))

	data2, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	require.Equal(t, string(data1), string(data2))
}

func TestSequentialSavesAllSurvive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	ids := []string{"1", "2", "3", "4", "5"}
	for _, id := range ids {
		require.NoError(t, s.SaveListing(ctx, listing.Record{
			"url":   listing.Text(listingURL(id)),
			"price": listing.Text(id + "00"),
		}))
	}

	snap := s.Load()
	require.Len(t, snap.Rows, len(ids))
	for _, id := range ids {
		require.Contains(t, snap.Rows, listingURL(id))
	}
}

func TestConcurrentSavesAllSurvive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.SaveListing(ctx, listing.Record{
				"url":   listing.Text(listingURL(strconv.Itoa(i))),
				"price": listing.Text(strconv.Itoa(i * 100)),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap := s.Load()
	require.Len(t, snap.Rows, n, "every identity must survive concurrent saves")
	for i := 0; i < n; i++ {
		require.Contains(t, snap.Rows, listingURL(strconv.Itoa(i)))
	}
}

func TestSavePageBatchThenEnrichment(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	page := []listing.Record{
		{"url": listing.Text(listingURL("1")), "price": listing.Text("100")},
		{"url": listing.Text(listingURL("2")), "price": listing.Text("200")},
	}
	require.NoError(t, s.SavePageBatch(ctx, 1, page))

	enriched := []listing.Record{
		{"url": listing.Text(listingURL("1")), "full_address": listing.Text("Rua A, 1")},
		{"url": listing.Text(listingURL("2")), "full_address": listing.Text("Rua B, 2")},
	}
	require.NoError(t, s.SaveBatch(ctx, enriched))

	snap := s.Load()
	require.Len(t, snap.Rows, 2)
	require.Equal(t, "100", snap.Rows[listingURL("1")]["price"].Cell())
	require.Equal(t, "Rua A, 1", snap.Rows[listingURL("1")]["full_address"].Cell())
	require.Equal(t, "Rua B, 2", snap.Rows[listingURL("2")]["full_address"].Cell())
}

func TestLoadHeaderlessFile(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	raw := strings.Join([]string{
		listingURL("9") + ",450000,Casa ampla",
		listingURL("10") + ",380000,Apartamento",
	}, "\n")
	require.NoError(t, os.WriteFile(s.Path(), []byte(raw), 0o600))

	snap := s.Load()
	require.Len(t, snap.Rows, 2)

	rec, ok := snap.Rows[listingURL("9")]
	require.True(t, ok, "identity must be recovered from the URL marker")
	require.Equal(t, "450000", rec["column_1"].Cell())
	// Positional names never leak into the persisted schema.
	for _, field := range listing.FieldUnion(rec) {
		require.False(t, strings.HasPrefix(field, "column_"))
	}
}

func TestLoadDuplicateIdentitiesLastWins(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	url := listingURL("5")
	raw := strings.Join([]string{
		"url,price",
		url + ",100",
		url + ",250",
	}, "\n")
	require.NoError(t, os.WriteFile(s.Path(), []byte(raw), 0o600))

	snap := s.Load()
	require.Len(t, snap.Rows, 1)
	require.Equal(t, "250", snap.Rows[url]["price"].Cell())
}

func TestLoadDegradesOnGarbage(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("url,price\n\"unterminated"), 0o600))

	snap := s.Load()
	require.Empty(t, snap.Rows)
}

func TestMergeNonRegression(t *testing.T) {
	t.Parallel()

	existing := listing.Record{
		"url":   listing.Text("u"),
		"price": listing.Text("100"),
		"title": listing.Text("T"),
	}
	incoming := listing.Record{
		"url":      listing.Text("u"),
		"price":    listing.Text("None"),
		"title":    listing.Text("T2"),
		"area":     listing.Null(),
		"column_2": listing.Text("junk"),
	}

	merged := Merge(existing, incoming)
	require.Equal(t, "100", merged["price"].Cell(), "placeholder must not displace data")
	require.Equal(t, "T2", merged["title"].Cell(), "fresh data wins")
	require.Contains(t, merged, "area", "empty new fields still widen the row")
	require.NotContains(t, merged, "column_2")
}

func TestMergeKeepsZeroCounts(t *testing.T) {
	t.Parallel()

	existing := listing.Record{
		"url":   listing.Text("u"),
		"price": listing.Text("100"),
	}
	incoming := listing.Record{
		"url":      listing.Text("u"),
		"bedrooms": listing.Number(0),
		"suites":   listing.Number(0),
	}

	merged := Merge(existing, incoming)
	require.Equal(t, "0", merged["bedrooms"].Cell(), "a zero count is data, not absence")
	require.Equal(t, "0", merged["suites"].Cell())
	require.Equal(t, "100", merged["price"].Cell())
}

func TestHasHeader(t *testing.T) {
	t.Parallel()

	require.True(t, hasHeader([]string{"url", "price", "title"}))
	require.True(t, hasHeader([]string{"URL", "Price"}))
	require.False(t, hasHeader([]string{listingURL("1"), "450000", "Casa"}))
}
