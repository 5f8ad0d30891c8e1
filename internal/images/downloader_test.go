package images

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kauaDaviAmaro/listing-harvester/internal/listing"
)

func TestFetchDownloadsAllowedImages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.jpg", "/b.png":
			_, _ = w.Write([]byte("imagebytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	out := t.TempDir()
	d := New(Config{OutputDir: out}, zap.NewNop())

	rec := listing.Record{
		listing.FieldURL: listing.Text("https://www.zapimoveis.com.br/imovel/id-123/"),
		FieldImages: listing.List(
			srv.URL+"/a.jpg",
			srv.URL+"/nope.exe",
			srv.URL+"/b.png",
			srv.URL+"/missing.jpg",
		),
	}

	got := d.Fetch(context.Background(), rec)
	saved := got[FieldLocalImages].Strings()
	require.Len(t, saved, 2, "only allowed and reachable images are saved")
	for _, p := range saved {
		_, err := os.Stat(p)
		require.NoError(t, err)
		require.Contains(t, p, filepath.Join("images", "123"))
	}

	_, untouched := rec[FieldLocalImages]
	require.False(t, untouched, "the input record is not mutated")
}

func TestFetchNoImages(t *testing.T) {
	t.Parallel()

	d := New(Config{OutputDir: t.TempDir()}, zap.NewNop())
	rec := listing.Record{listing.FieldURL: listing.Text("https://x/imovel/id-1/")}
	got := d.Fetch(context.Background(), rec)
	require.NotContains(t, got, FieldLocalImages)
}

func TestFetchAcceptsCommaJoinedText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("imagebytes"))
	}))
	defer srv.Close()

	d := New(Config{OutputDir: t.TempDir()}, zap.NewNop())
	rec := listing.Record{
		listing.FieldURL: listing.Text("https://x/imovel/id-9/"),
		FieldImages:      listing.Text(srv.URL + "/a.jpg, " + srv.URL + "/b.jpg"),
	}

	got := d.Fetch(context.Background(), rec)
	require.Len(t, got[FieldLocalImages].Strings(), 2)
}

func TestListingID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2742896550", listingID("https://www.zapimoveis.com.br/imovel/casa-id-2742896550/"))
	require.Equal(t, "casa_ampla", listingID("https://example.com/listings/casa ampla/"))
	require.Equal(t, "unknown", listingID(""))
}
