// Package images localizes listing photos next to the record store so
// harvested rows survive the source taking galleries offline.
package images

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kauaDaviAmaro/listing-harvester/internal/listing"
)

const (
	defaultTimeout = 20 * time.Second
	// FieldLocalImages is the record field the downloader fills with
	// the saved file paths.
	FieldLocalImages = "local_images"
	// FieldImages is the record field holding remote image URLs.
	FieldImages = "images"
)

// allowedExtensions whitelist what gets written to disk.
var allowedExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
}

// listingIDRe pulls the numeric listing id out of a record URL.
var listingIDRe = regexp.MustCompile(`id-(\d+)`)

// unsafePathRe strips everything a directory name should not contain.
var unsafePathRe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Config holds downloader knobs.
type Config struct {
	// OutputDir is the base directory; files land under
	// <OutputDir>/images/<listing_id>/.
	OutputDir string
	// Timeout bounds each image GET.
	Timeout time.Duration
}

// Downloader fetches a record's remote images to local disk.
type Downloader struct {
	client *http.Client
	dir    string
	logger *zap.Logger
}

// New builds a Downloader rooted at cfg.OutputDir.
func New(cfg Config, logger *zap.Logger) *Downloader {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Downloader{
		client: &http.Client{Timeout: timeout},
		dir:    filepath.Join(cfg.OutputDir, "images"),
		logger: logger,
	}
}

// Fetch downloads every allowed image referenced by the record and
// returns a copy with the local paths recorded. Individual download
// failures are logged and skipped; the record always comes back
// usable.
func (d *Downloader) Fetch(ctx context.Context, rec listing.Record) listing.Record {
	remote := imageList(rec[FieldImages])
	if len(remote) == 0 {
		return rec
	}

	listingDir := filepath.Join(d.dir, listingID(rec.URL()))
	if err := os.MkdirAll(listingDir, 0o750); err != nil {
		d.logger.Warn("create image directory failed",
			zap.String("dir", listingDir), zap.Error(err))
		return rec
	}

	var saved []string
	for i, imgURL := range remote {
		ext, ok := imageExtension(imgURL)
		if !ok {
			d.logger.Debug("skipping image with unsupported extension", zap.String("url", imgURL))
			continue
		}
		dest := filepath.Join(listingDir, fmt.Sprintf("%03d%s", i+1, ext))
		if err := d.download(ctx, imgURL, dest); err != nil {
			d.logger.Warn("image download failed",
				zap.String("url", imgURL), zap.Error(err))
			continue
		}
		saved = append(saved, dest)
	}
	if len(saved) == 0 {
		return rec
	}

	out := rec.Clone()
	out[FieldLocalImages] = listing.List(saved...)
	return out
}

func (d *Downloader) download(ctx context.Context, imgURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imgURL, nil)
	if err != nil {
		return fmt.Errorf("new image request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch image: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			d.logger.Debug("close image response body failed", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch image: HTTP %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create image file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("write image file: %w", err)
	}
	return f.Close()
}

// listingID derives a stable directory name for a record: the numeric
// id embedded in the URL when present, otherwise a sanitized tail of
// the URL itself.
func listingID(rawURL string) string {
	if m := listingIDRe.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	tail := strings.TrimRight(rawURL, "/")
	if idx := strings.LastIndex(tail, "/"); idx >= 0 {
		tail = tail[idx+1:]
	}
	tail = unsafePathRe.ReplaceAllString(tail, "_")
	if tail == "" {
		tail = "unknown"
	}
	if len(tail) > 80 {
		tail = tail[:80]
	}
	return tail
}

// imageList accepts both freshly extracted list values and rows
// reloaded from CSV, where the gallery survives as comma-joined text.
func imageList(v listing.Value) []string {
	if items := v.Strings(); len(items) > 0 {
		return items
	}
	if v.Kind() != listing.KindText || v.IsEmpty() {
		return nil
	}
	var urls []string
	for _, part := range strings.Split(v.Cell(), ",") {
		if part = strings.TrimSpace(part); part != "" {
			urls = append(urls, part)
		}
	}
	return urls
}

func imageExtension(imgURL string) (string, bool) {
	parsed, err := url.Parse(imgURL)
	if err != nil {
		return "", false
	}
	ext := strings.ToLower(path.Ext(parsed.Path))
	_, ok := allowedExtensions[ext]
	return ext, ok
}
