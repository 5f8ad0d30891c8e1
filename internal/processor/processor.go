// Package processor drives one URL through the compliance gate, the
// fetch agent, and the extractor, with bounded retries and identity
// rotation on block signals.
package processor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kauaDaviAmaro/listing-harvester/internal/agent"
	"github.com/kauaDaviAmaro/listing-harvester/internal/compliance"
	"github.com/kauaDaviAmaro/listing-harvester/internal/extract"
	"github.com/kauaDaviAmaro/listing-harvester/internal/listing"
)

const (
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = 2 * time.Second
	defaultRetryBackoff   = 2.0
	defaultMaxPages       = 1

	// MaxRetriesExceeded is the terminal error text recorded when every
	// attempt for a URL has failed.
	MaxRetriesExceeded = "Max retries exceeded"
)

// blockMarkers are the status fragments that indicate the source is
// refusing or throttling us rather than failing.
var blockMarkers = []string{"403", "429"}

// IsBlockError reports whether the error text carries a block signal.
func IsBlockError(errText string) bool {
	for _, marker := range blockMarkers {
		if strings.Contains(errText, marker) {
			return true
		}
	}
	return false
}

// Config holds per-URL processing knobs.
type Config struct {
	// MaxRetries is the number of re-attempts after the first failure.
	MaxRetries int
	// RetryBaseDelay is the wait before the first retry.
	RetryBaseDelay time.Duration
	// RetryBackoff multiplies the delay on each subsequent retry.
	RetryBackoff float64
	// MaxPages caps search-result pagination per URL.
	MaxPages int
	// ListingURLMarker identifies individual record pages.
	ListingURLMarker string
	// SearchURLMarkers identify search/index pages.
	SearchURLMarkers []string
	// UserAgent is presented to robots.txt policy checks.
	UserAgent string
	// DeepOnly treats every URL as a record page, skipping search
	// parsing entirely. Used by enrichment reruns.
	DeepOnly bool
}

// Result is the outcome of processing one URL. Record is set for record
// pages, Listings for search pages. A non-empty Err means the URL
// ultimately failed.
type Result struct {
	URL      string
	Record   listing.Record
	Listings []listing.Record
	Err      string
}

// Failed reports whether processing ended in an error.
func (r *Result) Failed() bool { return r.Err != "" }

// Blocked reports whether the failure was a block signal.
func (r *Result) Blocked() bool { return IsBlockError(r.Err) }

// Processor retries a single URL until success or exhaustion.
type Processor struct {
	cfg        Config
	compliance *compliance.Manager
	extractor  extract.Extractor
	newAgent   agent.Factory
	logger     *zap.Logger

	// sleep is injectable so retry pacing is testable.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Processor. newAgent is only consulted when Process is
// handed a nil shared agent.
func New(cfg Config, comp *compliance.Manager, ext extract.Extractor, newAgent agent.Factory, logger *zap.Logger) *Processor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.RetryBackoff < 1 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	return &Processor{
		cfg:        cfg,
		compliance: comp,
		extractor:  ext,
		newAgent:   newAgent,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// Process runs the full gate-fetch-extract-retry cycle for one URL.
// A nil result means the compliance gate rejected the URL and nothing
// was fetched.
func (p *Processor) Process(ctx context.Context, rawURL string, shared agent.Agent, saveFn extract.SaveFunc, pageFn extract.PageFunc) *Result {
	if !p.compliance.IsPublicData(rawURL) {
		p.logger.Warn("url rejected: private data path", zap.String("url", rawURL))
		return nil
	}
	if !p.compliance.CanFetch(ctx, rawURL, p.cfg.UserAgent) {
		p.logger.Warn("url rejected by robots policy", zap.String("url", rawURL))
		return nil
	}
	if err := p.compliance.WaitForRateLimit(ctx, rawURL); err != nil {
		return &Result{URL: rawURL, Err: err.Error()}
	}

	ag := shared
	if ag == nil {
		ag = p.newAgent()
		defer func() {
			if err := ag.Close(ctx); err != nil {
				p.logger.Warn("agent close failed", zap.String("url", rawURL), zap.Error(err))
			}
		}()
	}

	var lastErr string
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.retryDelay(attempt)
			p.logger.Info("retrying url",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.String("last_error", lastErr))
			if err := p.sleep(ctx, delay); err != nil {
				return &Result{URL: rawURL, Err: err.Error()}
			}
		}

		res, err := p.attempt(ctx, ag, rawURL, saveFn, pageFn)
		if err != nil {
			lastErr = err.Error()
			p.handleFailure(ctx, ag, rawURL, lastErr)
			continue
		}
		if res.Err != "" {
			lastErr = res.Err
			p.handleFailure(ctx, ag, rawURL, lastErr)
			continue
		}
		ag.MarkSuccess(ctx)
		return res
	}

	p.logger.Error("url failed after all retries",
		zap.String("url", rawURL),
		zap.Int("attempts", p.cfg.MaxRetries+1),
		zap.String("last_error", lastErr))
	terminal := MaxRetriesExceeded
	if IsBlockError(lastErr) {
		// Keep the block signal visible so the run counts this URL as
		// blocked rather than generically failed.
		terminal = fmt.Sprintf("%s: %s", MaxRetriesExceeded, lastErr)
	}
	return &Result{
		URL: rawURL,
		Record: listing.Record{
			listing.FieldURL:   listing.Text(rawURL),
			listing.FieldError: listing.Text(terminal),
		},
		Err: terminal,
	}
}

func (p *Processor) attempt(ctx context.Context, ag agent.Agent, rawURL string, saveFn extract.SaveFunc, pageFn extract.PageFunc) (*Result, error) {
	if err := ag.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("agent init: %w", err)
	}
	page, err := ag.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	defer func() {
		if cerr := page.Close(ctx); cerr != nil {
			p.logger.Debug("page close failed", zap.String("url", rawURL), zap.Error(cerr))
		}
	}()

	if p.cfg.DeepOnly || p.isListingURL(rawURL) {
		rec, err := p.extractor.ScrapeListing(ctx, page, rawURL, true)
		if err != nil {
			return nil, err
		}
		if errText := rec.ErrorText(); errText != "" {
			return &Result{URL: rawURL, Record: rec, Err: errText}, nil
		}
		if saveFn != nil {
			if err := saveFn(ctx, rec); err != nil {
				return nil, fmt.Errorf("persist listing: %w", err)
			}
		}
		return &Result{URL: rawURL, Record: rec}, nil
	}

	listings, err := p.extractor.ScrapeSearchResults(ctx, page, rawURL, p.cfg.MaxPages, pageFn)
	if err != nil {
		return nil, err
	}
	enriched, err := p.extractor.DeepScrapeListings(ctx, page, listings, saveFn)
	if err != nil {
		return nil, err
	}
	return &Result{URL: rawURL, Listings: enriched}, nil
}

// handleFailure applies block feedback to the agent. Only block
// signals rotate the browsing identity; ordinary failures keep the
// current identity so transient errors do not churn fingerprints.
func (p *Processor) handleFailure(ctx context.Context, ag agent.Agent, rawURL, errText string) {
	if !IsBlockError(errText) {
		return
	}
	p.logger.Warn("block signal detected; rotating identity",
		zap.String("url", rawURL), zap.String("error", errText))
	ag.MarkFailure(ctx)
	ag.RotateIdentity()
}

// retryDelay grows exponentially: base for the first retry, then
// multiplied by the backoff factor each further attempt.
func (p *Processor) retryDelay(attempt int) time.Duration {
	return time.Duration(float64(p.cfg.RetryBaseDelay) * math.Pow(p.cfg.RetryBackoff, float64(attempt-1)))
}

// isListingURL distinguishes record pages from search pages. A URL
// matching a search marker is a search page even when it also carries
// the listing marker.
func (p *Processor) isListingURL(rawURL string) bool {
	for _, marker := range p.cfg.SearchURLMarkers {
		if marker != "" && strings.Contains(rawURL, marker) {
			return false
		}
	}
	return p.cfg.ListingURLMarker != "" && strings.Contains(rawURL, p.cfg.ListingURLMarker)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
