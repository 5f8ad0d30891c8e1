// Package pipeline coordinates a harvest run: it fans URLs out to
// processors, persists extracted records through the store, and keeps
// the run's counters.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kauaDaviAmaro/listing-harvester/internal/agent"
	"github.com/kauaDaviAmaro/listing-harvester/internal/extract"
	"github.com/kauaDaviAmaro/listing-harvester/internal/processor"
	"github.com/kauaDaviAmaro/listing-harvester/internal/store"
)

const defaultMaxConcurrent = 3

// Config selects the execution strategy and persistence behavior of a
// run.
type Config struct {
	// MaxConcurrent bounds the parallel strategy's in-flight URLs.
	MaxConcurrent int
	// UseSharedAgent switches to the sequential strategy: one agent
	// session shared across every URL, initialized up front.
	UseSharedAgent bool
	// DownloadImages localizes record images before persisting.
	DownloadImages bool
	// DeepOnly re-visits stored shallow rows instead of the configured
	// URL list.
	DeepOnly bool
	// ListingURLMarker and SearchURLMarkers drive enrichment URL
	// selection.
	ListingURLMarker string
	SearchURLMarkers []string
}

// Orchestrator runs the harvest end to end.
type Orchestrator struct {
	cfg      Config
	store    *store.Store
	proc     *processor.Processor
	newAgent agent.Factory
	images   ImageFetcher
	logger   *zap.Logger

	stats Stats
	cache rowCache
}

// NewOrchestrator wires a run. images may be nil when image download
// is disabled.
func NewOrchestrator(cfg Config, st *store.Store, proc *processor.Processor, newAgent agent.Factory, images ImageFetcher, logger *zap.Logger) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	// Enrichment reruns revisit many stored rows of one site; they
	// always share a single agent session instead of paying a browser
	// launch per row.
	if cfg.DeepOnly {
		cfg.UseSharedAgent = true
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    st,
		proc:     proc,
		newAgent: newAgent,
		images:   images,
		logger:   logger,
	}
}

// Stats returns the current run counters for the ops API.
func (o *Orchestrator) Stats() StatsSnapshot {
	return o.stats.Snapshot()
}

// Run processes the URL list and returns the final counters. In
// deep-only mode the list is ignored and the URLs come from shallow
// rows already in the store.
func (o *Orchestrator) Run(ctx context.Context, urls []string) (StatsSnapshot, error) {
	log := o.logger.With(zap.String("run_id", uuid.NewString()))
	o.stats.Reset()

	o.cache.mu.Lock()
	o.cache.loaded = false
	o.cache.rows = nil
	if o.cfg.DeepOnly {
		snap := o.store.Load()
		o.cache.rows = snap.Rows
		o.cache.loaded = true
		urls = SelectEnrichmentURLs(snap, o.cfg.ListingURLMarker, o.cfg.SearchURLMarkers)
	}
	o.cache.mu.Unlock()
	o.stats.SetTotal(len(urls))

	log.Info("starting run",
		zap.Int("urls", len(urls)),
		zap.Bool("deep_only", o.cfg.DeepOnly),
		zap.Bool("shared_agent", o.cfg.UseSharedAgent))

	saveFn := o.saveFunc(o.cfg.DeepOnly)
	pageFn := o.pageFunc()

	var err error
	if o.cfg.UseSharedAgent {
		err = o.runSequential(ctx, urls, saveFn, pageFn)
	} else {
		err = o.runParallel(ctx, urls, saveFn, pageFn)
	}

	snap := o.stats.Snapshot()
	log.Info("run complete",
		zap.Int64("total", snap.Total),
		zap.Int64("success", snap.Success),
		zap.Int64("failed", snap.Failed),
		zap.Int64("blocked", snap.Blocked),
		zap.Int64("skipped", snap.Skipped))
	return snap, err
}

// runParallel gives every URL its own agent session, bounded by
// MaxConcurrent. Per-URL failures land in the counters, never in the
// returned error, so one bad URL cannot abort the run.
func (o *Orchestrator) runParallel(ctx context.Context, urls []string, saveFn extract.SaveFunc, pageFn extract.PageFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrent)
	for _, rawURL := range urls {
		g.Go(func() error {
			res := o.proc.Process(gctx, rawURL, nil, saveFn, pageFn)
			o.handleResult(gctx, res)
			return nil
		})
	}
	return g.Wait()
}

// handleResult folds the outcome into the counters and persists
// terminal failure records so reruns can see which URLs kept failing.
// Technical-failure markers are rejected downstream by the store.
func (o *Orchestrator) handleResult(ctx context.Context, res *processor.Result) {
	o.stats.Record(res)
	if res == nil || !res.Failed() || len(res.Record) == 0 {
		return
	}
	if err := o.mergeAndPersist(ctx, res.Record, o.cfg.DeepOnly); err != nil {
		o.logger.Warn("persist failure record failed",
			zap.String("url", res.URL), zap.Error(err))
	}
}

// runSequential shares a single agent session across all URLs. If that
// session cannot start there is nothing to share, so the run aborts
// instead of degrading.
func (o *Orchestrator) runSequential(ctx context.Context, urls []string, saveFn extract.SaveFunc, pageFn extract.PageFunc) error {
	ag := o.newAgent()
	if err := ag.Initialize(ctx); err != nil {
		return fmt.Errorf("shared agent initialization: %w", err)
	}
	defer func() {
		if cerr := ag.Close(ctx); cerr != nil {
			o.logger.Warn("shared agent close failed", zap.Error(cerr))
		}
	}()

	for _, rawURL := range urls {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := o.proc.Process(ctx, rawURL, ag, saveFn, pageFn)
		o.handleResult(ctx, res)
	}
	return nil
}
