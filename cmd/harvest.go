package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kauaDaviAmaro/listing-harvester/internal/agent"
	"github.com/kauaDaviAmaro/listing-harvester/internal/api"
	"github.com/kauaDaviAmaro/listing-harvester/internal/compliance"
	"github.com/kauaDaviAmaro/listing-harvester/internal/config"
	"github.com/kauaDaviAmaro/listing-harvester/internal/extract"
	"github.com/kauaDaviAmaro/listing-harvester/internal/images"
	"github.com/kauaDaviAmaro/listing-harvester/internal/logging"
	"github.com/kauaDaviAmaro/listing-harvester/internal/pipeline"
	"github.com/kauaDaviAmaro/listing-harvester/internal/processor"
	"github.com/kauaDaviAmaro/listing-harvester/internal/store"
)

// newHarvestCmd creates and configures the 'harvest' subcommand.
func newHarvestCmd() *cobra.Command {
	var deepOnly bool

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Runs the harvest pipeline",
		Long: `Processes the configured target URLs: search pages are paginated and
their listings enriched, individual listing pages are scraped directly.
With --deep-only the target list is ignored and the run instead
re-visits stored rows that are still missing detail fields.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd.Context(), deepOnly)
		},
	}
	cmd.Flags().BoolVar(&deepOnly, "deep-only", false, "only enrich shallow rows already in the store")

	return cmd
}

func runHarvest(parent context.Context, deepOnly bool) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Store.OutputDir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	orch := buildPipeline(cfg, deepOnly, logger)

	if cfg.API.Enabled {
		shutdown := startOpsServer(cfg, orch, logger)
		defer shutdown()
	}

	stats, err := orch.Run(ctx, cfg.Harvest.TargetURLs)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run harvest: %w", err)
	}
	logger.Info("harvest finished",
		zap.Int64("total", stats.Total),
		zap.Int64("success", stats.Success),
		zap.Int64("failed", stats.Failed),
		zap.Int64("blocked", stats.Blocked),
		zap.Int64("skipped", stats.Skipped))
	return nil
}

func buildPipeline(cfg config.Config, deepOnly bool, logger *zap.Logger) *pipeline.Orchestrator {
	st := store.New(store.Config{
		Path:             filepath.Join(cfg.Store.OutputDir, cfg.Store.Filename),
		ListingURLMarker: cfg.Store.ListingURLMarker,
		LockWait:         cfg.LockWait(),
	}, logger)

	comp := compliance.New(compliance.Config{
		RespectRobots:     cfg.Policy.RespectRobots,
		RequestsPerSecond: cfg.Policy.RequestsPerSecond,
		Burst:             cfg.Policy.Burst,
	}, logger)

	ext := extract.NewSiteExtractor(extract.SiteConfig{
		ListingURLMarker: cfg.Store.ListingURLMarker,
	}, logger)

	identities := agent.NewIdentityPool(agent.DefaultIdentities())
	proxies := agent.NewProxyPool(cfg.Agent.Proxies, 0, time.Minute, logger)
	newAgent := agentFactory(cfg, identities, proxies, logger)

	proc := processor.New(processor.Config{
		MaxRetries:       cfg.Harvest.MaxRetries,
		RetryBaseDelay:   cfg.RetryBaseDelay(),
		RetryBackoff:     cfg.Harvest.RetryBackoff,
		MaxPages:         cfg.Harvest.MaxPages,
		ListingURLMarker: cfg.Store.ListingURLMarker,
		SearchURLMarkers: cfg.Harvest.SearchURLMarkers,
		UserAgent:        cfg.Agent.UserAgent,
		DeepOnly:         deepOnly,
	}, comp, ext, newAgent, logger)

	var imageFetcher pipeline.ImageFetcher
	if cfg.Images.Enabled {
		imageFetcher = images.New(images.Config{
			OutputDir: cfg.Store.OutputDir,
			Timeout:   cfg.ImageTimeout(),
		}, logger)
	}

	return pipeline.NewOrchestrator(pipeline.Config{
		MaxConcurrent:    cfg.Harvest.MaxConcurrent,
		UseSharedAgent:   cfg.Harvest.UseSharedAgent,
		DownloadImages:   cfg.Images.Enabled,
		DeepOnly:         deepOnly,
		ListingURLMarker: cfg.Store.ListingURLMarker,
		SearchURLMarkers: cfg.Harvest.SearchURLMarkers,
	}, st, proc, newAgent, imageFetcher, logger)
}

func agentFactory(cfg config.Config, identities *agent.IdentityPool, proxies *agent.ProxyPool, logger *zap.Logger) agent.Factory {
	if cfg.Agent.Kind == "static" {
		return func() agent.Agent {
			return agent.NewStaticAgent(agent.StaticConfig{
				RequestTimeout: cfg.NavTimeout(),
				Parallelism:    cfg.Harvest.MaxConcurrent,
			}, identities, proxies, logger)
		}
	}
	return func() agent.Agent {
		return agent.NewBrowserAgent(agent.BrowserConfig{
			Headless:   cfg.Agent.Headless,
			NavTimeout: cfg.NavTimeout(),
		}, identities, proxies, logger)
	}
}

func startOpsServer(cfg config.Config, orch *pipeline.Orchestrator, logger *zap.Logger) func() {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           api.NewServer(orch.Stats, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("ops server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ops server shutdown failed", zap.Error(err))
		}
	}
}
