package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"citypulse.fyi/citypulse/internal/cli"
	"citypulse.fyi/citypulse/internal/config"
	"citypulse.fyi/citypulse/internal/db"
	"citypulse.fyi/citypulse/internal/extract"
	"citypulse.fyi/citypulse/internal/globaltime"
	"citypulse.fyi/citypulse/internal/ingest"
	"citypulse.fyi/citypulse/internal/logging"
)

// runScheduler keeps a cron runner alive: one entry per active source using
// its crawl_frequency expression, plus the staleness sweep. Source rows are
// read once at startup; restart the scheduler after changing them.
func runScheduler(args []string) int {
	fs := flag.NewFlagSet("scheduler", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	crawlTimeout := fs.Duration("crawl-timeout", 10*time.Minute, "Per-crawl timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	pool, err := db.NewPool(dbCtx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("scheduler failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	sources, err := pool.ListSources(dbCtx, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list sources: %v\n", err)
		return 1
	}

	service := ingest.NewService(pool, extract.NewDispatcher(cfg, logger), logger)

	runner := cron.New()
	scheduled := 0
	for _, src := range sources {
		slug := src.Slug
		if src.CrawlFrequency == "" {
			logger.Warn().Str("source", slug).Msg("source has no crawl_frequency, skipping")
			continue
		}
		_, err := runner.AddFunc(src.CrawlFrequency, func() {
			ctx, cancel := context.WithTimeout(context.Background(), *crawlTimeout)
			defer cancel()
			if _, err := service.Run(ctx, ingest.RunOptions{SourceSlug: slug}); err != nil {
				logger.Error().Err(err).Str("source", slug).Msg("scheduled crawl failed")
			}
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid crawl_frequency %q for source %s: %v\n", src.CrawlFrequency, slug, err)
			return 2
		}
		scheduled++
	}

	if _, err := runner.AddFunc(cfg.SweepCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		affected, err := pool.DeactivateTBAEvents(ctx, globaltime.UTC(), cfg.TBAGraceDays)
		if err != nil {
			logger.Error().Err(err).Msg("scheduled sweep failed")
			return
		}
		logger.Info().Int64("deactivated", affected).Msg("scheduled sweep finished")
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid CP_SWEEP_CRON %q: %v\n", cfg.SweepCron, err)
		return 2
	}

	logger.Info().
		Int("sources", scheduled).
		Str("sweep_cron", cfg.SweepCron).
		Msg("scheduler started")

	runner.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	<-sigCh

	stopCtx := runner.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("scheduler stop timed out with jobs still running")
	}
	logger.Info().Msg("scheduler stopped")
	return 0
}
