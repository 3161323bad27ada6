package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"citypulse.fyi/citypulse/internal/cli"
	"citypulse.fyi/citypulse/internal/config"
	"citypulse.fyi/citypulse/internal/db"
	"citypulse.fyi/citypulse/internal/extract"
	"citypulse.fyi/citypulse/internal/ingest"
	"citypulse.fyi/citypulse/internal/logging"
)

func runCrawl(args []string) int {
	fs := flag.NewFlagSet("crawl", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	source := fs.String("source", "", "Slug of the source to crawl")
	dryRun := fs.Bool("dry-run", false, "Compute decisions without writing anything")
	limit := fs.Int("limit", 0, "Cap on extracted candidates considered (0 = all)")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *source == "" {
		fmt.Fprintln(os.Stderr, "--source is required")
		return 2
	}
	if *limit < 0 {
		fmt.Fprintln(os.Stderr, "--limit must be >= 0")
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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc := ingest.NewService(pool, extract.NewDispatcher(cfg, logger), logger)
	result, err := svc.Run(ctx, ingest.RunOptions{
		SourceSlug: *source,
		DryRun:     *dryRun,
		Limit:      *limit,
	})

	fmt.Printf("source=%s dry_run=%t found=%d new=%d updated=%d\n",
		result.SourceSlug, result.DryRun, result.EventsFound, result.EventsNew, result.EventsUpdated)
	if result.RunUUID != "" {
		fmt.Printf("run_uuid=%s\n", result.RunUUID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Crawl failed: %v\n", err)
		return 1
	}
	return 0
}
