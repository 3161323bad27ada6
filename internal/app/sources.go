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
	"citypulse.fyi/citypulse/internal/logging"
)

func runSources(args []string) int {
	fs := flag.NewFlagSet("sources", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	activeOnly := fs.Bool("active", false, "Only list active sources")
	runs := fs.Int("runs", 0, "Also print the last N crawl runs per source")
	timeout := fs.Duration("timeout", 20*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *runs < 0 {
		fmt.Fprintln(os.Stderr, "--runs must be >= 0")
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

	sources, err := pool.ListSources(ctx, *activeOnly)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list sources: %v\n", err)
		return 1
	}

	if len(sources) == 0 {
		fmt.Println("no sources configured")
		return 0
	}
	for _, src := range sources {
		state := "active"
		if !src.IsActive {
			state = "inactive"
		}
		fmt.Printf("%-24s %-8s %-8s cron=%q %s\n",
			src.Slug, src.IntegrationMethod, state, src.CrawlFrequency, src.URL)

		if *runs == 0 {
			continue
		}
		lastRuns, err := pool.LastCrawlRuns(ctx, src.Slug, *runs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load crawl runs for %s: %v\n", src.Slug, err)
			return 1
		}
		for _, run := range lastRuns {
			finished := "running"
			if run.FinishedAt != nil {
				finished = run.FinishedAt.Format(time.RFC3339)
			}
			fmt.Printf("    %s  %-9s found=%d new=%d updated=%d finished=%s\n",
				run.StartedAt.Format(time.RFC3339), run.Status, run.EventsFound, run.EventsNew, run.EventsUpdated, finished)
		}
	}
	return 0
}
