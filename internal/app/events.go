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
	"citypulse.fyi/citypulse/internal/globaltime"
	"citypulse.fyi/citypulse/internal/logging"
)

func runEvents(args []string) int {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	source := fs.String("source", "", "Only list events from this source slug")
	from := fs.String("from", "", "Window start date YYYY-MM-DD (default today)")
	days := fs.Int("days", 30, "Window length in days")
	limit := fs.Int("limit", 100, "Maximum rows to print")
	includeInactive := fs.Bool("include-inactive", false, "Include deactivated events")
	timeout := fs.Duration("timeout", 20*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *days <= 0 {
		fmt.Fprintln(os.Stderr, "--days must be > 0")
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}

	windowStart := globaltime.Today()
	if *from != "" {
		parsed, err := time.Parse("2006-01-02", *from)
		if err != nil {
			fmt.Fprintln(os.Stderr, "--from must be YYYY-MM-DD")
			return 2
		}
		windowStart = parsed
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

	items, err := pool.ListEvents(ctx, db.EventListOptions{
		SourceSlug: *source,
		From:       windowStart,
		To:         windowStart.AddDate(0, 0, *days),
		ActiveOnly: !*includeInactive,
		Limit:      *limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list events: %v\n", err)
		return 1
	}

	if len(items) == 0 {
		fmt.Println("no events in window")
		return 0
	}
	for _, item := range items {
		startTime := "--:--"
		if item.StartTime != nil {
			startTime = *item.StartTime
		}
		venue := "-"
		if item.VenueName != nil {
			venue = *item.VenueName
		}
		marker := ""
		if !item.IsActive {
			marker = " [inactive]"
		}
		fmt.Printf("%s %s  %-30s  %s (%s)%s\n",
			item.StartDate.Format("2006-01-02"), startTime, truncate(item.Title, 30), venue, item.SourceSlug, marker)
	}
	return 0
}

func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-1]) + "~"
}
