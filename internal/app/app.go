// Package app implements the citypulse CLI. Each command lives in its own
// file and returns a process exit code.
package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "crawl":
		return runCrawl(args[1:])
	case "sweep":
		return runSweep(args[1:])
	case "events":
		return runEvents(args[1:])
	case "sources":
		return runSources(args[1:])
	case "serve":
		return runServe(args[1:])
	case "scheduler":
		return runScheduler(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "citypulse CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  citypulse <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health     Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  crawl      Crawl one source and reconcile its listings")
	fmt.Fprintln(os.Stderr, "  sweep      Deactivate stale TBA placeholder events")
	fmt.Fprintln(os.Stderr, "  events     List upcoming events")
	fmt.Fprintln(os.Stderr, "  sources    List configured sources")
	fmt.Fprintln(os.Stderr, "  serve      Start the Echo API server")
	fmt.Fprintln(os.Stderr, "  scheduler  Run crawls and sweeps on their cron schedules")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"citypulse <command> -h\" for command-specific flags.")
}
