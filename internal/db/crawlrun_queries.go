package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// InsertCrawlRun opens a crawl-run ledger row in the running state.
func (p *Pool) InsertCrawlRun(ctx context.Context, runUUID, sourceSlug string, startedAt time.Time) (int64, error) {
	trimmedUUID := strings.TrimSpace(runUUID)
	if trimmedUUID == "" {
		return 0, fmt.Errorf("run UUID is required")
	}
	slug := strings.TrimSpace(strings.ToLower(sourceSlug))
	if slug == "" {
		return 0, fmt.Errorf("source slug is required")
	}

	const q = `
INSERT INTO listings.crawl_runs (
	crawl_run_uuid,
	source_slug,
	started_at,
	status,
	events_found,
	events_new,
	events_updated
)
VALUES ($1, $2, $3, 'running', 0, 0, 0)
RETURNING run_id
`
	var runID int64
	if err := p.QueryRow(ctx, q, trimmedUUID, slug, startedAt.UTC()).Scan(&runID); err != nil {
		return 0, fmt.Errorf("insert crawl run: %w", err)
	}
	return runID, nil
}

// FinishCrawlRun closes a ledger row with whatever counts accumulated.
// A non-empty errorMessage marks the run failed; the partial counts stay.
func (p *Pool) FinishCrawlRun(ctx context.Context, runID int64, found, inserted, updated int, errorMessage *string, finishedAt time.Time) error {
	if runID <= 0 {
		return fmt.Errorf("run id is required")
	}

	status := "completed"
	if errorMessage != nil && strings.TrimSpace(*errorMessage) != "" {
		status = "failed"
	}

	const q = `
UPDATE listings.crawl_runs
SET
	finished_at = $2,
	status = $3,
	events_found = $4,
	events_new = $5,
	events_updated = $6,
	error_message = $7
WHERE run_id = $1
`
	tag, err := p.Exec(ctx, q, runID, finishedAt.UTC(), status, found, inserted, updated, errorMessage)
	if err != nil {
		return fmt.Errorf("finish crawl run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

// LastCrawlRuns returns the most recent ledger rows, newest first.
func (p *Pool) LastCrawlRuns(ctx context.Context, sourceSlug string, limit int) ([]CrawlRun, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	const q = `
SELECT
	r.run_id,
	r.crawl_run_uuid::text,
	r.source_slug,
	r.started_at,
	r.finished_at,
	r.status,
	r.events_found,
	r.events_new,
	r.events_updated,
	r.error_message
FROM listings.crawl_runs r
WHERE ($1 = '' OR r.source_slug = $1)
ORDER BY r.started_at DESC, r.run_id DESC
LIMIT $2
`
	rows, err := p.Query(ctx, q, strings.TrimSpace(strings.ToLower(sourceSlug)), limit)
	if err != nil {
		return nil, fmt.Errorf("query crawl runs: %w", err)
	}
	defer rows.Close()

	runs := make([]CrawlRun, 0, limit)
	for rows.Next() {
		var run CrawlRun
		if err := rows.Scan(
			&run.RunID,
			&run.CrawlRunUUID,
			&run.SourceSlug,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.EventsFound,
			&run.EventsNew,
			&run.EventsUpdated,
			&run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan crawl run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl run rows: %w", err)
	}
	return runs, nil
}
