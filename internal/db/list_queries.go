package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// EventListOptions controls event listing queries.
type EventListOptions struct {
	SourceSlug string
	From       time.Time
	To         time.Time
	ActiveOnly bool
	Limit      int
}

// EventListItem is the read model used by the events CLI command and API.
type EventListItem struct {
	EventUUID  string    `json:"event_uuid"`
	SourceSlug string    `json:"source_slug"`
	VenueName  *string   `json:"venue_name,omitempty"`
	Title      string    `json:"title"`
	StartDate  time.Time `json:"start_date"`
	StartTime  *string   `json:"start_time,omitempty"`
	Category   *string   `json:"category,omitempty"`
	Tags       *string   `json:"tags,omitempty"`
	URL        *string   `json:"url,omitempty"`
	IsActive   bool      `json:"is_active"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ListEvents lists events in a start_date window, soonest first.
func (p *Pool) ListEvents(ctx context.Context, opts EventListOptions) ([]EventListItem, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	from := opts.From.UTC()
	to := opts.To.UTC()
	if !from.Before(to) {
		return nil, fmt.Errorf("from must be before to")
	}

	const q = `
SELECT
	e.event_uuid::text,
	s.slug,
	v.name,
	e.title,
	e.start_date,
	e.start_time,
	e.category,
	e.tags,
	e.url,
	e.is_active,
	e.updated_at
FROM listings.events e
JOIN listings.sources s ON s.source_id = e.source_id
LEFT JOIN listings.venues v ON v.venue_id = e.venue_id
WHERE e.start_date >= $1
  AND e.start_date < $2
  AND ($3 = '' OR s.slug = $3)
  AND ($4 = FALSE OR e.is_active)
ORDER BY e.start_date ASC, e.start_time ASC NULLS LAST, e.event_id ASC
LIMIT $5
`
	rows, err := p.Query(ctx, q,
		from.Format("2006-01-02"),
		to.Format("2006-01-02"),
		strings.TrimSpace(strings.ToLower(opts.SourceSlug)),
		opts.ActiveOnly,
		opts.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	items := make([]EventListItem, 0, opts.Limit)
	for rows.Next() {
		var row EventListItem
		if err := rows.Scan(
			&row.EventUUID,
			&row.SourceSlug,
			&row.VenueName,
			&row.Title,
			&row.StartDate,
			&row.StartTime,
			&row.Category,
			&row.Tags,
			&row.URL,
			&row.IsActive,
			&row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return items, nil
}

// SourceStats stores per-source listing counts.
type SourceStats struct {
	Slug         string     `json:"slug"`
	EventsTotal  int64      `json:"events_total"`
	EventsActive int64      `json:"events_active"`
	Upcoming     int64      `json:"upcoming"`
	LastCrawlAt  *time.Time `json:"last_crawl_at,omitempty"`
}

// ListingStats is the read model returned by the stats endpoint.
type ListingStats struct {
	Sources      []SourceStats `json:"sources"`
	EventsTotal  int64         `json:"events_total"`
	EventsActive int64         `json:"events_active"`
}

// QueryListingStats returns per-source and total event counts.
func (p *Pool) QueryListingStats(ctx context.Context, today time.Time) (*ListingStats, error) {
	const q = `
WITH event_stats AS (
	SELECT
		e.source_id,
		COUNT(*)::BIGINT AS events_total,
		COUNT(*) FILTER (WHERE e.is_active)::BIGINT AS events_active,
		COUNT(*) FILTER (WHERE e.is_active AND e.start_date >= $1)::BIGINT AS upcoming
	FROM listings.events e
	GROUP BY e.source_id
),
last_runs AS (
	SELECT r.source_slug, MAX(r.started_at) AS last_crawl_at
	FROM listings.crawl_runs r
	GROUP BY r.source_slug
)
SELECT
	s.slug,
	COALESCE(es.events_total, 0),
	COALESCE(es.events_active, 0),
	COALESCE(es.upcoming, 0),
	lr.last_crawl_at
FROM listings.sources s
LEFT JOIN event_stats es ON es.source_id = s.source_id
LEFT JOIN last_runs lr ON lr.source_slug = s.slug
ORDER BY s.slug
`
	rows, err := p.Query(ctx, q, today.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("query listing stats: %w", err)
	}
	defer rows.Close()

	stats := &ListingStats{Sources: make([]SourceStats, 0, 32)}
	for rows.Next() {
		var row SourceStats
		if err := rows.Scan(
			&row.Slug,
			&row.EventsTotal,
			&row.EventsActive,
			&row.Upcoming,
			&row.LastCrawlAt,
		); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		stats.EventsTotal += row.EventsTotal
		stats.EventsActive += row.EventsActive
		stats.Sources = append(stats.Sources, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats rows: %w", err)
	}
	return stats, nil
}
