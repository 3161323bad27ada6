package db

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// VenueFields carries the venue attributes a crawl can supply.
type VenueFields struct {
	Name      string
	Address   *string
	City      *string
	VenueType *string
	Vibes     *string
	Website   *string
}

func (p *Pool) GetSourceBySlug(ctx context.Context, slug string) (*Source, error) {
	trimmed := strings.TrimSpace(strings.ToLower(slug))
	if trimmed == "" {
		return nil, fmt.Errorf("source slug is required")
	}

	const q = `
SELECT
	s.source_id,
	s.source_uuid::text,
	s.slug,
	s.name,
	s.url,
	s.source_type,
	s.is_active,
	s.crawl_frequency,
	s.integration_method,
	s.portal,
	s.profile_config,
	s.created_at,
	s.updated_at
FROM listings.sources s
WHERE s.slug = $1
`
	var src Source
	if err := p.QueryRow(ctx, q, trimmed).Scan(
		&src.SourceID,
		&src.SourceUUID,
		&src.Slug,
		&src.Name,
		&src.URL,
		&src.SourceType,
		&src.IsActive,
		&src.CrawlFrequency,
		&src.IntegrationMethod,
		&src.Portal,
		&src.ProfileConfig,
		&src.CreatedAt,
		&src.UpdatedAt,
	); err != nil {
		if IsNoRows(err) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("query source %q: %w", trimmed, err)
	}
	return &src, nil
}

// ListSources returns sources ordered by slug. With activeOnly set, inactive
// sources are omitted; the scheduler uses this to build its crawl entries.
func (p *Pool) ListSources(ctx context.Context, activeOnly bool) ([]Source, error) {
	const q = `
SELECT
	s.source_id,
	s.source_uuid::text,
	s.slug,
	s.name,
	s.url,
	s.source_type,
	s.is_active,
	s.crawl_frequency,
	s.integration_method,
	s.portal,
	s.profile_config,
	s.created_at,
	s.updated_at
FROM listings.sources s
WHERE ($1 = FALSE OR s.is_active)
ORDER BY s.slug
`
	rows, err := p.Query(ctx, q, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	sources := make([]Source, 0, 32)
	for rows.Next() {
		var src Source
		if err := rows.Scan(
			&src.SourceID,
			&src.SourceUUID,
			&src.Slug,
			&src.Name,
			&src.URL,
			&src.SourceType,
			&src.IsActive,
			&src.CrawlFrequency,
			&src.IntegrationMethod,
			&src.Portal,
			&src.ProfileConfig,
			&src.CreatedAt,
			&src.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source rows: %w", err)
	}
	return sources, nil
}

// GetOrCreateVenue resolves a venue by its slugified name, inserting it on
// first sight. The insert races through the slug uniqueness constraint, so a
// concurrent creator leaves exactly one row either way.
func (p *Pool) GetOrCreateVenue(ctx context.Context, fields VenueFields, now time.Time) (int64, error) {
	name := strings.TrimSpace(fields.Name)
	if name == "" {
		return 0, fmt.Errorf("venue name is required")
	}
	slug := Slugify(name)
	if slug == "" {
		return 0, fmt.Errorf("venue name %q does not slugify", name)
	}

	const selectQuery = `
SELECT venue_id
FROM listings.venues
WHERE slug = $1
`
	var venueID int64
	err := p.QueryRow(ctx, selectQuery, slug).Scan(&venueID)
	if err == nil {
		return venueID, nil
	}
	if !IsNoRows(err) {
		return 0, fmt.Errorf("query venue %q: %w", slug, err)
	}

	const insertQuery = `
INSERT INTO listings.venues (
	slug,
	name,
	address,
	city,
	venue_type,
	vibes,
	website,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
ON CONFLICT (slug) DO NOTHING
RETURNING venue_id
`
	err = p.QueryRow(ctx, insertQuery,
		slug,
		name,
		fields.Address,
		fields.City,
		fields.VenueType,
		fields.Vibes,
		fields.Website,
		now.UTC(),
	).Scan(&venueID)
	if err == nil {
		return venueID, nil
	}
	if !IsNoRows(err) {
		return 0, fmt.Errorf("insert venue %q: %w", slug, err)
	}

	// Lost the insert race; the winner's row is there now.
	if err := p.QueryRow(ctx, selectQuery, slug).Scan(&venueID); err != nil {
		return 0, fmt.Errorf("reload venue %q after conflict: %w", slug, err)
	}
	return venueID, nil
}

// Slugify reduces a name to a lowercase hyphenated identifier.
func Slugify(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	if lowered == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(lowered))
	lastHyphen := false
	for _, r := range lowered {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteRune('-')
			lastHyphen = true
		}
	}
	return strings.Trim(b.String(), "-")
}
