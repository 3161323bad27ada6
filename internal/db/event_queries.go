package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrDuplicateEvent reports that another writer inserted the same
// (source, fingerprint) pair first. Callers treat it as a skip, not a failure.
var ErrDuplicateEvent = errors.New("duplicate active event")

// UpdateOutcome distinguishes a no-op dedupe hit from an applied update.
type UpdateOutcome int

const (
	UpdateNoop UpdateOutcome = iota
	UpdateApplied
)

// EventFields carries the normalized candidate attributes written to an
// event row. Identity fields (event_id, created_at, content_hash of an
// existing row) are never touched by the update path.
type EventFields struct {
	SourceID        int64
	VenueID         *int64
	Title           string
	NormalizedTitle string
	StartDate       time.Time
	StartTime       *string
	EndTime         *string
	Description     *string
	Category        *string
	Tags            *string
	Language        string
	URL             *string
	ContentHash     string
}

// FindEventByHash is the dedupe point lookup. The active row wins when both
// an active and a deactivated row carry the fingerprint; otherwise the most
// recently touched inactive row is returned so it can be reactivated.
func (p *Pool) FindEventByHash(ctx context.Context, sourceID int64, hash string) (*Event, error) {
	trimmedHash := strings.TrimSpace(hash)
	if trimmedHash == "" {
		return nil, fmt.Errorf("content hash is required")
	}

	const q = `
SELECT
	e.event_id,
	e.event_uuid::text,
	e.source_id,
	e.venue_id,
	e.title,
	e.normalized_title,
	e.start_date,
	e.start_time,
	e.end_time,
	e.description,
	e.category,
	e.tags,
	e.language,
	e.url,
	e.content_hash,
	e.is_active,
	e.created_at,
	e.updated_at
FROM listings.events e
WHERE e.source_id = $1
  AND e.content_hash = $2
ORDER BY e.is_active DESC, e.updated_at DESC
LIMIT 1
`
	var ev Event
	if err := p.QueryRow(ctx, q, sourceID, trimmedHash).Scan(
		&ev.EventID,
		&ev.EventUUID,
		&ev.SourceID,
		&ev.VenueID,
		&ev.Title,
		&ev.NormalizedTitle,
		&ev.StartDate,
		&ev.StartTime,
		&ev.EndTime,
		&ev.Description,
		&ev.Category,
		&ev.Tags,
		&ev.Language,
		&ev.URL,
		&ev.ContentHash,
		&ev.IsActive,
		&ev.CreatedAt,
		&ev.UpdatedAt,
	); err != nil {
		if IsNoRows(err) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("query event by hash: %w", err)
	}
	return &ev, nil
}

// InsertEvent writes a new active event. A conflict on the active
// (source_id, content_hash) index means a concurrent crawl won the insert;
// that surfaces as ErrDuplicateEvent rather than a second row.
func (p *Pool) InsertEvent(ctx context.Context, fields EventFields, now time.Time) (int64, error) {
	if fields.SourceID <= 0 {
		return 0, fmt.Errorf("source id is required")
	}
	if strings.TrimSpace(fields.Title) == "" {
		return 0, fmt.Errorf("title is required")
	}
	if strings.TrimSpace(fields.ContentHash) == "" {
		return 0, fmt.Errorf("content hash is required")
	}
	if fields.StartDate.IsZero() {
		return 0, fmt.Errorf("start date is required")
	}

	language := strings.TrimSpace(fields.Language)
	if language == "" {
		language = "und"
	}

	const q = `
INSERT INTO listings.events (
	source_id,
	venue_id,
	title,
	normalized_title,
	start_date,
	start_time,
	end_time,
	description,
	category,
	tags,
	language,
	url,
	content_hash,
	is_active,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, TRUE, $14, $14)
ON CONFLICT (source_id, content_hash) WHERE is_active DO NOTHING
RETURNING event_id
`
	var eventID int64
	err := p.QueryRow(ctx, q,
		fields.SourceID,
		fields.VenueID,
		strings.TrimSpace(fields.Title),
		fields.NormalizedTitle,
		fields.StartDate.Format("2006-01-02"),
		fields.StartTime,
		fields.EndTime,
		fields.Description,
		fields.Category,
		fields.Tags,
		language,
		fields.URL,
		strings.TrimSpace(fields.ContentHash),
		now.UTC(),
	).Scan(&eventID)
	if err != nil {
		if IsNoRows(err) {
			return 0, ErrDuplicateEvent
		}
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return eventID, nil
}

// SmartUpdateExistingEvent diffs the mutable fields of an existing event
// against a re-extracted candidate. No difference means no write at all.
// Any difference applies the changed columns and reactivates a deactivated
// row: the source re-reporting the event is evidence it is current again.
// Under dryRun the outcome is computed without issuing the write.
func (p *Pool) SmartUpdateExistingEvent(ctx context.Context, existing *Event, fields EventFields, now time.Time, dryRun bool) (UpdateOutcome, error) {
	if existing == nil {
		return UpdateNoop, fmt.Errorf("existing event is required")
	}

	changes := eventChanges(existing, fields)
	if len(changes) == 0 {
		return UpdateNoop, nil
	}
	if dryRun {
		return UpdateApplied, nil
	}

	set := make([]string, 0, len(changes)+1)
	args := make([]any, 0, len(changes)+2)
	args = append(args, existing.EventID)
	argPos := 2
	for _, change := range changes {
		set = append(set, fmt.Sprintf("%s = $%d", change.column, argPos))
		args = append(args, change.value)
		argPos++
	}
	set = append(set, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, now.UTC())

	tx, err := p.BeginTx(ctx, TxOptions{})
	if err != nil {
		return UpdateNoop, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	q := fmt.Sprintf(`
UPDATE listings.events
SET
	%s
WHERE event_id = $1
`, strings.Join(set, ",\n\t"))

	tag, err := tx.Exec(ctx, q, args...)
	if err != nil {
		return UpdateNoop, fmt.Errorf("update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return UpdateNoop, ErrNoRows
	}

	if err := tx.Commit(ctx); err != nil {
		return UpdateNoop, fmt.Errorf("commit transaction: %w", err)
	}
	return UpdateApplied, nil
}

type fieldChange struct {
	column string
	value  any
}

// eventChanges lists the mutable columns whose candidate value differs from
// the stored one. The reactivation rule lives here too: a candidate is
// always active, so an inactive row with any sighting flips back on.
func eventChanges(existing *Event, fields EventFields) []fieldChange {
	changes := make([]fieldChange, 0, 8)

	if !ptrStringEqual(existing.Description, fields.Description) {
		changes = append(changes, fieldChange{column: "description", value: fields.Description})
	}
	if !ptrStringEqual(existing.Category, fields.Category) {
		changes = append(changes, fieldChange{column: "category", value: fields.Category})
	}
	if !ptrStringEqual(existing.Tags, fields.Tags) {
		changes = append(changes, fieldChange{column: "tags", value: fields.Tags})
	}
	if !ptrStringEqual(existing.StartTime, fields.StartTime) {
		changes = append(changes, fieldChange{column: "start_time", value: fields.StartTime})
	}
	if !ptrStringEqual(existing.EndTime, fields.EndTime) {
		changes = append(changes, fieldChange{column: "end_time", value: fields.EndTime})
	}
	if !ptrStringEqual(existing.URL, fields.URL) {
		changes = append(changes, fieldChange{column: "url", value: fields.URL})
	}
	if !ptrInt64Equal(existing.VenueID, fields.VenueID) {
		changes = append(changes, fieldChange{column: "venue_id", value: fields.VenueID})
	}
	if language := strings.TrimSpace(fields.Language); language != "" && language != "und" && language != existing.Language {
		changes = append(changes, fieldChange{column: "language", value: language})
	}
	if !existing.IsActive {
		changes = append(changes, fieldChange{column: "is_active", value: true})
	}

	return changes
}

func ptrStringEqual(a, b *string) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return strings.TrimSpace(*a) == strings.TrimSpace(*b)
}

func ptrInt64Equal(a, b *int64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

// NormalizeTags folds, dedupes, and sorts a tag set into its stored text
// form, so crawls emitting the same tags in a different order do not churn
// the update path.
func NormalizeTags(tags []string) *string {
	if len(tags) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(tags))
	normalized := make([]string, 0, len(tags))
	for _, tag := range tags {
		folded := strings.ToLower(strings.TrimSpace(tag))
		if folded == "" {
			continue
		}
		if _, ok := seen[folded]; ok {
			continue
		}
		seen[folded] = struct{}{}
		normalized = append(normalized, folded)
	}
	if len(normalized) == 0 {
		return nil
	}
	sort.Strings(normalized)

	joined := strings.Join(normalized, ", ")
	return &joined
}

// DeactivateTBAEvents clears the active flag on placeholder events whose
// nominal date has passed the grace window. Rows are kept, never deleted,
// and a second consecutive sweep affects nothing.
func (p *Pool) DeactivateTBAEvents(ctx context.Context, now time.Time, graceDays int) (int64, error) {
	if graceDays < 0 {
		return 0, fmt.Errorf("grace days must be >= 0")
	}

	today := now.UTC()
	cutoff := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -graceDays)

	const q = `
UPDATE listings.events
SET
	is_active = FALSE,
	updated_at = $1
WHERE is_active
  AND start_date < $2
  AND (
	normalized_title ~ '\mtba\M'
	OR normalized_title ~ '\mtbd\M'
	OR normalized_title LIKE '%to be announced%'
	OR normalized_title LIKE '%to be confirmed%'
	OR normalized_title LIKE '%date tbd%'
  )
`
	tag, err := p.Exec(ctx, q, today, cutoff.Format("2006-01-02"))
	if err != nil {
		return 0, fmt.Errorf("deactivate tba events: %w", err)
	}
	return tag.RowsAffected(), nil
}
