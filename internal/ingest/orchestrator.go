package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"citypulse.fyi/citypulse/internal/dates"
	"citypulse.fyi/citypulse/internal/db"
	"citypulse.fyi/citypulse/internal/extract"
	"citypulse.fyi/citypulse/internal/globaltime"
)

// maxRunErrorLength caps the error text recorded on a failed crawl run row.
const maxRunErrorLength = 4000

// Store is the slice of the database layer a crawl needs.
type Store interface {
	GetSourceBySlug(ctx context.Context, slug string) (*db.Source, error)
	GetOrCreateVenue(ctx context.Context, fields db.VenueFields, now time.Time) (int64, error)
	FindEventByHash(ctx context.Context, sourceID int64, hash string) (*db.Event, error)
	InsertEvent(ctx context.Context, fields db.EventFields, now time.Time) (int64, error)
	SmartUpdateExistingEvent(ctx context.Context, existing *db.Event, fields db.EventFields, now time.Time, dryRun bool) (db.UpdateOutcome, error)
	InsertCrawlRun(ctx context.Context, runUUID, sourceSlug string, startedAt time.Time) (int64, error)
	FinishCrawlRun(ctx context.Context, runID int64, found, inserted, updated int, errorMessage *string, finishedAt time.Time) error
}

// Service runs crawls for one source at a time.
type Service struct {
	store     Store
	extractor extract.Extractor
	logger    zerolog.Logger
}

// NewService wires a crawl service.
func NewService(store Store, extractor extract.Extractor, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		extractor: extractor,
		logger:    logger.With().Str("component", "ingest").Logger(),
	}
}

// RunOptions selects the source and the crawl mode.
type RunOptions struct {
	SourceSlug string
	// DryRun computes every per-candidate decision but issues no writes:
	// no event rows, no venues, no crawl-run ledger entry.
	DryRun bool
	// Limit caps how many extracted candidates are considered. Zero means
	// all of them.
	Limit int
}

// Result aggregates the per-candidate outcomes of one crawl.
type Result struct {
	SourceSlug    string `json:"source_slug"`
	RunUUID       string `json:"run_uuid,omitempty"`
	DryRun        bool   `json:"dry_run"`
	EventsFound   int    `json:"events_found"`
	EventsNew     int    `json:"events_new"`
	EventsUpdated int    `json:"events_updated"`
}

// outcome classifies what happened to one candidate.
type outcome int

const (
	outcomeInserted outcome = iota
	outcomeUpdated
	outcomeSkipped
	outcomeDropped
)

// Run executes one crawl of the named source. Candidates are processed in
// extraction order. A candidate whose date cannot be resolved is dropped
// and the crawl continues; a store failure aborts the crawl, returning the
// counts accumulated so far alongside the error.
func (s *Service) Run(ctx context.Context, opts RunOptions) (Result, error) {
	slug := strings.TrimSpace(strings.ToLower(opts.SourceSlug))
	result := Result{SourceSlug: slug, DryRun: opts.DryRun}
	if slug == "" {
		return result, fmt.Errorf("source slug is required")
	}

	source, err := s.store.GetSourceBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return result, fmt.Errorf("source %q not found", slug)
		}
		return result, fmt.Errorf("load source %q: %w", slug, err)
	}

	startedAt := globaltime.UTC()
	var runID int64
	if !opts.DryRun {
		result.RunUUID = uuid.NewString()
		runID, err = s.store.InsertCrawlRun(ctx, result.RunUUID, source.Slug, startedAt)
		if err != nil {
			return result, fmt.Errorf("record crawl run: %w", err)
		}
	}

	runErr := s.crawl(ctx, source, opts, &result)

	if !opts.DryRun {
		var errorMessage *string
		if runErr != nil {
			message := truncateError(runErr)
			errorMessage = &message
		}
		finishedAt := globaltime.UTC()
		if finishErr := s.store.FinishCrawlRun(ctx, runID, result.EventsFound, result.EventsNew, result.EventsUpdated, errorMessage, finishedAt); finishErr != nil {
			s.logger.Error().Err(finishErr).Str("source", source.Slug).Msg("failed to finalize crawl run row")
			if runErr == nil {
				runErr = fmt.Errorf("finalize crawl run: %w", finishErr)
			}
		}
	}

	logEvent := s.logger.Info()
	if runErr != nil {
		logEvent = s.logger.Error().Err(runErr)
	}
	logEvent.
		Str("source", source.Slug).
		Bool("dry_run", opts.DryRun).
		Int("events_found", result.EventsFound).
		Int("events_new", result.EventsNew).
		Int("events_updated", result.EventsUpdated).
		Msg("crawl finished")

	return result, runErr
}

func (s *Service) crawl(ctx context.Context, source *db.Source, opts RunOptions, result *Result) error {
	candidates, err := s.extractor.Extract(ctx, extract.Source{
		Slug:              source.Slug,
		Name:              source.Name,
		URL:               source.URL,
		IntegrationMethod: source.IntegrationMethod,
		ProfileConfig:     source.ProfileConfig,
	})
	if err != nil {
		return fmt.Errorf("extract candidates for %q: %w", source.Slug, err)
	}

	if opts.Limit > 0 && len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}

	for i := range candidates {
		result.EventsFound++

		decided, err := s.processCandidate(ctx, source, &candidates[i], opts.DryRun)
		if err != nil {
			return fmt.Errorf("candidate %d (%q): %w", i, candidates[i].Title, err)
		}

		switch decided {
		case outcomeInserted:
			result.EventsNew++
		case outcomeUpdated:
			result.EventsUpdated++
		case outcomeSkipped, outcomeDropped:
		}
	}
	return nil
}

// processCandidate resolves one candidate against the store: normalize,
// fingerprint, then insert, update, or skip. Only store errors propagate;
// unusable candidates are dropped.
func (s *Service) processCandidate(ctx context.Context, source *db.Source, candidate *extract.Candidate, dryRun bool) (outcome, error) {
	normalizedTitle := NormalizeTitle(candidate.Title)
	if normalizedTitle == "" {
		s.logger.Debug().Str("source", source.Slug).Msg("dropped candidate with empty title")
		return outcomeDropped, nil
	}

	startDate, ok := resolveStartDate(candidate, globaltime.Today())
	if !ok {
		s.logger.Warn().
			Str("source", source.Slug).
			Str("title", candidate.Title).
			Str("date", candidate.StartDate).
			Str("raw_date", candidate.RawDateText).
			Msg("dropped candidate with unresolvable date")
		return outcomeDropped, nil
	}
	isoDate := startDate.Format("2006-01-02")

	venueKey := VenueKey(candidate.VenueSlug, candidate.VenueName, normalizedTitle)
	hash := ContentHash(source.Slug, venueKey, normalizedTitle, isoDate, candidate.StartTime)

	now := globaltime.UTC()
	existing, err := s.store.FindEventByHash(ctx, source.SourceID, hash)
	if err != nil && !errors.Is(err, db.ErrNoRows) {
		return outcomeDropped, fmt.Errorf("dedupe lookup: %w", err)
	}

	fields := db.EventFields{
		SourceID:        source.SourceID,
		Title:           candidate.Title,
		NormalizedTitle: normalizedTitle,
		StartDate:       startDate,
		StartTime:       optionalText(NormalizeClockTime(candidate.StartTime)),
		EndTime:         optionalText(NormalizeClockTime(candidate.EndTime)),
		Description:     optionalText(candidate.Description),
		Category:        optionalText(candidate.Category),
		Tags:            db.NormalizeTags(candidate.Tags),
		Language:        candidate.Language,
		URL:             optionalText(candidate.URL),
		ContentHash:     hash,
	}

	if existing != nil {
		// Same fingerprint means same venue identity; keep the stored
		// assignment instead of re-resolving it.
		fields.VenueID = existing.VenueID

		decided, err := s.store.SmartUpdateExistingEvent(ctx, existing, fields, now, dryRun)
		if err != nil {
			return outcomeDropped, fmt.Errorf("update event: %w", err)
		}
		if decided == db.UpdateApplied {
			return outcomeUpdated, nil
		}
		return outcomeSkipped, nil
	}

	if dryRun {
		return outcomeInserted, nil
	}

	if name := strings.TrimSpace(candidate.VenueName); name != "" {
		venueID, err := s.store.GetOrCreateVenue(ctx, db.VenueFields{Name: name}, now)
		if err != nil {
			return outcomeDropped, fmt.Errorf("resolve venue %q: %w", name, err)
		}
		fields.VenueID = &venueID
	}

	if _, err := s.store.InsertEvent(ctx, fields, now); err != nil {
		if errors.Is(err, db.ErrDuplicateEvent) {
			// A concurrent crawl inserted the same fingerprint first.
			return outcomeSkipped, nil
		}
		return outcomeDropped, fmt.Errorf("insert event: %w", err)
	}
	return outcomeInserted, nil
}

// resolveStartDate prefers the structured date field, healing the stamped
// year when needed, and falls back to parsing the raw date text.
func resolveStartDate(candidate *extract.Candidate, today time.Time) (time.Time, bool) {
	if value := strings.TrimSpace(candidate.StartDate); value != "" {
		if resolved, ok := dates.NormalizeISODate(value, today); ok {
			return resolved, true
		}
		if resolved, ok := dates.ParseHumanDate(value, today); ok {
			return resolved, true
		}
	}
	if value := strings.TrimSpace(candidate.RawDateText); value != "" {
		if resolved, ok := dates.ParseHumanDate(value, today); ok {
			return resolved, true
		}
	}
	return time.Time{}, false
}

func optionalText(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func truncateError(err error) string {
	message := err.Error()
	if len(message) > maxRunErrorLength {
		return message[:maxRunErrorLength]
	}
	return message
}
