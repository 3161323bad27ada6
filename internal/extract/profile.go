package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"citypulse.fyi/citypulse/internal/config"
)

// ProfileExtractor pulls candidates out of structured JSON listing feeds
// using per-source declarative profiles.
type ProfileExtractor struct {
	fetchOpts FetchOptions
	logger    zerolog.Logger
}

// NewProfileExtractor builds the profile-driven adapter.
func NewProfileExtractor(cfg *config.Config, logger zerolog.Logger) *ProfileExtractor {
	return &ProfileExtractor{
		fetchOpts: fetchOptionsFromConfig(cfg),
		logger:    logger.With().Str("extractor", "profile").Logger(),
	}
}

// Extract fetches the source URL and maps the configured item array into
// candidates. Fetch failures and unusable documents yield an empty slice so
// a flaky feed never aborts the crawl.
func (e *ProfileExtractor) Extract(ctx context.Context, source Source) ([]Candidate, error) {
	profile, err := ValidateSourceProfile(source.ProfileConfig)
	if err != nil {
		return nil, fmt.Errorf("source %s profile: %w", source.Slug, err)
	}

	body, _, err := fetchBody(ctx, source.URL, e.fetchOpts)
	if err != nil {
		e.logger.Warn().Err(err).Str("source", source.Slug).Str("url", source.URL).Msg("listing fetch failed")
		return []Candidate{}, nil
	}

	var document any
	if err := json.Unmarshal(body, &document); err != nil {
		e.logger.Warn().Err(err).Str("source", source.Slug).Msg("listing document is not valid JSON")
		return []Candidate{}, nil
	}

	items, ok := lookupPath(document, profile.ItemsPath)
	if !ok {
		e.logger.Warn().Str("source", source.Slug).Str("items_path", profile.ItemsPath).Msg("items path not found in listing document")
		return []Candidate{}, nil
	}
	itemList, ok := items.([]any)
	if !ok {
		e.logger.Warn().Str("source", source.Slug).Str("items_path", profile.ItemsPath).Msg("items path does not select an array")
		return []Candidate{}, nil
	}

	candidates := make([]Candidate, 0, len(itemList))
	for _, item := range itemList {
		candidate, ok := e.mapItem(profile, item)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

func (e *ProfileExtractor) mapItem(profile *SourceProfile, item any) (Candidate, bool) {
	title := stringAtPath(item, profile.Fields.Title)
	if strings.TrimSpace(title) == "" {
		return Candidate{}, false
	}

	candidate := Candidate{
		Title:       title,
		StartDate:   stringAtPath(item, profile.Fields.Date),
		RawDateText: stringAtPath(item, profile.Fields.RawDate),
		StartTime:   stringAtPath(item, profile.Fields.Time),
		EndTime:     stringAtPath(item, profile.Fields.EndTime),
		VenueName:   stringAtPath(item, profile.Fields.Venue),
		Description: stringAtPath(item, profile.Fields.Description),
		Category:    stringAtPath(item, profile.Fields.Category),
		Language:    stringAtPath(item, profile.Fields.Language),
		URL:         stringAtPath(item, profile.Fields.URL),
	}
	if profile.Fields.Tags != "" {
		if value, ok := lookupPath(item, profile.Fields.Tags); ok {
			candidate.Tags = coerceTags(value)
		}
	}
	return candidate, true
}

// lookupPath walks a dot path through nested JSON objects. A path of "."
// selects the document itself.
func lookupPath(document any, path string) (any, bool) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, false
	}
	if trimmed == "." {
		return document, true
	}

	current := document
	for _, segment := range strings.Split(trimmed, ".") {
		object, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = object[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringAtPath(item any, path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	value, ok := lookupPath(item, path)
	if !ok {
		return ""
	}
	text, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}

// coerceTags accepts either a JSON array of strings or a comma separated
// string, since feeds disagree on the shape.
func coerceTags(value any) []string {
	switch typed := value.(type) {
	case []any:
		tags := make([]string, 0, len(typed))
		for _, entry := range typed {
			if text, ok := entry.(string); ok && strings.TrimSpace(text) != "" {
				tags = append(tags, strings.TrimSpace(text))
			}
		}
		return tags
	case string:
		parts := strings.Split(typed, ",")
		tags := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				tags = append(tags, trimmed)
			}
		}
		return tags
	default:
		return nil
	}
}
