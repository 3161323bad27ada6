// Package extract turns raw source content into candidate event records.
// Two interchangeable adapters exist: a profile-driven one mapping
// structured listing documents through declarative field rules, and a
// model-driven one handing readable page text to a language-model
// extraction endpoint. Callers depend only on the Candidate shape, never on
// which adapter produced it.
package extract

import (
	"context"
	"encoding/json"
)

// Candidate is an ephemeral event record produced by an adapter. It has no
// identity beyond its originating source; the ingestion pipeline assigns
// one by normalizing and fingerprinting it.
type Candidate struct {
	VenueSlug   string
	VenueName   string
	Title       string
	RawDateText string
	StartDate   string
	StartTime   string
	EndTime     string
	Description string
	Category    string
	Tags        []string
	Language    string
	URL         string
}

// Source is the slice of a source record an adapter needs.
type Source struct {
	Slug              string
	Name              string
	URL               string
	IntegrationMethod string
	ProfileConfig     json.RawMessage
}

// Extractor is the capability interface shared by both adapter variants.
// Empty or unusable page content yields an empty slice, not an error;
// "nothing extracted" is a normal outcome.
type Extractor interface {
	Extract(ctx context.Context, src Source) ([]Candidate, error)
}
