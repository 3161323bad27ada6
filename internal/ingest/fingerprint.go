// Package ingest drives a crawl: extract candidates, normalize them,
// fingerprint them, and reconcile each one against the event store.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"citypulse.fyi/citypulse/internal/db"
)

// noTimeSentinel stands in for a missing start time so timed and untimed
// listings of the same event never share a fingerprint.
const noTimeSentinel = "no-time"

// NormalizeTitle folds a title for fingerprinting and storage: lowercase,
// internal whitespace collapsed, control runes dropped.
func NormalizeTitle(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

// VenueKey picks the venue component of the fingerprint: the venue slug
// when the source provides one, else the slugified venue name, else the
// normalized title itself so venue-less listings still key consistently.
func VenueKey(venueSlug, venueName, normalizedTitle string) string {
	if slug := strings.TrimSpace(strings.ToLower(venueSlug)); slug != "" {
		return slug
	}
	if slug := db.Slugify(venueName); slug != "" {
		return slug
	}
	return normalizedTitle
}

// NormalizeClockTime canonicalizes a start/end time string for hashing and
// storage. It keeps the text form; fingerprinting only needs stability, not
// parsing.
func NormalizeClockTime(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}

// ContentHash is the dedupe fingerprint: SHA-256 over the newline-joined
// identity components. Case and whitespace variants of a title collide;
// distinct dates, times, or venues never do.
func ContentHash(sourceSlug, venueKey, normalizedTitle, isoDate, startTime string) string {
	timePart := NormalizeClockTime(startTime)
	if timePart == "" {
		timePart = noTimeSentinel
	}

	material := strings.Join([]string{
		strings.TrimSpace(strings.ToLower(sourceSlug)),
		venueKey,
		normalizedTitle,
		isoDate,
		timePart,
	}, "\n")

	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}
