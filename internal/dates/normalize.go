// Package dates resolves the partial and suspect dates that event listings
// ship with: "Jan 15" without a year, or an ISO date stamped one year too
// far into the future by an upstream extractor.
package dates

import (
	"regexp"
	"strings"
	"time"
)

// rolloverThresholdDays separates "this already happened recently" from
// "this wraps around to next year" when a partial date has no year.
const rolloverThresholdDays = 180

var (
	weekdayPrefix = regexp.MustCompile(`(?i)^(mon|tue|tues|wed|thu|thur|thurs|fri|sat|sun)[a-z]*\.?,?\s+`)
	ordinalSuffix = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
)

var yearLayouts = []string{
	"2006-01-02",
	"Jan 2 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
}

var partialLayouts = []string{
	"Jan 2",
	"January 2",
	"2 Jan",
	"2 January",
}

// ParseHumanDate resolves a human-written date against a reference date.
// Dates carrying an explicit year pass through verbatim. Year-less dates are
// read with today's year first; a candidate further in the past than the
// rollover threshold belongs to the next occurrence and rolls forward one
// year. The boolean is false when the text is not a recognizable date.
func ParseHumanDate(text string, today time.Time) (time.Time, bool) {
	cleaned := cleanDateText(text)
	if cleaned == "" {
		return time.Time{}, false
	}

	for _, layout := range yearLayouts {
		if ts, err := time.Parse(layout, cleaned); err == nil {
			return dateOnly(ts), true
		}
	}

	for _, layout := range partialLayouts {
		ts, err := time.Parse(layout, cleaned)
		if err != nil {
			continue
		}
		return resolveYear(ts.Month(), ts.Day(), today)
	}

	return time.Time{}, false
}

// NormalizeISODate heals the known defect class where a pipeline stamps a
// full ISO date exactly one year too far ahead. A date already within one
// year of today (past or future) passes through untouched. A date beyond
// that horizon is corrected down one year when the corrected date is
// plausible; anything else is rejected rather than guessed. Idempotent for
// every healable input.
func NormalizeISODate(value string, today time.Time) (time.Time, bool) {
	ts, err := time.Parse("2006-01-02", strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, false
	}

	ref := dateOnly(today)
	horizon := ref.AddDate(1, 0, 0)
	if !ts.After(horizon) {
		return ts, true
	}

	healed := ts.AddDate(-1, 0, 0)
	if !healed.After(horizon) && !healed.Before(ref.AddDate(0, 0, -rolloverThresholdDays)) {
		return healed, true
	}

	return time.Time{}, false
}

func resolveYear(month time.Month, day int, today time.Time) (time.Time, bool) {
	ref := dateOnly(today)

	candidate := time.Date(ref.Year(), month, day, 0, 0, 0, 0, time.UTC)
	if candidate.Month() != month || candidate.Day() != day {
		// Feb 29 in a non-leap reference year. The next occurrence is the
		// only sensible reading, provided it exists.
		next := time.Date(ref.Year()+1, month, day, 0, 0, 0, 0, time.UTC)
		if next.Month() != month || next.Day() != day {
			return time.Time{}, false
		}
		return next, true
	}

	if candidate.Before(ref.AddDate(0, 0, -rolloverThresholdDays)) {
		candidate = candidate.AddDate(1, 0, 0)
	}
	return candidate, true
}

func cleanDateText(text string) string {
	cleaned := strings.Join(strings.Fields(strings.TrimSpace(text)), " ")
	if cleaned == "" {
		return ""
	}
	cleaned = weekdayPrefix.ReplaceAllString(cleaned, "")
	cleaned = ordinalSuffix.ReplaceAllString(cleaned, "$1")
	cleaned = strings.Trim(cleaned, " .")
	return normalizeMonthCase(cleaned)
}

// normalizeMonthCase upper-cases the first letter of alphabetic tokens so
// "jan 15" and "JAN 15" both satisfy Go's reference layouts.
func normalizeMonthCase(text string) string {
	fields := strings.Fields(text)
	for i, field := range fields {
		trailing := ""
		word := field
		if strings.HasSuffix(word, ",") {
			trailing = ","
			word = strings.TrimSuffix(word, ",")
		}
		if word == "" || !isAlpha(word) {
			continue
		}
		fields[i] = strings.ToUpper(word[:1]) + strings.ToLower(word[1:]) + trailing
	}
	return strings.Join(fields, " ")
}

func isAlpha(word string) bool {
	for _, r := range word {
		if r < 'A' || (r > 'Z' && r < 'a') || r > 'z' {
			return false
		}
	}
	return true
}

func dateOnly(ts time.Time) time.Time {
	utc := ts.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}
