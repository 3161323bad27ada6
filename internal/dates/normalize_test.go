package dates

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseHumanDate_RollsIntoNextYear(t *testing.T) {
	t.Parallel()

	// Crawled in December, "Jan 15" can only mean the coming January.
	got, ok := ParseHumanDate("Jan 15", date(2026, time.December, 10))
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if !got.Equal(date(2027, time.January, 15)) {
		t.Fatalf("unexpected date: %s", got.Format("2006-01-02"))
	}
}

func TestParseHumanDate_KeepsRecentPastInSameYear(t *testing.T) {
	t.Parallel()

	// Crawled in February, "Jan 15" plausibly just happened.
	got, ok := ParseHumanDate("Jan 15", date(2026, time.February, 10))
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if !got.Equal(date(2026, time.January, 15)) {
		t.Fatalf("unexpected date: %s", got.Format("2006-01-02"))
	}
}

func TestParseHumanDate_Formats(t *testing.T) {
	t.Parallel()

	today := date(2026, time.February, 10)
	cases := []struct {
		input string
		want  time.Time
	}{
		{"January 15", date(2026, time.January, 15)},
		{"15 Jan", date(2026, time.January, 15)},
		{"jan 15", date(2026, time.January, 15)},
		{"Sat, Mar 14", date(2026, time.March, 14)},
		{"March 14th", date(2026, time.March, 14)},
		{"Jan 15, 2030", date(2030, time.January, 15)},
		{"2026-07-04", date(2026, time.July, 4)},
	}
	for _, tc := range cases {
		got, ok := ParseHumanDate(tc.input, today)
		if !ok {
			t.Fatalf("parse %q failed", tc.input)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("parse %q: got %s want %s", tc.input, got.Format("2006-01-02"), tc.want.Format("2006-01-02"))
		}
	}
}

func TestParseHumanDate_ExplicitYearPassesVerbatim(t *testing.T) {
	t.Parallel()

	// A fully specified far-future date is not second-guessed.
	got, ok := ParseHumanDate("Jan 15 2031", date(2026, time.December, 10))
	if !ok || !got.Equal(date(2031, time.January, 15)) {
		t.Fatalf("expected verbatim 2031-01-15, got %v ok=%t", got, ok)
	}
}

func TestParseHumanDate_InferredDateNeverMoreThanYearAhead(t *testing.T) {
	t.Parallel()

	todays := []time.Time{
		date(2026, time.January, 3),
		date(2026, time.June, 15),
		date(2026, time.December, 28),
	}
	inputs := []string{"Jan 2", "Feb 14", "Jul 4", "Oct 31", "Dec 31"}
	for _, today := range todays {
		horizon := today.AddDate(1, 0, 0)
		for _, input := range inputs {
			got, ok := ParseHumanDate(input, today)
			if !ok {
				t.Fatalf("parse %q failed for today=%s", input, today.Format("2006-01-02"))
			}
			if got.After(horizon) {
				t.Fatalf("inferred %q with today=%s landed beyond one year: %s",
					input, today.Format("2006-01-02"), got.Format("2006-01-02"))
			}
		}
	}
}

func TestParseHumanDate_LeapDay(t *testing.T) {
	t.Parallel()

	// 2027 is not a leap year; the next Feb 29 is in 2028.
	got, ok := ParseHumanDate("Feb 29", date(2027, time.March, 5))
	if !ok || !got.Equal(date(2028, time.February, 29)) {
		t.Fatalf("expected 2028-02-29, got %v ok=%t", got, ok)
	}
}

func TestParseHumanDate_Invalid(t *testing.T) {
	t.Parallel()

	today := date(2026, time.February, 10)
	for _, input := range []string{"", "   ", "every friday", "soon", "15"} {
		if _, ok := ParseHumanDate(input, today); ok {
			t.Fatalf("expected %q to be rejected", input)
		}
	}
}

func TestNormalizeISODate_HealsOneYearAhead(t *testing.T) {
	t.Parallel()

	got, ok := NormalizeISODate("2027-02-19", date(2026, time.February, 10))
	if !ok {
		t.Fatalf("expected heal to succeed")
	}
	if !got.Equal(date(2026, time.February, 19)) {
		t.Fatalf("unexpected healed date: %s", got.Format("2006-01-02"))
	}
}

func TestNormalizeISODate_RejectsUnhealableFarFuture(t *testing.T) {
	t.Parallel()

	if _, ok := NormalizeISODate("2028-10-01", date(2026, time.February, 10)); ok {
		t.Fatalf("expected far-future date to be rejected")
	}
}

func TestNormalizeISODate_PassesThroughPlausibleDates(t *testing.T) {
	t.Parallel()

	today := date(2026, time.February, 10)
	for _, input := range []string{"2026-02-19", "2026-12-31", "2025-11-02", "2027-02-01"} {
		got, ok := NormalizeISODate(input, today)
		if !ok {
			t.Fatalf("expected %q to pass through", input)
		}
		if got.Format("2006-01-02") != input {
			t.Fatalf("expected %q verbatim, got %s", input, got.Format("2006-01-02"))
		}
	}
}

func TestNormalizeISODate_Idempotent(t *testing.T) {
	t.Parallel()

	today := date(2026, time.February, 10)
	inputs := []string{"2027-02-19", "2027-09-01", "2026-06-15", "2025-12-24"}
	for _, input := range inputs {
		once, ok := NormalizeISODate(input, today)
		if !ok {
			t.Fatalf("expected %q to be healable", input)
		}
		twice, ok := NormalizeISODate(once.Format("2006-01-02"), today)
		if !ok {
			t.Fatalf("healed %q failed a second normalization", input)
		}
		if !twice.Equal(once) {
			t.Fatalf("normalization of %q is not idempotent: %s vs %s",
				input, once.Format("2006-01-02"), twice.Format("2006-01-02"))
		}
	}
}

func TestNormalizeISODate_Invalid(t *testing.T) {
	t.Parallel()

	today := date(2026, time.February, 10)
	for _, input := range []string{"", "Jan 15", "2026-13-40", "2026/02/19"} {
		if _, ok := NormalizeISODate(input, today); ok {
			t.Fatalf("expected %q to be rejected", input)
		}
	}
}
