package ingest

import (
	"testing"
)

func TestNormalizeTitle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"already clean", "harbor jazz night", "harbor jazz night"},
		{"case folded", "Harbor JAZZ Night", "harbor jazz night"},
		{"whitespace collapsed", "  Harbor \t Jazz\n Night ", "harbor jazz night"},
		{"control runes dropped", "harbor \a jazz \x00night", "harbor jazz night"},
		{"empty", "   ", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeTitle(tc.input); got != tc.want {
				t.Fatalf("NormalizeTitle(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestContentHash_StableUnderTitleVariants(t *testing.T) {
	t.Parallel()

	base := ContentHash("harbor", "pier-hall", NormalizeTitle("Harbor Jazz Night"), "2026-09-12", "19:30")
	variant := ContentHash("harbor", "pier-hall", NormalizeTitle("  HARBOR   jazz NIGHT "), "2026-09-12", " 19:30 ")
	if base != variant {
		t.Fatalf("case/whitespace variants produced different hashes:\n%s\n%s", base, variant)
	}
	if len(base) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(base))
	}
}

func TestContentHash_DistinctIdentityNeverMerges(t *testing.T) {
	t.Parallel()

	title := NormalizeTitle("Harbor Jazz Night")
	base := ContentHash("harbor", "pier-hall", title, "2026-09-12", "19:30")

	variants := map[string]string{
		"different date":   ContentHash("harbor", "pier-hall", title, "2026-09-13", "19:30"),
		"different venue":  ContentHash("harbor", "warehouse", title, "2026-09-12", "19:30"),
		"different source": ContentHash("portal", "pier-hall", title, "2026-09-12", "19:30"),
		"different time":   ContentHash("harbor", "pier-hall", title, "2026-09-12", "21:00"),
		"missing time":     ContentHash("harbor", "pier-hall", title, "2026-09-12", ""),
	}
	for name, hash := range variants {
		if hash == base {
			t.Fatalf("%s collided with the base fingerprint", name)
		}
	}
}

func TestVenueKey(t *testing.T) {
	t.Parallel()

	if got := VenueKey("pier-hall", "The Warehouse", "harbor jazz night"); got != "pier-hall" {
		t.Fatalf("VenueKey with slug = %q, want pier-hall", got)
	}
	if got := VenueKey("", "The Warehouse", "harbor jazz night"); got != "the-warehouse" {
		t.Fatalf("VenueKey from name = %q, want the-warehouse", got)
	}
	if got := VenueKey("", "", "harbor jazz night"); got != "harbor jazz night" {
		t.Fatalf("VenueKey fallback = %q, want the normalized title", got)
	}
}
