package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestDispatcher_RejectsUnknownMethod(t *testing.T) {
	t.Parallel()

	dispatcher := NewDispatcher(nil, zerolog.Nop())
	_, err := dispatcher.Extract(context.Background(), Source{
		Slug:              "mystery",
		URL:               "https://example.test",
		IntegrationMethod: "scrape",
	})
	if err == nil {
		t.Fatalf("Extract() with unknown integration method succeeded")
	}
}

func TestDispatcher_NormalizesReportedLanguage(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"events": [
				{"name": "Stadtfest", "start": "2026-09-12", "lang": "DE_de"},
				{"name": "Block Party", "start": "2026-09-13", "lang": "en-US"}
			]
		}`))
	}))
	defer server.Close()

	dispatcher := NewDispatcher(nil, zerolog.Nop())
	candidates, err := dispatcher.Extract(context.Background(), Source{
		Slug:              "fests",
		URL:               server.URL,
		IntegrationMethod: "profile",
		ProfileConfig: json.RawMessage(`{
			"items_path": "events",
			"fields": {"title": "name", "date": "start", "language": "lang"}
		}`),
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("Extract() returned %d candidates, want 2", len(candidates))
	}
	if candidates[0].Language != "de" {
		t.Fatalf("first Language = %q, want de", candidates[0].Language)
	}
	if candidates[1].Language != "en" {
		t.Fatalf("second Language = %q, want en", candidates[1].Language)
	}
}
