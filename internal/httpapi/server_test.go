package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"citypulse.fyi/citypulse/internal/db"
)

func newTestServer() *Server {
	return NewServer(&db.Pool{}, nil, zerolog.Nop(), Options{})
}

func doRequest(t *testing.T, s *Server, method, target string) (*httptest.ResponseRecorder, jsendResponse) {
	t.Helper()

	e := s.buildEcho()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var body jsendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response body is not JSON: %v\n%s", err, rec.Body.String())
	}
	return rec, body
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	rec, body := doRequest(t, newTestServer(), http.MethodGet, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	if body.Status != "success" {
		t.Fatalf("health body status = %q", body.Status)
	}
	data, ok := body.Data.(map[string]any)
	if !ok || data["service"] != "citypulse" {
		t.Fatalf("health data = %v", body.Data)
	}
}

func TestHandleEvents_RejectsBadParams(t *testing.T) {
	t.Parallel()

	cases := []string{
		"/api/v1/events?limit=0",
		"/api/v1/events?limit=abc",
		"/api/v1/events?days=9999",
		"/api/v1/events?from=tomorrow",
	}
	for _, target := range cases {
		rec, body := doRequest(t, newTestServer(), http.MethodGet, target)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s status = %d, want 400", target, rec.Code)
		}
		if body.Status != "fail" {
			t.Fatalf("%s body status = %q", target, body.Status)
		}
	}
}

func TestHandleCrawl_Validation(t *testing.T) {
	t.Parallel()

	rec, _ := doRequest(t, newTestServer(), http.MethodPost, "/api/v1/sources/harbor/crawl?limit=-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", rec.Code)
	}

	rec, body := doRequest(t, newTestServer(), http.MethodPost, "/api/v1/sources/harbor/crawl")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("crawl without ingest service status = %d, want 500", rec.Code)
	}
	if body.Status != "error" {
		t.Fatalf("crawl without ingest service body status = %q", body.Status)
	}
}

func TestHandleSweep_RejectsBadGraceDays(t *testing.T) {
	t.Parallel()

	rec, body := doRequest(t, newTestServer(), http.MethodPost, "/api/v1/sweep?grace_days=-2")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("sweep status = %d, want 400", rec.Code)
	}
	if body.Status != "fail" || !strings.Contains(body.Message, "Validation") {
		t.Fatalf("sweep body = %+v", body)
	}
}

func TestParsePositiveInt(t *testing.T) {
	t.Parallel()

	if got, err := parsePositiveInt("", 25, 1, 100); err != nil || got != 25 {
		t.Fatalf("empty input = %d, %v", got, err)
	}
	if got, err := parsePositiveInt(" 42 ", 25, 1, 100); err != nil || got != 42 {
		t.Fatalf("trimmed input = %d, %v", got, err)
	}
	if _, err := parsePositiveInt("0", 25, 1, 100); err == nil {
		t.Fatalf("below-min input accepted")
	}
	if _, err := parsePositiveInt("101", 25, 1, 100); err == nil {
		t.Fatalf("above-max input accepted")
	}
	if _, err := parsePositiveInt("x", 25, 1, 100); err == nil {
		t.Fatalf("non-integer input accepted")
	}
}
