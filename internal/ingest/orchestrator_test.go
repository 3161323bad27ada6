package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"citypulse.fyi/citypulse/internal/db"
	"citypulse.fyi/citypulse/internal/extract"
	"citypulse.fyi/citypulse/internal/globaltime"
)

type fakeStore struct {
	source *db.Source

	events      map[string]*db.Event
	nextEventID int64
	nextVenueID int64
	venues      map[string]int64

	crawlRuns       []fakeCrawlRun
	insertEventErr  error
	findEventErr    error
	updateOutcomes  []db.UpdateOutcome
	updateCalls     int
	venueCalls      int
	insertCalls     int
	dryRunsObserved []bool
}

type fakeCrawlRun struct {
	runUUID      string
	sourceSlug   string
	finished     bool
	found        int
	inserted     int
	updated      int
	errorMessage *string
}

func newFakeStore(source *db.Source) *fakeStore {
	return &fakeStore{
		source: source,
		events: make(map[string]*db.Event),
		venues: make(map[string]int64),
	}
}

func (f *fakeStore) GetSourceBySlug(_ context.Context, slug string) (*db.Source, error) {
	if f.source == nil || f.source.Slug != slug {
		return nil, db.ErrNoRows
	}
	return f.source, nil
}

func (f *fakeStore) GetOrCreateVenue(_ context.Context, fields db.VenueFields, _ time.Time) (int64, error) {
	f.venueCalls++
	slug := db.Slugify(fields.Name)
	if id, ok := f.venues[slug]; ok {
		return id, nil
	}
	f.nextVenueID++
	f.venues[slug] = f.nextVenueID
	return f.nextVenueID, nil
}

func (f *fakeStore) FindEventByHash(_ context.Context, sourceID int64, hash string) (*db.Event, error) {
	if f.findEventErr != nil {
		return nil, f.findEventErr
	}
	ev, ok := f.events[fmt.Sprintf("%d/%s", sourceID, hash)]
	if !ok {
		return nil, db.ErrNoRows
	}
	return ev, nil
}

func (f *fakeStore) InsertEvent(_ context.Context, fields db.EventFields, now time.Time) (int64, error) {
	f.insertCalls++
	if f.insertEventErr != nil {
		return 0, f.insertEventErr
	}
	key := fmt.Sprintf("%d/%s", fields.SourceID, fields.ContentHash)
	if _, ok := f.events[key]; ok {
		return 0, db.ErrDuplicateEvent
	}
	f.nextEventID++
	f.events[key] = &db.Event{
		EventID:         f.nextEventID,
		SourceID:        fields.SourceID,
		VenueID:         fields.VenueID,
		Title:           fields.Title,
		NormalizedTitle: fields.NormalizedTitle,
		StartDate:       fields.StartDate,
		StartTime:       fields.StartTime,
		EndTime:         fields.EndTime,
		Description:     fields.Description,
		Category:        fields.Category,
		Tags:            fields.Tags,
		Language:        fields.Language,
		URL:             fields.URL,
		ContentHash:     fields.ContentHash,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return f.nextEventID, nil
}

func (f *fakeStore) SmartUpdateExistingEvent(_ context.Context, existing *db.Event, fields db.EventFields, now time.Time, dryRun bool) (db.UpdateOutcome, error) {
	f.updateCalls++
	f.dryRunsObserved = append(f.dryRunsObserved, dryRun)
	if len(f.updateOutcomes) > 0 {
		outcome := f.updateOutcomes[0]
		f.updateOutcomes = f.updateOutcomes[1:]
		return outcome, nil
	}

	changed := !ptrEq(existing.Description, fields.Description) ||
		!ptrEq(existing.Tags, fields.Tags) ||
		!ptrEq(existing.StartTime, fields.StartTime) ||
		!existing.IsActive
	if !changed {
		return db.UpdateNoop, nil
	}
	if !dryRun {
		existing.Description = fields.Description
		existing.Tags = fields.Tags
		existing.StartTime = fields.StartTime
		existing.IsActive = true
		existing.UpdatedAt = now
	}
	return db.UpdateApplied, nil
}

func (f *fakeStore) InsertCrawlRun(_ context.Context, runUUID, sourceSlug string, _ time.Time) (int64, error) {
	f.crawlRuns = append(f.crawlRuns, fakeCrawlRun{runUUID: runUUID, sourceSlug: sourceSlug})
	return int64(len(f.crawlRuns)), nil
}

func (f *fakeStore) FinishCrawlRun(_ context.Context, runID int64, found, inserted, updated int, errorMessage *string, _ time.Time) error {
	run := &f.crawlRuns[runID-1]
	run.finished = true
	run.found = found
	run.inserted = inserted
	run.updated = updated
	run.errorMessage = errorMessage
	return nil
}

func ptrEq(a, b *string) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

type fakeExtractor struct {
	candidates []extract.Candidate
	err        error
}

func (f *fakeExtractor) Extract(context.Context, extract.Source) ([]extract.Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

func testSource() *db.Source {
	return &db.Source{
		SourceID:          7,
		Slug:              "harbor",
		Name:              "Harbor Events",
		URL:               "https://harbor.test/events",
		IntegrationMethod: "profile",
		IsActive:          true,
	}
}

func testCandidates(n int) []extract.Candidate {
	candidates := make([]extract.Candidate, 0, n)
	for i := 0; i < n; i++ {
		candidates = append(candidates, extract.Candidate{
			Title:     fmt.Sprintf("Show %d", i),
			StartDate: "2026-09-12",
			StartTime: "19:30",
			VenueName: "Pier Hall",
		})
	}
	return candidates
}

func newTestService(store Store, extractor extract.Extractor) *Service {
	return NewService(store, extractor, zerolog.Nop())
}

func TestRun_ConvergesOnSecondCrawl(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	store := newFakeStore(testSource())
	extractor := &fakeExtractor{candidates: testCandidates(3)}
	service := newTestService(store, extractor)

	first, err := service.Run(context.Background(), RunOptions{SourceSlug: "harbor"})
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if first.EventsFound != 3 || first.EventsNew != 3 || first.EventsUpdated != 0 {
		t.Fatalf("first run counts = %+v", first)
	}

	second, err := service.Run(context.Background(), RunOptions{SourceSlug: "harbor"})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if second.EventsFound != 3 || second.EventsNew != 0 || second.EventsUpdated != 0 {
		t.Fatalf("second run did not converge: %+v", second)
	}

	if len(store.crawlRuns) != 2 {
		t.Fatalf("crawl runs recorded = %d, want 2", len(store.crawlRuns))
	}
	for i, run := range store.crawlRuns {
		if !run.finished {
			t.Fatalf("crawl run %d never finalized", i)
		}
		if run.errorMessage != nil {
			t.Fatalf("crawl run %d has error %q", i, *run.errorMessage)
		}
	}
	if store.crawlRuns[0].runUUID == store.crawlRuns[1].runUUID {
		t.Fatalf("crawl runs share a UUID")
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	store := newFakeStore(testSource())
	extractor := &fakeExtractor{candidates: testCandidates(2)}
	service := newTestService(store, extractor)

	result, err := service.Run(context.Background(), RunOptions{SourceSlug: "harbor", DryRun: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.EventsFound != 2 || result.EventsNew != 2 {
		t.Fatalf("dry run counts = %+v", result)
	}
	if result.RunUUID != "" {
		t.Fatalf("dry run assigned a run UUID %q", result.RunUUID)
	}

	if len(store.events) != 0 {
		t.Fatalf("dry run inserted %d events", len(store.events))
	}
	if store.insertCalls != 0 {
		t.Fatalf("dry run issued %d insert calls", store.insertCalls)
	}
	if store.venueCalls != 0 {
		t.Fatalf("dry run created venues")
	}
	if len(store.crawlRuns) != 0 {
		t.Fatalf("dry run recorded a crawl run")
	}
}

func TestRun_DryRunReportsPendingUpdates(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	store := newFakeStore(testSource())
	extractor := &fakeExtractor{candidates: testCandidates(1)}
	service := newTestService(store, extractor)

	if _, err := service.Run(context.Background(), RunOptions{SourceSlug: "harbor"}); err != nil {
		t.Fatalf("seed Run() error = %v", err)
	}

	extractor.candidates[0].Description = "Now with a description."
	result, err := service.Run(context.Background(), RunOptions{SourceSlug: "harbor", DryRun: true})
	if err != nil {
		t.Fatalf("dry Run() error = %v", err)
	}
	if result.EventsUpdated != 1 {
		t.Fatalf("dry run EventsUpdated = %d, want 1", result.EventsUpdated)
	}

	if store.dryRunsObserved[len(store.dryRunsObserved)-1] != true {
		t.Fatalf("update path did not receive the dryRun flag")
	}
	for _, ev := range store.events {
		if ev.Description != nil {
			t.Fatalf("dry run mutated the stored event")
		}
	}
}

func TestRun_LimitCapsCandidatesConsidered(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	store := newFakeStore(testSource())
	extractor := &fakeExtractor{candidates: testCandidates(10)}
	service := newTestService(store, extractor)

	result, err := service.Run(context.Background(), RunOptions{SourceSlug: "harbor", Limit: 4})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.EventsFound != 4 || result.EventsNew != 4 {
		t.Fatalf("limited run counts = %+v", result)
	}
	if len(store.events) != 4 {
		t.Fatalf("store holds %d events, want 4", len(store.events))
	}
}

func TestRun_UnresolvableDateDropsCandidateAndContinues(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	store := newFakeStore(testSource())
	extractor := &fakeExtractor{candidates: []extract.Candidate{
		{Title: "Good Show", StartDate: "2026-09-12"},
		{Title: "Bad Date Show", RawDateText: "sometime soon"},
		{Title: "Another Good Show", StartDate: "2026-09-13"},
	}}
	service := newTestService(store, extractor)

	result, err := service.Run(context.Background(), RunOptions{SourceSlug: "harbor"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.EventsFound != 3 {
		t.Fatalf("EventsFound = %d, want 3 (dropped candidate still counted)", result.EventsFound)
	}
	if result.EventsNew != 2 {
		t.Fatalf("EventsNew = %d, want 2", result.EventsNew)
	}
}

func TestRun_StoreFailureAbortsWithPartialCounts(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	store := newFakeStore(testSource())
	extractor := &fakeExtractor{candidates: testCandidates(5)}
	service := newTestService(store, extractor)

	if _, err := service.Run(context.Background(), RunOptions{SourceSlug: "harbor", Limit: 2}); err != nil {
		t.Fatalf("seed Run() error = %v", err)
	}

	store.findEventErr = errors.New("connection reset")
	result, err := service.Run(context.Background(), RunOptions{SourceSlug: "harbor"})
	if err == nil {
		t.Fatalf("Run() succeeded despite store failure")
	}
	if result.EventsFound != 1 {
		t.Fatalf("EventsFound = %d, want 1 (aborted on first candidate)", result.EventsFound)
	}

	last := store.crawlRuns[len(store.crawlRuns)-1]
	if !last.finished {
		t.Fatalf("failed crawl run was not finalized")
	}
	if last.errorMessage == nil || !strings.Contains(*last.errorMessage, "connection reset") {
		t.Fatalf("crawl run error message = %v", last.errorMessage)
	}
}

func TestRun_ReactivatesInactiveFingerprint(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	store := newFakeStore(testSource())
	extractor := &fakeExtractor{candidates: testCandidates(1)}
	service := newTestService(store, extractor)

	if _, err := service.Run(context.Background(), RunOptions{SourceSlug: "harbor"}); err != nil {
		t.Fatalf("seed Run() error = %v", err)
	}
	for _, ev := range store.events {
		ev.IsActive = false
	}

	result, err := service.Run(context.Background(), RunOptions{SourceSlug: "harbor"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.EventsNew != 0 || result.EventsUpdated != 1 {
		t.Fatalf("reactivation counts = %+v", result)
	}
	for _, ev := range store.events {
		if !ev.IsActive {
			t.Fatalf("event was not reactivated")
		}
	}
}

func TestRun_UnknownSource(t *testing.T) {
	store := newFakeStore(testSource())
	service := newTestService(store, &fakeExtractor{})

	if _, err := service.Run(context.Background(), RunOptions{SourceSlug: "nope"}); err == nil {
		t.Fatalf("Run() with unknown source succeeded")
	}
	if _, err := service.Run(context.Background(), RunOptions{SourceSlug: "  "}); err == nil {
		t.Fatalf("Run() with blank slug succeeded")
	}
}

func TestRun_ExtractorFailureRecordsFailedRun(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	store := newFakeStore(testSource())
	service := newTestService(store, &fakeExtractor{err: errors.New("bad profile")})

	_, err := service.Run(context.Background(), RunOptions{SourceSlug: "harbor"})
	if err == nil {
		t.Fatalf("Run() succeeded despite extractor failure")
	}
	if len(store.crawlRuns) != 1 {
		t.Fatalf("crawl runs recorded = %d, want 1", len(store.crawlRuns))
	}
	run := store.crawlRuns[0]
	if run.errorMessage == nil || !strings.Contains(*run.errorMessage, "bad profile") {
		t.Fatalf("crawl run error message = %v", run.errorMessage)
	}
}

func TestResolveStartDate(t *testing.T) {
	today := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		candidate extract.Candidate
		want      string
		ok        bool
	}{
		{"iso passthrough", extract.Candidate{StartDate: "2026-09-12"}, "2026-09-12", true},
		{"healed future stamp", extract.Candidate{StartDate: "2027-02-19"}, "2026-02-19", true},
		{"human date field", extract.Candidate{StartDate: "Jan 15"}, "2026-01-15", true},
		{"raw text fallback", extract.Candidate{RawDateText: "Friday, March 6th"}, "2026-03-06", true},
		{"unresolvable", extract.Candidate{RawDateText: "sometime soon"}, "", false},
		{"empty", extract.Candidate{}, "", false},
	}

	for _, tc := range cases {
		got, ok := resolveStartDate(&tc.candidate, today)
		if ok != tc.ok {
			t.Fatalf("%s: resolveStartDate ok = %v, want %v", tc.name, ok, tc.ok)
		}
		if ok && got.Format("2006-01-02") != tc.want {
			t.Fatalf("%s: resolveStartDate = %s, want %s", tc.name, got.Format("2006-01-02"), tc.want)
		}
	}
}
