package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolcal/internal/config"
	"schoolcal/internal/model"
	"schoolcal/internal/store"
)

func TestSyncerImportsAndRemovesStale(t *testing.T) {
	feed := icsDoc(
		"BEGIN:VEVENT",
		"UID:new-year",
		"DTSTAMP:20250101T000000Z",
		"DTSTART;VALUE=DATE:20250101",
		"SUMMARY:New Year",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:children-day",
		"DTSTAMP:20250101T000000Z",
		"DTSTART;VALUE=DATE:20250505",
		"SUMMARY:Children's Day",
		"END:VEVENT",
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/kr.ics":
			w.Write(feed)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	repo := store.NewMemoryStore()
	start := time.Date(2024, time.December, 25, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Upsert(ctx,
		model.CalendarEvent{ID: "kr:old", SchoolID: "north", SourceID: "kr", Title: "Old", StartDate: start, EndDate: start},
		model.CalendarEvent{ID: "manual", SchoolID: "north", Title: "Manual", StartDate: start, EndDate: start},
		model.CalendarEvent{ID: "gone:keep", SchoolID: "north", SourceID: "gone", Title: "Kept", StartDate: start, EndDate: start},
	))

	sources := []Source{
		{ID: "kr", URL: srv.URL + "/kr.ics", SchoolID: "north", CategoryID: "holiday", Location: time.UTC},
		{ID: "gone", URL: srv.URL + "/gone.ics", SchoolID: "north", CategoryID: "holiday", Location: time.UTC},
	}
	syncer := NewSyncer(repo, NewFetcher(t.TempDir(), srv.Client()), sources)

	report, err := syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Feeds)
	assert.Equal(t, 2, report.Imported)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, []string{"gone"}, report.Failed)

	all, err := repo.List(ctx, "north")
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, ev := range all {
		ids = append(ids, ev.ID)
	}
	assert.ElementsMatch(t, []string{"manual", "gone:keep", "kr:new-year", "kr:children-day"}, ids)

	imported, err := repo.Get(ctx, "north", "kr:children-day")
	require.NoError(t, err)
	assert.Equal(t, "holiday", imported.CategoryID)
	assert.True(t, imported.IsAllDay)

	// A second run is idempotent.
	report, err = syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Removed)
}

func TestSyncerWithoutSources(t *testing.T) {
	syncer := NewSyncer(store.NewMemoryStore(), NewFetcher(t.TempDir(), nil), nil)
	report, err := syncer.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Feeds)
}

func TestSourcesFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.HolidayFeeds = []config.HolidayFeed{
		{ID: "kr", Name: "Holidays", URL: "https://example.com/kr.ics", SchoolID: "north", CategoryID: "holiday"},
	}

	sources := SourcesFromConfig(cfg)
	require.Len(t, sources, 1)
	assert.Equal(t, "kr", sources[0].ID)
	assert.Equal(t, "north", sources[0].SchoolID)
	assert.Equal(t, time.UTC, sources[0].Location)
}
