package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolcal/internal/calendar"
	"schoolcal/internal/model"
)

func exportFixture() []model.CalendarEvent {
	start := time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)
	return []model.CalendarEvent{
		{
			ID:             "assembly",
			Title:          "Assembly",
			Location:       "Main hall",
			CategoryID:     "cat-general",
			StartDate:      start,
			EndDate:        start.Add(time.Hour),
			IsRecurring:    true,
			RecurrenceRule: "FREQ=WEEKLY;BYDAY=MO",
			ExceptionDates: []time.Time{start.AddDate(0, 0, 7)},
		},
		{
			ID:         "new-year",
			Title:      "New Year",
			CategoryID: "holiday",
			IsAllDay:   true,
			StartDate:  time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
			EndDate:    time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestExport(t *testing.T) {
	out := Export(exportFixture(), ExportOptions{
		Name:      "North School",
		WeekStart: "sunday",
		Now:       time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC),
	})

	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "METHOD:PUBLISH")
	assert.Contains(t, out, "X-WR-CALNAME:North School")
	assert.Contains(t, out, "X-WR-TIMEZONE:UTC")
	assert.Contains(t, out, "UID:assembly")
	assert.Contains(t, out, "DTSTART:20250106T090000Z")
	assert.Contains(t, out, "DTEND:20250106T100000Z")
	assert.Contains(t, out, "RRULE:FREQ=WEEKLY;WKST=SU")
	assert.Contains(t, out, "EXDATE:20250113T090000Z")
	assert.Contains(t, out, "CATEGORIES:cat-general")
	assert.Contains(t, out, "DTSTART;VALUE=DATE:20250101")
	assert.Contains(t, out, "DTEND;VALUE=DATE:20250102")
	assert.Contains(t, out, "DTSTAMP:20250101T120000Z")
}

func TestExportCanBeImported(t *testing.T) {
	out := Export(exportFixture(), ExportOptions{Name: "North School"})

	src := Source{ID: "rt", SchoolID: "north", CategoryID: "imported", Location: time.UTC}
	events, err := ParseICS(src, []byte(out))
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "rt:assembly", events[0].ID)
	assert.True(t, events[0].IsRecurring)
	assert.Equal(t, "FREQ=WEEKLY", events[0].RecurrenceRule)
	assert.True(t, events[0].StartDate.Equal(time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)))
	require.Len(t, events[0].ExceptionDates, 1)

	assert.Equal(t, "rt:new-year", events[1].ID)
	assert.True(t, events[1].IsAllDay)
	assert.Equal(t, 24*time.Hour, events[1].Duration())
}

func TestExportRecurringInSchoolZone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	start := time.Date(2025, time.March, 3, 8, 0, 0, 0, ny)
	class := model.CalendarEvent{
		ID:             "maths",
		Title:          "Maths",
		CategoryID:     "class",
		StartDate:      start,
		EndDate:        start.Add(time.Hour),
		IsRecurring:    true,
		RecurrenceRule: "FREQ=WEEKLY;BYDAY=MO,WE",
		ExceptionDates: []time.Time{start.AddDate(0, 0, 14)},
	}

	out := Export([]model.CalendarEvent{class}, ExportOptions{Location: ny})
	assert.Contains(t, out, "DTSTART;TZID=America/New_York:20250303T080000")
	assert.Contains(t, out, "DTEND;TZID=America/New_York:20250303T090000")
	assert.Contains(t, out, "RRULE:FREQ=WEEKLY\r\n")
	assert.NotContains(t, out, "BYDAY")
	assert.Contains(t, out, "EXDATE;TZID=America/New_York:20250317T080000")

	src := Source{ID: "rt", SchoolID: "north", CategoryID: "imported", Location: ny}
	events, err := ParseICS(src, []byte(out))
	require.NoError(t, err)
	require.Len(t, events, 1)

	cfg := calendar.ExpandConfig{
		DisplayLocation: ny,
		EventLocation:   ny,
		RangeStart:      time.Date(2025, time.March, 1, 0, 0, 0, 0, ny),
		RangeEnd:        time.Date(2025, time.March, 31, 0, 0, 0, 0, ny),
	}
	want, err := calendar.ExpandEvents([]model.CalendarEvent{class}, cfg)
	require.NoError(t, err)
	got, err := calendar.ExpandEvents(events, cfg)
	require.NoError(t, err)

	require.Len(t, want.Occurrences, 3)
	require.Len(t, got.Occurrences, len(want.Occurrences))
	for i, o := range got.Occurrences {
		assert.True(t, want.Occurrences[i].Start.Equal(o.Start))
		assert.Equal(t, 8, o.Start.Hour())
	}
}

func TestExportSkipsRepeatsOutsideByDay(t *testing.T) {
	start := time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)
	ev := model.CalendarEvent{
		ID:             "club",
		Title:          "Club",
		StartDate:      start,
		EndDate:        start.Add(time.Hour),
		IsRecurring:    true,
		RecurrenceRule: "FREQ=WEEKLY;BYDAY=TU",
		ExceptionDates: []time.Time{start.AddDate(0, 0, 1)},
	}
	out := Export([]model.CalendarEvent{ev}, ExportOptions{})
	assert.Contains(t, out, "DTSTART:20250106T090000Z")
	assert.NotContains(t, out, "RRULE")
	assert.NotContains(t, out, "EXDATE")
}

func TestWithWeekStart(t *testing.T) {
	assert.Equal(t, "FREQ=DAILY;WKST=MO", withWeekStart("RRULE:FREQ=DAILY", "monday"))
	assert.Equal(t, "FREQ=DAILY;WKST=SU", withWeekStart("FREQ=DAILY;WKST=SU", "monday"))
	assert.Equal(t, "FREQ=DAILY", withWeekStart("FREQ=DAILY", ""))
}
