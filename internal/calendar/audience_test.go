package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"schoolcal/internal/model"
)

func TestVisibleTo(t *testing.T) {
	ev := model.CalendarEvent{
		ID:                "ev",
		VisibleToRoles:    []string{"STUDENT", "PARENT"},
		VisibleToClasses:  []string{"7A", "7B"},
		VisibleToSections: []string{"science"},
	}
	open := model.CalendarEvent{ID: "open", VisibleToRoles: []string{"TEACHER", "STUDENT"}}

	tests := []struct {
		name string
		ev   model.CalendarEvent
		aud  Audience
		want bool
	}{
		{"empty audience", ev, Audience{}, true},
		{"admin sees all", ev, Audience{Role: "admin", ClassID: "9C"}, true},
		{"listed role", ev, Audience{Role: "STUDENT"}, true},
		{"unlisted role", ev, Audience{Role: "TEACHER"}, false},
		{"listed class", ev, Audience{Role: "STUDENT", ClassID: "7B"}, true},
		{"other class", ev, Audience{Role: "STUDENT", ClassID: "8A"}, false},
		{"other section", ev, Audience{Role: "PARENT", SectionID: "arts"}, false},
		{"unrestricted classes", open, Audience{Role: "STUDENT", ClassID: "8A", SectionID: "arts"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VisibleTo(tt.ev, tt.aud))
		})
	}
}

func TestFilterVisible(t *testing.T) {
	events := []model.CalendarEvent{
		{ID: "staff", VisibleToRoles: []string{"STAFF"}},
		{ID: "students", VisibleToRoles: []string{"STUDENT"}},
	}
	got := FilterVisible(events, Audience{Role: "STUDENT"})
	if assert.Len(t, got, 1) {
		assert.Equal(t, "students", got[0].ID)
	}
}

func TestReminderTime(t *testing.T) {
	start := time.Date(2025, time.January, 6, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, start, ReminderTime(start, 0))
	assert.Equal(t, time.Date(2025, time.January, 6, 9, 45, 0, 0, time.UTC), ReminderTime(start, 15))
	assert.Equal(t, time.Date(2025, time.January, 5, 10, 0, 0, 0, time.UTC), ReminderTime(start, 1440))
}
