package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolcal/internal/model"
)

func validInput() model.EventInput {
	start := time.Date(2025, time.January, 6, 10, 0, 0, 0, time.UTC)
	return model.EventInput{
		Title:          "Sports day",
		StartDate:      start,
		CategoryID:     "cat-sports",
		EndDate:        start.Add(2 * time.Hour),
		VisibleToRoles: []string{"STUDENT", "PARENT"},
	}
}

func TestValidateEventData(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(in *model.EventInput)
		wantField string
		wantMsg   string
	}{
		{name: "valid"},
		{name: "valid without end date", mutate: func(in *model.EventInput) { in.EndDate = time.Time{} }},
		{name: "valid zero length", mutate: func(in *model.EventInput) { in.EndDate = in.StartDate }},
		{name: "valid weekly rule", mutate: func(in *model.EventInput) { in.RecurrenceRule = "FREQ=WEEKLY;BYDAY=MO,WE" }},
		{name: "valid prefixed rule", mutate: func(in *model.EventInput) { in.RecurrenceRule = "RRULE:FREQ=DAILY;COUNT=5" }},
		{name: "valid reminders", mutate: func(in *model.EventInput) { in.ReminderMinutes = []int{0, 15, 1440} }},
		{
			name:      "empty title",
			mutate:    func(in *model.EventInput) { in.Title = "" },
			wantField: "title",
			wantMsg:   "Title is required",
		},
		{
			name:      "blank title",
			mutate:    func(in *model.EventInput) { in.Title = "   " },
			wantField: "title",
			wantMsg:   "Title is required",
		},
		{
			name:      "missing start date",
			mutate:    func(in *model.EventInput) { in.StartDate = time.Time{}; in.EndDate = time.Time{} },
			wantField: "startDate",
			wantMsg:   "Start date is required",
		},
		{
			name:      "missing category",
			mutate:    func(in *model.EventInput) { in.CategoryID = "" },
			wantField: "categoryId",
			wantMsg:   "Category is required",
		},
		{
			name:      "end before start",
			mutate:    func(in *model.EventInput) { in.EndDate = in.StartDate.Add(-time.Minute) },
			wantField: "endDate",
			wantMsg:   "End date must be after start date",
		},
		{
			name:      "no roles",
			mutate:    func(in *model.EventInput) { in.VisibleToRoles = nil },
			wantField: "visibleToRoles",
			wantMsg:   "At least one role must be selected",
		},
		{
			name:      "unknown role",
			mutate:    func(in *model.EventInput) { in.VisibleToRoles = []string{"STUDENT", "JANITOR"} },
			wantField: "visibleToRoles",
			wantMsg:   "Unknown role: JANITOR",
		},
		{
			name:      "invalid rule",
			mutate:    func(in *model.EventInput) { in.RecurrenceRule = "INVALID_RULE" },
			wantField: "recurrenceRule",
			wantMsg:   "Invalid recurrence pattern",
		},
		{
			name:      "rule without freq",
			mutate:    func(in *model.EventInput) { in.RecurrenceRule = "BYDAY=MO" },
			wantField: "recurrenceRule",
			wantMsg:   "Invalid recurrence pattern",
		},
		{
			name:      "rule with unknown weekday",
			mutate:    func(in *model.EventInput) { in.RecurrenceRule = "FREQ=WEEKLY;BYDAY=MO,XX" },
			wantField: "recurrenceRule",
			wantMsg:   "Invalid recurrence pattern",
		},
		{
			name:      "first failing field wins",
			mutate:    func(in *model.EventInput) { in.Title = ""; in.EndDate = in.StartDate.Add(-time.Hour); in.RecurrenceRule = "nope" },
			wantField: "title",
			wantMsg:   "Title is required",
		},
		{
			name:      "negative reminder",
			mutate:    func(in *model.EventInput) { in.ReminderMinutes = []int{-5} },
			wantField: "reminderMinutes",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			if tt.mutate != nil {
				tt.mutate(&in)
			}

			err := ValidateEventData(in)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.True(t, IsValidationError(err))
			assert.Equal(t, tt.wantField, ve.Field)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, ve.Error())
			}
		})
	}
}

func TestValidateEventDataDoesNotModifyInput(t *testing.T) {
	in := validInput()
	in.Title = "  Sports day  "

	require.NoError(t, ValidateEventData(in))
	assert.Equal(t, "  Sports day  ", in.Title)
}
