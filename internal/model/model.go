package model

import (
	"strings"
	"time"
)

// Role is an audience role an event can be made visible to.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleTeacher Role = "TEACHER"
	RoleStudent Role = "STUDENT"
	RoleParent  Role = "PARENT"
	RoleStaff   Role = "STAFF"
)

// AllRoles lists every known role, in display order.
var AllRoles = []Role{RoleAdmin, RoleTeacher, RoleStudent, RoleParent, RoleStaff}

// RoleNames returns AllRoles as strings.
func RoleNames() []string {
	out := make([]string, len(AllRoles))
	for i, r := range AllRoles {
		out[i] = string(r)
	}
	return out
}

// IsKnownRole reports whether s names one of AllRoles.
func IsKnownRole(s string) bool {
	for _, r := range AllRoles {
		if string(r) == s {
			return true
		}
	}
	return false
}

// CalendarEvent is a stored school calendar event. It is a plain value:
// the expander receives copies and never touches storage.
type CalendarEvent struct {
	ID       string `json:"id" yaml:"id"`
	SchoolID string `json:"schoolId" yaml:"school_id"`

	// SourceID is set for events imported from a holiday feed.
	SourceID string `json:"sourceId,omitempty" yaml:"source_id,omitempty"`

	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Location    string `json:"location,omitempty" yaml:"location,omitempty"`
	CategoryID  string `json:"categoryId" yaml:"category_id"`

	// StartDate / EndDate bound one occurrence (the first one, if recurring).
	StartDate time.Time `json:"startDate" yaml:"start_date"`
	EndDate   time.Time `json:"endDate" yaml:"end_date"`
	IsAllDay  bool      `json:"isAllDay" yaml:"is_all_day"`

	IsRecurring    bool        `json:"isRecurring" yaml:"is_recurring"`
	RecurrenceRule string      `json:"recurrenceRule,omitempty" yaml:"recurrence_rule,omitempty"`
	ExceptionDates []time.Time `json:"exceptionDates,omitempty" yaml:"exception_dates,omitempty"`

	VisibleToRoles    []string `json:"visibleToRoles" yaml:"visible_to_roles"`
	VisibleToClasses  []string `json:"visibleToClasses,omitempty" yaml:"visible_to_classes,omitempty"`
	VisibleToSections []string `json:"visibleToSections,omitempty" yaml:"visible_to_sections,omitempty"`

	// ReminderMinutes are lead times before each occurrence start.
	ReminderMinutes []int `json:"reminderMinutes,omitempty" yaml:"reminder_minutes,omitempty"`

	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updated_at"`
}

// Duration is the length of every occurrence of the event.
func (e CalendarEvent) Duration() time.Duration {
	return e.EndDate.Sub(e.StartDate)
}

// Occurrence is one concrete instance of an event. It is derived on read
// and never stored.
type Occurrence struct {
	EventID string `json:"eventId"`

	// InstanceKey identifies the instance within its series; it is the
	// start instant in RFC3339.
	InstanceKey string `json:"instanceKey"`

	Title      string `json:"title"`
	Location   string `json:"location,omitempty"`
	CategoryID string `json:"categoryId"`
	AllDay     bool   `json:"allDay"`

	Start time.Time `json:"startDate"`
	End   time.Time `json:"endDate"`
}

// MaxReminderMinutes is the longest accepted reminder lead time (28 days).
// It must match the max of the ReminderMinutes validate tag.
const MaxReminderMinutes = 40320

// EventInput carries candidate fields for creating or replacing an event.
// Field order matters: validation reports the first failing field in
// declaration order.
type EventInput struct {
	Title          string    `json:"title" label:"Title" validate:"required"`
	StartDate      time.Time `json:"startDate" label:"Start date" validate:"required"`
	CategoryID     string    `json:"categoryId" label:"Category" validate:"required"`
	EndDate        time.Time `json:"endDate" label:"End date" validate:"omitempty,gtefield=StartDate"`
	VisibleToRoles []string  `json:"visibleToRoles" label:"role" validate:"nonempty,dive,knownrole"`
	RecurrenceRule string    `json:"recurrenceRule" label:"Recurrence rule" validate:"omitempty,rrule"`

	Description       string      `json:"description"`
	Location          string      `json:"location"`
	IsAllDay          bool        `json:"isAllDay"`
	ExceptionDates    []time.Time `json:"exceptionDates"`
	VisibleToClasses  []string    `json:"visibleToClasses"`
	VisibleToSections []string    `json:"visibleToSections"`
	ReminderMinutes   []int       `json:"reminderMinutes" validate:"dive,min=0,max=40320"`
}

// ToEvent builds a CalendarEvent from validated input. A zero EndDate
// defaults to StartDate; IsRecurring follows the presence of a rule.
func (in EventInput) ToEvent(id, schoolID string, now time.Time) CalendarEvent {
	rule := strings.TrimSpace(in.RecurrenceRule)
	end := in.EndDate
	if end.IsZero() {
		end = in.StartDate
	}
	return CalendarEvent{
		ID:                id,
		SchoolID:          schoolID,
		Title:             strings.TrimSpace(in.Title),
		Description:       in.Description,
		Location:          in.Location,
		CategoryID:        strings.TrimSpace(in.CategoryID),
		StartDate:         in.StartDate,
		EndDate:           end,
		IsAllDay:          in.IsAllDay,
		IsRecurring:       rule != "",
		RecurrenceRule:    rule,
		ExceptionDates:    in.ExceptionDates,
		VisibleToRoles:    in.VisibleToRoles,
		VisibleToClasses:  in.VisibleToClasses,
		VisibleToSections: in.VisibleToSections,
		ReminderMinutes:   in.ReminderMinutes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
