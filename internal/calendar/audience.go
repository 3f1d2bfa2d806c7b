package calendar

import (
	"slices"
	"strings"

	"schoolcal/internal/model"
)

// Audience describes who is looking at the calendar. Empty fields do not
// restrict anything.
type Audience struct {
	Role      string
	ClassID   string
	SectionID string
}

// VisibleTo reports whether ev should be shown to aud. Admins see every
// event; other roles must be listed, and class/section lists on the event
// narrow it further when the audience names a class or section.
func VisibleTo(ev model.CalendarEvent, aud Audience) bool {
	role := strings.ToUpper(strings.TrimSpace(aud.Role))
	if role == string(model.RoleAdmin) {
		return true
	}
	if role != "" && !slices.Contains(ev.VisibleToRoles, role) {
		return false
	}
	if aud.ClassID != "" && len(ev.VisibleToClasses) > 0 && !slices.Contains(ev.VisibleToClasses, aud.ClassID) {
		return false
	}
	if aud.SectionID != "" && len(ev.VisibleToSections) > 0 && !slices.Contains(ev.VisibleToSections, aud.SectionID) {
		return false
	}
	return true
}

// FilterVisible returns the events in events visible to aud.
func FilterVisible(events []model.CalendarEvent, aud Audience) []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if VisibleTo(ev, aud) {
			out = append(out, ev)
		}
	}
	return out
}
