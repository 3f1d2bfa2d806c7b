package ics

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/pkg/errors"

	"schoolcal/internal/calendar"
	appLog "schoolcal/internal/log"
	"schoolcal/internal/model"
)

// parsedEvent is one VEVENT before overrides are folded into their series.
type parsedEvent struct {
	uid       string
	seq       int
	cancelled bool

	// recurrenceID is set when the VEVENT overrides one instance of a
	// recurring series.
	recurrenceID *time.Time

	event model.CalendarEvent
}

// ParseICS parses an ICS payload into calendar events owned by
// src.SchoolID.
//
//   - Event IDs are "<source id>:<uid>"; overridden instances get the
//     override start appended.
//   - All-day dates and floating times are anchored in src.Location.
//   - RRULE and EXDATE are carried over. Rules outside the supported subset,
//     or whose BYDAY would expand differently than it filters here, are
//     dropped with a warning, leaving the first occurrence.
//   - A RECURRENCE-ID override becomes an exception of its series plus a
//     standalone event, unless it is CANCELLED.
//
// Broken VEVENTs are logged and skipped.
func ParseICS(src Source, body []byte) ([]model.CalendarEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}
	loc := src.Location
	if loc == nil {
		loc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, errors.Wrap(err, "parse calendar")
	}

	masters := make(map[string]*parsedEvent)
	order := make([]string, 0)
	overrides := make([]*parsedEvent, 0)

	for _, comp := range cal.Events() {
		pe, perr := parseVEvent(src, loc, comp)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		if pe.recurrenceID != nil {
			overrides = append(overrides, pe)
			continue
		}
		prev, dup := masters[pe.uid]
		if !dup {
			order = append(order, pe.uid)
		} else if prev.seq > pe.seq {
			continue
		}
		masters[pe.uid] = pe
	}

	extra := make([]model.CalendarEvent, 0)
	for _, ov := range overrides {
		if m, ok := masters[ov.uid]; ok {
			m.event.ExceptionDates = append(m.event.ExceptionDates, *ov.recurrenceID)
		}
		if ov.cancelled {
			continue
		}
		ev := ov.event
		ev.ID = ev.ID + ":" + ov.recurrenceID.UTC().Format("20060102T150405Z")
		ev.IsRecurring = false
		ev.RecurrenceRule = ""
		ev.ExceptionDates = nil
		extra = append(extra, ev)
	}

	events := make([]model.CalendarEvent, 0, len(order)+len(extra))
	for _, uid := range order {
		if m := masters[uid]; !m.cancelled {
			events = append(events, m.event)
		}
	}
	events = append(events, extra...)

	appLog.Info("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, loc *time.Location, ve *ical.VEvent) (*parsedEvent, error) {
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || strings.TrimSpace(uidProp.Value) == "" {
		return nil, errors.New("missing UID")
	}
	out := &parsedEvent{uid: strings.TrimSpace(uidProp.Value)}

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.seq = n
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.cancelled = strings.EqualFold(strings.TrimSpace(p.Value), string(ical.ObjectStatusCancelled))
	}

	ev := model.CalendarEvent{
		ID:             src.ID + ":" + out.uid,
		SchoolID:       src.SchoolID,
		SourceID:       src.ID,
		CategoryID:     src.CategoryID,
		VisibleToRoles: model.RoleNames(),
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Title = strings.TrimSpace(p.Value)
	}
	if ev.Title == "" {
		ev.Title = "Untitled"
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		ev.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ev.Location = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return nil, errors.Errorf("event %s: missing DTSTART", out.uid)
	}
	ev.IsAllDay = isDateValue(dtStart)

	if ev.IsAllDay {
		start, err := ve.GetAllDayStartAt()
		if err != nil {
			return nil, errors.Wrapf(err, "event %s: DTSTART", out.uid)
		}
		ev.StartDate = anchorDate(start, loc)
		ev.EndDate = ev.StartDate.AddDate(0, 0, 1)
		if ve.GetProperty(ical.ComponentPropertyDtEnd) != nil {
			if end, err := ve.GetAllDayEndAt(); err == nil && anchorDate(end, loc).After(ev.StartDate) {
				ev.EndDate = anchorDate(end, loc)
			}
		}
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return nil, errors.Wrapf(err, "event %s: DTSTART", out.uid)
		}
		ev.StartDate = anchorFloating(start, dtStart, loc)
		ev.EndDate = ev.StartDate
		if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
			if end, err := ve.GetEndAt(); err == nil {
				if end = anchorFloating(end, dtEnd, loc); !end.Before(ev.StartDate) {
					ev.EndDate = end
				}
			}
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && strings.TrimSpace(p.Value) != "" {
		rule := strings.TrimSpace(p.Value)
		if std, err := calendar.FromStandardRule(rule, ev.StartDate.In(loc)); err != nil {
			appLog.Warn("ics rrule unsupported; importing first occurrence only",
				"id", src.ID, "uid", out.uid, "rule", rule, "reason", err.Error())
		} else {
			ev.IsRecurring = true
			ev.RecurrenceRule = std
		}
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, propLocation(p, loc)); err == nil {
				ev.ExceptionDates = append(ev.ExceptionDates, t)
			}
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRecurrenceId); p != nil {
		t, err := parseICSTime(p.Value, propLocation(p, loc))
		if err != nil {
			return nil, errors.Wrapf(err, "event %s: RECURRENCE-ID", out.uid)
		}
		out.recurrenceID = &t
	}

	out.event = ev
	return out, nil
}

// isDateValue reports whether a DTSTART holds a DATE rather than a
// DATE-TIME.
func isDateValue(p *ical.IANAProperty) bool {
	if strings.EqualFold(paramValue(p, "VALUE"), "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func paramValue(p *ical.IANAProperty, name string) string {
	if p.ICalParameters == nil {
		return ""
	}
	if vs, ok := p.ICalParameters[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// propLocation returns the property's TZID location, or fallback.
func propLocation(p *ical.IANAProperty, fallback *time.Location) *time.Location {
	if tzid := paramValue(p, "TZID"); tzid != "" {
		if loc, err := time.LoadLocation(tzid); err == nil {
			return loc
		}
	}
	return fallback
}

// anchorDate moves a calendar date to midnight in loc.
func anchorDate(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// anchorFloating re-reads a floating DATE-TIME (no Z, no TZID), which the
// parser places in time.Local, as wall time in loc.
func anchorFloating(t time.Time, p *ical.IANAProperty, loc *time.Location) time.Time {
	if strings.HasSuffix(p.Value, "Z") || paramValue(p, "TZID") != "" {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
}

// parseICSTime parses a DATE or DATE-TIME value as used by EXDATE and
// RECURRENCE-ID. Values without a Z suffix are read in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
