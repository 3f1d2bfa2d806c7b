package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"schoolcal/internal/calendar"
	appLog "schoolcal/internal/log"
	"schoolcal/internal/model"
)

const (
	productID   = "schoolcal"
	localLayout = "20060102T150405"
)

// ExportOptions controls calendar-level properties of an export.
type ExportOptions struct {
	// Name becomes X-WR-CALNAME.
	Name string
	// Location anchors all-day dates and is advertised as X-WR-TIMEZONE.
	// Nil means UTC.
	Location *time.Location
	// WeekStart ("monday" or "sunday") is added as WKST to rules that do
	// not carry one.
	WeekStart string
	// Now stamps DTSTAMP; zero means time.Now.
	Now time.Time
}

// Export renders events as a PUBLISH iCalendar document. Timed events are
// written in UTC, except recurring ones, which carry a TZID of
// opts.Location so consumers step them in the school's zone. All-day
// events are DATE values in opts.Location. Rules are rewritten with
// calendar.ToStandardRule.
func Export(events []model.CalendarEvent, opts ExportOptions) string {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	cal := ical.NewCalendarFor(productID)
	cal.SetMethod(ical.MethodPublish)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	cal.SetXWRTimezone(loc.String())

	for _, ev := range events {
		addEvent(cal, ev, loc, opts.WeekStart, now)
	}
	return cal.Serialize()
}

func addEvent(cal *ical.Calendar, ev model.CalendarEvent, loc *time.Location, weekStart string, now time.Time) {
	ve := cal.AddEvent(ev.ID)
	ve.SetDtStampTime(now)
	if !ev.UpdatedAt.IsZero() {
		ve.SetModifiedAt(ev.UpdatedAt)
	}
	ve.SetSummary(ev.Title)
	if ev.Description != "" {
		ve.SetDescription(ev.Description)
	}
	if ev.Location != "" {
		ve.SetLocation(ev.Location)
	}
	if ev.CategoryID != "" {
		ve.AddCategory(ev.CategoryID)
	}

	recurring := ev.IsRecurring && ev.RecurrenceRule != ""
	zoned := recurring && !ev.IsAllDay && loc != time.UTC
	switch {
	case ev.IsAllDay:
		start := ev.StartDate.In(loc)
		end := ev.EndDate.In(loc)
		if !end.After(start) {
			end = start.AddDate(0, 0, 1)
		}
		ve.SetAllDayStartAt(start)
		ve.SetAllDayEndAt(end)
	case zoned:
		tzid := ical.WithTZID(loc.String())
		ve.SetProperty(ical.ComponentPropertyDtStart, ev.StartDate.In(loc).Format(localLayout), tzid)
		ve.SetProperty(ical.ComponentPropertyDtEnd, ev.EndDate.In(loc).Format(localLayout), tzid)
	default:
		ve.SetStartAt(ev.StartDate)
		ve.SetEndAt(ev.EndDate)
	}

	if !recurring {
		return
	}
	rule, err := calendar.ToStandardRule(ev.RecurrenceRule, ev.StartDate.In(loc), ev.IsAllDay)
	if err != nil {
		appLog.Warn("ics export: recurrence rule skipped", "id", ev.ID, "rule", ev.RecurrenceRule, "reason", err.Error())
		return
	}
	if rule == "" {
		return
	}
	ve.AddRrule(withWeekStart(rule, weekStart))

	for _, ex := range ev.ExceptionDates {
		switch {
		case ev.IsAllDay:
			ve.AddExdate(ex.In(loc).Format("20060102"), ical.WithValue(string(ical.ValueDataTypeDate)))
		case zoned:
			ve.AddExdate(ex.In(loc).Format(localLayout), ical.WithTZID(loc.String()))
		default:
			ve.AddExdate(ex.UTC().Format("20060102T150405Z"))
		}
	}
}

// withWeekStart strips an RRULE: prefix and appends WKST when the rule has
// none.
func withWeekStart(rule, weekStart string) string {
	rule = strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:")
	if strings.Contains(strings.ToUpper(rule), "WKST=") {
		return rule
	}
	switch strings.ToLower(weekStart) {
	case "sunday":
		return rule + ";WKST=SU"
	case "monday":
		return rule + ";WKST=MO"
	}
	return rule
}
