package calendar

import (
	"errors"
	"sort"
	"time"

	appLog "schoolcal/internal/log"
	"schoolcal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how a set of events is expanded.
type ExpandConfig struct {
	// DisplayLocation is the timezone occurrences are converted to.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive time window.
	RangeStart time.Time
	RangeEnd   time.Time

	// EventLocation is the zone recurring events are stepped in, so an
	// 08:00 class stays at 08:00 across DST changes. If nil, each event
	// steps in the zone of its own StartDate.
	EventLocation *time.Location

	// MaxOccurrencesPerEvent caps generated instances per event. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps expanded occurrences and the IDs of events that hit
// the per-event cap.
type ExpandResult struct {
	Occurrences     []model.Occurrence
	TruncatedEvents []string
}

// GenerateRecurringInstances returns the occurrences a recurring event's
// rule produces with a start inside [windowStart, windowEnd].
//
// Non-recurring events and events whose rule cannot be parsed produce no
// occurrences; callers add the base occurrence themselves. Occurrences are
// ordered by start, keep the base event's duration, and skip any start
// equal (to the millisecond) to one of the event's exception dates.
// Stepping happens in the zone of ev.StartDate.
func GenerateRecurringInstances(ev model.CalendarEvent, windowStart, windowEnd time.Time) []model.Occurrence {
	occ, _ := generateInstances(ev, windowStart, windowEnd, defaultMaxOccurrencesPerEvent, nil)
	return occ
}

// generateInstances steps ev's rule in loc (or the StartDate zone when loc
// is nil) and reports whether limit was hit.
func generateInstances(ev model.CalendarEvent, windowStart, windowEnd time.Time, limit int, loc *time.Location) ([]model.Occurrence, bool) {
	out := make([]model.Occurrence, 0)
	if !ev.IsRecurring || ev.RecurrenceRule == "" || windowEnd.Before(windowStart) {
		return out, false
	}

	rule, err := ParseRule(ev.RecurrenceRule)
	if err != nil {
		appLog.Error("expand: failed to parse recurrence rule", err, "event_id", ev.ID, "rule", ev.RecurrenceRule)
		return out, false
	}

	// rrule-go works at second precision; carry the remainder separately
	// so generated starts stay exact.
	base := ev.StartDate
	if loc != nil {
		base = base.In(loc)
	}
	whole := base.Truncate(time.Second)
	frac := base.Sub(whole)

	r, err := rule.stepper(whole)
	if err != nil {
		appLog.Error("expand: invalid recurrence bounds", err, "event_id", ev.ID, "rule", ev.RecurrenceRule)
		return out, false
	}

	excluded := exceptionSet(ev.ExceptionDates)
	dur := ev.Duration()

	next := r.Iterator()
	for {
		t, ok := next()
		if !ok {
			break
		}
		t = t.Add(frac)
		if t.After(windowEnd) {
			break
		}
		if t.Before(windowStart) || !rule.matchesDay(t) {
			continue
		}
		if excluded[t.UnixMilli()] {
			continue
		}
		if len(out) >= limit {
			return out, true
		}
		out = append(out, makeOccurrence(ev, t, t.Add(dur)))
	}
	return out, false
}

// ExpandEvents expands a set of events into the occurrences visible in the
// configured window: the base occurrence of each event that overlaps the
// window, plus every generated instance of recurring events.
func ExpandEvents(events []model.CalendarEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	all := make([]model.Occurrence, 0)
	for _, ev := range events {
		occ, hitCap := expandEvent(ev, cfg)
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.ID)
			appLog.Warn("expand: truncated occurrences for event due to cap",
				"event_id", ev.ID,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
		for _, o := range occ {
			o.Start = o.Start.In(cfg.DisplayLocation)
			o.End = o.End.In(cfg.DisplayLocation)
			o.InstanceKey = o.Start.Format(time.RFC3339Nano)
			all = append(all, o)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].Start.Equal(all[j].Start) {
			return all[i].Start.Before(all[j].Start)
		}
		return all[i].EventID < all[j].EventID
	})

	result.Occurrences = all
	return result, nil
}

func expandEvent(ev model.CalendarEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	generated, hitCap := generateInstances(ev, cfg.RangeStart, cfg.RangeEnd, cfg.MaxOccurrencesPerEvent, cfg.EventLocation)

	if !timeRangesOverlap(ev.StartDate, ev.EndDate, cfg.RangeStart, cfg.RangeEnd) {
		return generated, hitCap
	}
	if exceptionSet(ev.ExceptionDates)[ev.StartDate.UnixMilli()] {
		return generated, hitCap
	}
	for _, o := range generated {
		if o.Start.Equal(ev.StartDate) {
			return generated, hitCap
		}
	}

	out := make([]model.Occurrence, 0, len(generated)+1)
	out = append(out, makeOccurrence(ev, ev.StartDate, ev.EndDate))
	out = append(out, generated...)
	return out, hitCap
}

func makeOccurrence(ev model.CalendarEvent, start, end time.Time) model.Occurrence {
	return model.Occurrence{
		EventID:     ev.ID,
		InstanceKey: start.Format(time.RFC3339Nano),
		Title:       ev.Title,
		Location:    ev.Location,
		CategoryID:  ev.CategoryID,
		AllDay:      ev.IsAllDay,
		Start:       start,
		End:         end,
	}
}

func exceptionSet(dates []time.Time) map[int64]bool {
	set := make(map[int64]bool, len(dates))
	for _, d := range dates {
		set[d.UnixMilli()] = true
	}
	return set
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
