package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// supportedRuleKeys is the RRULE subset accepted for school events.
var supportedRuleKeys = map[string]bool{
	"FREQ":     true,
	"INTERVAL": true,
	"COUNT":    true,
	"UNTIL":    true,
	"BYDAY":    true,
	"WKST":     true,
}

var errInvalidRule = errors.New("invalid recurrence pattern")

// Rule is a parsed recurrence rule. BYDAY is kept apart from the stepping
// options: it filters stepped candidates by weekday instead of expanding
// them.
type Rule struct {
	opt   rrule.ROption
	byDay map[time.Weekday]bool
	// untilDate is set for a DATE UNTIL, which includes that whole day
	// in the zone the rule is stepped in.
	untilDate bool
}

// ParseRule parses a recurrence rule such as "FREQ=WEEKLY;BYDAY=MO,WE".
// An optional "RRULE:" prefix is accepted.
func ParseRule(s string) (Rule, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "RRULE:")
	if s == "" || strings.ContainsAny(s, "\r\n") {
		return Rule{}, errInvalidRule
	}

	hasFreq, untilDate := false, false
	for _, attr := range strings.Split(s, ";") {
		key, value, ok := strings.Cut(attr, "=")
		if !ok || !supportedRuleKeys[key] {
			return Rule{}, fmt.Errorf("%w: unsupported part %q", errInvalidRule, attr)
		}
		switch key {
		case "FREQ":
			hasFreq = true
		case "UNTIL":
			untilDate = len(value) == len(rrule.DateFormat)
		}
	}
	if !hasFreq {
		return Rule{}, fmt.Errorf("%w: FREQ is required", errInvalidRule)
	}

	opt, err := rrule.StrToROption(s)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %v", errInvalidRule, err)
	}
	switch opt.Freq {
	case rrule.DAILY, rrule.WEEKLY, rrule.MONTHLY, rrule.YEARLY:
	default:
		return Rule{}, fmt.Errorf("%w: unsupported frequency %s", errInvalidRule, opt.Freq)
	}
	if opt.Interval < 0 || opt.Count < 0 {
		return Rule{}, fmt.Errorf("%w: negative INTERVAL or COUNT", errInvalidRule)
	}

	r := Rule{opt: *opt, untilDate: untilDate}
	if len(opt.Byweekday) > 0 {
		r.byDay = make(map[time.Weekday]bool, len(opt.Byweekday))
		for _, wd := range opt.Byweekday {
			if wd.N() != 0 {
				return Rule{}, fmt.Errorf("%w: ordinal weekday %s", errInvalidRule, wd)
			}
			r.byDay[toTimeWeekday(wd)] = true
		}
	}
	r.opt.Byweekday = nil
	return r, nil
}

// Frequency returns the rule's FREQ value, e.g. "WEEKLY".
func (r Rule) Frequency() string {
	return r.opt.Freq.String()
}

// ByDay returns the BYDAY filter in Monday-first order, or nil.
func (r Rule) ByDay() []time.Weekday {
	if len(r.byDay) == 0 {
		return nil
	}
	out := make([]time.Weekday, 0, len(r.byDay))
	for _, wd := range []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday} {
		if r.byDay[wd] {
			out = append(out, wd)
		}
	}
	return out
}

func (r Rule) matchesDay(t time.Time) bool {
	return len(r.byDay) == 0 || r.byDay[t.Weekday()]
}

// stepper builds the rrule that steps from dtstart by the rule's period.
// rrule-go keeps the day-of-month for monthly steps and skips months
// where it does not exist.
func (r Rule) stepper(dtstart time.Time) (*rrule.RRule, error) {
	opt := r.opt
	opt.Dtstart = dtstart
	if r.untilDate {
		u := r.opt.Until
		opt.Until = time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, 0, dtstart.Location())
	}
	return rrule.NewRRule(opt)
}

// rrule-go numbers weekdays from Monday = 0.
func toTimeWeekday(wd rrule.Weekday) time.Weekday {
	return time.Weekday((wd.Day() + 1) % 7)
}
