package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// ToStandardRule rewrites rule so that an RFC 5545 consumer expanding it
// from dtstart produces the same starts as ExpandEvents. RFC 5545 expands
// BYDAY for WEEKLY, MONTHLY and YEARLY rules, while here BYDAY only
// filters the stepped candidates:
//
//   - WEEKLY drops BYDAY when it contains the start weekday. Otherwise
//     nothing repeats and the result is "".
//   - MONTHLY and YEARLY pin the start day with BYMONTHDAY (and BYMONTH),
//     which turns BYDAY into a limit.
//   - COUNT with BYDAY becomes UNTIL of the last counted candidate, since
//     COUNT here counts candidates before the filter.
//
// dtstart must be in the zone the event is stepped in. allDay selects a
// DATE UNTIL.
func ToStandardRule(rule string, dtstart time.Time, allDay bool) (string, error) {
	r, err := ParseRule(rule)
	if err != nil {
		return "", err
	}
	parts := ruleParts(rule)
	if len(r.byDay) == 0 {
		return strings.Join(parts, ";"), nil
	}

	if r.opt.Freq == rrule.WEEKLY {
		if !r.byDay[dtstart.Weekday()] {
			return "", nil
		}
		return strings.Join(withoutKeys(parts, "BYDAY"), ";"), nil
	}

	if r.opt.Count > 0 {
		step, err := r.stepper(dtstart.Truncate(time.Second))
		if err != nil {
			return "", fmt.Errorf("%w: %v", errInvalidRule, err)
		}
		all := step.All()
		if len(all) == 0 {
			return "", nil
		}
		last := all[len(all)-1]
		until := last.UTC().Format("20060102T150405Z")
		if allDay {
			until = last.Format("20060102")
		}
		parts = append(withoutKeys(parts, "COUNT", "UNTIL"), "UNTIL="+until)
	}

	switch r.opt.Freq {
	case rrule.MONTHLY:
		parts = append(parts, "BYMONTHDAY="+strconv.Itoa(dtstart.Day()))
	case rrule.YEARLY:
		parts = append(parts,
			"BYMONTH="+strconv.Itoa(int(dtstart.Month())),
			"BYMONTHDAY="+strconv.Itoa(dtstart.Day()))
	}
	return strings.Join(parts, ";"), nil
}

// FromStandardRule accepts an RFC 5545 rule only when ExpandEvents would
// produce the same starts from dtstart, and returns it in the form
// ParseRule takes. It reverses ToStandardRule.
func FromStandardRule(rule string, dtstart time.Time) (string, error) {
	parts := ruleParts(rule)
	monthDay, hasMonthDay := ruleValue(parts, "BYMONTHDAY")
	month, hasMonth := ruleValue(parts, "BYMONTH")
	rest := withoutKeys(parts, "BYMONTHDAY", "BYMONTH")

	r, err := ParseRule(strings.Join(rest, ";"))
	if err != nil {
		return "", err
	}
	pinned := func(key, value string, want int) error {
		if n, err := strconv.Atoi(value); err != nil || n != want {
			return fmt.Errorf("%w: %s=%s does not match the start date", errInvalidRule, key, value)
		}
		return nil
	}

	if len(r.byDay) > 0 && r.opt.Count > 0 && r.opt.Freq != rrule.WEEKLY {
		return "", fmt.Errorf("%w: COUNT with BYDAY", errInvalidRule)
	}
	switch {
	case len(r.byDay) == 0 || r.opt.Freq == rrule.DAILY:
		if hasMonthDay || hasMonth {
			return "", fmt.Errorf("%w: unsupported BYMONTHDAY or BYMONTH", errInvalidRule)
		}
	case r.opt.Freq == rrule.WEEKLY:
		if hasMonthDay || hasMonth {
			return "", fmt.Errorf("%w: unsupported BYMONTHDAY or BYMONTH", errInvalidRule)
		}
		if len(r.byDay) != 1 || !r.byDay[dtstart.Weekday()] {
			return "", fmt.Errorf("%w: weekly BYDAY other than the start weekday", errInvalidRule)
		}
	case r.opt.Freq == rrule.MONTHLY:
		if !hasMonthDay || hasMonth {
			return "", fmt.Errorf("%w: monthly BYDAY without the start BYMONTHDAY", errInvalidRule)
		}
		if err := pinned("BYMONTHDAY", monthDay, dtstart.Day()); err != nil {
			return "", err
		}
	case r.opt.Freq == rrule.YEARLY:
		if !hasMonthDay || !hasMonth {
			return "", fmt.Errorf("%w: yearly BYDAY without the start BYMONTH and BYMONTHDAY", errInvalidRule)
		}
		if err := pinned("BYMONTHDAY", monthDay, dtstart.Day()); err != nil {
			return "", err
		}
		if err := pinned("BYMONTH", month, int(dtstart.Month())); err != nil {
			return "", err
		}
	}
	return strings.Join(rest, ";"), nil
}

func ruleParts(rule string) []string {
	rule = strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:")
	out := make([]string, 0)
	for _, p := range strings.Split(rule, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func ruleValue(parts []string, key string) (string, bool) {
	for _, p := range parts {
		if k, v, ok := strings.Cut(p, "="); ok && strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func withoutKeys(parts []string, keys ...string) []string {
	out := make([]string, 0, len(parts))
next:
	for _, p := range parts {
		k, _, _ := strings.Cut(p, "=")
		for _, key := range keys {
			if strings.EqualFold(k, key) {
				continue next
			}
		}
		out = append(out, p)
	}
	return out
}
