package web

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"schoolcal/internal/calendar"
	"schoolcal/internal/ics"
	appLog "schoolcal/internal/log"
	"schoolcal/internal/model"
)

const (
	occurrencesCacheTTL = 30 * time.Second
	defaultWindow       = 7 * 24 * time.Hour
	dateLayout          = "2006-01-02"
)

type occurrencesResponse struct {
	Occurrences     []model.Occurrence `json:"occurrences"`
	TruncatedEvents []string           `json:"truncatedEvents"`
	RangeStart      time.Time          `json:"rangeStart"`
	RangeEnd        time.Time          `json:"rangeEnd"`
	Timezone        string             `json:"timezone"`
}

type occurrencesCacheEntry struct {
	resp    occurrencesResponse
	expires time.Time
}

// occurrencesQuery is the parsed form of the occurrences query string.
type occurrencesQuery struct {
	from, to time.Time
	audience calendar.Audience
}

func (q occurrencesQuery) cacheKey() string {
	return fmt.Sprintf("%d|%d|%s|%s|%s",
		q.from.UnixMilli(), q.to.UnixMilli(),
		q.audience.Role, q.audience.ClassID, q.audience.SectionID)
}

// parseQueryTime accepts RFC3339 or a plain date in loc. A plain date used
// as a window end covers the whole day.
func parseQueryTime(v string, loc *time.Location, end bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation(dateLayout, v, loc)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid time %q", v)
	}
	if end {
		return d.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	}
	return d, nil
}

func (s *Server) parseOccurrencesQuery(c echo.Context) (occurrencesQuery, error) {
	var q occurrencesQuery

	if v := c.QueryParam("from"); v != "" {
		t, err := parseQueryTime(v, s.loc, false)
		if err != nil {
			return q, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		q.from = t
	} else {
		now := s.now().In(s.loc)
		q.from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	}

	if v := c.QueryParam("to"); v != "" {
		t, err := parseQueryTime(v, s.loc, true)
		if err != nil {
			return q, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		q.to = t
	} else {
		q.to = q.from.Add(defaultWindow)
	}

	if q.to.Before(q.from) {
		return q, echo.NewHTTPError(http.StatusBadRequest, "to must not be before from")
	}
	if maxDays := s.cfg.MaxWindowDays; maxDays > 0 && q.to.Sub(q.from) > time.Duration(maxDays)*24*time.Hour {
		return q, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("window must not exceed %d days", maxDays))
	}

	role := strings.ToUpper(strings.TrimSpace(c.QueryParam("role")))
	if role != "" && !model.IsKnownRole(role) {
		return q, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown role %q", role))
	}
	q.audience = calendar.Audience{
		Role:      role,
		ClassID:   strings.TrimSpace(c.QueryParam("class")),
		SectionID: strings.TrimSpace(c.QueryParam("section")),
	}
	return q, nil
}

// handleOccurrences expands the school's events in the requested window
// for the requested audience.
func (s *Server) handleOccurrences(c echo.Context) error {
	school, err := schoolParam(c)
	if err != nil {
		return err
	}
	q, err := s.parseOccurrencesQuery(c)
	if err != nil {
		return err
	}

	key := q.cacheKey()
	now := s.now()
	s.occMu.RLock()
	entry, ok := s.occCache[school][key]
	s.occMu.RUnlock()
	if ok && now.Before(entry.expires) {
		return c.JSON(http.StatusOK, entry.resp)
	}

	events, err := s.repo.ListBetween(c.Request().Context(), school, q.from, q.to)
	if err != nil {
		return errors.Wrap(err, "list events")
	}
	res, err := calendar.ExpandEvents(calendar.FilterVisible(events, q.audience), calendar.ExpandConfig{
		DisplayLocation:        s.loc,
		EventLocation:          s.loc,
		RangeStart:             q.from,
		RangeEnd:               q.to,
		MaxOccurrencesPerEvent: s.cfg.MaxOccurrencesPerEvent,
	})
	if err != nil {
		return err
	}
	if len(res.TruncatedEvents) > 0 {
		appLog.Warn("occurrence cap reached", "school", school, "events", strings.Join(res.TruncatedEvents, ","))
	}

	resp := occurrencesResponse{
		Occurrences:     res.Occurrences,
		TruncatedEvents: res.TruncatedEvents,
		RangeStart:      q.from.In(s.loc),
		RangeEnd:        q.to.In(s.loc),
		Timezone:        s.loc.String(),
	}
	if resp.Occurrences == nil {
		resp.Occurrences = []model.Occurrence{}
	}
	if resp.TruncatedEvents == nil {
		resp.TruncatedEvents = []string{}
	}

	s.occMu.Lock()
	if s.occCache[school] == nil {
		s.occCache[school] = make(map[string]occurrencesCacheEntry)
	}
	s.occCache[school][key] = occurrencesCacheEntry{resp: resp, expires: now.Add(occurrencesCacheTTL)}
	s.occMu.Unlock()

	return c.JSON(http.StatusOK, resp)
}

// invalidateOccurrences drops cached occurrences of a school; an empty
// school clears everything.
func (s *Server) invalidateOccurrences(school string) {
	s.occMu.Lock()
	defer s.occMu.Unlock()
	if school == "" {
		s.occCache = make(map[string]map[string]occurrencesCacheEntry)
		return
	}
	delete(s.occCache, school)
}

// handleCalendarICS serves the school's events as an iCalendar download.
func (s *Server) handleCalendarICS(c echo.Context) error {
	school, err := schoolParam(c)
	if err != nil {
		return err
	}
	role := strings.ToUpper(strings.TrimSpace(c.QueryParam("role")))
	if role != "" && !model.IsKnownRole(role) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown role %q", role))
	}

	events, err := s.repo.List(c.Request().Context(), school)
	if err != nil {
		return errors.Wrap(err, "list events")
	}
	events = calendar.FilterVisible(events, calendar.Audience{
		Role:      role,
		ClassID:   strings.TrimSpace(c.QueryParam("class")),
		SectionID: strings.TrimSpace(c.QueryParam("section")),
	})

	body := ics.Export(events, ics.ExportOptions{
		Name:      school,
		Location:  s.loc,
		WeekStart: s.cfg.WeekStart,
		Now:       s.now(),
	})

	name := slug.Make(school)
	if name == "" {
		name = "calendar"
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name+".ics"))
	return c.Blob(http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
}

// handleFeedSync runs the holiday feed import immediately.
func (s *Server) handleFeedSync(c echo.Context) error {
	if s.syncer == nil {
		return c.JSON(http.StatusOK, ics.SyncReport{})
	}
	report, err := s.syncer.Sync(c.Request().Context())
	if err != nil {
		return errors.Wrap(err, "sync feeds")
	}
	s.invalidateOccurrences("")
	return c.JSON(http.StatusOK, report)
}
