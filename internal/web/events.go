package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"schoolcal/internal/calendar"
	appLog "schoolcal/internal/log"
	"schoolcal/internal/model"
)

type exceptionRequest struct {
	Date time.Time `json:"date"`
}

func schoolParam(c echo.Context) (string, error) {
	school := strings.TrimSpace(c.Param("school"))
	if school == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "school is required")
	}
	return school, nil
}

// bindInput decodes and validates an event body.
func bindInput(c echo.Context) (model.EventInput, error) {
	var in model.EventInput
	if err := c.Bind(&in); err != nil {
		return in, echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	if err := calendar.ValidateEventData(in); err != nil {
		return in, err
	}
	return in, nil
}

func (s *Server) handleListEvents(c echo.Context) error {
	school, err := schoolParam(c)
	if err != nil {
		return err
	}
	events, err := s.repo.List(c.Request().Context(), school)
	if err != nil {
		return errors.Wrap(err, "list events")
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) handleGetEvent(c echo.Context) error {
	school, err := schoolParam(c)
	if err != nil {
		return err
	}
	ev, err := s.repo.Get(c.Request().Context(), school, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ev)
}

func (s *Server) handleValidateEvent(c echo.Context) error {
	if _, err := bindInput(c); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCreateEvent(c echo.Context) error {
	school, err := schoolParam(c)
	if err != nil {
		return err
	}
	in, err := bindInput(c)
	if err != nil {
		return err
	}

	ev := in.ToEvent(uuid.NewString(), school, s.now())
	created, err := s.repo.Create(c.Request().Context(), ev)
	if err != nil {
		return err
	}
	s.invalidateOccurrences(school)
	appLog.Info("event created", "school", school, "id", created.ID, "recurring", created.IsRecurring)
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) handleUpdateEvent(c echo.Context) error {
	school, err := schoolParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	existing, err := s.repo.Get(ctx, school, c.Param("id"))
	if err != nil {
		return err
	}
	in, err := bindInput(c)
	if err != nil {
		return err
	}

	ev := in.ToEvent(existing.ID, school, s.now())
	ev.SourceID = existing.SourceID
	updated, err := s.repo.Update(ctx, ev)
	if err != nil {
		return err
	}
	s.invalidateOccurrences(school)
	appLog.Info("event updated", "school", school, "id", updated.ID)
	return c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteEvent(c echo.Context) error {
	school, err := schoolParam(c)
	if err != nil {
		return err
	}
	id := c.Param("id")
	if err := s.repo.Delete(c.Request().Context(), school, id); err != nil {
		return err
	}
	s.invalidateOccurrences(school)
	appLog.Info("event deleted", "school", school, "id", id)
	return c.NoContent(http.StatusNoContent)
}

// handleAddException cancels one instance of a recurring event by adding
// its start to the exception dates.
func (s *Server) handleAddException(c echo.Context) error {
	school, err := schoolParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	ev, err := s.repo.Get(ctx, school, c.Param("id"))
	if err != nil {
		return err
	}

	var req exceptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	if req.Date.IsZero() {
		return &calendar.ValidationError{Field: "date", Message: "Date is required"}
	}
	if !ev.IsRecurring {
		return echo.NewHTTPError(http.StatusBadRequest, "event is not recurring")
	}

	for _, d := range ev.ExceptionDates {
		if d.UnixMilli() == req.Date.UnixMilli() {
			return c.JSON(http.StatusOK, ev)
		}
	}
	ev.ExceptionDates = append(ev.ExceptionDates, req.Date)

	updated, err := s.repo.Update(ctx, ev)
	if err != nil {
		return err
	}
	s.invalidateOccurrences(school)
	appLog.Info("exception added", "school", school, "id", ev.ID, "date", req.Date.Format(time.RFC3339))
	return c.JSON(http.StatusOK, updated)
}
