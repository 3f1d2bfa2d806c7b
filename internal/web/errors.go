package web

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"schoolcal/internal/calendar"
	appLog "schoolcal/internal/log"
	"schoolcal/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// newHTTPErrorHandler maps domain errors to status codes:
// validation → 400, not found → 404, conflict → 409, echo errors keep
// their code, anything else → 500.
func newHTTPErrorHandler() echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		resp := errorResponse{Error: http.StatusText(http.StatusInternalServerError)}

		var ve *calendar.ValidationError
		var he *echo.HTTPError
		switch {
		case errors.As(err, &ve):
			code = http.StatusBadRequest
			resp = errorResponse{Error: ve.Message, Field: ve.Field}
		case errors.Is(err, store.ErrNotFound):
			code = http.StatusNotFound
			resp.Error = store.ErrNotFound.Error()
		case errors.Is(err, store.ErrConflict):
			code = http.StatusConflict
			resp.Error = store.ErrConflict.Error()
		case errors.As(err, &he):
			code = he.Code
			if msg, ok := he.Message.(string); ok {
				resp.Error = msg
			} else {
				resp.Error = http.StatusText(code)
			}
		default:
			appLog.Error("request failed", err,
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			if c.Echo().Debug {
				resp.Error = err.Error()
			}
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, resp)
		}
		if err != nil {
			appLog.Error("failed to write error response", err)
		}
	}
}
