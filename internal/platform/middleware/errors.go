package middleware

import (
	"errors"
	"net/http"

	"github.com/ehr/surgery-scheduler/internal/platform/phi"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// errorBody is the only error shape clients see.
type errorBody struct {
	Error     string           `json:"error"`
	RequestID string           `json:"request_id,omitempty"`
	Fields    []phi.FieldError `json:"fields,omitempty"`
}

// ErrorHandler replaces echo's default handler. Client errors keep their
// short message, scrubbed of identifiers; server errors are logged and
// answered with a fixed message.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := http.StatusText(code)

		var fields []phi.FieldError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = http.StatusText(code)
			switch m := he.Message.(type) {
			case *ValidationError:
				msg = m.Error()
				fields = m.Fields
			case string:
				if code < 500 {
					msg = phi.ScrubMessage(m)
				}
			}
		}

		rid := RequestIDFrom(c)
		if code >= 500 {
			logger.Error().
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("route", c.Path()).
				Str("error", phi.ScrubMessage(err.Error())).
				Msg("request failed")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, errorBody{Error: msg, RequestID: rid, Fields: fields})
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Str("request_id", rid).Msg("write error response")
		}
	}
}
