package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/ehr/surgery-scheduler/internal/platform/hipaa"
	"github.com/ehr/surgery-scheduler/internal/platform/phi"
	"github.com/labstack/echo/v4"
)

// Recovery turns a handler panic into a 500 and records an ERROR audit
// event against the caller.
func (g *Guard) Recovery() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					var stack [4096]byte
					n := runtime.Stack(stack[:], false)
					rid := RequestIDFrom(c)

					g.logger.Error().
						Str("request_id", rid).
						Str("panic", phi.ScrubMessage(fmt.Sprintf("%v", r))).
						Str("stack", string(stack[:n])).
						Msg("panic recovered")

					g.recorder.LogEvent(c.Request().Context(), hipaa.ActionError, "request", "",
						g.auditContext(c), false,
						hipaa.WithError("internal error"),
						hipaa.WithRequestID(rid),
						hipaa.WithData(map[string]any{"method": c.Request().Method, "route": c.Path()}))

					err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
				}
			}()
			return next(c)
		}
	}
}
