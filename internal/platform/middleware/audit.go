package middleware

import (
	"net/http"

	"github.com/ehr/surgery-scheduler/internal/platform/hipaa"
	"github.com/labstack/echo/v4"
)

// AuditAccess records one audit entry per request that reaches the handler,
// with the action derived from the HTTP method and the resource id taken
// from the :id path parameter. Mount it after the permission middleware so
// denials are recorded once, by the guard.
func (g *Guard) AuditAccess(resource string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			} else if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
			}
			success := err == nil && status < http.StatusBadRequest

			opts := []hipaa.EventOption{
				hipaa.WithRequestID(RequestIDFrom(c)),
				hipaa.WithData(map[string]any{"status": status, "route": c.Path()}),
			}
			if !success {
				opts = append(opts, hipaa.WithError(http.StatusText(status)))
			}

			g.recorder.LogEvent(c.Request().Context(), httpMethodToAction(c.Request().Method),
				resource, c.Param("id"), g.auditContext(c), success, opts...)

			return err
		}
	}
}

// httpMethodToAction maps HTTP methods to audit actions.
func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return hipaa.ActionCreate
	case http.MethodPut, http.MethodPatch:
		return hipaa.ActionUpdate
	case http.MethodDelete:
		return hipaa.ActionDelete
	default:
		return hipaa.ActionRead
	}
}
