package middleware

import (
	"net/http"

	"github.com/ehr/surgery-scheduler/internal/platform/hipaa"
	"github.com/ehr/surgery-scheduler/internal/platform/phi"
	"github.com/labstack/echo/v4"
)

// ValidationError is the message of the 400 returned by BindAndValidate.
// Every field message has been scrubbed by the validator.
type ValidationError struct {
	Fields []phi.FieldError
}

func (e *ValidationError) Error() string { return "validation failed" }

// BindAndValidate decodes the request body into dst and validates it with
// v. A malformed body or a failed validation is recorded once as
// VALIDATION_REJECTED against resource and returned as a 400.
func (g *Guard) BindAndValidate(c echo.Context, v *phi.Validator, resource string, dst any) error {
	if err := c.Bind(dst); err != nil {
		fields := []phi.FieldError{{Message: "malformed request body"}}
		g.validationRejected(c, resource, fields)
		return echo.NewHTTPError(http.StatusBadRequest, &ValidationError{Fields: fields})
	}
	if fields := v.Struct(dst); len(fields) > 0 {
		g.validationRejected(c, resource, fields)
		return echo.NewHTTPError(http.StatusBadRequest, &ValidationError{Fields: fields})
	}
	return nil
}

func (g *Guard) validationRejected(c echo.Context, resource string, fields []phi.FieldError) {
	g.recorder.LogEvent(c.Request().Context(), hipaa.ActionValidationRejected, resource, c.Param("id"),
		g.auditContext(c), false,
		hipaa.WithError("validation failed"),
		hipaa.WithRequestID(RequestIDFrom(c)),
		hipaa.WithData(map[string]any{"method": c.Request().Method, "route": c.Path(), "fields": fields}))
}
