package middleware

import (
	"net/http"
	"strconv"

	"github.com/ehr/surgery-scheduler/internal/platform/hipaa"
	"github.com/ehr/surgery-scheduler/internal/platform/ratelimit"
	"github.com/ehr/surgery-scheduler/internal/platform/telemetry"
	"github.com/labstack/echo/v4"
)

// RateLimit applies the limiter policy for op. Authenticated callers are
// keyed by user id, others by "anonymous" and their ip.
func (g *Guard) RateLimit(op ratelimit.Operation) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return g.applyRateLimit(c, op, next)
		}
	}
}

// RateLimitByMethod picks read for GET and HEAD and write for everything
// else.
func (g *Guard) RateLimitByMethod() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			op := ratelimit.OpWrite
			switch c.Request().Method {
			case http.MethodGet, http.MethodHead:
				op = ratelimit.OpRead
			}
			return g.applyRateLimit(c, op, next)
		}
	}
}

func (g *Guard) applyRateLimit(c echo.Context, op ratelimit.Operation, next echo.HandlerFunc) error {
	sc := g.auditContext(c)

	d := g.limiter.DecideOperation(sc.UserID, op, sc.IPAddress)
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

	if !d.Allowed {
		retry := int(d.RetryAfter(g.limiter.Now()).Seconds())
		h.Set("Retry-After", strconv.Itoa(retry))

		telemetry.RateLimitRejected(string(op))
		g.recorder.LogEvent(c.Request().Context(), hipaa.ActionRateLimited, string(op), "", sc, false,
			hipaa.WithError("rate limit exceeded"),
			hipaa.WithRequestID(RequestIDFrom(c)),
			hipaa.WithData(map[string]any{"route": c.Path(), "retry_after_seconds": retry}))
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}
	return next(c)
}
