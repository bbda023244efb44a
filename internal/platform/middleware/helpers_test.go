package middleware

import (
	"net/http"
	"time"

	"github.com/ehr/surgery-scheduler/internal/platform/auth"
	"github.com/ehr/surgery-scheduler/internal/platform/hipaa"
	"github.com/ehr/surgery-scheduler/internal/platform/ratelimit"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

type testEnv struct {
	guard   *Guard
	sink    *hipaa.MemorySink
	limiter *ratelimit.Limiter
	clock   *fakeClock
}

func newTestEnv(opts ...ratelimit.Option) *testEnv {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	sink := hipaa.NewMemorySink()
	recorder := hipaa.NewRecorder(sink, nil)
	limiter := ratelimit.New(append([]ratelimit.Option{ratelimit.WithClock(clock.Now)}, opts...)...)
	resolver := auth.NewResolver(auth.ContextIdentitySource)
	return &testEnv{
		guard:   NewGuard(resolver, recorder, limiter, zerolog.Nop()),
		sink:    sink,
		limiter: limiter,
		clock:   clock,
	}
}

// asUser authenticates every request as the given user.
func asUser(userID string, role auth.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := &auth.Identity{UserID: userID, Email: userID + "@example.org", Role: role, SessionID: "sess-" + userID}
			c.SetRequest(c.Request().WithContext(auth.WithIdentity(c.Request().Context(), id)))
			return next(c)
		}
	}
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(zerolog.Nop())
	e.Use(RequestID())
	return e
}
