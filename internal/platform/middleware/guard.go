package middleware

import (
	"net/http"

	"github.com/ehr/surgery-scheduler/internal/platform/auth"
	"github.com/ehr/surgery-scheduler/internal/platform/hipaa"
	"github.com/ehr/surgery-scheduler/internal/platform/ratelimit"
	"github.com/ehr/surgery-scheduler/internal/platform/telemetry"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const securityContextKey = "security_context"

// Guard bundles the collaborators the access-control middleware needs.
type Guard struct {
	resolver *auth.Resolver
	recorder *hipaa.Recorder
	limiter  *ratelimit.Limiter
	logger   zerolog.Logger
}

func NewGuard(resolver *auth.Resolver, recorder *hipaa.Recorder, limiter *ratelimit.Limiter, logger zerolog.Logger) *Guard {
	return &Guard{
		resolver: resolver,
		recorder: recorder,
		limiter:  limiter,
		logger:   logger.With().Str("component", "guard").Logger(),
	}
}

// SecurityContextFrom returns the context resolved by an earlier guard
// middleware on this request, or nil.
func SecurityContextFrom(c echo.Context) *auth.SecurityContext {
	sc, _ := c.Get(securityContextKey).(*auth.SecurityContext)
	return sc
}

// securityContext resolves once per request. Unauthenticated requests get
// nil.
func (g *Guard) securityContext(c echo.Context) *auth.SecurityContext {
	if sc := SecurityContextFrom(c); sc != nil {
		return sc
	}
	sc := g.resolver.Resolve(c.Request())
	if sc != nil {
		c.Set(securityContextKey, sc)
	}
	return sc
}

// auditContext is the context attributed in audit entries: the caller, or
// the anonymous context carrying ip and user agent.
func (g *Guard) auditContext(c echo.Context) *auth.SecurityContext {
	if sc := g.securityContext(c); sc != nil {
		return sc
	}
	return g.resolver.Anonymous(c.Request())
}

// RequireAuthenticated rejects requests without an identity and records
// the attempt.
func (g *Guard) RequireAuthenticated() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if g.securityContext(c) == nil {
				g.authFailed(c, "authentication required")
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return next(c)
		}
	}
}

// AuthFailureHook is installed as auth.JWTConfig.OnFailure so rejected
// tokens are audited against the anonymous user.
func (g *Guard) AuthFailureHook(c echo.Context, reason string) {
	g.authFailed(c, reason)
}

func (g *Guard) authFailed(c echo.Context, reason string) {
	g.recorder.LogEvent(c.Request().Context(), hipaa.ActionAuthFailed, "session", "",
		g.resolver.Anonymous(c.Request()), false,
		hipaa.WithError(reason), hipaa.WithRequestID(RequestIDFrom(c)))
}

// RequirePermission admits callers whose role holds action on resource in
// the coarse matrix. Denials are audited as <ACTION>_DENIED and answered
// with 403.
func (g *Guard) RequirePermission(action auth.Action, resource string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sc := g.securityContext(c)
			if sc == nil {
				g.authFailed(c, "authentication required")
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}

			allowed, err := auth.CheckPermission(sc.UserRole, action, resource)
			if err != nil {
				g.logger.Error().Err(err).Str("route", c.Path()).Msg("permission check misconfigured")
			}
			if !allowed {
				g.deny(c, sc, action.String(), resource)
				return echo.NewHTTPError(http.StatusForbidden, "forbidden")
			}
			return next(c)
		}
	}
}

// RequireEnhancedPermission admits callers whose role holds capability on
// resource at the requested scope.
func (g *Guard) RequireEnhancedPermission(resource auth.ResourceType, capability auth.Capability, scope auth.Scope) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sc := g.securityContext(c)
			if sc == nil {
				g.authFailed(c, "authentication required")
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}

			allowed, err := auth.CheckEnhancedPermission(sc.UserRole, resource, capability, scope)
			if err != nil {
				g.logger.Error().Err(err).Str("route", c.Path()).Msg("permission check misconfigured")
			}
			if !allowed {
				g.deny(c, sc, capability.String(), resource.String())
				return echo.NewHTTPError(http.StatusForbidden, "forbidden")
			}
			return next(c)
		}
	}
}

func (g *Guard) deny(c echo.Context, sc *auth.SecurityContext, action, resource string) {
	telemetry.PermissionDenied(resource, action)
	g.recorder.LogEvent(c.Request().Context(), hipaa.DeniedAction(action), resource, c.Param("id"), sc, false,
		hipaa.WithError("permission denied"),
		hipaa.WithRequestID(RequestIDFrom(c)),
		hipaa.WithData(map[string]any{"method": c.Request().Method, "route": c.Path()}))
}
