package auth

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// permissionCheckResponse is the response for GET /auth/permissions/check.
type permissionCheckResponse struct {
	Role       Role         `json:"role"`
	Resource   ResourceType `json:"resource"`
	Capability Capability   `json:"capability"`
	Scope      Scope        `json:"scope"`
	Allowed    bool         `json:"allowed"`
}

// RegisterPermissionRoutes registers read-only endpoints that describe the
// caller's own permissions.
func RegisterPermissionRoutes(g *echo.Group, resolver *Resolver) {
	authGroup := g.Group("/auth")
	authGroup.GET("/permissions", handleEffectivePermissions(resolver))
	authGroup.GET("/permissions/check", handlePermissionCheck(resolver))
}

func handleEffectivePermissions(resolver *Resolver) echo.HandlerFunc {
	return func(c echo.Context) error {
		sc := resolver.Resolve(c.Request())
		if sc == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		}
		return c.JSON(http.StatusOK, EffectivePermissions(sc.UserRole))
	}
}

// handlePermissionCheck answers ?resource=&capability=&scope= for the caller.
func handlePermissionCheck(resolver *Resolver) echo.HandlerFunc {
	return func(c echo.Context) error {
		sc := resolver.Resolve(c.Request())
		if sc == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		}

		resource := ParseResourceType(c.QueryParam("resource"))
		capability := ParseCapability(c.QueryParam("capability"))
		scope, ok := LookupScope(c.QueryParam("scope"))
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown scope")
		}

		allowed, err := CheckEnhancedPermission(sc.UserRole, resource, capability, scope)
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown resource or capability")
		}

		return c.JSON(http.StatusOK, permissionCheckResponse{
			Role:       sc.UserRole,
			Resource:   resource,
			Capability: capability,
			Scope:      scope,
			Allowed:    allowed,
		})
	}
}
