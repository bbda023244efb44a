package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is what the session collaborator knows about the caller.
type Identity struct {
	UserID    string
	Email     string
	Role      Role
	SessionID string
}

// Claims are the bearer token claims issued by the sign-in service.
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	Role      string `json:"role"`
	SessionID string `json:"sid"`
}

// Identity converts the claims to an Identity. The session id falls back to
// the token id when no sid claim is present.
func (c *Claims) Identity() *Identity {
	sid := c.SessionID
	if sid == "" {
		sid = c.ID
	}
	return &Identity{
		UserID:    c.Subject,
		Email:     c.Email,
		Role:      ParseRole(c.Role),
		SessionID: sid,
	}
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey enables HS256 verification instead of JWKS.
	SigningKey []byte
	// OnFailure, when set, is called for every rejected request before the
	// 401 is returned. The server uses it to audit failed authentication.
	OnFailure func(c echo.Context, reason string)
}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity stored by the auth middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var keyFunc jwt.Keyfunc
	if len(cfg.SigningKey) > 0 {
		keyFunc = func(t *jwt.Token) (interface{}, error) {
			return cfg.SigningKey, nil
		}
	} else {
		keyFunc = jwksKeyFunc(cfg.JWKSURL)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "HS256"}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	reject := func(c echo.Context, reason string) error {
		if cfg.OnFailure != nil {
			cfg.OnFailure(c, reason)
		}
		return echo.NewHTTPError(http.StatusUnauthorized, reason)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return reject(c, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return reject(c, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return reject(c, "invalid token")
			}
			if claims.Subject == "" {
				return reject(c, "invalid token")
			}

			ctx := WithIdentity(c.Request().Context(), claims.Identity())
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// DevAuthMiddleware is a permissive middleware for development. Requests
// without an Authorization header run as an admin dev user; requests with a
// bearer token are verified with cfg.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	verify := JWTMiddleware(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		verified := verify(next)
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "" {
				return verified(c)
			}
			ctx := WithIdentity(c.Request().Context(), &Identity{
				UserID:    "dev-user",
				Email:     "dev@localhost",
				Role:      RoleAdmin,
				SessionID: "dev-session",
			})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
