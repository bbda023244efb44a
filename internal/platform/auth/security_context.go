package auth

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Unknown is recorded when the client IP or user agent cannot be determined.
const Unknown = "Unknown"

// AnonymousUserID attributes audit entries for requests without an identity.
const AnonymousUserID = "anonymous"

// SecurityContext is the per-request view of who is calling and from where.
// It is built once per request and not modified afterwards.
type SecurityContext struct {
	UserID    string    `json:"user_id"`
	UserRole  Role      `json:"user_role"`
	UserEmail string    `json:"user_email"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
}

// IsAnonymous reports whether the context was built without an identity.
func (sc *SecurityContext) IsAnonymous() bool {
	return sc == nil || sc.UserID == AnonymousUserID
}

// IdentitySource is the session collaborator. It returns false when the
// caller is not authenticated.
type IdentitySource interface {
	Identity(ctx context.Context) (*Identity, bool)
}

// IdentitySourceFunc adapts a function to IdentitySource.
type IdentitySourceFunc func(ctx context.Context) (*Identity, bool)

func (f IdentitySourceFunc) Identity(ctx context.Context) (*Identity, bool) {
	return f(ctx)
}

// ContextIdentitySource reads the identity stored by JWTMiddleware.
var ContextIdentitySource IdentitySource = IdentitySourceFunc(IdentityFromContext)

// Resolver builds a SecurityContext from an inbound request.
type Resolver struct {
	source IdentitySource
	now    func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithClock overrides the resolver's time source.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

func NewResolver(source IdentitySource, opts ...ResolverOption) *Resolver {
	if source == nil {
		source = ContextIdentitySource
	}
	r := &Resolver{source: source, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns nil when the request carries no identity.
func (r *Resolver) Resolve(req *http.Request) *SecurityContext {
	id, ok := r.source.Identity(req.Context())
	if !ok || id.UserID == "" {
		return nil
	}
	return &SecurityContext{
		UserID:    id.UserID,
		UserRole:  id.Role,
		UserEmail: id.Email,
		SessionID: id.SessionID,
		Timestamp: r.now().UTC(),
		IPAddress: ClientIP(req),
		UserAgent: UserAgent(req),
	}
}

// Anonymous builds a context attributed to AnonymousUserID, for auditing
// requests that failed authentication.
func (r *Resolver) Anonymous(req *http.Request) *SecurityContext {
	return &SecurityContext{
		UserID:    AnonymousUserID,
		UserRole:  RoleUnknown,
		Timestamp: r.now().UTC(),
		IPAddress: ClientIP(req),
		UserAgent: UserAgent(req),
	}
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP.
func ClientIP(req *http.Request) string {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(req.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return Unknown
}

func UserAgent(req *http.Request) string {
	if ua := strings.TrimSpace(req.UserAgent()); ua != "" {
		return ua
	}
	return Unknown
}
