package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
}

func requestWithIdentity(id *Identity) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	if id != nil {
		req = req.WithContext(WithIdentity(req.Context(), id))
	}
	return req
}

func TestResolver_Resolve(t *testing.T) {
	r := NewResolver(nil, WithClock(fixedClock))
	req := requestWithIdentity(&Identity{
		UserID: "u-1", Email: "a@b.org", Role: RoleStaff, SessionID: "s-1",
	})
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req.Header.Set("User-Agent", "scheduler-ui/2.1")

	sc := r.Resolve(req)
	if sc == nil {
		t.Fatal("expected a security context")
	}
	if sc.UserID != "u-1" || sc.UserRole != RoleStaff || sc.UserEmail != "a@b.org" || sc.SessionID != "s-1" {
		t.Errorf("identity fields not copied: %+v", sc)
	}
	if sc.IPAddress != "203.0.113.7" {
		t.Errorf("expected first forwarded hop, got %q", sc.IPAddress)
	}
	if sc.UserAgent != "scheduler-ui/2.1" {
		t.Errorf("unexpected user agent %q", sc.UserAgent)
	}
	if !sc.Timestamp.Equal(fixedClock()) {
		t.Errorf("expected fixed timestamp, got %v", sc.Timestamp)
	}
}

func TestResolver_ResolveUnauthenticated(t *testing.T) {
	r := NewResolver(nil)
	if sc := r.Resolve(requestWithIdentity(nil)); sc != nil {
		t.Errorf("expected nil, got %+v", sc)
	}
	if sc := r.Resolve(requestWithIdentity(&Identity{Role: RoleAdmin})); sc != nil {
		t.Errorf("expected nil for identity without user id, got %+v", sc)
	}
}

func TestResolver_CustomSource(t *testing.T) {
	src := IdentitySourceFunc(func(ctx context.Context) (*Identity, bool) {
		return &Identity{UserID: "svc", Role: RoleAdmin}, true
	})
	sc := NewResolver(src).Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
	if sc == nil || sc.UserID != "svc" {
		t.Fatalf("expected context from custom source, got %+v", sc)
	}
}

func TestResolver_Anonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", "198.51.100.2")
	sc := NewResolver(nil).Anonymous(req)
	if !sc.IsAnonymous() {
		t.Error("expected anonymous context")
	}
	if sc.UserRole != RoleUnknown {
		t.Errorf("expected unknown role, got %v", sc.UserRole)
	}
	if sc.IPAddress != "198.51.100.2" {
		t.Errorf("expected X-Real-IP, got %q", sc.IPAddress)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"forwarded single", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "203.0.113.7"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": " 203.0.113.7 , 10.0.0.1"}, "203.0.113.7"},
		{"forwarded wins over real ip", map[string]string{"X-Forwarded-For": "1.1.1.1", "X-Real-IP": "2.2.2.2"}, "1.1.1.1"},
		{"real ip", map[string]string{"X-Real-IP": "2.2.2.2"}, "2.2.2.2"},
		{"empty forwarded falls through", map[string]string{"X-Forwarded-For": " , 9.9.9.9", "X-Real-IP": "2.2.2.2"}, "2.2.2.2"},
		{"no headers", nil, Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserAgent_Unknown(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Del("User-Agent")
	if got := UserAgent(req); got != Unknown {
		t.Errorf("expected %q, got %q", Unknown, got)
	}
}
