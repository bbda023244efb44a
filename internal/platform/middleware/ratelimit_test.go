package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ehr/surgery-scheduler/internal/platform/auth"
	"github.com/ehr/surgery-scheduler/internal/platform/hipaa"
	"github.com/ehr/surgery-scheduler/internal/platform/ratelimit"
	"github.com/ehr/surgery-scheduler/internal/platform/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRateLimit_LoginBudget(t *testing.T) {
	env := newTestEnv()
	e := newEcho()
	e.POST("/api/v1/session", okHandler, env.guard.RateLimit(ratelimit.OpLogin))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/session", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.5")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	for i := 1; i <= 5; i++ {
		rec := send()
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(5-i) {
			t.Errorf("attempt %d: expected remaining %d, got %s", i, 5-i, got)
		}
	}

	before := testutil.ToFloat64(telemetry.RateLimitRejections(string(ratelimit.OpLogin)))
	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "5" {
		t.Errorf("expected limit header 5, got %q", rec.Header().Get("X-RateLimit-Limit"))
	}
	if rec.Header().Get("Retry-After") != "900" {
		t.Errorf("expected Retry-After 900, got %q", rec.Header().Get("Retry-After"))
	}
	if got := testutil.ToFloat64(telemetry.RateLimitRejections(string(ratelimit.OpLogin))); got != before+1 {
		t.Errorf("expected rejection counter to increase, got %v", got)
	}

	entries := env.sink.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].Action != hipaa.ActionRateLimited || entries[0].Success || entries[0].IPAddress != "203.0.113.5" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}

	env.clock.Advance(15*time.Minute + time.Second)
	if rec := send(); rec.Code != http.StatusOK {
		t.Errorf("expected new window to admit, got %d", rec.Code)
	}
}

func TestRateLimit_KeyedPerUser(t *testing.T) {
	env := newTestEnv(ratelimit.WithPolicy(ratelimit.OpExport, ratelimit.Policy{MaxRequests: 1, Window: time.Hour}))

	e := newEcho()
	alice := e.Group("/alice", asUser("alice", auth.RoleAdmin), env.guard.RateLimit(ratelimit.OpExport))
	alice.GET("/export", okHandler)
	bob := e.Group("/bob", asUser("bob", auth.RoleAdmin), env.guard.RateLimit(ratelimit.OpExport))
	bob.GET("/export", okHandler)

	get := func(path string) int {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	if code := get("/alice/export"); code != http.StatusOK {
		t.Fatalf("alice first export: expected 200, got %d", code)
	}
	if code := get("/alice/export"); code != http.StatusTooManyRequests {
		t.Fatalf("alice second export: expected 429, got %d", code)
	}
	if code := get("/bob/export"); code != http.StatusOK {
		t.Fatalf("bob export: expected 200, got %d", code)
	}
}

func TestRateLimitByMethod(t *testing.T) {
	env := newTestEnv(
		ratelimit.WithPolicy(ratelimit.OpRead, ratelimit.Policy{MaxRequests: 2, Window: time.Minute}),
		ratelimit.WithPolicy(ratelimit.OpWrite, ratelimit.Policy{MaxRequests: 1, Window: time.Minute}),
	)
	e := newEcho()
	g := e.Group("", asUser("u-1", auth.RoleSurgeon), env.guard.RateLimitByMethod())
	g.GET("/items", okHandler)
	g.POST("/items", okHandler)

	do := func(method string) int {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(method, "/items", nil))
		return rec.Code
	}

	if do(http.MethodPost) != http.StatusOK || do(http.MethodPost) != http.StatusTooManyRequests {
		t.Error("expected write budget of 1")
	}
	if do(http.MethodGet) != http.StatusOK || do(http.MethodGet) != http.StatusOK || do(http.MethodGet) != http.StatusTooManyRequests {
		t.Error("expected read budget of 2, independent of writes")
	}
}
