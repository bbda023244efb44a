package db

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type fakeProbe struct {
	err   error
	stats PoolStats
}

func (f fakeProbe) Ping(context.Context) error { return f.err }
func (f fakeProbe) Stats() PoolStats         { return f.stats }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		probe      fakeProbe
		wantCode   int
		wantStatus string
	}{
		{"healthy", fakeProbe{stats: PoolStats{TotalConns: 5, IdleConns: 4, MaxConns: 20}}, http.StatusOK, "healthy"},
		{"unreachable", fakeProbe{err: errors.New("dial tcp db.internal:5432: password authentication failed for user scheduler")}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := HealthHandler(tt.probe, zerolog.New(&logs))(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}

			var body healthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("expected status %q, got %q", tt.wantStatus, body.Status)
			}
			if body.Pool != tt.probe.stats {
				t.Errorf("expected pool stats %+v, got %+v", tt.probe.stats, body.Pool)
			}
			if strings.Contains(rec.Body.String(), "db.internal") {
				t.Errorf("driver error leaked to response: %s", rec.Body.String())
			}
			if tt.probe.err != nil && !strings.Contains(logs.String(), "database ping failed") {
				t.Errorf("expected failure to be logged, got %q", logs.String())
			}
		})
	}
}
