package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ehr/surgery-scheduler/internal/platform/hipaa"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header map[string]string
		want   int
	}{
		{"clean request", "/api/v1/patients?name=Jane", nil, http.StatusOK},
		{"path traversal", "/api/v1/../../etc/passwd", nil, http.StatusBadRequest},
		{"encoded traversal", "/api/v1/%2e%2e/%2e%2e/etc/passwd", nil, http.StatusBadRequest},
		{"null byte in query", "/api/v1/patients?q=a%00b", nil, http.StatusBadRequest},
		{"script in query", "/api/v1/patients?q=%3Cscript%3Ealert(1)%3C/script%3E", nil, http.StatusBadRequest},
		{"javascript uri", "/api/v1/patients?next=javascript:alert(1)", nil, http.StatusBadRequest},
		{"event handler", "/api/v1/patients?q=%3Cimg%20src%3Dx%20onerror%3Dalert(1)%3E", nil, http.StatusBadRequest},
		{"equals in plain text", "/api/v1/patients?q=onset%3D2d", nil, http.StatusOK},
		{"sql pattern logged only", "/api/v1/patients?q=1%3D1", nil, http.StatusOK},
		{"oversized header", "/api/v1/patients", map[string]string{"X-Big": strings.Repeat("a", maxHeaderValueSize+1)}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			e := newEcho()
			e.Use(env.guard.Sanitize())
			e.GET("/*", okHandler)

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if tt.want == http.StatusBadRequest {
				entries := env.sink.Entries()
				if len(entries) != 1 || entries[0].Action != hipaa.ActionInputRejected {
					t.Fatalf("expected one INPUT_REJECTED entry, got %+v", entries)
				}
			} else if env.sink.Len() != 0 {
				t.Errorf("clean request audited")
			}
		})
	}
}

func TestSanitize_RejectionDoesNotEchoInput(t *testing.T) {
	env := newTestEnv()
	e := newEcho()
	e.Use(env.guard.Sanitize())
	e.GET("/*", okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients?q=%3Cscript%3Esteal(123-45-6789)%3C/script%3E", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if strings.Contains(rec.Body.String(), "steal") || strings.Contains(rec.Body.String(), "123-45-6789") {
		t.Errorf("response echoes rejected input: %s", rec.Body.String())
	}
	entry := env.sink.Entries()[0]
	if entry.ErrorMessage == nil || strings.Contains(*entry.ErrorMessage, "steal") {
		t.Errorf("audit reason echoes rejected input: %v", entry.ErrorMessage)
	}
}
