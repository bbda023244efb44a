package pagination

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextFor(query string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    Params
		wantErr error
	}{
		{"defaults", "", Params{Limit: 100}, nil},
		{"custom", "limit=50&offset=10", Params{Limit: 50, Offset: 10}, nil},
		{"zero limit uses default", "limit=0", Params{Limit: 100}, nil},
		{"clamped", "limit=5000", Params{Limit: 1000}, nil},
		{"non-integer limit", "limit=ten", Params{}, ErrInvalidLimit},
		{"negative limit", "limit=-1", Params{}, ErrInvalidLimit},
		{"non-integer offset", "offset=x", Params{}, ErrInvalidOffset},
		{"negative offset", "offset=-5", Params{}, ErrInvalidOffset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(contextFor(tt.query), 100, 1000)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestParams_HasNext(t *testing.T) {
	p := Params{Limit: 10, Offset: 0}
	if !p.HasNext(25) {
		t.Error("expected next page when offset+limit < total")
	}
	if p.NextOffset() != 10 {
		t.Errorf("expected next offset 10, got %d", p.NextOffset())
	}

	p = Params{Limit: 10, Offset: 20}
	if p.HasNext(25) {
		t.Error("expected no next page on the last page")
	}
	if (Params{Limit: 10}).HasNext(10) {
		t.Error("expected no next page when limit equals total")
	}
}
