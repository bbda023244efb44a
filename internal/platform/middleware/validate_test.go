package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ehr/surgery-scheduler/internal/platform/auth"
	"github.com/ehr/surgery-scheduler/internal/platform/hipaa"
	"github.com/ehr/surgery-scheduler/internal/platform/phi"
	"github.com/labstack/echo/v4"
)

func validatePatientRoute(env *testEnv) *echo.Echo {
	v := phi.NewValidator()
	e := newEcho()
	e.POST("/patients/validate", func(c echo.Context) error {
		var in phi.PatientInput
		if err := env.guard.BindAndValidate(c, v, auth.ResourcePatients, &in); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}, asUser("staff-1", auth.RoleStaff))
	return e
}

func postJSON(e *echo.Echo, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/patients/validate", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestBindAndValidate(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantField  string
	}{
		{"valid", `{"first_name":"Jane","last_name":"Doe","date_of_birth":"1980-02-03","mrn":"MRN42"}`, http.StatusNoContent, ""},
		{"missing required", `{"first_name":"Jane"}`, http.StatusBadRequest, "last_name"},
		{"markup in notes", `{"first_name":"Jane","last_name":"Doe","date_of_birth":"1980-02-03","mrn":"MRN42","notes":"<img src=x onerror=alert(1)>"}`, http.StatusBadRequest, "notes"},
		{"malformed body", `{"first_name":`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			rec := postJSON(validatePatientRoute(env), tt.body)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus == http.StatusNoContent {
				if env.sink.Len() != 0 {
					t.Errorf("valid input should not be audited, got %d entries", env.sink.Len())
				}
				return
			}

			var body errorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error != "validation failed" || body.RequestID == "" || len(body.Fields) == 0 {
				t.Errorf("unexpected body: %+v", body)
			}
			if tt.wantField != "" {
				found := false
				for _, f := range body.Fields {
					found = found || f.Field == tt.wantField
				}
				if !found {
					t.Errorf("expected %s in fields, got %+v", tt.wantField, body.Fields)
				}
			}

			entries := env.sink.Entries()
			if len(entries) != 1 {
				t.Fatalf("expected exactly 1 audit entry, got %d", len(entries))
			}
			got := entries[0]
			if got.Action != hipaa.ActionValidationRejected || got.Resource != auth.ResourcePatients || got.Success {
				t.Errorf("unexpected entry: action=%s resource=%s success=%v", got.Action, got.Resource, got.Success)
			}
			if got.UserID != "staff-1" || got.ErrorMessage == nil || *got.ErrorMessage != "validation failed" {
				t.Errorf("unexpected attribution: %+v", got)
			}
		})
	}
}

func TestBindAndValidate_MessagesCarryNoPHI(t *testing.T) {
	env := newTestEnv()
	rec := postJSON(validatePatientRoute(env),
		`{"first_name":"Jane","last_name":"Doe","date_of_birth":"1980-02-03","mrn":"MRN42","ssn":"123-45-678","email":"jane.doe@hospital"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	entries := env.sink.Entries()
	if len(entries) != 1 || entries[0].AdditionalData == nil {
		t.Fatalf("expected one entry with field data, got %+v", entries)
	}
	for _, out := range []string{rec.Body.String(), *entries[0].AdditionalData} {
		for _, leaked := range []string{"123-45-678", "jane.doe@hospital"} {
			if strings.Contains(out, leaked) {
				t.Errorf("%q leaked into %s", leaked, out)
			}
		}
	}
}
