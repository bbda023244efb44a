package hipaa

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/ehr/surgery-scheduler/internal/platform/auth"
	"github.com/ehr/surgery-scheduler/pkg/pagination"
	"github.com/labstack/echo/v4"
)

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 1000
	// maxExportRows caps a single CSV export.
	maxExportRows = 10000
)

// AuditSearchParams holds filter, pagination, and sort parameters for audit
// trail search. Zero values do not filter.
type AuditSearchParams struct {
	UserID     string     `json:"user_id" query:"user_id"`
	Action     string     `json:"action" query:"action"`
	Resource   string     `json:"resource" query:"resource"`
	ResourceID string     `json:"resource_id" query:"resource_id"`
	IPAddress  string     `json:"ip_address" query:"ip_address"`
	Success    *bool      `json:"success" query:"success"`
	StartTime  *time.Time `json:"start_time" query:"start_time"`
	EndTime    *time.Time `json:"end_time" query:"end_time"`
	Limit      int        `json:"limit" query:"limit"`
	Offset     int        `json:"offset" query:"offset"`
	SortBy     string     `json:"sort_by" query:"sort_by"`
	SortOrder  string     `json:"sort_order" query:"sort_order"`
}

// AuditSearchResult contains paginated search results.
type AuditSearchResult struct {
	Entries []*AuditLogEntry `json:"entries"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
	HasMore bool             `json:"has_more"`
}

// Searcher looks up audit entries. MemorySink and PGSink implement it.
type Searcher interface {
	Search(ctx context.Context, params AuditSearchParams) (*AuditSearchResult, error)
}

// applyDefaults normalizes search params, applying defaults for limit, sort, etc.
func applyDefaults(params *AuditSearchParams) {
	if params.Limit <= 0 {
		params.Limit = defaultSearchLimit
	}
	if params.Limit > maxExportRows {
		params.Limit = maxExportRows
	}
	if params.Offset < 0 {
		params.Offset = 0
	}
	switch params.SortBy {
	case "timestamp", "user", "action":
	default:
		params.SortBy = "timestamp"
	}
	if params.SortOrder != "asc" {
		params.SortOrder = "desc"
	}
}

// matchEntry returns true if the entry matches all non-zero filter criteria.
func matchEntry(entry *AuditLogEntry, params AuditSearchParams) bool {
	if params.UserID != "" && entry.UserID != params.UserID {
		return false
	}
	if params.Action != "" && entry.Action != params.Action {
		return false
	}
	if params.Resource != "" && entry.Resource != params.Resource {
		return false
	}
	if params.ResourceID != "" && entry.ResourceID != params.ResourceID {
		return false
	}
	if params.IPAddress != "" && entry.IPAddress != params.IPAddress {
		return false
	}
	if params.Success != nil && entry.Success != *params.Success {
		return false
	}
	if params.StartTime != nil && entry.Timestamp.Before(*params.StartTime) {
		return false
	}
	if params.EndTime != nil && entry.Timestamp.After(*params.EndTime) {
		return false
	}
	return true
}

// sortEntries sorts entries in place by the given sort parameters.
func sortEntries(entries []*AuditLogEntry, sortBy, sortOrder string) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if sortOrder == "desc" {
			a, b = b, a
		}
		switch sortBy {
		case "user":
			return a.UserID < b.UserID
		case "action":
			return a.Action < b.Action
		default:
			return a.Timestamp.Before(b.Timestamp)
		}
	})
}

var csvHeader = []string{
	"id", "timestamp", "action", "resource", "resource_id",
	"user_id", "user_role", "user_email", "ip_address", "user_agent",
	"success", "error_message", "session_id", "additional_data", "retention_date",
}

// WriteCSV writes entries with a header row.
func WriteCSV(w io.Writer, entries []*AuditLogEntry) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("audit export csv: write header: %w", err)
	}
	for _, e := range entries {
		record := []string{
			e.ID.String(),
			e.Timestamp.Format(time.RFC3339Nano),
			e.Action,
			e.Resource,
			e.ResourceID,
			e.UserID,
			e.UserRole,
			e.UserEmail,
			e.IPAddress,
			e.UserAgent,
			strconv.FormatBool(e.Success),
			deref(e.ErrorMessage),
			e.SessionID,
			deref(e.AdditionalData),
			e.RetentionDate.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("audit export csv: write record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ---------- HTTP Handler ----------

// AuditSearchHandler serves audit trail search and CSV export. Access checks
// are applied by the route middleware; the handler records each export.
type AuditSearchHandler struct {
	searcher Searcher
	recorder *Recorder
	resolver *auth.Resolver
}

func NewAuditSearchHandler(searcher Searcher, recorder *Recorder, resolver *auth.Resolver) *AuditSearchHandler {
	return &AuditSearchHandler{searcher: searcher, recorder: recorder, resolver: resolver}
}

// AuditRouteMiddleware holds per-route middleware in addition to whatever
// the group already carries.
type AuditRouteMiddleware struct {
	Search []echo.MiddlewareFunc
	Export []echo.MiddlewareFunc
}

// RegisterRoutes mounts GET "" and GET /export on g.
func (h *AuditSearchHandler) RegisterRoutes(g *echo.Group, mw AuditRouteMiddleware) {
	g.GET("", h.HandleSearch, mw.Search...)
	g.GET("/export", h.HandleExportCSV, mw.Export...)
}

// parseSearchParams extracts AuditSearchParams from Echo query parameters.
func parseSearchParams(c echo.Context) (AuditSearchParams, error) {
	params := AuditSearchParams{
		UserID:     c.QueryParam("user_id"),
		Action:     c.QueryParam("action"),
		Resource:   c.QueryParam("resource"),
		ResourceID: c.QueryParam("resource_id"),
		IPAddress:  c.QueryParam("ip_address"),
		SortBy:     c.QueryParam("sort_by"),
		SortOrder:  c.QueryParam("sort_order"),
	}

	page, err := pagination.Parse(c, defaultSearchLimit, maxSearchLimit)
	if err != nil {
		return params, err
	}
	params.Limit = page.Limit
	params.Offset = page.Offset

	if v := c.QueryParam("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return params, fmt.Errorf("success must be true or false")
		}
		params.Success = &b
	}
	if v := c.QueryParam("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return params, fmt.Errorf("start_time must be RFC 3339")
		}
		params.StartTime = &t
	}
	if v := c.QueryParam("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return params, fmt.Errorf("end_time must be RFC 3339")
		}
		params.EndTime = &t
	}

	return params, nil
}

// HandleSearch handles GET /audit-logs.
func (h *AuditSearchHandler) HandleSearch(c echo.Context) error {
	params, err := parseSearchParams(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.searcher.Search(c.Request().Context(), params)
	if err != nil {
		return fmt.Errorf("audit search: %w", err)
	}
	result.HasMore = pagination.Params{Limit: result.Limit, Offset: result.Offset}.HasNext(result.Total)
	return c.JSON(http.StatusOK, result)
}

// HandleExportCSV handles GET /audit-logs/export.
func (h *AuditSearchHandler) HandleExportCSV(c echo.Context) error {
	params, err := parseSearchParams(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	params.Offset = 0
	params.Limit = maxExportRows

	ctx := c.Request().Context()
	sc := h.resolver.Resolve(c.Request())
	requestID := c.Response().Header().Get(echo.HeaderXRequestID)

	result, err := h.searcher.Search(ctx, params)
	if err != nil {
		h.recorder.LogEvent(ctx, ActionExport, auth.ResourceAuditLogs, "", sc, false,
			WithError("audit export failed"), WithRequestID(requestID))
		return fmt.Errorf("audit export: %w", err)
	}

	h.recorder.LogEvent(ctx, ActionExport, auth.ResourceAuditLogs, "", sc, true,
		WithData(map[string]any{"rows": len(result.Entries)}), WithRequestID(requestID))

	c.Response().Header().Set(echo.HeaderContentType, "text/csv")
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=\"audit_export_%s.csv\"", time.Now().UTC().Format("20060102_150405")))
	c.Response().WriteHeader(http.StatusOK)

	return WriteCSV(c.Response(), result.Entries)
}
