package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/ehr/surgery-scheduler/internal/platform/hipaa"
	"github.com/ehr/surgery-scheduler/internal/platform/phi"
	"github.com/labstack/echo/v4"
)

// maxHeaderValueSize is the maximum allowed size for any single header value.
const maxHeaderValueSize = 8192

// SQL injection patterns are logged, not blocked: queries are parameterized.
var sqlPatterns = regexp.MustCompile(`(?i)('+\s*;\s*DROP\b|UNION\s+SELECT\b|'\s+OR\s+1\s*=\s*1|1\s*=\s*1)`)

// Sanitize rejects requests carrying path traversal, null bytes, header
// injection, oversized headers or script in query parameters. Each
// rejection is audited as INPUT_REJECTED; the reason never includes the
// offending value.
func (g *Guard) Sanitize() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if reason := g.inspect(c); reason != "" {
				g.recorder.LogEvent(c.Request().Context(), hipaa.ActionInputRejected, "request", "",
					g.auditContext(c), false,
					hipaa.WithError(reason),
					hipaa.WithRequestID(RequestIDFrom(c)),
					hipaa.WithData(map[string]any{"method": c.Request().Method, "path": c.Request().URL.Path}))
				return echo.NewHTTPError(http.StatusBadRequest, reason)
			}
			return next(c)
		}
	}
}

// inspect returns a rejection reason, or "" when the request is clean.
func (g *Guard) inspect(c echo.Context) string {
	req := c.Request()
	path := req.URL.Path
	rawPath := req.URL.RawPath
	if rawPath == "" {
		rawPath = path
	}

	if containsPathTraversal(path) || containsPathTraversal(rawPath) {
		return "path traversal detected"
	}
	if containsNullByte(path) || containsNullByte(rawPath) {
		return "null byte injection detected"
	}

	for name, values := range req.Header {
		for _, v := range values {
			if len(v) > maxHeaderValueSize {
				return "header value too large: " + name
			}
			if strings.ContainsAny(v, "\r\n") {
				return "header injection detected: " + name
			}
		}
	}

	for key, values := range req.URL.Query() {
		if containsNullByte(key) || phi.ContainsScriptInjection(key) {
			return "invalid query parameter name"
		}
		for _, v := range values {
			if containsNullByte(v) {
				return "null byte injection detected in query parameter"
			}
			if phi.ContainsScriptInjection(v) {
				return "script injection detected in query parameter"
			}
			if sqlPatterns.MatchString(v) {
				g.logger.Warn().
					Str("param", key).
					Str("path", path).
					Str("request_id", RequestIDFrom(c)).
					Msg("potential SQL injection pattern in query parameter")
			}
		}
	}
	return ""
}

// containsPathTraversal checks for path traversal sequences in raw and
// percent-encoded forms.
func containsPathTraversal(s string) bool {
	if strings.Contains(s, "..") {
		return true
	}
	lower := strings.ToLower(s)
	return strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e")
}

func containsNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00') || strings.Contains(strings.ToLower(s), "%00")
}
