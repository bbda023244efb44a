// Package telemetry exposes Prometheus counters for the security core.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Audit write outcomes.
const (
	AuditPrimary  = "primary"
	AuditFallback = "fallback"
	AuditLost     = "lost"
)

var (
	permissionDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "permission_denials_total",
			Help:      "Requests denied by the permission matrix.",
		},
		[]string{"resource", "action"},
	)

	rateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the rate limiter.",
		},
		[]string{"operation"},
	)

	auditWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "audit_writes_total",
			Help:      "Audit entries by the sink that finally accepted them.",
		},
		[]string{"outcome"},
	)

	decryptFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "phi_decrypt_failures_total",
			Help:      "PHI decryptions that failed verification or parsing.",
		},
		[]string{"reason"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scheduler",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		permissionDenials,
		rateLimitRejections,
		auditWrites,
		decryptFailures,
		httpRequestsTotal,
		httpRequestDuration,
	}
}

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func PermissionDenied(resource, action string) {
	permissionDenials.WithLabelValues(resource, action).Inc()
}

func RateLimitRejected(operation string) {
	rateLimitRejections.WithLabelValues(operation).Inc()
}

// AuditWritten records where an audit entry ended up.
func AuditWritten(outcome string) {
	auditWrites.WithLabelValues(outcome).Inc()
}

func DecryptFailed(reason string) {
	decryptFailures.WithLabelValues(reason).Inc()
}

// The accessors below expose single series so other packages can assert on
// them with prometheus/testutil.

func PermissionDenials(resource, action string) prometheus.Counter {
	return permissionDenials.WithLabelValues(resource, action)
}

func RateLimitRejections(operation string) prometheus.Counter {
	return rateLimitRejections.WithLabelValues(operation)
}

func AuditWrites(outcome string) prometheus.Counter {
	return auditWrites.WithLabelValues(outcome)
}

func DecryptFailures(reason string) prometheus.Counter {
	return decryptFailures.WithLabelValues(reason)
}

// Instrument records request counts and latencies by route template.
func Instrument() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			labels := []string{c.Request().Method, route, strconv.Itoa(status)}
			httpRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			httpRequestsTotal.WithLabelValues(labels...).Inc()
			return err
		}
	}
}
