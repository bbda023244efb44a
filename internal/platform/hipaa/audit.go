package hipaa

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ehr/surgery-scheduler/internal/platform/auth"
	"github.com/ehr/surgery-scheduler/internal/platform/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Audit actions. Denials are the plain action with a _DENIED suffix; see
// DeniedAction.
const (
	ActionRead               = "READ"
	ActionCreate             = "CREATE"
	ActionUpdate             = "UPDATE"
	ActionDelete             = "DELETE"
	ActionExport             = "EXPORT"
	ActionAuthFailed         = "AUTH_FAILED"
	ActionRateLimited        = "RATE_LIMITED"
	ActionValidationRejected = "VALIDATION_REJECTED"
	ActionInputRejected      = "INPUT_REJECTED"
	ActionError              = "ERROR"
)

// DeniedAction names the audit action for a refused attempt, e.g. "export"
// becomes "EXPORT_DENIED".
func DeniedAction(action string) string {
	return strings.ToUpper(action) + "_DENIED"
}

// DefaultFailureMessage is recorded for failed events that carry no reason.
const DefaultFailureMessage = "operation failed"

const defaultSinkTimeout = 3 * time.Second

// AuditLogEntry is one append-only audit record.
type AuditLogEntry struct {
	ID             uuid.UUID `json:"id"`
	Action         string    `json:"action"`
	Resource       string    `json:"resource"`
	ResourceID     string    `json:"resource_id"`
	UserID         string    `json:"user_id"`
	UserRole       string    `json:"user_role"`
	UserEmail      string    `json:"user_email"`
	Timestamp      time.Time `json:"timestamp"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	Success        bool      `json:"success"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	SessionID      string    `json:"session_id"`
	AdditionalData *string   `json:"additional_data,omitempty"`
	RetentionDate  time.Time `json:"retention_date"`
}

// Sink persists audit entries. Implementations must not modify the entry.
type Sink interface {
	Append(ctx context.Context, entry *AuditLogEntry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, entry *AuditLogEntry) error

func (f SinkFunc) Append(ctx context.Context, entry *AuditLogEntry) error {
	return f(ctx, entry)
}

// Recorder builds audit entries and writes them to a primary sink, falling
// back to a second sink when the primary fails or is too slow.
type Recorder struct {
	primary  Sink
	fallback Sink
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithSinkTimeout bounds each primary write.
func WithSinkTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

func WithRecorderLogger(logger zerolog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = logger.With().Str("component", "audit").Logger() }
}

// NewRecorder returns a recorder writing to primary. A nil primary sends
// every entry to the fallback. A nil fallback logs entries on the recorder's
// logger.
func NewRecorder(primary, fallback Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		primary:  primary,
		fallback: fallback,
		timeout:  defaultSinkTimeout,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.fallback == nil {
		r.fallback = NewLogSink(r.logger)
	}
	return r
}

type eventOptions struct {
	errorMessage string
	data         map[string]any
}

// EventOption adds optional detail to an audit event.
type EventOption func(*eventOptions)

// WithError sets the failure reason.
func WithError(msg string) EventOption {
	return func(o *eventOptions) { o.errorMessage = msg }
}

// WithData attaches structured context, stored as JSON.
func WithData(data map[string]any) EventOption {
	return func(o *eventOptions) {
		if o.data == nil {
			o.data = make(map[string]any, len(data))
		}
		for k, v := range data {
			o.data[k] = v
		}
	}
}

// WithRequestID stores the request correlation id in the entry's data.
func WithRequestID(id string) EventOption {
	return func(o *eventOptions) {
		if id == "" {
			return
		}
		if o.data == nil {
			o.data = make(map[string]any, 1)
		}
		o.data["request_id"] = id
	}
}

// NewEntry builds a complete entry without writing it. A nil sc is
// attributed to the anonymous user.
func (r *Recorder) NewEntry(action, resource, resourceID string, sc *auth.SecurityContext, success bool, opts ...EventOption) *AuditLogEntry {
	var o eventOptions
	for _, opt := range opts {
		opt(&o)
	}

	ts := r.now().UTC()
	entry := &AuditLogEntry{
		ID:            uuid.New(),
		Action:        action,
		Resource:      resource,
		ResourceID:    resourceID,
		Timestamp:     ts,
		Success:       success,
		RetentionDate: RetentionDate(ts),
	}

	if sc != nil {
		entry.UserID = sc.UserID
		entry.UserRole = sc.UserRole.String()
		entry.UserEmail = sc.UserEmail
		entry.SessionID = sc.SessionID
		entry.IPAddress = sc.IPAddress
		entry.UserAgent = sc.UserAgent
	} else {
		entry.UserID = auth.AnonymousUserID
		entry.UserRole = auth.RoleUnknown.String()
		entry.IPAddress = auth.Unknown
		entry.UserAgent = auth.Unknown
	}

	msg := o.errorMessage
	if !success && msg == "" {
		msg = DefaultFailureMessage
	}
	if msg != "" {
		entry.ErrorMessage = &msg
	}

	if len(o.data) > 0 {
		raw, err := json.Marshal(o.data)
		if err != nil {
			raw, _ = json.Marshal(map[string]string{"encoding_error": err.Error()})
		}
		s := string(raw)
		entry.AdditionalData = &s
	}
	return entry
}

// LogEvent records one security-relevant event. It never returns an error
// and never panics: sink failures are absorbed by the fallback and, past
// that, logged at error level.
func (r *Recorder) LogEvent(ctx context.Context, action, resource, resourceID string, sc *auth.SecurityContext, success bool, opts ...EventOption) {
	r.Write(ctx, r.NewEntry(action, resource, resourceID, sc, success, opts...))
}

// Write hands entry to the sinks. The primary write is bounded by the
// recorder timeout and survives cancellation of ctx.
func (r *Recorder) Write(ctx context.Context, entry *AuditLogEntry) {
	defer func() {
		if rec := recover(); rec != nil {
			r.lost(entry, fmt.Errorf("audit write panic: %v", rec))
		}
	}()

	base := context.WithoutCancel(ctx)

	if r.primary != nil {
		err := r.appendPrimary(base, entry)
		if err == nil {
			telemetry.AuditWritten(telemetry.AuditPrimary)
			return
		}
		r.logger.Warn().
			Err(err).
			Str("audit_id", entry.ID.String()).
			Str("action", entry.Action).
			Msg("audit sink write failed, using fallback")
	}

	if err := r.fallback.Append(base, entry); err != nil {
		r.lost(entry, err)
		return
	}
	telemetry.AuditWritten(telemetry.AuditFallback)
}

func (r *Recorder) appendPrimary(ctx context.Context, entry *AuditLogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// The sink gets its own copy so a write that outlives the timeout cannot
	// race with the fallback.
	cp := *entry
	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("audit sink panic: %v", rec)
			}
		}()
		done <- r.primary.Append(ctx, &cp)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("audit sink: %w", ctx.Err())
	}
}

func (r *Recorder) lost(entry *AuditLogEntry, err error) {
	telemetry.AuditWritten(telemetry.AuditLost)
	logEntry(r.logger.Error().Err(err), entry).Msg("audit entry could not be persisted")
}

// logEntry adds every entry field to a zerolog event.
func logEntry(ev *zerolog.Event, e *AuditLogEntry) *zerolog.Event {
	ev = ev.
		Str("audit_id", e.ID.String()).
		Str("action", e.Action).
		Str("resource", e.Resource).
		Str("resource_id", e.ResourceID).
		Str("user_id", e.UserID).
		Str("user_role", e.UserRole).
		Str("user_email", e.UserEmail).
		Time("timestamp", e.Timestamp).
		Str("ip_address", e.IPAddress).
		Str("user_agent", e.UserAgent).
		Bool("success", e.Success).
		Str("session_id", e.SessionID).
		Time("retention_date", e.RetentionDate)
	if e.ErrorMessage != nil {
		ev = ev.Str("error_message", *e.ErrorMessage)
	}
	if e.AdditionalData != nil {
		ev = ev.RawJSON("additional_data", []byte(*e.AdditionalData))
	}
	return ev
}
