package hipaa

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// LogSink writes entries as structured log lines. It is the recorder's
// fallback when the database sink is unavailable.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("type", "audit_fallback").Logger()}
}

func (s *LogSink) Append(_ context.Context, entry *AuditLogEntry) error {
	logEntry(s.logger.Warn(), entry).Msg("audit")
	return nil
}

// MemorySink keeps entries in process. Used in development and tests.
type MemorySink struct {
	mu      sync.RWMutex
	entries []*AuditLogEntry
}

func NewMemorySink() *MemorySink {
	return &MemorySink{entries: make([]*AuditLogEntry, 0)}
}

// Append stores a copy of entry. Thread-safe.
func (s *MemorySink) Append(_ context.Context, entry *AuditLogEntry) error {
	cp := *entry
	s.mu.Lock()
	s.entries = append(s.entries, &cp)
	s.mu.Unlock()
	return nil
}

// Entries returns copies of all stored entries in append order.
func (s *MemorySink) Entries() []AuditLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AuditLogEntry, len(s.entries))
	for i, e := range s.entries {
		out[i] = *e
	}
	return out
}

func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Search filters, sorts, and paginates stored entries.
func (s *MemorySink) Search(_ context.Context, params AuditSearchParams) (*AuditSearchResult, error) {
	applyDefaults(&params)

	s.mu.RLock()
	filtered := make([]*AuditLogEntry, 0)
	for _, e := range s.entries {
		if matchEntry(e, params) {
			cp := *e
			filtered = append(filtered, &cp)
		}
	}
	s.mu.RUnlock()

	sortEntries(filtered, params.SortBy, params.SortOrder)

	total := len(filtered)
	start := params.Offset
	if start > total {
		start = total
	}
	end := start + params.Limit
	if end > total {
		end = total
	}

	return &AuditSearchResult{
		Entries: filtered[start:end],
		Total:   total,
		Limit:   params.Limit,
		Offset:  params.Offset,
	}, nil
}
