// Package ratelimit implements in-memory fixed-window request counters keyed
// by operation and client.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Operation names a rate-limited class of request.
type Operation string

const (
	OpLogin  Operation = "login"
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpSearch Operation = "search"
	OpExport Operation = "export"
)

// Operations lists every operation with a default policy.
var Operations = []Operation{OpLogin, OpRead, OpWrite, OpSearch, OpExport}

// ParseOperation returns the operation for s and whether it is known.
func ParseOperation(s string) (Operation, bool) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	_, ok := DefaultPolicies()[op]
	return op, ok
}

// Policy is the admit budget for one window.
type Policy struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultPolicies returns the built-in per-operation budgets. Export is the
// strictest.
func DefaultPolicies() map[Operation]Policy {
	return map[Operation]Policy{
		OpLogin:  {MaxRequests: 5, Window: 15 * time.Minute},
		OpRead:   {MaxRequests: 100, Window: time.Minute},
		OpWrite:  {MaxRequests: 30, Window: time.Minute},
		OpSearch: {MaxRequests: 60, Window: time.Minute},
		OpExport: {MaxRequests: 5, Window: time.Hour},
	}
}

// Decision describes one admit/reject outcome.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the wait until the current window closes, at least one
// second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait < time.Second {
		return time.Second
	}
	return wait
}

type counter struct {
	count       int
	windowStart time.Time
	window      time.Duration
	maxRequests int
}

func (c *counter) expired(now time.Time) bool {
	return now.After(c.windowStart.Add(c.window))
}

// Limiter owns the counter map. Construct one per process and share it.
type Limiter struct {
	mu       sync.Mutex
	counters map[string]*counter
	policies map[Operation]Policy
	now      func() time.Time
	logger   zerolog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithPolicy replaces the policy for op.
func WithPolicy(op Operation, p Policy) Option {
	return func(l *Limiter) { l.policies[op] = p }
}

// WithLogger sets the logger used by the sweeper.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) { l.logger = logger.With().Str("component", "ratelimit").Logger() }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{
		counters: make(map[string]*counter),
		policies: DefaultPolicies(),
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check admits or rejects one request against key. A non-positive budget
// rejects.
func (l *Limiter) Check(key string, maxRequests int, window time.Duration) bool {
	return l.Decide(key, maxRequests, window).Allowed
}

// Decide is Check with the counter state that produced the outcome.
// A window opens on the first request and resets once now is past
// windowStart+window. Rejected requests do not advance the count.
func (l *Limiter) Decide(key string, maxRequests int, window time.Duration) Decision {
	if maxRequests <= 0 || window <= 0 {
		return Decision{Allowed: false, Limit: maxRequests}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.counters[key]
	if !ok || c.expired(now) {
		c = &counter{count: 1, windowStart: now, window: window, maxRequests: maxRequests}
		l.counters[key] = c
		return Decision{
			Allowed:   true,
			Limit:     maxRequests,
			Remaining: maxRequests - 1,
			ResetAt:   now.Add(window),
		}
	}

	c.maxRequests = maxRequests
	resetAt := c.windowStart.Add(c.window)
	if c.count >= maxRequests {
		return Decision{Allowed: false, Limit: maxRequests, Remaining: 0, ResetAt: resetAt}
	}
	c.count++
	return Decision{
		Allowed:   true,
		Limit:     maxRequests,
		Remaining: maxRequests - c.count,
		ResetAt:   resetAt,
	}
}

// Now reads the limiter's clock.
func (l *Limiter) Now() time.Time {
	return l.now()
}

// Policy returns the budget configured for op.
func (l *Limiter) Policy(op Operation) (Policy, bool) {
	p, ok := l.policies[op]
	return p, ok
}

// OperationKey is the counter key used for an operation-scoped check.
func OperationKey(op Operation, clientKey, ip string) string {
	return string(op) + ":" + clientKey + ":" + ip
}

// CheckOperation applies op's policy to the (clientKey, ip) pair. Unknown
// operations are rejected.
func (l *Limiter) CheckOperation(clientKey string, op Operation, ip string) bool {
	return l.DecideOperation(clientKey, op, ip).Allowed
}

func (l *Limiter) DecideOperation(clientKey string, op Operation, ip string) Decision {
	p, ok := l.Policy(op)
	if !ok {
		return Decision{Allowed: false}
	}
	return l.Decide(OperationKey(op, clientKey, ip), p.MaxRequests, p.Window)
}

// Remaining reports how many requests key may still make in its current
// window. The second result is false when key has no live window.
func (l *Limiter) Remaining(key string) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.counters[key]
	if !ok || c.expired(l.now()) {
		return 0, false
	}
	if n := c.maxRequests - c.count; n > 0 {
		return n, true
	}
	return 0, true
}

// Sweep drops every counter whose window has elapsed and returns how many
// were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for key, c := range l.counters {
		if c.expired(now) {
			delete(l.counters, key)
			removed++
		}
	}
	return removed
}

// Len is the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}

// Run sweeps every interval until ctx is cancelled. Call it in a goroutine.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug().Int("removed", n).Int("tracked", l.Len()).Msg("rate limit windows swept")
			}
		}
	}
}
