package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestCheck_SixRapidCalls(t *testing.T) {
	l := New(WithClock(newFakeClock().Now))
	for i := 1; i <= 5; i++ {
		if !l.Check("ip:1.2.3.4", 5, time.Minute) {
			t.Fatalf("call %d should be admitted", i)
		}
	}
	if l.Check("ip:1.2.3.4", 5, time.Minute) {
		t.Fatal("6th call should be rejected")
	}
}

func TestCheck_Boundary(t *testing.T) {
	for _, n := range []int{1, 2, 10, 100} {
		clock := newFakeClock()
		l := New(WithClock(clock.Now))
		admitted := 0
		for i := 0; i < n+5; i++ {
			if l.Check("k", n, time.Minute) {
				admitted++
			}
		}
		if admitted != n {
			t.Errorf("max=%d: admitted %d", n, admitted)
		}

		// Still inside the window at exactly windowStart+window.
		clock.Advance(time.Minute)
		if l.Check("k", n, time.Minute) {
			t.Errorf("max=%d: window should not reset at its exact end", n)
		}

		clock.Advance(time.Millisecond)
		if !l.Check("k", n, time.Minute) {
			t.Errorf("max=%d: expected admit after window elapsed", n)
		}
	}
}

func TestCheck_RejectedCallsDoNotGrowCounter(t *testing.T) {
	l := New(WithClock(newFakeClock().Now))
	for i := 0; i < 50; i++ {
		l.Check("k", 3, time.Minute)
	}
	l.mu.Lock()
	count := l.counters["k"].count
	l.mu.Unlock()
	if count != 3 {
		t.Errorf("expected count to stop at 3, got %d", count)
	}
}

func TestCheck_NonPositiveBudgetRejects(t *testing.T) {
	l := New()
	if l.Check("k", 0, time.Minute) {
		t.Error("zero max should reject")
	}
	if l.Check("k", 5, 0) {
		t.Error("zero window should reject")
	}
}

func TestCheck_KeysAreIndependent(t *testing.T) {
	l := New(WithClock(newFakeClock().Now))
	l.Check("a", 1, time.Minute)
	if l.Check("a", 1, time.Minute) {
		t.Error("a should be exhausted")
	}
	if !l.Check("b", 1, time.Minute) {
		t.Error("b should have its own window")
	}
}

func TestDecide_Metadata(t *testing.T) {
	clock := newFakeClock()
	l := New(WithClock(clock.Now))
	start := clock.Now()

	d := l.Decide("k", 2, time.Minute)
	if !d.Allowed || d.Remaining != 1 || d.Limit != 2 || !d.ResetAt.Equal(start.Add(time.Minute)) {
		t.Errorf("unexpected first decision %+v", d)
	}
	clock.Advance(10 * time.Second)
	l.Decide("k", 2, time.Minute)
	d = l.Decide("k", 2, time.Minute)
	if d.Allowed || d.Remaining != 0 {
		t.Errorf("expected rejection, got %+v", d)
	}
	if got := d.RetryAfter(clock.Now()); got != 50*time.Second {
		t.Errorf("expected 50s retry, got %v", got)
	}
	if got := d.RetryAfter(start.Add(2 * time.Minute)); got != time.Second {
		t.Errorf("expected 1s floor, got %v", got)
	}
}

func TestCheckOperation_Policies(t *testing.T) {
	tests := []struct {
		op   Operation
		max  int
		wait time.Duration
	}{
		{OpLogin, 5, 15 * time.Minute},
		{OpRead, 100, time.Minute},
		{OpWrite, 30, time.Minute},
		{OpSearch, 60, time.Minute},
		{OpExport, 5, time.Hour},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			clock := newFakeClock()
			l := New(WithClock(clock.Now))
			for i := 0; i < tt.max; i++ {
				if !l.CheckOperation("user-1", tt.op, "10.0.0.1") {
					t.Fatalf("call %d should be admitted", i+1)
				}
			}
			if l.CheckOperation("user-1", tt.op, "10.0.0.1") {
				t.Fatal("call past the policy should be rejected")
			}
			if !l.CheckOperation("user-1", tt.op, "10.0.0.2") {
				t.Error("a different ip is a different key")
			}
			clock.Advance(tt.wait + time.Second)
			if !l.CheckOperation("user-1", tt.op, "10.0.0.1") {
				t.Error("expected admit after the policy window")
			}
		})
	}
}

func TestCheckOperation_UnknownRejects(t *testing.T) {
	l := New()
	if l.CheckOperation("user-1", Operation("delete-everything"), "10.0.0.1") {
		t.Error("unknown operation must be rejected")
	}
	if l.Len() != 0 {
		t.Error("unknown operation must not create a counter")
	}
}

func TestWithPolicy_Override(t *testing.T) {
	l := New(WithClock(newFakeClock().Now), WithPolicy(OpExport, Policy{MaxRequests: 1, Window: time.Hour}))
	if p, _ := l.Policy(OpExport); p.MaxRequests != 1 {
		t.Fatalf("override not applied: %+v", p)
	}
	l.CheckOperation("u", OpExport, "ip")
	if l.CheckOperation("u", OpExport, "ip") {
		t.Error("override should allow a single export")
	}
	if p, _ := l.Policy(OpRead); p.MaxRequests != 100 {
		t.Errorf("other policies must keep their defaults, got %+v", p)
	}
}

func TestParseOperation(t *testing.T) {
	if op, ok := ParseOperation(" Export "); !ok || op != OpExport {
		t.Errorf("expected export, got %q %v", op, ok)
	}
	if _, ok := ParseOperation("approve"); ok {
		t.Error("approve is not an operation")
	}
}

func TestRemaining(t *testing.T) {
	clock := newFakeClock()
	l := New(WithClock(clock.Now))
	if _, ok := l.Remaining("k"); ok {
		t.Error("no window yet")
	}
	l.Check("k", 3, time.Minute)
	if n, ok := l.Remaining("k"); !ok || n != 2 {
		t.Errorf("expected 2 remaining, got %d %v", n, ok)
	}
	clock.Advance(2 * time.Minute)
	if _, ok := l.Remaining("k"); ok {
		t.Error("window should have expired")
	}
}

func TestSweep(t *testing.T) {
	clock := newFakeClock()
	l := New(WithClock(clock.Now))
	l.Check("short", 5, time.Second)
	l.Check("long", 5, time.Hour)

	if n := l.Sweep(); n != 0 {
		t.Errorf("nothing expired yet, swept %d", n)
	}
	clock.Advance(2 * time.Second)
	if n := l.Sweep(); n != 1 {
		t.Errorf("expected 1 swept, got %d", n)
	}
	if l.Len() != 1 {
		t.Errorf("expected 1 remaining key, got %d", l.Len())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCheck_Concurrent(t *testing.T) {
	l := New(WithClock(newFakeClock().Now))
	const limit = 50
	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("shared", limit, time.Minute) {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()
	if admitted != limit {
		t.Errorf("expected exactly %d admits under contention, got %d", limit, admitted)
	}
}
