package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(cfg Config) (*Limiter, *clock, *MemoryStore) {
	store := NewMemoryStore()
	l := New(store, cfg, zap.NewNop())
	c := newClock()
	l.now = c.Now
	return l, c, store
}

func TestAllowConcurrentNeverExceedsCeiling(t *testing.T) {
	const limit = 10
	l, _, _ := newTestLimiter(Config{Session: Rule{Max: limit, Window: time.Minute}})

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < limit+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(context.Background(), "sess", "")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != limit {
		t.Fatalf("expected exactly %d permits, got %d", limit, got)
	}
}

func TestAllowConcurrentAcrossScopes(t *testing.T) {
	l, _, _ := newTestLimiter(Config{
		Session: Rule{Max: 100, Window: time.Minute},
		Client:  Rule{Max: 100, Window: time.Minute},
		Global:  Rule{Max: 25, Window: time.Minute},
	})

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session := []string{"a", "b", "c", "d"}[i%4]
			client := []string{"10.0.0.1", "10.0.0.2"}[i%2]
			d, err := l.Allow(context.Background(), session, client)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if d.Allowed {
				allowed.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if got := allowed.Load(); got != 25 {
		t.Fatalf("expected global ceiling of 25 permits, got %d", got)
	}
}

func TestAllowReportsFirstDenyingScope(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		expect Scope
	}{
		{
			name:   "session first",
			cfg:    Config{Session: Rule{Max: 1, Window: time.Minute}, Client: Rule{Max: 1, Window: time.Minute}, Global: Rule{Max: 1, Window: time.Minute}},
			expect: ScopeSession,
		},
		{
			name:   "client before global",
			cfg:    Config{Session: Rule{Max: 5, Window: time.Minute}, Client: Rule{Max: 1, Window: time.Minute}, Global: Rule{Max: 1, Window: time.Minute}},
			expect: ScopeClient,
		},
		{
			name:   "global",
			cfg:    Config{Session: Rule{Max: 5, Window: time.Minute}, Client: Rule{Max: 5, Window: time.Minute}, Global: Rule{Max: 1, Window: time.Minute}},
			expect: ScopeGlobal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _, _ := newTestLimiter(tt.cfg)
			ctx := context.Background()

			if d, _ := l.Allow(ctx, "s1", "c1"); !d.Allowed {
				t.Fatalf("expected first hit to be admitted")
			}
			d, err := l.Allow(ctx, "s1", "c1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Allowed {
				t.Fatalf("expected second hit to be denied")
			}
			if d.Scope != tt.expect {
				t.Fatalf("expected scope %s, got %s", tt.expect, d.Scope)
			}
			if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
				t.Fatalf("unexpected retry after %s", d.RetryAfter)
			}
		})
	}
}

func TestDeniedHitIsNotRecorded(t *testing.T) {
	l, _, _ := newTestLimiter(Config{
		Session: Rule{Max: 5, Window: time.Minute},
		Global:  Rule{Max: 1, Window: time.Minute},
	})
	ctx := context.Background()

	if d, _ := l.Allow(ctx, "other", ""); !d.Allowed {
		t.Fatalf("expected first hit to be admitted")
	}
	if d, _ := l.Allow(ctx, "s1", ""); d.Allowed {
		t.Fatalf("expected global denial")
	}

	statuses, err := l.Status(ctx, "s1", "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if statuses[0].Scope != ScopeSession || statuses[0].Used != 0 {
		t.Fatalf("expected session scope untouched by denied hit, got %+v", statuses[0])
	}
}

func TestSlidingWindowAdmitsAfterExpiry(t *testing.T) {
	l, c, _ := newTestLimiter(Config{Session: Rule{Max: 2, Window: time.Minute}})
	ctx := context.Background()

	l.Allow(ctx, "s1", "")
	c.Advance(30 * time.Second)
	l.Allow(ctx, "s1", "")

	d, _ := l.Allow(ctx, "s1", "")
	if d.Allowed {
		t.Fatalf("expected denial at ceiling")
	}
	if d.RetryAfter != 30*time.Second {
		t.Fatalf("expected retry after 30s, got %s", d.RetryAfter)
	}

	c.Advance(30 * time.Second)
	if d, _ := l.Allow(ctx, "s1", ""); !d.Allowed {
		t.Fatalf("expected hit to be admitted once the oldest expired")
	}
}

func TestEmptyClientSkipsClientScope(t *testing.T) {
	l, _, _ := newTestLimiter(Config{
		Session: Rule{Max: 10, Window: time.Minute},
		Client:  Rule{Max: 1, Window: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d, _ := l.Allow(ctx, "s1", " "); !d.Allowed {
			t.Fatalf("hit %d: expected admission without client scope", i)
		}
	}

	statuses, _ := l.Status(ctx, "s1", "")
	if len(statuses) != 1 || statuses[0].Scope != ScopeSession {
		t.Fatalf("expected only session status, got %+v", statuses)
	}
}

func TestAllowRequiresSession(t *testing.T) {
	l, _, _ := newTestLimiter(DefaultConfig())
	if _, err := l.Allow(context.Background(), "", "c1"); err == nil {
		t.Fatalf("expected error for empty session id")
	}
}

func TestStatusReportsRemainingAndReset(t *testing.T) {
	l, c, _ := newTestLimiter(Config{
		Session: Rule{Max: 3, Window: time.Minute},
		Client:  Rule{Max: 5, Window: time.Hour},
	})
	ctx := context.Background()
	start := c.Now()

	l.Allow(ctx, "s1", "c1")
	c.Advance(10 * time.Second)
	l.Allow(ctx, "s1", "c1")

	statuses, err := l.Status(ctx, "s1", "c1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 scopes, got %d", len(statuses))
	}

	session := statuses[0]
	if session.Used != 2 || session.Remaining != 1 || session.Limit != 3 {
		t.Fatalf("unexpected session status %+v", session)
	}
	if !session.ResetAt.Equal(start.Add(time.Minute)) {
		t.Fatalf("expected reset at %s, got %s", start.Add(time.Minute), session.ResetAt)
	}

	client := statuses[1]
	if client.Scope != ScopeClient || client.Remaining != 3 {
		t.Fatalf("unexpected client status %+v", client)
	}
}

func TestSweepRemovesExpiredCounters(t *testing.T) {
	l, c, store := newTestLimiter(Config{Session: Rule{Max: 3, Window: time.Minute}})
	ctx := context.Background()

	l.Allow(ctx, "s1", "")
	l.Allow(ctx, "s2", "")
	c.Advance(30 * time.Second)
	l.Allow(ctx, "s3", "")
	c.Advance(40 * time.Second)

	removed, err := l.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 counters removed, got %d", removed)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 live counter, got %d", store.Len())
	}

	if d, _ := l.Allow(ctx, "s1", ""); !d.Allowed {
		t.Fatalf("expected swept session to start fresh")
	}
}

type failingStore struct{}

func (failingStore) Reserve(context.Context, time.Time, []Key) (Decision, error) {
	return Decision{}, errors.New("connection refused")
}

func (failingStore) Usage(context.Context, time.Time, Key) (Usage, error) {
	return Usage{}, errors.New("connection refused")
}

func (failingStore) Sweep(context.Context, time.Time) (int, error) { return 0, nil }

func TestAllowFailsOpenOnBackendError(t *testing.T) {
	core, observed := observer.New(zapcore.WarnLevel)
	l := New(failingStore{}, DefaultConfig(), zap.New(core))

	d, err := l.Allow(context.Background(), "s1", "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("expected admission when backend fails")
	}
	if observed.FilterMessage("rate limit backend unavailable, admitting request").Len() != 1 {
		t.Fatalf("expected warning to be logged")
	}

	if _, err := l.Status(context.Background(), "s1", "c1"); err == nil {
		t.Fatalf("expected status to surface backend error")
	}
}
