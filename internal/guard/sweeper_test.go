package guard

import (
	"sync"
	"testing"
	"time"

	"github.com/shinobi-ops/warden/internal/storage"
	"go.uber.org/zap"
)

// fakeClock is a mutable time source for sweeper tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSweep_ExpiresOldSessions(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	w := &captureWriter{}
	g := New(w, zap.NewNop(), WithClock(clock.Now))

	id, _ := g.StartSession("comms", []string{"lead-42"})

	cfg := SweepConfig{MaxAge: 30 * time.Minute, IdleTimeout: 10 * time.Minute}

	// Fresh session survives.
	if n := g.Sweep(cfg); n != 0 {
		t.Fatalf("fresh session swept, expired=%d", n)
	}

	// Activity keeps it alive past the idle timeout as long as max age holds.
	clock.Advance(9 * time.Minute)
	g.Validate(id, "items_read", "lead-42")
	clock.Advance(9 * time.Minute)
	if n := g.Sweep(cfg); n != 0 {
		t.Fatalf("active session swept at 18m with recent activity, expired=%d", n)
	}

	// Past max age it goes regardless of activity.
	clock.Advance(15 * time.Minute)
	g.Validate(id, "items_read", "lead-42")
	if n := g.Sweep(cfg); n != 1 {
		t.Fatalf("expected 1 expired session, got %d", n)
	}

	if d := g.Validate(id, "items_read", "lead-42"); d.Allowed || d.Reason != storage.ReasonSessionNotFound {
		t.Errorf("swept session must block with session_not_found, got %+v", d)
	}
	if n := len(w.byReason(storage.ReasonSessionExpired)); n != 1 {
		t.Errorf("expected 1 session_expired audit record, got %d", n)
	}
}

func TestSweep_IdleTimeout(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	w := &captureWriter{}
	g := New(w, zap.NewNop(), WithClock(clock.Now))

	g.StartSession("tracker", []string{"proj-7"})

	clock.Advance(11 * time.Minute)
	if n := g.Sweep(SweepConfig{MaxAge: time.Hour, IdleTimeout: 10 * time.Minute}); n != 1 {
		t.Errorf("expected idle session to expire, got %d", n)
	}
}

func TestSweep_ZeroBoundsDisabled(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	w := &captureWriter{}
	g := New(w, zap.NewNop(), WithClock(clock.Now))

	g.StartSession("comms", []string{"lead-42"})
	clock.Advance(24 * time.Hour)

	if n := g.Sweep(SweepConfig{}); n != 0 {
		t.Errorf("zero bounds must disable expiry, got %d", n)
	}
}

func TestSweep_PurgesEndedAfterRetention(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	w := &captureWriter{}
	g := New(w, zap.NewNop(), WithClock(clock.Now), WithRetention(time.Hour))

	id, _ := g.StartSession("comms", []string{"lead-42"})
	g.EndSession(id)

	// Within retention the ended session is still resolvable (blocks, and
	// its agent type is available for audit lookups).
	clock.Advance(30 * time.Minute)
	g.Sweep(DefaultSweepConfig())
	if got := g.AgentType(id); got != "comms" {
		t.Errorf("ended session should remain resolvable within retention, AgentType=%q", got)
	}

	// Past retention it is purged. Validate still fails closed.
	clock.Advance(31 * time.Minute)
	g.Sweep(DefaultSweepConfig())
	if got := g.AgentType(id); got != "" {
		t.Errorf("ended session should be purged after retention, AgentType=%q", got)
	}
	if d := g.Validate(id, "items_read", "lead-42"); d.Allowed {
		t.Error("purged session must still block")
	}
}
