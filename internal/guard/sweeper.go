package guard

import (
	"time"

	"github.com/shinobi-ops/warden/internal/storage"
	"go.uber.org/zap"
)

// SweepConfig bounds session lifetimes. Sessions have no automatic expiry in
// the guard itself; the sweeper is the safety net for agent processes that
// die without their supervisor ending the session.
type SweepConfig struct {
	MaxAge      time.Duration // force-end sessions older than this
	IdleTimeout time.Duration // force-end sessions with no Validate activity for this long
}

// DefaultSweepConfig returns the default lifetime bounds.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		MaxAge:      30 * time.Minute,
		IdleTimeout: 10 * time.Minute,
	}
}

// Sweep force-ends every active session that exceeded its lifetime bounds
// and purges ended sessions past the retention window. Returns the number of
// sessions expired. Intended to be run on a schedule.
func (g *Guard) Sweep(cfg SweepConfig) int {
	now := g.now()

	g.mu.RLock()
	var expired []string
	var purge []string
	for id, s := range g.sessions {
		switch s.status {
		case StatusActive:
			tooOld := cfg.MaxAge > 0 && now.Sub(s.createdAt) > cfg.MaxAge
			tooIdle := cfg.IdleTimeout > 0 && now.Sub(s.lastSeen()) > cfg.IdleTimeout
			if tooOld || tooIdle {
				expired = append(expired, id)
			}
		case StatusEnded:
			if now.Sub(s.endedAt) > g.retention {
				purge = append(purge, id)
			}
		}
	}
	g.mu.RUnlock()

	for _, id := range expired {
		if sum := g.end(id, EndedBySweeper); sum != nil {
			g.writeEvent(nil, id, "", "", storage.ReasonSessionExpired,
				"session exceeded lifetime bounds", false)
			g.logger.Warn("session expired by sweeper",
				zap.String("session_id", id),
				zap.String("agent_type", sum.AgentType),
				zap.Duration("age", now.Sub(sum.CreatedAt)),
			)
		}
	}

	if len(purge) > 0 {
		g.mu.Lock()
		for _, id := range purge {
			// Recheck under the write lock; an id is only purged once its
			// retention window has passed, so session_id reuse within the
			// window is impossible.
			if s, ok := g.sessions[id]; ok && s.status == StatusEnded && now.Sub(s.endedAt) > g.retention {
				delete(g.sessions, id)
			}
		}
		g.mu.Unlock()
	}

	return len(expired)
}
