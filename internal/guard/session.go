package guard

import (
	"sort"
	"sync/atomic"
	"time"
)

// Status is the lifecycle state of a session. The only transition is
// active → ended; ended is terminal.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// EndedBy records who terminated a session.
type EndedBy string

const (
	EndedByAgent    EndedBy = "agent"    // natural completion
	EndedByOperator EndedBy = "operator" // force-end API
	EndedBySweeper  EndedBy = "sweeper"  // bounded-lifetime expiry
)

// session is the guard's internal record of one agent invocation's
// authorization scope. The allowed set is fixed at creation and never
// mutated afterwards.
type session struct {
	id        string
	agentType string
	allowed   map[string]struct{}
	createdAt time.Time

	// lastSeenUnixNano is updated on every Validate without taking the
	// guard's write lock.
	lastSeenUnixNano atomic.Int64
	blockCount       atomic.Int64

	// status, endedBy and endedAt are written only while holding the
	// guard's write lock, and read under at least the read lock.
	status  Status
	endedBy EndedBy
	endedAt time.Time
}

func (s *session) lastSeen() time.Time {
	return time.Unix(0, s.lastSeenUnixNano.Load())
}

func (s *session) touch(now time.Time) {
	s.lastSeenUnixNano.Store(now.UnixNano())
}

// recordIDs returns a sorted copy of the allowed set.
func (s *session) recordIDs() []string {
	ids := make([]string, 0, len(s.allowed))
	for id := range s.allowed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SessionInfo is an operator-facing summary of an active session.
type SessionInfo struct {
	SessionID   string    `json:"session_id"`
	AgentType   string    `json:"agent_type"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	RecordCount int       `json:"record_count"`
	BlockCount  int64     `json:"block_count"`
}

// Summary describes a session at the moment it ended.
type Summary struct {
	SessionID  string
	AgentType  string
	RecordIDs  []string
	CreatedAt  time.Time
	EndedAt    time.Time
	EndedBy    EndedBy
	BlockCount int64
}

// Duration is the session's lifetime from creation to end.
func (s Summary) Duration() time.Duration {
	return s.EndedAt.Sub(s.CreatedAt)
}
