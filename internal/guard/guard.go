// Package guard owns the process-wide mapping from session identifier to
// authorization scope, and answers allow/block decisions for agent tool
// calls. Every decision fails closed: a missing, ended or expired session
// blocks, never errors open.
package guard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shinobi-ops/warden/internal/metrics"
	"github.com/shinobi-ops/warden/internal/storage"
	"go.uber.org/zap"
)

// ErrNoRecords is returned by StartSession when the seed record set is empty.
// A session with nothing it may touch is a scoping bug in the caller, not a
// valid authorization scope.
var ErrNoRecords = errors.New("guard: seed record set is empty")

// Decision is the outcome of a Validate call.
type Decision struct {
	Allowed bool
	Reason  string // empty on allow; a storage.Reason* constant on block
}

var allow = Decision{Allowed: true}

func block(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Archiver persists a summary row when a session ends. Implementations must
// tolerate being called from multiple goroutines.
type Archiver interface {
	ArchiveSession(ctx context.Context, s Summary) error
}

// Guard is the session registry. It is an injected component: construct
// one per process (or per test) rather than sharing ambient global state.
type Guard struct {
	mu       sync.RWMutex
	sessions map[string]*session

	retention time.Duration // how long ended sessions are kept for audit lookups
	writer    storage.EventWriter
	archiver  Archiver // optional
	logger    *zap.Logger
	now       func() time.Time // injectable for tests
}

// Option configures a Guard.
type Option func(*Guard)

// WithRetention overrides how long ended sessions remain resolvable.
func WithRetention(d time.Duration) Option {
	return func(g *Guard) { g.retention = d }
}

// WithArchiver sets the session archive sink.
func WithArchiver(a Archiver) Option {
	return func(g *Guard) { g.archiver = a }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

const defaultRetention = 1 * time.Hour

// New creates a Guard that writes blocked attempts to the given audit sink.
func New(writer storage.EventWriter, logger *zap.Logger, opts ...Option) *Guard {
	g := &Guard{
		sessions:  make(map[string]*session),
		retention: defaultRetention,
		writer:    writer,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// StartSession binds a fresh session id to the given authorization scope and
// returns it. The allowed set is copied, so callers cannot mutate it afterwards.
func (g *Guard) StartSession(agentType string, recordIDs []string) (string, error) {
	if len(recordIDs) == 0 {
		return "", ErrNoRecords
	}

	allowed := make(map[string]struct{}, len(recordIDs))
	for _, id := range recordIDs {
		if id != "" {
			allowed[id] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return "", ErrNoRecords
	}

	now := g.now()
	s := &session{
		id:        uuid.New().String(),
		agentType: agentType,
		allowed:   allowed,
		createdAt: now,
		status:    StatusActive,
	}
	s.touch(now)

	g.mu.Lock()
	g.sessions[s.id] = s
	g.mu.Unlock()

	metrics.SessionsStarted.WithLabelValues(agentType).Inc()
	g.logger.Info("session started",
		zap.String("session_id", s.id),
		zap.String("agent_type", agentType),
		zap.Int("record_count", len(allowed)),
	)
	return s.id, nil
}

// Validate answers whether the session may operate on the record. It is a
// pure lookup plus a non-blocking audit append on block; the session's
// allowed set is never mutated here.
func (g *Guard) Validate(sessionID, toolName, recordID string) Decision {
	start := g.now()

	g.mu.RLock()
	s, ok := g.sessions[sessionID]
	var active bool
	if ok {
		active = s.status == StatusActive
	}
	g.mu.RUnlock()

	if !ok || !active {
		g.audit(s, sessionID, toolName, recordID, storage.ReasonSessionNotFound, false)
		g.observe(start, storage.ReasonSessionNotFound)
		return block(storage.ReasonSessionNotFound)
	}

	s.touch(g.now())

	if _, member := s.allowed[recordID]; !member {
		s.blockCount.Add(1)
		g.audit(s, sessionID, toolName, recordID, storage.ReasonRecordNotAuthorized, false)
		g.observe(start, storage.ReasonRecordNotAuthorized)
		return block(storage.ReasonRecordNotAuthorized)
	}

	g.observe(start, "")
	return allow
}

// AuditBlock records a block decided outside the guard (e.g. the hook's
// malformed-request policy) against the session's audit trail.
func (g *Guard) AuditBlock(sessionID, toolName, recordID, reason, detail string) {
	g.mu.RLock()
	s := g.sessions[sessionID]
	g.mu.RUnlock()
	if s != nil {
		s.blockCount.Add(1)
	}
	g.writeEvent(s, sessionID, toolName, recordID, reason, detail, false)
}

// EndSession marks the session ended. Idempotent: ending an already-ended or
// unknown session is a no-op and returns nil.
func (g *Guard) EndSession(sessionID string) *Summary {
	return g.end(sessionID, EndedByAgent)
}

// ForceEndSession is the operator override. Identical effect to EndSession,
// but the termination is audited as operator-initiated.
func (g *Guard) ForceEndSession(sessionID string) *Summary {
	sum := g.end(sessionID, EndedByOperator)
	if sum != nil {
		g.writeEvent(nil, sessionID, "", "", storage.ReasonOperatorTerminated,
			"session force-ended by operator", true)
	}
	return sum
}

func (g *Guard) end(sessionID string, by EndedBy) *Summary {
	g.mu.Lock()
	s, ok := g.sessions[sessionID]
	if !ok || s.status == StatusEnded {
		g.mu.Unlock()
		return nil
	}
	s.status = StatusEnded
	s.endedBy = by
	s.endedAt = g.now()
	g.mu.Unlock()

	sum := Summary{
		SessionID:  s.id,
		AgentType:  s.agentType,
		RecordIDs:  s.recordIDs(),
		CreatedAt:  s.createdAt,
		EndedAt:    s.endedAt,
		EndedBy:    by,
		BlockCount: s.blockCount.Load(),
	}

	metrics.SessionsEnded.WithLabelValues(s.agentType, string(by)).Inc()
	g.logger.Info("session ended",
		zap.String("session_id", s.id),
		zap.String("agent_type", s.agentType),
		zap.String("ended_by", string(by)),
		zap.Duration("duration", sum.Duration()),
		zap.Int64("blocks", sum.BlockCount),
	)

	if g.archiver != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := g.archiver.ArchiveSession(ctx, sum); err != nil {
				g.logger.Warn("session archive failed",
					zap.String("session_id", sum.SessionID),
					zap.Error(err),
				)
			}
		}()
	}

	return &sum
}

// ListActiveSessions returns a snapshot of every active session, for
// operational visibility only.
func (g *Guard) ListActiveSessions() []SessionInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(g.sessions))
	for _, s := range g.sessions {
		if s.status != StatusActive {
			continue
		}
		infos = append(infos, SessionInfo{
			SessionID:   s.id,
			AgentType:   s.agentType,
			CreatedAt:   s.createdAt,
			LastSeenAt:  s.lastSeen(),
			RecordCount: len(s.allowed),
			BlockCount:  s.blockCount.Load(),
		})
	}
	return infos
}

// RecordIDs returns the allowed set of a session, or nil if the session is
// unknown. Introspection only; the returned slice is a copy.
func (g *Guard) RecordIDs(sessionID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return nil
	}
	return s.recordIDs()
}

// AgentType returns the agent type tag of a session, or "" if unknown.
func (g *Guard) AgentType(sessionID string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if s, ok := g.sessions[sessionID]; ok {
		return s.agentType
	}
	return ""
}

func (g *Guard) observe(start time.Time, blockReason string) {
	outcome := "allow"
	if blockReason != "" {
		outcome = blockReason
	}
	metrics.Decisions.WithLabelValues(outcome).Inc()
	metrics.ValidateLatency.Observe(g.now().Sub(start).Seconds())
}

func (g *Guard) audit(s *session, sessionID, toolName, recordID, reason string, operator bool) {
	g.writeEvent(s, sessionID, toolName, recordID, reason, "", operator)
}

// writeEvent appends one audit record per block. The write is handed to the
// async EventWriter; a sink failure is the writer's problem and can never
// reach back into the decision path.
func (g *Guard) writeEvent(s *session, sessionID, toolName, recordID, reason, detail string, operator bool) {
	agentType := ""
	if s != nil {
		agentType = s.agentType
	}
	g.writer.Write(&storage.AuditEvent{
		EventID:      storage.NewEventID(),
		SessionID:    sessionID,
		AgentType:    agentType,
		ToolName:     toolName,
		RecordID:     recordID,
		Reason:       reason,
		Detail:       detail,
		Timestamp:    g.now(),
		OperatorInit: operator,
	})
}
