package api

import (
	"time"

	"github.com/shinobi-ops/warden/internal/dispatch"
	"github.com/shinobi-ops/warden/internal/guard"
)

// --- POST /v1/hook/validate ---

// ValidateRequest is the JSON body sent by tool-call hooks.
type ValidateRequest struct {
	SessionID string         `json:"session_id"`
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
}

// ValidateResponse carries the decision back to the hook. Reason is a coarse
// code; block details stay in the audit log.
type ValidateResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// --- Session lifecycle ---

// StartSessionRequest is the JSON body for POST /v1/sessions.
type StartSessionRequest struct {
	AgentType string   `json:"agent_type"`
	RecordIDs []string `json:"record_ids"`
}

// StartSessionResponse returns the new session id and its fixed scope size.
type StartSessionResponse struct {
	SessionID   string    `json:"session_id"`
	AgentType   string    `json:"agent_type"`
	RecordCount int       `json:"record_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// SessionListResponse is the body for GET /v1/sessions.
type SessionListResponse struct {
	Sessions []guard.SessionInfo `json:"sessions"`
	Total    int                 `json:"total"`
}

// SessionSummaryResp describes an ended session.
type SessionSummaryResp struct {
	SessionID  string    `json:"session_id"`
	AgentType  string    `json:"agent_type"`
	CreatedAt  time.Time `json:"created_at"`
	EndedAt    time.Time `json:"ended_at"`
	EndedBy    string    `json:"ended_by"`
	DurationMs int64     `json:"duration_ms"`
	BlockCount int64     `json:"block_count"`
}

// EndSessionResponse is the body for the end and force-end endpoints. Ended
// is false when the session was already ended or never existed; ending is
// idempotent, so that is a 200, not an error.
type EndSessionResponse struct {
	Ended   bool                `json:"ended"`
	Summary *SessionSummaryResp `json:"summary,omitempty"`
}

func summaryResp(s *guard.Summary) *SessionSummaryResp {
	if s == nil {
		return nil
	}
	return &SessionSummaryResp{
		SessionID:  s.SessionID,
		AgentType:  s.AgentType,
		CreatedAt:  s.CreatedAt,
		EndedAt:    s.EndedAt,
		EndedBy:    string(s.EndedBy),
		DurationMs: s.Duration().Milliseconds(),
		BlockCount: s.BlockCount,
	}
}

// --- POST /v1/webhook ---

// WebhookResponse reports what the dispatcher did with the event.
type WebhookResponse struct {
	Outcomes []dispatch.Outcome `json:"outcomes"`
}

// --- Agent registry ---

// AgentStatusResp is one agent type's flag.
type AgentStatusResp struct {
	AgentType string `json:"agent_type"`
	Enabled   bool   `json:"enabled"`
}

// AgentListResponse is the body for GET /v1/agents.
type AgentListResponse struct {
	Agents []AgentStatusResp `json:"agents"`
}

// --- GET /v1/audit ---

// AuditEventResp is one audit row.
type AuditEventResp struct {
	EventID      string    `json:"event_id"`
	SessionID    string    `json:"session_id"`
	AgentType    string    `json:"agent_type"`
	ToolName     string    `json:"tool_name"`
	RecordID     string    `json:"record_id,omitempty"`
	Reason       string    `json:"reason"`
	Detail       string    `json:"detail,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	OperatorInit bool      `json:"operator_initiated"`
}

// AuditListResponse is the body for GET /v1/audit.
type AuditListResponse struct {
	Events   []AuditEventResp `json:"events"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
