package storage

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventWriter is the interface for writing audit events.
// Write() must NEVER block the caller; the allow/block decision has
// already been returned by the time an event is queued.
type EventWriter interface {
	Write(event *AuditEvent)
	Close()
}

// Block reasons recorded in audit events.
const (
	ReasonSessionNotFound     = "session_not_found"
	ReasonRecordNotAuthorized = "record_not_authorized"
	ReasonMalformedRequest    = "malformed_request"
	ReasonSessionExpired      = "session_expired"
	ReasonOperatorTerminated  = "operator_terminated"
)

// AuditEvent represents a single blocked tool-call attempt (or an
// operator-visible session lifecycle event) to be persisted.
type AuditEvent struct {
	EventID      string // ULID, sortable by creation time
	SessionID    string
	AgentType    string
	ToolName     string
	RecordID     string // attempted record id, empty if none extractable
	Reason       string
	Detail       string // operator-facing context, never returned to the agent
	Timestamp    time.Time
	OperatorInit bool // true when the block stems from an operator action
}

// NewEventID returns a fresh ULID string for audit events.
func NewEventID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// DetailPreviewLength is the max chars stored in the detail column.
const DetailPreviewLength = 500

// TruncateDetail returns the first N characters (runes) of a detail string.
// It never splits a multi-byte UTF-8 character.
func TruncateDetail(detail string, maxLen int) string {
	runes := []rune(detail)
	if len(runes) <= maxLen {
		return detail
	}
	return string(runes[:maxLen])
}
