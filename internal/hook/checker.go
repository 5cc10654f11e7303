package hook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shinobi-ops/warden/internal/guard"
	"github.com/shinobi-ops/warden/internal/storage"
	"go.uber.org/zap"
)

// Decider answers allow/block for one tool call attempt. Implemented
// in-process by Checker and remotely by RemoteChecker.
type Decider interface {
	Check(sessionID, toolName string, input map[string]any) guard.Decision
}

// Checker sits between an agent runtime and every guarded tool call. It
// resolves the policy, extracts target record ids, and asks the Guard for a
// decision. The caller forwards the underlying call only on allow.
type Checker struct {
	guard  *guard.Guard
	policy Policy
	logger *zap.Logger
}

// NewChecker creates a Checker bound to a guard and policy.
func NewChecker(g *guard.Guard, policy Policy, logger *zap.Logger) *Checker {
	return &Checker{guard: g, policy: policy, logger: logger}
}

// Check validates one tool call attempt. The returned decision carries only
// a coarse reason code; scope details stay in the audit log and never reach
// the agent.
func (c *Checker) Check(sessionID, toolName string, input map[string]any) guard.Decision {
	// Tools outside the guarded prefixes are not record-scoped.
	if !c.policy.Guarded(toolName) {
		return guard.Decision{Allowed: true}
	}

	// Malformed arguments fail closed before any extraction is attempted.
	if err := validateToolInput(toolName, input); err != nil {
		c.guard.AuditBlock(sessionID, toolName, "", storage.ReasonMalformedRequest, err.Error())
		c.logger.Warn("malformed tool input",
			zap.String("session_id", sessionID),
			zap.String("tool_name", toolName),
			zap.Error(err),
		)
		return guard.Decision{Allowed: false, Reason: storage.ReasonMalformedRequest}
	}

	collection, _ := input["collection"].(string)
	action, _ := input["action"].(string)
	if c.policy.SafeRead(collection, action) {
		return guard.Decision{Allowed: true}
	}

	ids := ExtractRecordIDs(input)
	if len(ids) == 0 {
		// No extractable target: conservative policy. Only explicitly
		// safe-listed scope-agnostic tools may proceed.
		if c.policy.Safe(toolName) {
			return guard.Decision{Allowed: true}
		}
		c.guard.AuditBlock(sessionID, toolName, "", storage.ReasonMalformedRequest,
			fmt.Sprintf("no record id extractable from arguments of %s", toolName))
		return guard.Decision{Allowed: false, Reason: storage.ReasonMalformedRequest}
	}

	for _, id := range ids {
		if d := c.guard.Validate(sessionID, toolName, id); !d.Allowed {
			return d
		}
	}
	return guard.Decision{Allowed: true}
}

// CheckJSON is Check for callers holding raw JSON arguments.
func (c *Checker) CheckJSON(sessionID, toolName string, argumentsJSON []byte) guard.Decision {
	input := map[string]any{}
	if len(argumentsJSON) > 0 {
		if err := json.Unmarshal(argumentsJSON, &input); err != nil {
			if c.policy.Guarded(toolName) {
				c.guard.AuditBlock(sessionID, toolName, "", storage.ReasonMalformedRequest,
					"arguments are not valid JSON: "+err.Error())
				return guard.Decision{Allowed: false, Reason: storage.ReasonMalformedRequest}
			}
			return guard.Decision{Allowed: true}
		}
	}
	return c.Check(sessionID, toolName, input)
}

// RejectionMessage is what the agent runtime sees on block. Deliberately
// uniform: it never reveals which records the session (or any other session)
// is scoped to.
func RejectionMessage(d guard.Decision) string {
	if d.Allowed {
		return ""
	}
	return "action not authorized for this session (" + strings.ReplaceAll(d.Reason, "_", " ") + ")"
}
