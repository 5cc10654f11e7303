// Package hook implements the tool-call interception policy: which tools are
// guarded, how target record ids are extracted from tool arguments, and what
// happens when no target can be determined.
package hook

import "strings"

// Policy controls which tool calls are subject to guarding and which are
// exempt. The zero value guards nothing; use DefaultPolicy for the standard
// CMS tool surface.
type Policy struct {
	// GuardedPrefixes lists tool-name prefixes that operate on CMS records.
	// Tools outside these prefixes are not record-scoped and pass through.
	GuardedPrefixes []string

	// SafeReadCollections are collections any session may read for context
	// gathering (prompts, logs, workflow definitions). Reads only.
	SafeReadCollections map[string]struct{}

	// SafeTools are scope-agnostic tool names allowed even when no record id
	// can be extracted from the arguments (e.g. collection listing). Any
	// other guarded call without an extractable target is blocked.
	SafeTools map[string]struct{}
}

// DefaultPolicy returns the policy for the Directus-style data-API tools.
func DefaultPolicy() Policy {
	return Policy{
		GuardedPrefixes: []string{"mcp__directus__"},
		SafeReadCollections: map[string]struct{}{
			"service_prompts":   {},
			"agent_logs":        {},
			"service_workflows": {},
		},
		SafeTools: map[string]struct{}{
			"mcp__directus__collections_list": {},
			"mcp__directus__fields_list":      {},
			// Creating a record that carries no id cannot touch existing
			// records; payloads that do carry an id are still validated.
			"mcp__directus__items_create": {},
		},
	}
}

// Guarded reports whether the tool name falls under a guarded prefix.
func (p Policy) Guarded(toolName string) bool {
	for _, prefix := range p.GuardedPrefixes {
		if strings.HasPrefix(toolName, prefix) {
			return true
		}
	}
	return false
}

// SafeRead reports whether the call is a read against an always-readable
// collection.
func (p Policy) SafeRead(collection, action string) bool {
	if action != "read" {
		return false
	}
	_, ok := p.SafeReadCollections[collection]
	return ok
}

// Safe reports whether the tool may run without an extractable record id.
func (p Policy) Safe(toolName string) bool {
	_, ok := p.SafeTools[toolName]
	return ok
}
