package hook

import (
	"strings"
	"sync"
	"testing"

	"github.com/shinobi-ops/warden/internal/guard"
	"github.com/shinobi-ops/warden/internal/storage"
	"go.uber.org/zap"
)

type captureWriter struct {
	mu     sync.Mutex
	events []*storage.AuditEvent
}

func (w *captureWriter) Write(e *storage.AuditEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, e)
}

func (w *captureWriter) Close() {}

func newTestChecker(t *testing.T) (*Checker, *guard.Guard, *captureWriter) {
	t.Helper()
	w := &captureWriter{}
	g := guard.New(w, zap.NewNop())
	return NewChecker(g, DefaultPolicy(), zap.NewNop()), g, w
}

func TestExtractRecordIDs(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
		want  []string
	}{
		{
			"keys array",
			map[string]any{"keys": []any{"uuid-1", "uuid-2"}},
			[]string{"uuid-1", "uuid-2"},
		},
		{
			"single key",
			map[string]any{"key": "uuid-1"},
			[]string{"uuid-1"},
		},
		{
			"numeric key",
			map[string]any{"key": float64(42)},
			[]string{"42"},
		},
		{
			"data object id",
			map[string]any{"data": map[string]any{"id": "uuid-3", "name": "x"}},
			[]string{"uuid-3"},
		},
		{
			"data array ids",
			map[string]any{"data": []any{
				map[string]any{"id": "uuid-4"},
				map[string]any{"id": "uuid-5"},
				map[string]any{"name": "no id"},
			}},
			[]string{"uuid-4", "uuid-5"},
		},
		{
			"key and keys deduplicated",
			map[string]any{"key": "uuid-1", "keys": []any{"uuid-1", "uuid-2"}},
			[]string{"uuid-1", "uuid-2"},
		},
		{
			"no ids",
			map[string]any{"collection": "leads", "query": map[string]any{"limit": float64(10)}},
			nil,
		},
		{
			"nil and empty entries skipped",
			map[string]any{"keys": []any{nil, "", "uuid-1"}},
			[]string{"uuid-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractRecordIDs(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("ExtractRecordIDs = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("id[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCheck_UnguardedToolPassesThrough(t *testing.T) {
	c, _, w := newTestChecker(t)

	// Even with a bogus session: non-CMS tools are not record-scoped.
	d := c.Check("no-such-session", "Bash", map[string]any{"command": "ls"})
	if !d.Allowed {
		t.Errorf("unguarded tool should pass, got block(%s)", d.Reason)
	}
	if len(w.events) != 0 {
		t.Errorf("pass-through must not audit, got %d events", len(w.events))
	}
}

func TestCheck_GuardedToolScoped(t *testing.T) {
	c, g, _ := newTestChecker(t)

	sid, err := g.StartSession("comms", []string{"lead-42"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	d := c.Check(sid, "mcp__directus__items_read", map[string]any{
		"collection": "leads", "key": "lead-42",
	})
	if !d.Allowed {
		t.Errorf("in-scope read should pass, got block(%s)", d.Reason)
	}

	d = c.Check(sid, "mcp__directus__items_read", map[string]any{
		"collection": "leads", "key": "lead-99",
	})
	if d.Allowed || d.Reason != storage.ReasonRecordNotAuthorized {
		t.Errorf("out-of-scope read should block(record_not_authorized), got %+v", d)
	}
}

func TestCheck_BulkBlocksOnAnyUnauthorized(t *testing.T) {
	c, g, _ := newTestChecker(t)

	sid, _ := g.StartSession("tracker", []string{"proj-7", "proj-8"})

	d := c.Check(sid, "mcp__directus__items_update", map[string]any{
		"collection": "project_trackers",
		"keys":       []any{"proj-7", "proj-9"},
		"data":       map[string]any{"status": "done"},
	})
	if d.Allowed {
		t.Error("bulk call touching an unauthorized record must block")
	}
}

func TestCheck_SafeReadCollections(t *testing.T) {
	c, g, _ := newTestChecker(t)

	sid, _ := g.StartSession("comms", []string{"lead-42"})

	d := c.Check(sid, "mcp__directus__items_read", map[string]any{
		"collection": "service_prompts", "action": "read",
	})
	if !d.Allowed {
		t.Errorf("safe-collection read should pass, got block(%s)", d.Reason)
	}

	// Writes to the same collection get no exemption.
	d = c.Check(sid, "mcp__directus__items_update", map[string]any{
		"collection": "service_prompts", "action": "update",
		"key": "prompt-1", "data": map[string]any{"prompt_content": "x"},
	})
	if d.Allowed {
		t.Error("write to safe-read collection must still be scoped")
	}
}

func TestCheck_NoExtractableTarget(t *testing.T) {
	c, g, w := newTestChecker(t)

	sid, _ := g.StartSession("comms", []string{"lead-42"})

	// Safe-listed scope-agnostic tool proceeds.
	d := c.Check(sid, "mcp__directus__collections_list", map[string]any{})
	if !d.Allowed {
		t.Errorf("safe-listed tool should pass, got block(%s)", d.Reason)
	}

	// Anything else without a target fails closed.
	d = c.Check(sid, "mcp__directus__items_read", map[string]any{
		"collection": "leads",
	})
	if d.Allowed || d.Reason != storage.ReasonMalformedRequest {
		t.Errorf("targetless guarded call should block(malformed_request), got %+v", d)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.events) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(w.events))
	}
	if w.events[0].Reason != storage.ReasonMalformedRequest {
		t.Errorf("audit reason = %q", w.events[0].Reason)
	}
}

func TestCheck_SchemaRejectsMalformedArguments(t *testing.T) {
	c, g, _ := newTestChecker(t)

	sid, _ := g.StartSession("comms", []string{"lead-42"})

	tests := []struct {
		name  string
		tool  string
		input map[string]any
	}{
		{"missing collection", "mcp__directus__items_read", map[string]any{"key": "lead-42"}},
		{"empty collection", "mcp__directus__items_read", map[string]any{"collection": "", "key": "lead-42"}},
		{"keys not array", "mcp__directus__items_delete", map[string]any{"collection": "leads", "keys": "lead-42"}},
		{"create without data", "mcp__directus__items_create", map[string]any{"collection": "leads"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.Check(sid, tt.tool, tt.input)
			if d.Allowed || d.Reason != storage.ReasonMalformedRequest {
				t.Errorf("expected block(malformed_request), got %+v", d)
			}
		})
	}
}

func TestCheck_CreateSemantics(t *testing.T) {
	c, g, _ := newTestChecker(t)

	sid, _ := g.StartSession("comms", []string{"lead-42"})

	// Creating a fresh record (no id) is scope-agnostic and allowed.
	d := c.Check(sid, "mcp__directus__items_create", map[string]any{
		"collection": "service_workflows",
		"data":       map[string]any{"status": "pending_approval", "draft": "..."},
	})
	if !d.Allowed {
		t.Errorf("id-less create should pass, got block(%s)", d.Reason)
	}

	// A create payload carrying an explicit id is an upsert and is scoped.
	d = c.Check(sid, "mcp__directus__items_create", map[string]any{
		"collection": "leads",
		"data":       map[string]any{"id": "lead-99", "score": float64(10)},
	})
	if d.Allowed || d.Reason != storage.ReasonRecordNotAuthorized {
		t.Errorf("upsert of unauthorized id should block, got %+v", d)
	}
}

func TestCheckJSON(t *testing.T) {
	c, g, _ := newTestChecker(t)

	sid, _ := g.StartSession("comms", []string{"lead-42"})

	d := c.CheckJSON(sid, "mcp__directus__items_read",
		[]byte(`{"collection":"leads","key":"lead-42"}`))
	if !d.Allowed {
		t.Errorf("expected allow, got block(%s)", d.Reason)
	}

	d = c.CheckJSON(sid, "mcp__directus__items_read", []byte(`{not json`))
	if d.Allowed || d.Reason != storage.ReasonMalformedRequest {
		t.Errorf("invalid JSON should block(malformed_request), got %+v", d)
	}

	// Invalid JSON on an unguarded tool is not our problem.
	d = c.CheckJSON(sid, "Bash", []byte(`{not json`))
	if !d.Allowed {
		t.Errorf("unguarded tool with bad JSON should pass, got block(%s)", d.Reason)
	}
}

func TestRejectionMessage_RevealsNoScope(t *testing.T) {
	d := guard.Decision{Allowed: false, Reason: storage.ReasonRecordNotAuthorized}
	msg := RejectionMessage(d)
	if msg == "" {
		t.Fatal("expected a rejection message")
	}
	for _, leak := range []string{"lead-42", "scope:", "session allows"} {
		if strings.Contains(msg, leak) {
			t.Errorf("rejection message leaks %q: %s", leak, msg)
		}
	}
}
