package dispatch

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shinobi-ops/warden/internal/agent"
	"github.com/shinobi-ops/warden/internal/guard"
	"github.com/shinobi-ops/warden/internal/hook"
	"github.com/shinobi-ops/warden/internal/llm"
	"github.com/shinobi-ops/warden/internal/storage"
)

const testRules = `
rules:
  - name: new-lead
    when: event == "items.create" && collection == "leads"
    agent: lead
  - name: invoice-paid
    when: event == "items.update" && collection == "invoices" && payload.status == "paid"
    agent: finance
    task: Reconcile the paid invoice.
`

func TestParseRules(t *testing.T) {
	set, err := ParseRules([]byte(testRules))
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("Len = %d, want 2", set.Len())
	}
}

func TestParseRules_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad condition", "rules:\n  - name: r\n    when: 'collection =='\n    agent: lead\n"},
		{"non-bool condition", "rules:\n  - name: r\n    when: 'collection'\n    agent: lead\n"},
		{"missing agent", "rules:\n  - name: r\n    when: 'true'\n"},
		{"missing when", "rules:\n  - name: r\n    agent: lead\n"},
		{"unknown variable", "rules:\n  - name: r\n    when: 'body == 1'\n    agent: lead\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseRules([]byte(tc.yaml)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestRuleSet_Match(t *testing.T) {
	set, err := ParseRules([]byte(testRules))
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}

	cases := []struct {
		name string
		ev   Event
		want []string
	}{
		{
			name: "lead create matches",
			ev:   Event{Event: "items.create", Collection: "leads"},
			want: []string{"new-lead"},
		},
		{
			name: "lead update does not",
			ev:   Event{Event: "items.update", Collection: "leads"},
			want: nil,
		},
		{
			name: "payload condition",
			ev: Event{
				Event:      "items.update",
				Collection: "invoices",
				Payload:    map[string]any{"status": "paid"},
			},
			want: []string{"invoice-paid"},
		},
		{
			name: "payload mismatch",
			ev: Event{
				Event:      "items.update",
				Collection: "invoices",
				Payload:    map[string]any{"status": "draft"},
			},
			want: nil,
		},
		{
			name: "nil payload does not panic",
			ev:   Event{Event: "items.update", Collection: "invoices"},
			want: nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			matched, errs := set.Match(tc.ev)
			var names []string
			for _, r := range matched {
				names = append(names, r.Name)
			}
			if !reflect.DeepEqual(names, tc.want) {
				t.Errorf("matched %v, want %v (errs %v)", names, tc.want, errs)
			}
		})
	}
}

func TestEvent_RecordIDs(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
		want []string
	}{
		{"keys array", Event{Keys: []any{"a", "b"}}, []string{"a", "b"}},
		{"numeric keys", Event{Keys: []any{float64(7), float64(12)}}, []string{"7", "12"}},
		{"single key", Event{Key: "rec-1"}, []string{"rec-1"}},
		{"key and keys deduped", Event{Keys: []any{"a"}, Key: "a"}, []string{"a"}},
		{"empty", Event{}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.ev.RecordIDs(); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("RecordIDs = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLoader_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(testRules), 0o644); err != nil {
		t.Fatal(err)
	}

	loader, err := NewLoader(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if loader.Rules().Len() != 2 {
		t.Fatalf("initial rules = %d, want 2", loader.Rules().Len())
	}

	// A broken rewrite keeps the last good set.
	if err := os.WriteFile(path, []byte("rules:\n  - when: '('\n    agent: lead\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := loader.reload(); err == nil {
		t.Error("expected reload error for broken file")
	}
	if loader.Rules().Len() != 2 {
		t.Errorf("broken reload replaced the rule set")
	}

	// A good rewrite swaps it.
	good := "rules:\n  - name: only\n    when: 'true'\n    agent: comms\n"
	if err := os.WriteFile(path, []byte(good), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := loader.reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loader.Rules().Len() != 1 {
		t.Errorf("rules after reload = %d, want 1", loader.Rules().Len())
	}
}

func TestLoader_MissingFile(t *testing.T) {
	if _, err := NewLoader(filepath.Join(t.TempDir(), "absent.yaml"), zap.NewNop()); err == nil {
		t.Error("expected error for missing rules file")
	}
}

type nopWriter struct{}

func (nopWriter) Write(*storage.AuditEvent) {}
func (nopWriter) Close()                    {}

type staticRules struct{ set *RuleSet }

func (s staticRules) Rules() *RuleSet { return s.set }

// endTurnLLM answers every chat with a final message, no tool calls.
type endTurnLLM struct{}

func (endTurnLLM) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: "done", StopReason: llm.StopEndTurn}, nil
}

type noopAPI struct{}

func (noopAPI) ReadItem(context.Context, string, string) (map[string]any, error) {
	return nil, nil
}
func (noopAPI) ListItems(context.Context, string, url.Values) ([]map[string]any, error) {
	return nil, nil
}
func (noopAPI) CreateItem(_ context.Context, _ string, data map[string]any) (map[string]any, error) {
	return data, nil
}
func (noopAPI) UpdateItem(_ context.Context, _, _ string, data map[string]any) (map[string]any, error) {
	return data, nil
}
func (noopAPI) DeleteItem(context.Context, string, string) error { return nil }

type fetchlessReader struct{}

func (fetchlessReader) ListItems(context.Context, string, url.Values) ([]map[string]any, error) {
	return nil, nil
}

func newTestDispatcher(t *testing.T, rules string) (*Dispatcher, *guard.Guard, *agent.Registry) {
	t.Helper()
	set, err := ParseRules([]byte(rules))
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	logger := zap.NewNop()
	g := guard.New(nopWriter{}, logger)
	checker := hook.NewChecker(g, hook.DefaultPolicy(), logger)
	prompts := agent.NewPromptSource(fetchlessReader{}, time.Minute, logger)
	runner := agent.NewRunner(endTurnLLM{}, noopAPI{}, checker, prompts, agent.RunnerConfig{Model: "test-model"}, logger)
	registry := agent.NewRegistry(nil, logger)
	d := NewDispatcher(staticRules{set}, registry, g, runner, logger)
	return d, g, registry
}

func TestDispatcher_Dispatched(t *testing.T) {
	d, g, _ := newTestDispatcher(t, testRules)

	outcomes := d.Dispatch(context.Background(), Event{
		Event:      "items.create",
		Collection: "leads",
		Keys:       []any{"lead-9"},
	})
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	out := outcomes[0]
	if out.Disposition != DispositionDispatched || out.SessionID == "" {
		t.Fatalf("outcome = %+v", out)
	}
	if got := g.RecordIDs(out.SessionID); len(got) != 1 || got[0] != "lead-9" {
		t.Errorf("session scoped to %v", got)
	}

	d.Wait()
	// The run has returned, so its session is gone from the active list.
	for _, s := range g.ListActiveSessions() {
		if s.SessionID == out.SessionID {
			t.Error("session still active after run finished")
		}
	}
}

func TestDispatcher_DisabledAgent(t *testing.T) {
	d, g, registry := newTestDispatcher(t, testRules)
	if err := registry.SetEnabled(context.Background(), agent.TypeLead, false); err != nil {
		t.Fatal(err)
	}

	outcomes := d.Dispatch(context.Background(), Event{
		Event:      "items.create",
		Collection: "leads",
		Keys:       []any{"lead-9"},
	})
	if outcomes[0].Disposition != DispositionAgentDisabled {
		t.Errorf("outcome = %+v", outcomes[0])
	}
	if len(g.ListActiveSessions()) != 0 {
		t.Error("no session should start for a disabled agent")
	}
}

func TestDispatcher_Unrouted(t *testing.T) {
	d, _, _ := newTestDispatcher(t, testRules)
	outcomes := d.Dispatch(context.Background(), Event{
		Event:      "items.delete",
		Collection: "projects",
		Keys:       []any{"p1"},
	})
	if len(outcomes) != 1 || outcomes[0].Disposition != DispositionUnrouted {
		t.Errorf("outcomes = %+v", outcomes)
	}
}

func TestDispatcher_NoRecords(t *testing.T) {
	d, g, _ := newTestDispatcher(t, testRules)
	outcomes := d.Dispatch(context.Background(), Event{
		Event:      "items.create",
		Collection: "leads",
	})
	if outcomes[0].Disposition != DispositionNoRecords {
		t.Errorf("outcome = %+v", outcomes[0])
	}
	if len(g.ListActiveSessions()) != 0 {
		t.Error("no session should start without record keys")
	}
}
