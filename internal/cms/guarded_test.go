package cms

import (
	"context"
	"net/url"
	"sync"
	"testing"

	"github.com/shinobi-ops/warden/internal/guard"
	"github.com/shinobi-ops/warden/internal/hook"
	"github.com/shinobi-ops/warden/internal/storage"
	"go.uber.org/zap"
)

type nopWriter struct{}

func (nopWriter) Write(*storage.AuditEvent) {}
func (nopWriter) Close()                    {}

// fakeAPI records which underlying calls were actually forwarded.
type fakeAPI struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeAPI) record(op string) {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.mu.Unlock()
}

func (f *fakeAPI) ReadItem(_ context.Context, collection, key string) (map[string]any, error) {
	f.record("read:" + collection + "/" + key)
	return map[string]any{"id": key}, nil
}

func (f *fakeAPI) ListItems(_ context.Context, collection string, _ url.Values) ([]map[string]any, error) {
	f.record("list:" + collection)
	return nil, nil
}

func (f *fakeAPI) CreateItem(_ context.Context, collection string, data map[string]any) (map[string]any, error) {
	f.record("create:" + collection)
	return data, nil
}

func (f *fakeAPI) UpdateItem(_ context.Context, collection, key string, data map[string]any) (map[string]any, error) {
	f.record("update:" + collection + "/" + key)
	return data, nil
}

func (f *fakeAPI) DeleteItem(_ context.Context, collection, key string) error {
	f.record("delete:" + collection + "/" + key)
	return nil
}

func (f *fakeAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newGuardedFixture(t *testing.T, agentType string, records []string) (*GuardedClient, *fakeAPI, *guard.Guard) {
	t.Helper()
	g := guard.New(nopWriter{}, zap.NewNop())
	sid, err := g.StartSession(agentType, records)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	checker := hook.NewChecker(g, hook.DefaultPolicy(), zap.NewNop())
	api := &fakeAPI{}
	return NewGuardedClient(api, checker, sid), api, g
}

func TestGuardedClient_InScopeForwarded(t *testing.T) {
	gc, api, _ := newGuardedFixture(t, "comms", []string{"lead-42"})
	ctx := context.Background()

	if _, err := gc.ReadItem(ctx, "leads", "lead-42"); err != nil {
		t.Fatalf("ReadItem: %v", err)
	}
	if _, err := gc.UpdateItem(ctx, "leads", "lead-42", map[string]any{"score": float64(80)}); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if api.count() != 2 {
		t.Errorf("expected 2 forwarded calls, got %d", api.count())
	}
}

func TestGuardedClient_OutOfScopeNeverForwarded(t *testing.T) {
	gc, api, _ := newGuardedFixture(t, "comms", []string{"lead-42"})
	ctx := context.Background()

	if _, err := gc.ReadItem(ctx, "leads", "lead-99"); err != ErrNotAuthorized {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}
	if _, err := gc.UpdateItem(ctx, "invoices", "inv-1", map[string]any{"amount": float64(1)}); err != ErrNotAuthorized {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}
	if err := gc.DeleteItem(ctx, "leads", "lead-99"); err != ErrNotAuthorized {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}

	// Blocked calls must not reach the underlying API at all.
	if api.count() != 0 {
		t.Errorf("blocked calls forwarded: %v", api.calls)
	}
}

func TestGuardedClient_ListPolicy(t *testing.T) {
	gc, api, _ := newGuardedFixture(t, "comms", []string{"lead-42"})
	ctx := context.Background()

	// Safe-read collections may be listed for context gathering.
	if _, err := gc.ListItems(ctx, "service_prompts", nil); err != nil {
		t.Fatalf("ListItems(service_prompts): %v", err)
	}

	// Arbitrary collections may not.
	if _, err := gc.ListItems(ctx, "invoices", nil); err != ErrNotAuthorized {
		t.Errorf("expected ErrNotAuthorized for invoices list, got %v", err)
	}
	if api.count() != 1 {
		t.Errorf("expected exactly 1 forwarded call, got %d", api.count())
	}
}

func TestGuardedClient_CreateWithoutID(t *testing.T) {
	gc, api, _ := newGuardedFixture(t, "comms", []string{"lead-42"})
	ctx := context.Background()

	if _, err := gc.CreateItem(ctx, "service_workflows", map[string]any{
		"status": "pending_approval",
	}); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if api.count() != 1 {
		t.Errorf("expected create to be forwarded, got %d calls", api.count())
	}
}

func TestGuardedClient_EndedSessionBlocksEverything(t *testing.T) {
	gc, api, g := newGuardedFixture(t, "comms", []string{"lead-42"})
	ctx := context.Background()

	g.EndSession(gc.SessionID())

	if _, err := gc.ReadItem(ctx, "leads", "lead-42"); err != ErrNotAuthorized {
		t.Errorf("expected ErrNotAuthorized after end, got %v", err)
	}
	if api.count() != 0 {
		t.Error("ended session call was forwarded")
	}
}
