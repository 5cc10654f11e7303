package cms

import (
	"context"
	"errors"
	"net/url"

	"github.com/shinobi-ops/warden/internal/hook"
)

// ErrNotAuthorized is returned by GuardedClient when the session guard
// blocks an operation. It carries no scope detail.
var ErrNotAuthorized = errors.New("cms: action not authorized for this session")

// Guarded tool names presented to the hook checker. These match the names
// the same operations carry when invoked through the MCP proxy, so the
// audit trail is uniform regardless of path.
const (
	ToolItemsRead   = "mcp__directus__items_read"
	ToolItemsCreate = "mcp__directus__items_create"
	ToolItemsUpdate = "mcp__directus__items_update"
	ToolItemsDelete = "mcp__directus__items_delete"
)

// ItemsAPI is the data-API surface agents are given access to.
type ItemsAPI interface {
	ReadItem(ctx context.Context, collection, key string) (map[string]any, error)
	ListItems(ctx context.Context, collection string, query url.Values) ([]map[string]any, error)
	CreateItem(ctx context.Context, collection string, data map[string]any) (map[string]any, error)
	UpdateItem(ctx context.Context, collection, key string, data map[string]any) (map[string]any, error)
	DeleteItem(ctx context.Context, collection, key string) error
}

// GuardedClient is a capability-checked proxy in front of the data-API
// client: every operation asks the session guard before the underlying call
// is made. Agents receive a GuardedClient bound to their session id and have
// no path to the raw client, so deny-by-default holds by construction.
type GuardedClient struct {
	api       ItemsAPI
	checker   hook.Decider
	sessionID string
}

// NewGuardedClient binds a session id to the underlying API through the
// checker.
func NewGuardedClient(api ItemsAPI, checker hook.Decider, sessionID string) *GuardedClient {
	return &GuardedClient{api: api, checker: checker, sessionID: sessionID}
}

// SessionID returns the session this client is scoped to.
func (g *GuardedClient) SessionID() string { return g.sessionID }

func (g *GuardedClient) ReadItem(ctx context.Context, collection, key string) (map[string]any, error) {
	d := g.checker.Check(g.sessionID, ToolItemsRead, map[string]any{
		"collection": collection,
		"action":     "read",
		"key":        key,
	})
	if !d.Allowed {
		return nil, ErrNotAuthorized
	}
	return g.api.ReadItem(ctx, collection, key)
}

func (g *GuardedClient) ListItems(ctx context.Context, collection string, query url.Values) ([]map[string]any, error) {
	// List calls carry no single target record; the checker applies the
	// conservative no-target policy (safe-read collections pass, the rest
	// block).
	d := g.checker.Check(g.sessionID, ToolItemsRead, map[string]any{
		"collection": collection,
		"action":     "read",
	})
	if !d.Allowed {
		return nil, ErrNotAuthorized
	}
	return g.api.ListItems(ctx, collection, query)
}

func (g *GuardedClient) CreateItem(ctx context.Context, collection string, data map[string]any) (map[string]any, error) {
	input := map[string]any{
		"collection": collection,
		"action":     "create",
		"data":       data,
	}
	d := g.checker.Check(g.sessionID, ToolItemsCreate, input)
	if !d.Allowed {
		return nil, ErrNotAuthorized
	}
	return g.api.CreateItem(ctx, collection, data)
}

func (g *GuardedClient) UpdateItem(ctx context.Context, collection, key string, data map[string]any) (map[string]any, error) {
	d := g.checker.Check(g.sessionID, ToolItemsUpdate, map[string]any{
		"collection": collection,
		"action":     "update",
		"key":        key,
		"data":       data,
	})
	if !d.Allowed {
		return nil, ErrNotAuthorized
	}
	return g.api.UpdateItem(ctx, collection, key, data)
}

func (g *GuardedClient) DeleteItem(ctx context.Context, collection, key string) error {
	d := g.checker.Check(g.sessionID, ToolItemsDelete, map[string]any{
		"collection": collection,
		"action":     "delete",
		"key":        key,
	})
	if !d.Allowed {
		return ErrNotAuthorized
	}
	return g.api.DeleteItem(ctx, collection, key)
}
