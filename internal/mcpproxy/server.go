// Package mcpproxy exposes the CMS item tools over MCP stdio. Every handler
// goes through a session-bound guarded client, so an agent wired to this
// proxy has no tool path that skips validation.
package mcpproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/shinobi-ops/warden/internal/cms"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New builds the MCP server over a guarded client. The client is already
// bound to a session; the proxy never learns or widens the session's scope.
func New(client *cms.GuardedClient, logger *zap.Logger) *server.MCPServer {
	s := server.NewMCPServer(
		"directus",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	read := &readTool{client: client, logger: logger}
	s.AddTool(read.Definition(), read.Handle)

	create := &createTool{client: client, logger: logger}
	s.AddTool(create.Definition(), create.Handle)

	update := &updateTool{client: client, logger: logger}
	s.AddTool(update.Definition(), update.Handle)

	del := &deleteTool{client: client, logger: logger}
	s.AddTool(del.Definition(), del.Handle)

	return s
}

// ServeStdio runs the server over stdin/stdout until the transport closes.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

// readTool handles items_read: a single item by key, or a listing.
type readTool struct {
	client *cms.GuardedClient
	logger *zap.Logger
}

func (t *readTool) Definition() mcp.Tool {
	return mcp.NewTool("items_read",
		mcp.WithDescription("Read a single item by key, or list items in a collection when no key is given."),
		mcp.WithString("collection", mcp.Required(), mcp.Description("Collection name")),
		mcp.WithString("key", mcp.Description("Item key; omit to list")),
		mcp.WithObject("filter", mcp.Description("Filter object for listings")),
		mcp.WithNumber("limit", mcp.Description("Max items for listings")),
	)
}

func (t *readTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collection := req.GetString("collection", "")
	if collection == "" {
		return mcp.NewToolResultError("'collection' is required"), nil
	}

	key := req.GetString("key", "")
	if key == "" {
		items, err := t.client.ListItems(ctx, collection, listQuery(req))
		if err != nil {
			return errorResult(t.logger, "items_read", err), nil
		}
		return jsonResult(items)
	}

	item, err := t.client.ReadItem(ctx, collection, key)
	if err != nil {
		return errorResult(t.logger, "items_read", err), nil
	}
	return jsonResult(item)
}

type createTool struct {
	client *cms.GuardedClient
	logger *zap.Logger
}

func (t *createTool) Definition() mcp.Tool {
	return mcp.NewTool("items_create",
		mcp.WithDescription("Create a new item in a collection."),
		mcp.WithString("collection", mcp.Required(), mcp.Description("Collection name")),
		mcp.WithObject("data", mcp.Required(), mcp.Description("Item fields")),
	)
}

func (t *createTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collection := req.GetString("collection", "")
	if collection == "" {
		return mcp.NewToolResultError("'collection' is required"), nil
	}
	data, ok := req.GetArguments()["data"].(map[string]any)
	if !ok {
		return mcp.NewToolResultError("'data' must be an object"), nil
	}

	created, err := t.client.CreateItem(ctx, collection, data)
	if err != nil {
		return errorResult(t.logger, "items_create", err), nil
	}
	return jsonResult(created)
}

type updateTool struct {
	client *cms.GuardedClient
	logger *zap.Logger
}

func (t *updateTool) Definition() mcp.Tool {
	return mcp.NewTool("items_update",
		mcp.WithDescription("Update an existing item by key."),
		mcp.WithString("collection", mcp.Required(), mcp.Description("Collection name")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Item key")),
		mcp.WithObject("data", mcp.Required(), mcp.Description("Fields to change")),
	)
}

func (t *updateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collection := req.GetString("collection", "")
	key := req.GetString("key", "")
	if collection == "" || key == "" {
		return mcp.NewToolResultError("'collection' and 'key' are required"), nil
	}
	data, ok := req.GetArguments()["data"].(map[string]any)
	if !ok {
		return mcp.NewToolResultError("'data' must be an object"), nil
	}

	updated, err := t.client.UpdateItem(ctx, collection, key, data)
	if err != nil {
		return errorResult(t.logger, "items_update", err), nil
	}
	return jsonResult(updated)
}

type deleteTool struct {
	client *cms.GuardedClient
	logger *zap.Logger
}

func (t *deleteTool) Definition() mcp.Tool {
	return mcp.NewTool("items_delete",
		mcp.WithDescription("Delete an item by key."),
		mcp.WithString("collection", mcp.Required(), mcp.Description("Collection name")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Item key")),
	)
}

func (t *deleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collection := req.GetString("collection", "")
	key := req.GetString("key", "")
	if collection == "" || key == "" {
		return mcp.NewToolResultError("'collection' and 'key' are required"), nil
	}

	if err := t.client.DeleteItem(ctx, collection, key); err != nil {
		return errorResult(t.logger, "items_delete", err), nil
	}
	return mcp.NewToolResultText(`{"deleted":true}`), nil
}

func listQuery(req mcp.CallToolRequest) url.Values {
	query := url.Values{}
	args := req.GetArguments()
	if f, ok := args["filter"].(map[string]any); ok {
		if b, err := json.Marshal(f); err == nil {
			query.Set("filter", string(b))
		}
	}
	if limit, ok := args["limit"].(float64); ok && limit > 0 {
		query.Set("limit", strconv.Itoa(int(limit)))
	}
	return query
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

// errorResult keeps blocked calls uniform and terse toward the model while
// the real reason lands in the audit log server-side.
func errorResult(logger *zap.Logger, tool string, err error) *mcp.CallToolResult {
	if errors.Is(err, cms.ErrNotAuthorized) {
		return mcp.NewToolResultError("action not authorized for this session")
	}
	logger.Warn("tool call failed", zap.String("tool", tool), zap.Error(err))
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", tool, err))
}
