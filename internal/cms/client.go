// Package cms talks to the headless-CMS data API (Directus-style REST:
// /items/{collection} with a bearer token and a {"data": ...} envelope).
package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// APIError is a non-2xx response from the data API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cms: status %d: %s", e.StatusCode, e.Body)
}

// Client is the raw data-API client. It performs no authorization of its
// own; all scoping happens in GuardedClient. Nothing agent-facing should
// ever hold a bare *Client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a Client for the given CMS base URL and static token.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

// ReadItem fetches a single item by key.
func (c *Client) ReadItem(ctx context.Context, collection, key string) (map[string]any, error) {
	var resp struct {
		Data map[string]any `json:"data"`
	}
	path := fmt.Sprintf("/items/%s/%s", url.PathEscape(collection), url.PathEscape(key))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ListItems fetches items matching the query.
func (c *Client) ListItems(ctx context.Context, collection string, query url.Values) ([]map[string]any, error) {
	var resp struct {
		Data []map[string]any `json:"data"`
	}
	path := "/items/" + url.PathEscape(collection)
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// CreateItem inserts a new item and returns it.
func (c *Client) CreateItem(ctx context.Context, collection string, data map[string]any) (map[string]any, error) {
	var resp struct {
		Data map[string]any `json:"data"`
	}
	path := "/items/" + url.PathEscape(collection)
	if err := c.do(ctx, http.MethodPost, path, data, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// UpdateItem patches an item by key and returns the updated item.
func (c *Client) UpdateItem(ctx context.Context, collection, key string, data map[string]any) (map[string]any, error) {
	var resp struct {
		Data map[string]any `json:"data"`
	}
	path := fmt.Sprintf("/items/%s/%s", url.PathEscape(collection), url.PathEscape(key))
	if err := c.do(ctx, http.MethodPatch, path, data, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// DeleteItem removes an item by key.
func (c *Client) DeleteItem(ctx context.Context, collection, key string) error {
	path := fmt.Sprintf("/items/%s/%s", url.PathEscape(collection), url.PathEscape(key))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("cms: marshal body: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("cms: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cms: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cms: decode response: %w", err)
	}
	return nil
}
