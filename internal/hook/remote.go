package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shinobi-ops/warden/internal/guard"
	"go.uber.org/zap"
)

// RemoteChecker is a Decider that asks a warden server's hook validation
// endpoint. Used by interception points that run outside the guard's
// process, such as the MCP proxy. Any transport or server failure fails
// closed.
type RemoteChecker struct {
	endpoint string // e.g. http://localhost:8080/v1/hook/validate
	http     *http.Client
	logger   *zap.Logger
}

// NewRemoteChecker creates a RemoteChecker for the given validate endpoint.
func NewRemoteChecker(endpoint string, logger *zap.Logger) *RemoteChecker {
	return &RemoteChecker{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

type remoteValidateRequest struct {
	SessionID string         `json:"session_id"`
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
}

type remoteValidateResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Check implements Decider over HTTP.
func (r *RemoteChecker) Check(sessionID, toolName string, input map[string]any) guard.Decision {
	body, err := json.Marshal(remoteValidateRequest{
		SessionID: sessionID,
		ToolName:  toolName,
		ToolInput: input,
	})
	if err != nil {
		return guard.Decision{Allowed: false, Reason: "validation_unavailable"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return guard.Decision{Allowed: false, Reason: "validation_unavailable"}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		r.logger.Warn("hook validation request failed, failing closed", zap.Error(err))
		return guard.Decision{Allowed: false, Reason: "validation_unavailable"}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("hook validation returned non-200, failing closed",
			zap.Int("status", resp.StatusCode),
		)
		return guard.Decision{Allowed: false, Reason: "validation_unavailable"}
	}

	var out remoteValidateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return guard.Decision{Allowed: false, Reason: "validation_unavailable"}
	}
	return guard.Decision{Allowed: out.Allowed, Reason: out.Reason}
}
