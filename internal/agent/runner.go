package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/shinobi-ops/warden/internal/cms"
	"github.com/shinobi-ops/warden/internal/hook"
	"github.com/shinobi-ops/warden/internal/llm"
	"github.com/shinobi-ops/warden/internal/metrics"
)

// RunnerConfig bounds a single agent run.
type RunnerConfig struct {
	Model     string
	MaxTokens int
	MaxTurns  int
	Timeout   time.Duration
}

func (c *RunnerConfig) fillDefaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
}

// Runner drives the model loop for one agent run. Every tool call the model
// makes goes through a session-bound GuardedClient, so the run can never
// touch records outside its session scope.
type Runner struct {
	llm     llm.Client
	api     cms.ItemsAPI
	checker hook.Decider
	prompts *PromptSource
	cfg     RunnerConfig
	logger  *zap.Logger
}

// NewRunner wires a runner over the model client and raw data API.
func NewRunner(client llm.Client, api cms.ItemsAPI, checker hook.Decider, prompts *PromptSource, cfg RunnerConfig, logger *zap.Logger) *Runner {
	cfg.fillDefaults()
	return &Runner{
		llm:     client,
		api:     api,
		checker: checker,
		prompts: prompts,
		cfg:     cfg,
		logger:  logger,
	}
}

// RunResult summarizes a completed run.
type RunResult struct {
	Output    string
	Turns     int
	ToolCalls int
	Blocked   int
}

// Run executes the agent loop for an already-started session. The caller
// owns the session lifecycle; Run never starts or ends sessions itself.
func (r *Runner) Run(ctx context.Context, sessionID, agentType, task string) (*RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	client := cms.NewGuardedClient(r.api, r.checker, sessionID)
	system := r.prompts.Prompt(ctx, agentType)

	messages := []llm.Message{
		{Role: llm.RoleUser, Content: task},
	}

	result := &RunResult{}
	log := r.logger.With(
		zap.String("session_id", sessionID),
		zap.String("agent_type", agentType),
	)

	for turn := 0; turn < r.cfg.MaxTurns; turn++ {
		result.Turns++

		resp, err := r.llm.Chat(ctx, llm.ChatRequest{
			Model:     r.cfg.Model,
			System:    system,
			MaxTokens: r.cfg.MaxTokens,
			Messages:  messages,
			Tools:     itemTools,
		})
		if err != nil {
			metrics.AgentRuns.WithLabelValues(agentType, "error").Inc()
			return nil, fmt.Errorf("Runner.Run: turn %d: %w", turn+1, err)
		}

		if resp.Content != "" {
			result.Output = resp.Content
		}

		if len(resp.ToolCalls) == 0 || resp.StopReason != llm.StopToolUse {
			metrics.AgentRuns.WithLabelValues(agentType, "completed").Inc()
			return result, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			result.ToolCalls++
			content, err := r.executeTool(ctx, client, tc)
			if err != nil {
				if errors.Is(err, cms.ErrNotAuthorized) {
					result.Blocked++
					log.Info("tool call blocked",
						zap.String("tool", tc.Name),
						zap.Int("turn", turn+1))
				} else {
					log.Warn("tool call failed",
						zap.String("tool", tc.Name),
						zap.Error(err))
				}
				results = append(results, llm.ToolResult{
					ToolUseID: tc.ID,
					Content:   err.Error(),
					IsError:   true,
				})
				continue
			}
			results = append(results, llm.ToolResult{
				ToolUseID: tc.ID,
				Content:   content,
			})
		}
		messages = append(messages, llm.Message{
			Role:        llm.RoleUser,
			ToolResults: results,
		})
	}

	metrics.AgentRuns.WithLabelValues(agentType, "max_turns").Inc()
	log.Warn("run hit turn limit", zap.Int("max_turns", r.cfg.MaxTurns))
	return result, nil
}

func (r *Runner) executeTool(ctx context.Context, client *cms.GuardedClient, tc llm.ToolCall) (string, error) {
	collection := stringArg(tc.Input, "collection")
	if collection == "" {
		return "", fmt.Errorf("tool %s: missing collection", tc.Name)
	}

	switch tc.Name {
	case cms.ToolItemsRead:
		key := stringArg(tc.Input, "key")
		if key == "" {
			items, err := client.ListItems(ctx, collection, listQuery(tc.Input))
			if err != nil {
				return "", err
			}
			return marshalResult(items)
		}
		item, err := client.ReadItem(ctx, collection, key)
		if err != nil {
			return "", err
		}
		return marshalResult(item)

	case cms.ToolItemsCreate:
		data, _ := tc.Input["data"].(map[string]any)
		if data == nil {
			return "", fmt.Errorf("tool %s: missing data", tc.Name)
		}
		created, err := client.CreateItem(ctx, collection, data)
		if err != nil {
			return "", err
		}
		return marshalResult(created)

	case cms.ToolItemsUpdate:
		key := stringArg(tc.Input, "key")
		if key == "" {
			return "", fmt.Errorf("tool %s: missing key", tc.Name)
		}
		data, _ := tc.Input["data"].(map[string]any)
		if data == nil {
			return "", fmt.Errorf("tool %s: missing data", tc.Name)
		}
		updated, err := client.UpdateItem(ctx, collection, key, data)
		if err != nil {
			return "", err
		}
		return marshalResult(updated)

	case cms.ToolItemsDelete:
		key := stringArg(tc.Input, "key")
		if key == "" {
			return "", fmt.Errorf("tool %s: missing key", tc.Name)
		}
		if err := client.DeleteItem(ctx, collection, key); err != nil {
			return "", err
		}
		return `{"deleted":true}`, nil

	default:
		return "", fmt.Errorf("unknown tool %q", tc.Name)
	}
}

// stringArg returns input[name] as a string, accepting the numeric keys the
// model sometimes emits.
func stringArg(input map[string]any, name string) string {
	switch v := input[name].(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func listQuery(input map[string]any) url.Values {
	query := url.Values{}
	if f, ok := input["filter"].(map[string]any); ok {
		if b, err := json.Marshal(f); err == nil {
			query.Set("filter", string(b))
		}
	}
	if limit := stringArg(input, "limit"); limit != "" {
		query.Set("limit", limit)
	}
	return query
}

func marshalResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(b), nil
}

// itemTools are the only tools agents are offered. The definitions mirror
// the data-API surface the guarded client exposes.
var itemTools = []llm.Tool{
	{
		Name:        cms.ToolItemsRead,
		Description: "Read a single item by key, or list items in a collection when no key is given.",
		InputSchema: map[string]any{
			"collection": map[string]any{"type": "string"},
			"key":        map[string]any{"type": []any{"string", "number"}},
			"filter":     map[string]any{"type": "object"},
			"limit":      map[string]any{"type": "number"},
		},
		Required: []string{"collection"},
	},
	{
		Name:        cms.ToolItemsCreate,
		Description: "Create a new item in a collection.",
		InputSchema: map[string]any{
			"collection": map[string]any{"type": "string"},
			"data":       map[string]any{"type": "object"},
		},
		Required: []string{"collection", "data"},
	},
	{
		Name:        cms.ToolItemsUpdate,
		Description: "Update an existing item by key.",
		InputSchema: map[string]any{
			"collection": map[string]any{"type": "string"},
			"key":        map[string]any{"type": []any{"string", "number"}},
			"data":       map[string]any{"type": "object"},
		},
		Required: []string{"collection", "key", "data"},
	},
	{
		Name:        cms.ToolItemsDelete,
		Description: "Delete an item by key.",
		InputSchema: map[string]any{
			"collection": map[string]any{"type": "string"},
			"key":        map[string]any{"type": []any{"string", "number"}},
		},
		Required: []string{"collection", "key"},
	},
}
