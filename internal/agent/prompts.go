package agent

import (
	"context"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// promptReader is the slice of the data API the prompt source needs. Prompts
// are read with the service token, not through a session, so this takes the
// raw client.
type promptReader interface {
	ListItems(ctx context.Context, collection string, query url.Values) ([]map[string]any, error)
}

const promptCollection = "service_prompts"

// fallbackPrompts keep agents runnable when the CMS is unreachable or a type
// has no published prompt yet.
var fallbackPrompts = map[string]string{
	TypeComms:          "You are the communications agent. Handle the client correspondence described in the task using only the tools provided.",
	TypeLead:           "You are the lead intake agent. Qualify and process the lead described in the task using only the tools provided.",
	TypeTracker:        "You are the project tracker agent. Update project state as described in the task using only the tools provided.",
	TypeFinance:        "You are the finance agent. Process the billing records described in the task using only the tools provided.",
	TypeMarketing:      "You are the marketing agent. Carry out the campaign work described in the task using only the tools provided.",
	TypeClientServices: "You are the client services agent. Resolve the client request described in the task using only the tools provided.",
}

type cachedPrompt struct {
	text      string
	fetchedAt time.Time
}

// PromptSource serves per-agent-type system prompts from the CMS with a TTL
// cache and static fallbacks.
type PromptSource struct {
	reader promptReader
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]cachedPrompt
}

const defaultPromptTTL = 5 * time.Minute

// NewPromptSource creates a source over the given reader. ttl <= 0 selects
// the default.
func NewPromptSource(reader promptReader, ttl time.Duration, logger *zap.Logger) *PromptSource {
	if ttl <= 0 {
		ttl = defaultPromptTTL
	}
	return &PromptSource{
		reader: reader,
		ttl:    ttl,
		logger: logger,
		cache:  make(map[string]cachedPrompt),
	}
}

// Prompt returns the system prompt for agentType. CMS failures fall back to
// the last cached value, then to the static default.
func (p *PromptSource) Prompt(ctx context.Context, agentType string) string {
	p.mu.RLock()
	cached, ok := p.cache[agentType]
	p.mu.RUnlock()
	if ok && time.Since(cached.fetchedAt) < p.ttl {
		return cached.text
	}

	text, err := p.fetch(ctx, agentType)
	if err != nil {
		p.logger.Warn("prompt fetch failed, using fallback",
			zap.String("agent_type", agentType),
			zap.Error(err))
		if ok {
			return cached.text
		}
		return fallbackPrompts[agentType]
	}

	p.mu.Lock()
	p.cache[agentType] = cachedPrompt{text: text, fetchedAt: time.Now()}
	p.mu.Unlock()
	return text
}

// Refresh re-fetches prompts for every known agent type, replacing cache
// entries that fetch successfully.
func (p *PromptSource) Refresh(ctx context.Context) {
	for _, agentType := range KnownTypes {
		text, err := p.fetch(ctx, agentType)
		if err != nil {
			p.logger.Warn("prompt refresh failed",
				zap.String("agent_type", agentType),
				zap.Error(err))
			continue
		}
		p.mu.Lock()
		p.cache[agentType] = cachedPrompt{text: text, fetchedAt: time.Now()}
		p.mu.Unlock()
	}
}

func (p *PromptSource) fetch(ctx context.Context, agentType string) (string, error) {
	query := url.Values{}
	query.Set("filter[agent_type][_eq]", agentType)
	query.Set("filter[status][_eq]", "published")
	query.Set("limit", "1")

	items, err := p.reader.ListItems(ctx, promptCollection, query)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return fallbackPrompts[agentType], nil
	}
	text, _ := items[0]["prompt"].(string)
	if text == "" {
		return fallbackPrompts[agentType], nil
	}
	return text, nil
}
