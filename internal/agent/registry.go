// Package agent runs scoped agent sessions: each run gets a session-bound
// data client and a model loop, and the registry gates which agent types may
// be dispatched at all.
package agent

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Agent types the dispatcher knows how to run.
const (
	TypeComms          = "comms"
	TypeLead           = "lead"
	TypeTracker        = "tracker"
	TypeFinance        = "finance"
	TypeMarketing      = "marketing"
	TypeClientServices = "client_services"
)

// KnownTypes lists every dispatchable agent type.
var KnownTypes = []string{
	TypeComms,
	TypeLead,
	TypeTracker,
	TypeFinance,
	TypeMarketing,
	TypeClientServices,
}

// ErrUnknownAgent is returned for agent types outside KnownTypes.
var ErrUnknownAgent = fmt.Errorf("agent: unknown agent type")

// StatusStore persists enable/disable flags across restarts.
type StatusStore interface {
	LoadAgentStatus(ctx context.Context) (map[string]bool, error)
	SaveAgentStatus(ctx context.Context, agentType string, enabled bool) error
}

// Registry tracks which agent types are currently enabled. All known types
// start enabled; a disabled type stays disabled until an operator re-enables
// it.
type Registry struct {
	mu      sync.RWMutex
	enabled map[string]bool
	store   StatusStore
	logger  *zap.Logger
}

// NewRegistry creates a registry with every known type enabled. store may be
// nil, in which case flags live in memory only.
func NewRegistry(store StatusStore, logger *zap.Logger) *Registry {
	enabled := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		enabled[t] = true
	}
	return &Registry{enabled: enabled, store: store, logger: logger}
}

// Load overlays persisted flags on top of the defaults.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	persisted, err := r.store.LoadAgentStatus(ctx)
	if err != nil {
		return fmt.Errorf("Registry.Load: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for agentType, on := range persisted {
		if _, known := r.enabled[agentType]; !known {
			r.logger.Warn("ignoring persisted status for unknown agent type",
				zap.String("agent_type", agentType))
			continue
		}
		r.enabled[agentType] = on
	}
	return nil
}

// Known reports whether agentType is a dispatchable type at all.
func (r *Registry) Known(agentType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.enabled[agentType]
	return ok
}

// Enabled reports whether agentType may currently be dispatched. Unknown
// types are never enabled.
func (r *Registry) Enabled(agentType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[agentType]
}

// SetEnabled flips the flag for agentType and persists it when a store is
// configured.
func (r *Registry) SetEnabled(ctx context.Context, agentType string, enabled bool) error {
	r.mu.Lock()
	if _, known := r.enabled[agentType]; !known {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownAgent, agentType)
	}
	r.enabled[agentType] = enabled
	r.mu.Unlock()

	r.logger.Info("agent status changed",
		zap.String("agent_type", agentType),
		zap.Bool("enabled", enabled))

	if r.store != nil {
		if err := r.store.SaveAgentStatus(ctx, agentType, enabled); err != nil {
			return fmt.Errorf("Registry.SetEnabled: %w", err)
		}
	}
	return nil
}

// Statuses returns a snapshot of every known type's flag.
func (r *Registry) Statuses() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.enabled))
	for t, on := range r.enabled {
		out[t] = on
	}
	return out
}
