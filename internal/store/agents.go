package store

import (
	"context"
	"fmt"
	"time"
)

// AgentStatus represents a row in the agent_status table. Disabled agents
// reject all incoming tasks; the flag survives restarts.
type AgentStatus struct {
	AgentType string
	Enabled   bool
	UpdatedAt time.Time
}

// LoadAgentStatus returns the persisted enabled/disabled flag for every
// known agent type.
func (s *Store) LoadAgentStatus(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_type, enabled FROM agent_status`)
	if err != nil {
		return nil, fmt.Errorf("LoadAgentStatus: %w", err)
	}
	defer rows.Close()

	status := make(map[string]bool)
	for rows.Next() {
		var agentType string
		var enabled bool
		if err := rows.Scan(&agentType, &enabled); err != nil {
			return nil, fmt.Errorf("LoadAgentStatus: %w", err)
		}
		status[agentType] = enabled
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("LoadAgentStatus: %w", err)
	}
	return status, nil
}

// SaveAgentStatus upserts one agent's enabled flag.
func (s *Store) SaveAgentStatus(ctx context.Context, agentType string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_status (agent_type, enabled, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (agent_type)
		DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = now()`,
		agentType, enabled,
	)
	if err != nil {
		return fmt.Errorf("SaveAgentStatus: %w", err)
	}
	return nil
}
