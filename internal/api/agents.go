package api

import (
	"errors"
	"net/http"
	"sort"

	"go.uber.org/zap"

	"github.com/shinobi-ops/warden/internal/agent"
)

func (d *Dependencies) handleListAgents(w http.ResponseWriter, r *http.Request) {
	statuses := d.Registry.Statuses()
	resp := AgentListResponse{Agents: make([]AgentStatusResp, 0, len(statuses))}
	for agentType, enabled := range statuses {
		resp.Agents = append(resp.Agents, AgentStatusResp{AgentType: agentType, Enabled: enabled})
	}
	sort.Slice(resp.Agents, func(i, j int) bool {
		return resp.Agents[i].AgentType < resp.Agents[j].AgentType
	})
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleSetAgent(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentType := r.PathValue("agent_type")
		if err := d.Registry.SetEnabled(r.Context(), agentType, enabled); err != nil {
			if errors.Is(err, agent.ErrUnknownAgent) {
				writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Unknown agent type"})
				return
			}
			d.Logger.Error("agent status update failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update agent status"})
			return
		}

		op := operatorFromContext(r.Context())
		d.Logger.Info("agent status set by operator",
			zap.String("agent_type", agentType),
			zap.Bool("enabled", enabled),
			zap.String("operator", op.Name),
		)
		writeJSON(w, http.StatusOK, AgentStatusResp{AgentType: agentType, Enabled: enabled})
	}
}

func (d *Dependencies) handleSetAllAgents(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, agentType := range agent.KnownTypes {
			if err := d.Registry.SetEnabled(r.Context(), agentType, enabled); err != nil {
				d.Logger.Error("agent status update failed",
					zap.String("agent_type", agentType),
					zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update agent status"})
				return
			}
		}
		op := operatorFromContext(r.Context())
		d.Logger.Info("all agents set by operator",
			zap.Bool("enabled", enabled),
			zap.String("operator", op.Name),
		)
		d.handleListAgents(w, r)
	}
}
