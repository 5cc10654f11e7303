package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/shinobi-ops/warden/internal/guard"
)

func (d *Dependencies) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.AgentType == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "agent_type is required"})
		return
	}
	if !d.Registry.Known(req.AgentType) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Unknown agent type"})
		return
	}
	if !d.Registry.Enabled(req.AgentType) {
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "Agent type is disabled"})
		return
	}

	sessionID, err := d.Guard.StartSession(req.AgentType, req.RecordIDs)
	if err != nil {
		if errors.Is(err, guard.ErrNoRecords) {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "record_ids must not be empty"})
			return
		}
		d.Logger.Error("session start failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to start session"})
		return
	}

	op := operatorFromContext(r.Context())
	d.Logger.Info("session started by operator",
		zap.String("session_id", sessionID),
		zap.String("agent_type", req.AgentType),
		zap.String("operator", op.Name),
	)

	var created guard.SessionInfo
	for _, s := range d.Guard.ListActiveSessions() {
		if s.SessionID == sessionID {
			created = s
			break
		}
	}
	writeJSON(w, http.StatusCreated, StartSessionResponse{
		SessionID:   sessionID,
		AgentType:   req.AgentType,
		RecordCount: len(d.Guard.RecordIDs(sessionID)),
		CreatedAt:   created.CreatedAt,
	})
}

func (d *Dependencies) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := d.Guard.ListActiveSessions()
	writeJSON(w, http.StatusOK, SessionListResponse{
		Sessions: sessions,
		Total:    len(sessions),
	})
}

func (d *Dependencies) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	summary := d.Guard.EndSession(sessionID)
	writeJSON(w, http.StatusOK, EndSessionResponse{
		Ended:   summary != nil,
		Summary: summaryResp(summary),
	})
}

func (d *Dependencies) handleForceEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	op := operatorFromContext(r.Context())

	summary := d.Guard.ForceEndSession(sessionID)
	if summary != nil {
		d.Logger.Warn("session force-ended by operator",
			zap.String("session_id", sessionID),
			zap.String("operator", op.Name),
			zap.String("agent_type", summary.AgentType),
		)
	}
	writeJSON(w, http.StatusOK, EndSessionResponse{
		Ended:   summary != nil,
		Summary: summaryResp(summary),
	})
}
