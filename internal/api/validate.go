package api

import (
	"net/http"

	"github.com/shinobi-ops/warden/internal/hook"
	"github.com/shinobi-ops/warden/internal/storage"
)

// handleValidate decides one tool call for an out-of-process hook. The
// endpoint always answers 200 with a decision; anything unparseable is a
// blocked decision, never an allow.
func (d *Dependencies) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusOK, blockedResponse(storage.ReasonMalformedRequest))
		return
	}
	if req.SessionID == "" || req.ToolName == "" {
		writeJSON(w, http.StatusOK, blockedResponse(storage.ReasonMalformedRequest))
		return
	}

	dec := d.Checker.Check(req.SessionID, req.ToolName, req.ToolInput)
	resp := ValidateResponse{Allowed: dec.Allowed}
	if !dec.Allowed {
		resp.Reason = dec.Reason
		resp.Message = hook.RejectionMessage(dec)
	}
	writeJSON(w, http.StatusOK, resp)
}

func blockedResponse(reason string) ValidateResponse {
	return ValidateResponse{
		Allowed: false,
		Reason:  reason,
		Message: "action not authorized for this session (malformed request)",
	}
}
