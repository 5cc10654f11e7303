package api

import (
	"net/http"

	"github.com/shinobi-ops/warden/internal/dispatch"
)

// handleWebhook takes a CMS change event and routes it. Dispatch is
// synchronous only up to session creation; the agent runs happen in the
// background, so this answers 202.
func (d *Dependencies) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var ev dispatch.Event
	if err := readJSON(r, &ev); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if ev.Event == "" || ev.Collection == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "event and collection are required"})
		return
	}

	outcomes := d.Dispatcher.Dispatch(r.Context(), ev)
	writeJSON(w, http.StatusAccepted, WebhookResponse{Outcomes: outcomes})
}
