package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/shinobi-ops/warden/internal/chread"
)

func (d *Dependencies) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	q := r.URL.Query()
	params := chread.ListEventsParams{
		Page:     queryInt(q, "page", 1),
		PageSize: queryInt(q, "page_size", 50),
	}
	if params.PageSize > 200 {
		params.PageSize = 200
	}
	if params.Page < 1 {
		params.Page = 1
	}

	if v := q.Get("session_id"); v != "" {
		params.SessionID = &v
	}
	if v := q.Get("agent_type"); v != "" {
		params.AgentType = &v
	}
	if v := q.Get("reason"); v != "" {
		params.Reason = &v
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.StartTime = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.EndTime = &t
		}
	}

	events, total, err := d.Reader.ListEvents(r.Context(), params)
	if err != nil {
		d.Logger.Error("failed to list audit events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list audit events"})
		return
	}

	resp := AuditListResponse{
		Events:   make([]AuditEventResp, 0, len(events)),
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	}
	for _, e := range events {
		resp.Events = append(resp.Events, AuditEventResp{
			EventID:      e.EventID,
			SessionID:    e.SessionID,
			AgentType:    e.AgentType,
			ToolName:     e.ToolName,
			RecordID:     e.RecordID,
			Reason:       e.Reason,
			Detail:       e.Detail,
			Timestamp:    e.Timestamp,
			OperatorInit: e.OperatorInit == 1,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func queryInt(q url.Values, key string, def int) int {
	v := q.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
