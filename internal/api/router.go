// Package api is the HTTP surface: hook validation for agent tooling,
// session lifecycle and administrative endpoints for operators.
package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shinobi-ops/warden/internal/agent"
	"github.com/shinobi-ops/warden/internal/chread"
	"github.com/shinobi-ops/warden/internal/dispatch"
	"github.com/shinobi-ops/warden/internal/guard"
	"github.com/shinobi-ops/warden/internal/hook"
	"github.com/shinobi-ops/warden/internal/store"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Guard      *guard.Guard
	Checker    *hook.Checker
	Dispatcher *dispatch.Dispatcher
	Registry   *agent.Registry
	Store      *store.Store   // nil if Postgres unavailable
	Reader     *chread.Reader // nil if ClickHouse unavailable
	Logger     *zap.Logger
	CacheTTL   time.Duration

	// StaticOperatorKey authenticates operators when no Postgres store is
	// configured. Ignored when Store is set.
	StaticOperatorKey string
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Hook validation (agent-facing, no operator auth)
	mux.HandleFunc("POST /v1/hook/validate", deps.handleValidate)

	// Session lifecycle (operator auth via Bearer wsk_ token)
	auth := deps.authMiddleware
	mux.HandleFunc("POST /v1/sessions", auth(deps.handleStartSession))
	mux.HandleFunc("GET /v1/sessions", auth(deps.handleListSessions))
	mux.HandleFunc("POST /v1/sessions/{session_id}/end", auth(deps.handleEndSession))
	mux.HandleFunc("POST /v1/sessions/{session_id}/force-end", auth(deps.handleForceEndSession))

	// CMS change-event intake
	mux.HandleFunc("POST /v1/webhook", auth(deps.handleWebhook))

	// Agent registry control
	mux.HandleFunc("GET /v1/agents", auth(deps.handleListAgents))
	mux.HandleFunc("POST /v1/agents/{agent_type}/enable", auth(deps.handleSetAgent(true)))
	mux.HandleFunc("POST /v1/agents/{agent_type}/disable", auth(deps.handleSetAgent(false)))
	mux.HandleFunc("POST /v1/agents/enable-all", auth(deps.handleSetAllAgents(true)))
	mux.HandleFunc("POST /v1/agents/disable-all", auth(deps.handleSetAllAgents(false)))

	// Audit trail
	mux.HandleFunc("GET /v1/audit", auth(deps.handleListAudit))

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
