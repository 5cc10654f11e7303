// warden-mcp-proxy exposes the CMS item tools over MCP stdio for a single
// agent session. Every tool call is validated against the warden server
// before it reaches the CMS, so an agent wired to this proxy instead of a
// raw CMS server cannot step outside its session's record scope.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/shinobi-ops/warden/internal/cms"
	"github.com/shinobi-ops/warden/internal/hook"
	"github.com/shinobi-ops/warden/internal/mcpproxy"
)

func main() {
	// stderr only: stdout belongs to the MCP transport
	logger := mustBuildLogger()
	defer logger.Sync() //nolint:errcheck // best-effort flush

	sessionID := os.Getenv("WARDEN_SESSION_ID")
	validateURL := envOrDefault("WARDEN_VALIDATE_URL", "http://localhost:8080/v1/hook/validate")
	cmsURL := os.Getenv("CMS_URL")
	cmsToken := os.Getenv("CMS_TOKEN")

	if sessionID == "" {
		fmt.Fprintln(os.Stderr, "WARDEN_SESSION_ID is required")
		os.Exit(1)
	}
	if cmsURL == "" {
		fmt.Fprintln(os.Stderr, "CMS_URL is required")
		os.Exit(1)
	}

	checker := hook.NewRemoteChecker(validateURL, logger)
	client := cms.NewClient(cmsURL, cmsToken, logger)
	guarded := cms.NewGuardedClient(client, checker, sessionID)

	s := mcpproxy.New(guarded, logger)
	logger.Info("mcp proxy serving stdio",
		zap.String("session_id", sessionID),
		zap.String("validate_url", validateURL),
	)
	if err := mcpproxy.ServeStdio(s); err != nil {
		logger.Error("mcp proxy stopped", zap.Error(err))
		os.Exit(1)
	}
}

func mustBuildLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
