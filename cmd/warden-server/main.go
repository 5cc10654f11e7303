package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/shinobi-ops/warden/internal/agent"
	"github.com/shinobi-ops/warden/internal/api"
	"github.com/shinobi-ops/warden/internal/chread"
	"github.com/shinobi-ops/warden/internal/cms"
	"github.com/shinobi-ops/warden/internal/dispatch"
	"github.com/shinobi-ops/warden/internal/guard"
	"github.com/shinobi-ops/warden/internal/hook"
	"github.com/shinobi-ops/warden/internal/llm"
	"github.com/shinobi-ops/warden/internal/storage"
	"github.com/shinobi-ops/warden/internal/store"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("WARDEN_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("WARDEN_HTTP_PORT", "8080")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	cacheTTL := envOrDefaultInt("WARDEN_AUTH_CACHE_TTL_S", 30)
	retentionMin := envOrDefaultInt("WARDEN_SESSION_RETENTION_MIN", 60)
	maxAgeMin := envOrDefaultInt("WARDEN_SESSION_MAX_AGE_MIN", 30)
	idleMin := envOrDefaultInt("WARDEN_SESSION_IDLE_MIN", 10)
	rulesPath := envOrDefault("WARDEN_RULES_PATH", "rules.yaml")
	cmsURL := os.Getenv("CMS_URL")
	cmsToken := os.Getenv("CMS_TOKEN")
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	model := envOrDefault("WARDEN_MODEL", "claude-sonnet-4-20250514")
	staticKey := os.Getenv("WARDEN_STATIC_OPERATOR_KEY")

	logger.Info("starting warden server",
		zap.String("http_port", httpPort),
		zap.Int("session_retention_min", retentionMin),
		zap.Int("session_max_age_min", maxAgeMin),
		zap.Int("session_idle_min", idleMin),
	)

	// Audit sink: ClickHouse, or LogWriter fallback.
	var writer storage.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// Postgres holds operator keys, agent status, and the session archive.
	var pgStore *store.Store
	if postgresDSN != "" {
		db, err := sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		pgStore = store.NewStore(db)
		logger.Info("postgres connected")
	} else {
		if staticKey == "" {
			logger.Fatal("POSTGRES_DSN or WARDEN_STATIC_OPERATOR_KEY must be set")
		}
		logger.Info("no POSTGRES_DSN set, using static operator key and in-memory agent status")
	}

	// Session guard
	guardOpts := []guard.Option{
		guard.WithRetention(time.Duration(retentionMin) * time.Minute),
	}
	if pgStore != nil {
		guardOpts = append(guardOpts, guard.WithArchiver(pgStore))
	}
	g := guard.New(writer, logger, guardOpts...)
	checker := hook.NewChecker(g, hook.DefaultPolicy(), logger)

	// Agent registry
	var statusStore agent.StatusStore
	if pgStore != nil {
		statusStore = pgStore
	}
	registry := agent.NewRegistry(statusStore, logger)
	if err := registry.Load(context.Background()); err != nil {
		logger.Warn("failed to load persisted agent status", zap.Error(err))
	}

	// CMS client and agent runner
	if cmsURL == "" {
		logger.Fatal("CMS_URL is required")
	}
	cmsClient := cms.NewClient(cmsURL, cmsToken, logger)
	prompts := agent.NewPromptSource(cmsClient, time.Duration(envOrDefaultInt("WARDEN_PROMPT_TTL_S", 300))*time.Second, logger)

	if anthropicKey == "" {
		logger.Fatal("ANTHROPIC_API_KEY is required")
	}
	llmClient := llm.NewAnthropicClient(anthropicKey, logger)
	runner := agent.NewRunner(llmClient, cmsClient, checker, prompts, agent.RunnerConfig{
		Model:     model,
		MaxTokens: envOrDefaultInt("WARDEN_MAX_TOKENS", 4096),
		MaxTurns:  envOrDefaultInt("WARDEN_MAX_TURNS", 10),
		Timeout:   time.Duration(envOrDefaultInt("WARDEN_RUN_TIMEOUT_S", 300)) * time.Second,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)

	// Routing rules, hot-reloaded when the file is present.
	var ruleSource dispatch.RuleSource
	loader, err := dispatch.NewLoader(rulesPath, logger)
	if err != nil {
		logger.Warn("routing rules unavailable, webhook events will be unrouted",
			zap.String("path", rulesPath),
			zap.Error(err),
		)
		empty, perr := dispatch.ParseRules(nil)
		if perr != nil {
			logger.Fatal("failed to build empty rule set", zap.Error(perr))
		}
		ruleSource = staticRules{empty}
	} else {
		ruleSource = loader
		eg.Go(func() error {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("rules watcher: %w", err)
			}
			return nil
		})
	}

	dispatcher := dispatch.NewDispatcher(ruleSource, registry, g, runner, logger)

	// ClickHouse reader (for the audit HTTP endpoint)
	var chReader *chread.Reader
	if clickhouseDSN != "" {
		chReader, err = chread.NewReader(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			defer func() { _ = chReader.Close() }()
			logger.Info("clickhouse reader connected")
		}
	}

	// Scheduled jobs: session sweep + prompt refresh
	sweepCfg := guard.SweepConfig{
		MaxAge:      time.Duration(maxAgeMin) * time.Minute,
		IdleTimeout: time.Duration(idleMin) * time.Minute,
	}
	sched := cron.New()
	if _, err := sched.AddFunc("@every 1m", func() {
		if n := g.Sweep(sweepCfg); n > 0 {
			logger.Info("sweeper expired sessions", zap.Int("count", n))
		}
	}); err != nil {
		logger.Fatal("failed to schedule sweeper", zap.Error(err))
	}
	if _, err := sched.AddFunc("@every 5m", func() {
		refreshCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		prompts.Refresh(refreshCtx)
	}); err != nil {
		logger.Fatal("failed to schedule prompt refresh", zap.Error(err))
	}
	sched.Start()
	defer sched.Stop()

	// HTTP server
	deps := &api.Dependencies{
		Guard:             g,
		Checker:           checker,
		Dispatcher:        dispatcher,
		Registry:          registry,
		Store:             pgStore,
		Reader:            chReader,
		Logger:            logger,
		CacheTTL:          time.Duration(cacheTTL) * time.Second,
		StaticOperatorKey: staticKey,
	}
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	eg.Go(func() error {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
	}

	// Let in-flight agent runs finish before the audit writer closes.
	dispatcher.Wait()
	logger.Info("warden server stopped")
}

// staticRules serves a fixed rule set when no rules file is configured.
type staticRules struct{ set *dispatch.RuleSet }

func (s staticRules) Rules() *dispatch.RuleSet { return s.set }

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

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

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
