// ABOUTME: Gateway that assembles the routing stack and runs the HTTP/WebSocket server
// ABOUTME: Owns startup wiring, session restore, the queue sweeper and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaydesk/switchboard/internal/analyzer"
	"github.com/relaydesk/switchboard/internal/auth"
	"github.com/relaydesk/switchboard/internal/classify"
	"github.com/relaydesk/switchboard/internal/config"
	"github.com/relaydesk/switchboard/internal/hub"
	"github.com/relaydesk/switchboard/internal/notify"
	"github.com/relaydesk/switchboard/internal/queue"
	"github.com/relaydesk/switchboard/internal/registry"
	"github.com/relaydesk/switchboard/internal/scorer"
	"github.com/relaydesk/switchboard/internal/store"
)

// Gateway composes the store, capacity registry, scorer, queue,
// connection hub and orchestrator behind one HTTP server.
type Gateway struct {
	config   *config.Config
	store    store.Store
	registry *registry.Registry
	hub      *hub.Hub
	queue    *queue.Queue
	sweeper  *queue.Sweeper
	orch     *Orchestrator
	notifier notify.Notifier
	verifier *auth.JWTVerifier

	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// initStore opens the SQLite store, creating parent directories for
// file-backed databases
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("SWITCHBOARD_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// buildPipeline assembles the classification stages: the LLM stage when
// configured, then the keyword analyzer as the always-available fallback
func buildPipeline(cfg *config.Config, kw *analyzer.Analyzer) *classify.Pipeline {
	var stages []classify.Stage
	if cfg.Classify.LLMEnabled {
		categories := make([]string, 0, len(analyzer.DefaultSkillTable()))
		for name := range analyzer.DefaultSkillTable() {
			categories = append(categories, name)
		}
		stages = append(stages, classify.NewLLMStage(classify.LLMConfig{
			APIKey: cfg.Classify.APIKey,
			Model:  cfg.Classify.Model,
		}, categories))
	}
	stages = append(stages, classify.NewKeywordStage(kw))
	return classify.NewPipeline(stages...)
}

// buildNotifier connects the AMQP publisher when event publishing is
// enabled, otherwise events are dropped
func buildNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	if !cfg.Notify.Enabled {
		return notify.NoopNotifier{}, nil
	}
	n, err := notify.NewAMQP(cfg.Notify.AMQPURL, cfg.Notify.Exchange)
	if err != nil {
		return nil, fmt.Errorf("connecting to AMQP: %w", err)
	}
	logger.Info("event publishing enabled", "exchange", cfg.Notify.Exchange)
	return n, nil
}

// New builds a gateway from configuration
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	reg := registry.New(s)
	table, err := analyzer.LoadSkillTable(cfg.Routing.KeywordTable)
	if err != nil {
		return nil, err
	}
	kw := analyzer.New(table)
	ctxAnalyzer := analyzer.NewContextAnalyzer(s, cfg.Routing.HistoryCacheTTL)
	sc := scorer.New(s, reg, ctxAnalyzer)
	q := queue.New(s, reg, sc, queue.Config{
		MinutesPerConversation: cfg.Queue.MinutesPerConversation,
		MaxWait:                cfg.Queue.MaxWait,
		AssignRetries:          cfg.Queue.AssignRetries,
	})
	connHub := hub.New(cfg.Server.WriteTimeout)

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	pipeline := buildPipeline(cfg, kw)
	orch := NewOrchestrator(s, reg, sc, q, connHub, pipeline, notifier, verifier, cfg.Auth.TokenLifetime)

	g := &Gateway{
		config:   cfg,
		store:    s,
		registry: reg,
		hub:      connHub,
		queue:    q,
		sweeper:  queue.NewSweeper(q, cfg.Queue.SweepInterval),
		orch:     orch,
		notifier: notifier,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.Server.AllowedOrigins),
		},
		logger: logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	mux.HandleFunc("/api/login", g.handleLogin)
	mux.HandleFunc("/api/handoff", g.handleHandoff)
	mux.HandleFunc("/api/handoff/check", g.handleHandoffCheck)
	mux.Handle("/api/logout", g.requireAuth(hub.RoleAgent, g.handleLogout))
	mux.Handle("/api/queue/status", g.requireAuth(hub.RoleAgent, g.handleQueueStatus))
	mux.Handle("/api/conversations/", g.requireAuth(hub.RoleAgent, g.handleConversationRoutes))
	mux.HandleFunc("/ws", g.handleWS)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// originChecker allows any origin when the list is empty or contains
// "*", otherwise only exact matches
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = true
	}
	return func(r *http.Request) bool {
		return set[r.Header.Get("Origin")]
	}
}

// restoreSessions reloads live agent sessions after a restart so queued
// work can flow again without every agent logging back in
func (g *Gateway) restoreSessions(ctx context.Context) {
	tenants, err := g.store.ListTenantsWithWaiting(ctx)
	if err != nil {
		g.logger.Warn("session restore scan failed", "error", err)
		return
	}
	for _, tenantID := range tenants {
		if err := g.registry.Restore(ctx, tenantID); err != nil {
			g.logger.Warn("session restore failed", "tenant_id", tenantID, "error", err)
			continue
		}
		g.orch.DrainQueue(ctx, tenantID)
	}
}

// Run starts the server and blocks until the context is canceled or the
// server fails. Shutdown is graceful within the configured timeout.
func (g *Gateway) Run(ctx context.Context) error {
	g.restoreSessions(ctx)
	go g.sweeper.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("shutdown signal received")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.shutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// shutdown stops the HTTP server and closes the notifier and store.
// Uses a fresh context since the run context is already canceled.
func (g *Gateway) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := g.notifier.Close(); err != nil {
		errs = append(errs, fmt.Errorf("notifier close: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	g.logger.Info("shutdown complete")
	return nil
}

// handleHealth returns 200 OK if the server is alive
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers queries
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.ListTenantsWithWaiting(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
