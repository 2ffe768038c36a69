package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/deckworks/deckd/internal/api/http"
	"github.com/deckworks/deckd/internal/api/middleware"
	"github.com/deckworks/deckd/internal/api/ws"
	"github.com/deckworks/deckd/internal/domain/agent"
	"github.com/deckworks/deckd/internal/domain/guard"
	"github.com/deckworks/deckd/internal/domain/terminal"
	"github.com/deckworks/deckd/internal/domain/workspace"
	"github.com/deckworks/deckd/internal/infrastructure/auth"
	"github.com/deckworks/deckd/internal/infrastructure/config"
	"github.com/deckworks/deckd/internal/infrastructure/logging"
	"github.com/deckworks/deckd/internal/infrastructure/monitoring"
	"github.com/deckworks/deckd/internal/infrastructure/notify"
	"github.com/deckworks/deckd/internal/infrastructure/persistence"
	"github.com/deckworks/deckd/internal/infrastructure/tracing"
	"github.com/deckworks/deckd/internal/providers"
	"github.com/deckworks/deckd/internal/providers/claude"
	"github.com/deckworks/deckd/internal/providers/codex"
)

// Server wires the daemon together: domain registries, persistence,
// gateways, and the HTTP router.
type Server struct {
	router    *gin.Engine
	terminals *terminal.Registry
	engine    *agent.Engine
	store     persistence.Store
	tracer    *tracing.Tracer
	logger    *logging.Logger
	config    *config.Config
	metrics   *monitoring.Metrics
	sweepStop context.CancelFunc
}

// NewServer builds a server from configuration. The overlay carries the
// structured settings the environment cannot express; pass nil to run on
// environment values alone.
func NewServer(cfg *config.Config, overlay *config.File) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		l, err := logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			OutputPaths: []string{"stdout"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
		logger = l
	}

	logger.Info("Initializing deckd",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("deckd", logger)

	verifier, err := auth.FromToken(cfg.Auth.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to build auth verifier: %w", err)
	}
	if cfg.Auth.Token == "" {
		logger.Warn("AUTH_TOKEN is empty, authentication disabled")
	}

	workspaces, err := workspace.New(workspaceSpecs(cfg, overlay), overlayIgnore(overlay), logger)
	if err != nil {
		return nil, err
	}
	for _, root := range workspaces.ListRegistered() {
		logger.Info("Workspace root registered",
			zap.String("id", root.ID),
			zap.String("path", root.Path))
	}

	persist, err := persistence.New(cfg.Store.Driver, cfg.Store.Path, logger)
	if err != nil {
		return nil, err
	}

	agentCfg := agent.Config{
		MaxConcurrent:   cfg.Agent.MaxConcurrent,
		DefaultMaxCost:  cfg.Agent.DefaultMaxCost,
		MaxPromptChars:  cfg.Agent.MaxPromptChars,
		MaxMessages:     cfg.Agent.MaxMessages,
		CheckpointEvery: cfg.Agent.CheckpointEvery,
		TTL:             cfg.Agent.TTL,
		EvictInterval:   cfg.Agent.EvictInterval,
	}
	store := agent.NewStore(agentCfg, persist, workspaces, logger)

	// Sessions that look live in storage after a restart are stale by
	// definition; mark them aborted before anything can subscribe.
	reconcileCtx, cancelReconcile := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelReconcile()
	stale, err := store.Reconcile(reconcileCtx)
	if err != nil {
		persist.Close()
		return nil, fmt.Errorf("failed to reconcile persisted sessions: %w", err)
	}
	if stale > 0 {
		logger.Info("Reconciled stale sessions", zap.Int("count", stale))
	}

	var notifiers []notify.Notifier
	if cfg.Notify.SlackToken != "" && cfg.Notify.SlackChannel != "" {
		notifiers = append(notifiers, notify.NewSlack(cfg.Notify.SlackToken, cfg.Notify.SlackChannel, logger))
	}
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.Notify.WebhookURL, logger))
	}
	notifier := notify.NewManager(logger, notifiers...)

	registry := providers.NewRegistry(
		claude.New(cfg.Agent.ClaudeBin, logger),
		codex.New(cfg.Agent.CodexBin, logger),
	)
	logger.Info("Agent providers registered", zap.Strings("providers", registry.Names()))

	bcast := agent.NewBroadcaster(0, logger).WithMetrics(metrics)
	engine := agent.NewEngine(agentCfg, store, bcast, registry, logger).WithMetrics(metrics)
	if notifier.Enabled() {
		engine = engine.WithNotifier(notifier)
		logger.Info("Run notifications enabled", zap.Int("targets", len(notifiers)))
	}

	terminals := terminal.NewRegistry(terminal.Config{
		Shell:         cfg.Terminal.Shell,
		BufferSize:    cfg.Terminal.BufferSize,
		IdleTimeout:   cfg.Terminal.IdleTimeout,
		SweepInterval: cfg.Terminal.SweepInterval,
	}, workspaces, logger).WithMetrics(metrics)

	connGuard := guard.New(cfg.Terminal.MaxConnsPerIP)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.Middleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(cfg.CORS.Origins))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))
	}

	handlers := apihttp.NewHandlers(terminals, engine, workspaces, metrics, logger)
	terminalGateway := ws.NewTerminalGateway(terminals, connGuard, verifier, metrics, logger, ws.Config{
		MaxMessageBytes: cfg.Terminal.MaxMessageSize,
		RateWindow:      cfg.Terminal.RateWindow,
		RateMax:         cfg.Terminal.RateMax,
	})
	agentGateway := ws.NewAgentGateway(engine, verifier, metrics, logger)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	// Control plane. Auth applies here; the gateways run their own check
	// so rejected sockets get a close code instead of a failed handshake.
	api := router.Group("/api", middleware.Auth(verifier))

	// Terminals
	api.POST("/terminals", handlers.CreateTerminal)
	api.GET("/terminals", handlers.ListTerminals)
	api.GET("/terminals/:id", handlers.GetTerminal)
	api.DELETE("/terminals/:id", handlers.DeleteTerminal)
	api.POST("/terminals/:id/input", handlers.TerminalInput)
	api.POST("/terminals/:id/resize", handlers.ResizeTerminal)
	api.GET("/terminals/:id/buffer", handlers.TerminalBuffer)

	// Agents
	api.POST("/agents", handlers.CreateAgent)
	api.GET("/agents", handlers.ListAgents)
	api.GET("/agents/:id", handlers.GetAgent)
	api.DELETE("/agents/:id", handlers.DeleteAgent)

	// Workspaces
	api.GET("/workspaces", handlers.ListWorkspaces)
	api.GET("/workspaces/:id/projects", handlers.ListProjects)

	// Metrics: Prometheus text at the root, JSON snapshot behind auth
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	api.GET("/metrics", handlers.Stats)

	// WebSocket gateways
	router.GET("/ws/terminals/:id", terminalGateway.HandleTerminal)
	router.GET("/ws/agents/:id", agentGateway.HandleAgent)

	// Background sweepers: terminal idle disposal and agent TTL eviction.
	sweepCtx, sweepStop := context.WithCancel(context.Background())
	go terminals.RunSweeper(sweepCtx)
	go store.RunSweeper(sweepCtx)

	logger.Info("Server initialized")

	return &Server{
		router:    router,
		terminals: terminals,
		engine:    engine,
		store:     persist,
		tracer:    tracer,
		logger:    logger,
		config:    cfg,
		metrics:   metrics,
		sweepStop: sweepStop,
	}, nil
}

// Run starts the HTTP server and blocks until it fails.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close shuts the daemon down: sweepers first, then live runs and
// terminals, then the persistence backend.
func (s *Server) Close() error {
	s.logger.Info("Shutting down...")
	s.sweepStop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.engine.Shutdown(ctx); err != nil {
		s.logger.Warn("Agent engine shutdown incomplete", zap.Error(err))
	}
	s.terminals.Shutdown()

	if err := s.store.Close(); err != nil {
		s.logger.Warn("Store close failed", zap.Error(err))
	}
	s.tracer.Close()
	s.logger.Sync()
	return nil
}

// workspaceSpecs builds root specs, preferring the overlay's explicit ids
// over the bare env paths.
func workspaceSpecs(cfg *config.Config, overlay *config.File) []workspace.Spec {
	if overlay != nil && len(overlay.Workspaces) > 0 {
		specs := make([]workspace.Spec, 0, len(overlay.Workspaces))
		for _, w := range overlay.Workspaces {
			specs = append(specs, workspace.Spec{ID: w.ID, Path: w.Path})
		}
		return specs
	}
	specs := make([]workspace.Spec, 0, len(cfg.Workspace.Roots))
	for _, path := range cfg.Workspace.Roots {
		specs = append(specs, workspace.Spec{Path: path})
	}
	return specs
}

func overlayIgnore(overlay *config.File) []string {
	if overlay == nil {
		return nil
	}
	return overlay.Ignore
}
