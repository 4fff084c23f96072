// Nexus - development agent server for the nexus-chat client.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/nexus-chat/internal/agent"
	"github.com/ashureev/nexus-chat/internal/api"
	"github.com/ashureev/nexus-chat/internal/config"
	"github.com/ashureev/nexus-chat/internal/identity"
	"github.com/ashureev/nexus-chat/internal/middleware"
	"github.com/ashureev/nexus-chat/internal/probe"
	"github.com/ashureev/nexus-chat/internal/store"
	"github.com/ashureev/nexus-chat/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	models, err := config.LoadModels(cfg.ModelsFile)
	if err != nil {
		slog.Error("Failed to load model catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("Model catalog loaded", "models", len(models))

	// Initialize the scripted agent.
	agentCfg := agent.DefaultConfig()
	agentCfg.TypingSpeed = cfg.Agent.TypingSpeed
	agentCfg.ThinkPause = cfg.Agent.ThinkPause
	svc, err := agent.NewServiceWithProcessor(agent.NewScriptedProcessor(agentCfg, logger))
	if err != nil {
		slog.Error("Failed to initialize agent service", "error", err)
		os.Exit(1)
	}

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}

	hub := agent.NewHub(logger)
	chatHandler := agent.NewHandler(svc, repo, hub, conversationLogger, agent.HandlerConfig{
		RateLimitRequests: cfg.RateLimit.Requests,
		RateLimitWindow:   cfg.RateLimit.Window,
		OriginPatterns:    cfg.AllowedOrigins(),
	}, logger)
	defer chatHandler.Close()

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, hub, models, logger)
	healthHandler := api.NewHealthHandler(repo, hub)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, identity.StaticTokens(cfg.DevTokens)))
		apiHandler.RegisterRoutes(r)
		chatHandler.RegisterRoutes(r)
	})

	// Landing page.
	r.Handle("/*", web.Handler())

	// Chat sockets are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start gRPC health server.
	healthLis, err := net.Listen("tcp", ":"+cfg.GRPCHealthPort)
	if err != nil {
		slog.Error("Failed to listen for gRPC health", "error", err, "port", cfg.GRPCHealthPort)
		os.Exit(1)
	}
	healthSrv := probe.NewServer(repo, 10*time.Second, logger)
	go healthSrv.Run(ctx)
	go func() {
		if err := healthSrv.Serve(healthLis); err != nil {
			slog.Error("gRPC health server failed", "error", err)
		}
	}()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	healthSrv.Stop()
	// Hijacked chat sockets are not tracked by Shutdown.
	hub.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
