// Omaha agent chat gateway server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/omahaaigc/agent-chat/internal/agent"
	"github.com/omahaaigc/agent-chat/internal/api"
	"github.com/omahaaigc/agent-chat/internal/chat"
	"github.com/omahaaigc/agent-chat/internal/config"
	"github.com/omahaaigc/agent-chat/internal/live"
	"github.com/omahaaigc/agent-chat/internal/markdown"
	"github.com/omahaaigc/agent-chat/internal/middleware"
	"github.com/omahaaigc/agent-chat/internal/prompt"
	"github.com/omahaaigc/agent-chat/internal/stock"
	"github.com/omahaaigc/agent-chat/internal/store"
	"github.com/omahaaigc/agent-chat/internal/stream"
	"github.com/omahaaigc/agent-chat/internal/upstream"
	"github.com/omahaaigc/agent-chat/web"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "upstream", cfg.Upstream.BaseURL)

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
	slog.Info("Database connected", "path", cfg.DBPath)

	prompts, err := prompt.Load()
	if err != nil {
		slog.Error("Failed to load prompt templates", "error", err)
		os.Exit(1)
	}

	conversationLogger, err := chat.NewConversationLogger(cfg.ConversationLog, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	client := upstream.New(cfg.Upstream.BaseURL, cfg.Upstream.Timeout)
	renderer := markdown.New(markdown.Options{
		Sanitize:  cfg.Markdown.Sanitize,
		CodeStyle: cfg.Markdown.CodeStyle,
	})
	agents := agent.NewService(client, renderer)
	searcher := stock.NewSearcher(client, cfg.Search.CacheTTL)
	defer searcher.Close()
	broker := stream.NewBroker(cfg.SSE.ReplayBufferSize)

	ctrl := chat.NewController(repo, client, agents, renderer, broker, conversationLogger, chat.Options{
		Poll:             cfg.Poll,
		Retry:            cfg.Retry,
		StoreTimeout:     cfg.Timeout.StoreWrite,
		TypingSimulation: cfg.Markdown.TypingSimulation,
	})
	defer ctrl.Close()

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	sm := live.NewSessionManager()

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo, cfg)
	proxyHandler := api.NewProxyHandler(client, prompts, cfg)
	uploadHandler := api.NewUploadHandler(client, cfg)
	agentHandler := api.NewAgentHandler(agents, uploadHandler, ctrl)
	stockHandler := api.NewStockHandler(searcher)
	markdownHandler := api.NewMarkdownHandler(renderer)
	chatHandler := api.NewChatHandler(ctrl, broker, limiter, cfg)
	wsHandler := live.NewHandler(ctrl, broker, searcher.Search, sm, live.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Debounce:       cfg.Search.Debounce,
		Limiter:        limiter,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	healthHandler.RegisterHealth(r)
	proxyHandler.RegisterRoutes(r)
	uploadHandler.RegisterRoutes(r)
	agentHandler.RegisterRoutes(r)
	stockHandler.RegisterRoutes(r)
	markdownHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// SSE and websocket connections are long lived, so there is no
	// WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper, err := chat.StartSweeper(ctx, ctrl, cfg.SessionTTL, cfg.SweepSchedule, sm.CloseSession)
	if err != nil {
		slog.Error("Failed to start session sweeper", "error", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
}
