// repo-butler - guided repository-creation bot
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

	"github.com/ashureev/repo-butler/internal/api"
	"github.com/ashureev/repo-butler/internal/config"
	"github.com/ashureev/repo-butler/internal/github"
	"github.com/ashureev/repo-butler/internal/middleware"
	"github.com/ashureev/repo-butler/internal/store"
	"github.com/ashureev/repo-butler/internal/teams"
	"github.com/ashureev/repo-butler/internal/telegram"
	"github.com/ashureev/repo-butler/internal/wizard"
)

const serviceName = "repo-butler"

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

	slog.Info("Starting bot", "org", cfg.Organization, "allowed_chat_id", cfg.AllowedChatID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	provisioner := github.New(ctx, cfg.GitHubToken, cfg.Organization, cfg.Teams)

	teamCache := teams.NewCache(provisioner, cfg.Teams)
	if err := teamCache.Refresh(ctx); err != nil {
		slog.Error("Initial team list fetch failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Team list loaded", "count", teamCache.Len())
	teams.StartUpdater(ctx, teamCache, cfg.TeamRefreshInterval)

	bot, err := telegram.New(cfg.BotToken)
	if err != nil {
		slog.Error("Failed to connect to Telegram", "error", err)
		os.Exit(1)
	}

	coordinator := wizard.New(cfg, bot, provisioner, teamCache, repo)
	bot.SetCoordinator(coordinator)

	// Setup ops router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(chiMiddleware.Heartbeat("/health"))

	opsHandler := api.NewHandler(repo, coordinator, serviceName)
	opsHandler.Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Ops server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Ops server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Start the bot update loop.
	go bot.Run(ctx)

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Ops server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Bot stopped successfully")
}
