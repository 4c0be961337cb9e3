// Repo runner server: clones, installs and runs user repositories over a
// WebSocket channel.
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

	"github.com/ashureev/shsh-runner/internal/api"
	"github.com/ashureev/shsh-runner/internal/auth"
	"github.com/ashureev/shsh-runner/internal/autostart"
	"github.com/ashureev/shsh-runner/internal/banlist"
	"github.com/ashureev/shsh-runner/internal/channel"
	"github.com/ashureev/shsh-runner/internal/config"
	"github.com/ashureev/shsh-runner/internal/identity"
	"github.com/ashureev/shsh-runner/internal/metrics"
	"github.com/ashureev/shsh-runner/internal/middleware"
	"github.com/ashureev/shsh-runner/internal/orchestrator"
	"github.com/ashureev/shsh-runner/internal/process"
	"github.com/ashureev/shsh-runner/internal/session"
	"github.com/ashureev/shsh-runner/internal/store"
	"github.com/ashureev/shsh-runner/web"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "users_dir", cfg.UsersDir)

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

	var bans banlist.List = repo
	if cfg.BanListPath != "" {
		file, err := banlist.NewFile(cfg.BanListPath)
		if err != nil {
			slog.Error("Failed to open ban list", "path", cfg.BanListPath, "error", err)
			os.Exit(1)
		}
		bans = file
		slog.Info("Using ban list file", "path", file.Path())
	}

	if err := os.MkdirAll(cfg.UsersDir, 0o755); err != nil {
		slog.Error("Failed to create users directory", "dir", cfg.UsersDir, "error", err)
		os.Exit(1)
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	// Initialize services.
	runner := process.NewRunner(logger)
	sessions := session.NewStore(cfg.UsersDir)
	commands := orchestrator.Commands{
		Clone:   orchestrator.ParseCommand(cfg.Commands.Clone),
		Install: orchestrator.ParseCommand(cfg.Commands.Install),
		Run:     orchestrator.ParseCommand(cfg.Commands.Run),
	}
	orch := orchestrator.New(sessions, bans, runner, commands, m, logger)
	authSvc := auth.NewService(repo, cfg.BcryptCost, logger)
	conns := channel.NewConnManager()

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo, sessions, conns)
	wsHandler := channel.NewWebSocketHandler(authSvc, orch, conns, m, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS([]string{cfg.FrontendURL}, identity.ConnHeaderName))
	r.Use(identity.Middleware)

	// Public routes.
	healthHandler.RegisterHealth(r)
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	// WebSocket endpoint.
	r.Get("/ws", wsHandler.ServeHTTP)

	// Serve embedded client.
	r.Handle("/*", web.Handler())

	// Long-lived connections are cancelled through the base context on
	// shutdown; http.Server.Shutdown does not wait for hijacked sockets.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streamed output has no upper bound
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Relaunch provisioned projects.
	var starter *autostart.Starter
	autostartCtx, cancelAutostart := context.WithCancel(context.Background())
	defer cancelAutostart()
	if cfg.Autostart.Enabled {
		starter = autostart.New(runner, sessions.Root(), orchestrator.ParseCommand(cfg.Autostart.Command), m, logger)
		started, err := starter.Run(autostartCtx)
		if err != nil {
			slog.Error("Autostart failed", "error", err)
		} else {
			slog.Info("Autostart complete", "started", len(started))
		}
	}

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	cancelBase()
	conns.CloseAll()

	done := make(chan struct{})
	go func() {
		orch.Close()
		cancelAutostart()
		if starter != nil {
			starter.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		slog.Error("Timed out waiting for child processes")
	}

	slog.Info("Server stopped successfully")
}
