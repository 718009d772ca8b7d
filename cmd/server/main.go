// Course lab server: sandboxed lab terminal, code runner and progress store.
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

	"github.com/ashureev/courselab/internal/api"
	"github.com/ashureev/courselab/internal/config"
	"github.com/ashureev/courselab/internal/identity"
	"github.com/ashureev/courselab/internal/lab"
	"github.com/ashureev/courselab/internal/middleware"
	"github.com/ashureev/courselab/internal/progress"
	"github.com/ashureev/courselab/internal/runner"
	"github.com/ashureev/courselab/internal/store"
	"github.com/ashureev/courselab/internal/terminal"
	"github.com/ashureev/courselab/web"
)

// remoteTimeout bounds each call to the session store.
const remoteTimeout = 15 * time.Second

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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "sandbox_root", cfg.Sandbox.Root)

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

	codeRunner := newRunner(cfg, logger)
	if closer, ok := codeRunner.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				slog.Warn("Failed to close runner", "error", err)
			}
		}()
	}

	var remote progress.RemoteStore
	if cfg.RemoteEnabled() {
		remote = progress.NewHTTPRemoteStore(cfg.Progress.SessionBaseURL, cfg.Progress.SessionSaveURL, cfg.Progress.APIToken, remoteTimeout)
		slog.Info("Remote progress store enabled", "base_url", cfg.Progress.SessionBaseURL)
	} else {
		slog.Info("Remote progress store disabled (SESSION_BASE_URL not set), progress is kept locally")
	}

	// Initialize services.
	conns := terminal.NewConnRegistry()
	sessions := lab.NewManager(lab.Deps{
		Local:        repo,
		Remote:       remote,
		Runner:       codeRunner,
		Policy:       cfg.Sandbox,
		Logger:       logger,
		SaveInterval: cfg.Progress.SaveInterval,
		OnClose:      conns.Close,
	})

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo, sessions)
	labHandler := api.NewLabHandler(sessions)
	sessionStoreHandler := api.NewSessionStoreHandler(repo, cfg.Progress.APIToken, cfg.Progress.RejectStale)
	wsHandler := terminal.NewWebSocketHandler(sessions, conns, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	labHandler.RegisterRoutes(r)
	sessionStoreHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/lab/{sessionID}", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// No WriteTimeout: terminal WebSockets are long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lab.StartSweeper(ctx, sessions, cfg.SessionTTL)
	slog.Info("Session sweeper started", "session_ttl", cfg.SessionTTL)

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
	shutdown(srv, sessions)
	slog.Info("Server stopped successfully")
}

// sessionCloser is the part of lab.Manager needed at shutdown.
type sessionCloser interface {
	CloseAll(ctx context.Context)
}

// shutdown saves progress for every open lab page and then stops the server.
// Sessions close first because the session store may be served by srv itself.
func shutdown(srv *http.Server, sessions sessionCloser) {
	closeCtx, cancelClose := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelClose()
	sessions.CloseAll(closeCtx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
}

// newRunner returns the Docker runner when enabled and reachable, and the
// disabled runner otherwise. Code runs are optional; grading works without them.
func newRunner(cfg *config.Config, logger *slog.Logger) runner.Runner {
	if !cfg.Runner.Enabled {
		slog.Info("Code runner disabled (RUNNER_ENABLED not set)")
		return runner.Disabled{}
	}

	dr, err := runner.NewDockerRunner(runner.DockerOptions{
		Runtime:  cfg.Runner.Runtime,
		Timeout:  cfg.Runner.Timeout,
		MemoryMB: cfg.Runner.MemoryMB,
	}, logger)
	if err != nil {
		slog.Warn("Docker unavailable, code runner disabled", "error", err)
		return runner.Disabled{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := dr.EnsureImages(ctx); err != nil {
		slog.Warn("Failed to prepare runner images, code runner disabled", "error", err)
		_ = dr.Close()
		return runner.Disabled{}
	}
	return dr
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
