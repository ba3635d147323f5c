// Kiso agent runtime — accepts connector messages over HTTP, compiles them
// into typed plans with an LLM, and executes the plans task by task inside
// per-session workers.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kisohq/kiso/pkg/api"
	"github.com/kisohq/kiso/pkg/audit"
	"github.com/kisohq/kiso/pkg/brain"
	"github.com/kisohq/kiso/pkg/config"
	"github.com/kisohq/kiso/pkg/knowledge"
	"github.com/kisohq/kiso/pkg/llm"
	"github.com/kisohq/kiso/pkg/pubfiles"
	"github.com/kisohq/kiso/pkg/skills"
	"github.com/kisohq/kiso/pkg/store"
	"github.com/kisohq/kiso/pkg/version"
	"github.com/kisohq/kiso/pkg/webhook"
	"github.com/kisohq/kiso/pkg/worker"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultConfigDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".kiso")
	}
	return ".kiso"
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("KISO_CONFIG_DIR", defaultConfigDir()),
		"Path to the configuration directory")
	flag.Parse()

	// Load .env before anything reads provider keys or tokens.
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting kiso", "version", version.Full(), "config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration behind the live provider.
	conf, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	cfg := config.NewProvider(conf)
	dataDir := conf.Server.DataDir

	// 2. Store (SQLite, migrations run on open).
	st, err := store.Open(ctx, filepath.Join(dataDir, "kiso.db"))
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing store", "error", err)
		}
	}()

	// 3. Audit log. Secrets known to the runtime are scrubbed from every
	// entry; worker-held ephemeral secrets never reach the logger.
	auditor := audit.New(filepath.Join(dataDir, "audit"), nil)
	defer func() {
		if err := auditor.Close(); err != nil {
			slog.Error("Error closing audit log", "error", err)
		}
	}()

	// 4. LLM gateway and the role brain.
	gateway := llm.NewGateway(cfg, auditor)
	br := brain.New(gateway, cfg)

	// 5. Skills discovered once at startup.
	registry, err := skills.Discover(filepath.Join(*configDir, "skills"))
	if err != nil {
		slog.Error("Failed to discover skills", "error", err)
		os.Exit(1)
	}
	slog.Info("Skills discovered", "count", registry.Len())

	// 6. Supporting services.
	sessionsDir := filepath.Join(dataDir, "sessions")
	pub := pubfiles.New(conf.Server.PubSecretEnv, sessionsDir)
	hook := webhook.NewDeliverer(cfg)
	know := knowledge.NewService(st, br, cfg)

	// 7. Worker supervisor; recovery runs before the API listens.
	supervisor := worker.NewSupervisor(worker.Deps{
		Store:       st,
		Config:      cfg,
		Brain:       br,
		Skills:      registry,
		Pub:         pub,
		Hook:        hook,
		Knowledge:   know,
		Audit:       auditor,
		SessionsDir: sessionsDir,
	})
	if err := supervisor.OnStartup(ctx); err != nil {
		slog.Error("Startup recovery failed", "error", err)
		os.Exit(1)
	}

	// 8. HTTP server.
	httpServer := api.NewServer(cfg, st, supervisor, pub)
	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Current().Server.Listen
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Kiso started successfully",
		"users", conf.Stats().Users, "tokens", conf.Stats().Tokens)

	// 9. Wait for a shutdown signal or a server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: stop accepting requests, then drain workers,
	// then close the store (deferred above, last).
	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	workerCtx, workerCancel := context.WithTimeout(ctx, 30*time.Second)
	defer workerCancel()
	if err := supervisor.Shutdown(workerCtx); err != nil {
		slog.Warn("Workers did not stop within the grace period", "error", err)
	}

	slog.Info("Shutdown complete")
}
