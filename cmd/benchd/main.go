// Command benchd runs the benchmark API server: run lifecycle, the enqueue
// procedure, catalog reads, and SSE job events.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mentionlab/benchd/internal/auth"
	"github.com/mentionlab/benchd/internal/config"
	"github.com/mentionlab/benchd/internal/server"
	"github.com/mentionlab/benchd/internal/service/enqueue"
	"github.com/mentionlab/benchd/internal/storage"
	"github.com/mentionlab/benchd/internal/telemetry"
	"github.com/mentionlab/benchd/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("BENCHD_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("BENCHD_API_KEY is required")
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("BENCHD_JWT_SECRET is required")
	}

	slog.Info("benchd starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close(context.Background())

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if err := db.EnsureQueue(ctx, cfg.QueueName); err != nil {
		return fmt.Errorf("queue: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	// Only the hash stays in memory; the configured key is compared against
	// it on every token exchange.
	apiKeyHash, err := auth.HashAPIKey(cfg.APIKey)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	enqueueSvc, err := enqueue.New(db, enqueue.Config{
		QueueName:   cfg.QueueName,
		DefaultTerm: cfg.DefaultBrandTerm,
		MaxAttempts: cfg.MaxAttempts,
	}, logger)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	// SSE broker requires the dedicated LISTEN/NOTIFY connection.
	var broker *server.Broker
	if db.HasNotifyConn() {
		broker = server.NewBroker(db, logger)
		go broker.Start(ctx)
	} else {
		logger.Info("SSE broker: disabled (no notify connection)")
	}

	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		EnqueueSvc:          enqueueSvc,
		Broker:              broker,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		APIKeyHash:          apiKeyHash,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("benchd stopped")
	return nil
}
