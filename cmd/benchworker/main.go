// Command benchworker consumes the benchmark job queue: it executes jobs
// against their LLM providers, persists responses and mention results, and
// finalizes runs when all jobs reach a terminal state.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mentionlab/benchd/internal/config"
	"github.com/mentionlab/benchd/internal/llm"
	"github.com/mentionlab/benchd/internal/storage"
	"github.com/mentionlab/benchd/internal/telemetry"
	"github.com/mentionlab/benchd/internal/worker"
	"github.com/mentionlab/benchd/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

// providerTimeout bounds a single LLM call. Well under the queue visibility
// timeout so a slow provider cannot cause double delivery mid-flight.
const providerTimeout = 90 * time.Second

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
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("benchworker starting", "version", version, "queue", cfg.QueueName)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName+"-worker", version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, "", logger)
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

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	w, err := worker.New(ctx, db, registry, worker.Config{
		QueueName:         cfg.QueueName,
		VisibilityTimeout: cfg.WorkerVisibilityTimeout,
		PollQty:           cfg.WorkerPollQty,
		Concurrency:       cfg.WorkerConcurrency,
		EmptySleep:        cfg.WorkerEmptySleep,
		IdleExit:          cfg.WorkerIdleExit,
	}, logger)
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	slog.Info("benchworker stopped")
	return nil
}

// buildRegistry wires one OpenAI-compatible client per provider with a
// configured API key. Anthropic and Google expose compatibility endpoints,
// so empty base URLs fall back to those.
func buildRegistry(cfg config.Config) (llm.Registry, error) {
	registry := llm.Registry{}

	if cfg.OpenAIAPIKey != "" {
		registry["openai"] = llm.NewOpenAICompat(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, providerTimeout)
	}
	if cfg.AnthropicAPIKey != "" {
		base := cfg.AnthropicBaseURL
		if base == "" {
			base = "https://api.anthropic.com/v1"
		}
		registry["anthropic"] = llm.NewOpenAICompat(base, cfg.AnthropicAPIKey, providerTimeout)
	}
	if cfg.GoogleAPIKey != "" {
		base := cfg.GoogleBaseURL
		if base == "" {
			base = "https://generativelanguage.googleapis.com/v1beta/openai"
		}
		registry["google"] = llm.NewOpenAICompat(base, cfg.GoogleAPIKey, providerTimeout)
	}

	if len(registry) == 0 {
		return nil, fmt.Errorf("no provider API keys configured")
	}
	return registry, nil
}
