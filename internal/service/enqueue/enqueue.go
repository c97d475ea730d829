// Package enqueue expands a benchmark run into its full job set and
// publishes the resulting work to the job queue.
//
// The expansion is deterministic: prompts in catalog order, models in
// normalized (sorted) order, repetition indices ascending. Combined with
// insert-if-absent job writes this makes the whole operation idempotent;
// calling it again with the same arguments creates nothing new, and calling
// it with a larger repetition count only appends the missing indices.
package enqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mentionlab/benchd/internal/model"
	"github.com/mentionlab/benchd/internal/storage"
	"github.com/mentionlab/benchd/internal/telemetry"
)

// Sentinel errors for the two caller-fault failure modes. Everything else
// is an infrastructure error.
var (
	ErrInvalidArgument = errors.New("enqueue: invalid argument")
	ErrRunNotFound     = errors.New("enqueue: run not found")
)

// PromptSource provides the active prompt snapshot in deterministic order.
type PromptSource interface {
	ListActivePrompts(ctx context.Context, limit int) ([]model.Prompt, error)
}

// CompetitorSource provides the active competitor count for the run summary.
type CompetitorSource interface {
	CountActiveCompetitors(ctx context.Context) (int, error)
}

// RunStore covers the run-level reads and writes enqueue needs.
type RunStore interface {
	RunExists(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateRunSummary(ctx context.Context, s model.RunSummary) error
	FinalizeRun(ctx context.Context, id uuid.UUID) error
}

// JobStore persists job specifications idempotently and backfills queue
// handles after publish.
type JobStore interface {
	CreateJobs(ctx context.Context, specs []model.Job) ([]storage.JobCreateResult, error)
	AttachQueueMessage(ctx context.Context, jobID uuid.UUID, msgID int64) error
}

// QueueSink publishes job messages. Implemented by the pgmq-backed store.
type QueueSink interface {
	SendMessage(ctx context.Context, queue string, payload any) (int64, error)
}

// Store is the full set of collaborators, satisfied by *storage.DB.
type Store interface {
	PromptSource
	CompetitorSource
	RunStore
	JobStore
	QueueSink
}

// Config carries the enqueue-time constants.
type Config struct {
	QueueName   string
	DefaultTerm string
	MaxAttempts int
}

// Service implements the enqueue operation.
type Service struct {
	store  Store
	cfg    Config
	logger *slog.Logger

	jobsEnqueued    metric.Int64Counter
	publishFailures metric.Int64Counter
	duration        metric.Float64Histogram
}

// New creates the enqueue service.
func New(store Store, cfg Config, logger *slog.Logger) (*Service, error) {
	meter := telemetry.Meter("benchd.enqueue")

	jobsEnqueued, err := meter.Int64Counter("benchd.enqueue.jobs",
		metric.WithDescription("Jobs newly created by enqueue"))
	if err != nil {
		return nil, fmt.Errorf("enqueue: create jobs counter: %w", err)
	}
	publishFailures, err := meter.Int64Counter("benchd.enqueue.publish_failures",
		metric.WithDescription("Jobs whose queue publish failed"))
	if err != nil {
		return nil, fmt.Errorf("enqueue: create publish failures counter: %w", err)
	}
	duration, err := meter.Float64Histogram("benchd.enqueue.duration_ms",
		metric.WithDescription("End-to-end enqueue duration in milliseconds"))
	if err != nil {
		return nil, fmt.Errorf("enqueue: create duration histogram: %w", err)
	}

	return &Service{
		store:           store,
		cfg:             cfg,
		logger:          logger,
		jobsEnqueued:    jobsEnqueued,
		publishFailures: publishFailures,
		duration:        duration,
	}, nil
}

// Enqueue expands the run into jobs and publishes the newly created ones.
//
// Validation errors abort with no side effects. Past validation, partial
// completion is safe: job rows are written before any publish, so a crashed
// or partially failed call is resumed by calling Enqueue again with the
// same arguments.
func (s *Service) Enqueue(ctx context.Context, runID uuid.UUID, req model.EnqueueRequest) (model.EnqueueResponse, error) {
	start := time.Now()

	if runID == uuid.Nil {
		return model.EnqueueResponse{}, fmt.Errorf("%w: run id is required", ErrInvalidArgument)
	}
	models := model.NormalizeModels(req.Models)
	if len(models) == 0 {
		return model.EnqueueResponse{}, fmt.Errorf("%w: at least one model is required", ErrInvalidArgument)
	}

	terms := model.NormalizeTerms(req.OurTerms, s.cfg.DefaultTerm)
	reps := model.ClampRepetitions(req.Repetitions)
	temperature := model.DefaultTemperature
	if req.Temperature != nil {
		temperature = model.ClampTemperature(*req.Temperature)
	}
	webSearch := true
	if req.WebSearchEnabled != nil {
		webSearch = *req.WebSearchEnabled
	}

	exists, err := s.store.RunExists(ctx, runID)
	if err != nil {
		return model.EnqueueResponse{}, fmt.Errorf("enqueue: check run: %w", err)
	}
	if !exists {
		return model.EnqueueResponse{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	prompts, err := s.store.ListActivePrompts(ctx, req.PromptLimit)
	if err != nil {
		return model.EnqueueResponse{}, fmt.Errorf("enqueue: list prompts: %w", err)
	}
	competitorCount, err := s.store.CountActiveCompetitors(ctx)
	if err != nil {
		return model.EnqueueResponse{}, fmt.Errorf("enqueue: count competitors: %w", err)
	}

	summary := model.RunSummary{
		RunID:           runID,
		Models:          strings.Join(models, ","),
		QueryCount:      len(prompts),
		CompetitorCount: competitorCount,
	}

	resp := model.EnqueueResponse{
		RunID:           runID,
		Models:          models,
		QueryCount:      len(prompts),
		CompetitorCount: competitorCount,
	}

	// A run with no prompts would otherwise sit running forever with
	// nothing to advance it. Finalize it on the spot.
	if len(prompts) == 0 {
		if err := s.store.UpdateRunSummary(ctx, summary); err != nil {
			return model.EnqueueResponse{}, fmt.Errorf("enqueue: update run summary: %w", err)
		}
		if err := s.store.FinalizeRun(ctx, runID); err != nil {
			return model.EnqueueResponse{}, fmt.Errorf("enqueue: finalize empty run: %w", err)
		}
		s.logger.Info("enqueue finalized empty run", "run_id", runID)
		return resp, nil
	}

	specs := s.expand(runID, prompts, models, reps, temperature, webSearch, terms)

	results, err := s.store.CreateJobs(ctx, specs)
	if err != nil {
		return model.EnqueueResponse{}, fmt.Errorf("enqueue: write jobs: %w", err)
	}

	if err := s.store.UpdateRunSummary(ctx, summary); err != nil {
		return model.EnqueueResponse{}, fmt.Errorf("enqueue: update run summary: %w", err)
	}

	created, publishFailed := s.publish(ctx, results)

	resp.JobsEnqueued = created
	resp.PublishFailures = publishFailed

	s.jobsEnqueued.Add(ctx, int64(created))
	s.publishFailures.Add(ctx, int64(publishFailed))
	s.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.Int("models", len(models))))

	s.logger.Info("enqueue completed",
		"run_id", runID,
		"jobs_enqueued", created,
		"publish_failures", publishFailed,
		"query_count", len(prompts),
		"models", summary.Models,
		"repetitions", reps,
	)
	return resp, nil
}

// expand builds job specifications in deterministic order: prompts, then
// models, then repetition indices 1..reps. The ordering guarantees that a
// re-run with a larger repetition count is a strict superset of the smaller
// run's job set.
func (s *Service) expand(runID uuid.UUID, prompts []model.Prompt, models []string, reps int, temperature float64, webSearch bool, terms []string) []model.Job {
	specs := make([]model.Job, 0, len(prompts)*len(models)*reps)
	for _, p := range prompts {
		for _, m := range models {
			provider := model.InferProvider(m)
			for i := 1; i <= reps; i++ {
				specs = append(specs, model.Job{
					RunID:            runID,
					QueryID:          p.ID,
					QueryText:        p.QueryText,
					Model:            m,
					RunIteration:     i,
					Provider:         provider,
					Temperature:      temperature,
					WebSearchEnabled: webSearch && provider == model.ProviderOpenAI,
					OurTerms:         terms,
					MaxAttempts:      s.cfg.MaxAttempts,
				})
			}
		}
	}
	return specs
}

// publish sends a queue message for every newly created job. Failures are
// isolated per job: the row stays pending with a null queue handle and the
// operation as a whole still succeeds.
func (s *Service) publish(ctx context.Context, results []storage.JobCreateResult) (created, publishFailed int) {
	for _, r := range results {
		if !r.Created {
			continue
		}
		created++

		msgID, err := s.store.SendMessage(ctx, s.cfg.QueueName, model.QueueMessage{
			JobID:        r.Job.ID,
			RunID:        r.Job.RunID,
			QueryID:      r.Job.QueryID,
			QueryText:    r.Job.QueryText,
			Model:        r.Job.Model,
			RunIteration: r.Job.RunIteration,
		})
		if err != nil {
			publishFailed++
			s.logger.Warn("enqueue publish failed, job left pending",
				"job_id", r.Job.ID, "error", err)
			continue
		}

		if err := s.store.AttachQueueMessage(ctx, r.Job.ID, msgID); err != nil {
			// The message is already on the queue; the worker will still
			// pick it up. Losing the handle only hurts debuggability.
			s.logger.Warn("enqueue could not attach queue handle",
				"job_id", r.Job.ID, "msg_id", msgID, "error", err)
		}
	}
	return created, publishFailed
}
