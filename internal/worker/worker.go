// Package worker consumes the benchmark job queue: it executes each job
// against its LLM provider, persists the response and mention-detection
// results, advances the job state machine, and finalizes runs once every
// job has reached a terminal state.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/mentionlab/benchd/internal/llm"
	"github.com/mentionlab/benchd/internal/model"
	"github.com/mentionlab/benchd/internal/service/mentions"
	"github.com/mentionlab/benchd/internal/storage"
	"github.com/mentionlab/benchd/internal/telemetry"
)

// Store is the storage surface the worker depends on, satisfied by
// *storage.DB.
type Store interface {
	ReadMessages(ctx context.Context, queue string, vt time.Duration, qty int) ([]storage.QueuedMessage, error)
	ArchiveMessage(ctx context.Context, queue string, msgID int64) error

	GetJob(ctx context.Context, id uuid.UUID) (model.Job, error)
	MarkJobProcessing(ctx context.Context, id uuid.UUID) (int, error)
	CompleteJob(ctx context.Context, id, responseID uuid.UUID) error
	FailJob(ctx context.Context, id uuid.UUID, errText string, terminal bool) error
	SetJobResponse(ctx context.Context, id, responseID uuid.UUID) error

	UpsertResponse(ctx context.Context, r model.Response) (uuid.UUID, error)
	UpsertMentions(ctx context.Context, ms []model.Mention) error
	ListActiveCompetitors(ctx context.Context) ([]model.Competitor, error)

	GetJobProgress(ctx context.Context, runID uuid.UUID) (model.JobProgress, error)
	FinalizeRun(ctx context.Context, id uuid.UUID) error
	Notify(ctx context.Context, channel, payload string) error
}

// Config carries the polling knobs.
type Config struct {
	QueueName         string
	VisibilityTimeout time.Duration
	PollQty           int
	Concurrency       int
	EmptySleep        time.Duration
	IdleExit          time.Duration // 0 disables idle exit
}

// Worker is the queue consumer.
type Worker struct {
	store    Store
	registry llm.Registry
	cfg      Config
	logger   *slog.Logger

	detector *mentions.Detector

	jobsProcessed metric.Int64Counter
	jobDuration   metric.Float64Histogram
}

// jobEvent is the payload published on the job notification channel.
type jobEvent struct {
	JobID  uuid.UUID       `json:"job_id"`
	RunID  uuid.UUID       `json:"run_id"`
	Status model.JobStatus `json:"status"`
}

// New creates a worker. The competitor registry is snapshotted once at
// construction; long-lived workers pick up registry changes on restart.
func New(ctx context.Context, store Store, registry llm.Registry, cfg Config, logger *slog.Logger) (*Worker, error) {
	competitors, err := store.ListActiveCompetitors(ctx)
	if err != nil {
		return nil, fmt.Errorf("worker: load competitors: %w", err)
	}
	specs := make([]mentions.EntitySpec, 0, len(competitors))
	for _, c := range competitors {
		specs = append(specs, mentions.EntitySpec{ID: c.ID, Name: c.Name, Aliases: c.Aliases})
	}
	detector, err := mentions.NewDetector(specs)
	if err != nil {
		return nil, fmt.Errorf("worker: build detector: %w", err)
	}

	meter := telemetry.Meter("benchd.worker")
	jobsProcessed, err := meter.Int64Counter("benchd.worker.jobs",
		metric.WithDescription("Jobs processed, labeled by outcome"))
	if err != nil {
		return nil, fmt.Errorf("worker: create jobs counter: %w", err)
	}
	jobDuration, err := meter.Float64Histogram("benchd.worker.job_duration_ms",
		metric.WithDescription("Per-job execution duration in milliseconds"))
	if err != nil {
		return nil, fmt.Errorf("worker: create duration histogram: %w", err)
	}

	return &Worker{
		store:         store,
		registry:      registry,
		cfg:           cfg,
		logger:        logger,
		detector:      detector,
		jobsProcessed: jobsProcessed,
		jobDuration:   jobDuration,
	}, nil
}

// Run polls the queue until the context is canceled or the queue has been
// empty for the idle-exit window. Returns nil on both; the worker is meant
// to be restarted by its scheduler.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		"queue", w.cfg.QueueName,
		"concurrency", w.cfg.Concurrency,
		"poll_qty", w.cfg.PollQty,
	)
	idleSince := time.Now()

	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := w.store.ReadMessages(ctx, w.cfg.QueueName, w.cfg.VisibilityTimeout, w.cfg.PollQty)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("worker poll failed", "error", err)
			if !w.sleep(ctx, w.cfg.EmptySleep) {
				return nil
			}
			continue
		}

		if len(msgs) == 0 {
			if w.cfg.IdleExit > 0 && time.Since(idleSince) >= w.cfg.IdleExit {
				w.logger.Info("worker idle, exiting", "idle", w.cfg.IdleExit)
				return nil
			}
			if !w.sleep(ctx, w.cfg.EmptySleep) {
				return nil
			}
			continue
		}
		idleSince = time.Now()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.cfg.Concurrency)
		for _, msg := range msgs {
			g.Go(func() error {
				w.handleMessage(gctx, msg)
				return nil
			})
		}
		g.Wait()
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// handleMessage processes one queue delivery end to end. All failure
// handling is internal; a message is archived only when its job reaches a
// terminal state, otherwise pgmq redelivers it after the visibility
// timeout expires.
func (w *Worker) handleMessage(ctx context.Context, msg storage.QueuedMessage) {
	var qm model.QueueMessage
	if err := json.Unmarshal(msg.Payload, &qm); err != nil {
		w.logger.Error("worker discarding malformed message", "msg_id", msg.MsgID, "error", err)
		w.archive(ctx, msg.MsgID)
		return
	}

	logger := w.logger.With("job_id", qm.JobID, "run_id", qm.RunID, "msg_id", msg.MsgID)

	job, err := w.store.GetJob(ctx, qm.JobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn("worker discarding message for unknown job")
			w.archive(ctx, msg.MsgID)
			return
		}
		logger.Error("worker could not load job", "error", err)
		return
	}

	// A redelivered message for an already-finished job is a leftover
	// from a crash between completion and archive.
	if job.Status == model.JobStatusCompleted || job.Status == model.JobStatusDeadLetter {
		logger.Info("worker skipping finished job", "status", job.Status)
		w.archive(ctx, msg.MsgID)
		return
	}

	attempts, err := w.store.MarkJobProcessing(ctx, job.ID)
	if err != nil {
		logger.Error("worker could not mark job processing", "error", err)
		return
	}
	logger = logger.With("attempt", attempts, "model", job.Model, "iteration", job.RunIteration)

	start := time.Now()
	result, genErr := w.execute(ctx, job)
	elapsed := time.Since(start)

	if genErr != nil {
		w.handleFailure(ctx, logger, job, msg.MsgID, attempts, genErr)
		w.record(ctx, elapsed, "failed", job.Provider)
		return
	}

	responseID, err := w.persistResult(ctx, job, result, elapsed)
	if err != nil {
		// Persistence problems are infrastructure trouble, not job
		// failures. Leave the message for redelivery.
		logger.Error("worker could not persist response", "error", err)
		return
	}

	if err := w.store.CompleteJob(ctx, job.ID, responseID); err != nil {
		logger.Error("worker could not complete job", "error", err)
		return
	}
	w.archive(ctx, msg.MsgID)
	w.notifyJob(ctx, jobEvent{JobID: job.ID, RunID: job.RunID, Status: model.JobStatusCompleted})
	w.maybeFinalize(ctx, logger, job.RunID)
	w.record(ctx, elapsed, "completed", job.Provider)

	logger.Info("worker completed job", "duration_ms", elapsed.Milliseconds(), "tokens", result.TotalTokens)
}

// execute runs the LLM call for a job.
func (w *Worker) execute(ctx context.Context, job model.Job) (llm.Result, error) {
	client, err := w.registry.For(job.Provider)
	if err != nil {
		return llm.Result{}, err
	}
	return client.Generate(ctx, llm.Request{
		Model:       job.Model,
		Prompt:      job.QueryText,
		Temperature: job.Temperature,
		WebSearch:   job.WebSearchEnabled,
	})
}

// persistResult writes the response row and its mention-detection results.
func (w *Worker) persistResult(ctx context.Context, job model.Job, result llm.Result, elapsed time.Duration) (uuid.UUID, error) {
	ourMentioned, err := w.brandMentioned(job.OurTerms, result.Text)
	if err != nil {
		return uuid.Nil, err
	}

	responseID, err := w.store.UpsertResponse(ctx, model.Response{
		RunID:            job.RunID,
		QueryID:          job.QueryID,
		RunIteration:     job.RunIteration,
		Model:            job.Model,
		Provider:         job.Provider,
		WebSearchEnabled: job.WebSearchEnabled,
		DurationMS:       int(elapsed.Milliseconds()),
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		TotalTokens:      result.TotalTokens,
		ResponseText:     result.Text,
		OurMentioned:     ourMentioned,
		Citations:        result.Citations,
	})
	if err != nil {
		return uuid.Nil, err
	}

	detections := w.detector.Detect(result.Text)
	ms := make([]model.Mention, 0, len(detections))
	for _, d := range detections {
		ms = append(ms, model.Mention{
			ResponseID:   responseID,
			CompetitorID: d.ID,
			Mentioned:    d.Mentioned,
		})
	}
	if err := w.store.UpsertMentions(ctx, ms); err != nil {
		return uuid.Nil, err
	}
	return responseID, nil
}

// brandMentioned checks the job's own terms against the response text.
// Terms vary per job, so the detector is built on the fly.
func (w *Worker) brandMentioned(terms []string, text string) (bool, error) {
	if len(terms) == 0 {
		return false, nil
	}
	d, err := mentions.NewDetector([]mentions.EntitySpec{
		{Name: terms[0], Aliases: terms[1:]},
	})
	if err != nil {
		return false, fmt.Errorf("worker: build brand detector: %w", err)
	}
	return d.Detect(text)[0].Mentioned, nil
}

// handleFailure routes a failed attempt: transient errors under the
// attempt ceiling go back to the queue, everything else dead-letters the
// job with an error response row for analytics.
func (w *Worker) handleFailure(ctx context.Context, logger *slog.Logger, job model.Job, msgID int64, attempts int, genErr error) {
	terminal := !llm.IsTransient(genErr) || attempts >= job.MaxAttempts

	if !terminal {
		logger.Warn("worker attempt failed, leaving for redelivery", "error", genErr)
		if err := w.store.FailJob(ctx, job.ID, genErr.Error(), false); err != nil {
			logger.Error("worker could not record failure", "error", err)
		}
		return
	}

	logger.Error("worker dead-lettering job", "error", genErr, "attempts", attempts)

	errText := genErr.Error()
	responseID, err := w.store.UpsertResponse(ctx, model.Response{
		RunID:            job.RunID,
		QueryID:          job.QueryID,
		RunIteration:     job.RunIteration,
		Model:            job.Model,
		Provider:         job.Provider,
		WebSearchEnabled: job.WebSearchEnabled,
		Error:            &errText,
	})
	if err != nil {
		logger.Error("worker could not persist error response", "error", err)
	} else if err := w.store.SetJobResponse(ctx, job.ID, responseID); err != nil {
		logger.Error("worker could not link error response", "error", err)
	}

	if err := w.store.FailJob(ctx, job.ID, errText, true); err != nil {
		logger.Error("worker could not dead-letter job", "error", err)
		return
	}
	w.archive(ctx, msgID)
	w.notifyJob(ctx, jobEvent{JobID: job.ID, RunID: job.RunID, Status: model.JobStatusDeadLetter})
	w.maybeFinalize(ctx, logger, job.RunID)
}

// maybeFinalize completes the run once every job is terminal. FinalizeRun
// is idempotent, so two workers racing here is harmless.
func (w *Worker) maybeFinalize(ctx context.Context, logger *slog.Logger, runID uuid.UUID) {
	progress, err := w.store.GetJobProgress(ctx, runID)
	if err != nil {
		logger.Error("worker could not read run progress", "error", err)
		return
	}
	if !progress.AllTerminal() {
		return
	}
	if err := w.store.FinalizeRun(ctx, runID); err != nil {
		logger.Error("worker could not finalize run", "error", err)
		return
	}
	logger.Info("worker finalized run",
		"completed", progress.CompletedJobs,
		"dead_letter", progress.DeadLetterJobs,
	)
	w.notifyJob(ctx, jobEvent{RunID: runID, Status: "run_completed"})
}

func (w *Worker) archive(ctx context.Context, msgID int64) {
	if err := w.store.ArchiveMessage(ctx, w.cfg.QueueName, msgID); err != nil {
		w.logger.Error("worker could not archive message", "msg_id", msgID, "error", err)
	}
}

func (w *Worker) notifyJob(ctx context.Context, ev jobEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := w.store.Notify(ctx, storage.ChannelJobs, string(payload)); err != nil {
		w.logger.Warn("worker notify failed", "error", err)
	}
}

func (w *Worker) record(ctx context.Context, elapsed time.Duration, outcome, provider string) {
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("provider", provider),
	)
	w.jobsProcessed.Add(ctx, 1, attrs)
	w.jobDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}
