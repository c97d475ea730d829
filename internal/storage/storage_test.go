package storage_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentionlab/benchd/internal/model"
	"github.com/mentionlab/benchd/internal/storage"
	"github.com/mentionlab/benchd/internal/testutil"
	"github.com/mentionlab/benchd/migrations"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}
	code := m.Run()
	testDB.Close(context.Background())
	tc.Terminate()
	os.Exit(code)
}

func seedPrompt(t *testing.T, text string, sortOrder int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := testDB.Pool().Exec(context.Background(),
		`INSERT INTO benchmark_queries (id, query_text, sort_order) VALUES ($1, $2, $3)`,
		id, text, sortOrder)
	require.NoError(t, err)
	return id
}

func seedCompetitor(t *testing.T, name string, aliases ...string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	_, err := testDB.Pool().Exec(ctx,
		`INSERT INTO competitors (id, name) VALUES ($1, $2)`, id, name)
	require.NoError(t, err)
	for _, a := range aliases {
		_, err := testDB.Pool().Exec(ctx,
			`INSERT INTO competitor_aliases (competitor_id, alias) VALUES ($1, $2)`, id, a)
		require.NoError(t, err)
	}
	return id
}

func jobSpec(runID, queryID uuid.UUID, m string, iteration int) model.Job {
	return model.Job{
		RunID:        runID,
		QueryID:      queryID,
		QueryText:    "test prompt",
		Model:        m,
		RunIteration: iteration,
		Provider:     "openai",
		Temperature:  0.7,
		OurTerms:     []string{"Highcharts"},
		MaxAttempts:  3,
	}
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()

	run, err := testDB.CreateRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPending, run.Status)

	got, err := testDB.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Nil(t, got.StartedAt)

	exists, err := testDB.RunExists(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = testDB.RunExists(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, exists)

	err = testDB.UpdateRunSummary(ctx, model.RunSummary{
		RunID: run.ID, Models: "gpt-4o", QueryCount: 3, CompetitorCount: 2,
	})
	require.NoError(t, err)

	got, err = testDB.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	assert.Equal(t, "gpt-4o", got.Models)
	assert.Equal(t, 3, got.QueryCount)
	require.NotNil(t, got.StartedAt)
	firstStart := *got.StartedAt

	// Second summary update must not move started_at.
	err = testDB.UpdateRunSummary(ctx, model.RunSummary{
		RunID: run.ID, Models: "gpt-4o", QueryCount: 3, CompetitorCount: 2,
	})
	require.NoError(t, err)
	got, err = testDB.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, firstStart, *got.StartedAt)

	require.NoError(t, testDB.FinalizeRun(ctx, run.ID))
	got, err = testDB.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	firstCompleted := *got.CompletedAt

	// Finalize is idempotent.
	require.NoError(t, testDB.FinalizeRun(ctx, run.ID))
	got, err = testDB.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, firstCompleted, *got.CompletedAt)
}

func TestGetRunNotFound(t *testing.T) {
	_, err := testDB.GetRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateRunSummaryNotFound(t *testing.T) {
	err := testDB.UpdateRunSummary(context.Background(), model.RunSummary{RunID: uuid.New()})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListActivePromptsOrderAndLimit(t *testing.T) {
	ctx := context.Background()

	idB := seedPrompt(t, "ordering prompt b", 200)
	idA := seedPrompt(t, "ordering prompt a", 100)

	prompts, err := testDB.ListActivePrompts(ctx, 0)
	require.NoError(t, err)

	var seen []uuid.UUID
	for _, p := range prompts {
		if p.ID == idA || p.ID == idB {
			seen = append(seen, p.ID)
		}
	}
	require.Equal(t, []uuid.UUID{idA, idB}, seen)

	limited, err := testDB.ListActivePrompts(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestListActiveCompetitorsWithAliases(t *testing.T) {
	ctx := context.Background()

	id := seedCompetitor(t, "AliasCo", "alias-one", "alias-two")

	competitors, err := testDB.ListActiveCompetitors(ctx)
	require.NoError(t, err)

	var found *model.Competitor
	for i := range competitors {
		if competitors[i].ID == id {
			found = &competitors[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, []string{"alias-one", "alias-two"}, found.Aliases)

	n, err := testDB.CountActiveCompetitors(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}

func TestCreateJobsIdempotent(t *testing.T) {
	ctx := context.Background()

	run, err := testDB.CreateRun(ctx)
	require.NoError(t, err)
	queryID := seedPrompt(t, "idempotence prompt", 0)

	specs := []model.Job{
		jobSpec(run.ID, queryID, "gpt-4o", 1),
		jobSpec(run.ID, queryID, "gpt-4o", 2),
	}

	results, err := testDB.CreateJobs(ctx, specs)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Created)
	assert.True(t, results[1].Created)

	// Same business keys again plus one new: only the new one is created.
	specs = append(specs, jobSpec(run.ID, queryID, "gpt-4o", 3))
	results, err = testDB.CreateJobs(ctx, specs)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.False(t, results[0].Created)
	assert.False(t, results[1].Created)
	assert.True(t, results[2].Created)

	progress, err := testDB.GetJobProgress(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, progress.TotalJobs)
	assert.Equal(t, 3, progress.PendingJobs)
}

func TestJobStateMachine(t *testing.T) {
	ctx := context.Background()

	run, err := testDB.CreateRun(ctx)
	require.NoError(t, err)
	queryID := seedPrompt(t, "state machine prompt", 0)

	results, err := testDB.CreateJobs(ctx, []model.Job{jobSpec(run.ID, queryID, "gpt-4o", 1)})
	require.NoError(t, err)
	jobID := results[0].Job.ID

	require.NoError(t, testDB.AttachQueueMessage(ctx, jobID, 42))
	job, err := testDB.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, job.MsgID)
	assert.Equal(t, int64(42), *job.MsgID)

	attempts, err := testDB.MarkJobProcessing(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	// Transient failure keeps the job retryable.
	require.NoError(t, testDB.FailJob(ctx, jobID, "rate limited", false))
	job, err = testDB.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Nil(t, job.CompletedAt)

	attempts, err = testDB.MarkJobProcessing(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	job, err = testDB.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Nil(t, job.LastError)

	respID, err := testDB.UpsertResponse(ctx, model.Response{
		RunID: run.ID, QueryID: queryID, RunIteration: 1, Model: "gpt-4o",
		Provider: "openai", ResponseText: "answer", TotalTokens: 10,
	})
	require.NoError(t, err)

	require.NoError(t, testDB.CompleteJob(ctx, jobID, respID))
	job, err = testDB.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	require.NotNil(t, job.ResponseID)
	assert.Equal(t, respID, *job.ResponseID)
	assert.NotNil(t, job.CompletedAt)
}

func TestFailJobTerminal(t *testing.T) {
	ctx := context.Background()

	run, err := testDB.CreateRun(ctx)
	require.NoError(t, err)
	queryID := seedPrompt(t, "dead letter prompt", 0)

	results, err := testDB.CreateJobs(ctx, []model.Job{jobSpec(run.ID, queryID, "gpt-4o", 1)})
	require.NoError(t, err)
	jobID := results[0].Job.ID

	require.NoError(t, testDB.FailJob(ctx, jobID, "model does not exist", true))

	job, err := testDB.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusDeadLetter, job.Status)
	require.NotNil(t, job.LastError)
	assert.Equal(t, "model does not exist", *job.LastError)
	assert.NotNil(t, job.CompletedAt)

	progress, err := testDB.GetJobProgress(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.DeadLetterJobs)
	assert.True(t, progress.AllTerminal())
}

func TestUpsertResponseOverwrites(t *testing.T) {
	ctx := context.Background()

	run, err := testDB.CreateRun(ctx)
	require.NoError(t, err)
	queryID := seedPrompt(t, "upsert prompt", 0)

	first, err := testDB.UpsertResponse(ctx, model.Response{
		RunID: run.ID, QueryID: queryID, RunIteration: 1, Model: "gpt-4o",
		Provider: "openai", ResponseText: "first attempt", TotalTokens: 5,
	})
	require.NoError(t, err)

	second, err := testDB.UpsertResponse(ctx, model.Response{
		RunID: run.ID, QueryID: queryID, RunIteration: 1, Model: "gpt-4o",
		Provider: "openai", ResponseText: "second attempt", TotalTokens: 8,
		OurMentioned: true,
		Citations:    []model.Citation{{Title: "Docs", URL: "https://example.com"}},
	})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	n, err := testDB.CountResponses(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var text string
	var ourMentioned bool
	err = testDB.Pool().QueryRow(ctx,
		`SELECT response_text, our_mentioned FROM benchmark_responses WHERE id = $1`, first,
	).Scan(&text, &ourMentioned)
	require.NoError(t, err)
	assert.Equal(t, "second attempt", text)
	assert.True(t, ourMentioned)
}

func TestUpsertMentions(t *testing.T) {
	ctx := context.Background()

	run, err := testDB.CreateRun(ctx)
	require.NoError(t, err)
	queryID := seedPrompt(t, "mentions prompt", 0)
	compID := seedCompetitor(t, "MentionCo")

	respID, err := testDB.UpsertResponse(ctx, model.Response{
		RunID: run.ID, QueryID: queryID, RunIteration: 1, Model: "gpt-4o", Provider: "openai",
	})
	require.NoError(t, err)

	require.NoError(t, testDB.UpsertMentions(ctx, []model.Mention{
		{ResponseID: respID, CompetitorID: compID, Mentioned: false},
	}))
	// Retried job flips the result; the row updates instead of duplicating.
	require.NoError(t, testDB.UpsertMentions(ctx, []model.Mention{
		{ResponseID: respID, CompetitorID: compID, Mentioned: true},
	}))

	var mentioned bool
	err = testDB.Pool().QueryRow(ctx,
		`SELECT mentioned FROM response_mentions WHERE response_id = $1 AND competitor_id = $2`,
		respID, compID,
	).Scan(&mentioned)
	require.NoError(t, err)
	assert.True(t, mentioned)
}

func TestFinalizeRunBackfillsTotalResponses(t *testing.T) {
	ctx := context.Background()

	run, err := testDB.CreateRun(ctx)
	require.NoError(t, err)
	queryID := seedPrompt(t, "backfill prompt", 0)

	for i := 1; i <= 2; i++ {
		_, err := testDB.UpsertResponse(ctx, model.Response{
			RunID: run.ID, QueryID: queryID, RunIteration: i, Model: "gpt-4o", Provider: "openai",
		})
		require.NoError(t, err)
	}

	require.NoError(t, testDB.FinalizeRun(ctx, run.ID))

	got, err := testDB.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalResponses)
}

func TestQueueSendReadArchive(t *testing.T) {
	ctx := context.Background()
	queue := "test_queue_roundtrip"

	require.NoError(t, testDB.EnsureQueue(ctx, queue))
	// Idempotent.
	require.NoError(t, testDB.EnsureQueue(ctx, queue))

	msgID, err := testDB.SendMessage(ctx, queue, model.QueueMessage{
		JobID: uuid.New(), Model: "gpt-4o", RunIteration: 1,
	})
	require.NoError(t, err)
	assert.Positive(t, msgID)

	msgs, err := testDB.ReadMessages(ctx, queue, 30*time.Second, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, msgID, msgs[0].MsgID)
	assert.Equal(t, 1, msgs[0].ReadCount)

	var payload model.QueueMessage
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
	assert.Equal(t, "gpt-4o", payload.Model)

	// Message is invisible while the visibility timeout holds.
	msgs, err = testDB.ReadMessages(ctx, queue, 30*time.Second, 5)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, testDB.ArchiveMessage(ctx, queue, msgID))

	// Archiving twice fails: the message is gone from the live queue.
	assert.Error(t, testDB.ArchiveMessage(ctx, queue, msgID))
}

func TestNotifyRoundtrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, testDB.Listen(ctx, storage.ChannelJobs))
	require.NoError(t, testDB.Notify(ctx, storage.ChannelJobs, `{"status":"completed"}`))

	channel, payload, err := testDB.WaitForNotification(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.ChannelJobs, channel)
	assert.Equal(t, `{"status":"completed"}`, payload)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	// Already applied in TestMain; a second pass must be a no-op.
	require.NoError(t, testDB.RunMigrations(context.Background(), migrations.FS))
}
