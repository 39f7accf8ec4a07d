package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"sheetsync/internal/domain"
	"sheetsync/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "meta", "sheetsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newJob(key string) *domain.IngestJob {
	return &domain.IngestJob{
		Key: key,
		Request: domain.SyncRequest{
			Headers: []string{"Name"},
			Row:     map[string]any{"Name": key},
		},
	}
}

// ─────────────────────────────────────────────────────────────
// JobStore
// ─────────────────────────────────────────────────────────────

func TestJobStore_InsertAndGet(t *testing.T) {
	jobs := storage.NewJobStore(openDB(t))
	ctx := context.Background()

	job := newJob("ann")
	require.NoError(t, jobs.Insert(ctx, job))
	require.NotEmpty(t, job.ID)

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, got.Status)
	assert.Equal(t, "ann", got.Key)
	assert.Equal(t, []string{"Name"}, got.Request.Headers)
	assert.Equal(t, "ann", got.Request.Row["Name"])

	_, err = jobs.Get(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobStore_ClaimLeasesInOrder(t *testing.T) {
	jobs := storage.NewJobStore(openDB(t))
	ctx := context.Background()

	a, b := newJob("a"), newJob("b")
	require.NoError(t, jobs.Insert(ctx, a))
	require.NoError(t, jobs.Insert(ctx, b))

	now := time.Now()
	claimed, err := jobs.Claim(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, a.ID, claimed[0].ID)
	assert.Equal(t, b.ID, claimed[1].ID)
	assert.Equal(t, 1, claimed[0].Attempts)
	assert.Equal(t, domain.JobRunning, claimed[0].Status)

	// Leased jobs are not handed out again.
	again, err := jobs.Claim(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	// An expired lease is reclaimed (a crashed worker).
	reclaimed, err := jobs.Claim(ctx, now.Add(2*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, reclaimed, 2)
	assert.Equal(t, 2, reclaimed[0].Attempts)
}

func TestJobStore_ClaimSkipsHeldAndRenew(t *testing.T) {
	jobs := storage.NewJobStore(openDB(t))
	ctx := context.Background()

	a, b := newJob("a"), newJob("b")
	require.NoError(t, jobs.Insert(ctx, a))
	require.NoError(t, jobs.Insert(ctx, b))

	now := time.Now()
	claimed, err := jobs.Claim(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	// Both leases expired, but a is still held by this process.
	later := now.Add(2 * time.Minute)
	reclaimed, err := jobs.Claim(ctx, later, time.Minute, 10, a.ID)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, b.ID, reclaimed[0].ID)

	held, err := jobs.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, held.Attempts)

	// A renewed lease is not reclaimed.
	require.NoError(t, jobs.Renew(ctx, a.ID, later.Add(time.Minute)))
	again, err := jobs.Claim(ctx, later, time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestJobStore_ClaimKeepsPerKeyOrder(t *testing.T) {
	jobs := storage.NewJobStore(openDB(t))
	ctx := context.Background()

	first, second, other := newJob("k"), newJob("k"), newJob("other")
	require.NoError(t, jobs.Insert(ctx, first))
	require.NoError(t, jobs.Insert(ctx, second))
	require.NoError(t, jobs.Insert(ctx, other))

	now := time.Now()
	claimed, err := jobs.Claim(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, first.ID, claimed[0].ID)
	assert.Equal(t, other.ID, claimed[1].ID)

	require.NoError(t, jobs.Complete(ctx, first.ID, domain.IngestResult{Status: domain.StatusCreated, Identity: "id-1"}))

	claimed, err = jobs.Claim(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, second.ID, claimed[0].ID)

	done, err := jobs.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDone, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, "id-1", done.Result.Identity)
}

func TestJobStore_FailBuryRetry(t *testing.T) {
	jobs := storage.NewJobStore(openDB(t))
	ctx := context.Background()

	job := newJob("x")
	require.NoError(t, jobs.Insert(ctx, job))

	now := time.Now()
	_, err := jobs.Claim(ctx, now, time.Minute, 1)
	require.NoError(t, err)

	require.NoError(t, jobs.Fail(ctx, job.ID, "boom", now.Add(time.Hour)))
	claimed, err := jobs.Claim(ctx, now, time.Minute, 1)
	require.NoError(t, err)
	assert.Empty(t, claimed, "backoff delays the retry")

	require.NoError(t, jobs.Bury(ctx, job.ID, "gave up"))
	dead, err := jobs.ListByStatus(ctx, domain.JobDead, 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "gave up", dead[0].LastErr)

	require.NoError(t, jobs.Retry(ctx, job.ID))
	assert.ErrorIs(t, jobs.Retry(ctx, job.ID), domain.ErrNotFound, "only dead jobs are retried")

	claimed, err = jobs.Claim(ctx, time.Now(), time.Minute, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].Attempts)

	counts, err := jobs.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.JobRunning])
}

func TestJobStore_PurgeDone(t *testing.T) {
	jobs := storage.NewJobStore(openDB(t))
	ctx := context.Background()

	job := newJob("x")
	require.NoError(t, jobs.Insert(ctx, job))
	require.NoError(t, jobs.Complete(ctx, job.ID, domain.IngestResult{Status: domain.StatusSkipped}))

	n, err := jobs.PurgeDone(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// ─────────────────────────────────────────────────────────────
// CheckpointStore
// ─────────────────────────────────────────────────────────────

func TestCheckpointStore_ColdStartAndSave(t *testing.T) {
	cps := storage.NewCheckpointStore(openDB(t))
	ctx := context.Background()

	cp, err := cps.Load(ctx, "spreadsheet_data")
	require.NoError(t, err)
	assert.Equal(t, -1, cp.LastKnownCount)
	assert.True(t, cp.LastSuccessfulPush.IsZero())

	pushed := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, cps.Save(ctx, "spreadsheet_data", domain.Checkpoint{LastSuccessfulPush: pushed, LastKnownCount: 3}))
	require.NoError(t, cps.Save(ctx, "spreadsheet_data", domain.Checkpoint{LastSuccessfulPush: pushed.Add(time.Second), LastKnownCount: 4}))

	cp, err = cps.Load(ctx, "spreadsheet_data")
	require.NoError(t, err)
	assert.Equal(t, 4, cp.LastKnownCount)
	assert.True(t, pushed.Add(time.Second).Equal(cp.LastSuccessfulPush))
}

func TestCheckpointStore_PushLog(t *testing.T) {
	cps := storage.NewCheckpointStore(openDB(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, cps.RecordPush(ctx, "t", domain.PushAttempt{
			StartedAt: time.Now(), Updates: i, ValidIDs: 10,
		}))
	}
	require.NoError(t, cps.PrunePushes(ctx, "t", 3))

	recent, err := cps.RecentPushes(ctx, "t", 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, 4, recent[0].Updates, "newest first")
}
