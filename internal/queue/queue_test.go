package queue_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sheetsync/internal/domain"
	"sheetsync/internal/queue"
	"sheetsync/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingProcessor records the rows it sees and fails the first failN calls.
type recordingProcessor struct {
	mu    sync.Mutex
	seen  []string
	failN int
	calls int
	delay time.Duration
}

func (p *recordingProcessor) Ingest(ctx context.Context, req domain.SyncRequest) (domain.IngestResult, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failN {
		return domain.IngestResult{}, errors.New("store unreachable")
	}
	p.seen = append(p.seen, fmt.Sprint(req.Row["Value"]))
	return domain.IngestResult{Status: domain.StatusCreated, Identity: "id-" + fmt.Sprint(req.Row["Value"])}, nil
}

func (p *recordingProcessor) Seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

func testConfig() queue.Config {
	return queue.Config{
		Lanes:        2,
		MaxAttempts:  3,
		JobTimeout:   time.Second,
		BackoffBase:  5 * time.Millisecond,
		BackoffMax:   20 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}
}

func openJobs(t *testing.T) *storage.JobStore {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return storage.NewJobStore(db)
}

func startQueue(t *testing.T, jobs *storage.JobStore, proc queue.Processor, cfg queue.Config) *queue.Queue {
	t.Helper()
	q := queue.New(jobs, proc, cfg, nil)
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func request(key, value string) domain.SyncRequest {
	return domain.SyncRequest{
		Headers: []string{"Key", "Value"},
		Row:     map[string]any{"Key": key, "Value": value},
	}
}

// ─────────────────────────────────────────────────────────────
// Delivery
// ─────────────────────────────────────────────────────────────

func TestSubmit_WaitsForResult(t *testing.T) {
	proc := &recordingProcessor{}
	q := startQueue(t, openJobs(t), proc, testConfig())

	res, err := q.Submit(context.Background(), request("a", "1"), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, res.Status)
	assert.Equal(t, "id-1", res.Identity)
	assert.NotEmpty(t, res.JobID)
}

func TestSubmit_TimesOutAsQueued(t *testing.T) {
	proc := &recordingProcessor{delay: 200 * time.Millisecond}
	q := startQueue(t, openJobs(t), proc, testConfig())

	res, err := q.Submit(context.Background(), request("a", "1"), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, res.Status)
	assert.NotEmpty(t, res.JobID)

	require.Eventually(t, func() bool { return len(proc.Seen()) == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestQueue_RetriesWithBackoff(t *testing.T) {
	proc := &recordingProcessor{failN: 2}
	jobs := openJobs(t)
	q := startQueue(t, jobs, proc, testConfig())

	id, err := q.Enqueue(context.Background(), request("a", "1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(proc.Seen()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		job, err := jobs.Get(context.Background(), id)
		return err == nil && job.Status == domain.JobDone
	}, 5*time.Second, 10*time.Millisecond)

	job, err := jobs.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, job.Attempts)
}

func TestQueue_DeadLetterAndRetry(t *testing.T) {
	proc := &recordingProcessor{failN: 3}
	q := startQueue(t, openJobs(t), proc, testConfig())
	ctx := context.Background()

	id, err := q.Enqueue(ctx, request("a", "1"))
	require.NoError(t, err)

	var dead []domain.IngestJob
	require.Eventually(t, func() bool {
		dead, err = q.Dead(ctx, 10)
		return err == nil && len(dead) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, id, dead[0].ID)
	assert.Equal(t, "store unreachable", dead[0].LastErr)
	assert.Empty(t, proc.Seen())

	require.NoError(t, q.Retry(ctx, id))
	require.Eventually(t, func() bool { return len(proc.Seen()) == 1 }, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, q.Retry(ctx, "unknown"), domain.ErrNotFound)
}

func TestQueue_RedeliversAfterRestart(t *testing.T) {
	jobs := openJobs(t)
	ctx := context.Background()

	// A previous process enqueued and crashed mid-job.
	require.NoError(t, jobs.Insert(ctx, &domain.IngestJob{Key: "k", Request: request("k", "pending")}))
	require.NoError(t, jobs.Insert(ctx, &domain.IngestJob{Key: "j", Request: request("j", "leased")}))
	// Its lease has already run out.
	_, err := jobs.Claim(ctx, time.Now(), -time.Minute, 1)
	require.NoError(t, err)

	proc := &recordingProcessor{}
	startQueue(t, jobs, proc, testConfig())

	require.Eventually(t, func() bool { return len(proc.Seen()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"pending", "leased"}, proc.Seen())
}

func TestQueue_PreservesPerKeyOrder(t *testing.T) {
	proc := &recordingProcessor{delay: 2 * time.Millisecond}
	q := startQueue(t, openJobs(t), proc, testConfig())
	ctx := context.Background()

	var want []string
	for i := 0; i < 10; i++ {
		v := fmt.Sprint(i)
		want = append(want, v)
		_, err := q.Enqueue(ctx, request("same", v))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return len(proc.Seen()) == 10 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, proc.Seen())
}

func TestQueue_ClosedAfterStop(t *testing.T) {
	q := queue.New(openJobs(t), &recordingProcessor{}, testConfig(), nil)
	q.Start(context.Background())
	q.Stop()

	_, err := q.Enqueue(context.Background(), request("a", "1"))
	assert.ErrorIs(t, err, domain.ErrQueueClosed)
}

// ─────────────────────────────────────────────────────────────
// Keys
// ─────────────────────────────────────────────────────────────

func TestKeyFor(t *testing.T) {
	assert.Equal(t, "id:abc", queue.KeyFor(domain.SyncRequest{
		Headers: []string{"Name"},
		Row:     map[string]any{"Name": "Ann", "superjoin_id": "abc"},
	}))
	assert.Equal(t, "p:full_name=Ann", queue.KeyFor(domain.SyncRequest{
		Headers: []string{"", "Created At", "Full Name", "Email"},
		Row:     map[string]any{"Full Name": "Ann"},
	}))
	assert.Equal(t, "", queue.KeyFor(domain.SyncRequest{
		Headers: []string{"Name"},
		Row:     map[string]any{"Email": "a@x"},
	}))
	assert.Equal(t, "", queue.KeyFor(domain.SyncRequest{}))
}
