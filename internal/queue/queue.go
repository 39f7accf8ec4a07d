// Package queue is the durable ingestion queue between the webhook and the
// merge engine. Jobs are written to the metadata database before Enqueue
// returns and are marked done only after the engine accepted them, so delivery
// is at-least-once across crashes.
package queue

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"sheetsync/internal/domain"
	"sheetsync/internal/engine"
	"sheetsync/internal/schema"
	"sheetsync/internal/storage"

	"github.com/google/uuid"
)

// Processor applies one request. The merge engine satisfies it.
type Processor interface {
	Ingest(ctx context.Context, req domain.SyncRequest) (domain.IngestResult, error)
}

// Config controls workers and retries.
type Config struct {
	Lanes        int           `mapstructure:"lanes"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	JobTimeout   time.Duration `mapstructure:"job_timeout"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BackoffMax   time.Duration `mapstructure:"backoff_max"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	RetainDone   time.Duration `mapstructure:"retain_done"`
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		Lanes:        4,
		MaxAttempts:  5,
		JobTimeout:   30 * time.Second,
		BackoffBase:  time.Second,
		BackoffMax:   5 * time.Minute,
		PollInterval: time.Second,
		RetainDone:   24 * time.Hour,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Lanes <= 0 {
		c.Lanes = d.Lanes
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.RetainDone <= 0 {
		c.RetainDone = d.RetainDone
	}
}

type outcome struct {
	result domain.IngestResult
	err    error
}

// Queue dispatches persisted jobs to a fixed set of worker lanes.
type Queue struct {
	jobs   *storage.JobStore
	proc   Processor
	cfg    Config
	logger *log.Logger

	signal chan struct{} // wakes the dispatcher (buffered, size 1)
	lanes  []chan domain.IngestJob

	mu       sync.Mutex
	waiters  map[string]chan outcome
	inflight map[string]struct{} // claimed by this process, not finished
	closed  bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Queue. If logger is nil, a default logger writing to stderr is
// used. Call Start to begin processing.
func New(jobs *storage.JobStore, proc Processor, cfg Config, logger *log.Logger) *Queue {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	lanes := make([]chan domain.IngestJob, cfg.Lanes)
	for i := range lanes {
		lanes[i] = make(chan domain.IngestJob)
	}
	return &Queue{
		jobs:    jobs,
		proc:    proc,
		cfg:     cfg,
		logger:  logger,
		signal:  make(chan struct{}, 1),
		lanes:   lanes,
		waiters:  make(map[string]chan outcome),
		inflight: make(map[string]struct{}),
	}
}

// Start launches the dispatcher and the lane workers. Jobs left pending or
// leased by a previous process are picked up on the first pass.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	ctx, q.cancel = context.WithCancel(ctx)
	for _, lane := range q.lanes {
		q.wg.Add(1)
		go q.work(ctx, lane)
	}
	q.wg.Add(1)
	go q.dispatch(ctx)
	q.wake()
}

// Stop stops accepting jobs and waits for in-flight ones to finish. Jobs still
// pending stay in the database for the next Start.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.closed = true
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
}

// Enqueue persists a request and returns its job ID.
func (q *Queue) Enqueue(ctx context.Context, req domain.SyncRequest) (string, error) {
	job := &domain.IngestJob{ID: uuid.New().String(), Key: KeyFor(req), Request: req}
	if err := q.insert(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Submit enqueues a request and waits up to wait for its result. When the job
// does not finish in time the result has status queued and carries the job ID;
// the job keeps running in the background.
func (q *Queue) Submit(ctx context.Context, req domain.SyncRequest, wait time.Duration) (domain.IngestResult, error) {
	job := &domain.IngestJob{ID: uuid.New().String(), Key: KeyFor(req), Request: req}
	ch := make(chan outcome, 1)

	q.mu.Lock()
	q.waiters[job.ID] = ch
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		delete(q.waiters, job.ID)
		q.mu.Unlock()
	}()

	if err := q.insert(ctx, job); err != nil {
		return domain.IngestResult{}, err
	}

	queued := domain.IngestResult{Status: domain.StatusQueued, JobID: job.ID}
	if wait <= 0 {
		return queued, nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.err != nil {
			return domain.IngestResult{JobID: job.ID}, out.err
		}
		out.result.JobID = job.ID
		return out.result, nil
	case <-timer.C:
		return queued, nil
	case <-ctx.Done():
		return queued, nil
	}
}

// Retry requeues a dead job.
func (q *Queue) Retry(ctx context.Context, id string) error {
	if err := q.jobs.Retry(ctx, id); err != nil {
		return err
	}
	q.logger.Printf("job %s requeued", id)
	q.wake()
	return nil
}

// Dead lists jobs that exhausted their attempts.
func (q *Queue) Dead(ctx context.Context, limit int) ([]domain.IngestJob, error) {
	return q.jobs.ListByStatus(ctx, domain.JobDead, limit)
}

// Stats returns the number of jobs per status.
func (q *Queue) Stats(ctx context.Context) (map[domain.JobStatus]int, error) {
	return q.jobs.Counts(ctx)
}

func (q *Queue) insert(ctx context.Context, job *domain.IngestJob) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return domain.ErrQueueClosed
	}
	if err := q.jobs.Insert(ctx, job); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	q.wake()
	return nil
}

// wake nudges the dispatcher without blocking.
func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// ── Dispatch ───────────────────────────────────────────────

func (q *Queue) dispatch(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	lastPurge := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.signal:
		case <-ticker.C:
		}

		for q.claimBatch(ctx) {
		}

		if time.Since(lastPurge) > time.Hour {
			lastPurge = time.Now()
			if n, err := q.jobs.PurgeDone(ctx, time.Now().Add(-q.cfg.RetainDone)); err != nil {
				q.logger.Printf("purge: %v", err)
			} else if n > 0 {
				q.logger.Printf("purged %d finished job(s)", n)
			}
		}
	}
}

// claimBatch leases runnable jobs and hands each to its lane. It reports
// whether a full batch was claimed, meaning more may be waiting.
func (q *Queue) claimBatch(ctx context.Context) bool {
	// Jobs still waiting for a lane or running here are skipped even after
	// their lease ran out; the worker renews the lease on pickup.
	batch, err := q.jobs.Claim(ctx, time.Now(), q.lease(), len(q.lanes), q.held()...)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			q.logger.Printf("claim: %v", err)
		}
		return false
	}

	q.mu.Lock()
	for _, job := range batch {
		q.inflight[job.ID] = struct{}{}
	}
	q.mu.Unlock()

	for i, job := range batch {
		select {
		case q.lanes[laneFor(job.Key, len(q.lanes))] <- job:
		case <-ctx.Done():
			// Unsent jobs go back to the lease-expiry path for the next Start.
			q.release(batch[i:]...)
			return false
		}
	}
	return len(batch) == len(q.lanes)
}

// lease bounds how long a claimed job stays invisible to other claimers
// before a worker picks it up and renews it.
func (q *Queue) lease() time.Duration {
	return q.cfg.JobTimeout + time.Second
}

func (q *Queue) held() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.inflight))
	for id := range q.inflight {
		ids = append(ids, id)
	}
	return ids
}

func (q *Queue) release(jobs ...domain.IngestJob) {
	q.mu.Lock()
	for _, job := range jobs {
		delete(q.inflight, job.ID)
	}
	q.mu.Unlock()
}

func (q *Queue) work(ctx context.Context, lane <-chan domain.IngestJob) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-lane:
			q.process(job)
		}
	}
}

// process runs one job to completion on its own context, so a job in flight
// during Stop still records its outcome.
func (q *Queue) process(job domain.IngestJob) {
	defer q.release(job)
	if err := q.jobs.Renew(context.Background(), job.ID, time.Now().Add(q.lease())); err != nil {
		q.logger.Printf("job %s: %v", job.ID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.JobTimeout)
	res, err := q.proc.Ingest(ctx, job.Request)
	cancel()

	bg := context.Background()
	if err == nil {
		if cerr := q.jobs.Complete(bg, job.ID, res); cerr != nil {
			q.logger.Printf("job %s: record completion: %v", job.ID, cerr)
		}
		q.logger.Printf("job %s completed: %s %s", job.ID, res.Status, res.Identity)
		q.notify(job.ID, outcome{result: res})
		return
	}

	if job.Attempts >= q.cfg.MaxAttempts {
		q.logger.Printf("job %s failed permanently after %d attempt(s): %v (headers=%v row=%v)",
			job.ID, job.Attempts, err, job.Request.Headers, job.Request.Row)
		if berr := q.jobs.Bury(bg, job.ID, err.Error()); berr != nil {
			q.logger.Printf("job %s: bury: %v", job.ID, berr)
		}
		q.notify(job.ID, outcome{err: err})
		return
	}

	delay := q.backoff(job.Attempts)
	q.logger.Printf("job %s failed (attempt %d/%d), retrying in %s: %v",
		job.ID, job.Attempts, q.cfg.MaxAttempts, delay, err)
	if ferr := q.jobs.Fail(bg, job.ID, err.Error(), time.Now().Add(delay)); ferr != nil {
		q.logger.Printf("job %s: record failure: %v", job.ID, ferr)
	}
}

func (q *Queue) notify(id string, out outcome) {
	q.mu.Lock()
	ch, ok := q.waiters[id]
	q.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- out:
	default:
	}
}

// backoff doubles from BackoffBase per attempt, capped at BackoffMax.
func (q *Queue) backoff(attempt int) time.Duration {
	d := q.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= q.cfg.BackoffMax {
			return q.cfg.BackoffMax
		}
	}
	return d
}

// ── Keys ───────────────────────────────────────────────────

// KeyFor returns the ordering key of a request: its identity when present,
// else the first non-empty primary value. Requests with neither share the
// empty key and are not ordered relative to each other.
func KeyFor(req domain.SyncRequest) string {
	for k, v := range req.Row {
		if schema.IsIdentity(k) {
			if id := strings.TrimSpace(engine.Text(v)); id != "" {
				return "id:" + id
			}
		}
	}
	for _, h := range req.Headers {
		if strings.TrimSpace(h) == "" || schema.IsReserved(h) {
			continue
		}
		v, ok := req.Row[h]
		if !ok {
			return ""
		}
		if text := engine.Text(v); text != "" {
			return "p:" + schema.Normalize(h) + "=" + text
		}
		return ""
	}
	return ""
}

func laneFor(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
