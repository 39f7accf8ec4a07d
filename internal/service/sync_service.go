package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"sheetsync/internal/domain"
	"sheetsync/internal/engine"
	"sheetsync/internal/poller"
	"sheetsync/internal/queue"
	"sheetsync/internal/reconcile"
	"sheetsync/internal/schema"
)

// ─────────────────────────────────────────────────────────────
// Sync Service: the operations exposed over HTTP, MCP and the CLI
// ─────────────────────────────────────────────────────────────

// DefaultSubmitWait is how long an inbound edit waits for its job before the
// caller gets a queued answer.
const DefaultSubmitWait = 5 * time.Second

// Deps wires a SyncService. Queue and Poller may be nil: without a queue
// edits are applied inline, without a poller manual polls are refused.
type Deps struct {
	Store      domain.TableStore
	Schema     *schema.Synchronizer
	Engine     *engine.Engine
	Queue      *queue.Queue
	Poller     *poller.Poller
	Reconciler *reconcile.Reconciler
	Emitter    EventEmitter
	Logger     *log.Logger

	// SubmitWait bounds how long Ingest waits for a queued job.
	SubmitWait time.Duration
}

// SyncService validates requests at the boundary and routes them to the
// engine, queue, reconciler and poller.
type SyncService struct {
	store      domain.TableStore
	schema     *schema.Synchronizer
	engine     *engine.Engine
	queue      *queue.Queue
	poller     *poller.Poller
	reconciler *reconcile.Reconciler
	emitter    EventEmitter
	logger     *log.Logger
	wait       time.Duration
	now        func() time.Time

	guard runningGuard

	// bg outlives single requests; poll triggers run on it.
	bg       context.Context
	bgCancel context.CancelFunc
}

// NewSyncService creates a SyncService.
func NewSyncService(d Deps) *SyncService {
	if d.Logger == nil {
		d.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if d.Emitter == nil {
		d.Emitter = LogEmitter{Logger: d.Logger}
	}
	if d.SubmitWait <= 0 {
		d.SubmitWait = DefaultSubmitWait
	}
	bg, cancel := context.WithCancel(context.Background())
	return &SyncService{
		store:      d.Store,
		schema:     d.Schema,
		engine:     d.Engine,
		queue:      d.Queue,
		poller:     d.Poller,
		reconciler: d.Reconciler,
		emitter:    d.Emitter,
		logger:     d.Logger,
		wait:       d.SubmitWait,
		now:        time.Now,
		bg:         bg,
		bgCancel:   cancel,
	}
}

// Close stops background triggers and waits for manual runs to finish.
func (s *SyncService) Close(ctx context.Context) {
	s.bgCancel()
	s.guard.WaitAll(ctx)
}

// ── Ingest ─────────────────────────────────────────────────

// ValidateRequest rejects requests that can never be applied.
func ValidateRequest(req domain.SyncRequest) error {
	if len(req.Headers) == 0 {
		return fmt.Errorf("%w: headers are required", domain.ErrInvalidInput)
	}
	if req.Row == nil {
		return fmt.Errorf("%w: row is required", domain.ErrInvalidInput)
	}
	for _, h := range req.Headers {
		if strings.TrimSpace(h) != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: headers are all empty", domain.ErrInvalidInput)
}

// Ingest accepts one row edit from the source. With a queue the edit is
// persisted first and the result is whatever the job produced within the
// submit wait, or a queued status with the job ID.
func (s *SyncService) Ingest(ctx context.Context, req domain.SyncRequest) (domain.IngestResult, error) {
	if err := ValidateRequest(req); err != nil {
		return domain.IngestResult{}, err
	}

	var (
		res domain.IngestResult
		err error
	)
	if s.queue != nil {
		res, err = s.queue.Submit(ctx, req, s.wait)
	} else {
		res, err = s.engine.Ingest(ctx, req)
	}
	if err != nil {
		s.logger.Printf("ingest failed: %v (headers=%v)", err, req.Headers)
		return res, err
	}
	s.emitter.Emit(ctx, EventRowIngested, res)
	return res, nil
}

// ── Dashboard ──────────────────────────────────────────────

// ListRecords returns every record, oldest first.
func (s *SyncService) ListRecords(ctx context.Context) ([]domain.Record, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	if recs == nil {
		recs = []domain.Record{}
	}
	return recs, nil
}

// GetRecord returns one record or domain.ErrNotFound.
func (s *SyncService) GetRecord(ctx context.Context, id string) (*domain.Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: identity is required", domain.ErrInvalidInput)
	}
	return s.store.Get(ctx, id)
}

// ResolveColumn checks a column named by an editor. The raw name must be a
// plain identifier, must not be an engine-owned column, and must exist.
func (s *SyncService) ResolveColumn(ctx context.Context, raw string) (string, error) {
	if !schema.ValidIdentifier(raw) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidColumn, raw)
	}
	if schema.IsReserved(raw) {
		return "", fmt.Errorf("%w: %q", domain.ErrProtectedColumn, raw)
	}
	col := schema.Normalize(raw)
	snap, err := s.schema.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	if !snap.Has(col) {
		// The cache may predate a column another process just added.
		s.schema.Invalidate()
		if snap, err = s.schema.Snapshot(ctx); err != nil {
			return "", err
		}
		if !snap.Has(col) {
			return "", fmt.Errorf("%w: %q", domain.ErrUnknownColumn, raw)
		}
	}
	return col, nil
}

// UpdateCell writes one value from the dashboard and schedules a push so the
// source sees it on the next tick.
func (s *SyncService) UpdateCell(ctx context.Context, u domain.CellUpdate) error {
	if strings.TrimSpace(u.Identity) == "" {
		return fmt.Errorf("%w: superjoin_id is required", domain.ErrInvalidInput)
	}
	col, err := s.ResolveColumn(ctx, u.Column)
	if err != nil {
		return err
	}

	ok, err := s.store.UpdateFields(ctx, u.Identity, map[string]string{col: engine.Text(u.Value)}, s.now())
	if err != nil {
		return fmt.Errorf("update cell: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, u.Identity)
	}

	s.logger.Printf("cell %s.%s updated", u.Identity, col)
	s.emitter.Emit(ctx, EventCellUpdated, u)
	s.triggerPoll()
	return nil
}

// DeleteRow removes one record.
func (s *SyncService) DeleteRow(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: identity is required", domain.ErrInvalidInput)
	}
	n, err := s.store.Delete(ctx, []string{id})
	if err != nil {
		return fmt.Errorf("delete row: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	s.emitter.Emit(ctx, EventRowDeleted, map[string]string{"superjoin_id": id})
	s.triggerPoll()
	return nil
}

// Schema returns the current column set.
func (s *SyncService) Schema(ctx context.Context) (domain.SchemaSnapshot, error) {
	return s.schema.Snapshot(ctx)
}

// ── Reconcile ──────────────────────────────────────────────

// Reconcile prunes rows and columns the source no longer has. A partial
// failure returns the result together with an error wrapping
// domain.ErrPartialReconcile.
func (s *SyncService) Reconcile(ctx context.Context, req domain.ReconcileRequest) (domain.ReconcileResult, error) {
	res, err := s.reconciler.Reconcile(ctx, req.ActiveIdentities, req.ActiveColumns)
	if err != nil && !errors.Is(err, domain.ErrPartialReconcile) {
		return res, err
	}
	s.emitter.Emit(ctx, EventReconciled, res)
	return res, err
}

// ── Queue ──────────────────────────────────────────────────

// DeadJobs lists jobs that exhausted their attempts.
func (s *SyncService) DeadJobs(ctx context.Context, limit int) ([]domain.IngestJob, error) {
	if s.queue == nil {
		return []domain.IngestJob{}, nil
	}
	jobs, err := s.queue.Dead(ctx, limit)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []domain.IngestJob{}
	}
	return jobs, nil
}

// RetryJob requeues a dead job.
func (s *SyncService) RetryJob(ctx context.Context, id string) error {
	if s.queue == nil {
		return fmt.Errorf("%w: no queue configured", domain.ErrNotFound)
	}
	return s.queue.Retry(ctx, id)
}

// QueueStats returns job counts per status.
func (s *SyncService) QueueStats(ctx context.Context) (map[domain.JobStatus]int, error) {
	if s.queue == nil {
		return map[domain.JobStatus]int{}, nil
	}
	return s.queue.Stats(ctx)
}

// ── Poll ───────────────────────────────────────────────────

// PollNow runs one poll tick and waits for it.
func (s *SyncService) PollNow(ctx context.Context) (poller.TickResult, error) {
	if s.poller == nil {
		return poller.TickResult{}, errors.New("poller not configured")
	}
	if !s.guard.TryLock("poll") {
		return poller.TickResult{}, domain.ErrBusy
	}
	defer s.guard.Unlock("poll")

	res, err := s.poller.Tick(ctx)
	if err != nil {
		return res, err
	}
	s.emitter.Emit(ctx, EventPollCompleted, res)
	return res, nil
}

// Checkpoint returns the poller position.
func (s *SyncService) Checkpoint(ctx context.Context) (domain.Checkpoint, error) {
	if s.poller == nil {
		return domain.Checkpoint{}, errors.New("poller not configured")
	}
	return s.poller.Checkpoint(ctx)
}

func (s *SyncService) triggerPoll() {
	if s.poller == nil || !s.poller.Enabled() {
		return
	}
	s.poller.Trigger(s.bg)
}
