// Package poller pushes store-side changes back to the source. Every tick it
// reads the records changed since the last successful push (minus a safety
// buffer) and the full identity list, and posts both when anything moved.
package poller

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"sheetsync/internal/domain"

	"github.com/robfig/cron/v3"
)

const (
	DefaultInterval     = 10 * time.Second
	DefaultSafetyBuffer = 5 * time.Second
	DefaultPushTimeout  = 30 * time.Second
)

// Config controls the poll cadence and the outbound push.
type Config struct {
	Enabled      bool          `mapstructure:"enabled"`
	WebhookURL   string        `mapstructure:"webhook_url"`
	Interval     time.Duration `mapstructure:"interval"`
	SafetyBuffer time.Duration `mapstructure:"safety_buffer"`
	PushTimeout  time.Duration `mapstructure:"push_timeout"`
	KeepPushLog  int           `mapstructure:"keep_push_log"`
}

// CheckpointStore persists the poller position and push history.
type CheckpointStore interface {
	Load(ctx context.Context, name string) (domain.Checkpoint, error)
	Save(ctx context.Context, name string, cp domain.Checkpoint) error
	RecordPush(ctx context.Context, name string, a domain.PushAttempt) error
	PrunePushes(ctx context.Context, name string, keep int) error
}

// TickResult describes one poll.
type TickResult struct {
	Updates       int  `json:"updates"`
	Total         int  `json:"total"`
	PreviousCount int  `json:"previousCount"`
	Pushed        bool `json:"pushed"`
}

// Poller is the single owner of the checkpoint.
type Poller struct {
	store       domain.TableStore
	notifier    Notifier
	checkpoints CheckpointStore
	logger      *log.Logger
	now         func() time.Time

	interval     time.Duration
	safetyBuffer time.Duration
	pushTimeout  time.Duration
	keepLog      int
	enabled      atomic.Bool

	tickMu sync.Mutex
	cp     *domain.Checkpoint // loaded lazily; guarded by tickMu
	rerun  atomic.Bool

	cronSched *cron.Cron
	wg        sync.WaitGroup
	lifeMu    sync.Mutex
	stopped   bool // guarded by lifeMu; Trigger is a no-op once set
}

// New creates a Poller. If logger is nil, a default logger writing to stderr
// is used.
func New(store domain.TableStore, notifier Notifier, checkpoints CheckpointStore, cfg Config, logger *log.Logger) *Poller {
	if logger == nil {
		logger = log.New(os.Stderr, "[poller] ", log.LstdFlags)
	}
	p := &Poller{
		store:        store,
		notifier:     notifier,
		checkpoints:  checkpoints,
		logger:       logger,
		now:          time.Now,
		interval:     cfg.Interval,
		safetyBuffer: cfg.SafetyBuffer,
		pushTimeout:  cfg.PushTimeout,
		keepLog:      cfg.KeepPushLog,
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.safetyBuffer < 0 {
		p.safetyBuffer = 0
	} else if p.safetyBuffer == 0 {
		p.safetyBuffer = DefaultSafetyBuffer
	}
	if p.pushTimeout <= 0 {
		p.pushTimeout = DefaultPushTimeout
	}
	if p.keepLog <= 0 {
		p.keepLog = 1000
	}
	p.enabled.Store(cfg.Enabled)
	return p
}

// SetClock replaces the time source.
func (p *Poller) SetClock(now func() time.Time) { p.now = now }

// SetEnabled turns outbound pushes on or off. A disabled poller still reads
// but never advances the checkpoint.
func (p *Poller) SetEnabled(on bool) {
	if p.enabled.Swap(on) != on {
		p.logger.Printf("outbound push enabled=%v", on)
	}
}

// Enabled reports whether pushes are on.
func (p *Poller) Enabled() bool { return p.enabled.Load() }

// Checkpoint returns the current position, loading it on first use.
func (p *Poller) Checkpoint(ctx context.Context) (domain.Checkpoint, error) {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()
	return p.checkpointLocked(ctx)
}

func (p *Poller) checkpointLocked(ctx context.Context) (domain.Checkpoint, error) {
	if p.cp != nil {
		return *p.cp, nil
	}
	cp, err := p.checkpoints.Load(ctx, p.store.Table())
	if err != nil {
		return domain.Checkpoint{}, err
	}
	p.cp = &cp
	return cp, nil
}

// Tick runs one poll. Ticks never overlap; a concurrent caller waits.
func (p *Poller) Tick(ctx context.Context) (TickResult, error) {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	cp, err := p.checkpointLocked(ctx)
	if err != nil {
		return TickResult{}, fmt.Errorf("load checkpoint: %w", err)
	}

	since := cp.LastSuccessfulPush.Add(-p.safetyBuffer)
	if cp.LastSuccessfulPush.IsZero() {
		since = time.Time{}
	}

	changed, err := p.store.ChangedSince(ctx, since)
	if err != nil {
		return TickResult{}, fmt.Errorf("read changes: %w", err)
	}
	ids, err := p.store.ListIdentities(ctx)
	if err != nil {
		return TickResult{}, fmt.Errorf("read identities: %w", err)
	}

	res := TickResult{Updates: len(changed), Total: len(ids), PreviousCount: cp.LastKnownCount}
	if len(changed) == 0 && len(ids) == cp.LastKnownCount {
		return res, nil
	}
	if !p.enabled.Load() || p.notifier == nil {
		return res, nil
	}

	if changed == nil {
		changed = []domain.Record{}
	}
	if ids == nil {
		ids = []string{}
	}

	started := p.now()
	pushCtx, cancel := context.WithTimeout(ctx, p.pushTimeout)
	pushErr := p.notifier.Push(pushCtx, domain.PushPayload{Updates: changed, ValidIDs: ids})
	cancel()

	attempt := domain.PushAttempt{
		StartedAt:  started,
		Updates:    len(changed),
		ValidIDs:   len(ids),
		DurationMs: p.now().Sub(started).Milliseconds(),
	}
	if pushErr != nil {
		attempt.Error = pushErr.Error()
	}
	p.recordPush(ctx, attempt)

	if pushErr != nil {
		// Checkpoint stays put so the same window is retried next tick.
		return res, fmt.Errorf("push: %w", pushErr)
	}

	next := domain.Checkpoint{LastSuccessfulPush: p.now(), LastKnownCount: len(ids)}
	p.cp = &next
	if err := p.checkpoints.Save(ctx, p.store.Table(), next); err != nil {
		p.logger.Printf("save checkpoint: %v", err)
	}
	res.Pushed = true
	p.logger.Printf("pushed %d update(s), total rows %d (previous %d)", len(changed), len(ids), cp.LastKnownCount)
	return res, nil
}

func (p *Poller) recordPush(ctx context.Context, a domain.PushAttempt) {
	table := p.store.Table()
	if err := p.checkpoints.RecordPush(ctx, table, a); err != nil {
		p.logger.Printf("record push: %v", err)
		return
	}
	if err := p.checkpoints.PrunePushes(ctx, table, p.keepLog); err != nil {
		p.logger.Printf("prune push log: %v", err)
	}
}

// Trigger runs a tick soon without waiting for the schedule. If a tick is in
// progress, one more runs right after it. After Stop it does nothing.
func (p *Poller) Trigger(ctx context.Context) {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	if p.stopped {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if !p.tickMu.TryLock() {
			p.rerun.Store(true)
			return
		}
		p.tickMu.Unlock()
		p.run(ctx)
	}()
}

// run ticks, then repeats while a trigger arrived during the tick.
func (p *Poller) run(ctx context.Context) {
	for {
		p.rerun.Store(false)
		if _, err := p.Tick(ctx); err != nil {
			p.logger.Printf("tick: %v", err)
		}
		if !p.rerun.Load() || ctx.Err() != nil {
			return
		}
	}
}

// Start schedules ticks every interval. Errors are logged, never fatal.
func (p *Poller) Start(ctx context.Context) error {
	p.lifeMu.Lock()
	p.stopped = false
	p.lifeMu.Unlock()

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(p.logger))))
	spec := fmt.Sprintf("@every %s", p.interval)
	if _, err := c.AddFunc(spec, func() { p.run(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	c.Start()
	p.cronSched = c
	p.logger.Printf("polling %s every %s", p.store.Table(), p.interval)
	return nil
}

// Stop halts the schedule, refuses further triggers and waits for running
// ticks.
func (p *Poller) Stop() {
	p.lifeMu.Lock()
	p.stopped = true
	p.lifeMu.Unlock()

	if p.cronSched != nil {
		<-p.cronSched.Stop().Done()
		p.cronSched = nil
	}
	p.wg.Wait()
}
