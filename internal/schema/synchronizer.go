package schema

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"sheetsync/internal/domain"
)

// DefaultSnapshotTTL bounds how long a cached column list is trusted before the
// store is introspected again. Columns added by another process become
// visible after at most this long.
const DefaultSnapshotTTL = 30 * time.Second

// Synchronizer owns structural changes to the synced table.
//
// Row writes never take its lock; only column additions and drops do, so
// concurrent EnsureSchema calls with different header sets cannot interleave
// their DDL, and a reconcile drop cannot race an ingestion add.
type Synchronizer struct {
	store  domain.TableStore
	logger *log.Logger
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	ready    bool // table exists
	cached   []domain.Column
	cachedAt time.Time
}

// NewSynchronizer creates a Synchronizer. If logger is nil, a default logger
// writing to stderr is used.
func NewSynchronizer(store domain.TableStore, logger *log.Logger) *Synchronizer {
	if logger == nil {
		logger = log.New(os.Stderr, "[schema] ", log.LstdFlags)
	}
	return &Synchronizer{
		store:  store,
		logger: logger,
		ttl:    DefaultSnapshotTTL,
		now:    time.Now,
	}
}

// SetSnapshotTTL changes how long the cached column list is reused. Zero
// disables caching.
func (s *Synchronizer) SetSnapshotTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttl = ttl
	s.cached = nil
}

// EnsureSchema makes sure the table has a column for every header and returns
// the resulting snapshot. Calling it twice with the same headers issues no DDL
// the second time.
func (s *Synchronizer) EnsureSchema(ctx context.Context, headers []string) (domain.SchemaSnapshot, error) {
	incoming := NormalizeHeaders(headers)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.columnsLocked(ctx)
	if err != nil {
		return domain.SchemaSnapshot{}, err
	}

	missing := Diff(current, incoming)
	if len(missing) == 0 {
		return s.snapshot(current), nil
	}
	for _, h := range headers {
		if Shortened(h) {
			s.logger.Printf("header %q is stored as column %q (headers=%v)", h, Normalize(h), headers)
		}
	}

	for _, col := range missing {
		if !ValidIdentifier(col.Name) {
			return domain.SchemaSnapshot{}, fmt.Errorf("add column %q: %w", col.Name, domain.ErrInvalidColumn)
		}
		if err := s.store.AddColumn(ctx, col.Name); err != nil {
			s.cached = nil
			return domain.SchemaSnapshot{}, fmt.Errorf("add column %q: %w", col.Name, err)
		}
		current = append(current, col)
	}
	s.cached = current
	s.cachedAt = s.now()

	s.logger.Printf("added %d column(s) to %s: %v", len(missing), s.store.Table(), names(missing))
	return s.snapshot(current), nil
}

// Snapshot returns the current column set without changing it.
func (s *Synchronizer) Snapshot(ctx context.Context) (domain.SchemaSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.columnsLocked(ctx)
	if err != nil {
		return domain.SchemaSnapshot{}, err
	}
	return s.snapshot(current), nil
}

// DropColumn removes a user column. System columns are refused.
func (s *Synchronizer) DropColumn(ctx context.Context, name string) error {
	if Role(name) != domain.RoleUser {
		return fmt.Errorf("drop column %q: %w", name, domain.ErrProtectedColumn)
	}
	if !ValidIdentifier(name) {
		return fmt.Errorf("drop column %q: %w", name, domain.ErrInvalidColumn)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cached = nil
	if err := s.store.DropColumn(ctx, name); err != nil {
		return fmt.Errorf("drop column %q: %w", name, err)
	}
	s.logger.Printf("dropped column %s.%s", s.store.Table(), name)
	return nil
}

// Invalidate forgets the cached snapshot.
func (s *Synchronizer) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// columnsLocked returns the current columns, creating the table on first use.
// Must be called while holding s.mu.
func (s *Synchronizer) columnsLocked(ctx context.Context) ([]domain.Column, error) {
	if s.cached != nil && s.ttl > 0 && s.now().Sub(s.cachedAt) < s.ttl {
		return append([]domain.Column(nil), s.cached...), nil
	}
	if !s.ready {
		if err := s.store.EnsureTable(ctx); err != nil {
			return nil, fmt.Errorf("ensure table: %w", err)
		}
		s.ready = true
	}
	cols, err := s.store.Columns(ctx)
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	s.cached = cols
	s.cachedAt = s.now()
	return append([]domain.Column(nil), cols...), nil
}

func (s *Synchronizer) snapshot(cols []domain.Column) domain.SchemaSnapshot {
	return domain.SchemaSnapshot{
		Table:   s.store.Table(),
		Columns: append([]domain.Column(nil), cols...),
	}
}

func names(cols []domain.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}
