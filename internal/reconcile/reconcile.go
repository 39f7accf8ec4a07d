// Package reconcile prunes the store down to the source's authoritative state:
// rows whose identity the source no longer lists and user columns the source
// no longer has.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"sheetsync/internal/domain"
	"sheetsync/internal/schema"
)

// DeleteBatchSize bounds the identities removed by one DELETE statement.
const DeleteBatchSize = 500

// Reconciler runs prune passes. Only one pass runs at a time.
type Reconciler struct {
	store  domain.TableStore
	schema *schema.Synchronizer
	logger *log.Logger

	running sync.Mutex
}

// New creates a Reconciler. If logger is nil, a default logger writing to
// stderr is used.
func New(store domain.TableStore, sync *schema.Synchronizer, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	return &Reconciler{store: store, schema: sync, logger: logger}
}

// Reconcile deletes rows not in activeIDs and drops user columns not in
// activeColumns. An empty activeIDs means the source is empty and every row is
// removed. An empty activeColumns leaves the columns alone.
//
// Row and column operations are independent: one failing does not stop the
// rest. When anything failed the result lists it and the error wraps
// domain.ErrPartialReconcile. A second call while one is running returns
// domain.ErrBusy.
func (r *Reconciler) Reconcile(ctx context.Context, activeIDs, activeColumns []string) (domain.ReconcileResult, error) {
	if !r.running.TryLock() {
		return domain.ReconcileResult{}, domain.ErrBusy
	}
	defer r.running.Unlock()

	result := domain.ReconcileResult{ColumnsDropped: []string{}}
	r.pruneRows(ctx, activeIDs, &result)
	r.pruneColumns(ctx, activeColumns, &result)

	r.logger.Printf("reconcile: %d row(s) deleted (truncate=%v), columns dropped %v, %d failure(s)",
		result.RowsDeleted, result.Truncated, result.ColumnsDropped, len(result.Failures))

	if len(result.Failures) > 0 {
		return result, fmt.Errorf("%d operation(s) failed: %w", len(result.Failures), domain.ErrPartialReconcile)
	}
	return result, nil
}

func (r *Reconciler) pruneRows(ctx context.Context, activeIDs []string, result *domain.ReconcileResult) {
	if len(activeIDs) == 0 {
		// A source with zero rows is taken at its word.
		n, err := r.store.Truncate(ctx)
		if err != nil {
			result.Failures = append(result.Failures, domain.OpFailure{
				Operation: "truncate", Target: r.store.Table(), Error: err.Error(),
			})
			return
		}
		result.RowsDeleted = n
		result.Truncated = true
		return
	}

	active := make(map[string]bool, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = true
	}

	// Only identities read here are candidates, so rows inserted during the
	// pass survive it.
	stored, err := r.store.ListIdentities(ctx)
	if err != nil {
		result.Failures = append(result.Failures, domain.OpFailure{
			Operation: "delete_rows", Target: r.store.Table(), Error: err.Error(),
		})
		return
	}

	var stale []string
	for _, id := range stored {
		if !active[id] {
			stale = append(stale, id)
		}
	}

	for start := 0; start < len(stale); start += DeleteBatchSize {
		end := min(start+DeleteBatchSize, len(stale))
		n, err := r.store.Delete(ctx, stale[start:end])
		if err != nil {
			result.Failures = append(result.Failures, domain.OpFailure{
				Operation: "delete_rows",
				Target:    fmt.Sprintf("batch %d-%d", start, end),
				Error:     err.Error(),
			})
			continue
		}
		result.RowsDeleted += n
	}
}

func (r *Reconciler) pruneColumns(ctx context.Context, activeColumns []string, result *domain.ReconcileResult) {
	if len(activeColumns) == 0 {
		return
	}
	keep := schema.NormalizeHeaders(activeColumns)

	// Read straight from the store; a cached snapshot could miss a column
	// another process added.
	r.schema.Invalidate()
	snap, err := r.schema.Snapshot(ctx)
	if err != nil {
		result.Failures = append(result.Failures, domain.OpFailure{
			Operation: "drop_column", Target: "*", Error: err.Error(),
		})
		return
	}

	for _, name := range schema.Stale(snap.Columns, keep) {
		if err := r.schema.DropColumn(ctx, name); err != nil {
			result.Failures = append(result.Failures, domain.OpFailure{
				Operation: "drop_column", Target: name, Error: err.Error(),
			})
			continue
		}
		result.ColumnsDropped = append(result.ColumnsDropped, name)
	}
}
