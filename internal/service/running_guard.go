package service

import (
	"context"
	"sync"
)

// ExportedRunningGuard is an exported alias so _test packages can test the guard.
type ExportedRunningGuard = runningGuard

// ─────────────────────────────────────────────────────────────
// runningGuard: one manual run per operation name
// ─────────────────────────────────────────────────────────────

// runningGuard keeps a manual operation (a poll, a reconcile) from being
// started twice at once and lets Close wait for whatever is in flight.
type runningGuard struct {
	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// TryLock marks op as running. Returns false if it already is.
func (g *runningGuard) TryLock(op string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = make(map[string]struct{})
	}
	if _, ok := g.running[op]; ok {
		return false
	}
	g.running[op] = struct{}{}
	g.wg.Add(1)
	return true
}

// Unlock releases op. Only call it after a successful TryLock.
func (g *runningGuard) Unlock(op string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, op)
	g.wg.Done()
}

// WaitAll blocks until nothing is running or ctx is done.
func (g *runningGuard) WaitAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
