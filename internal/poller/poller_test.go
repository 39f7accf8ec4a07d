package poller_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sheetsync/internal/dbclient"
	"sheetsync/internal/domain"
	"sheetsync/internal/poller"
	"sheetsync/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNotifier records payloads and returns err when set.
type fakeNotifier struct {
	mu       sync.Mutex
	payloads []domain.PushPayload
	err      error
}

func (n *fakeNotifier) Push(_ context.Context, p domain.PushPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads = append(n.payloads, p)
	return n.err
}

func (n *fakeNotifier) setErr(err error) {
	n.mu.Lock()
	n.err = err
	n.mu.Unlock()
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.payloads)
}

func (n *fakeNotifier) last() domain.PushPayload {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.payloads[len(n.payloads)-1]
}

type fixture struct {
	store       domain.TableStore
	checkpoints *storage.CheckpointStore
	notifier    *fakeNotifier
	now         time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := dbclient.NewTableStore(&domain.DatabaseConnection{
		Driver: domain.DatabaseDriverSQLite,
		Host:   filepath.Join(dir, "data.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.EnsureTable(context.Background()))
	require.NoError(t, store.AddColumn(context.Background(), "name"))

	meta, err := storage.New(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	return &fixture{
		store:       store,
		checkpoints: storage.NewCheckpointStore(meta),
		notifier:    &fakeNotifier{},
		now:         time.UnixMilli(1_700_000_000_000),
	}
}

func (f *fixture) poller(enabled bool) *poller.Poller {
	p := poller.New(f.store, f.notifier, f.checkpoints, poller.Config{Enabled: enabled}, nil)
	p.SetClock(func() time.Time { return f.now })
	return p
}

func (f *fixture) insert(t *testing.T, id string, at time.Time) {
	t.Helper()
	require.NoError(t, f.store.Insert(context.Background(), domain.Record{
		ID: id, Fields: map[string]string{"name": id}, CreatedAt: at, UpdatedAt: at,
	}))
}

// ─────────────────────────────────────────────────────────────
// Tick
// ─────────────────────────────────────────────────────────────

func TestTick_ColdStartPushesEmptyTable(t *testing.T) {
	f := newFixture(t)
	p := f.poller(true)
	ctx := context.Background()

	res, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, res.Pushed, "count 0 differs from the cold-start -1")
	assert.Equal(t, -1, res.PreviousCount)

	payload := f.notifier.last()
	assert.NotNil(t, payload.Updates)
	assert.NotNil(t, payload.ValidIDs)
	assert.Empty(t, payload.ValidIDs)

	// Nothing moved: no second push.
	res, err = p.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, res.Pushed)
	assert.Equal(t, 1, f.notifier.count())
}

func TestTick_PushesChangesWithSafetyBuffer(t *testing.T) {
	f := newFixture(t)
	p := f.poller(true)
	ctx := context.Background()

	_, err := p.Tick(ctx)
	require.NoError(t, err)
	pushedAt := f.now

	// Written 3s before the last push but committed after it.
	f.insert(t, "late", pushedAt.Add(-3*time.Second))
	// Older than the buffer: not re-sent.
	f.insert(t, "old", pushedAt.Add(-time.Minute))

	f.now = f.now.Add(10 * time.Second)
	res, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, res.Pushed)

	payload := f.notifier.last()
	require.Len(t, payload.Updates, 1)
	assert.Equal(t, "late", payload.Updates[0].ID)
	assert.ElementsMatch(t, []string{"late", "old"}, payload.ValidIDs)

	cp, err := p.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cp.LastKnownCount)
	assert.True(t, f.now.Equal(cp.LastSuccessfulPush))
}

func TestTick_DeletionIsDetectedByCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insert(t, "a", f.now.Add(-time.Hour))
	f.insert(t, "b", f.now.Add(-time.Hour))

	p := f.poller(true)
	_, err := p.Tick(ctx)
	require.NoError(t, err)

	_, err = f.store.Delete(ctx, []string{"a"})
	require.NoError(t, err)

	f.now = f.now.Add(10 * time.Second)
	res, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, res.Pushed)
	assert.Equal(t, 0, res.Updates)
	assert.Equal(t, []string{"b"}, f.notifier.last().ValidIDs)
}

func TestTick_FailedPushKeepsCheckpoint(t *testing.T) {
	f := newFixture(t)
	p := f.poller(true)
	ctx := context.Background()

	_, err := p.Tick(ctx)
	require.NoError(t, err)
	before, err := p.Checkpoint(ctx)
	require.NoError(t, err)

	f.insert(t, "a", f.now.Add(time.Second))
	f.notifier.setErr(errors.New("source offline"))
	f.now = f.now.Add(10 * time.Second)

	_, err = p.Tick(ctx)
	require.Error(t, err)

	after, err := p.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// The same change goes out once the source is back.
	f.notifier.setErr(nil)
	f.now = f.now.Add(10 * time.Second)
	res, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, res.Pushed)
	require.Len(t, f.notifier.last().Updates, 1)

	pushes, err := f.checkpoints.RecentPushes(ctx, f.store.Table(), 10)
	require.NoError(t, err)
	require.Len(t, pushes, 3)
	assert.Equal(t, "", pushes[0].Error)
	assert.Contains(t, pushes[1].Error, "source offline")
}

func TestTick_DisabledNeverPushes(t *testing.T) {
	f := newFixture(t)
	p := f.poller(false)
	ctx := context.Background()
	f.insert(t, "a", f.now)

	res, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, res.Pushed)
	assert.Equal(t, 0, f.notifier.count())

	cp, err := p.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, -1, cp.LastKnownCount)

	p.SetEnabled(true)
	res, err = p.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, res.Pushed)
}

func TestCheckpoint_SurvivesRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insert(t, "a", f.now.Add(-time.Hour))

	_, err := f.poller(true).Tick(ctx)
	require.NoError(t, err)

	restarted := f.poller(true)
	cp, err := restarted.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cp.LastKnownCount)

	f.now = f.now.Add(time.Minute)
	res, err := restarted.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, res.Pushed)
}

func TestTrigger_RunsTick(t *testing.T) {
	f := newFixture(t)
	p := f.poller(true)

	p.Trigger(context.Background())
	require.Eventually(t, func() bool { return f.notifier.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	p.Stop()
}

func TestTrigger_AfterStopIsIgnored(t *testing.T) {
	f := newFixture(t)
	p := f.poller(true)
	p.Stop()

	p.Trigger(context.Background())
	p.Stop()
	assert.Equal(t, 0, f.notifier.count())

	cp, err := p.Checkpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -1, cp.LastKnownCount, "no tick ran")
}

func TestStart_SchedulesTicks(t *testing.T) {
	f := newFixture(t)
	p := poller.New(f.store, f.notifier, f.checkpoints, poller.Config{Enabled: true, Interval: time.Second}, nil)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return f.notifier.count() >= 1 }, 5*time.Second, 50*time.Millisecond)
	p.Stop()
}

// ─────────────────────────────────────────────────────────────
// HTTPNotifier
// ─────────────────────────────────────────────────────────────

func TestHTTPNotifier_PostsJSON(t *testing.T) {
	var got map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := poller.NewHTTPNotifier(srv.URL, time.Second)
	at := time.UnixMilli(1_700_000_000_000)
	err := n.Push(context.Background(), domain.PushPayload{
		Updates:  []domain.Record{{ID: "id-1", Fields: map[string]string{"name": "Ann"}, CreatedAt: at, UpdatedAt: at}},
		ValidIDs: []string{"id-1"},
	})
	require.NoError(t, err)

	require.Contains(t, got, "updates")
	require.Contains(t, got, "valid_ids")
	var updates []map[string]string
	require.NoError(t, json.Unmarshal(got["updates"], &updates))
	require.Len(t, updates, 1)
	assert.Equal(t, "id-1", updates[0]["superjoin_id"])
	assert.Equal(t, "Ann", updates[0]["name"])
}

func TestHTTPNotifier_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	n := poller.NewHTTPNotifier(srv.URL, time.Second)
	err := n.Push(context.Background(), domain.PushPayload{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	n.SetURL("")
	assert.Error(t, n.Push(context.Background(), domain.PushPayload{}))
}
