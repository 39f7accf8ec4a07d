package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"sheetsync/internal/dbclient"
	"sheetsync/internal/domain"
	"sheetsync/internal/reconcile"
	"sheetsync/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails DropColumn for the listed names and can block Truncate.
type flakyStore struct {
	domain.TableStore
	failDrop map[string]bool
	block    chan struct{}
	entered  chan struct{}
}

func (s *flakyStore) DropColumn(ctx context.Context, name string) error {
	if s.failDrop[name] {
		return errors.New("lock wait timeout")
	}
	return s.TableStore.DropColumn(ctx, name)
}

func (s *flakyStore) Truncate(ctx context.Context) (int64, error) {
	if s.block != nil {
		close(s.entered)
		<-s.block
	}
	return s.TableStore.Truncate(ctx)
}

func setup(t *testing.T, headers []string, ids ...string) (*flakyStore, *reconcile.Reconciler) {
	t.Helper()
	inner, err := dbclient.NewTableStore(&domain.DatabaseConnection{
		Driver: domain.DatabaseDriverSQLite,
		Host:   filepath.Join(t.TempDir(), "data.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { inner.Close() })

	store := &flakyStore{TableStore: inner, failDrop: map[string]bool{}}
	sync := schema.NewSynchronizer(store, nil)
	_, err = sync.EnsureSchema(context.Background(), headers)
	require.NoError(t, err)

	now := time.Now()
	for _, id := range ids {
		require.NoError(t, store.Insert(context.Background(), domain.Record{ID: id, CreatedAt: now, UpdatedAt: now}))
	}
	return store, reconcile.New(store, sync, nil)
}

func identities(t *testing.T, store domain.TableStore) []string {
	t.Helper()
	ids, err := store.ListIdentities(context.Background())
	require.NoError(t, err)
	return ids
}

func userColumns(t *testing.T, store domain.TableStore) []string {
	t.Helper()
	cols, err := store.Columns(context.Background())
	require.NoError(t, err)
	var names []string
	for _, c := range cols {
		if c.Role == domain.RoleUser {
			names = append(names, c.Name)
		}
	}
	return names
}

// ─────────────────────────────────────────────────────────────
// Rows
// ─────────────────────────────────────────────────────────────

func TestReconcile_DeletesRowsMissingUpstream(t *testing.T) {
	store, r := setup(t, []string{"Name"}, "a", "b", "c")

	res, err := r.Reconcile(context.Background(), []string{"a", "c", "not-stored"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsDeleted)
	assert.False(t, res.Truncated)
	assert.ElementsMatch(t, []string{"a", "c"}, identities(t, store))
}

func TestReconcile_EmptyActiveSetTruncates(t *testing.T) {
	store, r := setup(t, []string{"Name"}, "a", "b")

	res, err := r.Reconcile(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, int64(2), res.RowsDeleted)
	assert.Empty(t, identities(t, store))
}

func TestReconcile_DeletesInBatches(t *testing.T) {
	ids := make([]string, 0, 1200)
	for i := 0; i < 1200; i++ {
		ids = append(ids, fmt.Sprintf("id-%04d", i))
	}
	store, r := setup(t, []string{"Name"}, ids...)

	res, err := r.Reconcile(context.Background(), []string{"id-0007"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1199), res.RowsDeleted)
	assert.Equal(t, []string{"id-0007"}, identities(t, store))
}

func TestReconcile_IsIdempotent(t *testing.T) {
	store, r := setup(t, []string{"Name", "Email"}, "a", "b")
	ctx := context.Background()

	_, err := r.Reconcile(ctx, []string{"a"}, []string{"Name"})
	require.NoError(t, err)
	res, err := r.Reconcile(ctx, []string{"a"}, []string{"Name"})
	require.NoError(t, err)
	assert.Zero(t, res.RowsDeleted)
	assert.Empty(t, res.ColumnsDropped)
	assert.Equal(t, []string{"a"}, identities(t, store))
}

// ─────────────────────────────────────────────────────────────
// Columns
// ─────────────────────────────────────────────────────────────

func TestReconcile_DropsStaleColumnsKeepsProtected(t *testing.T) {
	store, r := setup(t, []string{"Name", "Email", "Phone"}, "a")

	// Raw headers are normalized; reserved names in the list are ignored.
	res, err := r.Reconcile(context.Background(), []string{"a"}, []string{" NAME ", "superjoin_id"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"email", "phone"}, res.ColumnsDropped)
	assert.Equal(t, []string{"name"}, userColumns(t, store))

	cols, err := store.Columns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SystemColumns(), cols[:3])
}

func TestReconcile_EmptyActiveColumnsLeavesSchema(t *testing.T) {
	store, r := setup(t, []string{"Name", "Email"}, "a")

	res, err := r.Reconcile(context.Background(), []string{"a"}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.ColumnsDropped)
	assert.Equal(t, []string{"name", "email"}, userColumns(t, store))
}

func TestReconcile_PartialFailureIsReported(t *testing.T) {
	store, r := setup(t, []string{"Name", "Email", "Phone"}, "a", "b")
	store.failDrop["email"] = true

	res, err := r.Reconcile(context.Background(), []string{"a"}, []string{"Name"})
	require.ErrorIs(t, err, domain.ErrPartialReconcile)

	assert.Equal(t, int64(1), res.RowsDeleted, "row pruning is independent of column failures")
	assert.Equal(t, []string{"phone"}, res.ColumnsDropped)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "drop_column", res.Failures[0].Operation)
	assert.Equal(t, "email", res.Failures[0].Target)
	assert.Contains(t, res.Failures[0].Error, "lock wait timeout")
	assert.Equal(t, []string{"name", "email"}, userColumns(t, store))
}

func TestReconcile_OneAtATime(t *testing.T) {
	store, r := setup(t, []string{"Name"}, "a")
	store.block = make(chan struct{})
	store.entered = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := r.Reconcile(context.Background(), nil, nil)
		done <- err
	}()
	<-store.entered

	_, err := r.Reconcile(context.Background(), []string{"a"}, nil)
	assert.ErrorIs(t, err, domain.ErrBusy)

	close(store.block)
	require.NoError(t, <-done)
}
