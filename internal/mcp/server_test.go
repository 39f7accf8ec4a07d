package mcpserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"sheetsync/internal/dbclient"
	"sheetsync/internal/domain"
	"sheetsync/internal/engine"
	"sheetsync/internal/reconcile"
	"sheetsync/internal/schema"
	"sheetsync/internal/service"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := dbclient.NewTableStore(&domain.DatabaseConnection{
		Driver: domain.DatabaseDriverSQLite,
		Host:   filepath.Join(t.TempDir(), "data.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	syncer := schema.NewSynchronizer(store, nil)
	svc := service.NewSyncService(service.Deps{
		Store:      store,
		Schema:     syncer,
		Engine:     engine.New(store, syncer, engine.Config{}, nil),
		Reconciler: reconcile.New(store, syncer, nil),
		Emitter:    &service.MockEmitter{},
	})
	t.Cleanup(func() { svc.Close(context.Background()) })
	return New(Deps{Sync: svc})
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

// ─────────────────────────────────────────────────────────────
// Tools
// ─────────────────────────────────────────────────────────────

func TestIngestAndList(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleIngestRow(ctx, call(map[string]any{
		"headers": `["Name","Email"]`,
		"row":     `{"Name":"Ann","Email":"ann@example.com"}`,
	}))
	require.NoError(t, err)

	var ingested domain.IngestResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &ingested))
	assert.Equal(t, domain.StatusCreated, ingested.Status)

	res, err = s.handleListRecords(ctx, call(nil))
	require.NoError(t, err)
	var rows []map[string]string
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, ingested.Identity, rows[0]["superjoin_id"])
}

func TestIngest_BadArguments(t *testing.T) {
	s := newTestServer(t)

	_, err := s.handleIngestRow(context.Background(), call(map[string]any{"headers": `["Name"]`}))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = s.handleIngestRow(context.Background(), call(map[string]any{"headers": `[`, "row": `{}`}))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestUpdateCell_Protected(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleIngestRow(ctx, call(map[string]any{"headers": `["Name"]`, "row": `{"Name":"Ann"}`}))
	require.NoError(t, err)
	var ingested domain.IngestResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &ingested))

	_, err = s.handleUpdateCell(ctx, call(map[string]any{"id": ingested.Identity, "column": "updated_at", "value": "x"}))
	assert.ErrorIs(t, err, domain.ErrProtectedColumn)

	_, err = s.handleUpdateCell(ctx, call(map[string]any{"id": ingested.Identity, "column": "name", "value": "Anne"}))
	require.NoError(t, err)

	res, err = s.handleGetRecord(ctx, call(map[string]any{"id": ingested.Identity}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), `"Anne"`)
}

func TestReconcile_ReportsResult(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleIngestRow(ctx, call(map[string]any{"headers": `["Name","Email"]`, "row": `{"Name":"Ann"}`}))
	require.NoError(t, err)

	res, err := s.handleReconcile(ctx, call(map[string]any{"activeIdentities": `[]`, "activeColumns": `["Name"]`}))
	require.NoError(t, err)

	var rr domain.ReconcileResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &rr))
	assert.True(t, rr.Truncated)
	assert.Equal(t, []string{"email"}, rr.ColumnsDropped)
}

func TestRecordIDFromURI(t *testing.T) {
	assert.Equal(t, "abc-123", recordIDFromURI("sheetsync://records/abc-123"))
	assert.Equal(t, "abc", recordIDFromURI("sheetsync://records/abc/"))
	assert.Equal(t, "", recordIDFromURI("other://records/abc"))
}
