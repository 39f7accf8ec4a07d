package app_test

import (
	"context"
	"path/filepath"
	"testing"

	"sheetsync/internal/app"
	"sheetsync/internal/config"
	"sheetsync/internal/domain"
	"sheetsync/internal/logging"
	"sheetsync/internal/secret"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	m, err := config.Load("", nil)
	require.NoError(t, err)
	cfg := m.Current()
	dir := t.TempDir()
	cfg.Store.Host = filepath.Join(dir, "data.db")
	cfg.Metadata.Path = filepath.Join(dir, "meta.db")
	return cfg
}

func TestApp_Lifecycle(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	logs := logging.Setup(cfg.Log, false)
	t.Cleanup(func() { logs.Close() })

	a, err := app.New(ctx, cfg, logs, secret.MemoryStore{})
	require.NoError(t, err)
	require.NoError(t, a.Startup(ctx))

	res, err := a.Sync.Ingest(ctx, domain.SyncRequest{
		Headers: []string{"Name"},
		Row:     map[string]any{"Name": "Ann"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, res.Status)

	updated := cfg
	updated.Poller.Enabled = true
	updated.Poller.WebhookURL = "http://127.0.0.1:1/never"
	a.ApplyConfig(cfg, updated)

	a.Shutdown(ctx)
}

func TestApp_ResolvesStorePassword(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Password = "keychain:missing"
	logs := logging.Setup(cfg.Log, false)
	t.Cleanup(func() { logs.Close() })

	_, err := app.New(context.Background(), cfg, logs, secret.MemoryStore{})
	assert.ErrorContains(t, err, "store password")
}
