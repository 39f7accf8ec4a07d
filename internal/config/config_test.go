package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"sheetsync/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	m, err := Load("", nil)
	require.NoError(t, err)
	cfg := m.Current()

	assert.Equal(t, domain.DatabaseDriverSQLite, cfg.Store.Driver)
	assert.Equal(t, domain.DefaultTable, cfg.Store.Table)
	assert.Equal(t, 15*time.Second, cfg.Engine.MergeWindow)
	assert.Equal(t, 10*time.Second, cfg.Poller.Interval)
	assert.Equal(t, 5*time.Second, cfg.Poller.SafetyBuffer)
	assert.Equal(t, 4, cfg.Queue.Lanes)
	assert.Equal(t, ":3000", cfg.HTTP.Addr)
	assert.False(t, cfg.Poller.Enabled)
	assert.Empty(t, m.File())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sheetsync.yaml")
	writeFile(t, path, `
store:
  driver: mysql
  host: db.internal
  port: 3306
  database: sync
  username: app
  password: env:SHEETSYNC_TEST_DB_PASSWORD
  table: contacts
engine:
  merge_window: 20s
poller:
  enabled: true
  webhook_url: https://script.example.com/exec
  interval: 30s
`)
	t.Setenv("SHEETSYNC_QUEUE_LANES", "8")
	t.Setenv("SHEETSYNC_HTTP_ADDR", ":8080")

	m, err := Load(path, nil)
	require.NoError(t, err)
	cfg := m.Current()

	assert.Equal(t, domain.DatabaseDriverMySQL, cfg.Store.Driver)
	assert.Equal(t, 3306, cfg.Store.Port)
	assert.Equal(t, "contacts", cfg.Store.Table)
	assert.Equal(t, "env:SHEETSYNC_TEST_DB_PASSWORD", cfg.Store.Password, "secret references are resolved by the caller")
	assert.Equal(t, 20*time.Second, cfg.Engine.MergeWindow)
	assert.Equal(t, 30*time.Second, cfg.Poller.Interval)
	assert.True(t, cfg.Poller.Enabled)
	assert.Equal(t, 8, cfg.Queue.Lanes)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, path, m.File())
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"driver":  "store:\n  driver: oracle\n",
		"webhook": "poller:\n  enabled: true\n",
		"level":   "log:\n  level: chatty\n",
		"window":  "engine:\n  merge_window: -1s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			writeFile(t, path, body)
			_, err := Load(path, nil)
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(dir, "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestReload_AppliesValidEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sheetsync.yaml")
	writeFile(t, path, "poller:\n  webhook_url: https://a.example.com\n")

	m, err := Load(path, nil)
	require.NoError(t, err)

	var calls int
	var gotOld, gotNew Config
	onChange := func(old, updated Config) {
		calls++
		gotOld, gotNew = old, updated
	}

	writeFile(t, path, "poller:\n  enabled: true\n  webhook_url: https://b.example.com\n")
	require.NoError(t, m.v.ReadInConfig())
	m.reload(path, onChange)

	require.Equal(t, 1, calls)
	assert.Equal(t, "https://a.example.com", gotOld.Poller.WebhookURL)
	assert.Equal(t, "https://b.example.com", gotNew.Poller.WebhookURL)
	assert.True(t, m.Current().Poller.Enabled)

	// An invalid edit keeps the last good config.
	writeFile(t, path, "poller:\n  enabled: true\n  webhook_url: \"\"\n")
	require.NoError(t, m.v.ReadInConfig())
	m.reload(path, onChange)

	assert.Equal(t, 1, calls)
	assert.Equal(t, "https://b.example.com", m.Current().Poller.WebhookURL)
}
