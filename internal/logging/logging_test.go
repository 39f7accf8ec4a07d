package logging_test

import (
	"os"
	"path/filepath"
	"testing"

	"sheetsync/internal/config"
	"sheetsync/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sheetsync.log")
	logs := logging.Setup(config.LogConfig{Level: "info", File: path, MaxSizeMB: 1}, false)

	logs.For("queue").Printf("job %s completed", "j-1")
	logs.Debug("queue").Printf("hidden")
	require.NoError(t, logs.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Standard flags put the timestamp between the prefix and the message.
	assert.Regexp(t, `\[queue\] \d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2} job j-1 completed\n`, string(data))
	assert.NotContains(t, string(data), "hidden")
}

func TestSetup_Debug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sheetsync.log")
	logs := logging.Setup(config.LogConfig{Level: "info", File: path, MaxSizeMB: 1}, true)

	logs.Debug("poller").Printf("tick")
	require.NoError(t, logs.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[poller] debug: ")
	assert.Contains(t, string(data), "tick\n")
}
