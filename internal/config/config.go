// Package config loads sheetsync settings from a file, SHEETSYNC_* environment
// variables and built-in defaults, and reports live edits of the file.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"sheetsync/internal/dbclient"
	"sheetsync/internal/domain"
	"sheetsync/internal/engine"
	"sheetsync/internal/poller"
	"sheetsync/internal/queue"
)

// EnvPrefix prefixes every environment override: store.dsn → SHEETSYNC_STORE_DSN.
const EnvPrefix = "SHEETSYNC"

// Config is the full runtime configuration.
type Config struct {
	Store    domain.DatabaseConnection `mapstructure:"store"`
	Metadata MetadataConfig            `mapstructure:"metadata"`
	HTTP     HTTPConfig                `mapstructure:"http"`
	Queue    queue.Config              `mapstructure:"queue"`
	Poller   poller.Config             `mapstructure:"poller"`
	Engine   engine.Config             `mapstructure:"engine"`
	Log      LogConfig                 `mapstructure:"log"`
}

// MetadataConfig locates the local database holding queue jobs and poller
// checkpoints.
type MetadataConfig struct {
	Path string `mapstructure:"path"`
}

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	Addr       string        `mapstructure:"addr"`
	SubmitWait time.Duration `mapstructure:"submit_wait"`
}

// LogConfig controls log output. An empty File logs to stderr only.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", string(domain.DatabaseDriverSQLite))
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.host", "./data/sheetsync.db")
	v.SetDefault("store.port", 0)
	v.SetDefault("store.database", "")
	v.SetDefault("store.username", "")
	v.SetDefault("store.password", "")
	v.SetDefault("store.ssl_mode", "")
	v.SetDefault("store.table", domain.DefaultTable)
	v.SetDefault("store.timeout", dbclient.DefaultTimeout)

	v.SetDefault("metadata.path", "./data/sheetsync-meta.db")

	v.SetDefault("http.addr", ":3000")
	v.SetDefault("http.submit_wait", 5*time.Second)

	q := queue.DefaultConfig()
	v.SetDefault("queue.lanes", q.Lanes)
	v.SetDefault("queue.max_attempts", q.MaxAttempts)
	v.SetDefault("queue.job_timeout", q.JobTimeout)
	v.SetDefault("queue.backoff_base", q.BackoffBase)
	v.SetDefault("queue.backoff_max", q.BackoffMax)
	v.SetDefault("queue.poll_interval", q.PollInterval)
	v.SetDefault("queue.retain_done", q.RetainDone)

	v.SetDefault("poller.enabled", false)
	v.SetDefault("poller.webhook_url", "")
	v.SetDefault("poller.interval", poller.DefaultInterval)
	v.SetDefault("poller.safety_buffer", poller.DefaultSafetyBuffer)
	v.SetDefault("poller.push_timeout", poller.DefaultPushTimeout)
	v.SetDefault("poller.keep_push_log", 1000)

	v.SetDefault("engine.merge_window", engine.DefaultMergeWindow)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case domain.DatabaseDriverSQLite, domain.DatabaseDriverMySQL, domain.DatabaseDriverPostgres, domain.DatabaseDriverMongoDB:
	default:
		errs = append(errs, fmt.Errorf("store.driver: unsupported %q", c.Store.Driver))
	}
	if c.Store.DSN == "" && c.Store.Host == "" {
		errs = append(errs, errors.New("store: dsn or host is required"))
	}
	if c.Metadata.Path == "" {
		errs = append(errs, errors.New("metadata.path is required"))
	}
	if c.Poller.Enabled && c.Poller.WebhookURL == "" {
		errs = append(errs, errors.New("poller.webhook_url is required when poller.enabled"))
	}
	if c.Poller.Interval < time.Second {
		errs = append(errs, fmt.Errorf("poller.interval: %s is below 1s", c.Poller.Interval))
	}
	if c.Engine.MergeWindow < 0 {
		errs = append(errs, errors.New("engine.merge_window must not be negative"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

// ── Manager ────────────────────────────────────────────────

// Manager owns the viper instance and the last good configuration.
type Manager struct {
	v      *viper.Viper
	logger *log.Logger

	mu  sync.RWMutex
	cfg Config
}

// Load reads path (optional; YAML, TOML or JSON by extension) on top of the
// defaults, then applies SHEETSYNC_* environment overrides.
func Load(path string, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[config] ", log.LstdFlags)
	}
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	m := &Manager{v: v, logger: logger}
	cfg, err := m.decode()
	if err != nil {
		return nil, err
	}
	m.cfg = cfg
	return m, nil
}

func (m *Manager) decode() (Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Current returns the last valid configuration.
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// File returns the config file in use, or "" when running on defaults.
func (m *Manager) File() string { return m.v.ConfigFileUsed() }

// Watch calls onChange with the old and new configuration every time the
// file changes and still decodes to a valid configuration. Invalid edits are
// logged and ignored. Without a config file Watch does nothing.
func (m *Manager) Watch(onChange func(old, updated Config)) {
	if m.File() == "" {
		return
	}
	m.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		m.reload(e.Name, onChange)
	})
	m.v.WatchConfig()
}

func (m *Manager) reload(name string, onChange func(old, updated Config)) {
	cfg, err := m.decode()
	if err != nil {
		m.logger.Printf("ignoring change to %s: %v", name, err)
		return
	}
	m.mu.Lock()
	old := m.cfg
	m.cfg = cfg
	m.mu.Unlock()

	m.logger.Printf("reloaded %s", name)
	if onChange != nil {
		onChange(old, cfg)
	}
}
