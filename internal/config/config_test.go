package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "./downloads", cfg.Downloads.Dir)
	assert.Equal(t, domain.PolicyResume, cfg.Downloads.GetPolicy())
	assert.Equal(t, 0, cfg.Downloads.RetryBudget)
	assert.Equal(t, time.Duration(0), cfg.Downloads.GetAckTimeout())
	assert.Equal(t, 5*time.Minute, cfg.Downloads.GetMaxRetryDelay())
	assert.Equal(t, time.Second, cfg.Downloads.GetProgressEventInterval())
	assert.Equal(t, 3, cfg.Engine.RetryMax)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.GetProgressInterval())
	assert.Contains(t, cfg.Engine.DownloadMIMETypes, "application/zip")
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.BindAddr)
	assert.Equal(t, 30*24*time.Hour, cfg.Database.GetHistoryRetention())
	assert.Equal(t, uint64(1024*1024*1024), cfg.Maintenance.GetMinFreeSpace())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
downloads:
  dir: /data/downloads
  policy: delete
  retry_budget: 2
  ack_timeout: 45s
  max_retry_delay: 90s
engine:
  user_agent: test-agent
  retry_max: 1
  download_mime_types:
    - application/x-iso9660-image
http:
  bind_addr: 0.0.0.0:9000
  admin_password: secret
logging:
  level: debug
  format: text
database:
  path: /data/history.db
maintenance:
  stall_threshold: 2m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/downloads", cfg.Downloads.Dir)
	assert.Equal(t, domain.PolicyDelete, cfg.Downloads.GetPolicy())
	assert.Equal(t, 2, cfg.Downloads.RetryBudget)
	assert.Equal(t, 45*time.Second, cfg.Downloads.GetAckTimeout())
	assert.Equal(t, 90*time.Second, cfg.Downloads.GetMaxRetryDelay())
	assert.Equal(t, "test-agent", cfg.Engine.UserAgent)
	assert.Equal(t, 1, cfg.Engine.RetryMax)
	assert.Equal(t, []string{"application/x-iso9660-image"}, cfg.Engine.DownloadMIMETypes)
	assert.Equal(t, "0.0.0.0:9000", cfg.HTTP.BindAddr)
	assert.Equal(t, "secret", cfg.HTTP.AdminPassword)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/data/history.db", cfg.Database.Path)
	assert.Equal(t, 2*time.Minute, cfg.Maintenance.GetStallThreshold())
	// untouched keys keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Maintenance.GetStallCheckInterval())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ORCHESTRATOR_DOWNLOADS_POLICY", "ignore")
	t.Setenv("ORCHESTRATOR_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, domain.PolicyIgnore, cfg.Downloads.GetPolicy())
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing dir", func(c *Config) { c.Downloads.Dir = "" }, "downloads.dir"},
		{"bad policy", func(c *Config) { c.Downloads.Policy = "overwrite" }, "downloads.policy"},
		{"negative budget", func(c *Config) { c.Downloads.RetryBudget = -1 }, "retry_budget"},
		{"bad duration", func(c *Config) { c.Downloads.AckTimeout = "soon" }, "downloads.ack_timeout"},
		{"negative duration", func(c *Config) { c.Maintenance.StallThreshold = "-1m" }, "stall_threshold"},
		{"negative retry max", func(c *Config) { c.Engine.RetryMax = -2 }, "engine.retry_max"},
		{"missing bind addr", func(c *Config) { c.HTTP.BindAddr = "" }, "bind_addr"},
		{"bind addr unused when disabled", func(c *Config) {
			c.HTTP.Enabled = false
			c.HTTP.BindAddr = ""
		}, ""},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDurationFallbacks(t *testing.T) {
	var cfg Config
	assert.Equal(t, 30*time.Second, cfg.HTTP.GetReadTimeout())
	assert.Equal(t, 60*time.Second, cfg.HTTP.GetIdleTimeout())
	assert.Equal(t, time.Hour, cfg.Maintenance.GetCleanupInterval())
	assert.Equal(t, uint64(0), cfg.Maintenance.GetMinFreeSpace())
	assert.Equal(t, domain.DefaultPolicy, cfg.Downloads.GetPolicy())
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "downloads:\n  policy: resume\n")

	var latest atomic.Pointer[Config]
	var failures atomic.Int32
	cfg, err := Watch(path, func(c *Config) { latest.Store(c) }, func(error) { failures.Add(1) })
	require.NoError(t, err)
	assert.Equal(t, domain.PolicyResume, cfg.Downloads.GetPolicy())

	require.NoError(t, os.WriteFile(path, []byte("downloads:\n  policy: delete\n  retry_budget: 4\n"), 0644))

	require.Eventually(t, func() bool {
		c := latest.Load()
		return c != nil && c.Downloads.GetPolicy() == domain.PolicyDelete && c.Downloads.RetryBudget == 4
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatch_RequiresFile(t *testing.T) {
	_, err := Watch("", func(*Config) {}, nil)
	assert.Error(t, err)
}
