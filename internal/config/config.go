package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
)

// EnvPrefix prefixes environment overrides, e.g. ORCHESTRATOR_DOWNLOADS_DIR
const EnvPrefix = "ORCHESTRATOR"

// Config represents the entire application configuration
type Config struct {
	Downloads   DownloadsConfig   `mapstructure:"downloads"`
	Engine      EngineConfig      `mapstructure:"engine"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// DownloadsConfig contains orchestrator settings
type DownloadsConfig struct {
	Dir                   string  `mapstructure:"dir"`
	Policy                string  `mapstructure:"policy"`
	RetryBudget           int     `mapstructure:"retry_budget"`
	AckTimeout            string  `mapstructure:"ack_timeout"`
	MaxRetryDelay         string  `mapstructure:"max_retry_delay"`
	ProgressEventInterval string  `mapstructure:"progress_event_interval"`
	ProgressAge           float64 `mapstructure:"progress_age"`
}

// EngineConfig contains HTTP engine settings
type EngineConfig struct {
	UserAgent             string   `mapstructure:"user_agent"`
	ResponseHeaderTimeout string   `mapstructure:"response_header_timeout"`
	RetryMax              int      `mapstructure:"retry_max"`
	RetryWaitMin          string   `mapstructure:"retry_wait_min"`
	RetryWaitMax          string   `mapstructure:"retry_wait_max"`
	ProgressInterval      string   `mapstructure:"progress_interval"`
	BufferSizeMB          int      `mapstructure:"buffer_size_mb"`
	SkipTLSVerify         bool     `mapstructure:"skip_tls_verify"`
	DownloadMIMETypes     []string `mapstructure:"download_mime_types"`
}

// HTTPConfig contains HTTP control server configuration
type HTTPConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	BindAddr      string `mapstructure:"bind_addr"`
	EnableBrowser bool   `mapstructure:"enable_browser"`
	AdminUsername string `mapstructure:"admin_username"`
	AdminPassword string `mapstructure:"admin_password"`
	ReadTimeout   string `mapstructure:"read_timeout"`
	WriteTimeout  string `mapstructure:"write_timeout"`
	IdleTimeout   string `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig contains transfer history settings
type DatabaseConfig struct {
	// Path of the SQLite history database; empty disables history
	Path             string `mapstructure:"path"`
	HistoryRetention string `mapstructure:"history_retention"`
}

// MaintenanceConfig contains maintenance loop settings
type MaintenanceConfig struct {
	StallCheckInterval string `mapstructure:"stall_check_interval"`
	StallThreshold     string `mapstructure:"stall_threshold"`
	StallWarnInterval  string `mapstructure:"stall_warn_interval"`
	CleanupInterval    string `mapstructure:"cleanup_interval"`
	MinFreeSpaceMB     int    `mapstructure:"min_free_space_mb"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("downloads.dir", "./downloads")
	v.SetDefault("downloads.policy", domain.DefaultPolicy.String())
	v.SetDefault("downloads.retry_budget", 0)
	v.SetDefault("downloads.ack_timeout", "0s")
	v.SetDefault("downloads.max_retry_delay", "5m")
	v.SetDefault("downloads.progress_event_interval", "1s")
	v.SetDefault("downloads.progress_age", 0)
	v.SetDefault("engine.user_agent", "download-orchestrator/1.0")
	v.SetDefault("engine.response_header_timeout", "30s")
	v.SetDefault("engine.retry_max", 3)
	v.SetDefault("engine.retry_wait_min", "1s")
	v.SetDefault("engine.retry_wait_max", "30s")
	v.SetDefault("engine.progress_interval", "250ms")
	v.SetDefault("engine.buffer_size_mb", 1)
	v.SetDefault("engine.skip_tls_verify", false)
	v.SetDefault("engine.download_mime_types", []string{
		"application/octet-stream",
		"application/zip",
		"application/x-tar",
		"application/gzip",
		"application/pdf",
	})
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.bind_addr", "127.0.0.1:8080")
	v.SetDefault("http.enable_browser", false)
	v.SetDefault("http.admin_username", "admin")
	v.SetDefault("http.admin_password", "")
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "")
	v.SetDefault("database.history_retention", "720h")
	v.SetDefault("maintenance.stall_check_interval", "10s")
	v.SetDefault("maintenance.stall_threshold", "1m")
	v.SetDefault("maintenance.stall_warn_interval", "5m")
	v.SetDefault("maintenance.cleanup_interval", "1h")
	v.SetDefault("maintenance.min_free_space_mb", 1024)
	return v
}

// Load loads configuration from the specified file path.
// An empty path yields the defaults plus environment overrides.
func Load(configPath string) (*Config, error) {
	v := newViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Watch loads configPath and calls onChange with every later valid revision of
// the file. Invalid revisions are passed to onError and otherwise ignored.
func Watch(configPath string, onChange func(*Config), onError func(error)) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config watch requires a file")
	}

	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		onChange(next)
	})
	v.WatchConfig()

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Downloads.Dir == "" {
		return fmt.Errorf("downloads.dir is required")
	}
	if _, err := domain.ParsePolicy(c.Downloads.Policy); err != nil {
		return fmt.Errorf("invalid downloads.policy: %w", err)
	}
	if c.Downloads.RetryBudget < 0 {
		return fmt.Errorf("downloads.retry_budget must not be negative")
	}
	if c.Downloads.ProgressAge < 0 {
		return fmt.Errorf("downloads.progress_age must not be negative")
	}
	if c.Engine.RetryMax < 0 {
		return fmt.Errorf("engine.retry_max must not be negative")
	}
	if c.HTTP.Enabled && c.HTTP.BindAddr == "" {
		return fmt.Errorf("http.bind_addr is required when http is enabled")
	}

	durations := map[string]string{
		"downloads.ack_timeout":             c.Downloads.AckTimeout,
		"downloads.max_retry_delay":         c.Downloads.MaxRetryDelay,
		"downloads.progress_event_interval": c.Downloads.ProgressEventInterval,
		"engine.response_header_timeout":    c.Engine.ResponseHeaderTimeout,
		"engine.retry_wait_min":             c.Engine.RetryWaitMin,
		"engine.retry_wait_max":             c.Engine.RetryWaitMax,
		"engine.progress_interval":          c.Engine.ProgressInterval,
		"http.read_timeout":                 c.HTTP.ReadTimeout,
		"http.write_timeout":                c.HTTP.WriteTimeout,
		"http.idle_timeout":                 c.HTTP.IdleTimeout,
		"database.history_retention":        c.Database.HistoryRetention,
		"maintenance.stall_check_interval":  c.Maintenance.StallCheckInterval,
		"maintenance.stall_threshold":       c.Maintenance.StallThreshold,
		"maintenance.stall_warn_interval":   c.Maintenance.StallWarnInterval,
		"maintenance.cleanup_interval":      c.Maintenance.CleanupInterval,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// GetPolicy returns the default existing-file policy
func (c *DownloadsConfig) GetPolicy() domain.ExistingFilePolicy {
	p, _ := domain.ParsePolicy(c.Policy)
	return p
}

// GetAckTimeout returns the acknowledgement timeout; 0 disables it
func (c *DownloadsConfig) GetAckTimeout() time.Duration {
	return parseDuration(c.AckTimeout, 0)
}

// GetMaxRetryDelay returns the longest server-requested delay honored before
// a retry; 0 resubmits at once
func (c *DownloadsConfig) GetMaxRetryDelay() time.Duration {
	return parseDuration(c.MaxRetryDelay, 5*time.Minute)
}

// GetProgressEventInterval returns the per-transfer progress event interval
func (c *DownloadsConfig) GetProgressEventInterval() time.Duration {
	return parseDuration(c.ProgressEventInterval, time.Second)
}

// GetResponseHeaderTimeout returns the engine response header timeout
func (c *EngineConfig) GetResponseHeaderTimeout() time.Duration {
	return parseDuration(c.ResponseHeaderTimeout, 30*time.Second)
}

// GetRetryWaitMin returns the minimum wait between transport retries
func (c *EngineConfig) GetRetryWaitMin() time.Duration {
	return parseDuration(c.RetryWaitMin, time.Second)
}

// GetRetryWaitMax returns the maximum wait between transport retries
func (c *EngineConfig) GetRetryWaitMax() time.Duration {
	return parseDuration(c.RetryWaitMax, 30*time.Second)
}

// GetProgressInterval returns the engine progress reporting interval
func (c *EngineConfig) GetProgressInterval() time.Duration {
	return parseDuration(c.ProgressInterval, 250*time.Millisecond)
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	d := parseDuration(c.ReadTimeout, 0)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	d := parseDuration(c.WriteTimeout, 0)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	d := parseDuration(c.IdleTimeout, 0)
	if d == 0 {
		return 60 * time.Second
	}
	return d
}

// GetHistoryRetention returns how long finished transfer records are kept
func (c *DatabaseConfig) GetHistoryRetention() time.Duration {
	return parseDuration(c.HistoryRetention, 30*24*time.Hour)
}

// GetStallCheckInterval returns how often the dispatch queue is inspected
func (c *MaintenanceConfig) GetStallCheckInterval() time.Duration {
	return parseDuration(c.StallCheckInterval, 10*time.Second)
}

// GetStallThreshold returns how long an unacknowledged dispatch may wait
func (c *MaintenanceConfig) GetStallThreshold() time.Duration {
	return parseDuration(c.StallThreshold, time.Minute)
}

// GetStallWarnInterval returns the minimum time between stall warnings
func (c *MaintenanceConfig) GetStallWarnInterval() time.Duration {
	return parseDuration(c.StallWarnInterval, 5*time.Minute)
}

// GetCleanupInterval returns how often history is pruned
func (c *MaintenanceConfig) GetCleanupInterval() time.Duration {
	return parseDuration(c.CleanupInterval, time.Hour)
}

// GetMinFreeSpace returns the low-space warning threshold in bytes
func (c *MaintenanceConfig) GetMinFreeSpace() uint64 {
	if c.MinFreeSpaceMB <= 0 {
		return 0
	}
	return uint64(c.MinFreeSpaceMB) * 1024 * 1024
}
