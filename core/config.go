package core

import (
	"fmt"
	"time"
)

// Config represents the application configuration
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Alerts    AlertConfig     `yaml:"alerts"`
	Health    HealthConfig    `yaml:"health"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	DBProbe   DBProbeConfig   `yaml:"db_probe"`
	Notifiers NotifiersConfig `yaml:"notifiers"`
	Web       WebConfig       `yaml:"web"`
}

// LogConfig configures the zap logger and its rotating file
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	Console    bool   `yaml:"console"`
}

// StorageConfig represents SQLite storage configuration
type StorageConfig struct {
	Path          string `yaml:"path"`
	WAL           bool   `yaml:"wal"`
	CacheSize     int    `yaml:"cache_size"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
	MaxOpenConns  int    `yaml:"max_open_conns"`
	// TargetCacheTTL bounds how long target reads are served from memory
	TargetCacheTTL time.Duration `yaml:"target_cache_ttl"`
}

// SchedulerConfig controls the master tick and task admission
type SchedulerConfig struct {
	TickInterval            time.Duration `yaml:"tick_interval"`
	ReconcileInterval       time.Duration `yaml:"reconcile_interval"`
	MaxConcurrentChecks     int           `yaml:"max_concurrent_checks"`
	WatchdogGrace           time.Duration `yaml:"watchdog_grace"`
	BackoffBase             time.Duration `yaml:"backoff_base"`
	BackoffMax              time.Duration `yaml:"backoff_max"`
	DefaultFailureThreshold int           `yaml:"default_failure_threshold"`
}

// ExecutorConfig controls outbound check requests
type ExecutorConfig struct {
	UserAgent            string  `yaml:"user_agent"`
	MaxRedirects         int     `yaml:"max_redirects"`
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second"`
	Burst                int     `yaml:"burst"`
}

// AlertConfig represents alert configuration
type AlertConfig struct {
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	QuietWindow      time.Duration `yaml:"quiet_window"`
	HistoryRetention int           `yaml:"history_retention"`
	SuppressDuration time.Duration `yaml:"suppress_duration"`
	// Channels restricts delivery to the named notifiers; empty means all
	Channels []string `yaml:"channels"`
}

// HealthConfig configures the self-supervision loop
type HealthConfig struct {
	Enabled             bool          `yaml:"enabled"`
	CheckInterval       time.Duration `yaml:"check_interval"`
	StuckThreshold      time.Duration `yaml:"stuck_threshold"`
	MemoryLimitMB       float64       `yaml:"memory_limit_mb"`
	SystemMemoryPercent float64       `yaml:"system_memory_percent"`
	HistorySize         int           `yaml:"history_size"`
}

// MetricsConfig configures the buffered metrics pipeline
type MetricsConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBProbeConfig configures store self-monitoring thresholds
type DBProbeConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Interval         time.Duration `yaml:"interval"`
	PoolSaturation   float64       `yaml:"pool_saturation"`
	SlowQuery        time.Duration `yaml:"slow_query"`
	SlowQueryRatio   float64       `yaml:"slow_query_ratio"`
	LockContention   int64         `yaml:"lock_contention"`
	MinCacheHitRatio float64       `yaml:"min_cache_hit_ratio"`
	DiskUsagePercent float64       `yaml:"disk_usage_percent"`
}

// NotifiersConfig maps a notifier type to its settings
type NotifiersConfig map[string]map[string]interface{}

// WebConfig configures the HTTP API
type WebConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Host      string  `yaml:"host"`
	Port      int     `yaml:"port"`
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	// AllowedOrigins lists browser origins accepted by CORS and the event
	// stream besides the server's own; "*" accepts any
	AllowedOrigins []string `yaml:"allowed_origins"`
}

const (
	MinBatchSize     = 1
	MaxBatchSize     = 1000
	MinFlushInterval = 5 * time.Second
	MaxFlushInterval = 5 * time.Minute
)

// GetDefaultConfig returns default configuration
func GetDefaultConfig() Config {
	return Config{
		DataDir: "~/.site-monitor",
		Log: LogConfig{
			Level:      "info",
			File:       "~/.site-monitor/logs/site-monitor.log",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 28,
			Compress:   true,
			Console:    true,
		},
		Storage: StorageConfig{
			Path:           "~/.site-monitor/site-monitor.db",
			WAL:            true,
			CacheSize:      2000,
			BusyTimeoutMS:  5000,
			MaxOpenConns:   4,
			TargetCacheTTL: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			TickInterval:            10 * time.Second,
			ReconcileInterval:       5 * time.Minute,
			MaxConcurrentChecks:     20,
			WatchdogGrace:           2 * time.Second,
			BackoffBase:             15 * time.Second,
			BackoffMax:              5 * time.Minute,
			DefaultFailureThreshold: 3,
		},
		Executor: ExecutorConfig{
			UserAgent:    "site-monitor/1.0",
			MaxRedirects: 10,
		},
		Alerts: AlertConfig{
			SweepInterval:    time.Minute,
			QuietWindow:      30 * time.Minute,
			HistoryRetention: 1000,
			SuppressDuration: 30 * time.Minute,
		},
		Health: HealthConfig{
			Enabled:             true,
			CheckInterval:       time.Minute,
			StuckThreshold:      300 * time.Second,
			MemoryLimitMB:       512,
			SystemMemoryPercent: 90,
			HistorySize:         100,
		},
		Metrics: MetricsConfig{
			BatchSize:     100,
			FlushInterval: 30 * time.Second,
		},
		DBProbe: DBProbeConfig{
			Enabled:          true,
			Interval:         time.Minute,
			PoolSaturation:   0.9,
			SlowQuery:        200 * time.Millisecond,
			SlowQueryRatio:   0.2,
			LockContention:   10,
			MinCacheHitRatio: 0.5,
			DiskUsagePercent: 90,
		},
		Notifiers: NotifiersConfig{},
		Web: WebConfig{
			Enabled:   true,
			Host:      "localhost",
			Port:      9999,
			RateLimit: 10,
			RateBurst: 20,
		},
	}
}

// ValidateMetricsConfig enforces the batch size and flush interval bounds
func ValidateMetricsConfig(cfg MetricsConfig) error {
	if cfg.BatchSize < MinBatchSize || cfg.BatchSize > MaxBatchSize {
		return NewConfigError("metrics config", "batch_size %d out of range [%d, %d]", cfg.BatchSize, MinBatchSize, MaxBatchSize)
	}
	if cfg.FlushInterval < MinFlushInterval || cfg.FlushInterval > MaxFlushInterval {
		return NewConfigError("metrics config", "flush_interval %s out of range [%s, %s]", cfg.FlushInterval, MinFlushInterval, MaxFlushInterval)
	}
	return nil
}

// ValidateSchedulerConfig validates scheduler tuning
func ValidateSchedulerConfig(cfg SchedulerConfig) error {
	if cfg.TickInterval < time.Second || cfg.TickInterval > time.Minute {
		return NewConfigError("scheduler config", "tick_interval must be within [1s, 1m]")
	}
	if cfg.MaxConcurrentChecks < 1 || cfg.MaxConcurrentChecks > 1000 {
		return NewConfigError("scheduler config", "max_concurrent_checks must be within [1, 1000]")
	}
	if cfg.ReconcileInterval < cfg.TickInterval {
		return NewConfigError("scheduler config", "reconcile_interval must not be shorter than tick_interval")
	}
	if cfg.WatchdogGrace < 0 {
		return NewConfigError("scheduler config", "watchdog_grace must not be negative")
	}
	if cfg.BackoffBase <= 0 || cfg.BackoffMax < cfg.BackoffBase {
		return NewConfigError("scheduler config", "backoff_base must be positive and backoff_max >= backoff_base")
	}
	if cfg.DefaultFailureThreshold < 1 || cfg.DefaultFailureThreshold > maxThreshold {
		return NewConfigError("scheduler config", "default_failure_threshold must be within [1, %d]", maxThreshold)
	}
	return nil
}

// ValidateConfig validates the entire configuration
func ValidateConfig(config Config) error {
	if err := ValidateSchedulerConfig(config.Scheduler); err != nil {
		return err
	}
	if err := ValidateMetricsConfig(config.Metrics); err != nil {
		return err
	}
	if config.Alerts.SweepInterval <= 0 || config.Alerts.QuietWindow <= 0 {
		return NewConfigError("alerts config", "sweep_interval and quiet_window must be positive")
	}
	if config.Alerts.HistoryRetention < 1 {
		return NewConfigError("alerts config", "history_retention must be at least 1")
	}
	if config.Health.Enabled {
		if config.Health.CheckInterval <= 0 || config.Health.StuckThreshold <= 0 {
			return NewConfigError("health config", "check_interval and stuck_threshold must be positive")
		}
		if config.Health.SystemMemoryPercent <= 0 || config.Health.SystemMemoryPercent > 100 {
			return NewConfigError("health config", "system_memory_percent must be within (0, 100]")
		}
	}
	if config.DBProbe.Enabled && config.DBProbe.Interval <= 0 {
		return NewConfigError("db_probe config", "interval must be positive")
	}
	if config.Executor.MaxRequestsPerSecond < 0 {
		return NewConfigError("executor config", "max_requests_per_second must not be negative")
	}
	if config.Storage.Path == "" {
		return NewConfigError("storage config", "path is required")
	}
	if config.Web.Enabled && (config.Web.Port <= 0 || config.Web.Port > 65535) {
		return NewConfigError("web config", "port %d is invalid", config.Web.Port)
	}
	for name := range config.Notifiers {
		if !isKnownNotifier(name) {
			return NewConfigError("notifiers config", "unknown notifier type %q", name)
		}
	}
	return nil
}

// Describe returns a one-line summary used in startup logs
func (c Config) Describe() string {
	return fmt.Sprintf("tick=%s max_concurrent=%d quiet_window=%s batch=%d flush=%s",
		c.Scheduler.TickInterval, c.Scheduler.MaxConcurrentChecks, c.Alerts.QuietWindow,
		c.Metrics.BatchSize, c.Metrics.FlushInterval)
}
