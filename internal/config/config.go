// Package config loads and hot-reloads the daemon and monitor's runtime
// configuration: compiled-in defaults, merged with an optional YAML
// file, merged with ORC_-prefixed environment variables, in that
// precedence order. Command-line flags are applied last by the caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds every tunable named in the specification. Fields are
// grouped by the component that owns them.
type Config struct {
	// External interfaces (§6).
	SocketPath string `koanf:"socket_path"`
	StoreDir   string `koanf:"store_dir"`
	PidPath    string `koanf:"pid_path"`
	LogFile    string `koanf:"log_file"`
	HistoryDB  string `koanf:"history_db"`
	MetricsAddr string `koanf:"metrics_addr"`

	// §9 PM window convention — single configuration value consulted by
	// both the Monitoring Engine and the Recovery Coordinator.
	PMWindowIndex int `koanf:"pm_window_index"`

	// Connection Pool (§4.B).
	PoolMinSize int           `koanf:"pool_min_size"`
	PoolMaxSize int           `koanf:"pool_max_size"`
	PoolAcquireTimeout time.Duration `koanf:"pool_acquire_timeout"`

	// Cache Layer (§4.C).
	AgentContentTTL      time.Duration `koanf:"agent_content_ttl"`
	AgentContentIdleTTL  time.Duration `koanf:"agent_content_idle_ttl"`
	TMuxCommandTTL       time.Duration `koanf:"tmux_command_ttl"`
	CacheSweepInterval   time.Duration `koanf:"cache_sweep_interval"`
	CacheMaxEntries      int           `koanf:"cache_max_entries"`

	// Message Store (§4.D).
	StoreMaxEntries int `koanf:"store_max_entries"`

	// Message Daemon (§4.E).
	CommandDeadline  time.Duration `koanf:"command_deadline"`
	CaptureDeadline  time.Duration `koanf:"capture_deadline"`
	ShutdownGrace    time.Duration `koanf:"shutdown_grace"`
	DeliveryWindow   int           `koanf:"delivery_window"`
	PerformanceTargetMS int        `koanf:"performance_target_ms"`

	// Priority Router (§4.F).
	BatchFlushSize int           `koanf:"batch_flush_size"`
	BatchMaxAge    time.Duration `koanf:"batch_max_age"`

	// Monitoring Engine (§4.G).
	CycleInterval    time.Duration `koanf:"cycle_interval"`
	IdleThreshold    time.Duration `koanf:"idle_threshold"`
	IdleHighAfter    time.Duration `koanf:"idle_high_after"`
	IdleNormalAfter  time.Duration `koanf:"idle_normal_after"`
	TeamIdleRatio    float64       `koanf:"team_idle_ratio"`
	CaptureLines     int           `koanf:"capture_lines"`

	// Recovery Coordinator (§4.H).
	PMGraceWindow   time.Duration `koanf:"pm_grace_window"`
	RecoveryHistoryMax int        `koanf:"recovery_history_max"`

	// Logging.
	LogLevel string `koanf:"log_level"`
}

// Defaults returns the compiled-in baseline, the bottom layer of the
// load precedence chain.
func Defaults() map[string]any {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return map[string]any{
		"socket_path":  "/tmp/tmux-orc-msgd.sock",
		"store_dir":    filepath.Join(home, ".tmux_orchestrator"),
		"pid_path":     "/tmp/tmux-orc-msgd.pid",
		"log_file":     "/tmp/tmux-orc-msgd.log",
		"history_db":   filepath.Join(home, ".tmux_orchestrator", "history.db"),
		"metrics_addr": "127.0.0.1:9427",

		"pm_window_index": 0,

		"pool_min_size":         5,
		"pool_max_size":         20,
		"pool_acquire_timeout":  "5s",

		"agent_content_ttl":     "30s",
		"agent_content_idle_ttl": "60s",
		"tmux_command_ttl":      "60s",
		"cache_sweep_interval":  "15s",
		"cache_max_entries":     2048,

		"store_max_entries": 1000,

		"command_deadline":     "60s",
		"capture_deadline":     "2s",
		"shutdown_grace":       "2s",
		"delivery_window":      1000,
		"performance_target_ms": 100,

		"batch_flush_size": 10,
		"batch_max_age":    "1s",

		"cycle_interval":   "5s",
		"idle_threshold":   "300s",
		"idle_high_after":  "1800s",
		"idle_normal_after": "900s",
		"team_idle_ratio":  0.5,
		"capture_lines":    50,

		"pm_grace_window":     "180s",
		"recovery_history_max": 100,

		"log_level": "info",
	}
}

// Load builds a Config from defaults, an optional YAML file at path
// (skipped if path is empty or does not exist), and ORC_-prefixed
// environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("ORC_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "ORC_"))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load config env overrides: %w", err)
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the loaded configuration and creates required
// directories.
func (c *Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path is required")
	}
	if c.StoreDir == "" {
		return fmt.Errorf("store_dir is required")
	}
	if c.PMWindowIndex < 0 {
		return fmt.Errorf("pm_window_index must be >= 0")
	}
	if c.PoolMinSize <= 0 || c.PoolMaxSize < c.PoolMinSize {
		return fmt.Errorf("invalid pool size range [%d, %d]", c.PoolMinSize, c.PoolMaxSize)
	}
	if err := os.MkdirAll(c.StoreDir, 0o750); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(c.StoreDir, "messages"), 0o750); err != nil {
		return fmt.Errorf("create messages dir: %w", err)
	}
	return nil
}

// MessagesDir returns the directory holding per-target store files.
func (c *Config) MessagesDir() string {
	return filepath.Join(c.StoreDir, "messages")
}
