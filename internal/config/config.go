// Package config manages rangingd daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ranging-core/rangingd/internal/ranging"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete rangingd configuration (§6, §6.1).
type Config struct {
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Ranging RangingConfig `koanf:"ranging"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// RangingConfig holds the process-wide ranging session defaults (§6.1).
type RangingConfig struct {
	// WatchdogMs bounds how long a Session waits for every adapter to
	// acknowledge stop() before force-closing stragglers.
	WatchdogMs uint32 `koanf:"watchdog_ms"`

	// MinFusionWindow and MaxFusionWindow bound each technology Filter's
	// median-of-N window (§4.5).
	MinFusionWindow int `koanf:"min_fusion_window"`
	MaxFusionWindow int `koanf:"max_fusion_window"`

	// DefaultUpdateRate names the fallback UpdateRate used by the OOB
	// Config Selector when none of the protocol's defined rates fits the
	// negotiated interval window.
	DefaultUpdateRate string `koanf:"default_update_rate"`

	// BackgroundTimeoutMs is loaded and exposed through
	// BackgroundTimeoutDuration. rangingd starts no background timer from
	// it and does not call SessionRegistry.BroadcastBackgroundTimeout, so
	// the value alone does not make adapters throttle.
	BackgroundTimeoutMs uint32 `koanf:"background_timeout_ms"`

	// MeasurementQueueDepth sizes each Session's mailbox and event channel.
	MeasurementQueueDepth int `koanf:"measurement_queue_depth"`

	// MaxSessionsPerClient and MaxTotalSessions bound the Session Registry's
	// quotas (§4.7).
	MaxSessionsPerClient int `koanf:"max_sessions_per_client"`
	MaxTotalSessions     int `koanf:"max_total_sessions"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with the defaults named in §6.1.
func DefaultConfig() *Config {
	return &Config{
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Ranging: RangingConfig{
			WatchdogMs:            10_000,
			MinFusionWindow:       3,
			MaxFusionWindow:       5,
			DefaultUpdateRate:     "normal",
			BackgroundTimeoutMs:   15_000,
			MeasurementQueueDepth: 64,
			MaxSessionsPerClient:  8,
			MaxTotalSessions:      64,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for rangingd configuration.
// Variables are named RANGINGD_<section>_<key>, e.g., RANGINGD_METRICS_ADDR.
const envPrefix = "RANGINGD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (RANGINGD_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults. An empty path skips the
// file load and returns defaults plus any environment overrides.
//
// Environment variable mapping:
//
//	RANGINGD_METRICS_ADDR             -> metrics.addr
//	RANGINGD_LOG_LEVEL                -> log.level
//	RANGINGD_RANGING_WATCHDOG_MS      -> ranging.watchdog_ms
//	RANGINGD_RANGING_MIN_FUSION_WINDOW -> ranging.min_fusion_window
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms RANGINGD_RANGING_WATCHDOG_MS -> ranging.watchdog_ms.
// Strips the RANGINGD_ prefix, lowercases, and replaces only the first _
// with a dot, koanf's "." delimiter, to split the section name from the key.
// The key keeps its remaining underscores, since the struct tags use them
// as-is.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 {
		return s
	}
	return parts[0] + "." + parts[1]
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"metrics.addr":                    defaults.Metrics.Addr,
		"metrics.path":                    defaults.Metrics.Path,
		"log.level":                       defaults.Log.Level,
		"log.format":                      defaults.Log.Format,
		"ranging.watchdog_ms":             defaults.Ranging.WatchdogMs,
		"ranging.min_fusion_window":       defaults.Ranging.MinFusionWindow,
		"ranging.max_fusion_window":       defaults.Ranging.MaxFusionWindow,
		"ranging.default_update_rate":     defaults.Ranging.DefaultUpdateRate,
		"ranging.background_timeout_ms":   defaults.Ranging.BackgroundTimeoutMs,
		"ranging.measurement_queue_depth": defaults.Ranging.MeasurementQueueDepth,
		"ranging.max_sessions_per_client": defaults.Ranging.MaxSessionsPerClient,
		"ranging.max_total_sessions":      defaults.Ranging.MaxTotalSessions,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	ErrEmptyMetricsAddr       = errors.New("metrics.addr must not be empty")
	ErrInvalidWatchdog        = errors.New("ranging.watchdog_ms must be > 0")
	ErrInvalidFusionWindow    = errors.New("ranging.min_fusion_window must be <= max_fusion_window, both within [1,5]")
	ErrInvalidUpdateRate      = errors.New("ranging.default_update_rate must be slow, normal, or fast")
	ErrInvalidQueueDepth      = errors.New("ranging.measurement_queue_depth must be > 0")
	ErrInvalidSessionQuota    = errors.New("ranging.max_sessions_per_client and max_total_sessions must be > 0")
)

// ValidUpdateRates lists the recognized default_update_rate strings.
var ValidUpdateRates = map[string]bool{
	"slow":   true,
	"normal": true,
	"fast":   true,
}

// Validate checks the configuration for logical errors.
func Validate(cfg *Config) error {
	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}

	if cfg.Ranging.WatchdogMs == 0 {
		return ErrInvalidWatchdog
	}

	if cfg.Ranging.MinFusionWindow < 1 || cfg.Ranging.MaxFusionWindow > 5 ||
		cfg.Ranging.MinFusionWindow > cfg.Ranging.MaxFusionWindow {
		return ErrInvalidFusionWindow
	}

	if !ValidUpdateRates[strings.ToLower(cfg.Ranging.DefaultUpdateRate)] {
		return ErrInvalidUpdateRate
	}

	if cfg.Ranging.MeasurementQueueDepth <= 0 {
		return ErrInvalidQueueDepth
	}

	if cfg.Ranging.MaxSessionsPerClient <= 0 || cfg.Ranging.MaxTotalSessions <= 0 {
		return ErrInvalidSessionQuota
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseUpdateRate maps Ranging.DefaultUpdateRate to the corresponding
// ranging.UpdateRate. Validate rejects any value not in ValidUpdateRates
// before this is called, so the default case is unreachable in practice.
//
// Recognized values: "slow", "normal", "fast" (case-insensitive).
func ParseUpdateRate(rate string) ranging.UpdateRate {
	switch strings.ToLower(rate) {
	case "slow":
		return ranging.RateSlow
	case "normal":
		return ranging.RateNormal
	case "fast":
		return ranging.RateFast
	default:
		return ranging.RateSlow
	}
}

// WatchdogDuration returns Ranging.WatchdogMs as a time.Duration.
func (c *Config) WatchdogDuration() time.Duration {
	return time.Duration(c.Ranging.WatchdogMs) * time.Millisecond
}

// BackgroundTimeoutDuration returns Ranging.BackgroundTimeoutMs as a
// time.Duration.
func (c *Config) BackgroundTimeoutDuration() time.Duration {
	return time.Duration(c.Ranging.BackgroundTimeoutMs) * time.Millisecond
}
