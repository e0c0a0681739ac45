package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ranging-core/rangingd/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Ranging.WatchdogMs != 10_000 {
		t.Errorf("Ranging.WatchdogMs = %d, want 10000", cfg.Ranging.WatchdogMs)
	}
	if cfg.Ranging.MinFusionWindow != 3 || cfg.Ranging.MaxFusionWindow != 5 {
		t.Errorf("fusion window = [%d,%d], want [3,5]", cfg.Ranging.MinFusionWindow, cfg.Ranging.MaxFusionWindow)
	}
	if cfg.Ranging.DefaultUpdateRate != "normal" {
		t.Errorf("Ranging.DefaultUpdateRate = %q, want %q", cfg.Ranging.DefaultUpdateRate, "normal")
	}
	if cfg.Ranging.BackgroundTimeoutMs != 15_000 {
		t.Errorf("Ranging.BackgroundTimeoutMs = %d, want 15000", cfg.Ranging.BackgroundTimeoutMs)
	}
	if cfg.Ranging.MeasurementQueueDepth != 64 {
		t.Errorf("Ranging.MeasurementQueueDepth = %d, want 64", cfg.Ranging.MeasurementQueueDepth)
	}
	if cfg.Ranging.MaxSessionsPerClient != 8 || cfg.Ranging.MaxTotalSessions != 64 {
		t.Errorf("session quotas = [%d,%d], want [8,64]", cfg.Ranging.MaxSessionsPerClient, cfg.Ranging.MaxTotalSessions)
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
ranging:
  watchdog_ms: 5000
  min_fusion_window: 2
  max_fusion_window: 4
  default_update_rate: "fast"
  measurement_queue_depth: 128
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}
	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if cfg.Ranging.WatchdogMs != 5000 {
		t.Errorf("Ranging.WatchdogMs = %d, want 5000", cfg.Ranging.WatchdogMs)
	}
	if cfg.Ranging.MinFusionWindow != 2 || cfg.Ranging.MaxFusionWindow != 4 {
		t.Errorf("fusion window = [%d,%d], want [2,4]", cfg.Ranging.MinFusionWindow, cfg.Ranging.MaxFusionWindow)
	}
	if cfg.Ranging.DefaultUpdateRate != "fast" {
		t.Errorf("Ranging.DefaultUpdateRate = %q, want %q", cfg.Ranging.DefaultUpdateRate, "fast")
	}
	if cfg.Ranging.MeasurementQueueDepth != 128 {
		t.Errorf("Ranging.MeasurementQueueDepth = %d, want 128", cfg.Ranging.MeasurementQueueDepth)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override log.level. Everything else inherits
	// from DefaultConfig().
	yamlContent := `
log:
  level: "warn"
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}
	if cfg.Ranging.WatchdogMs != 10_000 {
		t.Errorf("Ranging.WatchdogMs = %d, want default 10000", cfg.Ranging.WatchdogMs)
	}
	if cfg.Ranging.MaxSessionsPerClient != 8 {
		t.Errorf("Ranging.MaxSessionsPerClient = %d, want default 8", cfg.Ranging.MaxSessionsPerClient)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name:    "empty metrics addr",
			modify:  func(cfg *config.Config) { cfg.Metrics.Addr = "" },
			wantErr: config.ErrEmptyMetricsAddr,
		},
		{
			name:    "zero watchdog",
			modify:  func(cfg *config.Config) { cfg.Ranging.WatchdogMs = 0 },
			wantErr: config.ErrInvalidWatchdog,
		},
		{
			name: "fusion window min greater than max",
			modify: func(cfg *config.Config) {
				cfg.Ranging.MinFusionWindow = 5
				cfg.Ranging.MaxFusionWindow = 3
			},
			wantErr: config.ErrInvalidFusionWindow,
		},
		{
			name:    "fusion window out of bounds",
			modify:  func(cfg *config.Config) { cfg.Ranging.MaxFusionWindow = 9 },
			wantErr: config.ErrInvalidFusionWindow,
		},
		{
			name:    "unknown update rate",
			modify:  func(cfg *config.Config) { cfg.Ranging.DefaultUpdateRate = "ludicrous" },
			wantErr: config.ErrInvalidUpdateRate,
		},
		{
			name:    "zero queue depth",
			modify:  func(cfg *config.Config) { cfg.Ranging.MeasurementQueueDepth = 0 },
			wantErr: config.ErrInvalidQueueDepth,
		},
		{
			name:    "zero per-client quota",
			modify:  func(cfg *config.Config) { cfg.Ranging.MaxSessionsPerClient = 0 },
			wantErr: config.ErrInvalidSessionQuota,
		},
		{
			name:    "zero total quota",
			modify:  func(cfg *config.Config) { cfg.Ranging.MaxTotalSessions = 0 },
			wantErr: config.ErrInvalidSessionQuota,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/rangingd.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel: they modify
	// process-wide state via t.Setenv.
	yamlContent := `
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("RANGINGD_LOG_LEVEL", "debug")
	t.Setenv("RANGINGD_METRICS_ADDR", ":9300")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
	if cfg.Metrics.Addr != ":9300" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9300")
	}
}

func TestWatchdogDuration(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	if got, want := cfg.WatchdogDuration().Milliseconds(), int64(10_000); got != want {
		t.Errorf("WatchdogDuration() = %dms, want %dms", got, want)
	}
}

func TestBackgroundTimeoutDuration(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	if got, want := cfg.BackgroundTimeoutDuration().Milliseconds(), int64(15_000); got != want {
		t.Errorf("BackgroundTimeoutDuration() = %dms, want %dms", got, want)
	}
}

// writeTemp creates a temporary YAML file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "rangingd.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
