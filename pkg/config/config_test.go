package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-sync/pkg/pathsync"
	"github.com/paulschiretz/pgl-sync/pkg/synclog"
)

func TestConfig_Validate(t *testing.T) {
	// Helper to get a valid base config for testing
	newValidConfig := func(t *testing.T) Config {
		cfg := NewDefault()
		cfg.Source = t.TempDir()
		cfg.Target = t.TempDir()
		return cfg
	}

	t.Run("Valid Config", func(t *testing.T) {
		cfg := newValidConfig(t)
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected valid config to pass validation, but got error: %v", err)
		}
	})

	t.Run("Relative Paths Are Resolved", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.Target = "relative/target/"
		if err := cfg.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !filepath.IsAbs(cfg.Target) || strings.HasSuffix(cfg.Target, string(filepath.Separator)) {
			t.Errorf("expected an absolute cleaned target, got %q", cfg.Target)
		}
	})

	invalid := []struct {
		name   string
		mutate func(*Config)
	}{
		{"Empty Source Path", func(c *Config) { c.Source = "" }},
		{"Empty Target Path", func(c *Config) { c.Target = "" }},
		{"Unknown Mode", func(c *Config) { c.Mode = "mirror" }},
		{"Zero Tolerance Factor", func(c *Config) { c.ToleranceFactor = 0 }},
		{"Negative Tolerance Factor", func(c *Config) { c.ToleranceFactor = -1 }},
		{"Negative Interval", func(c *Config) { c.IntervalSeconds = -5 }},
		{"Negative Workers", func(c *Config) { c.Engine.Workers = -1 }},
		{"Zero Workers", func(c *Config) { c.Engine.Workers = 0 }},
		{"Infinite Tolerance Factor", func(c *Config) { c.ToleranceFactor = math.Inf(1) }},
		{"NaN Tolerance Factor", func(c *Config) { c.ToleranceFactor = math.NaN() }},
		{"Zero Buffer Size", func(c *Config) { c.Engine.BufferSizeKB = 0 }},
		{"Negative Watch Debounce", func(c *Config) { c.Engine.WatchDebounce = -time.Second }},
		{"Ignore File With Separator", func(c *Config) { c.IgnoreFileName = "sub/.syncignore" }},
		{"Empty Action Log Name", func(c *Config) { c.ActionLog.FileName = "" }},
		{"Action Log Named Like State Dir", func(c *Config) { c.ActionLog.FileName = pathsync.StateDirName }},
		{"Unknown Archive Format", func(c *Config) { c.ActionLog.ArchiveFormat = "rar" }},
		{"Negative Keep Archives", func(c *Config) { c.ActionLog.KeepArchives = -1 }},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			cfg := newValidConfig(t)
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error, but got nil")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("Missing File Returns Defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), ConfigFileName))
		if err != nil {
			t.Fatalf("expected no error for missing file, got %v", err)
		}
		if cfg.Mode != NewDefault().Mode || cfg.ToleranceFactor != pathsync.DefaultToleranceFactor {
			t.Errorf("expected defaults, got %+v", cfg)
		}
	})

	t.Run("Partial File Keeps Remaining Defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ConfigFileName)
		content := "mode: hash\nintervalSeconds: 30\nengine:\n  watch: true\n  watchDebounce: 500ms\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Mode != "hash" || cfg.IntervalSeconds != 30 || !cfg.Engine.Watch {
			t.Errorf("file values not applied: %+v", cfg)
		}
		if cfg.Engine.WatchDebounce != 500*time.Millisecond {
			t.Errorf("expected debounce 500ms, got %s", cfg.Engine.WatchDebounce)
		}
		if cfg.ActionLog.FileName != synclog.DefaultFileName {
			t.Errorf("expected default action log name, got %q", cfg.ActionLog.FileName)
		}
	})

	t.Run("Empty File Returns Defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ConfigFileName)
		if err := os.WriteFile(path, nil, 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err != nil {
			t.Errorf("expected no error for empty file, got %v", err)
		}
	})

	t.Run("Unknown Field Is Rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ConfigFileName)
		if err := os.WriteFile(path, []byte("modee: hash\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Error("expected an error for an unknown field")
		}
	})
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	cfg := NewDefault()
	cfg.Source = "/ignored/on/save"
	cfg.Target = "/data/mirror"
	cfg.Mode = "reset"
	cfg.Engine.MetricsAddr = "127.0.0.1:9310"
	cfg.ActionLog.ArchiveFormat = synclog.Gzip.String()

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Source != "" {
		t.Errorf("source must not be persisted, got %q", loaded.Source)
	}
	if loaded.Target != cfg.Target || loaded.Mode != cfg.Mode || loaded.Engine.MetricsAddr != cfg.Engine.MetricsAddr {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
	if loaded.Engine.WatchDebounce != cfg.Engine.WatchDebounce {
		t.Errorf("expected debounce %s, got %s", cfg.Engine.WatchDebounce, loaded.Engine.WatchDebounce)
	}
}

func TestMergeConfigWithFlags(t *testing.T) {
	base := NewDefault()
	base.Target = "/from/file"
	base.Engine.Workers = 8

	merged := MergeConfigWithFlags(base, map[string]any{
		"mode":             "file",
		"tolerance-factor": 1.0,
		"interval":         60,
		"delete-ignored":   true,
		"watch-debounce":   time.Second,
		"dry-run":          true,
		"unknown-flag":     "ignored",
	})

	if merged.Mode != "file" || merged.ToleranceFactor != 1.0 || merged.IntervalSeconds != 60 {
		t.Errorf("flag values not applied: %+v", merged)
	}
	if !merged.DeleteIgnored || !merged.Runtime.DryRun || merged.Engine.WatchDebounce != time.Second {
		t.Errorf("bool or duration flags not applied: %+v", merged)
	}
	if merged.Target != "/from/file" || merged.Engine.Workers != 8 {
		t.Errorf("unset flags must keep base values: %+v", merged)
	}
	if base.Mode == "file" {
		t.Error("base config must not be modified")
	}
}

func TestSession(t *testing.T) {
	cfg := NewDefault()
	cfg.Source = t.TempDir()
	cfg.Target = t.TempDir()
	cfg.Mode = "hash"
	cfg.IntervalSeconds = 90
	cfg.Runtime.DryRun = true
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	s, err := cfg.Session()
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if s.Mode != pathsync.HashMode || s.Interval != 90*time.Second || !s.DryRun {
		t.Errorf("unexpected session: %+v", s)
	}
	if s.Workers != pathsync.DefaultWorkers() {
		t.Errorf("expected default workers, got %d", s.Workers)
	}

	opts := cfg.ArchiveOptions()
	if opts.ThresholdBytes != int64(cfg.ActionLog.RotateSizeKB)*1024 || opts.Format != synclog.Zstd {
		t.Errorf("unexpected archive options: %+v", opts)
	}
	if opts.Dir != filepath.Join(cfg.Target, pathsync.StateDirName, "logs") {
		t.Errorf("unexpected archive dir %q", opts.Dir)
	}
}

func TestHookPlan(t *testing.T) {
	base := NewDefault()
	base.Hooks.PostPass = []string{"notify-send done"}
	cfg := MergeConfigWithFlags(base, map[string]any{
		"pre-pass-hooks":  []string{"mount /mnt/backup"},
		"hooks-fail-fast": true,
		"dry-run":         true,
	})

	plan := cfg.HookPlan()
	if len(plan.PrePassCommands) != 1 || plan.PrePassCommands[0] != "mount /mnt/backup" {
		t.Errorf("PrePassCommands = %v", plan.PrePassCommands)
	}
	if len(plan.PostPassCommands) != 1 {
		t.Errorf("PostPassCommands = %v, want the file value", plan.PostPassCommands)
	}
	if !plan.FailFast || !plan.DryRun {
		t.Errorf("plan flags = %+v, want FailFast and DryRun", plan)
	}

	cfg.Source = t.TempDir()
	cfg.Target = t.TempDir()
	cfg.Hooks.PrePass = []string{"  "}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject an empty hook command")
	}
}
