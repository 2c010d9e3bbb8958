package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/paulschiretz/pgl-sync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-sync/pkg/hook"
	"github.com/paulschiretz/pgl-sync/pkg/pathsync"
	"github.com/paulschiretz/pgl-sync/pkg/plog"
	"github.com/paulschiretz/pgl-sync/pkg/syncignore"
	"github.com/paulschiretz/pgl-sync/pkg/synclog"
	"github.com/paulschiretz/pgl-sync/pkg/util"
)

// ConfigFileName is the name of the configuration file looked up in the source root.
const ConfigFileName = "pgl-sync.config.yaml"

type EngineConfig struct {
	// Workers is the size of the copy and delete worker pool.
	Workers      int  `yaml:"workers"`
	BufferSizeKB int  `yaml:"bufferSizeKB"`
	HashCache    bool `yaml:"hashCache"`
	// HashCachePath overrides the digest cache location. Empty uses the user cache dir.
	HashCachePath string        `yaml:"hashCachePath"`
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watchDebounce"`
	// MetricsAddr serves Prometheus metrics when non-empty, e.g. "127.0.0.1:9310".
	MetricsAddr string `yaml:"metricsAddr"`
}

type ActionLogConfig struct {
	FileName string `yaml:"fileName"`
	// RotateSizeKB archives the action log when it grows beyond this size. 0 disables rotation.
	RotateSizeKB  int    `yaml:"rotateSizeKB"`
	ArchiveFormat string `yaml:"archiveFormat"`
	KeepArchives  int    `yaml:"keepArchives"`
}

// HooksConfig lists shell commands run around every pass. Commands see the
// pass details as PGL_SYNC_* environment variables.
type HooksConfig struct {
	PrePass  []string `yaml:"prePass,omitempty"`
	PostPass []string `yaml:"postPass,omitempty"`
	FailFast bool     `yaml:"failFast"`
}

type RuntimeConfig struct {
	DryRun bool
	// Yes skips the interactive confirmation.
	Yes bool
}

type Config struct {
	Version         string          `yaml:"version"`
	Source          string          `yaml:"-"` // Taken from the command line
	Target          string          `yaml:"target"`
	Mode            string          `yaml:"mode"`
	DeleteIgnored   bool            `yaml:"deleteIgnored"`
	ToleranceFactor float64         `yaml:"toleranceFactor"`
	IntervalSeconds int             `yaml:"intervalSeconds"`
	IgnoreFileName  string          `yaml:"ignoreFileName"`
	LogLevel        string          `yaml:"logLevel"`
	LogFile         string          `yaml:"logFile"`
	LogFileMaxMB    int             `yaml:"logFileMaxMB"`
	LogFileBackups  int             `yaml:"logFileBackups"`
	Engine          EngineConfig    `yaml:"engine"`
	ActionLog       ActionLogConfig `yaml:"actionLog"`
	Hooks           HooksConfig     `yaml:"hooks"`
	Runtime         RuntimeConfig   `yaml:"-"` // Never added to config file
}

// NewDefault creates and returns a Config struct with sensible default values.
func NewDefault() Config {
	return Config{
		Version:         buildinfo.Version,
		Source:          "", // Intentionally empty to force user configuration.
		Target:          "", // Intentionally empty to force user configuration.
		Mode:            pathsync.DateMode.String(),
		DeleteIgnored:   false,
		ToleranceFactor: pathsync.DefaultToleranceFactor,
		IntervalSeconds: 0, // Single pass.
		IgnoreFileName:  syncignore.DefaultFileName,
		LogLevel:        "info",
		LogFile:         "",
		LogFileMaxMB:    10,
		LogFileBackups:  3,
		Engine: EngineConfig{
			Workers:       pathsync.DefaultWorkers(),
			BufferSizeKB:  64,
			HashCache:     false,
			WatchDebounce: 2 * time.Second,
		},
		ActionLog: ActionLogConfig{
			FileName:      synclog.DefaultFileName,
			RotateSizeKB:  10 * 1024,
			ArchiveFormat: synclog.Zstd.String(),
			KeepArchives:  10,
		},
	}
}

// DefaultPath returns the config file path inside a source directory.
func DefaultPath(source string) string {
	return filepath.Join(source, ConfigFileName)
}

// Load reads a configuration file on top of the defaults. A missing file
// yields the defaults without an error.
func Load(path string) (Config, error) {
	config := NewDefault()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil // Config file doesn't exist, which is a normal case.
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", path, err)
	}

	plog.Info("Loading configuration", "path", path)
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", path, err)
	}

	// NOTE: if config.Version differs from the app version a migration step goes here.
	if config.Version != buildinfo.Version {
		config.Version = buildinfo.Version
	}
	return config, nil
}

// Save writes the configuration to path, overwriting an existing file.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	if err := os.WriteFile(path, data, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	plog.Info("Successfully saved config file", "path", path)
	return nil
}

// Validate checks the configuration for logical errors and canonicalizes
// the source and target paths.
func (c *Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("source path cannot be empty")
	}
	if c.Target == "" {
		return fmt.Errorf("target path cannot be empty")
	}

	var err error
	if c.Source, err = util.ResolveRoot(c.Source); err != nil {
		return fmt.Errorf("could not resolve source path: %w", err)
	}
	if c.Target, err = util.ResolveRoot(c.Target); err != nil {
		return fmt.Errorf("could not resolve target path: %w", err)
	}

	if _, err := pathsync.ParseMode(c.Mode); err != nil {
		return err
	}
	if !(c.ToleranceFactor > 0) || math.IsInf(c.ToleranceFactor, 0) {
		return fmt.Errorf("toleranceFactor must be a finite number greater than 0, got %v", c.ToleranceFactor)
	}
	if c.IntervalSeconds < 0 {
		return fmt.Errorf("intervalSeconds cannot be negative")
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be at least 1")
	}
	if c.Engine.BufferSizeKB <= 0 {
		return fmt.Errorf("engine.bufferSizeKB must be greater than 0")
	}
	if c.Engine.WatchDebounce < 0 {
		return fmt.Errorf("engine.watchDebounce cannot be negative")
	}
	if c.IgnoreFileName == "" || strings.ContainsAny(c.IgnoreFileName, `/\`) {
		return fmt.Errorf("ignoreFileName must be a plain file name, got %q", c.IgnoreFileName)
	}
	if c.ActionLog.FileName == "" || strings.ContainsAny(c.ActionLog.FileName, `/\`) {
		return fmt.Errorf("actionLog.fileName must be a plain file name, got %q", c.ActionLog.FileName)
	}
	if c.ActionLog.FileName == pathsync.StateDirName {
		return fmt.Errorf("actionLog.fileName cannot be %s", pathsync.StateDirName)
	}
	if c.ActionLog.RotateSizeKB < 0 {
		return fmt.Errorf("actionLog.rotateSizeKB cannot be negative")
	}
	if c.ActionLog.KeepArchives < 0 {
		return fmt.Errorf("actionLog.keepArchives cannot be negative")
	}
	if _, err := synclog.ParseFormat(c.ActionLog.ArchiveFormat); err != nil {
		return err
	}
	for _, command := range append(append([]string{}, c.Hooks.PrePass...), c.Hooks.PostPass...) {
		if strings.TrimSpace(command) == "" {
			return fmt.Errorf("hooks cannot contain empty commands")
		}
	}
	return nil
}

// Session builds the immutable sync session. It expects a validated config.
func (c *Config) Session() (pathsync.Session, error) {
	mode, err := pathsync.ParseMode(c.Mode)
	if err != nil {
		return pathsync.Session{}, err
	}
	return pathsync.Session{
		Source:          c.Source,
		Target:          c.Target,
		Mode:            mode,
		DeleteIgnored:   c.DeleteIgnored,
		ToleranceFactor: c.ToleranceFactor,
		Interval:        time.Duration(c.IntervalSeconds) * time.Second,
		Workers:         c.Engine.Workers,
		LogFileName:     c.ActionLog.FileName,
		DryRun:          c.Runtime.DryRun,
	}, nil
}

// HookPlan returns the pass hook commands for the engine.
func (c *Config) HookPlan() hook.Plan {
	return hook.Plan{
		PrePassCommands:  c.Hooks.PrePass,
		PostPassCommands: c.Hooks.PostPass,
		DryRun:           c.Runtime.DryRun,
		FailFast:         c.Hooks.FailFast,
	}
}

// ArchiveOptions returns the action log rotation settings for the target.
func (c *Config) ArchiveOptions() synclog.ArchiveOptions {
	format, err := synclog.ParseFormat(c.ActionLog.ArchiveFormat)
	if err != nil {
		format = synclog.Zstd
	}
	return synclog.ArchiveOptions{
		Dir:            filepath.Join(c.Target, pathsync.StateDirName, "logs"),
		ThresholdBytes: int64(c.ActionLog.RotateSizeKB) * 1024,
		Format:         format,
		Keep:           c.ActionLog.KeepArchives,
	}
}

// LogSummary prints a user-friendly summary of the configuration.
func (c *Config) LogSummary() {
	logArgs := []interface{}{
		"mode", c.Mode,
		"log_level", c.LogLevel,
		"source", c.Source,
		"target", c.Target,
		"dry_run", c.Runtime.DryRun,
		"delete_ignored", c.DeleteIgnored,
		"tolerance_factor", c.ToleranceFactor,
		"workers", c.Engine.Workers,
		"buffer_size_kb", c.Engine.BufferSizeKB,
	}
	if c.IntervalSeconds > 0 {
		logArgs = append(logArgs, "interval", (time.Duration(c.IntervalSeconds) * time.Second).String())
		if c.Engine.Watch {
			logArgs = append(logArgs, "watch", fmt.Sprintf("enabled (d:%s)", c.Engine.WatchDebounce))
		}
	}
	if c.Engine.HashCache {
		logArgs = append(logArgs, "hash_cache", "enabled")
	}
	if c.Engine.MetricsAddr != "" {
		logArgs = append(logArgs, "metrics_addr", c.Engine.MetricsAddr)
	}
	if c.ActionLog.RotateSizeKB > 0 {
		logArgs = append(logArgs, "log_rotation", fmt.Sprintf("enabled (s:%dKB f:%s k:%d)",
			c.ActionLog.RotateSizeKB, c.ActionLog.ArchiveFormat, c.ActionLog.KeepArchives))
	}
	if n := len(c.Hooks.PrePass) + len(c.Hooks.PostPass); n > 0 {
		logArgs = append(logArgs, "hooks", fmt.Sprintf("%d pre, %d post", len(c.Hooks.PrePass), len(c.Hooks.PostPass)))
	}
	plog.Info(buildinfo.Name+" configuration", logArgs...)
}

// MergeConfigWithFlags overlays the configuration values from flags on top of a base
// configuration. It iterates over the setFlags map, which contains only the flags
// explicitly provided by the user on the command line.
func MergeConfigWithFlags(base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "source":
			merged.Source = value.(string)
		case "target":
			merged.Target = value.(string)
		case "mode":
			merged.Mode = value.(string)
		case "delete-ignored":
			merged.DeleteIgnored = value.(bool)
		case "tolerance-factor":
			merged.ToleranceFactor = value.(float64)
		case "interval":
			merged.IntervalSeconds = value.(int)
		case "ignore-file":
			merged.IgnoreFileName = value.(string)
		case "log-level":
			merged.LogLevel = value.(string)
		case "log-file":
			merged.LogFile = value.(string)
		case "workers":
			merged.Engine.Workers = value.(int)
		case "buffer-size-kb":
			merged.Engine.BufferSizeKB = value.(int)
		case "hash-cache":
			merged.Engine.HashCache = value.(bool)
		case "hash-cache-path":
			merged.Engine.HashCachePath = value.(string)
		case "watch":
			merged.Engine.Watch = value.(bool)
		case "watch-debounce":
			merged.Engine.WatchDebounce = value.(time.Duration)
		case "metrics-addr":
			merged.Engine.MetricsAddr = value.(string)
		case "action-log":
			merged.ActionLog.FileName = value.(string)
		case "rotate-size-kb":
			merged.ActionLog.RotateSizeKB = value.(int)
		case "archive-format":
			merged.ActionLog.ArchiveFormat = value.(string)
		case "keep-archives":
			merged.ActionLog.KeepArchives = value.(int)
		case "pre-pass-hooks":
			merged.Hooks.PrePass = value.([]string)
		case "post-pass-hooks":
			merged.Hooks.PostPass = value.([]string)
		case "hooks-fail-fast":
			merged.Hooks.FailFast = value.(bool)
		case "dry-run":
			merged.Runtime.DryRun = value.(bool)
		case "yes":
			merged.Runtime.Yes = value.(bool)
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name)
		}
	}
	return merged
}
