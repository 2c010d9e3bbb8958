package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-sync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-sync/pkg/config"
	"github.com/paulschiretz/pgl-sync/pkg/engine"
	"github.com/paulschiretz/pgl-sync/pkg/metrics"
	"github.com/paulschiretz/pgl-sync/pkg/pathsync"
	"github.com/paulschiretz/pgl-sync/pkg/plog"
	"github.com/paulschiretz/pgl-sync/pkg/util"
)

func newSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync SOURCE [TARGET]",
		Short: "Synchronize a target directory with a source directory",
		Long: `Synchronize TARGET with SOURCE.

Settings are read from pgl-sync.config.yaml in SOURCE (or --config) and
overridden by the flags given here. TARGET may be omitted when the config
file names it. With --interval the sync repeats until interrupted.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flagMap := changedFlags(cmd.Flags())
			flagMap["source"] = args[0]
			if len(args) > 1 {
				flagMap["target"] = args[1]
			}
			configPath, _ := cmd.Flags().GetString("config")
			return RunSync(cmd.Context(), configPath, flagMap, newConfirmer(cmd))
		},
	}

	f := cmd.Flags()
	f.String("config", "", "Path to the config file (default: SOURCE/"+config.ConfigFileName+").")
	f.StringP("mode", "m", pathsync.DateMode.String(), "Comparison mode: 'date', 'hash' ('file') or 'reset'.")
	f.Float64P("tolerance-factor", "f", pathsync.DefaultToleranceFactor, "Reciprocal of the coarsest mtime resolution to tolerate (e.g. 1 for exFAT, 1e6 between OSes).")
	f.IntP("interval", "i", 0, "Seconds between passes; 0 runs a single pass.")
	f.BoolP("delete-ignored", "D", false, "Delete target entries that match an ignore rule.")
	f.IntP("workers", "w", pathsync.DefaultWorkers(), "Worker pool size, at least 1.")
	f.String("ignore-file", "", "Name of the ignore file in SOURCE.")
	f.Int("buffer-size-kb", 0, "Size of the I/O buffer in kilobytes for copies and hashing.")
	f.Bool("hash-cache", false, "Remember file digests between runs (hash mode).")
	f.String("hash-cache-path", "", "Location of the digest cache database.")
	f.Bool("watch", false, "Start the next pass early when the source changes (requires --interval).")
	f.Duration("watch-debounce", 0, "Quiet period after the last source change before a watched pass starts.")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. 127.0.0.1:9310.")
	f.String("action-log", "", "Name of the action log in both roots.")
	f.Int("rotate-size-kb", 0, "Archive the action log once it exceeds this size; 0 disables rotation.")
	f.String("archive-format", "", "Action log archive format: 'zst' or 'gz'.")
	f.Int("keep-archives", 0, "Number of action log archives to keep; 0 keeps all.")
	f.StringSlice("pre-pass-hooks", nil, "Comma-separated list of commands to run before each pass.")
	f.StringSlice("post-pass-hooks", nil, "Comma-separated list of commands to run after each pass.")
	f.Bool("hooks-fail-fast", false, "Treat a failing hook command as a failed pass.")
	f.Bool("dry-run", false, "Show what would be done without making any changes.")
	f.BoolP("yes", "y", false, "Skip the confirmation prompt.")
	return cmd
}

// RunSync loads the configuration for the source, overlays flagMap and runs
// the sync engine until it finishes or ctx is cancelled.
func RunSync(ctx context.Context, configPath string, flagMap map[string]any, confirmer engine.Confirmer) error {
	source, _ := flagMap["source"].(string)
	if source == "" {
		return fmt.Errorf("a source directory is required")
	}
	if configPath == "" {
		absSource, err := util.ResolveRoot(source)
		if err != nil {
			return err
		}
		configPath = config.DefaultPath(absSource)
	}

	loadedConfig, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	runConfig := config.MergeConfigWithFlags(loadedConfig, flagMap)

	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	if runConfig.LogFile != "" {
		plog.SetLogFile(runConfig.LogFile, runConfig.LogFileMaxMB, runConfig.LogFileBackups)
		defer plog.CloseLogFile()
	}

	if err := runConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	runConfig.LogSummary()

	opts := engine.Options{}
	if !runConfig.Runtime.Yes && !runConfig.Runtime.DryRun {
		opts.Confirmer = confirmer
	}

	if addr := runConfig.Engine.MetricsAddr; addr != "" {
		passMetrics := metrics.New()
		opts.Metrics = passMetrics
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := passMetrics.Serve(metricsCtx, addr); err != nil {
				plog.Warn("Metrics endpoint stopped", "error", err)
			}
		}()
	}

	syncEngine, closeEngine, err := engine.Build(&runConfig, opts)
	if err != nil {
		return err
	}
	defer closeEngine()

	startTime := time.Now()
	if err := syncEngine.Run(ctx); err != nil {
		return err
	}
	plog.Info(buildinfo.Name+" finished.", "passes", syncEngine.Passes(), "duration", time.Since(startTime).Round(time.Millisecond), "pid", os.Getpid())
	return nil
}
