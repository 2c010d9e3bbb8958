package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-sync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-sync/pkg/config"
	"github.com/paulschiretz/pgl-sync/pkg/hints"
	"github.com/paulschiretz/pgl-sync/pkg/pathsync"
	"github.com/paulschiretz/pgl-sync/pkg/plog"
	"github.com/paulschiretz/pgl-sync/pkg/preflight"
	"github.com/paulschiretz/pgl-sync/pkg/util"
)

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init SOURCE",
		Short: "Write a default " + config.ConfigFileName + " into SOURCE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flagMap := changedFlags(cmd.Flags())
			flagMap["source"] = args[0]
			return RunInit(flagMap)
		},
	}
	f := cmd.Flags()
	f.String("target", "", "Target directory to record in the config file.")
	f.StringP("mode", "m", "", "Comparison mode to record: 'date', 'hash' or 'reset'.")
	f.IntP("interval", "i", 0, "Seconds between passes to record.")
	f.Bool("force", false, "Overwrite an existing config file.")
	return cmd
}

// RunInit handles the logic for the 'init' command. An existing config file
// is updated with the given flags; --force starts from defaults instead.
func RunInit(flagMap map[string]any) error {
	source, _ := flagMap["source"].(string)
	absSource, err := util.ResolveRoot(source)
	if err != nil {
		return err
	}
	if err := preflight.CheckSourceAccessible(absSource); err != nil {
		return err
	}
	configPath := config.DefaultPath(absSource)

	force, _ := flagMap["force"].(bool)
	baseConfig := config.NewDefault()
	if !force {
		if _, err := os.Stat(configPath); err == nil {
			// Note: config.Load returns NewDefault() if the file simply doesn't exist.
			loaded, err := config.Load(configPath)
			if err != nil {
				return hints.Newf("existing config %s cannot be read (%v); use --force to overwrite it", configPath, err)
			}
			baseConfig = loaded
		}
	}

	runConfig := config.MergeConfigWithFlags(baseConfig, flagMap)
	if _, err := pathsync.ParseMode(runConfig.Mode); err != nil {
		return err
	}
	if runConfig.Target != "" {
		if runConfig.Target, err = util.ResolveRoot(runConfig.Target); err != nil {
			return err
		}
	}
	if err := runConfig.Save(configPath); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}
	plog.Info(buildinfo.Name+" source successfully initialized.", "config", configPath)
	return nil
}
