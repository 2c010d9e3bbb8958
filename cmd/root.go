// Package cmd implements the pgl-sync command line.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/paulschiretz/pgl-sync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-sync/pkg/plog"
)

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   buildinfo.AppID,
		Short: "Incremental, rule-aware directory synchronization",
		Long: `pgl-sync keeps a target directory in line with a source directory.

It copies new and changed files, removes entries that no longer exist in
the source, honors a .syncignore file in the source root and treats git
object stores with care. Every action is recorded in synclog.txt.`,
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(buildinfo.Name + " version {{.Version}}\n")

	root.PersistentFlags().String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	root.PersistentFlags().String("log-file", "", "Also write diagnostics to this file (size-rotated).")
	root.PersistentFlags().Bool("quiet", false, "Suppress informational output.")
	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		if lvl, err := cmd.Flags().GetString("log-level"); err == nil {
			plog.SetLevel(plog.LevelFromString(lvl))
		}
		if quiet, err := cmd.Flags().GetBool("quiet"); err == nil && quiet {
			plog.SetQuiet(true)
		}
	}

	root.AddCommand(
		newSyncCommand(),
		newInitCommand(),
		newCheckIgnoreCommand(),
		newVersionCommand(),
	)
	return root
}

// changedFlags returns the flags the user set explicitly, keyed by name and
// typed by their pflag value type.
func changedFlags(flags *pflag.FlagSet) map[string]any {
	flagMap := make(map[string]any)
	flags.Visit(func(f *pflag.Flag) {
		var (
			value any
			err   error
		)
		switch f.Value.Type() {
		case "bool":
			value, err = flags.GetBool(f.Name)
		case "int":
			value, err = flags.GetInt(f.Name)
		case "float64":
			value, err = flags.GetFloat64(f.Name)
		case "duration":
			value, err = flags.GetDuration(f.Name)
		case "stringSlice":
			value, err = flags.GetStringSlice(f.Name)
		default:
			value = f.Value.String()
		}
		if err != nil {
			plog.Debug("cannot read flag", "flag", f.Name, "error", err)
			return
		}
		flagMap[f.Name] = value
	})
	return flagMap
}
