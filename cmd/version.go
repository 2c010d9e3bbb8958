package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-sync/pkg/buildinfo"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return RunVersion(cmd, buildinfo.Name, buildinfo.Version)
		},
	}
}

// RunVersion prints the application version.
func RunVersion(cmd *cobra.Command, appName, appVersion string) error {
	fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, appVersion)
	return nil
}
