package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-sync/pkg/syncignore"
	"github.com/paulschiretz/pgl-sync/pkg/util"
)

func newCheckIgnoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-ignore SOURCE PATH...",
		Short: "Report whether paths are ignored and by which rule",
		Long: `Evaluate the ignore file of SOURCE against each PATH.

PATH may be relative to SOURCE or absolute inside it. Paths that exist are
checked as files or directories according to the filesystem; a missing
PATH ending in '/' is checked as a directory.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ignoreFile, _ := cmd.Flags().GetString("ignore-file")
			return RunCheckIgnore(cmd.OutOrStdout(), args[0], ignoreFile, args[1:])
		},
	}
	cmd.Flags().String("ignore-file", syncignore.DefaultFileName, "Name of the ignore file in SOURCE.")
	return cmd
}

// RunCheckIgnore prints one line per path.
func RunCheckIgnore(out io.Writer, source, ignoreFile string, paths []string) error {
	absSource, err := util.ResolveRoot(source)
	if err != nil {
		return err
	}
	matcher := syncignore.NewMatcher(filepath.Join(absSource, ignoreFile))
	if err := matcher.Reload(); err != nil {
		return fmt.Errorf("cannot load ignore rules: %w", err)
	}

	for _, p := range paths {
		rel, isDir, err := resolveCheckPath(absSource, p)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", p, err)
			continue
		}
		display := rel
		if isDir {
			display += "/"
		}
		if rule, ok := matcher.MatchingRule(rel, isDir); ok {
			fmt.Fprintf(out, "%s: ignored by %q\n", display, rule)
		} else {
			fmt.Fprintf(out, "%s: not ignored\n", display)
		}
	}
	return nil
}

func resolveCheckPath(absSource, p string) (string, bool, error) {
	trailingSlash := len(p) > 0 && (p[len(p)-1] == '/' || p[len(p)-1] == filepath.Separator)
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(absSource, p)
	}
	abs = filepath.Clean(abs)
	if !util.IsWithin(absSource, abs) || abs == absSource {
		return "", false, fmt.Errorf("not inside %s", absSource)
	}
	rel, err := util.NormalizedRelPath(absSource, abs)
	if err != nil {
		return "", false, err
	}
	isDir := trailingSlash
	if info, err := os.Stat(abs); err == nil {
		isDir = info.IsDir()
	}
	return rel, isDir, nil
}
