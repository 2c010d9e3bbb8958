package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var summaryStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("63")).
	Padding(0, 1)

// promptConfirmer asks for confirmation before the first pass. On a
// terminal it renders an interactive form; otherwise it reads a y/n answer
// from the command's input.
type promptConfirmer struct {
	in  io.Reader
	out io.Writer
	tty bool
}

func newConfirmer(cmd *cobra.Command) *promptConfirmer {
	return &promptConfirmer{
		in:  cmd.InOrStdin(),
		out: cmd.OutOrStdout(),
		tty: term.IsTerminal(int(os.Stdin.Fd())) && cmd.InOrStdin() == os.Stdin,
	}
}

func (c *promptConfirmer) Confirm(ctx context.Context, summary string) (bool, error) {
	fmt.Fprintln(c.out, summaryStyle.Render(summary))
	if !c.tty {
		return promptForConfirmation(c.in, c.out, "Start synchronization?", false), nil
	}

	confirmed := false
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title("Start synchronization?").
			Description("Entries missing from the source will be removed from the target.").
			Affirmative("Yes").
			Negative("No").
			Value(&confirmed),
	))
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) || ctx.Err() != nil {
			return false, nil
		}
		return false, err
	}
	return confirmed, nil
}

// PromptForConfirmation prompts the user on stdin/stdout for a yes/no response.
func PromptForConfirmation(prompt string, defaultYes bool) bool {
	return promptForConfirmation(os.Stdin, os.Stdout, prompt, defaultYes)
}

func promptForConfirmation(in io.Reader, out io.Writer, prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Fprintf(out, "%s %s: ", prompt, suffix)

	response, _ := bufio.NewReader(in).ReadString('\n')
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
