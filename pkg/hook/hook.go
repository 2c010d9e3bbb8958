// Package hook runs user commands before and after each sync pass.
package hook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"

	"github.com/paulschiretz/pgl-sync/pkg/hints"
	"github.com/paulschiretz/pgl-sync/pkg/plog"
)

// ErrNothingToExecute is returned when a stage has no commands.
var ErrNothingToExecute = hints.New("nothing to execute")

// Stage names the point of a pass at which commands run.
type Stage string

const (
	PrePass  Stage = "pre-pass"
	PostPass Stage = "post-pass"
)

// Plan holds the commands of both stages.
type Plan struct {
	PrePassCommands  []string
	PostPassCommands []string

	DryRun bool
	// FailFast turns a failing command into an error for the stage.
	FailFast bool
}

func (p Plan) commands(stage Stage) []string {
	if stage == PrePass {
		return p.PrePassCommands
	}
	return p.PostPassCommands
}

// Vars are exported to the commands as PGL_SYNC_<KEY> environment variables.
type Vars map[string]string

// Executor runs the commands of a plan through the platform shell.
type Executor struct {
	plan Plan
	// commandContext allows mocking os/exec for testing hooks.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
	stdout         io.Writer
	stderr         io.Writer
}

// NewExecutor creates an Executor for plan. A nil commandContext uses
// exec.CommandContext.
func NewExecutor(plan Plan, commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *Executor {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	return &Executor{
		plan:           plan,
		commandContext: commandContext,
		stdout:         os.Stdout,
		stderr:         os.Stderr,
	}
}

// SetOutput redirects the output of the commands.
func (e *Executor) SetOutput(stdout, stderr io.Writer) {
	e.stdout, e.stderr = stdout, stderr
}

// Enabled reports whether any stage has commands.
func (e *Executor) Enabled() bool {
	return len(e.plan.PrePassCommands) > 0 || len(e.plan.PostPassCommands) > 0
}

// Run executes the commands of stage in order. Without FailFast a failing
// command is logged and the next one runs.
func (e *Executor) Run(ctx context.Context, stage Stage, vars Vars) error {
	commands := e.plan.commands(stage)
	if len(commands) == 0 {
		return ErrNothingToExecute
	}

	plog.Info(fmt.Sprintf("Running %s hook commands", stage))
	extra := e.environ(stage, vars)

	for _, hookCommand := range commands {
		if err := ctx.Err(); err != nil {
			return err
		}

		if e.plan.DryRun {
			plog.Notice("[DRY RUN] Executing command", "command", hookCommand)
			continue
		}
		plog.Info("Executing command", "command", hookCommand)

		cmd := e.createCommand(ctx, hookCommand)
		env := cmd.Env
		if env == nil {
			env = os.Environ()
		}
		cmd.Env = append(env, extra...)
		cmd.Stdout = e.stdout
		cmd.Stderr = e.stderr

		if err := cmd.Run(); err != nil {
			// A cancelled context kills the command; report the cancellation.
			if errors.Is(ctx.Err(), context.Canceled) {
				return context.Canceled
			}
			if e.plan.FailFast {
				return fmt.Errorf("%s command '%s' failed: %w", stage, hookCommand, err)
			}
			plog.Warn("Hook command failed", "stage", stage, "command", hookCommand, "error", err)
		}
	}
	return nil
}

func (e *Executor) environ(stage Stage, vars Vars) []string {
	env := []string{"PGL_SYNC_STAGE=" + string(stage)}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, "PGL_SYNC_"+k+"="+vars[k])
	}
	return env
}
