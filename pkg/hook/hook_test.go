package hook_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/paulschiretz/pgl-sync/pkg/hook"
)

// TestHelperProcess is a helper for testing exec.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, arg := range args {
		if arg == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) > 0 {
		if name, ok := strings.CutPrefix(args[0], "env "); ok {
			fmt.Print(os.Getenv(name))
		}
		if strings.Contains(args[0], "fail") {
			os.Exit(1)
		}
	}
	os.Exit(0)
}

func mockCommand(ctx context.Context, name string, arg ...string) *exec.Cmd {
	// The command is wrapped in `sh -c` or `cmd /C`; extract the actual command.
	var cmdLine string
	if len(arg) > 1 && (arg[0] == "/C" || arg[0] == "-c") {
		cmdLine = strings.Join(arg[1:], " ")
	} else {
		cmdLine = name + " " + strings.Join(arg, " ")
	}

	cs := []string{"-test.run=TestHelperProcess", "--", cmdLine}
	cmd := exec.CommandContext(ctx, os.Args[0], cs...)
	cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1"}
	return cmd
}

func TestExecutorRun(t *testing.T) {
	tests := []struct {
		name          string
		plan          hook.Plan
		stage         hook.Stage
		expectError   bool
		errorContains string
	}{
		{
			name:  "pre-pass success",
			plan:  hook.Plan{PrePassCommands: []string{"echo pre-hook-works"}},
			stage: hook.PrePass,
		},
		{
			name:  "post-pass success",
			plan:  hook.Plan{PostPassCommands: []string{"echo post-hook-works"}},
			stage: hook.PostPass,
		},
		{
			name:          "failure with FailFast",
			plan:          hook.Plan{PrePassCommands: []string{"fail this", "echo never"}, FailFast: true},
			stage:         hook.PrePass,
			expectError:   true,
			errorContains: "pre-pass command 'fail this' failed",
		},
		{
			name:  "failure without FailFast",
			plan:  hook.Plan{PostPassCommands: []string{"fail this", "echo next"}},
			stage: hook.PostPass,
		},
		{
			name:  "dry run does not execute",
			plan:  hook.Plan{PrePassCommands: []string{"fail if run"}, DryRun: true, FailFast: true},
			stage: hook.PrePass,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			executor := hook.NewExecutor(tc.plan, mockCommand)
			executor.SetOutput(&bytes.Buffer{}, &bytes.Buffer{})
			err := executor.Run(context.Background(), tc.stage, nil)

			if tc.expectError {
				if err == nil {
					t.Fatal("expected error, but got nil")
				}
				if tc.errorContains != "" && !strings.Contains(err.Error(), tc.errorContains) {
					t.Errorf("expected error to contain %q, but got: %v", tc.errorContains, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestExecutorNothingToExecute(t *testing.T) {
	executor := hook.NewExecutor(hook.Plan{PrePassCommands: []string{"echo"}}, mockCommand)
	if !executor.Enabled() {
		t.Error("Enabled() = false, want true")
	}
	err := executor.Run(context.Background(), hook.PostPass, nil)
	if !errors.Is(err, hook.ErrNothingToExecute) {
		t.Errorf("Run() error = %v, want ErrNothingToExecute", err)
	}
	if hook.NewExecutor(hook.Plan{}, nil).Enabled() {
		t.Error("empty plan should not be enabled")
	}
}

func TestExecutorExportsVars(t *testing.T) {
	executor := hook.NewExecutor(hook.Plan{PostPassCommands: []string{"env PGL_SYNC_ADDED", "env PGL_SYNC_STAGE"}}, mockCommand)
	var out bytes.Buffer
	executor.SetOutput(&out, &bytes.Buffer{})

	if err := executor.Run(context.Background(), hook.PostPass, hook.Vars{"ADDED": "7"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got, want := out.String(), "7post-pass"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestExecutorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	executor := hook.NewExecutor(hook.Plan{PrePassCommands: []string{"echo"}}, mockCommand)
	if err := executor.Run(ctx, hook.PrePass, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}
