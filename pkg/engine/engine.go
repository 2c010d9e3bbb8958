// Package engine drives sync passes for one session: it checks
// preconditions, asks for confirmation, holds the target lock and repeats
// passes on an interval until cancelled.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/paulschiretz/pgl-sync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-sync/pkg/hints"
	"github.com/paulschiretz/pgl-sync/pkg/hook"
	"github.com/paulschiretz/pgl-sync/pkg/lockfile"
	"github.com/paulschiretz/pgl-sync/pkg/metrics"
	"github.com/paulschiretz/pgl-sync/pkg/pathsync"
	"github.com/paulschiretz/pgl-sync/pkg/plog"
	"github.com/paulschiretz/pgl-sync/pkg/preflight"
	"github.com/paulschiretz/pgl-sync/pkg/syncignore"
	"github.com/paulschiretz/pgl-sync/pkg/synclog"
)

const separator = "============================================================"

// ErrDeclined is returned (as a hint) when the user declines the session.
var ErrDeclined = errors.New("sync cancelled by user")

// Confirmer presents the session summary and reports whether to continue.
type Confirmer interface {
	Confirm(ctx context.Context, summary string) (bool, error)
}

// Options are the optional collaborators of an Engine.
type Options struct {
	Confirmer Confirmer
	Metrics   metrics.Recorder
	// Archive controls action log rotation at the start of each pass.
	Archive synclog.ArchiveOptions
	// Watch wakes a waiting loop early after source changes settle for
	// WatchDebounce.
	Watch         bool
	WatchDebounce time.Duration
	// Hooks runs user commands around each pass.
	Hooks *hook.Executor
}

// Engine runs passes of a single session.
type Engine struct {
	session pathsync.Session
	syncer  *pathsync.Syncer
	matcher *syncignore.Matcher
	log     *synclog.Log
	opts    Options

	state atomic.Int32
	pass  atomic.Int32
}

// New creates an Engine. deps.Matcher and deps.Log are required.
func New(session pathsync.Session, deps pathsync.Deps, opts Options) *Engine {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoopRecorder{}
	}
	syncer := pathsync.New(session, deps)
	return &Engine{
		session: syncer.Session(),
		syncer:  syncer,
		matcher: deps.Matcher,
		log:     deps.Log,
		opts:    opts,
	}
}

// State returns the current state of the run loop.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	plog.Debug("Engine state", "state", s)
}

// Passes returns the number of passes started so far.
func (e *Engine) Passes() int {
	return int(e.pass.Load())
}

// Run validates the session and executes passes until the single pass is
// done, the context is cancelled, or (one-shot) a pass fails.
func (e *Engine) Run(ctx context.Context) error {
	defer e.setState(Terminated)

	if err := e.preflight(); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	if e.opts.Confirmer != nil {
		e.setState(Confirming)
		ok, err := e.opts.Confirmer.Confirm(ctx, e.session.Summary())
		if err != nil {
			return fmt.Errorf("confirmation failed: %w", err)
		}
		if !ok {
			return hints.Wrap(ErrDeclined)
		}
	}

	if !e.session.DryRun {
		releaseLock, err := e.acquireTargetLock(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return e.interrupted()
			}
			return err
		}
		defer releaseLock()
	}

	var wake <-chan struct{}
	if e.opts.Watch && e.session.Interval > 0 {
		w, err := newSourceWatcher(e.session.Source, e.matcher, e.session.LogFileName, e.opts.WatchDebounce)
		if err != nil {
			plog.Warn("Cannot watch source, falling back to interval only", "error", err)
		} else {
			defer w.Close()
			wake = w.Changes()
		}
	}

	for {
		e.pass.Add(1)
		start := time.Now()
		counts, passErr := e.runPass(ctx)
		elapsed := time.Since(start)

		if ctx.Err() != nil {
			e.opts.Metrics.ObservePass(counts, elapsed, metrics.OutcomeInterrupted)
			return e.interrupted()
		}
		outcome := metrics.OutcomeSuccess
		if passErr != nil {
			outcome = metrics.OutcomeError
		}
		if err := e.runHook(ctx, hook.PostPass, e.postPassVars(counts, outcome)); err != nil {
			if ctx.Err() != nil {
				e.opts.Metrics.ObservePass(counts, elapsed, metrics.OutcomeInterrupted)
				return e.interrupted()
			}
			e.log.Summary(fmt.Sprintf("Post-pass hook failed: %v", err))
			e.flush()
			if passErr == nil {
				passErr = err
				outcome = metrics.OutcomeError
			}
		}
		e.opts.Metrics.ObservePass(counts, elapsed, outcome)

		if e.session.Interval <= 0 {
			if passErr != nil {
				return passErr
			}
			e.log.Summary("Single pass complete, exiting")
			e.flush()
			return nil
		}

		e.setState(Waiting)
		next := time.Now().Add(e.session.Interval)
		e.log.Summary(fmt.Sprintf("Next pass at %s, waiting...", next.Format(synclog.TimeLayout)))
		e.flush()
		if !e.wait(ctx, wake) {
			return e.interrupted()
		}
	}
}

// runPass executes one pass and writes its summary lines. A failed reset
// still completes the pass; any other error ends it early.
func (e *Engine) runPass(ctx context.Context) (pathsync.Counts, error) {
	e.setState(Planning)
	e.syncer.StartPass()

	if _, err := e.log.Rotate(e.opts.Archive); err != nil {
		plog.Warn("Failed to archive action log", "error", err)
	}

	start := time.Now()
	e.log.Summary(separator)
	e.log.Summary(fmt.Sprintf("Pass %d started (%s)", e.pass.Load(), start.Format(synclog.TimeLayout)))
	e.log.Summary(fmt.Sprintf("%s -> %s", e.session.Source, e.session.Target))
	e.reloadIgnoreRules()

	if err := e.runHook(ctx, hook.PrePass, e.passVars()); err != nil {
		if ctx.Err() == nil {
			e.log.Summary(fmt.Sprintf("Pre-pass hook failed: %v", err))
			e.flush()
		}
		return e.syncer.Counts(), err
	}

	e.setState(Executing)
	var passErr error
	if e.session.Mode == pathsync.ResetMode {
		passErr = e.syncer.Reset(ctx)
		if ctx.Err() != nil {
			return e.syncer.Counts(), ctx.Err()
		}
		if passErr != nil {
			e.log.Summary(fmt.Sprintf("Reset failed: %v", passErr))
		} else {
			e.log.Summary("Reset complete")
		}
	} else {
		if err := e.syncAndReap(ctx); err != nil {
			if ctx.Err() == nil {
				e.log.Summary(fmt.Sprintf("Error during sync: %v", err))
				e.flush()
			}
			return e.syncer.Counts(), err
		}
		e.log.Summary(e.syncer.Counts().String())
	}
	e.flush()

	e.log.Summary(fmt.Sprintf("Elapsed: %.2f seconds", time.Since(start).Seconds()))
	e.flush()
	e.log.Summary(fmt.Sprintf("Sync %s -> %s complete", e.session.Source, e.session.Target))
	e.flush()
	return e.syncer.Counts(), passErr
}

func (e *Engine) syncAndReap(ctx context.Context) error {
	if _, err := e.syncer.Sync(ctx); err != nil {
		return err
	}
	return e.syncer.Reap(ctx)
}

// runHook runs the commands of stage, if any.
func (e *Engine) runHook(ctx context.Context, stage hook.Stage, vars hook.Vars) error {
	if e.opts.Hooks == nil {
		return nil
	}
	err := e.opts.Hooks.Run(ctx, stage, vars)
	if errors.Is(err, hook.ErrNothingToExecute) {
		return nil
	}
	return err
}

func (e *Engine) passVars() hook.Vars {
	return hook.Vars{
		"SOURCE":  e.session.Source,
		"TARGET":  e.session.Target,
		"MODE":    e.session.Mode.String(),
		"PASS":    strconv.Itoa(e.Passes()),
		"DRY_RUN": strconv.FormatBool(e.session.DryRun),
	}
}

func (e *Engine) postPassVars(c pathsync.Counts, outcome string) hook.Vars {
	vars := e.passVars()
	vars["RESULT"] = outcome
	vars["ADDED"] = strconv.FormatInt(c.Added, 10)
	vars["MODIFIED"] = strconv.FormatInt(c.Modified, 10)
	vars["DELETED_FILES"] = strconv.FormatInt(c.DeletedFiles, 10)
	vars["DELETED_DIRS"] = strconv.FormatInt(c.DeletedDirs, 10)
	vars["FAILED"] = strconv.FormatInt(c.Failed, 10)
	vars["BYTES_COPIED"] = strconv.FormatInt(c.BytesCopied, 10)
	return vars
}

// reloadIgnoreRules picks up ignore file changes. A read failure leaves the
// pass without rules.
func (e *Engine) reloadIgnoreRules() {
	res, err := e.matcher.ReloadIfChanged()
	if err != nil {
		e.log.Log(synclog.CodeWarning, fmt.Sprintf("Cannot read ignore file: %v", err))
	}
	switch res {
	case syncignore.Loaded:
		verb := "loaded"
		if e.pass.Load() > 1 {
			verb = "reloaded"
		}
		e.log.Summary(fmt.Sprintf("Ignore rules %s (%d patterns)", verb, len(e.matcher.Patterns())))
	case syncignore.Cleared:
		e.log.Summary("Ignore rules cleared")
	}
}

// wait blocks for the interval, a debounced source change, or cancellation.
// It reports false on cancellation.
func (e *Engine) wait(ctx context.Context, wake <-chan struct{}) bool {
	timer := time.NewTimer(e.session.Interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-wake:
		plog.Info("Source changed, starting pass early")
		return true
	}
}

func (e *Engine) interrupted() error {
	e.log.Summary("Interrupted by user.")
	e.flush()
	return nil
}

func (e *Engine) flush() {
	if err := e.log.Flush(); err != nil {
		plog.Error("Failed to flush action log", "error", err)
	}
}

func (e *Engine) preflight() error {
	src, trg := e.session.Source, e.session.Target
	if err := preflight.CheckSourceAccessible(src); err != nil {
		return err
	}
	if err := preflight.CheckPathsDistinct(src, trg); err != nil {
		return err
	}
	if err := preflight.CheckPathNesting(src, trg); err != nil {
		return err
	}
	if err := preflight.CheckTargetAccessible(trg); err != nil {
		return err
	}
	if !(e.session.ToleranceFactor > 0) || math.IsInf(e.session.ToleranceFactor, 0) {
		return fmt.Errorf("tolerance factor must be a finite number greater than 0, got %v", e.session.ToleranceFactor)
	}
	if e.session.DryRun {
		return nil
	}
	return preflight.CheckTargetWritable(trg)
}

// acquireTargetLock takes the session lock inside the target's state dir and
// returns its release function.
func (e *Engine) acquireTargetLock(ctx context.Context) (func(), error) {
	lockDir := filepath.Join(e.session.Target, pathsync.StateDirName)
	appID := strings.Join([]string{buildinfo.AppID, e.session.Target}, ":")

	plog.Debug("Attempting to acquire lock", "path", lockDir)
	lock, err := lockfile.Acquire(ctx, lockDir, appID)
	if err != nil {
		var lockErr *lockfile.ErrLockActive
		if errors.As(err, &lockErr) {
			plog.Warn("A sync is already running for this target, skipping run.", "details", lockErr.Error())
			return nil, hints.Wrap(err)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	plog.Debug("Lock acquired successfully.")
	return lock.Release, nil
}
