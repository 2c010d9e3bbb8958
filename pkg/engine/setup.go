package engine

import (
	"fmt"
	"path/filepath"

	"github.com/paulschiretz/pgl-sync/pkg/compare"
	"github.com/paulschiretz/pgl-sync/pkg/config"
	"github.com/paulschiretz/pgl-sync/pkg/digestcache"
	"github.com/paulschiretz/pgl-sync/pkg/hook"
	"github.com/paulschiretz/pgl-sync/pkg/objstore"
	"github.com/paulschiretz/pgl-sync/pkg/pathsync"
	"github.com/paulschiretz/pgl-sync/pkg/plog"
	"github.com/paulschiretz/pgl-sync/pkg/syncignore"
	"github.com/paulschiretz/pgl-sync/pkg/synclog"
)

// Build assembles an Engine and its collaborators from a validated config.
// Archive and watch settings are taken from cfg; opts supplies the
// confirmer and the metrics recorder. The returned close function releases
// the digest cache and must be called once the engine has stopped.
func Build(cfg *config.Config, opts Options) (*Engine, func(), error) {
	session, err := cfg.Session()
	if err != nil {
		return nil, nil, err
	}

	log := synclog.New(
		filepath.Join(session.Target, session.LogFileName),
		filepath.Join(session.Source, session.LogFileName),
		synclog.WithDryRun(session.DryRun),
	)
	guard := objstore.NewGuard(log)
	matcher := syncignore.NewMatcher(filepath.Join(session.Source, cfg.IgnoreFileName))

	var cache *digestcache.Cache
	closeFn := func() {}
	if cfg.Engine.HashCache {
		path := cfg.Engine.HashCachePath
		if path == "" {
			if path, err = digestcache.DefaultPath(); err != nil {
				return nil, nil, fmt.Errorf("cannot locate digest cache: %w", err)
			}
		}
		if cache, err = digestcache.Open(path); err != nil {
			return nil, nil, err
		}
		plog.Debug("Digest cache opened", "path", path, "entries", cache.Len())
		closeFn = func() {
			if err := cache.Close(); err != nil {
				plog.Warn("Failed to close digest cache", "error", err)
			}
		}
	}

	strategy := compare.ByDate
	if session.Mode == pathsync.HashMode {
		strategy = compare.ByHash
	}
	bufferSize := cfg.Engine.BufferSizeKB * 1024
	comparer := compare.New(compare.Options{
		Strategy:        strategy,
		ToleranceFactor: session.ToleranceFactor,
		BufferSize:      bufferSize,
		Stores:          guard,
		Cache:           cache,
	})

	opts.Archive = cfg.ArchiveOptions()
	opts.Watch = cfg.Engine.Watch
	opts.WatchDebounce = cfg.Engine.WatchDebounce
	if opts.Hooks == nil {
		if hooks := hook.NewExecutor(cfg.HookPlan(), nil); hooks.Enabled() {
			opts.Hooks = hooks
		}
	}

	e := New(session, pathsync.Deps{
		Matcher:    matcher,
		Comparer:   comparer,
		Guard:      guard,
		Log:        log,
		Cache:      cache,
		BufferSize: bufferSize,
	}, opts)
	return e, closeFn, nil
}
