package app

import (
	"context"
	"path/filepath"
	"slices"

	"multitool/internal/fswatch"
	"multitool/internal/script"
	logx "multitool/pkg/logx"
)

// watchTools reloads script sources when their files change. A new file only
// becomes a known source; it loads on first open. Configured sources reload
// even if their last load failed.
func (a *App) watchTools(ctx context.Context) error {
	dir := a.cfgm.Get().Tools.Dir
	log := a.log.With(logx.String("watch", "tools"))
	return fswatch.Watch(ctx, fswatch.Options{
		Dir:   dir,
		Match: script.Handles,
		Log:   log,
		OnChange: func(paths []string) {
			for _, p := range paths {
				a.loop.Post(func() { a.toolChanged(ctx, filepath.Base(p)) })
			}
		},
	})
}

func (a *App) toolChanged(ctx context.Context, source string) {
	reg := a.core.Registry()
	if !slices.Contains(reg.Sources(), source) {
		reg.SetSources(append(reg.Sources(), source))
		a.log.Info("tool source discovered", logx.String("source", source))
		return
	}
	loaded := slices.Contains(a.cfgm.Get().Tools.Sources, source)
	for _, rec := range reg.Records() {
		if rec.Source == source {
			loaded = true
			break
		}
	}
	if !loaded {
		return
	}
	if res := a.core.Reload(ctx, source); res.Err != nil {
		a.log.Warn("tool reload failed", logx.String("source", source), logx.Err(res.Err))
	}
}
