package app

import (
	"context"
	"slices"

	"multitool/internal/config"
	logx "multitool/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	prev := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(ctx, prev, cfg)
			prev = cfg
		}
	}
}

// applyConfig hot-applies what can change at runtime. Sections listed by
// config.NeedsRestart are reported and otherwise ignored.
func (a *App) applyConfig(ctx context.Context, prev, cfg *config.Config) {
	changed, attrs := config.SummarizeChange(prev, cfg)
	if len(changed) == 0 {
		return
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.Strings("changed", changed)}, attrs...)...)
	if restart := config.NeedsRestart(changed); len(restart) > 0 {
		a.log.Warn("config changes need a restart", logx.Strings("sections", restart))
	}

	for _, section := range changed {
		switch section {
		case "logging":
			a.logs.Apply(mapLogConfig(cfg))
		case "report":
			rc := cfg.Report
			if a.opts.Quiet {
				rc.Enabled = false
			}
			a.report.Apply(rc)
		case "notify":
			if a.notif != nil {
				if _, nc, on, err := mapTelegram(cfg); err == nil && on {
					a.notif.Apply(nc)
				}
			}
		case "timers":
			format := cfg.Timers.DefaultFormat
			a.loop.Post(func() { a.core.Scheduler().SetDefaultFormat(format) })
			if err := a.presets.Sync(mapPresets(cfg)); err != nil {
				a.log.Warn("some presets were skipped", logx.Err(err))
			}
		case "tools":
			a.applyTools(ctx, prev, cfg)
		case "debug":
			if err := a.debug.Apply(ctx, mapDebug(cfg)); err != nil {
				a.log.Warn("debug server not started", logx.Err(err))
			}
		}
	}
}

func (a *App) applyTools(ctx context.Context, prev, cfg *config.Config) {
	if prev.Tools.Dir != cfg.Tools.Dir {
		a.log.Warn("tools.dir change takes effect on restart", logx.String("dir", prev.Tools.Dir))
	}
	var added []string
	for _, s := range cfg.Tools.Sources {
		if !slices.Contains(prev.Tools.Sources, s) {
			added = append(added, s)
		}
	}
	allow := cfg.Tools.Allow
	a.loop.Post(func() {
		a.core.SetAllow(allow)
		a.core.Registry().SetSources(a.knownSources(cfg))
		if len(added) > 0 {
			a.logLoad(a.core.LoadAll(ctx, added))
		}
	})
}
