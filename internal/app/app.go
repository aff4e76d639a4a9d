// Package app wires the multitool host: config, logging, the frame loop, the
// core context, tool loaders, presets, history and notifications.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"multitool/internal/clock"
	"multitool/internal/config"
	"multitool/internal/core"
	"multitool/internal/debug"
	"multitool/internal/loop"
	"multitool/internal/notify"
	"multitool/internal/presets"
	"multitool/internal/recorder"
	"multitool/internal/registry"
	"multitool/internal/runtime/supervisor"
	"multitool/internal/script"
	"multitool/internal/storage"
	"multitool/internal/timer"
	"multitool/internal/tools"
	logx "multitool/pkg/logx"
)

type Options struct {
	ConfigPath string
	// Out receives progress lines and console replies; defaults to stdout.
	Out io.Writer
	// Quiet disables progress output regardless of config.
	Quiet bool
	// NoStorage skips opening the history store (for read-only commands).
	NoStorage bool
}

type App struct {
	opts Options
	out  io.Writer

	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service

	loop    *loop.Loop
	core    *core.Context
	scripts *script.Loader
	builtin registry.Builtins

	store   storage.Store
	rec     *recorder.Recorder
	tg      *notify.Telegram
	notif   *notify.Service
	presets *presets.Service
	report  *Reporter
	debug   *debug.Server

	sup *supervisor.Supervisor
}

func New(o Options) (*App, error) {
	cfgm := config.NewManager(o.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	out := o.Out
	if out == nil {
		out = os.Stdout
	}

	logs, log := logx.New(mapLogConfig(cfg), nil)
	appLog := log.With(logx.String("comp", "app"))

	a := &App{opts: o, out: out, cfgm: cfgm, log: appLog, logs: logs}

	tgCfg, nCfg, notifyOn, err := mapTelegram(cfg)
	if err != nil {
		return nil, err
	}
	if notifyOn {
		tg, err := notify.NewTelegram(tgCfg)
		if err != nil {
			return nil, fmt.Errorf("notify.telegram: %w", err)
		}
		a.tg = tg
		a.notif = notify.New(nCfg, tg, log.With(logx.String("comp", "notify")))
		if cfg.Logging.Alert.Enabled {
			logs.SetSink(tg)
		}
	}

	a.loop = loop.New(clock.System(),
		loop.WithFPS(cfg.Loop.FPS),
		loop.WithLogger(log.With(logx.String("comp", "loop"))),
	)
	a.scripts = script.NewLoader(cfg.Tools.Dir,
		script.WithBudget(scriptBudget(cfg)),
		script.WithLogger(log.With(logx.String("comp", "script"))),
	)
	target, _ := timer.ParseTarget(cfg.Timers.DefaultTarget)
	a.builtin = tools.Builtins(tools.Options{CountdownSeconds: target})

	a.core = core.New(core.Options{
		Loop:          a.loop,
		Loader:        registry.Chain{a.builtin, a.scripts},
		Logger:        log,
		DefaultFormat: cfg.Timers.DefaultFormat,
		Allow:         cfg.Tools.Allow,
	})
	a.core.Registry().SetSources(a.knownSources(cfg))

	if !o.NoStorage {
		sc, on, err := mapStorageConfig(cfg)
		if err != nil {
			return nil, err
		}
		if on {
			st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
			if err != nil {
				return nil, fmt.Errorf("storage: %w", err)
			}
			a.store = st
			a.rec = recorder.New(st, log.With(logx.String("comp", "recorder")))
			appLog.Info("history enabled", logx.String("driver", sc.Driver), logx.String("session", a.rec.Session()))
		}
	}

	a.presets = presets.New(a.loop, a.core,
		presets.WithLogger(log.With(logx.String("comp", "presets"))),
		presets.WithLocation(time.Local),
	)
	rc := cfg.Report
	if o.Quiet {
		rc.Enabled = false
	}
	a.report = NewReporter(out, rc)
	a.debug = debug.New(a.status, log.With(logx.String("comp", "debug")))
	return a, nil
}

func (a *App) Core() *core.Context      { return a.core }
func (a *App) Config() *config.Config   { return a.cfgm.Get() }
func (a *App) Logger() logx.Logger      { return a.log }
func (a *App) Store() storage.Store     { return a.store }
func (a *App) Presets() *presets.Service { return a.presets }

// Do runs fn on the frame loop and waits for it.
func (a *App) Do(ctx context.Context, fn func(c *core.Context)) error {
	return a.loop.Do(ctx, func() { fn(a.core) })
}

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Workers reports the background goroutines.
func (a *App) Workers() []supervisor.Worker {
	if a.sup == nil {
		return nil
	}
	return a.sup.Workers()
}

// knownSources is the builtin table, the configured sources and any script
// found in the tools directory, deduplicated in that order.
func (a *App) knownSources(cfg *config.Config) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range a.builtin.Sources() {
		add(s)
	}
	for _, s := range cfg.Tools.Sources {
		add(s)
	}
	for _, s := range discoverScripts(cfg.Tools.Dir) {
		add(s)
	}
	return out
}

func discoverScripts(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && script.Handles(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}

// Start launches the loop and every background worker, then loads the
// configured tool sources.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		_, _, _, err := mapTelegram(cfg)
		return err
	})

	// The loop is not running yet, so subscribing here is race-free.
	a.report.Attach(a.core.Bus())

	if a.rec != nil {
		ch, stop := a.core.Bus().Stream(recorder.StreamBuffer, recorder.Recorded...)
		a.sup.Go("recorder", func(c context.Context) error {
			defer stop()
			return a.rec.Run(c, ch)
		})
	}
	if a.notif != nil {
		ch, stop := a.core.Bus().Stream(64, notify.Streamed...)
		a.sup.Go("notify", func(c context.Context) error {
			defer stop()
			return a.notif.Run(c, ch)
		})
	}
	a.sup.Go("loop", a.loop.Run)

	cfg := a.cfgm.Get()
	var sources int
	if err := a.Do(ctx, func(c *core.Context) {
		a.logLoad(c.LoadAll(ctx, cfg.Tools.Sources))
		sources = len(c.Registry().Sources())
	}); err != nil {
		return err
	}
	if err := a.presets.Sync(mapPresets(cfg)); err != nil {
		a.log.Warn("some presets were skipped", logx.Err(err))
	}
	a.presets.Start()
	if err := a.debug.Apply(ctx, mapDebug(cfg)); err != nil {
		a.log.Warn("debug server not started", logx.Err(err))
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	if a.cfgm.Path() != "" {
		a.sup.GoRestart("config.watch", a.cfgm.Watch)
	}
	if cfg.Tools.Watch {
		a.sup.GoRestart("tools.watch", a.watchTools)
	}

	a.log.Info("multitool started",
		logx.Int("fps", cfg.Loop.FPS),
		logx.String("tools_dir", cfg.Tools.Dir),
		logx.Int("sources", sources),
	)
	return nil
}

func (a *App) logLoad(results []registry.LoadResult) {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if len(results) > 0 {
		a.log.Info("tool sources loaded", logx.Int("total", len(results)), logx.Int("failed", failed))
	}
}

// Stop shuts down in order: triggers, loop and consumers, storage, logging.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeStore()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	a.step(ctx, "presets", time.Second, func(c context.Context) error { a.presets.Stop(c); return nil })
	a.step(ctx, "debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error {
		err := a.sup.Stop(c)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			errs = append(errs, err)
		}
		return nil
	})
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// step runs fn with an upper bound so one component cannot stall shutdown.
// The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	stepCtx, cancel := context.WithTimeout(ctx, max(limit, 0))
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("step", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("step", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("step", name), logx.Duration("elapsed", time.Since(start)))
	}
}

// ScriptPath maps a script source to its file, for display.
func (a *App) ScriptPath(source string) string {
	if !script.Handles(source) {
		return source
	}
	p := a.scripts.Path(source)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Status is the document served by the debug endpoint.
type Status struct {
	Session string              `json:"session,omitempty"`
	Frames  uint64              `json:"frames"`
	Format  string              `json:"default_format"`
	Timers  []timer.Snapshot    `json:"timers"`
	Tools   []string            `json:"tools"`
	Sources []string            `json:"sources"`
	Presets []presets.Entry     `json:"presets,omitempty"`
	Workers []supervisor.Worker `json:"workers"`
}

func (a *App) status(ctx context.Context) (any, error) {
	st := Status{Frames: a.loop.Frames(), Presets: a.presets.Entries(), Workers: a.Workers()}
	if a.rec != nil {
		st.Session = a.rec.Session()
	}
	err := a.Do(ctx, func(c *core.Context) {
		st.Format = c.Scheduler().DefaultFormat()
		st.Timers = c.Timers()
		st.Tools = c.Registry().Names()
		st.Sources = c.Registry().Sources()
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}
