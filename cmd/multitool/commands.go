package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"multitool/internal/app"
	"multitool/internal/config"
	"multitool/internal/core"
	"multitool/internal/eventbus"
	"multitool/internal/storage"
	"multitool/internal/timer"
)

const stopTimeout = 10 * time.Second

// withApp builds and starts the app, runs fn, then stops it.
func withApp(ctx context.Context, f *rootFlags, o app.Options, fn func(ctx context.Context, a *app.App) error) (err error) {
	o.ConfigPath = f.configPath()
	o.Quiet = o.Quiet || f.quiet
	a, err := app.New(o)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}
	reason := app.StopFinished
	defer func() {
		if ctx.Err() != nil {
			reason = app.StopSignal
		}
		sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		err = errors.Join(err, a.Stop(sctx, reason))
	}()
	return fn(ctx, a)
}

func newRunCmd(f *rootFlags) *cobra.Command {
	var noConsole bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the host: presets, tool watchers and the interactive console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o := app.Options{ConfigPath: f.configPath(), Out: cmd.OutOrStdout(), Quiet: f.quiet}
			a, err := app.New(o)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

			quit := make(chan error, 1)
			if !noConsole {
				c := app.NewConsole(a)
				go func() { quit <- c.Run(ctx, cmd.InOrStdin()) }()
			}

			reason := app.StopSignal
			select {
			case <-ctx.Done():
			case <-a.Done():
				reason = app.StopFatalError
			case err := <-quit:
				// EOF on stdin keeps the host running as a daemon.
				if errors.Is(err, app.ErrQuit) {
					reason = app.StopConsole
					break
				}
				select {
				case <-ctx.Done():
				case <-a.Done():
					reason = app.StopFatalError
				}
			}

			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			stopErr := a.Stop(sctx, reason)
			if reason == app.StopFatalError {
				return errors.Join(a.Err(), stopErr)
			}
			return stopErr
		},
	}
	cmd.Flags().BoolVar(&noConsole, "no-console", false, "do not read commands from stdin")
	return cmd
}

// track starts a timer on the loop and returns a channel closed when it
// finishes.
func track(ctx context.Context, a *app.App, opts timer.Options) (string, <-chan struct{}, error) {
	done := make(chan struct{})
	var once sync.Once
	var id string
	err := a.Do(ctx, func(c *core.Context) {
		id = c.CreateTimer(opts)
		c.On(timer.EventFinished, func(e eventbus.Event) error {
			if s, ok := e.Data.(timer.Snapshot); ok && s.ID == id {
				once.Do(func() { close(done) })
			}
			return nil
		})
		c.StartTimer(id)
	})
	return id, done, err
}

func snapshot(ctx context.Context, a *app.App, id string) (timer.Snapshot, error) {
	var s timer.Snapshot
	err := a.Do(ctx, func(c *core.Context) { s, _ = c.Timer(id) })
	return s, err
}

func newCountdownCmd(f *rootFlags) *cobra.Command {
	var name, format string
	cmd := &cobra.Command{
		Use:     "countdown <target>",
		Aliases: []string{"timer"},
		Short:   "Count down from a target (90, 1m30s, 01:30) and exit when it finishes",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secs, err := timer.ParseTarget(args[0])
			if err != nil {
				return err
			}
			if secs <= 0 {
				return fmt.Errorf("target must be greater than zero")
			}
			return withApp(cmd.Context(), f, app.Options{Out: cmd.OutOrStdout()}, func(ctx context.Context, a *app.App) error {
				id, done, err := track(ctx, a, timer.Options{Name: name, Mode: timer.Countdown, TargetSeconds: secs, Format: format})
				if err != nil {
					return err
				}
				select {
				case <-done:
					return nil
				case <-ctx.Done():
					// Interrupted: report where it stopped, from a fresh context.
					s, _ := snapshot(context.Background(), a, id)
					fmt.Fprintf(cmd.OutOrStdout(), "interrupted with %s left\n", s.Display())
					return nil
				}
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "countdown", "timer name")
	cmd.Flags().StringVar(&format, "format", "", "display layout ("+strings.Join(timer.Layouts(), ", ")+")")
	return cmd
}

func newStopwatchCmd(f *rootFlags) *cobra.Command {
	var (
		name, format string
		limit        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stopwatch",
		Short: "Run a stopwatch until interrupted (or for --for)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), f, app.Options{Out: cmd.OutOrStdout()}, func(ctx context.Context, a *app.App) error {
				id, _, err := track(ctx, a, timer.Options{Name: name, Mode: timer.Stopwatch, Format: format})
				if err != nil {
					return err
				}
				var after <-chan time.Time
				if limit > 0 {
					t := time.NewTimer(limit)
					defer t.Stop()
					after = t.C
				}
				select {
				case <-ctx.Done():
				case <-after:
				}
				var s timer.Snapshot
				err = a.Do(context.Background(), func(c *core.Context) {
					c.StopTimer(id)
					s, _ = c.Timer(id)
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", s.Name, s.Display())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "stopwatch", "timer name")
	cmd.Flags().StringVar(&format, "format", "", "display layout ("+strings.Join(timer.Layouts(), ", ")+")")
	cmd.Flags().DurationVar(&limit, "for", 0, "stop after this long")
	return cmd
}

func newToolsCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Load every known tool source and list what registered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o := app.Options{Out: cmd.OutOrStdout(), Quiet: true, NoStorage: true}
			return withApp(cmd.Context(), f, o, func(ctx context.Context, a *app.App) error {
				var failed []string
				err := a.Do(ctx, func(c *core.Context) {
					for _, r := range c.LoadAll(ctx, c.Registry().Sources()) {
						if r.Err != nil {
							failed = append(failed, fmt.Sprintf("  %s: %v", r.Source, r.Err))
						}
					}
				})
				if err != nil {
					return err
				}
				out, err := app.NewConsole(a).Exec(ctx, "tools")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				if len(failed) > 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "failed:")
					fmt.Fprintln(cmd.OutOrStdout(), strings.Join(failed, "\n"))
				}
				return nil
			})
		},
	}
}

func newOpenCmd(f *rootFlags) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "open <tool>",
		Short: "Open a tool by name, loading its source on demand",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o := app.Options{Out: cmd.OutOrStdout(), Quiet: !wait}
			return withApp(cmd.Context(), f, o, func(ctx context.Context, a *app.App) error {
				out, err := app.NewConsole(a).Exec(ctx, "open "+quote(strings.Join(args, " ")))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				if wait {
					<-ctx.Done()
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "keep running (and reporting) until interrupted")
	return cmd
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`) + `"`
}

func newHistoryCmd(f *rootFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [timer-id]",
		Short: "Show recorded timer runs, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(app.Options{ConfigPath: f.configPath(), Out: cmd.OutOrStdout(), Quiet: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Stop(context.Background(), app.StopFinished) }()
			st := a.Store()
			if st == nil {
				return fmt.Errorf("history: %w (set storage.driver)", storage.ErrDisabled)
			}
			q := storage.Query{Limit: limit}
			if len(args) > 0 {
				q.TimerID = args[0]
			}
			runs, err := st.Runs(cmd.Context(), q)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), app.FormatRuns(runs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum rows")
	return cmd
}

func newValidateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Parse and validate a config file without starting anything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := f.configPath()
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return errors.New("no config file given or found")
			}
			if _, err := os.Stat(path); err != nil {
				return err
			}
			cfg, err := config.NewManager(path).Parse()
			if err != nil {
				return err
			}
			changed, _ := config.SummarizeChange(config.Default(), cfg)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d presets, %d tool sources", path, len(cfg.Timers.Presets), len(cfg.Tools.Sources))
			if len(changed) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "; sections set: %s", strings.Join(changed, ", "))
			}
			fmt.Fprintln(cmd.OutOrStdout(), ")")
			return nil
		},
	}
}
