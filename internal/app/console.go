package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"multitool/internal/core"
	"multitool/internal/storage"
	"multitool/internal/timer"
	logx "multitool/pkg/logx"
)

// ErrQuit is returned by Exec for the quit command.
var ErrQuit = errors.New("quit")

type command struct {
	Name    string
	Aliases []string
	Usage   string
	Desc    string
	Bools   []string
	Run     func(ctx context.Context, a args) (string, error)
}

// Console is the line-oriented control surface of a running App. Timer and
// tool commands run on the frame loop.
type Console struct {
	app   *App
	cmds  []*command
	index map[string]*command
}

func NewConsole(a *App) *Console {
	c := &Console{app: a, index: map[string]*command{}}
	c.register(
		&command{Name: "help", Aliases: []string{"?"}, Usage: "help [command]", Desc: "list commands", Run: c.help},
		&command{Name: "create", Aliases: []string{"new"}, Usage: "create <name> [--mode countdown|stopwatch] [--target 5m] [--format mm:ss] [--id ID] [--start]", Desc: "create a timer", Bools: []string{"start"}, Run: c.create},
		&command{Name: "start", Usage: "start <timer>", Desc: "start or resume a timer", Run: c.timerOp(func(cc *core.Context, id string) string { cc.StartTimer(id); return "" })},
		&command{Name: "stop", Aliases: []string{"pause"}, Usage: "stop <timer>", Desc: "pause a timer", Run: c.timerOp(func(cc *core.Context, id string) string { cc.StopTimer(id); return "" })},
		&command{Name: "reset", Usage: "reset <timer>", Desc: "stop and zero a timer", Run: c.timerOp(func(cc *core.Context, id string) string { cc.ResetTimer(id); return "" })},
		&command{Name: "lap", Usage: "lap <timer>", Desc: "record a lap", Run: c.timerOp(func(cc *core.Context, id string) string {
			ms, ok := cc.LapTimer(id)
			if !ok {
				return "no lap recorded"
			}
			s, _ := cc.Timer(id)
			return fmt.Sprintf("lap %d: %s", len(s.Laps), timer.Format(ms, s.Format))
		})},
		&command{Name: "remove", Aliases: []string{"rm"}, Usage: "remove <timer>", Desc: "delete a timer", Run: c.timerOp(func(cc *core.Context, id string) string { cc.RemoveTimer(id); return "removed " + id })},
		&command{Name: "rename", Usage: "rename <timer> <name>", Desc: "change a timer's display name", Run: c.rename},
		&command{Name: "list", Aliases: []string{"ls"}, Usage: "list", Desc: "show every timer", Run: c.list},
		&command{Name: "open", Usage: "open <tool>", Desc: "open a tool by name", Run: c.open},
		&command{Name: "tools", Usage: "tools", Desc: "show registered tools and known sources", Run: c.tools},
		&command{Name: "reload", Usage: "reload [source]", Desc: "reload the config file, or one tool source", Run: c.reload},
		&command{Name: "format", Usage: "format <layout> [timer]", Desc: "set the default display layout, or one timer's", Run: c.format},
		&command{Name: "presets", Usage: "presets", Desc: "show scheduled presets", Run: c.presets},
		&command{Name: "fire", Usage: "fire <preset>", Desc: "run a preset's action now", Run: c.fire},
		&command{Name: "history", Usage: "history [timer] [--limit N] [--session]", Desc: "show recorded runs", Bools: []string{"session"}, Run: c.history},
		&command{Name: "status", Usage: "status", Desc: "show loop and worker state", Run: c.status},
		&command{Name: "quit", Aliases: []string{"exit", "q"}, Usage: "quit", Desc: "stop multitool", Run: func(context.Context, args) (string, error) { return "", ErrQuit }},
	)
	return c
}

func (c *Console) register(cmds ...*command) {
	for _, cmd := range cmds {
		c.cmds = append(c.cmds, cmd)
		c.index[cmd.Name] = cmd
		for _, al := range cmd.Aliases {
			c.index[al] = cmd
		}
	}
}

// Exec runs one command line and returns its reply.
func (c *Console) Exec(ctx context.Context, line string) (string, error) {
	tokens := tokenize(line)
	if len(tokens) == 0 {
		return "", nil
	}
	name := strings.ToLower(strings.TrimPrefix(tokens[0], "/"))
	cmd, ok := c.index[name]
	if !ok {
		return "", fmt.Errorf("unknown command %q (try help)", tokens[0])
	}
	return cmd.Run(ctx, parseArgs(tokens[1:], cmd.Bools...))
}

// Run reads commands from in until EOF, quit or ctx is done. Replies and
// errors go to the app's output.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	out := c.app.out
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			reply, err := c.Exec(ctx, line)
			if errors.Is(err, ErrQuit) {
				return ErrQuit
			}
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			if reply != "" {
				fmt.Fprintln(out, reply)
			}
		}
	}
}

func (c *Console) help(_ context.Context, a args) (string, error) {
	if len(a.pos) > 0 {
		cmd, ok := c.index[strings.ToLower(a.pos[0])]
		if !ok {
			return "", fmt.Errorf("unknown command %q", a.pos[0])
		}
		lines := []string{cmd.Usage, "  " + cmd.Desc}
		if len(cmd.Aliases) > 0 {
			lines = append(lines, "  aliases: "+strings.Join(cmd.Aliases, ", "))
		}
		return strings.Join(lines, "\n"), nil
	}
	lines := make([]string, 0, len(c.cmds)+1)
	lines = append(lines, "commands:")
	for _, cmd := range c.cmds {
		lines = append(lines, fmt.Sprintf("  %-8s %s", cmd.Name, cmd.Desc))
	}
	return strings.Join(lines, "\n"), nil
}

// onLoop runs fn on the frame loop and returns its reply.
func (c *Console) onLoop(ctx context.Context, fn func(cc *core.Context) (string, error)) (string, error) {
	var (
		out  string
		ferr error
	)
	if err := c.app.Do(ctx, func(cc *core.Context) { out, ferr = fn(cc) }); err != nil {
		return "", err
	}
	return out, ferr
}

func resolve(cc *core.Context, ref string) (string, error) {
	id, ok := cc.Scheduler().Resolve(ref)
	if !ok {
		return "", fmt.Errorf("no timer matches %q", ref)
	}
	return id, nil
}

func (c *Console) timerOp(fn func(cc *core.Context, id string) string) func(context.Context, args) (string, error) {
	return func(ctx context.Context, a args) (string, error) {
		if len(a.pos) == 0 {
			return "", errors.New("missing timer")
		}
		return c.onLoop(ctx, func(cc *core.Context) (string, error) {
			id, err := resolve(cc, a.pos[0])
			if err != nil {
				return "", err
			}
			if msg := fn(cc, id); msg != "" {
				return msg, nil
			}
			s, _ := cc.Timer(id)
			return describe(s), nil
		})
	}
}

func (c *Console) create(ctx context.Context, a args) (string, error) {
	opts := timer.Options{
		ID:     a.flag("id"),
		Name:   strings.Join(a.pos, " "),
		Mode:   timer.ParseMode(a.flag("mode", "m")),
		Format: a.flag("format", "f"),
	}
	if raw := a.flag("target", "t"); raw != "" {
		secs, err := timer.ParseTarget(raw)
		if err != nil {
			return "", err
		}
		opts.TargetSeconds = secs
		// A target without an explicit mode means a countdown.
		if a.flag("mode", "m") == "" {
			opts.Mode = timer.Countdown
		}
	}
	if opts.Format != "" && timer.NormalizeLayout(opts.Format) == "" {
		return "", fmt.Errorf("unknown format %q (use %s)", opts.Format, strings.Join(timer.Layouts(), ", "))
	}
	start := a.has("start", "s")
	return c.onLoop(ctx, func(cc *core.Context) (string, error) {
		id := cc.CreateTimer(opts)
		if start {
			cc.StartTimer(id)
		}
		s, _ := cc.Timer(id)
		return describe(s), nil
	})
}

func (c *Console) rename(ctx context.Context, a args) (string, error) {
	if len(a.pos) < 2 {
		return "", errors.New("usage: rename <timer> <name>")
	}
	return c.onLoop(ctx, func(cc *core.Context) (string, error) {
		id, err := resolve(cc, a.pos[0])
		if err != nil {
			return "", err
		}
		cc.Scheduler().Rename(id, strings.Join(a.pos[1:], " "))
		s, _ := cc.Timer(id)
		return describe(s), nil
	})
}

func (c *Console) list(ctx context.Context, _ args) (string, error) {
	return c.onLoop(ctx, func(cc *core.Context) (string, error) {
		ts := cc.Timers()
		if len(ts) == 0 {
			return "no timers", nil
		}
		lines := make([]string, 0, len(ts))
		for _, s := range ts {
			lines = append(lines, describe(s))
		}
		return strings.Join(lines, "\n"), nil
	})
}

func describe(s timer.Snapshot) string {
	state := "idle"
	switch {
	case s.Finished:
		state = "finished"
	case s.Running:
		state = "running"
	case s.ElapsedMs > 0:
		state = "paused"
	}
	line := fmt.Sprintf("%-10s %-16s %-9s %-9s %s", s.ID, s.Name, s.Mode, state, s.Display())
	if n := len(s.Laps); n > 0 {
		line += fmt.Sprintf("  (%d laps)", n)
	}
	return line
}

func (c *Console) open(ctx context.Context, a args) (string, error) {
	if len(a.pos) == 0 {
		return "", errors.New("missing tool name")
	}
	name := strings.Join(a.pos, " ")
	return c.onLoop(ctx, func(cc *core.Context) (string, error) {
		out := cc.OpenCapability(ctx, name)
		if !out.OK() {
			return "", errors.New(out.String())
		}
		return formatResult(out.Name, out.Result), nil
	})
}

func formatResult(name string, v any) string {
	switch r := v.(type) {
	case nil:
		return name + ": opened"
	case string:
		return name + ": " + r
	case []string:
		return strings.Join(r, "\n")
	default:
		return fmt.Sprintf("%s: %v", name, r)
	}
}

func (c *Console) tools(ctx context.Context, _ args) (string, error) {
	return c.onLoop(ctx, func(cc *core.Context) (string, error) {
		reg := cc.Registry()
		var lines []string
		recs := reg.Records()
		lines = append(lines, fmt.Sprintf("tools (%d):", len(recs)))
		loaded := map[string]bool{}
		for _, r := range recs {
			loaded[r.Source] = true
			open := ""
			if !r.Tool.CanOpen() {
				open = " (no open)"
			}
			line := fmt.Sprintf("  %-14s %s%s", r.Name, r.Source, open)
			if r.Tool.Description != "" {
				line += "  " + r.Tool.Description
			}
			lines = append(lines, line)
		}
		var idle []string
		for _, s := range reg.Sources() {
			if !loaded[s] {
				idle = append(idle, s)
			}
		}
		if len(idle) > 0 {
			lines = append(lines, "not loaded: "+strings.Join(idle, ", "))
		}
		return strings.Join(lines, "\n"), nil
	})
}

func (c *Console) reload(ctx context.Context, a args) (string, error) {
	if len(a.pos) > 0 {
		src := a.pos[0]
		return c.onLoop(ctx, func(cc *core.Context) (string, error) {
			res := cc.Reload(ctx, src)
			if res.Err != nil {
				return "", res.Err
			}
			return fmt.Sprintf("reloaded %s: %s", src, strings.Join(res.Tools, ", ")), nil
		})
	}
	if c.app.cfgm.Path() == "" {
		return "", errors.New("no config file to reload")
	}
	changed, err := c.app.cfgm.Reload(ctx)
	if err != nil {
		return "", err
	}
	if !changed {
		return "config unchanged", nil
	}
	return "config reloaded", nil
}

func (c *Console) format(ctx context.Context, a args) (string, error) {
	if len(a.pos) == 0 {
		return "", fmt.Errorf("missing layout (use %s)", strings.Join(timer.Layouts(), ", "))
	}
	layout := timer.NormalizeLayout(a.pos[0])
	if layout == "" {
		return "", fmt.Errorf("unknown format %q (use %s)", a.pos[0], strings.Join(timer.Layouts(), ", "))
	}
	return c.onLoop(ctx, func(cc *core.Context) (string, error) {
		if len(a.pos) > 1 {
			id, err := resolve(cc, a.pos[1])
			if err != nil {
				return "", err
			}
			if !cc.Scheduler().SetFormat(id, layout) {
				return "", fmt.Errorf("timer %s not updated", id)
			}
			s, _ := cc.Timer(id)
			return describe(s), nil
		}
		cc.Scheduler().SetDefaultFormat(layout)
		return "default format: " + layout, nil
	})
}

func (c *Console) presets(context.Context, args) (string, error) {
	es := c.app.presets.Entries()
	if len(es) == 0 {
		return "no scheduled presets", nil
	}
	lines := make([]string, 0, len(es))
	for _, e := range es {
		next := "-"
		if !e.Next.IsZero() {
			next = e.Next.Format(time.DateTime)
		}
		lines = append(lines, fmt.Sprintf("%-12s %-8s %-20s next %s", e.ID, e.Action, e.Schedule, next))
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Console) fire(ctx context.Context, a args) (string, error) {
	if len(a.pos) == 0 {
		return "", errors.New("missing preset id")
	}
	id := a.pos[0]
	return c.onLoop(ctx, func(cc *core.Context) (string, error) {
		if !c.app.presets.Fire(id) {
			return "", fmt.Errorf("unknown preset %q", id)
		}
		s, _ := cc.Timer(id)
		return describe(s), nil
	})
}

func (c *Console) history(ctx context.Context, a args) (string, error) {
	st := c.app.store
	if st == nil {
		return "", storage.ErrDisabled
	}
	q := storage.Query{}
	if len(a.pos) > 0 {
		q.TimerID = a.pos[0]
	}
	if raw := a.flag("limit", "n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return "", fmt.Errorf("invalid --limit %q", raw)
		}
		q.Limit = n
	}
	if a.has("session") && c.app.rec != nil {
		q.Session = c.app.rec.Session()
	}
	runs, err := st.Runs(ctx, q)
	if err != nil {
		return "", err
	}
	return FormatRuns(runs), nil
}

// FormatRuns renders history rows, newest first.
func FormatRuns(runs []storage.RunEntry) string {
	if len(runs) == 0 {
		return "no history"
	}
	lines := make([]string, 0, len(runs))
	for _, r := range runs {
		line := fmt.Sprintf("%s  %-10s %-16s %-9s %s",
			r.At.Local().Format(time.DateTime), r.TimerID, r.Name, strings.TrimPrefix(r.Event, "timer:"),
			timer.Format(r.ElapsedMs, timer.LayoutMillis))
		if r.Lap > 0 {
			line += fmt.Sprintf(" lap %d", r.Lap)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (c *Console) status(ctx context.Context, _ args) (string, error) {
	var running, total, tools int
	var format string
	if err := c.app.Do(ctx, func(cc *core.Context) {
		running = cc.Scheduler().Running()
		total = len(cc.Timers())
		tools = len(cc.Registry().Names())
		format = cc.Scheduler().DefaultFormat()
	}); err != nil {
		return "", err
	}
	lines := []string{
		fmt.Sprintf("timers: %d (%d running), tools: %d, format: %s", total, running, tools, format),
		fmt.Sprintf("frames: %d at %s", c.app.loop.Frames(), c.app.loop.Interval()),
	}
	if c.app.rec != nil {
		lines = append(lines, "session: "+c.app.rec.Session())
	}
	workers := c.app.Workers()
	sort.SliceStable(workers, func(i, j int) bool { return workers[i].Name < workers[j].Name })
	for _, w := range workers {
		state := "stopped"
		if w.Running {
			state = "running"
		}
		line := fmt.Sprintf("  %-14s %s", w.Name, state)
		if w.Restarts > 0 {
			line += fmt.Sprintf(" restarts=%d", w.Restarts)
		}
		if w.LastErr != "" {
			line += " err=" + w.LastErr
		}
		lines = append(lines, line)
	}
	c.app.log.Debug("status requested", logx.Int("timers", total))
	return strings.Join(lines, "\n"), nil
}
