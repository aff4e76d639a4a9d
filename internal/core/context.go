// Package core assembles the timer scheduler, event bus and capability
// registry into the single context value handed to every tool module.
package core

import (
	"context"
	"time"

	"multitool/internal/clock"
	"multitool/internal/eventbus"
	"multitool/internal/loop"
	"multitool/internal/registry"
	"multitool/internal/timer"
	logx "multitool/pkg/logx"
)

// Core is the surface exposed to tool modules.
type Core = registry.Core

type Options struct {
	// Loop drives timer ticks; a loop over the system clock is created when nil.
	Loop   *loop.Loop
	Loader registry.Loader
	Logger logx.Logger

	DefaultFormat string
	// Allow maps a module source (or its base name) to its capability allowlist.
	Allow map[string][]string
	// Wall seeds generated timer ids.
	Wall func() time.Time
}

// Context is the explicit, per-process core. Everything it owns is confined to
// the frame loop goroutine; other goroutines go through Loop().Post/Do.
type Context struct {
	loop  *loop.Loop
	bus   *eventbus.Bus
	sched *timer.Scheduler
	reg   *registry.Registry
	caps  *capPolicy
	log   logx.Logger

	// subs holds the handlers each module source attached through its
	// Scoped view; they are dropped before the source loads again.
	subs map[string][]sourceSub
}

type sourceSub struct {
	event string
	sub   eventbus.Subscription
}

var _ Core = (*Context)(nil)

func New(o Options) *Context {
	log := o.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	lp := o.Loop
	if lp == nil {
		lp = loop.New(clock.System(), loop.WithLogger(log.With(logx.String("comp", "loop"))))
	}

	c := &Context{
		loop: lp,
		bus:  eventbus.New(log.With(logx.String("comp", "eventbus"))),
		caps: newCapPolicy(o.Allow),
		log:  log.With(logx.String("comp", "core")),
		subs: map[string][]sourceSub{},
	}
	c.sched = timer.NewScheduler(lp, lp.Clock(), c.bus,
		timer.WithLogger(log.With(logx.String("comp", "timer"))),
		timer.WithDefaultFormat(o.DefaultFormat),
		timer.WithWallClock(o.Wall),
	)
	c.reg = registry.New(o.Loader,
		registry.WithLogger(log.With(logx.String("comp", "registry"))),
		registry.WithPublisher(c.bus),
	)
	c.reg.Bind(func(source string) registry.Core { return c.Scoped(source) })
	c.reg.OnRelease(c.release)
	return c
}

func (c *Context) Loop() *loop.Loop             { return c.loop }
func (c *Context) Bus() *eventbus.Bus           { return c.bus }
func (c *Context) Scheduler() *timer.Scheduler  { return c.sched }
func (c *Context) Registry() *registry.Registry { return c.reg }
func (c *Context) Logger() logx.Logger          { return c.log }

// SetAllow replaces the per-module capability allowlists; loaded modules see
// the change on their next call.
func (c *Context) SetAllow(allow map[string][]string) { c.caps.Update(allow) }

func (c *Context) CreateTimer(opts timer.Options) string { return c.sched.Create(opts) }
func (c *Context) StartTimer(id string)                  { c.sched.Start(id) }
func (c *Context) StopTimer(id string)                   { c.sched.Stop(id) }
func (c *Context) ResetTimer(id string)                  { c.sched.Reset(id) }
func (c *Context) LapTimer(id string) (float64, bool)    { return c.sched.Lap(id) }
func (c *Context) RemoveTimer(id string) bool            { return c.sched.Remove(id) }
func (c *Context) Timers() []timer.Snapshot              { return c.sched.List() }

func (c *Context) Timer(id string) (timer.Snapshot, bool) { return c.sched.Get(id) }

func (c *Context) On(event string, h eventbus.Handler) eventbus.Subscription {
	return c.bus.Subscribe(event, h)
}

func (c *Context) Off(event string, sub eventbus.Subscription) { c.bus.Unsubscribe(event, sub) }

func (c *Context) RegisterTool(name string, t registry.Tool) registry.Record {
	return c.reg.Register(name, t)
}

func (c *Context) OpenCapability(ctx context.Context, name string) registry.Outcome {
	return c.reg.Open(ctx, name)
}

// LoadAll loads every source in order; see registry.Registry.LoadAll.
func (c *Context) LoadAll(ctx context.Context, sources []string) []registry.LoadResult {
	return c.reg.LoadAll(ctx, sources)
}

func (c *Context) Reload(ctx context.Context, source string) registry.LoadResult {
	return c.reg.Reload(ctx, source)
}

func (c *Context) track(source, event string, sub eventbus.Subscription) {
	if sub != 0 {
		c.subs[source] = append(c.subs[source], sourceSub{event: event, sub: sub})
	}
}

func (c *Context) untrack(source, event string, sub eventbus.Subscription) {
	list := c.subs[source]
	for i, s := range list {
		if s.event == event && s.sub == sub {
			c.subs[source] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// release unsubscribes every handler source attached.
func (c *Context) release(source string) {
	list := c.subs[source]
	if len(list) == 0 {
		return
	}
	delete(c.subs, source)
	for _, s := range list {
		c.bus.Unsubscribe(s.event, s.sub)
	}
	c.log.Debug("tool handlers released", logx.String("source", source), logx.Int("handlers", len(list)))
}

// Scoped returns the view a module loaded from source receives.
func (c *Context) Scoped(source string) *Scoped {
	return &Scoped{c: c, source: source, log: c.log.With(logx.String("source", source))}
}
