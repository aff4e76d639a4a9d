package core

import (
	"context"

	"multitool/internal/eventbus"
	"multitool/internal/registry"
	"multitool/internal/timer"
	logx "multitool/pkg/logx"
)

// Scoped is the Core a single tool module sees. Calls outside the module's
// allowlist are logged and degrade to a no-op or empty result.
type Scoped struct {
	c      *Context
	source string
	log    logx.Logger
}

var _ Core = (*Scoped)(nil)

func (s *Scoped) Source() string { return s.source }

func (s *Scoped) allowed(cap string) bool {
	if s.c.caps.Allows(s.source, cap) {
		return true
	}
	s.log.Warn("tool call denied", logx.Err(deny(cap)))
	return false
}

func (s *Scoped) CreateTimer(opts timer.Options) string {
	if !s.allowed(CapTimerWrite) {
		return ""
	}
	return s.c.CreateTimer(opts)
}

func (s *Scoped) StartTimer(id string) {
	if s.allowed(CapTimerWrite) {
		s.c.StartTimer(id)
	}
}

func (s *Scoped) StopTimer(id string) {
	if s.allowed(CapTimerWrite) {
		s.c.StopTimer(id)
	}
}

func (s *Scoped) ResetTimer(id string) {
	if s.allowed(CapTimerWrite) {
		s.c.ResetTimer(id)
	}
}

func (s *Scoped) LapTimer(id string) (float64, bool) {
	if !s.allowed(CapTimerWrite) {
		return 0, false
	}
	return s.c.LapTimer(id)
}

// Timers and Timer need timer.read; timer.write implies it.
func (s *Scoped) Timers() []timer.Snapshot {
	if !s.c.caps.AllowsAny(s.source, CapTimerRead, CapTimerWrite) {
		s.log.Warn("tool call denied", logx.Err(deny(CapTimerRead)))
		return nil
	}
	return s.c.Timers()
}

func (s *Scoped) Timer(id string) (timer.Snapshot, bool) {
	if !s.c.caps.AllowsAny(s.source, CapTimerRead, CapTimerWrite) {
		s.log.Warn("tool call denied", logx.Err(deny(CapTimerRead)))
		return timer.Snapshot{}, false
	}
	return s.c.Timer(id)
}

func (s *Scoped) On(event string, h eventbus.Handler) eventbus.Subscription {
	if !s.allowed(CapEventSubscribe) {
		return 0
	}
	sub := s.c.On(event, h)
	s.c.track(s.source, event, sub)
	return sub
}

func (s *Scoped) Off(event string, sub eventbus.Subscription) {
	s.c.untrack(s.source, event, sub)
	s.c.Off(event, sub)
}

func (s *Scoped) RegisterTool(name string, t registry.Tool) registry.Record {
	if !s.allowed(CapToolsRegister) {
		return registry.Record{Name: name, Source: s.source, Tool: t}
	}
	return s.c.RegisterTool(name, t)
}

func (s *Scoped) OpenCapability(ctx context.Context, name string) registry.Outcome {
	if !s.allowed(CapToolsOpen) {
		return registry.Outcome{Name: name, Status: registry.StatusNotAvailable, Err: deny(CapToolsOpen)}
	}
	return s.c.OpenCapability(ctx, name)
}

func (s *Scoped) Logger() logx.Logger { return s.log }
