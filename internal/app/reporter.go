package app

import (
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"multitool/internal/config"
	"multitool/internal/eventbus"
	"multitool/internal/notify"
	"multitool/internal/timer"
)

// Reporter prints timer progress. Lifecycle events always print; updates are
// throttled per timer.
type Reporter struct {
	out io.Writer
	now func() time.Time

	mu       sync.Mutex
	enabled  bool
	limit    rate.Limit
	limiters map[string]*rate.Limiter
}

func NewReporter(out io.Writer, cfg config.ReportConfig) *Reporter {
	r := &Reporter{out: out, now: time.Now, limiters: map[string]*rate.Limiter{}}
	r.Apply(cfg)
	return r
}

func (r *Reporter) Apply(cfg config.ReportConfig) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = config.DefaultReportRate
	}
	r.mu.Lock()
	r.enabled = cfg.Enabled
	if r.limit != rate.Limit(rps) {
		r.limit = rate.Limit(rps)
		clear(r.limiters)
	}
	r.mu.Unlock()
}

// Attach subscribes to every timer event. Call it on the loop goroutine.
func (r *Reporter) Attach(bus *eventbus.Bus) []eventbus.Subscription {
	subs := make([]eventbus.Subscription, 0, len(timer.Events))
	for _, name := range timer.Events {
		subs = append(subs, bus.Subscribe(name, r.handle))
	}
	return subs
}

func (r *Reporter) allow(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return false
	}
	lim := r.limiters[id]
	if lim == nil {
		lim = rate.NewLimiter(r.limit, 1)
		r.limiters[id] = lim
	}
	return lim.AllowN(r.now(), 1)
}

func (r *Reporter) on() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

func (r *Reporter) forget(id string) {
	r.mu.Lock()
	delete(r.limiters, id)
	r.mu.Unlock()
}

func (r *Reporter) handle(e eventbus.Event) error {
	s, ok := e.Data.(timer.Snapshot)
	if !ok {
		return nil
	}
	name := s.Name
	if name == "" {
		name = s.ID
	}

	var line string
	switch e.Name {
	case timer.EventUpdate:
		if !r.allow(s.ID) {
			return nil
		}
		line = fmt.Sprintf("  %-16s %s", name, s.Display())
	case timer.EventCreate:
		if !r.on() {
			return nil
		}
		if s.HasTarget() {
			line = fmt.Sprintf("+ %s created (%s %s)", name, s.Mode, s.Display())
		} else {
			line = fmt.Sprintf("+ %s created (%s)", name, s.Mode)
		}
	case timer.EventRemove:
		r.forget(s.ID)
		if !r.on() {
			return nil
		}
		line = fmt.Sprintf("- %s removed", name)
	default:
		if !r.on() {
			return nil
		}
		msg, err := notify.Message(e)
		if err != nil {
			return err
		}
		line = msg
	}
	_, err := fmt.Fprintln(r.out, line)
	return err
}
