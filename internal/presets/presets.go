// Package presets creates configured timers at boot and drives them from
// cron or interval schedules. Scheduled actions are posted to the frame loop;
// cron's goroutine never touches timer state directly.
package presets

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"multitool/internal/timer"
	logx "multitool/pkg/logx"
)

type Action string

const (
	ActionStart   Action = "start"
	ActionRestart Action = "restart"
	ActionStop    Action = "stop"
	ActionReset   Action = "reset"
	ActionLap     Action = "lap"
)

// Actions lists every accepted action.
var Actions = []Action{ActionStart, ActionRestart, ActionStop, ActionReset, ActionLap}

// ParseAction returns "" for an empty string; Sync then picks the mode's
// default action.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if a == "" {
		return "", nil
	}
	if !slices.Contains(Actions, a) {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// Preset is a timer declared in configuration.
type Preset struct {
	Timer     timer.Options
	Schedule  string
	Action    Action
	AutoStart bool
}

// defaultAction is restart for countdowns, since starting a finished
// countdown finishes it again on the next frame.
func defaultAction(mode timer.Mode) Action {
	if mode == timer.Countdown {
		return ActionRestart
	}
	return ActionStart
}

// Timers is the subset of the core a preset needs.
type Timers interface {
	CreateTimer(opts timer.Options) string
	StartTimer(id string)
	StopTimer(id string)
	ResetTimer(id string)
	LapTimer(id string) (float64, bool)
	Timer(id string) (timer.Snapshot, bool)
}

// Poster hands a function to the frame loop.
type Poster interface {
	Post(fn func()) bool
}

// Entry describes one scheduled preset.
type Entry struct {
	ID       string    `json:"id"`
	Schedule Schedule  `json:"schedule"`
	Action   Action    `json:"action"`
	Next     time.Time `json:"next"`
}

type Service struct {
	loop   Poster
	timers Timers
	log    logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	loc     *time.Location
	presets map[string]Preset
	entries map[string]cron.EntryID
	scheds  map[string]Schedule
}

type Option func(*Service)

func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }
func WithLogger(log logx.Logger) Option      { return func(s *Service) { s.log = log } }

func New(loop Poster, timers Timers, opts ...Option) *Service {
	s := &Service{
		loop:    loop,
		timers:  timers,
		log:     logx.Nop(),
		loc:     time.Local,
		presets: map[string]Preset{},
		entries: map[string]cron.EntryID{},
		scheds:  map[string]Schedule{},
	}
	for _, o := range opts {
		o(s)
	}
	s.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(s.loc))
	return s
}

// Start begins cron triggering.
func (s *Service) Start() { s.c.Start() }

// Stop halts triggering and waits for running jobs until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	done := s.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Sync makes the scheduled set match presets. Timers that do not exist yet
// are created on the loop; existing timers are left alone. Invalid schedules
// are skipped and reported together.
func (s *Service) Sync(presets []Preset) error {
	s.mu.Lock()
	for id, eid := range s.entries {
		s.c.Remove(eid)
		delete(s.entries, id)
	}
	clear(s.scheds)
	clear(s.presets)

	var errs []string
	var boot []Preset
	for _, p := range presets {
		id := strings.TrimSpace(p.Timer.ID)
		if id == "" {
			errs = append(errs, "preset without id")
			continue
		}
		p.Timer.ID = id
		if p.Action == "" {
			p.Action = defaultAction(p.Timer.Mode)
		}
		s.presets[id] = p
		boot = append(boot, p)

		if strings.TrimSpace(p.Schedule) == "" {
			continue
		}
		sch, err := ParseSchedule(p.Schedule)
		if err == nil {
			var cs cron.Schedule
			if cs, err = sch.cronSchedule(); err == nil {
				s.entries[id] = s.c.Schedule(cs, cron.FuncJob(func() { s.trigger(id) }))
				s.scheds[id] = sch
			}
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", id, err))
		}
	}
	s.mu.Unlock()

	s.loop.Post(func() {
		for _, p := range boot {
			s.ensure(p)
		}
	})
	s.log.Info("presets synced", logx.Int("presets", len(presets)), logx.Int("scheduled", len(s.Entries())))
	if len(errs) > 0 {
		return fmt.Errorf("presets: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Entries lists scheduled presets sorted by id.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for id, eid := range s.entries {
		out = append(out, Entry{
			ID:       id,
			Schedule: s.scheds[id],
			Action:   s.presets[id].Action,
			Next:     s.c.Entry(eid).Next,
		})
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Fire runs a preset's action now. It must be called on the loop.
func (s *Service) Fire(id string) bool {
	s.mu.Lock()
	p, ok := s.presets[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.ensure(p)
	s.apply(p)
	return true
}

func (s *Service) trigger(id string) {
	if !s.loop.Post(func() { s.Fire(id) }) {
		s.log.Debug("preset trigger dropped, loop closed", logx.String("preset", id))
	}
}

// ensure creates p's timer if it is missing.
func (s *Service) ensure(p Preset) {
	if _, ok := s.timers.Timer(p.Timer.ID); ok {
		return
	}
	s.timers.CreateTimer(p.Timer)
	if p.AutoStart {
		s.timers.StartTimer(p.Timer.ID)
	}
}

func (s *Service) apply(p Preset) {
	id := p.Timer.ID
	s.log.Debug("preset fired", logx.String("preset", id), logx.String("action", string(p.Action)))
	switch p.Action {
	case ActionStart:
		s.timers.StartTimer(id)
	case ActionRestart:
		s.timers.ResetTimer(id)
		s.timers.StartTimer(id)
	case ActionStop:
		s.timers.StopTimer(id)
	case ActionReset:
		s.timers.ResetTimer(id)
	case ActionLap:
		s.timers.LapTimer(id)
	}
}
