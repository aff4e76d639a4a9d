package timer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"multitool/internal/clock"
	"multitool/internal/loop"
	logx "multitool/pkg/logx"
)

// Frames is the next-tick primitive the scheduler drives timers with.
type Frames interface {
	RequestFrame(fn loop.FrameFunc) loop.FrameID
	CancelFrame(id loop.FrameID) bool
}

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(name string, data any)
}

type entry struct {
	id       string
	name     string
	mode     Mode
	target   float64
	format   string
	elapsed  float64
	laps     []float64
	running  bool
	finished bool
	created  uint64

	lastTick    time.Duration
	hasLastTick bool
	frame       loop.FrameID
}

func (e *entry) snapshot() Snapshot {
	s := Snapshot{
		ID:            e.id,
		Name:          e.name,
		Mode:          e.mode,
		TargetSeconds: e.target,
		ElapsedMs:     e.elapsed,
		Running:       e.running,
		Finished:      e.finished,
		Format:        e.format,
	}
	if len(e.laps) > 0 {
		s.Laps = append([]float64(nil), e.laps...)
	}
	if s.HasTarget() {
		s.RemainingMs = max(e.target*1000-e.elapsed, 0)
	}
	return s
}

// Scheduler owns every timer. It is not safe for concurrent use: all calls must
// come from the frame loop goroutine.
type Scheduler struct {
	frames Frames
	clock  clock.Clock
	bus    Publisher
	log    logx.Logger
	wall   func() time.Time

	defaultFormat string

	timers map[string]*entry
	seq    uint64
}

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }

// WithDefaultFormat sets the layout used when Options.Format is empty.
func WithDefaultFormat(layout string) Option {
	return func(s *Scheduler) {
		if l := NormalizeLayout(layout); l != "" {
			s.defaultFormat = l
		}
	}
}

// WithWallClock overrides the time source used to seed generated ids.
func WithWallClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.wall = now
		}
	}
}

func NewScheduler(frames Frames, clk clock.Clock, bus Publisher, opts ...Option) *Scheduler {
	s := &Scheduler{
		frames:        frames,
		clock:         clk,
		bus:           bus,
		wall:          time.Now,
		defaultFormat: LayoutMillis,
		timers:        map[string]*entry{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

// SetDefaultFormat changes the layout for timers created afterwards.
func (s *Scheduler) SetDefaultFormat(layout string) {
	if l := NormalizeLayout(layout); l != "" {
		s.defaultFormat = l
	}
}

func (s *Scheduler) DefaultFormat() string { return s.defaultFormat }

func (s *Scheduler) publish(name string, e *entry) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(name, e.snapshot())
}

func (s *Scheduler) nextID() string {
	for {
		s.seq++
		id := fmt.Sprintf("t_%d_%d", s.wall().UnixMilli(), s.seq)
		if _, exists := s.timers[id]; !exists {
			return id
		}
	}
}

// Create registers an idle timer and returns its id. Re-creating an existing id
// keeps the existing timer untouched.
func (s *Scheduler) Create(opts Options) string {
	id := strings.TrimSpace(opts.ID)
	if id != "" {
		if _, exists := s.timers[id]; exists {
			s.log.Warn("timer already exists", logx.String("timer", id))
			return id
		}
	} else {
		id = s.nextID()
	}

	mode := opts.Mode
	if mode != Countdown {
		mode = Stopwatch
	}
	format := NormalizeLayout(opts.Format)
	if format == "" {
		format = s.defaultFormat
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = id
	}

	s.seq++
	e := &entry{
		id:      id,
		name:    name,
		mode:    mode,
		target:  sanitizeTarget(opts.TargetSeconds),
		format:  format,
		created: s.seq,
	}
	s.timers[id] = e
	s.log.Debug("timer created", logx.String("timer", id), logx.String("mode", string(mode)))
	s.publish(EventCreate, e)
	return id
}

// Start begins accumulation. Unknown or running timers are left alone.
func (s *Scheduler) Start(id string) {
	e, ok := s.timers[id]
	if !ok || e.running {
		return
	}
	e.running = true
	e.finished = false
	e.lastTick = s.clock.Now()
	e.hasLastTick = true
	s.publish(EventStart, e)
	// A start handler may already have stopped it.
	if e.running && e.frame == 0 {
		s.schedule(e)
	}
}

func (s *Scheduler) schedule(e *entry) {
	var handle loop.FrameID
	handle = s.frames.RequestFrame(func(now time.Duration) {
		s.tick(e, handle, now)
	})
	e.frame = handle
}

func (s *Scheduler) tick(e *entry, handle loop.FrameID, now time.Duration) {
	if !e.running || e.frame != handle {
		return
	}
	if cur, ok := s.timers[e.id]; !ok || cur != e {
		return
	}
	e.frame = 0

	if delta := now - e.lastTick; delta > 0 {
		e.elapsed += float64(delta) / float64(time.Millisecond)
	}
	e.lastTick = now

	if e.mode == Countdown && e.target > 0 && e.elapsed/1000 >= e.target {
		e.elapsed = e.target * 1000
		e.running = false
		e.finished = true
		e.hasLastTick = false
		s.log.Debug("timer finished", logx.String("timer", e.id))
		s.publish(EventFinished, e)
		return
	}

	s.publish(EventUpdate, e)
	// An update handler may have stopped, reset or restarted the timer.
	if e.running && e.frame == 0 {
		s.schedule(e)
	}
}

func (s *Scheduler) cancel(e *entry) {
	if e.frame != 0 {
		s.frames.CancelFrame(e.frame)
		e.frame = 0
	}
}

// Stop freezes a running timer.
func (s *Scheduler) Stop(id string) {
	e, ok := s.timers[id]
	if !ok || !e.running {
		return
	}
	s.cancel(e)
	e.running = false
	e.hasLastTick = false
	s.publish(EventStop, e)
}

// Reset returns any timer to idle with zero elapsed time and no laps.
func (s *Scheduler) Reset(id string) {
	e, ok := s.timers[id]
	if !ok {
		return
	}
	s.cancel(e)
	e.running = false
	e.finished = false
	e.elapsed = 0
	e.laps = nil
	e.lastTick = 0
	e.hasLastTick = false
	s.publish(EventReset, e)
}

// Lap records the current elapsed time.
func (s *Scheduler) Lap(id string) (float64, bool) {
	e, ok := s.timers[id]
	if !ok {
		return 0, false
	}
	e.laps = append(e.laps, e.elapsed)
	s.publish(EventLap, e)
	return e.elapsed, true
}

// Remove deletes a timer, cancelling its pending tick.
func (s *Scheduler) Remove(id string) bool {
	e, ok := s.timers[id]
	if !ok {
		return false
	}
	s.cancel(e)
	e.running = false
	delete(s.timers, id)
	s.publish(EventRemove, e)
	return true
}

// Rename changes the display name. Ids never change.
func (s *Scheduler) Rename(id, name string) bool {
	e, ok := s.timers[id]
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return false
	}
	e.name = name
	return true
}

// SetFormat changes one timer's display layout. Unsupported layouts are refused.
func (s *Scheduler) SetFormat(id, layout string) bool {
	e, ok := s.timers[id]
	layout = NormalizeLayout(layout)
	if !ok || layout == "" {
		return false
	}
	e.format = layout
	return true
}

func (s *Scheduler) Get(id string) (Snapshot, bool) {
	e, ok := s.timers[id]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// List returns every timer in creation order.
func (s *Scheduler) List() []Snapshot {
	es := make([]*entry, 0, len(s.timers))
	for _, e := range s.timers {
		es = append(es, e)
	}
	sort.Slice(es, func(i, j int) bool { return es[i].created < es[j].created })
	out := make([]Snapshot, 0, len(es))
	for _, e := range es {
		out = append(out, e.snapshot())
	}
	return out
}

// Running returns how many timers are currently accumulating.
func (s *Scheduler) Running() int {
	n := 0
	for _, e := range s.timers {
		if e.running {
			n++
		}
	}
	return n
}

// Resolve finds a timer by id, then by exact name, then by unique id prefix.
func (s *Scheduler) Resolve(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if _, ok := s.timers[ref]; ok {
		return ref, true
	}
	var byName, byPrefix []string
	for id, e := range s.timers {
		if e.name == ref {
			byName = append(byName, id)
		}
		if strings.HasPrefix(id, ref) {
			byPrefix = append(byPrefix, id)
		}
	}
	if len(byName) == 1 {
		return byName[0], true
	}
	if len(byPrefix) == 1 {
		return byPrefix[0], true
	}
	return "", false
}
