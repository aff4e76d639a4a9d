// Package loop implements the single-owner cooperative frame loop that drives
// every timer tick, event publish and tool call in multitool.
//
// The loop has display-refresh semantics: a callback registered with
// RequestFrame runs once, on the next frame, and must re-register itself to keep
// running. Work coming from other goroutines is handed over with Post/Do so all
// runtime state has exactly one owner.
package loop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"multitool/internal/clock"
	logx "multitool/pkg/logx"
)

// DefaultFPS matches a typical display refresh rate.
const DefaultFPS = 60

var ErrClosed = errors.New("loop closed")

// FrameID identifies a pending frame callback. The zero value never identifies one.
type FrameID uint64

// FrameFunc runs on the loop goroutine; now is the frame's clock reading.
type FrameFunc func(now time.Duration)

type Loop struct {
	clock    clock.Clock
	log      logx.Logger
	interval time.Duration

	mu      sync.Mutex
	seq     FrameID
	pending map[FrameID]FrameFunc
	order   []FrameID
	tasks   []func()
	closed  bool
	frames  uint64

	wake chan struct{}
}

type Option func(*Loop)

func WithLogger(log logx.Logger) Option { return func(l *Loop) { l.log = log } }

// WithFPS sets the refresh rate used by Run. Values <= 0 keep DefaultFPS.
func WithFPS(fps int) Option {
	return func(l *Loop) {
		if fps > 0 {
			l.interval = time.Second / time.Duration(fps)
		}
	}
}

func New(clk clock.Clock, opts ...Option) *Loop {
	if clk == nil {
		clk = clock.System()
	}
	l := &Loop{
		clock:    clk,
		interval: time.Second / DefaultFPS,
		pending:  map[FrameID]FrameFunc{},
		wake:     make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(l)
	}
	if l.log.IsZero() {
		l.log = logx.Nop()
	}
	return l
}

func (l *Loop) Clock() clock.Clock { return l.clock }

// Interval is the time between frames when driven by Run.
func (l *Loop) Interval() time.Duration { return l.interval }

// RequestFrame schedules fn for the next frame and returns its handle.
// Callbacks requested while a frame is running run on the following frame.
func (l *Loop) RequestFrame(fn FrameFunc) FrameID {
	if fn == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	id := l.seq
	l.pending[id] = fn
	l.order = append(l.order, id)
	return id
}

// CancelFrame drops a pending callback. It reports whether the callback was
// still pending; a cancelled callback never runs.
func (l *Loop) CancelFrame(id FrameID) bool {
	if id == 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pending[id]; !ok {
		return false
	}
	delete(l.pending, id)
	return true
}

// Pending returns the number of frame callbacks waiting for the next frame.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Frames returns how many frames have run.
func (l *Loop) Frames() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames
}

// Post queues fn to run on the loop goroutine ahead of the next frame's callbacks.
// It returns false once the loop has shut down.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return true
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop goroutine and waits for it. It must not be called from
// the loop goroutine itself (the wait would never end).
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Step runs one frame: queued tasks first, then every frame callback that was
// pending when the frame started. It returns the number of callbacks run.
func (l *Loop) Step() int {
	l.runTasks()

	now := l.clock.Now()
	l.mu.Lock()
	order := l.order
	l.order = nil
	l.frames++
	l.mu.Unlock()

	ran := 0
	for _, id := range order {
		l.mu.Lock()
		fn, ok := l.pending[id]
		delete(l.pending, id)
		l.mu.Unlock()
		if !ok {
			continue
		}
		ran++
		l.safeRun("frame", func() { fn(now) })
	}
	return ran
}

func (l *Loop) runTasks() {
	for {
		l.mu.Lock()
		tasks := l.tasks
		l.tasks = nil
		l.mu.Unlock()
		if len(tasks) == 0 {
			return
		}
		for _, fn := range tasks {
			l.safeRun("task", fn)
		}
	}
}

// Run drives frames at the configured rate until ctx is done. Posted tasks are
// also picked up between frames. On return the loop is closed and any tasks
// already queued have run.
func (l *Loop) Run(ctx context.Context) error {
	t := time.NewTicker(l.interval)
	defer t.Stop()
	l.log.Debug("frame loop started", logx.Duration("interval", l.interval))

	defer func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		l.runTasks()
		l.log.Debug("frame loop stopped", logx.Uint64("frames", l.Frames()))
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
			l.runTasks()
		case <-t.C:
			l.Step()
		}
	}
}

func (l *Loop) safeRun(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("panic in loop "+kind,
				logx.String("panic", fmt.Sprint(r)),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn()
}
