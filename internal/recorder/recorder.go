// Package recorder persists timer history. It consumes a bus stream off the
// frame loop so disk writes never stall ticks.
package recorder

import (
	"context"
	"time"

	"github.com/google/uuid"

	"multitool/internal/eventbus"
	"multitool/internal/storage"
	"multitool/internal/timer"
	logx "multitool/pkg/logx"
)

// Recorded lists the timer events that become history rows.
var Recorded = []string{timer.EventStop, timer.EventFinished, timer.EventLap, timer.EventReset}

type Recorder struct {
	store   storage.Store
	log     logx.Logger
	session string
	events  map[string]struct{}
}

// New returns a recorder writing to store under a fresh session id.
func New(store storage.Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	ev := make(map[string]struct{}, len(Recorded))
	for _, n := range Recorded {
		ev[n] = struct{}{}
	}
	session := uuid.NewString()
	return &Recorder{
		store:   store,
		log:     log.With(logx.String("session", session)),
		session: session,
		events:  ev,
	}
}

func (r *Recorder) Session() string { return r.session }

// Entry converts a timer event into a history row. ok is false for events
// that are not recorded.
func (r *Recorder) Entry(e eventbus.Event) (storage.RunEntry, bool) {
	if _, ok := r.events[e.Name]; !ok {
		return storage.RunEntry{}, false
	}
	s, ok := e.Data.(timer.Snapshot)
	if !ok {
		return storage.RunEntry{}, false
	}
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	row := storage.RunEntry{
		At:            at,
		Session:       r.session,
		TimerID:       s.ID,
		Name:          s.Name,
		Mode:          string(s.Mode),
		Event:         e.Name,
		ElapsedMs:     s.ElapsedMs,
		TargetSeconds: s.TargetSeconds,
	}
	if e.Name == timer.EventLap {
		row.Lap = len(s.Laps)
	}
	return row, true
}

// StreamBuffer is the bus stream size the recorder expects.
const StreamBuffer = 256

// Run writes events from ch until ctx is done or ch closes. Events still
// buffered at shutdown are written with a short grace period.
func (r *Recorder) Run(ctx context.Context, ch <-chan eventbus.Event) error {
	r.log.Info("recording timer history")
	for {
		select {
		case <-ctx.Done():
			r.drain(ch)
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			r.write(ctx, e)
		}
	}
}

func (r *Recorder) drain(ch <-chan eventbus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			r.write(ctx, e)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, e eventbus.Event) {
	row, ok := r.Entry(e)
	if !ok {
		return
	}
	if err := r.store.AppendRun(ctx, row); err != nil {
		r.log.Warn("history write failed",
			logx.String("event", e.Name),
			logx.String("timer", row.TimerID),
			logx.Err(err),
		)
	}
}
