package timer

import "strings"

// Mode selects how a timer accumulates and whether it completes on its own.
type Mode string

const (
	Stopwatch Mode = "stopwatch"
	Countdown Mode = "countdown"
)

// ParseMode maps user input to a Mode. "timer" is accepted for countdowns;
// anything unrecognised is a stopwatch.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "countdown", "timer", "count-down":
		return Countdown
	default:
		return Stopwatch
	}
}

// Event names published on the bus. Every payload is a Snapshot.
const (
	EventCreate   = "timer:create"
	EventStart    = "timer:start"
	EventUpdate   = "timer:update"
	EventFinished = "timer:finished"
	EventStop     = "timer:stop"
	EventReset    = "timer:reset"
	EventLap      = "timer:lap"
	EventRemove   = "timer:remove"
)

// Events lists every name the scheduler publishes, in lifecycle order.
var Events = []string{
	EventCreate, EventStart, EventUpdate, EventFinished,
	EventStop, EventReset, EventLap, EventRemove,
}

type Options struct {
	ID            string
	Name          string
	Mode          Mode
	TargetSeconds float64
	Format        string
}

// Snapshot is an immutable copy of a timer's public state.
type Snapshot struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Mode          Mode      `json:"mode"`
	TargetSeconds float64   `json:"target_seconds,omitempty"`
	ElapsedMs     float64   `json:"elapsed_ms"`
	RemainingMs   float64   `json:"remaining_ms,omitempty"`
	Running       bool      `json:"running"`
	Finished      bool      `json:"finished,omitempty"`
	Laps          []float64 `json:"laps,omitempty"`
	Format        string    `json:"format"`
}

// HasTarget reports whether the timer completes on its own.
func (s Snapshot) HasTarget() bool { return s.Mode == Countdown && s.TargetSeconds > 0 }

// Display renders the snapshot's elapsed time in its own layout. Countdowns with
// a target show the remaining time.
func (s Snapshot) Display() string {
	if s.HasTarget() {
		return Format(s.RemainingMs, s.Format)
	}
	return Format(s.ElapsedMs, s.Format)
}
