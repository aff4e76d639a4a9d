package registry

import (
	"context"
	"time"

	"multitool/internal/eventbus"
	"multitool/internal/timer"
	logx "multitool/pkg/logx"
)

// OpenFunc opens a tool's panel. Its result is handed back to the caller untouched.
type OpenFunc func(ctx context.Context) (any, error)

// Tool is the API a module registers. A nil OpenPanel means the tool exposes
// no open operation.
type Tool struct {
	OpenPanel   OpenFunc
	Description string
}

// CanOpen reports whether the tool exposes an open operation.
func (t Tool) CanOpen() bool { return t.OpenPanel != nil }

// Record is what Register stores. Records are replaced, never mutated.
type Record struct {
	Name         string
	Source       string
	Tool         Tool
	RegisteredAt time.Time
}

// Core is the context handed to a tool module's entry point.
type Core interface {
	CreateTimer(opts timer.Options) string
	StartTimer(id string)
	StopTimer(id string)
	ResetTimer(id string)
	LapTimer(id string) (float64, bool)
	Timers() []timer.Snapshot
	Timer(id string) (timer.Snapshot, bool)

	On(event string, h eventbus.Handler) eventbus.Subscription
	Off(event string, sub eventbus.Subscription)

	RegisterTool(name string, t Tool) Record
	OpenCapability(ctx context.Context, name string) Outcome

	Logger() logx.Logger
}

// InitFunc is a tool module's entry point.
type InitFunc func(ctx context.Context, core Core) error

// Binder returns the Core a module loaded from source should see.
type Binder func(source string) Core

type Status string

const (
	StatusOpened       Status = "opened"
	StatusNotAvailable Status = "not_available"
	StatusFailed       Status = "failed"
)

// Outcome reports how an open request went. Failures are values, not errors.
type Outcome struct {
	Name       string
	Status     Status
	Result     any
	Err        error
	Source     string
	Suggestion string
}

func (o Outcome) OK() bool { return o.Status == StatusOpened }

func (o Outcome) String() string {
	switch o.Status {
	case StatusOpened:
		return o.Name + ": opened"
	case StatusFailed:
		return o.Name + ": failed: " + errString(o.Err)
	default:
		s := o.Name + ": not available"
		if o.Err != nil {
			s += " (" + o.Err.Error() + ")"
		}
		if o.Suggestion != "" {
			s += "; did you mean " + o.Suggestion + "?"
		}
		return s
	}
}

// LoadResult is the per-source record of a LoadAll batch.
type LoadResult struct {
	Source string
	Tools  []string
	Err    error
	Took   time.Duration
}

// Event names published by the registry.
const (
	EventRegistered = "tool:registered"
	EventLoaded     = "tool:loaded"
	EventLoadFailed = "tool:load_failed"
	EventOpened     = "tool:opened"
	EventOpenFailed = "tool:open_failed"
)

// ToolEvent is the payload of every tool:* event.
type ToolEvent struct {
	Name   string   `json:"name,omitempty"`
	Source string   `json:"source,omitempty"`
	Tools  []string `json:"tools,omitempty"`
	Status string   `json:"status,omitempty"`
	Err    string   `json:"err,omitempty"`
	TookMS int64    `json:"took_ms,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
