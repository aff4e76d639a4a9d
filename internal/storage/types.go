package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunEntry is one history row. Keep it compact and schema-stable.
type RunEntry struct {
	At            time.Time `json:"at"`
	Session       string    `json:"session"`
	TimerID       string    `json:"timer_id"`
	Name          string    `json:"name"`
	Mode          string    `json:"mode"`
	Event         string    `json:"event"`
	ElapsedMs     float64   `json:"elapsed_ms"`
	TargetSeconds float64   `json:"target_seconds,omitempty"`
	Lap           int       `json:"lap,omitempty"`
}

// Query filters Runs. Zero values match everything; Limit <= 0 means 50.
type Query struct {
	TimerID string
	Session string
	Limit   int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 50
	}
	return q.Limit
}

func (q Query) match(e RunEntry) bool {
	if q.TimerID != "" && e.TimerID != q.TimerID {
		return false
	}
	if q.Session != "" && e.Session != q.Session {
		return false
	}
	return true
}

// Store is the persistence API used by the recorder and the history command.
type Store interface {
	AppendRun(ctx context.Context, e RunEntry) error
	// Runs returns matching entries, newest first.
	Runs(ctx context.Context, q Query) ([]RunEntry, error)
	Close() error
}
