// Package tools holds the compiled-in tool modules. They go through the same
// registry path as script tools: a source locator, an init function and a
// scoped core.
package tools

import "multitool/internal/registry"

const (
	SourceTimer = "builtin/timer"
	SourceClock = "builtin/clock"
)

// Options tunes the built-in tools.
type Options struct {
	// CountdownSeconds is the target used by the "timer" tool. Zero opens a
	// stopwatch instead.
	CountdownSeconds float64
}

// Builtins returns the compiled-in modules keyed by source.
func Builtins(o Options) registry.Builtins {
	return registry.Builtins{
		SourceTimer: timerModule(o),
		SourceClock: clockModule,
	}
}
