package tools

import (
	"context"
	"fmt"

	"multitool/internal/registry"
)

// clockModule registers a read-only view of every timer.
func clockModule(_ context.Context, core registry.Core) error {
	core.RegisterTool("clock", registry.Tool{
		Description: "list timers with their current display",
		OpenPanel: func(context.Context) (any, error) {
			snaps := core.Timers()
			lines := make([]string, 0, len(snaps))
			for _, s := range snaps {
				state := "paused"
				switch {
				case s.Finished:
					state = "done"
				case s.Running:
					state = "running"
				}
				name := s.Name
				if name == "" {
					name = s.ID
				}
				lines = append(lines, fmt.Sprintf("%-16s %-9s %s", name, state, s.Display()))
			}
			return lines, nil
		},
	})
	return nil
}
