package tools

import (
	"context"
	"fmt"

	"multitool/internal/registry"
	"multitool/internal/timer"
)

func timerModule(o Options) registry.InitFunc {
	return func(_ context.Context, core registry.Core) error {
		var opened int
		open := func(mode timer.Mode, target float64) registry.OpenFunc {
			return func(context.Context) (any, error) {
				opened++
				id := core.CreateTimer(timer.Options{
					Name:          fmt.Sprintf("%s %d", mode, opened),
					Mode:          mode,
					TargetSeconds: target,
				})
				if id == "" {
					return nil, fmt.Errorf("create %s: not permitted", mode)
				}
				core.StartTimer(id)
				return id, nil
			}
		}

		if o.CountdownSeconds > 0 {
			core.RegisterTool("timer", registry.Tool{
				Description: fmt.Sprintf("start a %s countdown", timer.Format(o.CountdownSeconds*1000, timer.LayoutClock)),
				OpenPanel:   open(timer.Countdown, o.CountdownSeconds),
			})
		} else {
			core.RegisterTool("timer", registry.Tool{
				Description: "start a stopwatch",
				OpenPanel:   open(timer.Stopwatch, 0),
			})
		}
		core.RegisterTool("stopwatch", registry.Tool{
			Description: "start a stopwatch",
			OpenPanel:   open(timer.Stopwatch, 0),
		})
		return nil
	}
}
