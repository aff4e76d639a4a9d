package script

import (
	"context"
	"math"
	"strings"

	"github.com/dop251/goja"

	"multitool/internal/eventbus"
	"multitool/internal/registry"
	"multitool/internal/timer"
	logx "multitool/pkg/logx"
)

type jsHandler struct {
	event string
	fn    goja.Value
	sub   eventbus.Subscription
}

// bind builds the JS object a module's entry point receives.
func (rt *runtime) bind(core registry.Core) *goja.Object {
	vm := rt.vm
	obj := vm.NewObject()
	var handlers []jsHandler

	set := func(name string, fn func(goja.FunctionCall) goja.Value) { _ = obj.Set(name, fn) }

	set("createTimer", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(core.CreateTimer(rt.timerOptions(call.Argument(0))))
	})
	set("startTimer", func(call goja.FunctionCall) goja.Value {
		core.StartTimer(call.Argument(0).String())
		return goja.Undefined()
	})
	set("stopTimer", func(call goja.FunctionCall) goja.Value {
		core.StopTimer(call.Argument(0).String())
		return goja.Undefined()
	})
	set("resetTimer", func(call goja.FunctionCall) goja.Value {
		core.ResetTimer(call.Argument(0).String())
		return goja.Undefined()
	})
	set("lapTimer", func(call goja.FunctionCall) goja.Value {
		ms, ok := core.LapTimer(call.Argument(0).String())
		if !ok {
			return goja.Undefined()
		}
		return vm.ToValue(ms)
	})
	set("timers", func(goja.FunctionCall) goja.Value {
		list := core.Timers()
		out := make([]any, 0, len(list))
		for _, s := range list {
			out = append(out, snapshotJS(s))
		}
		return vm.ToValue(out)
	})
	set("timer", func(call goja.FunctionCall) goja.Value {
		s, ok := core.Timer(call.Argument(0).String())
		if !ok {
			return goja.Null()
		}
		return vm.ToValue(snapshotJS(s))
	})

	set("on", func(call goja.FunctionCall) goja.Value {
		event := call.Argument(0).String()
		fnVal := call.Argument(1)
		fn, ok := goja.AssertFunction(fnVal)
		if !ok {
			panic(vm.NewTypeError("on(%q): handler is not a function", event))
		}
		sub := core.On(event, func(e eventbus.Event) error {
			_, err := rt.call(context.Background(), fn, eventJS(e))
			return err
		})
		handlers = append(handlers, jsHandler{event: event, fn: fnVal, sub: sub})
		return vm.ToValue(uint64(sub))
	})
	set("off", func(call goja.FunctionCall) goja.Value {
		event := call.Argument(0).String()
		target := call.Argument(1)
		for i, h := range handlers {
			if h.event != event {
				continue
			}
			if _, isFn := goja.AssertFunction(target); isFn {
				if !h.fn.SameAs(target) {
					continue
				}
			} else if uint64(h.sub) != uint64(target.ToInteger()) {
				continue
			}
			core.Off(event, h.sub)
			handlers = append(handlers[:i], handlers[i+1:]...)
			return vm.ToValue(true)
		}
		return vm.ToValue(false)
	})

	set("registerTool", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		api := call.Argument(1)
		core.RegisterTool(name, rt.tool(api))
		return api
	})
	set("openCapability", func(call goja.FunctionCall) goja.Value {
		out := core.OpenCapability(context.Background(), call.Argument(0).String())
		res := map[string]any{
			"name":   out.Name,
			"status": string(out.Status),
			"ok":     out.OK(),
			"result": out.Result,
		}
		if out.Err != nil {
			res["error"] = out.Err.Error()
		}
		if out.Suggestion != "" {
			res["suggestion"] = out.Suggestion
		}
		return vm.ToValue(res)
	})

	set("format", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(timer.Format(call.Argument(0).ToFloat(), call.Argument(1).String()))
	})
	set("log", func(call goja.FunctionCall) goja.Value {
		core.Logger().Info(joinArgs(call.Arguments), logx.String("script", rt.source))
		return goja.Undefined()
	})
	return obj
}

// tool wraps a JS api object ({openPanel, description}) as a registry.Tool.
func (rt *runtime) tool(api goja.Value) registry.Tool {
	var t registry.Tool
	if api == nil || goja.IsUndefined(api) || goja.IsNull(api) {
		return t
	}
	obj := api.ToObject(rt.vm)
	if d := obj.Get("description"); d != nil && !goja.IsUndefined(d) {
		t.Description = d.String()
	}
	if fn, ok := goja.AssertFunction(obj.Get("openPanel")); ok {
		t.OpenPanel = func(ctx context.Context) (any, error) {
			v, err := rt.call(ctx, fn)
			if err != nil || v == nil {
				return nil, err
			}
			return v.Export(), nil
		}
	}
	return t
}

func (rt *runtime) timerOptions(arg goja.Value) timer.Options {
	var o timer.Options
	if arg == nil || goja.IsUndefined(arg) || goja.IsNull(arg) {
		return o
	}
	m, ok := arg.Export().(map[string]any)
	if !ok {
		return o
	}
	o.ID = str(m["id"])
	o.Name = str(m["name"])
	o.Mode = timer.ParseMode(str(m["mode"]))
	o.Format = str(m["format"])
	for _, k := range []string{"targetSeconds", "seconds", "target"} {
		if v, ok := m[k]; ok && v != nil {
			o.TargetSeconds = number(v)
			break
		}
	}
	return o
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// number coerces JS input to seconds; anything unusable becomes 0.
func number(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return n
	case string:
		f, err := timer.ParseTarget(n)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func snapshotJS(s timer.Snapshot) map[string]any {
	laps := make([]any, 0, len(s.Laps))
	for _, l := range s.Laps {
		laps = append(laps, l)
	}
	return map[string]any{
		"id":            s.ID,
		"name":          s.Name,
		"mode":          string(s.Mode),
		"targetSeconds": s.TargetSeconds,
		"elapsedMs":     s.ElapsedMs,
		"elapsed":       s.ElapsedMs,
		"remainingMs":   s.RemainingMs,
		"running":       s.Running,
		"finished":      s.Finished,
		"laps":          laps,
		"format":        s.Format,
		"display":       s.Display(),
	}
}

func eventJS(e eventbus.Event) any {
	switch d := e.Data.(type) {
	case timer.Snapshot:
		return snapshotJS(d)
	case registry.ToolEvent:
		return map[string]any{
			"name":   d.Name,
			"source": d.Source,
			"status": d.Status,
			"err":    d.Err,
		}
	default:
		return d
	}
}
