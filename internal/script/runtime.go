package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	logx "multitool/pkg/logx"
)

// runtime is one module's goja VM. goja is not goroutine-safe; every call
// happens on the frame loop.
type runtime struct {
	source string
	vm     *goja.Runtime
	budget time.Duration
	log    logx.Logger

	depth int
}

func newRuntime(source string, budget time.Duration, log logx.Logger) *runtime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
	return &runtime{source: source, vm: vm, budget: budget, log: log}
}

// guard runs fn with a wall-clock budget and converts JS exceptions, interrupts
// and Go panics into errors. Nested calls share the outermost budget.
func (rt *runtime) guard(ctx context.Context, fn func() error) (err error) {
	outer := rt.depth == 0
	rt.depth++
	if outer {
		budget := rt.budget
		if dl, ok := ctx.Deadline(); ok {
			budget = min(budget, time.Until(dl))
		}
		watchdog := time.AfterFunc(max(budget, 0), func() { rt.vm.Interrupt(ErrTimeout) })
		stop := context.AfterFunc(ctx, func() { rt.vm.Interrupt(ctx.Err()) })
		defer func() {
			watchdog.Stop()
			stop()
			rt.vm.ClearInterrupt()
		}()
	}
	defer func() {
		rt.depth--
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", rt.source, r)
		}
		err = rt.translate(err)
	}()
	return fn()
}

func (rt *runtime) translate(err error) error {
	if err == nil {
		return nil
	}
	var intr *goja.InterruptedError
	if errors.As(err, &intr) {
		if cause, ok := intr.Value().(error); ok {
			return fmt.Errorf("%s: %w", rt.source, cause)
		}
		return fmt.Errorf("%s: interrupted: %v", rt.source, intr.Value())
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return fmt.Errorf("%s: %s", rt.source, strings.TrimSpace(ex.Value().String()))
	}
	return err
}

// settle unwraps a promise returned by an async function. Pending promises are
// accepted as-is since there is no event loop to drive them further.
func (rt *runtime) settle(v goja.Value) error {
	if v == nil {
		return nil
	}
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return nil
	}
	switch p.State() {
	case goja.PromiseStateRejected:
		return fmt.Errorf("%s: rejected: %s", rt.source, p.Result().String())
	case goja.PromiseStatePending:
		rt.log.Debug("script promise still pending after call")
	}
	return nil
}

// call invokes a JS function from Go (event handlers, openPanel).
func (rt *runtime) call(ctx context.Context, fn goja.Callable, args ...any) (goja.Value, error) {
	var out goja.Value
	err := rt.guard(ctx, func() error {
		vals := make([]goja.Value, len(args))
		for i, a := range args {
			vals[i] = rt.vm.ToValue(a)
		}
		v, err := fn(goja.Undefined(), vals...)
		if err != nil {
			return err
		}
		if p, ok := v.Export().(*goja.Promise); ok && p.State() == goja.PromiseStateFulfilled {
			v = p.Result()
		}
		out = v
		return rt.settle(v)
	})
	return out, err
}

func (rt *runtime) console() *goja.Object {
	obj := rt.vm.NewObject()
	write := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			msg := joinArgs(call.Arguments)
			switch level {
			case "warn":
				rt.log.Warn(msg)
			case "error":
				rt.log.Error(msg)
			case "debug":
				rt.log.Debug(msg)
			default:
				rt.log.Info(msg)
			}
			return goja.Undefined()
		}
	}
	for _, lvl := range []string{"log", "info", "warn", "error", "debug"} {
		_ = obj.Set(lvl, write(lvl))
	}
	return obj
}

func joinArgs(args []goja.Value) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, " ")
}
