package registry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"multitool/internal/eventbus"
	logx "multitool/pkg/logx"
)

// stubCore only satisfies the interface; the registry never calls it.
type stubCore struct{ Core }

func newTestRegistry(t *testing.T, loader Loader) (*Registry, *eventbus.Bus, *[]string) {
	t.Helper()
	bus := eventbus.New(logx.Nop())
	var events []string
	for _, name := range []string{EventRegistered, EventLoaded, EventLoadFailed, EventOpened, EventOpenFailed} {
		bus.Subscribe(name, func(e eventbus.Event) error {
			events = append(events, e.Name)
			return nil
		})
	}
	r := New(loader, WithPublisher(bus))
	r.Bind(func(string) Core { return stubCore{} })
	return r, bus, &events
}

func TestRegisterThenOpenInvokesOnce(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t, nil)
	calls := 0
	r.Register("x", Tool{OpenPanel: func(context.Context) (any, error) {
		calls++
		return "panel", nil
	}})

	out := r.Open(context.Background(), "x")
	if !out.OK() || out.Result != "panel" {
		t.Fatalf("outcome = %+v", out)
	}
	if calls != 1 {
		t.Fatalf("open fn called %d times, want 1", calls)
	}
}

func TestOpenMissingIsNotAvailable(t *testing.T) {
	t.Parallel()
	r, _, events := newTestRegistry(t, Builtins{})
	out := r.Open(context.Background(), "missing")
	if out.Status != StatusNotAvailable {
		t.Fatalf("status = %q, want not_available", out.Status)
	}
	if out.Err != nil {
		t.Fatalf("unexpected err %v", out.Err)
	}
	if len(*events) != 1 || (*events)[0] != EventOpenFailed {
		t.Fatalf("events = %v", *events)
	}
}

func TestOpenSuggestsClosestName(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t, nil)
	r.Register("timer", Tool{OpenPanel: func(context.Context) (any, error) { return nil, nil }})
	r.SetSources([]string{"tools/notes.js"})

	tests := []struct{ in, want string }{
		{"timre", "timer"},
		{"note", "notes"},
		{"zzzzzzzz", ""},
	}
	for _, tt := range tests {
		out := r.Open(context.Background(), tt.in)
		if out.Suggestion != tt.want {
			t.Fatalf("Open(%q).Suggestion = %q, want %q", tt.in, out.Suggestion, tt.want)
		}
	}
}

func TestOpenLoadsMatchingSourceAndRetriesOnce(t *testing.T) {
	t.Parallel()
	loads := 0
	var r *Registry
	r, _, events := newTestRegistry(t, Builtins{
		"builtin/notes": func(ctx context.Context, core Core) error {
			loads++
			if core == nil {
				return errors.New("no core bound")
			}
			r.Register("notes", Tool{OpenPanel: func(context.Context) (any, error) { return 7, nil }})
			return nil
		},
	})
	r.SetSources([]string{"builtin/other", "builtin/notes"})

	out := r.Open(context.Background(), "notes")
	if !out.OK() || out.Result != 7 {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Source != "builtin/notes" {
		t.Fatalf("Source = %q", out.Source)
	}
	if loads != 1 {
		t.Fatalf("loads = %d, want 1", loads)
	}

	// Second open is served from the registry.
	r.Open(context.Background(), "notes")
	if loads != 1 {
		t.Fatalf("loads after second open = %d, want 1", loads)
	}
	want := []string{EventRegistered, EventLoaded, EventOpened, EventOpened}
	if strings.Join(*events, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", *events, want)
	}
}

func TestOpenAfterLoadWithoutRegistration(t *testing.T) {
	t.Parallel()
	loads := 0
	r, _, _ := newTestRegistry(t, Builtins{
		"builtin/silent": func(context.Context, Core) error { loads++; return nil },
	})
	r.SetSources([]string{"builtin/silent"})

	out := r.Open(context.Background(), "silent")
	if out.Status != StatusNotAvailable || out.Source != "builtin/silent" {
		t.Fatalf("outcome = %+v", out)
	}
	if loads != 1 {
		t.Fatalf("loads = %d, want exactly one retry", loads)
	}
}

func TestOpenFailureIsReported(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t, nil)
	r.Register("err", Tool{OpenPanel: func(context.Context) (any, error) { return nil, errors.New("no panel") }})
	r.Register("panic", Tool{OpenPanel: func(context.Context) (any, error) { panic("boom") }})

	for _, name := range []string{"err", "panic"} {
		out := r.Open(context.Background(), name)
		if out.Status != StatusFailed || out.Err == nil {
			t.Fatalf("Open(%q) = %+v, want failed", name, out)
		}
	}
}

func TestLoadAllIsBestEffort(t *testing.T) {
	t.Parallel()
	var order []string
	var r *Registry
	r, _, _ = newTestRegistry(t, Builtins{
		"a": func(context.Context, Core) error {
			order = append(order, "a")
			r.Register("alpha", Tool{})
			return nil
		},
		"b": func(context.Context, Core) error { order = append(order, "b"); return errors.New("init failed") },
		"c": func(context.Context, Core) error { order = append(order, "c"); panic("bad module") },
		"d": nil,
		"e": func(context.Context, Core) error { order = append(order, "e"); return nil },
	})

	res := r.LoadAll(context.Background(), []string{"a", "b", "missing", "c", "d", "e"})
	if len(res) != 6 {
		t.Fatalf("results = %d, want 6", len(res))
	}
	if strings.Join(order, "") != "abce" {
		t.Fatalf("load order = %v", order)
	}
	if res[0].Err != nil || len(res[0].Tools) != 1 || res[0].Tools[0] != "alpha" {
		t.Fatalf("a result = %+v", res[0])
	}
	if !errors.Is(res[2].Err, ErrNotFound) {
		t.Fatalf("missing err = %v", res[2].Err)
	}
	if !errors.Is(res[4].Err, ErrNoEntryPoint) {
		t.Fatalf("d err = %v", res[4].Err)
	}
	for _, i := range []int{1, 3} {
		if res[i].Err == nil {
			t.Fatalf("result %d should have failed", i)
		}
	}
	if res[5].Err != nil {
		t.Fatalf("e err = %v", res[5].Err)
	}
	if rec, _ := r.Lookup("alpha"); rec.Source != "a" {
		t.Fatalf("alpha source = %q", rec.Source)
	}
}

func TestRegisterLastWriteWins(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t, nil)
	r.Register("x", Tool{Description: "one"})
	rec := r.Register("x", Tool{Description: "two"})
	if rec.Tool.Description != "two" {
		t.Fatalf("returned record = %+v", rec)
	}
	got, _ := r.Lookup("x")
	if got.Tool.Description != "two" || len(r.Names()) != 1 {
		t.Fatalf("lookup = %+v names = %v", got, r.Names())
	}
}

func TestMatchSource(t *testing.T) {
	t.Parallel()
	r := New(nil)
	r.SetSources([]string{"./tools/timer-tool.js", "./tools/ai-tool.js", "builtin/timer"})
	tests := []struct{ name, want string }{
		{"timer-tool", "./tools/timer-tool.js"},
		{"timer-tool.js", "./tools/timer-tool.js"},
		{"timer", "builtin/timer"},
		{"ai-tool", "./tools/ai-tool.js"},
		{"tool", "./tools/timer-tool.js"},
		{"nothing", ""},
	}
	for _, tt := range tests {
		if got := r.matchSource(tt.name); got != tt.want {
			t.Fatalf("matchSource(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestChain(t *testing.T) {
	t.Parallel()
	first := Builtins{"x": func(context.Context, Core) error { return nil }}
	second := Builtins{"y": func(context.Context, Core) error { return nil }}
	c := Chain{first, nil, second}

	if _, err := c.Load(context.Background(), "y"); err != nil {
		t.Fatalf("Load(y): %v", err)
	}
	if _, err := c.Load(context.Background(), "z"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load(z) err = %v", err)
	}
}
