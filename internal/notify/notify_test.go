package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"multitool/internal/clock"
	"multitool/internal/eventbus"
	"multitool/internal/loop"
	"multitool/internal/timer"
	logx "multitool/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	fail  int
}

func (f *fakeSender) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("429 too many requests")
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) got() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// gatedSender holds every send until release is closed.
type gatedSender struct {
	fakeSender
	release chan struct{}
}

func (g *gatedSender) Send(ctx context.Context, text string) error {
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.fakeSender.Send(ctx, text)
}

func TestMessage(t *testing.T) {
	t.Parallel()
	tea := timer.Snapshot{ID: "t_1", Name: "tea", Mode: timer.Countdown, TargetSeconds: 180, ElapsedMs: 180000, Format: timer.LayoutShort}
	tests := []struct {
		name string
		ev   eventbus.Event
		want string
	}{
		{"finished", eventbus.Event{Name: timer.EventFinished, Data: tea}, "⏱ tea finished (03:00)"},
		{"stop", eventbus.Event{Name: timer.EventStop, Data: timer.Snapshot{ID: "sw", ElapsedMs: 61000, Format: timer.LayoutShort}}, "⏸ sw stopped at 01:01"},
		{"start countdown", eventbus.Event{Name: timer.EventStart, Data: timer.Snapshot{Name: "egg", Mode: timer.Countdown, TargetSeconds: 300, RemainingMs: 300000, Format: timer.LayoutShort}}, "▶ egg started, 05:00 to go"},
		{"lap", eventbus.Event{Name: timer.EventLap, Data: timer.Snapshot{Name: "run", Laps: []float64{1000, 2500}, Format: timer.LayoutShort}}, "🏁 run lap 2: 00:02"},
		{"reset", eventbus.Event{Name: timer.EventReset, Data: tea}, "↺ tea reset"},
	}
	for _, tt := range tests {
		got, err := Message(tt.ev)
		if err != nil || got != tt.want {
			t.Fatalf("%s: got %q, %v; want %q", tt.name, got, err, tt.want)
		}
	}

	if _, err := Message(eventbus.Event{Name: timer.EventUpdate, Data: tea}); !errors.Is(err, ErrUnsupportedEvent) {
		t.Fatalf("update err = %v", err)
	}
	if _, err := Message(eventbus.Event{Name: timer.EventFinished, Data: 42}); !errors.Is(err, ErrUnsupportedEvent) {
		t.Fatalf("bad payload err = %v", err)
	}
}

func TestRunSendsOnlySelectedEvents(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	s := New(Config{RatePerSec: 100}, fs, logx.Nop())

	ch := make(chan eventbus.Event, 4)
	ch <- eventbus.Event{Name: timer.EventStart, Data: timer.Snapshot{ID: "a"}}
	ch <- eventbus.Event{Name: timer.EventFinished, Data: timer.Snapshot{ID: "a", ElapsedMs: 1000}}
	ch <- eventbus.Event{Name: timer.EventUpdate, Data: timer.Snapshot{ID: "a"}}
	close(ch)

	if err := s.Run(context.Background(), ch); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := fs.got()
	if len(got) != 1 || !strings.HasPrefix(got[0], "⏱ a finished") {
		t.Fatalf("sent = %q", got)
	}

	s.Apply(Config{Events: []string{timer.EventStart}, RatePerSec: 100})
	if s.Wants(timer.EventFinished) || !s.Wants(timer.EventStart) {
		t.Fatal("Apply did not swap event selection")
	}
}

func TestNotifyRetriesThenDelivers(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{fail: 2}
	s := New(Config{RatePerSec: 100, RetryMax: 2, RetryBase: time.Millisecond}, fs, logx.Nop())

	s.Notify(context.Background(), "hello")
	if got := fs.got(); len(got) != 1 || s.Sent() != 1 {
		t.Fatalf("sent = %q, count = %d", got, s.Sent())
	}
}

func TestNotifyGivesUpAfterRetries(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{fail: 5}
	s := New(Config{RatePerSec: 100, RetryMax: 1, RetryBase: time.Millisecond}, fs, logx.Nop())

	s.Notify(context.Background(), "hello")
	if s.Sent() != 0 || fs.fail != 3 {
		t.Fatalf("sent = %d, remaining failures = %d", s.Sent(), fs.fail)
	}
}

func TestNotifyDedupsWithinWindow(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	s := New(Config{RatePerSec: 100, DedupWindow: time.Hour}, fs, logx.Nop())

	s.Notify(context.Background(), "same")
	s.Notify(context.Background(), "same")
	s.Notify(context.Background(), "other")
	if got := fs.got(); len(got) != 2 {
		t.Fatalf("sent = %q", got)
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("é", 3) // 6 bytes
	if got := truncate(s, 5); got != "éé" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("abc", 10); got != "abc" {
		t.Fatalf("truncate short = %q", got)
	}
}

func TestBlockedSenderKeepsLaterFinishes(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(0)
	lp := loop.New(clk)
	bus := eventbus.New(logx.Nop())
	sched := timer.NewScheduler(lp, clk, bus)

	gs := &gatedSender{release: make(chan struct{})}
	s := New(Config{RatePerSec: 100}, gs, logx.Nop())
	ch, stop := bus.Stream(64, Streamed...)
	defer stop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx, ch) }()

	sched.Start(sched.Create(timer.Options{ID: "a", Mode: timer.Countdown, TargetSeconds: 1}))
	sched.Start(sched.Create(timer.Options{ID: "b", Mode: timer.Countdown, TargetSeconds: 3}))
	for i := 0; i < 200; i++ {
		clk.Advance(16 * time.Millisecond)
		lp.Step()
	}
	close(gs.release)

	deadline := time.Now().Add(2 * time.Second)
	for s.Sent() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	got := gs.got()
	if len(got) != 2 || !strings.HasPrefix(got[0], "⏱ a finished") || !strings.HasPrefix(got[1], "⏱ b finished") {
		t.Fatalf("sent = %q", got)
	}
}
