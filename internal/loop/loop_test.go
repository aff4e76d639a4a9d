package loop

import (
	"context"
	"testing"
	"time"

	"multitool/internal/clock"
)

func TestRequestFrameRunsOnNextStepOnly(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(0)
	l := New(clk)

	var got []time.Duration
	var tick FrameFunc
	tick = func(now time.Duration) {
		got = append(got, now)
		if len(got) < 3 {
			l.RequestFrame(tick)
		}
	}
	l.RequestFrame(tick)

	for i := 0; i < 5; i++ {
		clk.Advance(16 * time.Millisecond)
		l.Step()
	}
	if len(got) != 3 {
		t.Fatalf("callback ran %d times, want 3", len(got))
	}
	if got[0] != 16*time.Millisecond || got[2] != 48*time.Millisecond {
		t.Fatalf("frame timestamps = %v", got)
	}
	if l.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", l.Pending())
	}
}

func TestCancelFrameDuringFrame(t *testing.T) {
	t.Parallel()
	l := New(clock.NewManual(0))

	var bRan bool
	var b FrameID
	l.RequestFrame(func(time.Duration) {
		if !l.CancelFrame(b) {
			t.Errorf("CancelFrame(b) = false, want true")
		}
	})
	b = l.RequestFrame(func(time.Duration) { bRan = true })

	if ran := l.Step(); ran != 1 {
		t.Fatalf("Step ran %d callbacks, want 1", ran)
	}
	if bRan {
		t.Fatal("cancelled callback ran")
	}
	if l.CancelFrame(b) {
		t.Fatal("second cancel should report false")
	}
	if l.CancelFrame(0) {
		t.Fatal("zero id should never cancel")
	}
}

func TestPanicInCallbackDoesNotStopFrame(t *testing.T) {
	t.Parallel()
	l := New(clock.NewManual(0))
	after := false
	l.RequestFrame(func(time.Duration) { panic("boom") })
	l.RequestFrame(func(time.Duration) { after = true })
	l.Step()
	if !after {
		t.Fatal("callback after panicking one did not run")
	}
}

func TestPostRunsBeforeFrames(t *testing.T) {
	t.Parallel()
	l := New(clock.NewManual(0))
	var order []string
	l.RequestFrame(func(time.Duration) { order = append(order, "frame") })
	l.Post(func() { order = append(order, "task") })
	l.Step()
	if len(order) != 2 || order[0] != "task" || order[1] != "frame" {
		t.Fatalf("order = %v", order)
	}
}

func TestRunAndDo(t *testing.T) {
	t.Parallel()
	l := New(clock.System(), WithFPS(240))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	val := 0
	dctx, dcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dcancel()
	if err := l.Do(dctx, func() { val = 42 }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if val != 42 {
		t.Fatalf("val = %d, want 42", val)
	}

	fired := make(chan struct{})
	if err := l.Do(dctx, func() {
		l.RequestFrame(func(time.Duration) { close(fired) })
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	select {
	case <-fired:
	case <-dctx.Done():
		t.Fatal("frame callback never fired under Run")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if l.Post(func() {}) {
		t.Fatal("Post after shutdown should report false")
	}
	if err := l.Do(context.Background(), func() {}); err != ErrClosed {
		t.Fatalf("Do after shutdown = %v, want ErrClosed", err)
	}
}
