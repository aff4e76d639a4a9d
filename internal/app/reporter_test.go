package app

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"multitool/internal/config"
	"multitool/internal/eventbus"
	"multitool/internal/timer"
)

func snap(id string, elapsed float64) timer.Snapshot {
	return timer.Snapshot{ID: id, Name: id, Mode: timer.Stopwatch, ElapsedMs: elapsed, Format: timer.LayoutShort, Running: true}
}

func TestReporterThrottlesUpdatesPerTimer(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := NewReporter(&buf, config.ReportConfig{Enabled: true, RatePerSec: 1})
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		_ = r.handle(eventbus.Event{Name: timer.EventUpdate, Data: snap("a", float64(i*100))})
		_ = r.handle(eventbus.Event{Name: timer.EventUpdate, Data: snap("b", float64(i*100))})
	}
	if got := strings.Count(buf.String(), "\n"); got != 2 {
		t.Fatalf("lines = %d, want one per timer:\n%s", got, buf.String())
	}
	now = now.Add(time.Second)
	_ = r.handle(eventbus.Event{Name: timer.EventUpdate, Data: snap("a", 1000)})
	if !strings.Contains(buf.String(), "00:01") {
		t.Fatalf("update after a second not printed:\n%s", buf.String())
	}
}

func TestReporterLifecycleLines(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := NewReporter(&buf, config.ReportConfig{Enabled: true})
	cd := timer.Snapshot{ID: "t1", Name: "tea", Mode: timer.Countdown, TargetSeconds: 180, RemainingMs: 180000, Format: timer.LayoutShort}

	_ = r.handle(eventbus.Event{Name: timer.EventCreate, Data: cd})
	cd.ElapsedMs, cd.RemainingMs, cd.Finished = 180000, 0, true
	_ = r.handle(eventbus.Event{Name: timer.EventFinished, Data: cd})
	_ = r.handle(eventbus.Event{Name: timer.EventRemove, Data: cd})

	want := []string{"+ tea created (countdown 03:00)", "⏱ tea finished (03:00)", "- tea removed"}
	got := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(got) != len(want) {
		t.Fatalf("got %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReporterDisabledAndApply(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := NewReporter(&buf, config.ReportConfig{Enabled: false})
	_ = r.handle(eventbus.Event{Name: timer.EventStart, Data: snap("a", 0)})
	_ = r.handle(eventbus.Event{Name: timer.EventUpdate, Data: snap("a", 10)})
	if buf.Len() != 0 {
		t.Fatalf("disabled reporter printed %q", buf.String())
	}
	r.Apply(config.ReportConfig{Enabled: true})
	_ = r.handle(eventbus.Event{Name: timer.EventStart, Data: snap("a", 0)})
	if strings.TrimSpace(buf.String()) != "▶ a started" {
		t.Fatalf("after Apply: %q", buf.String())
	}
	if err := r.handle(eventbus.Event{Name: timer.EventStart, Data: "junk"}); err != nil {
		t.Fatalf("non-snapshot payload should be ignored: %v", err)
	}
}
