package presets

import (
	"context"
	"strings"
	"testing"
	"time"

	"multitool/internal/clock"
	"multitool/internal/core"
	"multitool/internal/loop"
	"multitool/internal/timer"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		kind    Kind
		every   time.Duration
		wantErr bool
	}{
		{in: "*/5 * * * *", kind: KindCron},
		{in: "0 */10 * * * *", kind: KindCron},
		{in: "@hourly", kind: KindCron},
		{in: "@every 25m", kind: KindCron},
		{in: "cron: 0 9 * * 1-5", kind: KindCron},
		{in: "25m", kind: KindInterval, every: 25 * time.Minute},
		{in: "00:25", kind: KindInterval, every: 25 * time.Minute},
		{in: "02:30", kind: KindInterval, every: 150 * time.Minute},
		{in: "every: 1h", kind: KindInterval, every: time.Hour},
		{in: "interval:00:05", kind: KindInterval, every: 5 * time.Minute},
		{in: "", wantErr: true},
		{in: "cron:", wantErr: true},
		{in: "61 * * * *", wantErr: true},
		{in: "00:75", wantErr: true},
		{in: "500ms", wantErr: true},
		{in: "-5m", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSchedule(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseSchedule(%q) = %+v, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", tt.in, err)
		}
		if got.Kind != tt.kind || got.Every != tt.every {
			t.Fatalf("ParseSchedule(%q) = %+v", tt.in, got)
		}
	}
}

func TestParseAction(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Action{"": "", "Restart": ActionRestart, " lap ": ActionLap} {
		if got, err := ParseAction(in); err != nil || got != want {
			t.Fatalf("ParseAction(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseAction("explode"); err == nil {
		t.Fatal("unknown action accepted")
	}
}

type harness struct {
	clk  *clock.Manual
	core *core.Context
	svc  *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewManual(0)
	lp := loop.New(clk)
	c := core.New(core.Options{Loop: lp})
	return &harness{clk: clk, core: c, svc: New(lp, c, WithLocation(time.UTC))}
}

func (h *harness) frames(n int) {
	for i := 0; i < n; i++ {
		h.clk.Advance(16 * time.Millisecond)
		h.core.Loop().Step()
	}
}

func TestSyncCreatesTimersOnLoop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	err := h.svc.Sync([]Preset{
		{Timer: timer.Options{ID: "tea", Mode: timer.Countdown, TargetSeconds: 180}},
		{Timer: timer.Options{ID: "work", Name: "focus"}, AutoStart: true, Schedule: "@every 25m"},
	})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if _, ok := h.core.Timer("tea"); ok {
		t.Fatal("timer created off the loop")
	}
	h.frames(3)

	tea, ok := h.core.Timer("tea")
	if !ok || tea.Running || tea.TargetSeconds != 180 {
		t.Fatalf("tea = %+v, %v", tea, ok)
	}
	work, _ := h.core.Timer("work")
	if !work.Running || work.ElapsedMs != 32 {
		t.Fatalf("autostart work = %+v", work)
	}
	if es := h.svc.Entries(); len(es) != 1 || es[0].ID != "work" || es[0].Action != ActionStart {
		t.Fatalf("entries = %+v", es)
	}
}

func TestSyncReportsBadSchedulesButKeepsOthers(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	err := h.svc.Sync([]Preset{
		{Timer: timer.Options{ID: "ok"}, Schedule: "10m"},
		{Timer: timer.Options{ID: "bad"}, Schedule: "whenever"},
		{Timer: timer.Options{ID: " "}},
	})
	if err == nil || !strings.Contains(err.Error(), "bad:") || !strings.Contains(err.Error(), "without id") {
		t.Fatalf("Sync err = %v", err)
	}
	if es := h.svc.Entries(); len(es) != 1 || es[0].ID != "ok" {
		t.Fatalf("entries = %+v", es)
	}

	// Resync replaces the previous set.
	if err := h.svc.Sync(nil); err != nil {
		t.Fatalf("resync: %v", err)
	}
	if es := h.svc.Entries(); len(es) != 0 {
		t.Fatalf("entries after resync = %+v", es)
	}
}

func TestFireActions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_ = h.svc.Sync([]Preset{
		{Timer: timer.Options{ID: "sw"}, Action: ActionStart},
		{Timer: timer.Options{ID: "again"}, Action: ActionRestart},
		{Timer: timer.Options{ID: "lapper"}, Action: ActionLap},
	})
	h.frames(1)

	if !h.svc.Fire("sw") {
		t.Fatal("Fire(sw) = false")
	}
	h.frames(5)
	if s, _ := h.core.Timer("sw"); !s.Running || s.ElapsedMs != 80 {
		t.Fatalf("sw after start = %+v", s)
	}

	h.core.StartTimer("again")
	h.frames(5)
	h.svc.Fire("again")
	if s, _ := h.core.Timer("again"); !s.Running || s.ElapsedMs != 0 {
		t.Fatalf("again after restart = %+v", s)
	}

	h.core.StartTimer("lapper")
	h.frames(2)
	h.svc.Fire("lapper")
	if s, _ := h.core.Timer("lapper"); len(s.Laps) != 1 {
		t.Fatalf("lapper laps = %+v", s.Laps)
	}

	if h.svc.Fire("unknown") {
		t.Fatal("Fire(unknown) = true")
	}
}

func TestFireRecreatesRemovedTimer(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_ = h.svc.Sync([]Preset{{Timer: timer.Options{ID: "p", Name: "pomodoro", Mode: timer.Countdown, TargetSeconds: 1500}}})
	h.frames(1)
	h.core.RemoveTimer("p")

	h.svc.Fire("p")
	s, ok := h.core.Timer("p")
	if !ok || s.Name != "pomodoro" || !s.Running {
		t.Fatalf("recreated = %+v, %v", s, ok)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.svc.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.svc.Stop(ctx)
}

func TestCountdownPresetDefaultsToRestart(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_ = h.svc.Sync([]Preset{
		{Timer: timer.Options{ID: "cd", Mode: timer.Countdown, TargetSeconds: 0.05}, Schedule: "1h"},
		{Timer: timer.Options{ID: "sw"}, Schedule: "1h"},
	})
	h.frames(1)

	actions := map[string]Action{}
	for _, e := range h.svc.Entries() {
		actions[e.ID] = e.Action
	}
	if actions["cd"] != ActionRestart || actions["sw"] != ActionStart {
		t.Fatalf("default actions = %v", actions)
	}

	for i := 0; i < 2; i++ {
		h.svc.Fire("cd")
		if s, _ := h.core.Timer("cd"); !s.Running || s.Finished || s.ElapsedMs != 0 {
			t.Fatalf("fire %d: cd = %+v", i, s)
		}
		h.frames(5)
		if s, _ := h.core.Timer("cd"); !s.Finished {
			t.Fatalf("fire %d: countdown did not finish: %+v", i, s)
		}
	}
}
