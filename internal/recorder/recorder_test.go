package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"multitool/internal/clock"
	"multitool/internal/eventbus"
	"multitool/internal/loop"
	"multitool/internal/storage"
	"multitool/internal/timer"
	logx "multitool/pkg/logx"
)

type memStore struct {
	mu   sync.Mutex
	rows []storage.RunEntry
	err  error
	// gate, when set, holds every write until it is closed.
	gate chan struct{}
}

func (m *memStore) AppendRun(ctx context.Context, e storage.RunEntry) error {
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, e)
	return nil
}

func (m *memStore) Runs(context.Context, storage.Query) ([]storage.RunEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.RunEntry(nil), m.rows...), nil
}

func (m *memStore) Close() error { return nil }

func TestEntryFiltersAndMaps(t *testing.T) {
	t.Parallel()
	r := New(&memStore{}, logx.Nop())
	at := time.Unix(100, 0)
	snap := timer.Snapshot{ID: "t1", Name: "tea", Mode: timer.Countdown, TargetSeconds: 3, ElapsedMs: 3000, Laps: []float64{1000, 2000}}

	tests := []struct {
		name   string
		ev     eventbus.Event
		want   bool
		wantLp int
	}{
		{"finished", eventbus.Event{Name: timer.EventFinished, Time: at, Data: snap}, true, 0},
		{"lap numbers", eventbus.Event{Name: timer.EventLap, Time: at, Data: snap}, true, 2},
		{"update skipped", eventbus.Event{Name: timer.EventUpdate, Time: at, Data: snap}, false, 0},
		{"foreign payload", eventbus.Event{Name: timer.EventStop, Time: at, Data: "x"}, false, 0},
	}
	for _, tt := range tests {
		row, ok := r.Entry(tt.ev)
		if ok != tt.want {
			t.Fatalf("%s: ok = %v", tt.name, ok)
		}
		if !ok {
			continue
		}
		if row.Session != r.Session() || row.TimerID != "t1" || row.Mode != "countdown" || row.ElapsedMs != 3000 || row.Lap != tt.wantLp || !row.At.Equal(at) {
			t.Fatalf("%s: row = %+v", tt.name, row)
		}
	}
}

func TestRunWritesStreamAndDrainsOnCancel(t *testing.T) {
	t.Parallel()
	bus := eventbus.New(logx.Nop())
	st := &memStore{}
	r := New(st, logx.Nop())

	ch, stop := bus.Stream(StreamBuffer)
	defer stop()
	bus.Publish(timer.EventStart, timer.Snapshot{ID: "a"})
	bus.Publish(timer.EventStop, timer.Snapshot{ID: "a", ElapsedMs: 10})
	bus.Publish(timer.EventReset, timer.Snapshot{ID: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx, ch); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rows, _ := st.Runs(context.Background(), storage.Query{})
	if len(rows) != 2 || rows[0].Event != timer.EventStop || rows[1].Event != timer.EventReset {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestRunSurvivesStoreErrors(t *testing.T) {
	t.Parallel()
	st := &memStore{err: errors.New("read-only fs")}
	r := New(st, logx.Nop())
	ch := make(chan eventbus.Event, 1)
	ch <- eventbus.Event{Name: timer.EventFinished, Data: timer.Snapshot{ID: "x"}}
	close(ch)
	if err := r.Run(context.Background(), ch); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestSessionsAreDistinct(t *testing.T) {
	t.Parallel()
	a, b := New(&memStore{}, logx.Nop()), New(&memStore{}, logx.Nop())
	if a.Session() == "" || a.Session() == b.Session() {
		t.Fatalf("sessions %q %q", a.Session(), b.Session())
	}
}

func TestSlowStoreKeepsRecordedEventsUnderUpdateLoad(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(0)
	lp := loop.New(clk)
	bus := eventbus.New(logx.Nop())
	sched := timer.NewScheduler(lp, clk, bus)

	st := &memStore{gate: make(chan struct{})}
	r := New(st, logx.Nop())
	ch, stop := bus.Stream(StreamBuffer, Recorded...)
	defer stop()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, ch) }()

	sched.Start(sched.Create(timer.Options{ID: "sw"}))
	sched.Start(sched.Create(timer.Options{ID: "cd", Mode: timer.Countdown, TargetSeconds: 1}))
	step := func(n int) {
		for i := 0; i < n; i++ {
			clk.Advance(16 * time.Millisecond)
			lp.Step()
		}
	}
	step(30)
	sched.Lap("sw") // the store blocks on this row
	step(600)       // well over StreamBuffer updates
	sched.Stop("sw")
	close(st.gate)

	deadline := time.Now().Add(2 * time.Second)
	var rows []storage.RunEntry
	for time.Now().Before(deadline) {
		rows, _ = st.Runs(context.Background(), storage.Query{})
		if len(rows) >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	rows, _ = st.Runs(context.Background(), storage.Query{})
	want := []struct{ event, id string }{
		{timer.EventLap, "sw"},
		{timer.EventFinished, "cd"},
		{timer.EventStop, "sw"},
	}
	if len(rows) != len(want) {
		t.Fatalf("rows = %+v", rows)
	}
	for i, w := range want {
		if rows[i].Event != w.event || rows[i].TimerID != w.id {
			t.Fatalf("row %d = %s/%s, want %s/%s", i, rows[i].Event, rows[i].TimerID, w.event, w.id)
		}
	}
}
