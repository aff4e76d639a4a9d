package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "multitool/pkg/logx"
)

func openTest(t *testing.T, driver string) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), "history.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open %s: %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestDriversAppendAndQuery(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTest(t, driver)
			ctx := context.Background()
			at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

			rows := []RunEntry{
				{At: at, Session: "s1", TimerID: "a", Name: "tea", Mode: "countdown", Event: "timer:finished", ElapsedMs: 180000, TargetSeconds: 180},
				{At: at.Add(time.Second), Session: "s1", TimerID: "b", Name: "run", Mode: "stopwatch", Event: "timer:lap", ElapsedMs: 1500.5, Lap: 1},
				{At: at.Add(2 * time.Second), Session: "s2", TimerID: "b", Name: "run", Mode: "stopwatch", Event: "timer:stop", ElapsedMs: 3000},
			}
			for _, r := range rows {
				if err := st.AppendRun(ctx, r); err != nil {
					t.Fatalf("append: %v", err)
				}
			}

			all, err := st.Runs(ctx, Query{})
			if err != nil {
				t.Fatalf("runs: %v", err)
			}
			if len(all) != 3 || all[0].Event != "timer:stop" || all[2].TimerID != "a" {
				t.Fatalf("runs newest first = %+v", all)
			}
			if !all[2].At.Equal(at) || all[2].TargetSeconds != 180 || all[1].Lap != 1 || all[1].ElapsedMs != 1500.5 {
				t.Fatalf("fields not round-tripped: %+v", all)
			}

			tests := []struct {
				name string
				q    Query
				want int
			}{
				{"by timer", Query{TimerID: "b"}, 2},
				{"by session", Query{Session: "s1"}, 2},
				{"both", Query{TimerID: "b", Session: "s2"}, 1},
				{"limit", Query{Limit: 1}, 1},
				{"no match", Query{TimerID: "zzz"}, 0},
			}
			for _, tt := range tests {
				got, err := st.Runs(ctx, tt.q)
				if err != nil {
					t.Fatalf("%s: %v", tt.name, err)
				}
				if len(got) != tt.want {
					t.Fatalf("%s: got %d rows, want %d", tt.name, len(got), tt.want)
				}
			}
		})
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("driver %q: store=%v err=%v", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path accepted")
	}
}

func TestFileStoreSkipsTornLine(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "h.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	ctx := context.Background()
	if err := st.AppendRun(ctx, RunEntry{TimerID: "x", Event: "timer:reset"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "h.runs.jsonl"), os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	_, _ = f.WriteString(`{"timer_id":"y","ev`)
	_ = f.Close()

	got, err := st.Runs(ctx, Query{})
	if err != nil || len(got) != 1 || got[0].TimerID != "x" {
		t.Fatalf("runs = %+v, %v", got, err)
	}
}
