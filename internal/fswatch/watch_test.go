package fswatch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDebouncerCoalesces(t *testing.T) {
	t.Parallel()
	got := make(chan []string, 4)
	d := &debouncer{wait: 20 * time.Millisecond, fire: func(p []string) { got <- p }}
	d.touch("a.js")
	d.touch("b.js")
	d.touch("a.js")

	select {
	case paths := <-got:
		if len(paths) != 2 {
			t.Fatalf("paths = %v, want 2 distinct", paths)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer never fired")
	}
	select {
	case extra := <-got:
		t.Fatalf("unexpected second flush %v", extra)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestWatchReportsMatchingWrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan []string, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, Options{
			Dir:      dir,
			Match:    func(name string) bool { return strings.HasSuffix(name, ".js") },
			Debounce: 20 * time.Millisecond,
			OnChange: func(p []string) { got <- p },
		})
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		// Keep writing until the watcher is up and reports the change.
		_ = os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o644)
		_ = os.WriteFile(filepath.Join(dir, "tool.js"), []byte("x"), 0o644)
		select {
		case paths := <-got:
			for _, p := range paths {
				if filepath.Base(p) != "tool.js" {
					t.Fatalf("unmatched path reported: %q", p)
				}
			}
			cancel()
			<-done
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("no change reported")
		}
	}
}
