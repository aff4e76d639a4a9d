// Package fswatch watches one directory with fsnotify and reports debounced
// changes. It recreates the watcher with jittered backoff when the backend
// breaks, which some editors and platforms trigger routinely.
package fswatch

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "multitool/pkg/logx"
)

const (
	DefaultDebounce = 250 * time.Millisecond

	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

type Options struct {
	Dir string
	// Match filters events by file path; nil accepts every file.
	Match    func(name string) bool
	Debounce time.Duration
	// OnChange receives the set of paths that changed during the debounce window.
	// It runs on a timer goroutine.
	OnChange func(paths []string)
	Log      logx.Logger
}

const watchedOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// Watch blocks until ctx is done.
func Watch(ctx context.Context, o Options) error {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	log := o.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &debouncer{wait: o.Debounce, fire: o.OnChange}
	defer d.stop()

	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	nextWait := func() time.Duration {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, restartBackoffMax)
		return wait
	}
	sleep := func(wait time.Duration) bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
			return true
		}
	}

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			log.Warn("watch init failed", logx.Err(err), logx.String("dir", o.Dir))
			if !sleep(nextWait()) {
				return nil
			}
			continue
		}
		if err := w.Add(o.Dir); err != nil {
			_ = w.Close()
			log.Warn("watch add failed", logx.Err(err), logx.String("dir", o.Dir))
			if !sleep(nextWait()) {
				return nil
			}
			continue
		}
		backoff = restartBackoffBase
		log.Debug("watcher started", logx.String("dir", o.Dir))

		broken := run(ctx, w, o.Match, d, log)
		_ = w.Close()
		if !broken || ctx.Err() != nil {
			return nil
		}
		wait := nextWait()
		log.Warn("watcher stopped; restarting", logx.String("dir", o.Dir), logx.Duration("backoff", wait))
		if !sleep(wait) {
			return nil
		}
	}
	return nil
}

// run pumps events until ctx is done (false) or the watcher breaks (true).
func run(ctx context.Context, w *fsnotify.Watcher, match func(string) bool, d *debouncer, log logx.Logger) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-w.Events:
			if !ok {
				return true
			}
			if ev.Op&watchedOps == 0 {
				continue
			}
			if match == nil || match(ev.Name) {
				d.touch(ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return true
			}
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			// Overflow means events were missed; report a change without a path.
			if strings.Contains(msg, "overflow") {
				log.Warn("watch overflow; forcing reload", logx.Err(err))
				d.touch("")
				continue
			}
			log.Warn("watch error", logx.Err(err))
			if strings.Contains(msg, "closed") {
				return true
			}
		}
	}
}

type debouncer struct {
	wait time.Duration
	fire func([]string)

	mu    sync.Mutex
	t     *time.Timer
	paths map[string]struct{}
}

func (d *debouncer) touch(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.paths == nil {
		d.paths = map[string]struct{}{}
	}
	if path != "" {
		d.paths[path] = struct{}{}
	}
	if d.t != nil {
		d.t.Stop()
	}
	d.t = time.AfterFunc(d.wait, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	paths := make([]string, 0, len(d.paths))
	for p := range d.paths {
		paths = append(paths, p)
	}
	d.paths = nil
	d.t = nil
	d.mu.Unlock()
	if d.fire != nil {
		d.fire(paths)
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
		d.t = nil
	}
}
