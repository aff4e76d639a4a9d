// Package notify turns selected timer events into chat messages.
//
// Messages flow: bus stream -> Service.Run -> dedup -> rate limit -> Sender,
// with bounded retries. A failing sender never blocks the frame loop.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"multitool/internal/eventbus"
	"multitool/internal/timer"
	logx "multitool/pkg/logx"
)

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type Config struct {
	// Events selects which timer events become messages.
	Events      []string
	RatePerSec  int
	Timeout     time.Duration
	RetryMax    int
	RetryBase   time.Duration
	DedupWindow time.Duration
}

// DefaultEvents is used when Config.Events is empty.
var DefaultEvents = []string{timer.EventFinished}

// Streamed lists every event Message can render. Run should be fed a stream
// restricted to these so timer:update never fills its buffer.
var Streamed = []string{timer.EventStart, timer.EventStop, timer.EventReset, timer.EventLap, timer.EventFinished}

var ErrUnsupportedEvent = errors.New("unsupported event")

type Service struct {
	sender Sender
	log    logx.Logger

	mu      sync.Mutex
	cfg     Config
	events  map[string]struct{}
	limiter *rate.Limiter

	dedup map[string]time.Time
	sent  int
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log, dedup: map[string]time.Time{}}
	s.Apply(cfg)
	return s
}

// Apply swaps the event selection and limits; safe while Run is active.
func (s *Service) Apply(cfg Config) {
	if len(cfg.Events) == 0 {
		cfg.Events = DefaultEvents
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 5 * time.Second
	}
	ev := make(map[string]struct{}, len(cfg.Events))
	for _, e := range cfg.Events {
		ev[e] = struct{}{}
	}

	s.mu.Lock()
	s.cfg = cfg
	s.events = ev
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

func (s *Service) Wants(event string) bool {
	s.mu.Lock()
	_, ok := s.events[event]
	s.mu.Unlock()
	return ok
}

// Sent reports how many messages were delivered.
func (s *Service) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Message renders the chat text for a timer event.
func Message(e eventbus.Event) (string, error) {
	snap, ok := e.Data.(timer.Snapshot)
	if !ok {
		return "", fmt.Errorf("%w: %s payload %T", ErrUnsupportedEvent, e.Name, e.Data)
	}
	name := snap.Name
	if name == "" {
		name = snap.ID
	}
	elapsed := timer.Format(snap.ElapsedMs, snap.Format)
	switch e.Name {
	case timer.EventFinished:
		return fmt.Sprintf("⏱ %s finished (%s)", name, elapsed), nil
	case timer.EventStart:
		if snap.HasTarget() {
			return fmt.Sprintf("▶ %s started, %s to go", name, snap.Display()), nil
		}
		return fmt.Sprintf("▶ %s started", name), nil
	case timer.EventStop:
		return fmt.Sprintf("⏸ %s stopped at %s", name, elapsed), nil
	case timer.EventReset:
		return fmt.Sprintf("↺ %s reset", name), nil
	case timer.EventLap:
		if n := len(snap.Laps); n > 0 {
			return fmt.Sprintf("🏁 %s lap %d: %s", name, n, timer.Format(snap.Laps[n-1], snap.Format)), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedEvent, e.Name)
}

// Run sends a message for each wanted event from ch until ctx is done or ch
// closes.
func (s *Service) Run(ctx context.Context, ch <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if !s.Wants(e.Name) {
				continue
			}
			text, err := Message(e)
			if err != nil {
				s.log.Debug("notify skipped", logx.String("event", e.Name), logx.Err(err))
				continue
			}
			s.Notify(ctx, text)
		}
	}
}

// Notify sends text unless the same text went out within the dedup window.
func (s *Service) Notify(ctx context.Context, text string) {
	if !s.allow(text, time.Now()) {
		s.log.Debug("notify deduped", logx.String("text", text))
		return
	}
	s.sendWithRetry(ctx, text)
}

func (s *Service) allow(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(s.cfg.DedupWindow)
	if len(s.dedup) > 512 {
		for k, until := range s.dedup {
			if now.After(until) {
				delete(s.dedup, k)
			}
		}
	}
	return true
}

func (s *Service) sendWithRetry(ctx context.Context, text string) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err := s.sender.Send(callCtx, text)
		cancel()
		if err == nil {
			s.mu.Lock()
			s.sent++
			s.mu.Unlock()
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Int("attempt", attempt), logx.Int("max", attempts), logx.Err(err))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg.RetryBase, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Warn("notify failed", logx.Int("attempts", attempts), logx.Err(lastErr))
}

func retryDelay(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	return min(d, 10*time.Second)
}
