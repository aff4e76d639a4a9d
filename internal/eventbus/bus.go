package eventbus

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "multitool/pkg/logx"
)

// Event is a named signal with a small payload (usually a timer.Snapshot).
type Event struct {
	Name string
	Time time.Time
	Data any
}

// Handler receives events synchronously on the publisher's goroutine.
// A returned error is logged; it never reaches the publisher.
type Handler func(Event) error

// Subscription identifies one registration made with Subscribe.
// The zero value never identifies a registration.
type Subscription uint64

type binding struct {
	sub Subscription
	h   Handler
}

type stream struct {
	ch    chan Event
	names map[string]struct{}
}

func (s *stream) wants(name string) bool {
	if s.names == nil {
		return true
	}
	_, ok := s.names[name]
	return ok
}

// Bus delivers events to handlers in subscription order and offers a
// non-blocking channel fan-out for consumers living on other goroutines.
//
// Subscribe/Unsubscribe/Publish are meant to be called from the frame loop;
// the internal lock only protects Stream consumers that attach from elsewhere.
type Bus struct {
	log logx.Logger
	now func() time.Time

	mu       sync.RWMutex
	handlers map[string][]binding
	streams  map[uint64]*stream

	seq atomic.Uint64
}

func New(log logx.Logger) *Bus {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bus{
		log:      log,
		now:      time.Now,
		handlers: map[string][]binding{},
		streams:  map[uint64]*stream{},
	}
}

// Subscribe registers h under name. Registering the same function twice yields
// two invocations per publish.
func (b *Bus) Subscribe(name string, h Handler) Subscription {
	if h == nil {
		return 0
	}
	sub := Subscription(b.seq.Add(1))
	b.mu.Lock()
	b.handlers[name] = append(b.handlers[name], binding{sub: sub, h: h})
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the registration; unknown or already removed
// subscriptions are ignored.
func (b *Bus) Unsubscribe(name string, sub Subscription) bool {
	if sub == 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.handlers[name]
	for i, bd := range list {
		if bd.sub != sub {
			continue
		}
		// Copy so an in-flight publish keeps its own snapshot intact.
		next := make([]binding, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, name)
		} else {
			b.handlers[name] = next
		}
		return true
	}
	return false
}

// Handlers returns the number of handlers subscribed under name.
func (b *Bus) Handlers(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

// Publish runs every handler registered under name, in order, then offers the
// event to streams. Handler errors and panics are logged and skipped.
func (b *Bus) Publish(name string, data any) {
	e := Event{Name: name, Time: b.now(), Data: data}

	b.mu.RLock()
	list := b.handlers[name]
	chs := make([]chan Event, 0, len(b.streams))
	for _, st := range b.streams {
		if st.wants(name) {
			chs = append(chs, st.ch)
		}
	}
	b.mu.RUnlock()

	for _, bd := range list {
		b.deliver(bd, e)
	}

	for _, ch := range chs {
		// Non-blocking; slow streams drop. A stream closed concurrently
		// would panic on send, hence the recover.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *Bus) deliver(bd binding, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("event handler panicked",
				logx.String("event", e.Name),
				logx.Uint64("sub", uint64(bd.sub)),
				logx.String("panic", fmt.Sprint(r)),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	if err := bd.h(e); err != nil {
		b.log.Warn("event handler failed",
			logx.String("event", e.Name),
			logx.Uint64("sub", uint64(bd.sub)),
			logx.Err(err),
		)
	}
}

// Stream returns a buffered channel and a function that detaches and closes
// it. With names, only those events are offered to the channel, so frequent
// events cannot crowd out the ones a slow consumer cares about. Without
// names the channel receives every event.
func (b *Bus) Stream(buffer int, names ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	st := &stream{ch: make(chan Event, buffer)}
	if len(names) > 0 {
		st.names = make(map[string]struct{}, len(names))
		for _, n := range names {
			st.names[n] = struct{}{}
		}
	}
	ch := st.ch
	id := b.seq.Add(1)

	b.mu.Lock()
	b.streams[id] = st
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.streams, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
