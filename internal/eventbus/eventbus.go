package eventbus

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Delivery is ordered per subscriber.
//   - By default Publish blocks while a subscriber's buffer is full, so a slow
//     subscriber holds back its publisher. Unsubscribing releases it.
//   - Buses created WithDropOnFull never block and drop instead.
//
// Data should be small and ideally JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

type Option func(*memBus)

// WithDropOnFull makes Publish non-blocking: events for a full subscriber are dropped.
func WithDropOnFull() Option {
	return func(b *memBus) { b.dropOnFull = true }
}

// WithDropHook installs a callback invoked for every dropped delivery.
func WithDropHook(fn func(Event)) Option {
	return func(b *memBus) { b.onDrop = fn }
}

// New returns a simple in-memory fanout bus.
//
// It does not own any background goroutines.
func New(opts ...Option) Bus {
	b := &memBus{subs: map[uint64]*subscription{}}
	for _, o := range opts {
		o(b)
	}
	return b
}

type subscription struct {
	// mu is read-held by senders; unsubscribe takes it exclusively before
	// closing ch, after done has released any blocked sender.
	mu   sync.RWMutex
	ch   chan Event
	done chan struct{}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*subscription
	seq  atomic.Uint64

	dropOnFull bool
	onDrop     func(Event)
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers in subscription order so Publish doesn't hold locks while sending.
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	subs := make([]*subscription, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		subs = append(subs, b.subs[id])
	}
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, e)
	}
}

func (b *memBus) deliver(s *subscription, e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	select {
	case <-s.done:
		return
	default:
	}
	if b.dropOnFull {
		select {
		case s.ch <- e:
		default:
			if b.onDrop != nil {
				b.onDrop(e)
			}
		}
		return
	}
	select {
	case s.ch <- e:
	case <-s.done:
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscription{ch: make(chan Event, buffer), done: make(chan struct{})}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			close(s.done)
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			s.mu.Lock()
			close(s.ch)
			s.mu.Unlock()
		})
	}
	return s.ch, unsub
}
