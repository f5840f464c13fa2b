package event

import (
	"sync"
)

// DefaultQueueSize is the per-subscriber buffer of a Bus.
const DefaultQueueSize = 256

// Bus fans events out to any number of subscribers.  Each subscriber
// gets a dedicated goroutine and queue, so a slow sink only loses its
// own events.  The zero value is not usable; call NewBus.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	size   int
	closed bool

	// OnDrop, when set, is called for every event dropped because a
	// subscriber queue was full.  It runs on the emitting goroutine.
	OnDrop func()
}

type subscriber struct {
	sink Sink
	ch   chan interface{}
	done chan struct{}
}

// NewBus returns a Bus whose subscribers buffer up to queueSize events
// (DefaultQueueSize if ≤ 0).
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{subs: make(map[int]*subscriber), size: queueSize}
}

// Subscribe registers sink and returns a function that removes it.  The
// removal waits for events already queued for sink to be delivered.
func (b *Bus) Subscribe(sink Sink) (unsubscribe func()) {
	s := &subscriber{
		sink: sink,
		ch:   make(chan interface{}, b.size),
		done: make(chan struct{}),
	}
	go s.run()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		<-s.done
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			_, ok := b.subs[id]
			delete(b.subs, id)
			b.mu.Unlock()
			if ok {
				close(s.ch)
				<-s.done
			}
		})
	}
}

// OnStatus implements Sink.
func (b *Bus) OnStatus(e StatusEvent) { b.publish(e) }

// OnLog implements Sink.
func (b *Bus) OnLog(e LogEvent) { b.publish(e) }

// Close stops accepting events and waits until every subscriber has
// drained its queue.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[int]*subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		close(s.ch)
		<-s.done
	}
}

func (b *Bus) publish(e interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			if b.OnDrop != nil {
				b.OnDrop()
			}
		}
	}
}

func (s *subscriber) run() {
	defer close(s.done)
	for e := range s.ch {
		switch ev := e.(type) {
		case StatusEvent:
			s.sink.OnStatus(ev)
		case LogEvent:
			s.sink.OnLog(ev)
		}
	}
}
