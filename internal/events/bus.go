// Package events provides the best-effort async publish/subscribe bus every
// component uses for observability. No persistence, no replay: subscribers
// only see events published after they attach.
package events

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Event is an immutable published record.
type Event struct {
	Topic   string
	Payload any
}

// Handler consumes events for one subscription. Handlers run on the
// subscription's own goroutine; a panicking handler is recovered and keeps
// receiving later events.
type Handler func(evt Event)

const defaultBufferSize = 256

type subscriber struct {
	id string
	ch chan Event
}

// Bus fans events out to per-topic subscribers. Delivery order per topic
// matches publish order for each subscriber. Publishing never blocks: a
// subscriber whose buffer is full loses the event instead of stalling the
// publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]map[string]*subscriber // topic -> id -> subscriber
	nextID  atomic.Uint64
	buffer  int
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithBuffer sets the per-subscriber channel size.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[string]map[string]*subscriber),
		buffer: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription identifies one attached handler.
type Subscription struct {
	bus   *Bus
	topic string
	id    string
	once  sync.Once
}

// Unsubscribe detaches the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s.topic, s.id)
	})
}

// Subscribe attaches a handler to a topic and starts its delivery
// goroutine.
func (b *Bus) Subscribe(topic string, h Handler) *Subscription {
	id := strconv.FormatUint(b.nextID.Add(1), 10)
	sub := &subscriber{id: id, ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return &Subscription{bus: b, topic: topic, id: id}
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]*subscriber)
	}
	b.subs[topic][id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for evt := range sub.ch {
			deliver(h, evt)
		}
	}()

	return &Subscription{bus: b, topic: topic, id: id}
}

// Publish enqueues delivery to all current subscribers of topic.
// Fire-and-forget: the caller is never blocked beyond the enqueue.
func (b *Bus) Publish(topic string, payload any) {
	evt := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs[topic] {
		select {
		case sub.ch <- evt:
		default:
			if n := b.dropped.Add(1); n%100 == 1 {
				log.Warn().Str("topic", topic).Uint64("dropped_total", n).
					Msg("event subscriber buffer full, dropping")
			}
		}
	}
}

// Dropped returns the total number of events lost to full buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close detaches every subscriber and waits for in-flight deliveries.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	b.subs = make(map[string]map[string]*subscriber)
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Bus) remove(topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[topic][id]; ok {
		delete(b.subs[topic], id)
		close(sub.ch)
	}
}

func deliver(h Handler, evt Event) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Warn().Str("topic", evt.Topic).Interface("panic", rec).
				Msg("event handler panicked")
		}
	}()
	h(evt)
}
