package eventbus

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
)

// DefaultQueueSize bounds the number of undelivered events.
const DefaultQueueSize = 1000

// Event is what subscribers receive.
type Event struct {
	Topic   string
	Payload interface{}
}

// Handler consumes events. Handlers run on the bus's delivery goroutine, one
// at a time and in publish order. A handler may publish or subscribe but must
// not call Close.
type Handler func(Event)

// Logger is the subset of the platform logger the bus reports drops through.
type Logger interface {
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type queued struct {
	event Event
	flush chan struct{}
}

// Bus is an explicit publish/subscribe channel. Every component that needs
// one receives it from the composition root; there is no process-wide instance.
type Bus struct {
	bus    evbus.Bus
	logger Logger

	mu       sync.RWMutex
	handlers map[string]map[uint64]Handler
	nextID   uint64

	queue    chan queued
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	dropped  atomic.Int64
}

// New starts a bus with a queue of queueSize events (DefaultQueueSize when <= 0).
func New(queueSize int, logger Logger) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	b := &Bus{
		bus:      evbus.New(),
		logger:   logger,
		handlers: make(map[string]map[uint64]Handler),
		queue:    make(chan queued, queueSize),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.worker()
	return b
}

func (b *Bus) worker() {
	defer close(b.done)
	for {
		select {
		case <-b.stopChan:
			b.drain()
			return
		case item := <-b.queue:
			b.deliver(item)
		}
	}
}

func (b *Bus) drain() {
	for {
		select {
		case item := <-b.queue:
			b.deliver(item)
		default:
			return
		}
	}
}

func (b *Bus) deliver(item queued) {
	if item.flush != nil {
		close(item.flush)
		return
	}
	// The fan-out runs asynchronously inside EventBus so the library lock is
	// released before any handler runs; WaitAsync keeps delivery ordered.
	b.bus.Publish(item.event.Topic, item.event)
	b.bus.WaitAsync()
}

// Subscribe registers h for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic string, h Handler) (func(), error) {
	if h == nil {
		return nil, fmt.Errorf("eventbus: nil handler for %q", topic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.handlers[topic]
	if !ok {
		if err := b.bus.SubscribeAsync(topic, b.fanout, false); err != nil {
			return nil, fmt.Errorf("eventbus: subscribe %q: %w", topic, err)
		}
		subs = make(map[uint64]Handler)
		b.handlers[topic] = subs
	}
	b.nextID++
	id := b.nextID
	subs[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers[topic], id)
			b.mu.Unlock()
		})
	}, nil
}

func (b *Bus) fanout(ev Event) {
	b.mu.RLock()
	subs := make([]Handler, 0, len(b.handlers[ev.Topic]))
	ids := make([]uint64, 0, len(b.handlers[ev.Topic]))
	for id := range b.handlers[ev.Topic] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		subs = append(subs, b.handlers[ev.Topic][id])
	}
	b.mu.RUnlock()

	for _, h := range subs {
		b.safeCall(h, ev)
	}
}

func (b *Bus) safeCall(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error("eventbus handler for %s panicked: %v", ev.Topic, r)
		}
	}()
	h(ev)
}

// Publish queues an event. It never blocks; when the queue is full the event
// is dropped and Publish reports false.
func (b *Bus) Publish(topic string, payload interface{}) bool {
	select {
	case <-b.stopChan:
		return false
	default:
	}

	select {
	case b.queue <- queued{event: Event{Topic: topic, Payload: payload}}:
		return true
	default:
		b.dropped.Add(1)
		if b.logger != nil {
			b.logger.Warn("eventbus queue full, dropped %s", topic)
		}
		return false
	}
}

// Flush blocks until every event published before the call has been delivered.
func (b *Bus) Flush() {
	ch := make(chan struct{})
	select {
	case b.queue <- queued{flush: ch}:
	case <-b.done:
		return
	}
	select {
	case <-ch:
	case <-b.done:
	}
}

// HasSubscribers reports whether topic has at least one live handler.
func (b *Bus) HasSubscribers(topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic]) > 0
}

// Dropped returns how many events were discarded because the queue was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close delivers what is already queued and stops the worker.
func (b *Bus) Close() {
	b.stopOnce.Do(func() {
		close(b.stopChan)
	})
	<-b.done
}
