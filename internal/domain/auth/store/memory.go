package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"socializor-server-go/internal/domain/eventbus"
)

// SharedMemory is an in-process key-value space whose handles behave like
// browser tabs sharing one storage area: each handle sees the others' writes
// through change notifications delivered on the event bus.
type SharedMemory struct {
	bus      *eventbus.Bus
	topic    string
	capacity int

	mu   sync.RWMutex
	data map[string]string
}

// NewSharedMemory creates an empty space. capacityBytes <= 0 means unbounded.
func NewSharedMemory(bus *eventbus.Bus, capacityBytes int) *SharedMemory {
	return &SharedMemory{
		bus:      bus,
		topic:    eventbus.TopicStoreChanged + ":" + uuid.NewString(),
		capacity: capacityBytes,
		data:     make(map[string]string),
	}
}

// Handle opens a new context on the space.
func (m *SharedMemory) Handle() Medium {
	return &memoryHandle{shared: m, origin: uuid.NewString()}
}

func (m *SharedMemory) sizeWith(entries map[string]string) int {
	size := 0
	for k, v := range m.data {
		if _, replaced := entries[k]; !replaced {
			size += len(k) + len(v)
		}
	}
	for k, v := range entries {
		size += len(k) + len(v)
	}
	return size
}

func (m *SharedMemory) publish(origin string, keys []string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(m.topic, eventbus.StoreChange{Keys: keys, Origin: origin})
}

type memoryHandle struct {
	shared *SharedMemory
	origin string

	mu      sync.Mutex
	cancels []func()
	closed  bool
}

func (h *memoryHandle) Get(_ context.Context, key string) (string, bool, error) {
	h.shared.mu.RLock()
	defer h.shared.mu.RUnlock()
	v, ok := h.shared.data[key]
	return v, ok, nil
}

func (h *memoryHandle) Set(_ context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}
	m := h.shared
	m.mu.Lock()
	if m.capacity > 0 {
		if size := m.sizeWith(entries); size > m.capacity {
			m.mu.Unlock()
			return fmt.Errorf("%w: %d of %d bytes", ErrQuotaExceeded, size, m.capacity)
		}
	}
	keys := make([]string, 0, len(entries))
	for k, v := range entries {
		m.data[k] = v
		keys = append(keys, k)
	}
	m.mu.Unlock()

	m.publish(h.origin, keys)
	return nil
}

func (h *memoryHandle) Remove(_ context.Context, keys ...string) error {
	m := h.shared
	m.mu.Lock()
	removed := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			removed = append(removed, k)
		}
	}
	m.mu.Unlock()

	if len(removed) > 0 {
		m.publish(h.origin, removed)
	}
	return nil
}

func (h *memoryHandle) Subscribe(fn func(Change)) (func(), error) {
	if h.shared.bus == nil {
		return nil, fmt.Errorf("memory medium has no event bus, change notifications are unavailable")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("memory medium handle is closed")
	}

	cancel, err := h.shared.bus.Subscribe(h.shared.topic, func(ev eventbus.Event) {
		change, ok := ev.Payload.(eventbus.StoreChange)
		if !ok || change.Origin == h.origin {
			return
		}
		fn(Change{Keys: change.Keys})
	})
	if err != nil {
		return nil, err
	}
	h.cancels = append(h.cancels, cancel)
	return cancel, nil
}

func (h *memoryHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, cancel := range h.cancels {
		cancel()
	}
	h.cancels = nil
	return nil
}
