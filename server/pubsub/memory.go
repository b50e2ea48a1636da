package pubsub

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryPubsub is an in-memory Pubsub implementation. It is what a single
// instance runs with, and what tests use to stand in for a broker.
type MemoryPubsub struct {
	mut       sync.RWMutex
	listeners map[string]map[uuid.UUID]Listener
}

func NewInMemory() *MemoryPubsub {
	return &MemoryPubsub{
		listeners: make(map[string]map[uuid.UUID]Listener),
	}
}

func (m *MemoryPubsub) Subscribe(event string, listener Listener) (cancel func(), err error) {
	m.mut.Lock()
	defer m.mut.Unlock()

	listeners, ok := m.listeners[event]
	if !ok {
		listeners = map[uuid.UUID]Listener{}
		m.listeners[event] = listeners
	}
	var id uuid.UUID
	for {
		id = uuid.New()
		if _, ok = listeners[id]; !ok {
			break
		}
	}
	listeners[id] = listener
	return func() {
		m.mut.Lock()
		defer m.mut.Unlock()
		listeners := m.listeners[event]
		delete(listeners, id)
		if len(listeners) == 0 {
			delete(m.listeners, event)
		}
	}, nil
}

// Publish delivers message to every listener of event and waits for them.
func (m *MemoryPubsub) Publish(event string, message []byte) error {
	m.mut.RLock()
	listeners := make([]Listener, 0, len(m.listeners[event]))
	for _, l := range m.listeners[event] {
		listeners = append(listeners, l)
	}
	m.mut.RUnlock()

	var wg sync.WaitGroup
	for _, listener := range listeners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			listener(context.Background(), message)
		}()
	}
	wg.Wait()
	return nil
}

// Subscribers returns the number of listeners on event.
func (m *MemoryPubsub) Subscribers(event string) int {
	m.mut.RLock()
	defer m.mut.RUnlock()
	return len(m.listeners[event])
}

func (*MemoryPubsub) Close() error {
	return nil
}
