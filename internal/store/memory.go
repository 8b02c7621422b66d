package store

import (
	"sort"
	"sync"
)

// subscriberBuffer is the channel capacity handed to each subscriber.
const subscriberBuffer = 100

// MemoryStore is an in-memory [Store].
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot

	subMu       sync.RWMutex
	subscribers map[chan Snapshot]struct{}
}

// NewMemoryStore creates an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots:   make(map[string]Snapshot),
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// Update replaces the snapshot stored under s.Name and notifies every
// subscriber whose buffer has room.
func (m *MemoryStore) Update(s Snapshot) {
	s.Labels = copyLabels(s.Labels)

	m.mu.Lock()
	m.snapshots[s.Name] = s
	m.mu.Unlock()

	m.notify(s)
}

// Get returns the snapshot stored under name.
func (m *MemoryStore) Get(name string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.snapshots[name]
	return s, ok
}

// GetAll returns a copy of every snapshot, ordered by name.
func (m *MemoryStore) GetAll() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Subscribe registers a subscriber with a buffer of 100 updates.
func (m *MemoryStore) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes ch and closes it.
func (m *MemoryStore) Unsubscribe(ch <-chan Snapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for sub := range m.subscribers {
		if sub == ch {
			delete(m.subscribers, sub)
			close(sub)
			return
		}
	}
}

// notify sends s to all subscribers without blocking.
func (m *MemoryStore) notify(s Snapshot) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- s:
		default:
			// slow subscriber, drop
		}
	}
}

func copyLabels(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
