package connectivity

import (
	"sync"
	"sync/atomic"
)

// ManualMonitor implements domain.ConnectivityMonitor with externally pushed
// state. Embedding hosts that already receive reachability callbacks from
// the platform feed them in through SetOnline instead of running probes.
type ManualMonitor struct {
	online atomic.Bool

	mu          sync.Mutex
	subscribers map[int]func(online bool)
	nextSubID   int
}

// NewManualMonitor creates a monitor with the given initial state.
func NewManualMonitor(initiallyOnline bool) *ManualMonitor {
	m := &ManualMonitor{subscribers: make(map[int]func(online bool))}
	m.online.Store(initiallyOnline)
	return m
}

// Online returns the last pushed reachability state.
func (m *ManualMonitor) Online() bool {
	return m.online.Load()
}

// SetOnline pushes a new reachability state, notifying subscribers on a
// transition.
func (m *ManualMonitor) SetOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}

	m.mu.Lock()
	fns := make([]func(bool), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// Subscribe registers fn for transition notifications and returns an
// unsubscribe function.
func (m *ManualMonitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}
