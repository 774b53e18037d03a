// Package timer implements the named, cancellable one-shot timers spec.md
// §2/§5/§9 describes: timer workers never mutate core state directly, they
// only post a single event back onto the owner's sink when they fire. This
// keeps the event processor single-threaded with respect to its own state
// (spec.md §9, "timers re-entering the event loop is load-bearing").
//
// Cancellation is racy by construction: a Cancel can race a timer that has
// already fired and is blocked delivering its event. Every armed timer
// carries a generation number; Fire only delivers if the generation it
// captured at Arm time is still current, so a late/cancelled fire is a
// silent no-op rather than a spurious event (spec.md §5).
package timer

import (
	"sync"
	"time"
)

// Sink receives a fired timer's name. Implementations typically post an
// event onto an eventqueue.Queue.
type Sink func(name string)

type entry struct {
	gen   uint64
	timer *time.Timer
}

type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	sink    Sink
}

func NewManager(sink Sink) *Manager {
	return &Manager{
		entries: make(map[string]*entry),
		sink:    sink,
	}
}

// Arm (re-)starts a named one-shot timer. Arming a name that is already
// armed cancels the previous timer first (its late fire, if any, will find
// a stale generation and no-op).
func (m *Manager) Arm(name string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[name]; ok {
		e.timer.Stop()
		e.gen++
	} else {
		m.entries[name] = &entry{}
	}

	e := m.entries[name]
	gen := e.gen

	e.timer = time.AfterFunc(d, func() {
		m.fire(name, gen)
	})
}

func (m *Manager) fire(name string, gen uint64) {
	m.mu.Lock()
	e, ok := m.entries[name]
	if !ok || e.gen != gen {
		m.mu.Unlock()
		return
	}
	delete(m.entries, name)
	m.mu.Unlock()

	m.sink(name)
}

// Cancel stops a named timer if armed. A no-op if the timer already fired
// or was never armed.
func (m *Manager) Cancel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[name]
	if !ok {
		return
	}
	e.timer.Stop()
	e.gen++
	delete(m.entries, name)
}

// CancelAll stops every armed timer. Used on server disconnect
// (abort_transfers, spec.md §5) to make sure no stale timer fires after the
// session state it refers to has been torn down.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, e := range m.entries {
		e.timer.Stop()
		delete(m.entries, name)
	}
}

func (m *Manager) Armed(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[name]
	return ok
}
