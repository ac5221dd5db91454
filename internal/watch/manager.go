package watch

import (
	"context"
	"fmt"
	"sync"
)

// Manager owns one Watcher per monitored service and exposes the query and
// control surface the HTTP API and CLI build on.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	order    []string // registration order, for stable listings
	started  bool
}

func NewManager() *Manager {
	return &Manager{watchers: make(map[string]*Watcher)}
}

// Register adds a watcher. Registration after Start is rejected.
func (m *Manager) Register(w *Watcher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("cannot register %s: manager already started", w.cfg.Name)
	}
	if _, ok := m.watchers[w.cfg.Name]; ok {
		return fmt.Errorf("service %s already registered", w.cfg.Name)
	}
	m.watchers[w.cfg.Name] = w
	m.order = append(m.order, w.cfg.Name)
	return nil
}

// Start launches all watcher loops under ctx.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	for _, name := range m.order {
		m.watchers[name].Start(ctx)
	}
}

// Stop terminates all watcher loops, waiting for in-flight checks.
func (m *Manager) Stop() {
	m.mu.Lock()
	ws := make([]*Watcher, 0, len(m.order))
	for _, name := range m.order {
		ws = append(ws, m.watchers[name])
	}
	m.started = false
	m.mu.Unlock()
	for _, w := range ws {
		w.Stop()
	}
}

func (m *Manager) get(name string) (*Watcher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.watchers[name]
	if !ok {
		return nil, fmt.Errorf("unknown service %s", name)
	}
	return w, nil
}

// Status returns the state snapshot for one service.
func (m *Manager) Status(name string) (ServiceState, error) {
	w, err := m.get(name)
	if err != nil {
		return ServiceState{}, err
	}
	return w.Snapshot(), nil
}

// StatusAll returns snapshots for every service in registration order.
func (m *Manager) StatusAll() []ServiceState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServiceState, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.watchers[name].Snapshot())
	}
	return out
}

// CheckNow triggers an immediate check cycle for one service.
func (m *Manager) CheckNow(ctx context.Context, name string) (ServiceState, error) {
	w, err := m.get(name)
	if err != nil {
		return ServiceState{}, err
	}
	return w.CheckNow(ctx), nil
}

// Rearm clears a terminal Down state for one service.
func (m *Manager) Rearm(ctx context.Context, name string) error {
	w, err := m.get(name)
	if err != nil {
		return err
	}
	w.Rearm(ctx)
	return nil
}
