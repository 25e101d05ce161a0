package shorten

import (
	"log/slog"
	"sync"
)

// Registry maps container IDs to live shorteners. The scanner owns one
// Registry; entries are released by explicit cleanup (message removed or
// feature disabled), never by garbage collection.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Shortener
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{active: make(map[string]*Shortener), logger: logger}
}

// Put registers a shortener for a container. Registering the same ID
// twice is a wiring bug upstream; the old instance is torn down so the
// container never carries two observers.
func (r *Registry) Put(id string, s *Shortener) {
	r.mu.Lock()
	old := r.active[id]
	r.active[id] = s
	r.mu.Unlock()

	if old != nil {
		r.logger.Warn("shorten: container wired twice, tearing down old instance", "id", id)
		old.Teardown()
	}
}

// Get returns the shortener for id, or nil.
func (r *Registry) Get(id string) *Shortener {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[id]
}

// Remove tears down and releases one entry. Safe to call for unknown IDs.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s := r.active[id]
	delete(r.active, id)
	r.mu.Unlock()

	if s != nil {
		s.Teardown()
	}
}

// TeardownAll is the control-plane fan-out: every live shortener is torn
// down independently. Used when the shortening feature is toggled off.
func (r *Registry) TeardownAll() {
	r.mu.Lock()
	all := r.active
	r.active = make(map[string]*Shortener)
	r.mu.Unlock()

	for id, s := range all {
		s.Teardown()
		r.logger.Debug("shorten: torn down", "id", id)
	}
}

// Len returns the number of live shorteners.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
