package rider

import "sync"

// Registry is the shared id -> rider map used by both reservoirs. A rider's
// Home fixes which reservoir owns it, so the registry is the one place that
// can answer lookups across reservoirs.
type Registry struct {
	mu     sync.RWMutex
	riders map[string]*Rider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{riders: make(map[string]*Rider)}
}

// Add registers a rider. Re-adding an existing ID overwrites.
func (reg *Registry) Add(r *Rider) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.riders[r.ID] = r
}

// Get returns the rider with the given ID, or nil.
func (reg *Registry) Get(id string) *Rider {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.riders[id]
}

// Remove deletes a rider after a terminal transition.
func (reg *Registry) Remove(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.riders, id)
}

// Len returns the number of registered riders.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.riders)
}
