package scraper

import (
	"fmt"
	"sort"
	"sync"
)

// Factory produces a scraper for one run.
type Factory func(in Inputs) (Scraper, error)

// Registry maps scraper keys to factories. It is the single extension point
// for adding a utility; registration happens once at process start.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a scraper key to its factory. A duplicate key is a fatal
// initialization error.
func (r *Registry) Register(key string, f Factory) error {
	if key == "" {
		return fmt.Errorf("scraper key must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("scraper key '%s' is already registered", key)
	}
	r.factories[key] = f
	return nil
}

// MustRegister is Register for init-time wiring; it panics on error.
func (r *Registry) MustRegister(key string, f Factory) {
	if err := r.Register(key, f); err != nil {
		panic(err)
	}
}

// New instantiates the scraper registered under key. An unknown key is a
// NotFound error.
func (r *Registry) New(key string, in Inputs) (Scraper, error) {
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, Errorf(KindNotFound, "no scraper registered for key '%s'", key)
	}
	return f(in)
}

// Keys returns the registered scraper keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
