package plugins

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// Registry is a table of known plugin kinds keyed by ID.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]*Kind
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]*Kind)}
}

// defaultRegistry is the process-wide table populated by plugin packages'
// init functions.
var defaultRegistry = NewRegistry()

// Default returns the process-wide registry
func Default() *Registry { return defaultRegistry }

// Register adds a kind to the registry
func (r *Registry) Register(k *Kind) error {
	if err := k.Validate(); err != nil {
		return fmt.Errorf("cannot register kind: %w", err)
	}
	if k.Version != "" {
		if _, err := semver.NewVersion(k.Version); err != nil {
			return fmt.Errorf("kind %s has invalid version %q: %w", k.ID, k.Version, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.kinds[k.ID]; exists {
		return fmt.Errorf("kind already registered: %s", k.ID)
	}

	r.kinds[k.ID] = k
	return nil
}

// Unregister removes a kind from the registry
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.kinds[id]; !exists {
		return fmt.Errorf("kind %s: %w", id, ErrNotFound)
	}

	delete(r.kinds, id)
	return nil
}

// Get retrieves a kind by ID
func (r *Registry) Get(id string) (*Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	k, exists := r.kinds[id]
	if !exists {
		return nil, fmt.Errorf("kind %s: %w", id, ErrNotFound)
	}

	return k, nil
}

// Resolve retrieves a kind by ID and checks its version against a semver
// constraint. An empty constraint accepts any version.
func (r *Registry) Resolve(id, constraint string) (*Kind, error) {
	k, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if constraint == "" {
		return k, nil
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("kind %s: invalid version constraint %q: %w", id, constraint, err)
	}
	if k.Version == "" {
		return nil, fmt.Errorf("kind %s has no version, cannot satisfy %q", id, constraint)
	}
	v, err := semver.NewVersion(k.Version)
	if err != nil {
		return nil, fmt.Errorf("kind %s has invalid version %q: %w", id, k.Version, err)
	}
	if !c.Check(v) {
		return nil, fmt.Errorf("kind %s version %s does not satisfy %q", id, k.Version, constraint)
	}
	return k, nil
}

// Has checks if a kind is registered
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.kinds[id]
	return exists
}

// List returns all registered kinds sorted by ID
func (r *Registry) List() []*Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Kind, 0, len(r.kinds))
	for _, k := range r.kinds {
		result = append(result, k)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result
}

// Providing returns all kinds that satisfy the capability, sorted by ID
func (r *Registry) Providing(c *Capability) []*Kind {
	var result []*Kind
	for _, k := range r.List() {
		if k.Satisfies(c) {
			result = append(result, k)
		}
	}
	return result
}

// Count returns the number of registered kinds
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.kinds)
}

// Clear removes all kinds from the registry
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.kinds = make(map[string]*Kind)
}

// Register adds a kind to the process-wide registry
func Register(k *Kind) error { return defaultRegistry.Register(k) }

// MustRegister is Register for use in init functions; it panics on error.
func MustRegister(k *Kind) {
	if err := Register(k); err != nil {
		panic(err)
	}
}

// Unregister removes a kind from the process-wide registry
func Unregister(id string) error { return defaultRegistry.Unregister(id) }

// Get retrieves a kind from the process-wide registry
func Get(id string) (*Kind, error) { return defaultRegistry.Get(id) }

// List returns all kinds of the process-wide registry
func List() []*Kind { return defaultRegistry.List() }

// Clear empties the process-wide registry
func Clear() { defaultRegistry.Clear() }
