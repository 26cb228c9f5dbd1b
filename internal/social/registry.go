// registry.go implements Registry, which maps platform names to publishers for
// the dispatcher.
package social

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds the publishers available to the dispatcher
type Registry struct {
	mu         sync.RWMutex
	publishers map[string]Publisher
}

// NewRegistry creates a registry holding the given publishers
func NewRegistry(publishers ...Publisher) *Registry {
	r := &Registry{publishers: make(map[string]Publisher)}
	for _, p := range publishers {
		r.Register(p)
	}
	return r
}

// NormalizePlatform trims and lower-cases a platform name
func NormalizePlatform(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds or replaces the publisher for its platform
func (r *Registry) Register(p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishers[NormalizePlatform(p.Platform())] = p
}

// Get returns the publisher for platform or ErrUnknownPlatform
func (r *Registry) Get(platform string) (Publisher, error) {
	r.mu.RLock()
	p, found := r.publishers[NormalizePlatform(platform)]
	r.mu.RUnlock()

	if !found {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}
	return p, nil
}

// Platforms returns the registered platform names in sorted order
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.publishers))
	for name := range r.publishers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
