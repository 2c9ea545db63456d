package provider

import (
	"fmt"
	"strings"
	"sync"
)

// Registry maps source vendors to their provider implementations. Resolving
// an unknown vendor is a configuration error, never retried.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(strings.TrimSpace(p.Vendor()))] = p
}

func (r *Registry) Resolve(vendor string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(vendor))]
	if !ok {
		return nil, fmt.Errorf("no provider registered for vendor '%s'", vendor)
	}
	return p, nil
}

func (r *Registry) Vendors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for v := range r.providers {
		out = append(out, v)
	}
	return out
}
