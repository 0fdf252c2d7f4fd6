package ratelimit

import "sync"

// Registry hands out one shared Limiter per provider name. Two
// components asking for the same provider get the same limiter;
// independently constructed limiters never share state.
type Registry struct {
	mu        sync.Mutex
	limiters  map[string]*Limiter
	defaults  Config
	overrides map[string]Config
}

// NewRegistry creates a Registry. overrides maps provider names to
// per-provider configuration; unlisted providers get defaults.
func NewRegistry(defaults Config, overrides map[string]Config) *Registry {
	return &Registry{
		limiters:  make(map[string]*Limiter),
		defaults:  defaults,
		overrides: overrides,
	}
}

// Provider returns the limiter registered under name, creating it on
// first use.
func (r *Registry) Provider(name string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[name]; ok {
		return l
	}

	cfg := r.defaults
	if override, ok := r.overrides[name]; ok {
		cfg = override
	}
	l := New(cfg)
	r.limiters[name] = l
	return l
}
