package breaker

import (
	"slices"
	"strings"
	"sync"

	"github.com/vietddude/faultline/internal/core/apperror"
)

// Registry owns one breaker per dependency name.
type Registry struct {
	mu        sync.RWMutex
	defaults  Config
	overrides map[string]Config
	opts      []Option
	breakers  map[string]*Breaker
}

// NewRegistry creates a registry. Breakers are created on first use with the
// override for their name, or defaults. opts apply to every breaker.
func NewRegistry(defaults Config, overrides map[string]Config, opts ...Option) *Registry {
	return &Registry{
		defaults:  defaults,
		overrides: overrides,
		opts:      opts,
		breakers:  make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it if needed.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg, ok := r.overrides[name]
	if !ok {
		cfg = r.defaults
	}
	b = New(name, cfg, r.opts...)
	r.breakers[name] = b
	return b
}

// Lookup returns the breaker for name without creating one.
func (r *Registry) Lookup(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Statuses returns a snapshot of every breaker, sorted by name.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(list))
	for _, b := range list {
		out = append(out, b.Status())
	}
	slices.SortFunc(out, func(a, b Status) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Reset closes the named breaker. Unknown names yield NOT_FOUND.
func (r *Registry) Reset(name string) error {
	b, ok := r.Lookup(name)
	if !ok {
		return apperror.NotFound("circuit breaker", name)
	}
	b.Reset()
	return nil
}
