// Package reference lets calls point at arbitrary business records without
// the correlator knowing their concrete types. Business-entity adapters
// register a lookup per model name; the correlator sees only the
// Referenceable capability.
package reference

import (
	"context"
	"fmt"
	"sync"
)

// Referenceable is the capability a business record must offer to be
// attached to a call.
type Referenceable interface {
	GetDisplayName() string
	// GetOwningPartnerID returns the contact behind the record, or 0.
	GetOwningPartnerID() int64
}

// Lookup loads one record of a registered model by id.
type Lookup func(ctx context.Context, id int64) (Referenceable, error)

// Registry holds the registered model adapters.
type Registry struct {
	mu      sync.RWMutex
	lookups map[string]Lookup
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{lookups: make(map[string]Lookup)}
}

// Register adds an adapter for a model name. Later registrations replace
// earlier ones.
func (r *Registry) Register(model string, fn Lookup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups[model] = fn
}

// Resolve loads the referenced record. Unknown models are an error, a known
// model with a missing record returns (nil, nil).
func (r *Registry) Resolve(ctx context.Context, model string, id int64) (Referenceable, error) {
	r.mu.RLock()
	fn, ok := r.lookups[model]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no adapter registered for model %q", model)
	}
	return fn(ctx, id)
}

// Models returns the registered model names.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	models := make([]string, 0, len(r.lookups))
	for m := range r.lookups {
		models = append(models, m)
	}
	return models
}
