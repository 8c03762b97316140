package classify

import (
	"sort"
	"sync"
	"sync/atomic"

	"sn-classify/faults"
)

// Registry resolves model identifiers to descriptors. Built-in models are
// fixed at startup. User uploads are published through an atomic snapshot,
// so lookups on the request path never take a lock: readers always see
// either the old or the new complete model set.
type Registry struct {
	builtins map[string]*ModelDescriptor

	mu   sync.Mutex // serializes publishers only
	user atomic.Pointer[map[string]*ModelDescriptor]
}

// NewRegistry creates a registry with the given built-in models.
func NewRegistry(builtins ...*ModelDescriptor) (*Registry, error) {
	r := &Registry{builtins: make(map[string]*ModelDescriptor, len(builtins))}
	for _, d := range builtins {
		if _, dup := r.builtins[d.ID]; dup {
			return nil, faults.New(faults.Configuration, "duplicate built-in model %q", d.ID)
		}
		r.builtins[d.ID] = d
	}
	empty := make(map[string]*ModelDescriptor)
	r.user.Store(&empty)
	return r, nil
}

// Publish makes a user model visible to subsequent lookups. The previous
// snapshot stays valid for in-flight requests.
func (r *Registry) Publish(d *ModelDescriptor) error {
	if _, clash := r.builtins[d.ID]; clash {
		return faults.New(faults.Conflict, "model id %q is reserved for a built-in model", d.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.user.Load()
	if _, dup := current[d.ID]; dup {
		return faults.New(faults.Conflict, "model %q already exists", d.ID)
	}

	next := make(map[string]*ModelDescriptor, len(current)+1)
	for id, m := range current {
		next[id] = m
	}
	next[d.ID] = d
	r.user.Store(&next)
	return nil
}

// Get resolves a model identifier, built-ins first.
func (r *Registry) Get(id string) (*ModelDescriptor, error) {
	if d, ok := r.builtins[id]; ok {
		return d, nil
	}
	if d, ok := (*r.user.Load())[id]; ok {
		return d, nil
	}
	return nil, faults.New(faults.NotFound, "unknown model %q", id)
}

// List returns every registered model, built-ins first, each group sorted
// by identifier.
func (r *Registry) List() []*ModelDescriptor {
	user := *r.user.Load()
	out := make([]*ModelDescriptor, 0, len(r.builtins)+len(user))
	for _, d := range r.builtins {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	uploads := make([]*ModelDescriptor, 0, len(user))
	for _, d := range user {
		uploads = append(uploads, d)
	}
	sort.Slice(uploads, func(i, j int) bool { return uploads[i].ID < uploads[j].ID })

	return append(out, uploads...)
}

// Close releases every user-model backend. Built-ins are closed by their
// owner.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first error
	for _, d := range *r.user.Load() {
		if err := d.Close(); err != nil && first == nil {
			first = err
		}
	}
	empty := make(map[string]*ModelDescriptor)
	r.user.Store(&empty)
	return first
}
