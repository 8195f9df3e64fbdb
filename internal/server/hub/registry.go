package hub

import (
	"context"
	"sync"
)

// Registry owns the live coordinators, one per identity, creating them
// lazily on first use. Coordinator creation is serialized: journal
// migration state is process-global, so two identities must not migrate
// at once.
type Registry struct {
	hooks Hooks

	mu           sync.Mutex
	coordinators map[IdentityKey]*Coordinator
	closed       bool
}

func NewRegistry(hooks Hooks) *Registry {
	return &Registry{
		hooks:        hooks,
		coordinators: make(map[IdentityKey]*Coordinator),
	}
}

// Get returns the identity's coordinator, starting one if needed.
func (r *Registry) Get(ctx context.Context, key IdentityKey) (*Coordinator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, context.Canceled
	}
	if c, ok := r.coordinators[key]; ok {
		return c, nil
	}
	c, err := newCoordinator(ctx, key, r.hooks, r.drop)
	if err != nil {
		return nil, err
	}
	r.coordinators[key] = c
	return c, nil
}

// Peek returns the coordinator only if it is already running.
func (r *Registry) Peek(key IdentityKey) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coordinators[key]
	return c, ok
}

func (r *Registry) drop(key IdentityKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.coordinators, key)
}

// DestroyIdentity tears down the identity's coordinator and storage. A
// no-op when the coordinator is not running and no storage exists.
func (r *Registry) DestroyIdentity(ctx context.Context, key IdentityKey) error {
	if c, ok := r.Peek(key); ok {
		return c.Destroy(ctx)
	}
	if r.hooks.DestroyStorage != nil {
		return r.hooks.DestroyStorage(ctx, key)
	}
	return nil
}

// Close stops every coordinator without touching storage.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	running := make([]*Coordinator, 0, len(r.coordinators))
	for _, c := range r.coordinators {
		running = append(running, c)
	}
	r.mu.Unlock()
	for _, c := range running {
		c.Stop()
	}
}
