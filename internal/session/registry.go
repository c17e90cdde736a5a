package session

import (
	"context"
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Factory builds the State of one browser session.
type Factory func(browserID string) *State

// Registry holds the live States keyed by browser session id. Evicted States
// are rebuilt from persistence on their next request.
type Registry struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *entry]
	factory Factory
}

type entry struct {
	state *State
	boot  sync.Once
}

// NewRegistry builds a Registry keeping at most size States in memory.
func NewRegistry(size int, factory Factory) (*Registry, error) {
	if factory == nil {
		return nil, errors.New("session: registry factory required")
	}
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, *entry](size)
	if err != nil {
		return nil, err
	}
	return &Registry{entries: cache, factory: factory}, nil
}

// Get returns the State for browserID. The first caller bootstraps it;
// concurrent callers wait for that bootstrap so none of them sees a
// half-restored session.
func (r *Registry) Get(ctx context.Context, browserID string) *State {
	r.mu.Lock()
	e, ok := r.entries.Get(browserID)
	if !ok {
		e = &entry{state: r.factory(browserID)}
		r.entries.Add(browserID, e)
	}
	r.mu.Unlock()

	e.boot.Do(func() {
		e.state.Bootstrap(ctx)
	})
	return e.state
}

// Drop forgets the in-memory State for browserID. Persisted data is untouched.
func (r *Registry) Drop(browserID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries.Remove(browserID)
}

// Len reports how many States are held in memory.
func (r *Registry) Len() int {
	return r.entries.Len()
}
