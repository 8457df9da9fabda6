// Package lock provides the per-project single-flight gate for build pipelines.
package lock

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrBusy is returned when the key's permit is already held.
	ErrBusy = errors.New("build already in progress")
	// ErrUnknownKey is returned for a key the registry was not built with.
	ErrUnknownKey = errors.New("no build lock registered")
)

// Registry maps each key to a binary semaphore. The key set is fixed at construction,
// so lookups need no locking.
type Registry struct {
	sems map[string]chan struct{}
}

// NewRegistry creates one semaphore per key.
func NewRegistry(keys []string) *Registry {
	sems := make(map[string]chan struct{}, len(keys))
	for _, k := range keys {
		sems[k] = make(chan struct{}, 1)
	}
	return &Registry{sems: sems}
}

// TryAcquire takes the key's permit without waiting. It returns ErrBusy when the
// permit is held and ErrUnknownKey when no semaphore exists for key.
func (r *Registry) TryAcquire(key string) (*Permit, error) {
	sem, ok := r.sems[key]
	if !ok {
		return nil, fmt.Errorf("%w for %q", ErrUnknownKey, key)
	}
	select {
	case sem <- struct{}{}:
		return &Permit{key: key, sem: sem}, nil
	default:
		return nil, fmt.Errorf("%w for %q", ErrBusy, key)
	}
}

// Held reports whether the key's permit is currently taken.
func (r *Registry) Held(key string) bool {
	sem, ok := r.sems[key]
	return ok && len(sem) == 1
}

// Permit is a held semaphore slot. Release is safe to call more than once.
type Permit struct {
	key  string
	sem  chan struct{}
	once sync.Once
}

// Key returns the key the permit was acquired for.
func (p *Permit) Key() string {
	return p.key
}

// Release frees the slot; only the first call has an effect.
func (p *Permit) Release() {
	p.once.Do(func() {
		<-p.sem
	})
}
