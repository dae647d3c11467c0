// Package providers holds the speech-backend registry and its concrete
// implementations in subpackages.
package providers

import (
	"fmt"
	"sync"

	"github.com/joeyzenghuan/OpenTypeless/internal/domain"
	"github.com/joeyzenghuan/OpenTypeless/internal/ports"
)

// Registry maps backend ids to instances and knows which backend is the
// guaranteed-available substitution target.
type Registry struct {
	mu         sync.RWMutex
	backends   map[string]ports.SpeechBackend
	order      []string
	fallbackID string
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]ports.SpeechBackend)}
}

// Register adds a backend under its descriptor id.
func (r *Registry) Register(backend ports.SpeechBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := backend.Descriptor().ID
	if _, exists := r.backends[id]; !exists {
		r.order = append(r.order, id)
	}
	r.backends[id] = backend
}

// SetFallback marks the substitution target. The fallback backend must
// report available unconditionally.
func (r *Registry) SetFallback(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[id]; !ok {
		return fmt.Errorf("fallback backend %q is not registered", id)
	}
	r.fallbackID = id
	return nil
}

// Get returns a backend by id.
func (r *Registry) Get(id string) (ports.SpeechBackend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	backend, ok := r.backends[id]
	return backend, ok
}

// Resolve returns the backend for id, substituting the fallback when the
// requested backend is unknown or unavailable. The second return reports
// whether substitution happened.
func (r *Registry) Resolve(id string) (ports.SpeechBackend, bool, error) {
	r.mu.RLock()
	requested, ok := r.backends[id]
	fallback := r.backends[r.fallbackID]
	r.mu.RUnlock()

	if ok && requested.IsAvailable() {
		return requested, false, nil
	}
	if fallback == nil {
		return nil, false, domain.NewFailure(domain.KindBackendUnavailable,
			fmt.Sprintf("backend %q unavailable and no fallback registered", id), nil)
	}
	return fallback, true, nil
}

// Descriptors lists registered backends in registration order.
func (r *Registry) Descriptors() []domain.BackendDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.BackendDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.backends[id].Descriptor())
	}
	return out
}
