package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type ProviderFactory func(ctx context.Context) (Provider, error)

// Registry binds provider slots to backends.
type Registry struct {
	mu        sync.RWMutex
	factories map[ProviderID]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[ProviderID]ProviderFactory)}
}

func normalizeID(id ProviderID) ProviderID {
	return ProviderID(strings.ToLower(strings.TrimSpace(string(id))))
}

func (r *Registry) Register(id ProviderID, f ProviderFactory) {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
}

// RegisterProvider binds a ready instance to a slot.
func (r *Registry) RegisterProvider(id ProviderID, p Provider) {
	r.Register(id, func(context.Context) (Provider, error) { return p, nil })
}

func (r *Registry) Get(ctx context.Context, id ProviderID) (Provider, error) {
	id = normalizeID(id)
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", id)
	}
	return f(ctx)
}
