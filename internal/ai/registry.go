package ai

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

var ErrUnknownProvider = errors.New("unknown inference provider")

// ProviderFactory builds a provider. An empty model selects the provider's default.
type ProviderFactory func(ctx context.Context, model string) (Provider, error)

// Registry maps AI_PROVIDER names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register panics on an empty or duplicate name, like database/sql.Register.
func (r *Registry) Register(name string, f ProviderFactory) {
	key := providerKey(name)
	if key == "" || f == nil {
		panic("ai: Register called with empty name or nil factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[key]; dup {
		panic("ai: provider registered twice: " + key)
	}
	r.factories[key] = f
}

// Build constructs the named provider.
func (r *Registry) Build(ctx context.Context, name, model string) (Provider, error) {
	key := providerKey(name)
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	p, err := f(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("build %s provider: %w", key, err)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}
