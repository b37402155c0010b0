package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/gosuda/custos/internal/domain"
)

// ErrUnknownAgent is returned when a reference names a kind nobody registered.
var ErrUnknownAgent = errors.New("agent: unknown agent kind") //nolint:gochecknoglobals // sentinel error

// Loader fetches an identified agent of one kind.
type Loader func(ctx context.Context, id uuid.UUID) (domain.Agent, error)

// Registry resolves agent references. Singleton kinds resolve to their one
// instance without calling any loader.
type Registry struct {
	mu         sync.RWMutex
	loaders    map[string]Loader
	singletons map[string]domain.Agent
}

// NewRegistry returns a registry that already knows the anonymous agent.
func NewRegistry() *Registry {
	r := &Registry{
		loaders:    make(map[string]Loader),
		singletons: make(map[string]domain.Agent),
	}
	r.singletons[AnonymousKind] = Anonymous
	return r
}

// Register adds a loader for an identified agent kind.
func (r *Registry) Register(kind string, loader Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[kind] = loader
}

// RegisterSingleton adds a singleton agent under its own kind.
func (r *Registry) RegisterSingleton(a domain.Agent) error {
	ref := a.AgentRef()
	if !ref.IsSingleton() {
		return fmt.Errorf("agent.Registry.RegisterSingleton(%q): reference carries an id", ref.Kind())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.singletons[ref.Kind()] = a
	return nil
}

// Resolve returns the agent a reference points at.
func (r *Registry) Resolve(ctx context.Context, ref domain.AgentRef) (domain.Agent, error) {
	id, identified := ref.ID()

	r.mu.RLock()
	single, isSingleton := r.singletons[ref.Kind()]
	loader, hasLoader := r.loaders[ref.Kind()]
	r.mu.RUnlock()

	if !identified {
		if !isSingleton {
			return nil, fmt.Errorf("agent.Registry.Resolve(%q): %w", ref.Kind(), ErrUnknownAgent)
		}
		return single, nil
	}

	if !hasLoader {
		return nil, fmt.Errorf("agent.Registry.Resolve(%q): %w", ref.Kind(), ErrUnknownAgent)
	}

	a, err := loader(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("agent.Registry.Resolve(%q): %w", ref, err)
	}

	return a, nil
}

// Known reports whether kind is registered in either form.
func (r *Registry) Known(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, a := r.loaders[kind]
	_, b := r.singletons[kind]
	return a || b
}

// Kinds returns registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := slices.Collect(func(yield func(string) bool) {
		for name := range r.loaders {
			if !yield(name) {
				return
			}
		}
		for name := range r.singletons {
			if _, dup := r.loaders[name]; dup {
				continue
			}
			if !yield(name) {
				return
			}
		}
	})
	sort.Strings(names)

	return names
}
