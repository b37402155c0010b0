package agent

import (
	"context"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/gosuda/custos/internal/domain"
)

// Cached wraps loader with an expiring LRU keyed by agent id. Errors are
// not cached.
func Cached(loader Loader, size int, ttl time.Duration) Loader {
	if size <= 0 {
		return loader
	}
	cache := lru.NewLRU[uuid.UUID, domain.Agent](size, nil, ttl)

	return func(ctx context.Context, id uuid.UUID) (domain.Agent, error) {
		if a, ok := cache.Get(id); ok {
			return a, nil
		}
		a, err := loader(ctx, id)
		if err != nil {
			return nil, err
		}
		cache.Add(id, a)
		return a, nil
	}
}

// PrincipalLoader loads principals of one kind from repo.
func PrincipalLoader(repo domain.PrincipalRepository, kind string) Loader {
	return func(ctx context.Context, id uuid.UUID) (domain.Agent, error) {
		p, err := repo.Get(ctx, kind, id)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
