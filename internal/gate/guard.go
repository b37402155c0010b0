package gate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/custos/internal/accountability"
	"github.com/gosuda/custos/internal/domain"
)

// Record is a protected record that accepts permitted attributes.
type Record interface {
	domain.Protected
	domain.Assignable
}

// Policy answers the three authorization questions for records of type R.
type Policy[R Record] interface {
	Authorize(ctx context.Context, a domain.Agent, rec R, op domain.Operation) (bool, error)
	PermittedAttributes(ctx context.Context, a domain.Agent, rec R) ([]string, error)
	// Scope returns the predicate selecting the records a may read.
	Scope(ctx context.Context, a domain.Agent) (func(R) bool, error)
}

// Repository persists records of type R. Every method must honour the unit
// of work carried by ctx.
type Repository[R Record] interface {
	Get(ctx context.Context, id uuid.UUID) (R, error)
	// List returns up to limit records after skipping offset, in a stable
	// order.
	List(ctx context.Context, limit, offset int) ([]R, error)
	Insert(ctx context.Context, rec R) error
	Update(ctx context.Context, rec R) error
	Delete(ctx context.Context, rec R) error
}

// Guard puts a repository behind the gate. Every method acts as the current
// agent of its context.
type Guard[R Record] struct {
	gate   *Gate
	repo   Repository[R]
	policy Policy[R]
}

func Protect[R Record](g *Gate, repo Repository[R], policy Policy[R]) *Guard[R] {
	return &Guard[R]{gate: g, repo: repo, policy: policy}
}

// Find loads a record and enforces access on it. A missing record is
// returned as domain.ErrNotFound and is not audited.
func (g *Guard[R]) Find(ctx context.Context, id uuid.UUID) (R, error) {
	var zero R

	rec, err := g.repo.Get(ctx, id)
	if err != nil {
		return zero, err
	}

	if err := g.gate.Enforce(ctx, rec, domain.OpAccess, g.authorize, nil); err != nil {
		return zero, err
	}
	return rec, nil
}

// Scoped lists up to limit records the current agent may read. The scope
// filters before the limit applies: pages are read until limit records are
// in scope or the repository runs out. Records the scope excludes are never
// loaded into the result and leave no action.
func (g *Guard[R]) Scoped(ctx context.Context, limit int) ([]R, error) {
	a := accountability.Current(ctx)

	inScope, err := g.policy.Scope(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("gate.Guard.Scoped: scope: %w", err)
	}

	var (
		recs      []R
		protected []domain.Protected
	)
	for offset := 0; len(recs) < limit; {
		page, err := g.repo.List(ctx, limit, offset)
		if err != nil {
			return nil, err
		}

		for _, rec := range page {
			if len(recs) < limit && inScope(rec) {
				recs = append(recs, rec)
				protected = append(protected, rec)
			}
		}

		if len(page) < limit {
			break
		}
		offset += len(page)
	}

	if _, err := g.gate.EnforceAll(ctx, protected, g.authorize); err != nil {
		return nil, err
	}
	return recs, nil
}

// Create assigns the permitted attrs to candidate, authorizes the result,
// and inserts it.
func (g *Guard[R]) Create(ctx context.Context, candidate R, attrs map[string]any) error {
	a := accountability.Current(ctx)

	allowed, permErr := g.policy.PermittedAttributes(ctx, a, candidate)
	if permErr == nil {
		if err := g.permit(candidate, attrs, allowed); err != nil {
			return err
		}
	}

	return g.gate.Enforce(ctx, candidate, domain.OpCreation, g.refuseOn(permErr),
		func(ctx context.Context) error {
			return g.repo.Insert(ctx, candidate)
		})
}

// Update authorizes against the persisted state of rec, then assigns the
// permitted attrs and saves it.
func (g *Guard[R]) Update(ctx context.Context, rec R, attrs map[string]any) error {
	a := accountability.Current(ctx)

	allowed, permErr := g.policy.PermittedAttributes(ctx, a, rec)

	return g.gate.Enforce(ctx, rec, domain.OpModification, g.refuseOn(permErr),
		func(ctx context.Context) error {
			if err := g.permit(rec, attrs, allowed); err != nil {
				return err
			}
			return g.repo.Update(ctx, rec)
		})
}

func (g *Guard[R]) Destroy(ctx context.Context, rec R) error {
	return g.gate.Enforce(ctx, rec, domain.OpDestruction, g.authorize,
		func(ctx context.Context) error {
			return g.repo.Delete(ctx, rec)
		})
}

func (g *Guard[R]) authorize(ctx context.Context, a domain.Agent, rec domain.Protected, op domain.Operation) (bool, error) {
	r, ok := rec.(R)
	if !ok {
		return false, fmt.Errorf("gate.Guard: unexpected record %T", rec)
	}
	return g.policy.Authorize(ctx, a, r, op)
}

// refuseOn turns a failed permitted-attributes lookup into a refusal.
func (g *Guard[R]) refuseOn(permErr error) Authorizer {
	if permErr == nil {
		return g.authorize
	}
	return func(context.Context, domain.Agent, domain.Protected, domain.Operation) (bool, error) {
		return false, fmt.Errorf("permitted attributes: %w", permErr)
	}
}

func (g *Guard[R]) permit(rec R, attrs map[string]any, allowed []string) error {
	dropped, err := Permit(rec, attrs, allowed)
	if err != nil {
		return err
	}
	if len(dropped) > 0 {
		log.Debug().
			Str("protected", rec.ProtectedRef().String()).
			Strs("dropped", dropped).
			Msg("gate: unpermitted attributes dropped")
	}
	return nil
}
