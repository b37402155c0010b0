package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/custos/internal/domain"
)

// DataStore abstracts the repository accessor pattern for handler testing.
// *postgres.Store satisfies this interface.
type DataStore interface {
	Actions() domain.ActionRepository
}

// AgentResolver resolves the agent recorded on an action.
// *agent.Registry satisfies this interface.
type AgentResolver interface {
	Resolve(ctx context.Context, ref domain.AgentRef) (domain.Agent, error)
}

// RecordResolver rebuilds the protected record an action was taken on.
// *audit.Rebuilder satisfies this interface.
type RecordResolver interface {
	Protected(ctx context.Context, a *domain.Action) (domain.Restorable, error)
}

// NoteService is the guarded note surface. Every call is authorized and
// recorded for the current agent of ctx.
// *gate.Guard[*domain.Note] satisfies this interface.
type NoteService interface {
	Find(ctx context.Context, id uuid.UUID) (*domain.Note, error)
	Scoped(ctx context.Context, limit int) ([]*domain.Note, error)
	Create(ctx context.Context, candidate *domain.Note, attrs map[string]any) error
	Update(ctx context.Context, rec *domain.Note, attrs map[string]any) error
	Destroy(ctx context.Context, rec *domain.Note) error
}
