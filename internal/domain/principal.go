package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Agent kinds stored in the principals table.
const (
	KindUser    = "user"
	KindService = "service"
)

// Roles understood by the note policy and the API.
const (
	RoleAdmin     = "admin"
	RoleClinician = "clinician"
	RoleAuditor   = "auditor"
)

// Principal is a stored, identified agent: a person or a service account.
type Principal struct {
	ID        uuid.UUID `json:"id"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (p *Principal) AgentRef() AgentRef { return IdentifiedAgent(p.Kind, p.ID) }

func (p *Principal) AgentRole() string { return p.Role }

type PrincipalRepository interface {
	Create(ctx context.Context, p *Principal) error
	Get(ctx context.Context, kind string, id uuid.UUID) (*Principal, error)
}
