package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operation is a guarded lifecycle operation on a protected record.
type Operation string

const (
	OpAccess       Operation = "access"
	OpCreation     Operation = "creation"
	OpModification Operation = "modification"
	OpDestruction  Operation = "destruction"
)

func (o Operation) Valid() bool {
	switch o {
	case OpAccess, OpCreation, OpModification, OpDestruction:
		return true
	}
	return false
}

// Kind returns the action kind recorded for o under the given decision.
func (o Operation) Kind(approved bool) ActionKind {
	if approved {
		return ActionKind(o)
	}
	return ActionKind(attemptedPrefix + string(o))
}

// ActionKind is what an Action records: a completed operation or an
// attempted one that was refused.
type ActionKind string

const (
	ActionAccess                ActionKind = "access"
	ActionCreation              ActionKind = "creation"
	ActionModification          ActionKind = "modification"
	ActionDestruction           ActionKind = "destruction"
	ActionAttemptedAccess       ActionKind = "attempted_access"
	ActionAttemptedCreation     ActionKind = "attempted_creation"
	ActionAttemptedModification ActionKind = "attempted_modification"
	ActionAttemptedDestruction  ActionKind = "attempted_destruction"
)

const attemptedPrefix = "attempted_"

// ActionKinds lists every kind in declaration order.
func ActionKinds() []ActionKind {
	return []ActionKind{
		ActionAccess, ActionCreation, ActionModification, ActionDestruction,
		ActionAttemptedAccess, ActionAttemptedCreation, ActionAttemptedModification, ActionAttemptedDestruction,
	}
}

func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("domain.ParseActionKind(%q): %w", s, ErrInvalidAction)
	}
	return k, nil
}

func (k ActionKind) Valid() bool {
	return k.Operation().Valid()
}

// Completed is false for attempted_* kinds.
func (k ActionKind) Completed() bool {
	return len(k) < len(attemptedPrefix) || string(k[:len(attemptedPrefix)]) != attemptedPrefix
}

// Operation strips the attempted_ prefix.
func (k ActionKind) Operation() Operation {
	if k.Completed() {
		return Operation(k)
	}
	return Operation(k[len(attemptedPrefix):])
}

// IsAccess reports whether k records a read, completed or attempted.
func (k ActionKind) IsAccess() bool {
	return k.Operation() == OpAccess
}

// Action is the immutable audit record of one permitted or refused operation.
type Action struct {
	ID          uuid.UUID
	Agent       AgentRef
	Protected   ProtectedRef
	Snapshot    Snapshot
	Kind        ActionKind
	PerformedAt time.Time
	CreatedAt   time.Time
}

// NewAction photographs rec and returns an unsaved Action.
func NewAction(agent Agent, rec Protected, kind ActionKind, performedAt time.Time) (*Action, error) {
	snap, err := TakeSnapshot(rec)
	if err != nil {
		return nil, fmt.Errorf("domain.NewAction: %w", err)
	}
	return &Action{
		Agent:       agent.AgentRef(),
		Protected:   rec.ProtectedRef(),
		Snapshot:    snap,
		Kind:        kind,
		PerformedAt: performedAt,
	}, nil
}

// IsNew reports whether the action has never been written.
func (a *Action) IsNew() bool {
	return a.ID == uuid.Nil && a.CreatedAt.IsZero()
}

// Validate checks the write invariants. A persisted action always fails.
func (a *Action) Validate() error {
	var reasons []string

	if !a.IsNew() {
		reasons = append(reasons, "action cannot be changed")
	}
	if a.Agent.IsZero() {
		reasons = append(reasons, "agent type is required")
	}
	if id, ok := a.Agent.ID(); ok && id == uuid.Nil {
		reasons = append(reasons, "agent id is required for identified agents")
	}
	if a.Protected.Type == "" {
		reasons = append(reasons, "protected type is required")
	}
	if a.Snapshot.IsZero() {
		reasons = append(reasons, "protected attributes are required")
	}
	if a.Kind == "" {
		reasons = append(reasons, "kind is required")
	} else if !a.Kind.Valid() {
		reasons = append(reasons, fmt.Sprintf("kind %q is not a known action kind", a.Kind))
	}
	if a.PerformedAt.IsZero() {
		reasons = append(reasons, "performed_at is required")
	}

	if len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}
	return nil
}

// ActionFilter selects actions. Zero fields do not constrain.
type ActionFilter struct {
	Protected *ProtectedRef
	Agent     *AgentRef
	Kinds     []ActionKind
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}

// ActionRepository is the append-only action log. There is no update path.
type ActionRepository interface {
	InsertOne(ctx context.Context, a *Action) error
	BulkInsert(ctx context.Context, actions []*Action) error
	Get(ctx context.Context, id uuid.UUID) (*Action, error)
	Find(ctx context.Context, f ActionFilter) ([]*Action, error)
	Count(ctx context.Context, f ActionFilter) (int, error)
}
