package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Agent is anything that can be held responsible for an action.
type Agent interface {
	AgentRef() AgentRef
}

// Roled is implemented by agents that carry an authorization role.
type Roled interface {
	AgentRole() string
}

// RoleOf returns the role of the agent, or "" when it has none.
func RoleOf(a Agent) string {
	if r, ok := a.(Roled); ok {
		return r.AgentRole()
	}
	return ""
}

// AgentRef points at an agent. It is either a singleton of a kind (no id,
// resolved to a process-wide instance) or an identified entity of a kind.
type AgentRef struct {
	kind       string
	id         uuid.UUID
	identified bool
}

func SingletonAgent(kind string) AgentRef {
	return AgentRef{kind: kind}
}

func IdentifiedAgent(kind string, id uuid.UUID) AgentRef {
	return AgentRef{kind: kind, id: id, identified: true}
}

func (r AgentRef) Kind() string { return r.kind }

// ID returns the agent id and false for singleton agents.
func (r AgentRef) ID() (uuid.UUID, bool) { return r.id, r.identified }

func (r AgentRef) IsSingleton() bool { return !r.identified }

func (r AgentRef) IsZero() bool { return r.kind == "" }

func (r AgentRef) String() string {
	if !r.identified {
		return r.kind
	}
	return r.kind + ":" + r.id.String()
}

type refJSON struct {
	Type string     `json:"type"`
	ID   *uuid.UUID `json:"id"`
}

func (r AgentRef) MarshalJSON() ([]byte, error) {
	out := refJSON{Type: r.kind}
	if r.identified {
		id := r.id
		out.ID = &id
	}
	return json.Marshal(out)
}

func (r *AgentRef) UnmarshalJSON(data []byte) error {
	var in refJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("domain.AgentRef: %w", err)
	}
	if in.ID == nil {
		*r = SingletonAgent(in.Type)
		return nil
	}
	*r = IdentifiedAgent(in.Type, *in.ID)
	return nil
}

// ProtectedRef points at a protected record. ID is invalid only for a
// candidate that has not been persisted yet.
type ProtectedRef struct {
	Type string        `json:"type"`
	ID   uuid.NullUUID `json:"id"`
}

func NewProtectedRef(typ string, id uuid.UUID) ProtectedRef {
	return ProtectedRef{Type: typ, ID: uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}}
}

func (r ProtectedRef) String() string {
	if !r.ID.Valid {
		return r.Type + ":new"
	}
	return r.Type + ":" + r.ID.UUID.String()
}

// Protected is a record whose reads and writes are guarded and audited.
// Attributes returns the persisted columns in a stable order.
type Protected interface {
	ProtectedRef() ProtectedRef
	Attributes() []Attribute
}

// Assignable records accept permitted attributes one field at a time.
type Assignable interface {
	Assign(field string, value any) error
}

// Restorable records can be rebuilt from a snapshot of their attributes.
type Restorable interface {
	Protected
	// Restore overwrites the fields named in s. Names the record does not
	// know are skipped.
	Restore(s Snapshot) error
}

// Attribute is one named column value of a protected record.
type Attribute struct {
	Name  string
	Value any
}
