// Package policy holds the authorization rules for protected record types.
package policy

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/custos/internal/domain"
)

// NotePolicy is role based:
//
//   - admin may do anything to any note.
//   - clinician may read, create and modify notes that are not restricted.
//   - auditor may read notes that are not restricted.
//   - every other agent, anonymous included, may do nothing.
type NotePolicy struct{}

func NewNotePolicy() *NotePolicy { return &NotePolicy{} }

func (p *NotePolicy) Authorize(_ context.Context, a domain.Agent, n *domain.Note, op domain.Operation) (bool, error) {
	switch domain.RoleOf(a) {
	case domain.RoleAdmin:
		return true, nil
	case domain.RoleClinician:
		if restricted(n) {
			return false, nil
		}
		return op != domain.OpDestruction, nil
	case domain.RoleAuditor:
		return op == domain.OpAccess && !restricted(n), nil
	}
	return false, nil
}

// PermittedAttributes lists the fields a may assign on n. A clinician may
// set the patient only when creating a note.
func (p *NotePolicy) PermittedAttributes(_ context.Context, a domain.Agent, n *domain.Note) ([]string, error) {
	switch domain.RoleOf(a) {
	case domain.RoleAdmin:
		return []string{"patient_id", "title", "body", "sensitivity"}, nil
	case domain.RoleClinician:
		if n.ID == uuid.Nil {
			return []string{"patient_id", "title", "body"}, nil
		}
		return []string{"title", "body"}, nil
	}
	return nil, nil
}

func (p *NotePolicy) Scope(_ context.Context, a domain.Agent) (func(*domain.Note) bool, error) {
	switch domain.RoleOf(a) {
	case domain.RoleAdmin:
		return func(*domain.Note) bool { return true }, nil
	case domain.RoleClinician, domain.RoleAuditor:
		return func(n *domain.Note) bool { return !restricted(n) }, nil
	}
	return func(*domain.Note) bool { return false }, nil
}

func restricted(n *domain.Note) bool {
	return n.Sensitivity == domain.SensitivityRestricted
}
