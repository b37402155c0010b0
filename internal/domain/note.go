package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const NoteType = "note"

// Sensitivity levels for notes.
const (
	SensitivityNormal     = "normal"
	SensitivityRestricted = "restricted"
)

// Note is a clinical note about a patient. It is the protected record type
// served over the API.
type Note struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patient_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Sensitivity string    `json:"sensitivity"` // "normal" or "restricted"
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (n *Note) ProtectedRef() ProtectedRef {
	return NewProtectedRef(NoteType, n.ID)
}

func (n *Note) Attributes() []Attribute {
	return []Attribute{
		{Name: "id", Value: nullableID(n.ID)},
		{Name: "patient_id", Value: nullableID(n.PatientID)},
		{Name: "title", Value: n.Title},
		{Name: "body", Value: n.Body},
		{Name: "sensitivity", Value: n.Sensitivity},
		{Name: "created_at", Value: nullableTime(n.CreatedAt)},
		{Name: "updated_at", Value: nullableTime(n.UpdatedAt)},
	}
}

// Assign sets one writable field. Unknown and read-only fields are errors.
func (n *Note) Assign(field string, value any) error {
	switch field {
	case "title":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("note.Assign(%q): want string, got %T: %w", field, value, ErrConflict)
		}
		n.Title = s
	case "body":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("note.Assign(%q): want string, got %T: %w", field, value, ErrConflict)
		}
		n.Body = s
	case "sensitivity":
		s, ok := value.(string)
		if !ok || (s != SensitivityNormal && s != SensitivityRestricted) {
			return fmt.Errorf("note.Assign(%q): invalid sensitivity %v: %w", field, value, ErrConflict)
		}
		n.Sensitivity = s
	case "patient_id":
		id, err := asUUID(value)
		if err != nil {
			return fmt.Errorf("note.Assign(%q): %w", field, err)
		}
		n.PatientID = id
	default:
		return fmt.Errorf("note.Assign(%q): unknown field: %w", field, ErrConflict)
	}
	return nil
}

func (n *Note) Restore(s Snapshot) error {
	for _, name := range s.Names() {
		var err error
		switch name {
		case "id":
			err = restoreID(s, name, &n.ID)
		case "patient_id":
			err = restoreID(s, name, &n.PatientID)
		case "title":
			err = s.Decode(name, &n.Title)
		case "body":
			err = s.Decode(name, &n.Body)
		case "sensitivity":
			err = s.Decode(name, &n.Sensitivity)
		case "created_at":
			err = restoreTime(s, name, &n.CreatedAt)
		case "updated_at":
			err = restoreTime(s, name, &n.UpdatedAt)
		}
		if err != nil {
			return fmt.Errorf("note.Restore(%q): %w", name, err)
		}
	}
	return nil
}

// NoteRepository is the persistence engine for notes.
type NoteRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Note, error)
	List(ctx context.Context, limit, offset int) ([]*Note, error)
	Insert(ctx context.Context, n *Note) error
	Update(ctx context.Context, n *Note) error
	Delete(ctx context.Context, n *Note) error
}

func nullableID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func asUUID(v any) (uuid.UUID, error) {
	switch x := v.(type) {
	case uuid.UUID:
		return x, nil
	case string:
		id, err := uuid.Parse(x)
		if err != nil {
			return uuid.Nil, fmt.Errorf("parse uuid: %w", ErrConflict)
		}
		return id, nil
	}
	return uuid.Nil, fmt.Errorf("want uuid, got %T: %w", v, ErrConflict)
}

// restoreID decodes a nullable id. JSON null restores uuid.Nil.
func restoreID(s Snapshot, name string, dst *uuid.UUID) error {
	var id *uuid.UUID
	if err := s.Decode(name, &id); err != nil {
		return err
	}
	*dst = uuid.Nil
	if id != nil {
		*dst = *id
	}
	return nil
}

func restoreTime(s Snapshot, name string, dst *time.Time) error {
	var t *time.Time
	if err := s.Decode(name, &t); err != nil {
		return err
	}
	*dst = time.Time{}
	if t != nil {
		*dst = *t
	}
	return nil
}
