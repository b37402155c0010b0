package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/custos/internal/domain"
)

// NoteFields carries the writable note attributes. Absent fields are left
// untouched; fields the caller may not set are dropped by the guard.
type NoteFields struct {
	PatientID   *uuid.UUID `json:"patient_id,omitempty" doc:"Patient ID"`
	Title       *string    `json:"title,omitempty" maxLength:"500" doc:"Note title"`
	Body        *string    `json:"body,omitempty" doc:"Note body"`
	Sensitivity *string    `json:"sensitivity,omitempty" enum:"normal,restricted" doc:"Note sensitivity"`
}

func (f NoteFields) attrs() map[string]any {
	attrs := make(map[string]any, 4)
	if f.PatientID != nil {
		attrs["patient_id"] = *f.PatientID
	}
	if f.Title != nil {
		attrs["title"] = *f.Title
	}
	if f.Body != nil {
		attrs["body"] = *f.Body
	}
	if f.Sensitivity != nil {
		attrs["sensitivity"] = *f.Sensitivity
	}
	return attrs
}

type ListNotesInput struct {
	Limit int `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Max results"`
}

type ListNotesOutput struct {
	Body []*domain.Note
}

type NoteIDInput struct {
	ID uuid.UUID `path:"id" doc:"Note ID"`
}

type NoteOutput struct {
	Body *domain.Note
}

type CreateNoteInput struct {
	Body NoteFields
}

type UpdateNoteInput struct {
	ID   uuid.UUID `path:"id" doc:"Note ID"`
	Body NoteFields
}

func RegisterNoteRoutes(api huma.API, notes NoteService) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notes",
		Method:      http.MethodGet,
		Path:        "/notes",
		Summary:     "List the notes the caller may read",
		Tags:        []string{"Notes"},
	}, func(ctx context.Context, input *ListNotesInput) (*ListNotesOutput, error) {
		list, err := notes.Scoped(ctx, input.Limit)
		if err != nil {
			return nil, guardError("failed to list notes", err)
		}
		if list == nil {
			list = []*domain.Note{}
		}
		return &ListNotesOutput{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-note",
		Method:      http.MethodGet,
		Path:        "/notes/{id}",
		Summary:     "Get a note",
		Tags:        []string{"Notes"},
	}, func(ctx context.Context, input *NoteIDInput) (*NoteOutput, error) {
		n, err := notes.Find(ctx, input.ID)
		if err != nil {
			return nil, guardError("failed to get note", err)
		}
		return &NoteOutput{Body: n}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-note",
		Method:        http.MethodPost,
		Path:          "/notes",
		Summary:       "Create a note",
		Tags:          []string{"Notes"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateNoteInput) (*NoteOutput, error) {
		n := &domain.Note{Sensitivity: domain.SensitivityNormal}
		if err := notes.Create(ctx, n, input.Body.attrs()); err != nil {
			return nil, guardError("failed to create note", err)
		}
		return &NoteOutput{Body: n}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-note",
		Method:      http.MethodPatch,
		Path:        "/notes/{id}",
		Summary:     "Update a note",
		Tags:        []string{"Notes"},
	}, func(ctx context.Context, input *UpdateNoteInput) (*NoteOutput, error) {
		n, err := notes.Find(ctx, input.ID)
		if err != nil {
			return nil, guardError("failed to get note", err)
		}
		if err := notes.Update(ctx, n, input.Body.attrs()); err != nil {
			return nil, guardError("failed to update note", err)
		}
		return &NoteOutput{Body: n}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-note",
		Method:        http.MethodDelete,
		Path:          "/notes/{id}",
		Summary:       "Delete a note",
		Tags:          []string{"Notes"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *NoteIDInput) (*struct{}, error) {
		n, err := notes.Find(ctx, input.ID)
		if err != nil {
			return nil, guardError("failed to get note", err)
		}
		if err := notes.Destroy(ctx, n); err != nil {
			return nil, guardError("failed to delete note", err)
		}
		return nil, nil
	})
}
