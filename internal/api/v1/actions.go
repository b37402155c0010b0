package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/custos/internal/audit"
	"github.com/gosuda/custos/internal/domain"
	"github.com/gosuda/custos/internal/server/middleware"
)

// ActionFilterParams are the query parameters shared by list and count.
type ActionFilterParams struct {
	ProtectedType string   `query:"protected_type" doc:"Protected record type"`
	ProtectedID   string   `query:"protected_id" format:"uuid" doc:"Protected record id; requires protected_type"`
	Kinds         []string `query:"kind,explode" doc:"Action kinds to include"`
	AgentType     string   `query:"agent_type" doc:"Agent kind"`
	AgentID       string   `query:"agent_id" format:"uuid" doc:"Agent id; omit for singleton agents"`
	Since         string   `query:"since" format:"date-time" doc:"Earliest performed_at, inclusive"`
	Until         string   `query:"until" format:"date-time" doc:"Latest performed_at, exclusive"`
}

type ListActionsInput struct {
	ActionFilterParams
	Limit  int `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Max results"`
	Offset int `query:"offset" minimum:"0" default:"0" doc:"Offset for pagination"`
}

type ListActionsOutput struct {
	Body []ActionBody
}

type CountActionsInput struct {
	ActionFilterParams
}

type CountActionsOutput struct {
	Body struct {
		Count int `json:"count"`
	}
}

type GetActionInput struct {
	ID uuid.UUID `path:"id"`
}

type GetActionOutput struct {
	Body ActionBody
}

type GetActionAgentOutput struct {
	Body AgentBody
}

// AttributeBody is one field of a protected record snapshot.
type AttributeBody struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type ActionBody struct {
	ID            uuid.UUID       `json:"id"`
	AgentType     string          `json:"agent_type"`
	AgentID       *uuid.UUID      `json:"agent_id"`
	ProtectedType string          `json:"protected_type"`
	ProtectedID   *uuid.UUID      `json:"protected_id"`
	Kind          string          `json:"kind"`
	Completed     bool            `json:"completed"`
	Attributes    []AttributeBody `json:"protected_attributes"`
	PerformedAt   time.Time       `json:"performed_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ProtectedBody is a protected record rebuilt from an action.
type ProtectedBody struct {
	Type       string          `json:"type"`
	ID         *uuid.UUID      `json:"id"`
	Attributes []AttributeBody `json:"attributes"`
}

type GetActionProtectedOutput struct {
	Body ProtectedBody
}

type AgentBody struct {
	Type string     `json:"type"`
	ID   *uuid.UUID `json:"id"`
	Name string     `json:"name,omitempty"`
	Role string     `json:"role,omitempty"`
}

func newActionBody(a *domain.Action) (ActionBody, error) {
	body := ActionBody{
		ID:            a.ID,
		AgentType:     a.Agent.Kind(),
		ProtectedType: a.Protected.Type,
		Kind:          string(a.Kind),
		Completed:     a.Kind.Completed(),
		Attributes:    make([]AttributeBody, 0, a.Snapshot.Len()),
		PerformedAt:   a.PerformedAt,
		CreatedAt:     a.CreatedAt,
	}
	if id, ok := a.Agent.ID(); ok {
		body.AgentID = &id
	}
	if a.Protected.ID.Valid {
		id := a.Protected.ID.UUID
		body.ProtectedID = &id
	}
	for _, name := range a.Snapshot.Names() {
		var v any
		if err := a.Snapshot.Decode(name, &v); err != nil {
			return ActionBody{}, err
		}
		body.Attributes = append(body.Attributes, AttributeBody{Name: name, Value: v})
	}
	return body, nil
}

func newAgentBody(a domain.Agent) AgentBody {
	ref := a.AgentRef()
	body := AgentBody{Type: ref.Kind(), Role: domain.RoleOf(a)}
	if id, ok := ref.ID(); ok {
		body.ID = &id
	}
	if p, ok := a.(*domain.Principal); ok {
		body.Name = p.Name
	}
	return body
}

func (p ActionFilterParams) filter() (domain.ActionFilter, error) {
	var f domain.ActionFilter

	if p.ProtectedType != "" {
		ref := domain.ProtectedRef{Type: p.ProtectedType}
		if p.ProtectedID != "" {
			id, err := uuid.Parse(p.ProtectedID)
			if err != nil {
				return f, huma.Error422UnprocessableEntity("invalid protected_id")
			}
			ref = domain.NewProtectedRef(p.ProtectedType, id)
		}
		f.Protected = &ref
	} else if p.ProtectedID != "" {
		return f, huma.Error422UnprocessableEntity("protected_id requires protected_type")
	}

	if p.AgentType != "" {
		ref := domain.SingletonAgent(p.AgentType)
		if p.AgentID != "" {
			id, err := uuid.Parse(p.AgentID)
			if err != nil {
				return f, huma.Error422UnprocessableEntity("invalid agent_id")
			}
			ref = domain.IdentifiedAgent(p.AgentType, id)
		}
		f.Agent = &ref
	} else if p.AgentID != "" {
		return f, huma.Error422UnprocessableEntity("agent_id requires agent_type")
	}

	for _, k := range p.Kinds {
		kind, err := domain.ParseActionKind(k)
		if err != nil {
			return f, huma.Error422UnprocessableEntity("invalid kind: " + k)
		}
		f.Kinds = append(f.Kinds, kind)
	}

	var err error
	if f.Since, err = parseTime(p.Since); err != nil {
		return f, huma.Error422UnprocessableEntity("invalid since")
	}
	if f.Until, err = parseTime(p.Until); err != nil {
		return f, huma.Error422UnprocessableEntity("invalid until")
	}

	return f, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func requireAuditor(ctx context.Context) error {
	role, ok := middleware.RoleFromContext(ctx)
	if !ok || (role != domain.RoleAdmin && role != domain.RoleAuditor) {
		return huma.Error403Forbidden("auditor or admin role required")
	}
	return nil
}

func RegisterActionRoutes(api huma.API, store DataStore, agents AgentResolver) {
	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/actions",
		Summary:     "List recorded actions, most recent first",
		Tags:        []string{"Actions"},
	}, func(ctx context.Context, input *ListActionsInput) (*ListActionsOutput, error) {
		if err := requireAuditor(ctx); err != nil {
			return nil, err
		}

		f, err := input.filter()
		if err != nil {
			return nil, err
		}
		f.Limit = input.Limit
		f.Offset = input.Offset

		actions, err := store.Actions().Find(ctx, f)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list actions", err)
		}

		out := &ListActionsOutput{Body: make([]ActionBody, 0, len(actions))}
		for _, a := range actions {
			body, err := newActionBody(a)
			if err != nil {
				return nil, huma.Error500InternalServerError("failed to render action", err)
			}
			out.Body = append(out.Body, body)
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "count-actions",
		Method:      http.MethodGet,
		Path:        "/actions/count",
		Summary:     "Count recorded actions",
		Tags:        []string{"Actions"},
	}, func(ctx context.Context, input *CountActionsInput) (*CountActionsOutput, error) {
		if err := requireAuditor(ctx); err != nil {
			return nil, err
		}

		f, err := input.filter()
		if err != nil {
			return nil, err
		}

		n, err := store.Actions().Count(ctx, f)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to count actions", err)
		}

		out := &CountActionsOutput{}
		out.Body.Count = n
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-action",
		Method:      http.MethodGet,
		Path:        "/actions/{id}",
		Summary:     "Get a recorded action",
		Tags:        []string{"Actions"},
	}, func(ctx context.Context, input *GetActionInput) (*GetActionOutput, error) {
		if err := requireAuditor(ctx); err != nil {
			return nil, err
		}

		a, err := store.Actions().Get(ctx, input.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error404NotFound("action not found")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get action", err)
		}

		body, err := newActionBody(a)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to render action", err)
		}
		return &GetActionOutput{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-action-agent",
		Method:      http.MethodGet,
		Path:        "/actions/{id}/agent",
		Summary:     "Resolve the agent responsible for an action",
		Tags:        []string{"Actions"},
	}, func(ctx context.Context, input *GetActionInput) (*GetActionAgentOutput, error) {
		if err := requireAuditor(ctx); err != nil {
			return nil, err
		}

		a, err := store.Actions().Get(ctx, input.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error404NotFound("action not found")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get action", err)
		}

		agent, err := agents.Resolve(ctx, a.Agent)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error404NotFound("agent no longer exists")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to resolve agent", err)
		}

		return &GetActionAgentOutput{Body: newAgentBody(agent)}, nil
	})
}


func newProtectedBody(rec domain.Protected) ProtectedBody {
	ref := rec.ProtectedRef()
	attrs := rec.Attributes()
	body := ProtectedBody{
		Type:       ref.Type,
		Attributes: make([]AttributeBody, 0, len(attrs)),
	}
	if ref.ID.Valid {
		id := ref.ID.UUID
		body.ID = &id
	}
	for _, a := range attrs {
		body.Attributes = append(body.Attributes, AttributeBody{Name: a.Name, Value: a.Value})
	}
	return body
}

// RegisterProtectedRoute serves the record an action was taken on, as the
// action saw it.
func RegisterProtectedRoute(api huma.API, store DataStore, records RecordResolver) {
	huma.Register(api, huma.Operation{
		OperationID: "get-action-protected",
		Method:      http.MethodGet,
		Path:        "/actions/{id}/protected",
		Summary:     "Rebuild the protected record of an action",
		Tags:        []string{"Actions"},
	}, func(ctx context.Context, input *GetActionInput) (*GetActionProtectedOutput, error) {
		if err := requireAuditor(ctx); err != nil {
			return nil, err
		}

		a, err := store.Actions().Get(ctx, input.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error404NotFound("action not found")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get action", err)
		}

		rec, err := records.Protected(ctx, a)
		if errors.Is(err, audit.ErrUnknownRecordType) {
			return nil, huma.Error404NotFound("protected record type is not served")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to rebuild protected record", err)
		}

		return &GetActionProtectedOutput{Body: newProtectedBody(rec)}, nil
	})
}
