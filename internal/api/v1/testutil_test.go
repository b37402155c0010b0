package v1_test

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/custos/internal/accountability"
	"github.com/gosuda/custos/internal/domain"
)

// ---------------------------------------------------------------------------
// Context helpers: push an agent for DoCtx
// ---------------------------------------------------------------------------

func principal(role string) *domain.Principal {
	return &domain.Principal{ID: uuid.New(), Kind: domain.KindUser, Name: "pat", Role: role}
}

func agentCtx(a domain.Agent) context.Context {
	return accountability.Push(context.Background(), a)
}

func roleCtx(role string) context.Context {
	return agentCtx(principal(role))
}

// ---------------------------------------------------------------------------
// Mock DataStore
// ---------------------------------------------------------------------------

type mockDataStore struct {
	actions domain.ActionRepository
}

func (m *mockDataStore) Actions() domain.ActionRepository { return m.actions }

// ---------------------------------------------------------------------------
// Mock ActionRepository
// ---------------------------------------------------------------------------

type mockActionRepo struct {
	insertOneFunc  func(ctx context.Context, a *domain.Action) error
	bulkInsertFunc func(ctx context.Context, actions []*domain.Action) error
	getFunc        func(ctx context.Context, id uuid.UUID) (*domain.Action, error)
	findFunc       func(ctx context.Context, f domain.ActionFilter) ([]*domain.Action, error)
	countFunc      func(ctx context.Context, f domain.ActionFilter) (int, error)
}

func (m *mockActionRepo) InsertOne(ctx context.Context, a *domain.Action) error {
	return m.insertOneFunc(ctx, a)
}

func (m *mockActionRepo) BulkInsert(ctx context.Context, actions []*domain.Action) error {
	return m.bulkInsertFunc(ctx, actions)
}

func (m *mockActionRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Action, error) {
	return m.getFunc(ctx, id)
}

func (m *mockActionRepo) Find(ctx context.Context, f domain.ActionFilter) ([]*domain.Action, error) {
	return m.findFunc(ctx, f)
}

func (m *mockActionRepo) Count(ctx context.Context, f domain.ActionFilter) (int, error) {
	return m.countFunc(ctx, f)
}

// ---------------------------------------------------------------------------
// Mock AgentResolver
// ---------------------------------------------------------------------------

type mockResolver struct {
	resolveFunc func(ctx context.Context, ref domain.AgentRef) (domain.Agent, error)
}

func (m *mockResolver) Resolve(ctx context.Context, ref domain.AgentRef) (domain.Agent, error) {
	return m.resolveFunc(ctx, ref)
}

// ---------------------------------------------------------------------------
// Mock RecordResolver
// ---------------------------------------------------------------------------

type mockRecordResolver struct {
	protectedFunc func(ctx context.Context, a *domain.Action) (domain.Restorable, error)
}

func (m *mockRecordResolver) Protected(ctx context.Context, a *domain.Action) (domain.Restorable, error) {
	return m.protectedFunc(ctx, a)
}

// ---------------------------------------------------------------------------
// Mock NoteService
// ---------------------------------------------------------------------------

type mockNoteService struct {
	findFunc    func(ctx context.Context, id uuid.UUID) (*domain.Note, error)
	scopedFunc  func(ctx context.Context, limit int) ([]*domain.Note, error)
	createFunc  func(ctx context.Context, candidate *domain.Note, attrs map[string]any) error
	updateFunc  func(ctx context.Context, rec *domain.Note, attrs map[string]any) error
	destroyFunc func(ctx context.Context, rec *domain.Note) error
}

func (m *mockNoteService) Find(ctx context.Context, id uuid.UUID) (*domain.Note, error) {
	return m.findFunc(ctx, id)
}

func (m *mockNoteService) Scoped(ctx context.Context, limit int) ([]*domain.Note, error) {
	return m.scopedFunc(ctx, limit)
}

func (m *mockNoteService) Create(ctx context.Context, candidate *domain.Note, attrs map[string]any) error {
	return m.createFunc(ctx, candidate, attrs)
}

func (m *mockNoteService) Update(ctx context.Context, rec *domain.Note, attrs map[string]any) error {
	return m.updateFunc(ctx, rec, attrs)
}

func (m *mockNoteService) Destroy(ctx context.Context, rec *domain.Note) error {
	return m.destroyFunc(ctx, rec)
}

// denial builds the error the guard returns on refusal.
func denial(a domain.Agent, n *domain.Note, op domain.Operation) error {
	return &domain.AccountabilityError{Agent: a.AgentRef(), Protected: n.ProtectedRef(), Operation: op}
}
