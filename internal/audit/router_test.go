package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/custos/internal/audit"
	"github.com/gosuda/custos/internal/domain"
	"github.com/gosuda/custos/internal/metrics"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type txKey struct{}

// fakeUnitOfWork marks a context as "in a transaction" with txKey and keeps
// after-commit hooks until flush is called.
type fakeUnitOfWork struct {
	mu    sync.Mutex
	hooks []func(context.Context)
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

func (u *fakeUnitOfWork) Detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, txKey{}, false)
}

func (u *fakeUnitOfWork) AfterCommit(ctx context.Context, fn func(context.Context)) {
	if !inTx(ctx) {
		fn(ctx)
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.hooks = append(u.hooks, fn)
}

func (u *fakeUnitOfWork) flush(ctx context.Context) {
	u.mu.Lock()
	hooks := u.hooks
	u.hooks = nil
	u.mu.Unlock()
	for _, h := range hooks {
		h(ctx)
	}
}

type write struct {
	kinds []domain.ActionKind
	inTx  bool
	bulk  bool
}

type mockActionRepo struct {
	mu     sync.Mutex
	writes []write

	insertErr error
	bulkErr   error
}

func (m *mockActionRepo) InsertOne(ctx context.Context, a *domain.Action) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	m.writes = append(m.writes, write{kinds: []domain.ActionKind{a.Kind}, inTx: inTx(ctx)})
	return nil
}

func (m *mockActionRepo) BulkInsert(ctx context.Context, actions []*domain.Action) error {
	if m.bulkErr != nil {
		return m.bulkErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w := write{inTx: inTx(ctx), bulk: true}
	for _, a := range actions {
		a.ID = uuid.New()
		w.kinds = append(w.kinds, a.Kind)
	}
	m.writes = append(m.writes, w)
	return nil
}

func (m *mockActionRepo) Get(context.Context, uuid.UUID) (*domain.Action, error) {
	return nil, domain.ErrNotFound
}

func (m *mockActionRepo) Find(context.Context, domain.ActionFilter) ([]*domain.Action, error) {
	return nil, nil
}

func (m *mockActionRepo) Count(context.Context, domain.ActionFilter) (int, error) {
	return 0, nil
}

type mockPublisher struct {
	mu    sync.Mutex
	kinds []domain.ActionKind
	err   error
}

func (p *mockPublisher) PublishAction(_ context.Context, a *domain.Action) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds = append(p.kinds, a.Kind)
	return p.err
}

func (p *mockPublisher) published() []domain.ActionKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ActionKind(nil), p.kinds...)
}

func newAction(kind domain.ActionKind) *domain.Action {
	snap, _ := domain.NewSnapshot([]domain.Attribute{{Name: "title", Value: "t"}})
	return &domain.Action{
		Agent:       domain.SingletonAgent("anonymous"),
		Protected:   domain.NewProtectedRef("note", uuid.New()),
		Snapshot:    snap,
		Kind:        kind,
		PerformedAt: time.Now(),
	}
}

func txContext() context.Context {
	return context.WithValue(context.Background(), txKey{}, true)
}

// ---------------------------------------------------------------------------
// Record
// ---------------------------------------------------------------------------

func TestRouter_Record_Paths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind     domain.ActionKind
		wantInTx bool
	}{
		{domain.ActionAccess, false},
		{domain.ActionAttemptedAccess, false},
		{domain.ActionCreation, true},
		{domain.ActionModification, true},
		{domain.ActionDestruction, true},
		{domain.ActionAttemptedCreation, true},
		{domain.ActionAttemptedModification, true},
		{domain.ActionAttemptedDestruction, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()

			repo := &mockActionRepo{}
			r := audit.NewRouter(&fakeUnitOfWork{}, repo)

			require.NoError(t, r.Record(txContext(), newAction(tt.kind)))

			require.Len(t, repo.writes, 1)
			assert.Equal(t, tt.wantInTx, repo.writes[0].inTx)
		})
	}
}

func TestRouter_Record_PublishTiming(t *testing.T) {
	t.Parallel()

	uow := &fakeUnitOfWork{}
	pub := &mockPublisher{}
	r := audit.NewRouter(uow, &mockActionRepo{}, audit.WithPublisher(pub))
	ctx := txContext()

	require.NoError(t, r.Record(ctx, newAction(domain.ActionAccess)))
	require.NoError(t, r.Record(ctx, newAction(domain.ActionCreation)))

	assert.Equal(t, []domain.ActionKind{domain.ActionAccess}, pub.published(),
		"mutation waits for commit")

	uow.flush(ctx)

	assert.Equal(t, []domain.ActionKind{domain.ActionAccess, domain.ActionCreation}, pub.published())
}

func TestRouter_Record_WithoutUnitOfWorkPublishesAtOnce(t *testing.T) {
	t.Parallel()

	pub := &mockPublisher{}
	r := audit.NewRouter(&fakeUnitOfWork{}, &mockActionRepo{}, audit.WithPublisher(pub))

	require.NoError(t, r.Record(context.Background(), newAction(domain.ActionDestruction)))

	assert.Equal(t, []domain.ActionKind{domain.ActionDestruction}, pub.published())
}

func TestRouter_Record_PublishFailureIsNotAnError(t *testing.T) {
	t.Parallel()

	pub := &mockPublisher{err: errors.New("redis down")}
	r := audit.NewRouter(&fakeUnitOfWork{}, &mockActionRepo{}, audit.WithPublisher(pub))

	assert.NoError(t, r.Record(context.Background(), newAction(domain.ActionAccess)))
}

func TestRouter_Record_InsertError(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	pub := &mockPublisher{}
	repo := &mockActionRepo{insertErr: &domain.ValidationError{Reasons: []string{"kind is required"}}}
	r := audit.NewRouter(&fakeUnitOfWork{}, repo, audit.WithPublisher(pub), audit.WithMetrics(m))

	err := r.Record(context.Background(), newAction(domain.ActionAccess))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidAction)
	assert.Empty(t, pub.published())
	assert.InDelta(t, 1, testutil.ToFloat64(m.WriteFailures.WithLabelValues(metrics.PathIndependent)), 0)
}

func TestRouter_Record_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := audit.NewRouter(&fakeUnitOfWork{}, &mockActionRepo{}, audit.WithMetrics(m))
	ctx := txContext()

	require.NoError(t, r.Record(ctx, newAction(domain.ActionAccess)))
	require.NoError(t, r.Record(ctx, newAction(domain.ActionAttemptedModification)))

	assert.InDelta(t, 1, testutil.ToFloat64(m.ActionsWritten.WithLabelValues("access", metrics.PathIndependent)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ActionsWritten.WithLabelValues("attempted_modification", metrics.PathJoined)), 0)
}

// ---------------------------------------------------------------------------
// RecordBatch
// ---------------------------------------------------------------------------

func TestRouter_RecordBatch_SplitsByPath(t *testing.T) {
	t.Parallel()

	repo := &mockActionRepo{}
	r := audit.NewRouter(&fakeUnitOfWork{}, repo)

	err := r.RecordBatch(txContext(), []*domain.Action{
		newAction(domain.ActionAccess),
		newAction(domain.ActionCreation),
		newAction(domain.ActionAttemptedAccess),
	})
	require.NoError(t, err)

	require.Len(t, repo.writes, 2)
	assert.Equal(t, write{
		kinds: []domain.ActionKind{domain.ActionAccess, domain.ActionAttemptedAccess},
		inTx:  false,
		bulk:  true,
	}, repo.writes[0])
	assert.Equal(t, write{
		kinds: []domain.ActionKind{domain.ActionCreation},
		inTx:  true,
		bulk:  true,
	}, repo.writes[1])
}

func TestRouter_RecordBatch_Empty(t *testing.T) {
	t.Parallel()

	repo := &mockActionRepo{}
	r := audit.NewRouter(&fakeUnitOfWork{}, repo)

	require.NoError(t, r.RecordBatch(context.Background(), nil))
	assert.Empty(t, repo.writes)
}

func TestRouter_RecordBatch_Error(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	pub := &mockPublisher{}
	r := audit.NewRouter(&fakeUnitOfWork{}, &mockActionRepo{bulkErr: boom}, audit.WithPublisher(pub))

	err := r.RecordBatch(context.Background(), []*domain.Action{newAction(domain.ActionAccess)})

	require.ErrorIs(t, err, boom)
	assert.Empty(t, pub.published())
}

func TestRouter_RecordBatch_ObservesBatchSize(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := audit.NewRouter(&fakeUnitOfWork{}, &mockActionRepo{}, audit.WithMetrics(m))

	err := r.RecordBatch(context.Background(), []*domain.Action{
		newAction(domain.ActionAccess),
		newAction(domain.ActionAccess),
	})
	require.NoError(t, err)

	assert.InDelta(t, 2, testutil.ToFloat64(m.ActionsWritten.WithLabelValues("access", metrics.PathIndependent)), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.BatchSize))
}
