package gate_test

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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/gosuda/custos/internal/accountability"
	"github.com/gosuda/custos/internal/domain"
	"github.com/gosuda/custos/internal/gate"
	"github.com/gosuda/custos/internal/metrics"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type txKey struct{}

type fakeTx struct {
	parent *fakeTx
	staged []*domain.Action
}

// fakeStore stands in for the unit of work and the router together. Actions
// recorded inside Run are staged and only land in committed when the
// outermost Run returns nil.
type fakeStore struct {
	mu        sync.Mutex
	committed []*domain.Action
	batches   int
	runs      int

	recordErr error
}

func (s *fakeStore) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()

	parent, _ := ctx.Value(txKey{}).(*fakeTx)
	tx := &fakeTx{parent: parent}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if parent != nil {
		parent.staged = append(parent.staged, tx.staged...)
	} else {
		s.committed = append(s.committed, tx.staged...)
	}
	return nil
}

func (s *fakeStore) Record(ctx context.Context, a *domain.Action) error {
	if s.recordErr != nil {
		return s.recordErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := ctx.Value(txKey{}).(*fakeTx); ok && tx != nil {
		tx.staged = append(tx.staged, a)
		return nil
	}
	s.committed = append(s.committed, a)
	return nil
}

func (s *fakeStore) RecordBatch(ctx context.Context, actions []*domain.Action) error {
	if s.recordErr != nil {
		return s.recordErr
	}
	s.mu.Lock()
	s.batches++
	s.mu.Unlock()
	for _, a := range actions {
		if err := s.Record(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeStore) actions() []*domain.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Action(nil), s.committed...)
}

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newGate(s *fakeStore, opts ...gate.Option) *gate.Gate {
	opts = append([]gate.Option{gate.WithClock(func() time.Time { return fixedNow })}, opts...)
	return gate.New(s, s, opts...)
}

func allow(context.Context, domain.Agent, domain.Protected, domain.Operation) (bool, error) {
	return true, nil
}

func refuse(context.Context, domain.Agent, domain.Protected, domain.Operation) (bool, error) {
	return false, nil
}

func clinician() *domain.Principal {
	return &domain.Principal{
		ID:   uuid.MustParse("cccccccc-0000-0000-0000-000000000001"),
		Kind: domain.KindUser,
		Name: "dr who",
		Role: domain.RoleClinician,
	}
}

func persistedNote() *domain.Note {
	return &domain.Note{
		ID:          uuid.MustParse("dddddddd-0000-0000-0000-000000000001"),
		PatientID:   uuid.MustParse("eeeeeeee-0000-0000-0000-000000000001"),
		Title:       "intake",
		Body:        "stable",
		Sensitivity: domain.SensitivityNormal,
		CreatedAt:   fixedNow.Add(-time.Hour),
		UpdatedAt:   fixedNow.Add(-time.Hour),
	}
}

func snapshotTitle(t *testing.T, a *domain.Action) string {
	t.Helper()
	var title string
	require.NoError(t, a.Snapshot.Decode("title", &title))
	return title
}

// ---------------------------------------------------------------------------
// Enforce
// ---------------------------------------------------------------------------

func TestEnforce_AccessApproved(t *testing.T) {
	t.Parallel()

	s := &fakeStore{}
	g := newGate(s)
	note := persistedNote()
	ctx := accountability.Push(context.Background(), clinician())

	require.NoError(t, g.Enforce(ctx, note, domain.OpAccess, allow, nil))

	got := s.actions()
	require.Len(t, got, 1)
	assert.Equal(t, domain.ActionAccess, got[0].Kind)
	assert.Equal(t, clinician().AgentRef(), got[0].Agent)
	assert.Equal(t, note.ProtectedRef(), got[0].Protected)
	assert.Equal(t, fixedNow, got[0].PerformedAt)
	assert.Equal(t, 0, s.runs, "access does not open a unit of work")
}

func TestEnforce_Denied(t *testing.T) {
	t.Parallel()

	ops := []domain.Operation{domain.OpAccess, domain.OpCreation, domain.OpModification, domain.OpDestruction}

	for _, op := range ops {
		t.Run(string(op), func(t *testing.T) {
			t.Parallel()

			s := &fakeStore{}
			g := newGate(s)
			note := persistedNote()
			performed := false

			err := g.Enforce(context.Background(), note, op, refuse, func(context.Context) error {
				performed = true
				return nil
			})

			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrForbidden)

			var aerr *domain.AccountabilityError
			require.ErrorAs(t, err, &aerr)
			assert.Equal(t, op, aerr.Operation)
			assert.Equal(t, domain.SingletonAgent("anonymous"), aerr.Agent)
			assert.Nil(t, aerr.Cause)

			assert.False(t, performed)
			got := s.actions()
			require.Len(t, got, 1)
			assert.Equal(t, op.Kind(false), got[0].Kind)
			assert.False(t, got[0].Kind.Completed())
		})
	}
}

func TestEnforce_PolicyErrorIsRefusal(t *testing.T) {
	t.Parallel()

	s := &fakeStore{}
	g := newGate(s)
	policyErr := errors.New("policy backend unavailable")

	err := g.Enforce(context.Background(), persistedNote(), domain.OpModification,
		func(context.Context, domain.Agent, domain.Protected, domain.Operation) (bool, error) {
			return true, policyErr
		},
		func(context.Context) error {
			t.Fatal("perform must not run")
			return nil
		})

	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.ErrorIs(t, err, policyErr)
	require.Len(t, s.actions(), 1)
	assert.Equal(t, domain.ActionAttemptedModification, s.actions()[0].Kind)
}

func TestEnforce_NilAuthorizerRefuses(t *testing.T) {
	t.Parallel()

	s := &fakeStore{}
	err := newGate(s).Enforce(context.Background(), persistedNote(), domain.OpAccess, nil, nil)

	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestEnforce_DeniedWriteFailureIsJoined(t *testing.T) {
	t.Parallel()

	writeErr := errors.New("insert failed")
	s := &fakeStore{recordErr: writeErr}

	err := newGate(s).Enforce(context.Background(), persistedNote(), domain.OpDestruction, refuse, nil)

	var aerr *domain.AccountabilityError
	assert.ErrorAs(t, err, &aerr)
	assert.ErrorIs(t, err, writeErr)
}

func TestEnforce_CreationSnapshotsAfterPerform(t *testing.T) {
	t.Parallel()

	s := &fakeStore{}
	g := newGate(s)
	candidate := &domain.Note{Title: "new", Sensitivity: domain.SensitivityNormal}
	assignedID := uuid.New()

	err := g.Enforce(context.Background(), candidate, domain.OpCreation, allow, func(context.Context) error {
		candidate.ID = assignedID
		return nil
	})
	require.NoError(t, err)

	got := s.actions()
	require.Len(t, got, 1)
	assert.Equal(t, domain.ActionCreation, got[0].Kind)
	assert.Equal(t, domain.NewProtectedRef(domain.NoteType, assignedID), got[0].Protected)

	var id uuid.UUID
	require.NoError(t, got[0].Snapshot.Decode("id", &id))
	assert.Equal(t, assignedID, id)
	assert.Equal(t, 1, s.runs)
}

func TestEnforce_PerformErrorLeavesNoAction(t *testing.T) {
	t.Parallel()

	s := &fakeStore{}
	boom := errors.New("unique violation")

	err := newGate(s).Enforce(context.Background(), persistedNote(), domain.OpModification, allow,
		func(context.Context) error { return boom })

	assert.Equal(t, boom, err, "perform error is returned unchanged")
	assert.Empty(t, s.actions())
}

func TestEnforce_AuditFailureRollsBackMutation(t *testing.T) {
	t.Parallel()

	writeErr := errors.New("audit insert failed")
	s := &fakeStore{recordErr: writeErr}

	err := newGate(s).Enforce(context.Background(), persistedNote(), domain.OpDestruction, allow,
		func(context.Context) error { return nil })

	assert.ErrorIs(t, err, writeErr)
	assert.Equal(t, 1, s.runs)
}

func TestEnforce_MutationJoinsAmbientUnit(t *testing.T) {
	t.Parallel()

	s := &fakeStore{}
	g := newGate(s)

	errOuter := errors.New("outer rollback")
	err := s.Run(context.Background(), func(ctx context.Context) error {
		require.NoError(t, g.Enforce(ctx, persistedNote(), domain.OpModification, allow, func(context.Context) error { return nil }))
		return errOuter
	})

	assert.Equal(t, errOuter, err)
	assert.Empty(t, s.actions(), "modification rolled back with the outer unit")
}

func TestEnforce_UsesCurrentAgent(t *testing.T) {
	t.Parallel()

	s := &fakeStore{}
	g := newGate(s)
	var seen domain.Agent

	err := accountability.With(context.Background(), clinician(), func(ctx context.Context) error {
		return g.Enforce(ctx, persistedNote(), domain.OpAccess,
			func(_ context.Context, a domain.Agent, _ domain.Protected, _ domain.Operation) (bool, error) {
				seen = a
				return true, nil
			}, nil)
	})
	require.NoError(t, err)

	assert.Equal(t, clinician().AgentRef(), seen.AgentRef())
}

func TestEnforce_Metrics(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())
	s := &fakeStore{}
	g := newGate(s, gate.WithMetrics(m))

	_ = g.Enforce(context.Background(), persistedNote(), domain.OpAccess, allow, nil)
	_ = g.Enforce(context.Background(), persistedNote(), domain.OpAccess, refuse, nil)
	_ = g.Enforce(context.Background(), persistedNote(), domain.OpAccess, refuse, nil)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Decisions.WithLabelValues("access", "approved")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Decisions.WithLabelValues("access", "denied")), 0)
}

// ---------------------------------------------------------------------------
// EnforceAll
// ---------------------------------------------------------------------------

func TestEnforceAll(t *testing.T) {
	t.Parallel()

	t.Run("all approved", func(t *testing.T) {
		t.Parallel()

		s := &fakeStore{}
		recs := []domain.Protected{persistedNote(), persistedNote()}

		decisions, err := newGate(s).EnforceAll(context.Background(), recs, allow)

		require.NoError(t, err)
		assert.Equal(t, []bool{true, true}, decisions)
		assert.Equal(t, 1, s.batches)
		require.Len(t, s.actions(), 2)
		for _, a := range s.actions() {
			assert.Equal(t, domain.ActionAccess, a.Kind)
		}
	})

	t.Run("first refusal returned after batch", func(t *testing.T) {
		t.Parallel()

		s := &fakeStore{}
		a, b, c := persistedNote(), persistedNote(), persistedNote()
		b.ID = uuid.New()
		c.ID = uuid.New()
		authorize := func(_ context.Context, _ domain.Agent, rec domain.Protected, _ domain.Operation) (bool, error) {
			return rec.ProtectedRef() == a.ProtectedRef(), nil
		}

		decisions, err := newGate(s).EnforceAll(context.Background(), []domain.Protected{a, b, c}, authorize)

		var aerr *domain.AccountabilityError
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, b.ProtectedRef(), aerr.Protected)
		assert.Equal(t, []bool{true, false, false}, decisions)

		kinds := make([]domain.ActionKind, 0, 3)
		for _, act := range s.actions() {
			kinds = append(kinds, act.Kind)
		}
		assert.Equal(t, []domain.ActionKind{domain.ActionAccess, domain.ActionAttemptedAccess, domain.ActionAttemptedAccess}, kinds)
		assert.Equal(t, 1, s.batches)
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()

		s := &fakeStore{}
		decisions, err := newGate(s).EnforceAll(context.Background(), nil, allow)

		require.NoError(t, err)
		assert.Nil(t, decisions)
		assert.Equal(t, 0, s.batches)
	})

	t.Run("write failure", func(t *testing.T) {
		t.Parallel()

		writeErr := errors.New("bulk insert failed")
		s := &fakeStore{recordErr: writeErr}

		_, err := newGate(s).EnforceAll(context.Background(), []domain.Protected{persistedNote()}, allow)

		assert.ErrorIs(t, err, writeErr)
		assert.NotErrorIs(t, err, domain.ErrForbidden)
	})
}

// ---------------------------------------------------------------------------
// Tracing
// ---------------------------------------------------------------------------

func newTracedGate(s *fakeStore) (*gate.Gate, *tracetest.InMemoryExporter) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	return newGate(s, gate.WithTracer(tp.Tracer("gate-test"))), exporter
}

func spanAttrs(span tracetest.SpanStub) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(span.Attributes))
	for _, kv := range span.Attributes {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestEnforce_Span(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		authorize gate.Authorizer
		approved  bool
		status    codes.Code
	}{
		{name: "approved", authorize: allow, approved: true, status: codes.Ok},
		{name: "denied", authorize: refuse, approved: false, status: codes.Error},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g, exporter := newTracedGate(&fakeStore{})
			_ = g.Enforce(context.Background(), persistedNote(), domain.OpAccess, tt.authorize, nil)

			spans := exporter.GetSpans()
			require.Len(t, spans, 1)
			assert.Equal(t, "gate.Enforce", spans[0].Name)
			assert.Equal(t, tt.status, spans[0].Status.Code)

			attrs := spanAttrs(spans[0])
			assert.Equal(t, "access", attrs["custos.operation"].AsString())
			assert.Equal(t, domain.NoteType, attrs["custos.protected_type"].AsString())
			assert.Equal(t, tt.approved, attrs["custos.approved"].AsBool())
		})
	}
}

func TestEnforce_SpanRecordsPerformError(t *testing.T) {
	t.Parallel()

	g, exporter := newTracedGate(&fakeStore{})
	boom := errors.New("update failed")

	err := g.Enforce(context.Background(), persistedNote(), domain.OpModification, allow, func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	require.NotEmpty(t, spans[0].Events)
	assert.Equal(t, "exception", spans[0].Events[0].Name)
}

func TestEnforceAll_Span(t *testing.T) {
	t.Parallel()

	g, exporter := newTracedGate(&fakeStore{})
	_, err := g.EnforceAll(context.Background(), []domain.Protected{persistedNote(), persistedNote()}, allow)
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "gate.EnforceAll", spans[0].Name)
	assert.Equal(t, int64(2), spanAttrs(spans[0])["custos.records"].AsInt64())
}
