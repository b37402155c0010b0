// Package gate authorizes operations on protected records and records an
// action for every decision, approved or not.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gosuda/custos/internal/accountability"
	"github.com/gosuda/custos/internal/domain"
	"github.com/gosuda/custos/internal/metrics"
)

var defaultTracer = otel.Tracer("custos/gate")

// Authorizer decides whether a may perform op on rec. An error counts as a
// refusal.
type Authorizer func(ctx context.Context, a domain.Agent, rec domain.Protected, op domain.Operation) (bool, error)

// Recorder writes actions on the path their kind requires.
type Recorder interface {
	Record(ctx context.Context, a *domain.Action) error
	RecordBatch(ctx context.Context, actions []*domain.Action) error
}

// UnitOfWork runs fn in a transaction carried by ctx, nesting when ctx
// already has one.
type UnitOfWork interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

type Gate struct {
	recorder Recorder
	uow      UnitOfWork
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Gate)

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(g *Gate) { g.tracer = t }
}

// WithClock sets the source of performed_at.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func New(recorder Recorder, uow UnitOfWork, opts ...Option) *Gate {
	g := &Gate{
		recorder: recorder,
		uow:      uow,
		tracer:   defaultTracer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enforce authorizes op on rec for the current agent.
//
// On approval perform runs, then the completed action is recorded with the
// record's state after perform. Mutations run perform and the audit write in
// one unit of work. An error from perform is returned unchanged and leaves no
// completed action behind.
//
// On refusal perform does not run, the attempted action is recorded with the
// record's state as it stands, and a *domain.AccountabilityError is
// returned. If that write fails too, both errors are joined.
//
// perform may be nil for access.
func (g *Gate) Enforce(ctx context.Context, rec domain.Protected, op domain.Operation, authorize Authorizer, perform func(ctx context.Context) error) error {
	ref := rec.ProtectedRef()
	ctx, span := g.tracer.Start(ctx, "gate.Enforce", trace.WithAttributes(
		attribute.String("custos.operation", string(op)),
		attribute.String("custos.protected_type", ref.Type),
	))
	defer span.End()

	a := accountability.Current(ctx)

	approved, cause := decide(ctx, authorize, a, rec, op)
	g.metrics.ObserveDecision(string(op), approved)
	span.SetAttributes(attribute.Bool("custos.approved", approved))

	if !approved {
		err := g.deny(ctx, a, rec, op, cause)
		span.SetStatus(codes.Error, "denied")
		return err
	}

	var err error
	if op == domain.OpAccess {
		err = g.performAndRecord(ctx, a, rec, op, perform)
	} else {
		err = g.uow.Run(ctx, func(ctx context.Context) error {
			return g.performAndRecord(ctx, a, rec, op, perform)
		})
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// EnforceAll authorizes access to every record in recs and writes all the
// resulting actions with one bulk insert. The returned slice holds each
// record's decision. When any record is refused, the first refusal is
// returned as the error once the batch is written.
func (g *Gate) EnforceAll(ctx context.Context, recs []domain.Protected, authorize Authorizer) ([]bool, error) {
	ctx, span := g.tracer.Start(ctx, "gate.EnforceAll", trace.WithAttributes(
		attribute.String("custos.operation", string(domain.OpAccess)),
		attribute.Int("custos.records", len(recs)),
	))
	defer span.End()

	if len(recs) == 0 {
		return nil, nil
	}

	a := accountability.Current(ctx)
	now := g.now()

	decisions := make([]bool, len(recs))
	actions := make([]*domain.Action, 0, len(recs))
	var denial *domain.AccountabilityError

	for i, rec := range recs {
		approved, cause := decide(ctx, authorize, a, rec, domain.OpAccess)
		g.metrics.ObserveDecision(string(domain.OpAccess), approved)
		decisions[i] = approved

		act, err := domain.NewAction(a, rec, domain.OpAccess.Kind(approved), now)
		if err != nil {
			return nil, fmt.Errorf("gate.EnforceAll: %w", err)
		}
		actions = append(actions, act)

		if !approved && denial == nil {
			denial = &domain.AccountabilityError{
				Agent:     a.AgentRef(),
				Protected: rec.ProtectedRef(),
				Operation: domain.OpAccess,
				Cause:     cause,
			}
		}
	}

	writeErr := g.recorder.RecordBatch(ctx, actions)
	if denial != nil {
		logDenial(denial)
	}

	switch {
	case denial != nil && writeErr != nil:
		span.SetStatus(codes.Error, "denied")
		return nil, errors.Join(denial, writeErr)
	case writeErr != nil:
		span.RecordError(writeErr)
		span.SetStatus(codes.Error, "audit write failed")
		return nil, fmt.Errorf("gate.EnforceAll: %w", writeErr)
	case denial != nil:
		span.SetStatus(codes.Error, "denied")
		return decisions, denial
	}

	span.SetStatus(codes.Ok, "")
	return decisions, nil
}

func (g *Gate) performAndRecord(ctx context.Context, a domain.Agent, rec domain.Protected, op domain.Operation, perform func(context.Context) error) error {
	if perform != nil {
		if err := perform(ctx); err != nil {
			return err
		}
	}

	act, err := domain.NewAction(a, rec, op.Kind(true), g.now())
	if err != nil {
		return fmt.Errorf("gate.Enforce: %w", err)
	}
	if err := g.recorder.Record(ctx, act); err != nil {
		return fmt.Errorf("gate.Enforce: %w", err)
	}
	return nil
}

func (g *Gate) deny(ctx context.Context, a domain.Agent, rec domain.Protected, op domain.Operation, cause error) error {
	denial := &domain.AccountabilityError{
		Agent:     a.AgentRef(),
		Protected: rec.ProtectedRef(),
		Operation: op,
		Cause:     cause,
	}
	logDenial(denial)

	act, err := domain.NewAction(a, rec, op.Kind(false), g.now())
	if err == nil {
		err = g.recorder.Record(ctx, act)
	}
	if err != nil {
		return errors.Join(denial, fmt.Errorf("gate.Enforce: %w", err))
	}
	return denial
}

func decide(ctx context.Context, authorize Authorizer, a domain.Agent, rec domain.Protected, op domain.Operation) (bool, error) {
	if authorize == nil {
		return false, nil
	}
	approved, err := authorize(ctx, a, rec, op)
	if err != nil {
		return false, err
	}
	return approved, nil
}

func logDenial(e *domain.AccountabilityError) {
	ev := log.Warn().
		Str("agent", e.Agent.String()).
		Str("protected", e.Protected.String()).
		Str("operation", string(e.Operation))
	if e.Cause != nil {
		ev = ev.AnErr("cause", e.Cause)
	}
	ev.Msg("gate: operation denied")
}
