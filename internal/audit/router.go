// Package audit decides where each action is written.
//
// Access actions, completed or attempted, are written outside any ambient
// transaction and survive its rollback. Mutation actions join the innermost
// unit of work in the context and commit or roll back with the change they
// describe.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/custos/internal/domain"
	"github.com/gosuda/custos/internal/metrics"
)

// UnitOfWork is the part of the transaction manager the router needs.
type UnitOfWork interface {
	// Detach returns ctx without its ambient transaction.
	Detach(ctx context.Context) context.Context
	// AfterCommit runs fn once the outermost transaction in ctx commits.
	AfterCommit(ctx context.Context, fn func(context.Context))
}

// Publisher receives actions once they are durable.
type Publisher interface {
	PublishAction(ctx context.Context, a *domain.Action) error
}

type Router struct {
	uow     UnitOfWork
	actions domain.ActionRepository
	pub     Publisher
	metrics *metrics.Metrics
}

type Option func(*Router)

// WithPublisher streams written actions to p.
func WithPublisher(p Publisher) Option {
	return func(r *Router) { r.pub = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

func NewRouter(uow UnitOfWork, actions domain.ActionRepository, opts ...Option) *Router {
	r := &Router{uow: uow, actions: actions}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record writes a on the path its kind calls for.
func (r *Router) Record(ctx context.Context, a *domain.Action) error {
	wctx, path := r.route(ctx, a.Kind)

	start := time.Now()
	if err := r.actions.InsertOne(wctx, a); err != nil {
		r.metrics.ObserveWriteFailure(path)
		return fmt.Errorf("audit.Router.Record: %w", err)
	}
	r.metrics.ObserveWrite(string(a.Kind), path, 1, start)

	r.publish(ctx, path, a)
	return nil
}

// RecordBatch writes a batch. Access and mutation actions are split and each
// group is bulk inserted on its own path, access first.
func (r *Router) RecordBatch(ctx context.Context, actions []*domain.Action) error {
	if len(actions) == 0 {
		return nil
	}

	var access, mutation []*domain.Action
	for _, a := range actions {
		if a.Kind.IsAccess() {
			access = append(access, a)
		} else {
			mutation = append(mutation, a)
		}
	}

	if err := r.writeBatch(ctx, metrics.PathIndependent, access); err != nil {
		return fmt.Errorf("audit.Router.RecordBatch: %w", err)
	}
	if err := r.writeBatch(ctx, metrics.PathJoined, mutation); err != nil {
		return fmt.Errorf("audit.Router.RecordBatch: %w", err)
	}
	return nil
}

func (r *Router) writeBatch(ctx context.Context, path string, batch []*domain.Action) error {
	if len(batch) == 0 {
		return nil
	}

	wctx := ctx
	if path == metrics.PathIndependent {
		wctx = r.uow.Detach(ctx)
	}

	start := time.Now()
	if err := r.actions.BulkInsert(wctx, batch); err != nil {
		r.metrics.ObserveWriteFailure(path)
		return err
	}
	r.metrics.ObserveBatch(len(batch))

	perKind := make(map[domain.ActionKind]int)
	for _, a := range batch {
		perKind[a.Kind]++
		r.publish(ctx, path, a)
	}
	for kind, n := range perKind {
		r.metrics.ObserveWrite(string(kind), path, n, start)
	}
	return nil
}

func (r *Router) route(ctx context.Context, kind domain.ActionKind) (context.Context, string) {
	if kind.IsAccess() {
		return r.uow.Detach(ctx), metrics.PathIndependent
	}
	return ctx, metrics.PathJoined
}

func (r *Router) publish(ctx context.Context, path string, a *domain.Action) {
	if r.pub == nil {
		return
	}

	send := func(ctx context.Context) {
		if err := r.pub.PublishAction(ctx, a); err != nil {
			log.Error().Err(err).
				Str("kind", string(a.Kind)).
				Str("action_id", a.ID.String()).
				Msg("audit: publish action")
		}
	}

	if path == metrics.PathIndependent {
		send(ctx)
		return
	}
	r.uow.AfterCommit(ctx, send)
}
