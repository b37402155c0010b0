package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ErrRollback makes UnitOfWork.Run roll back and return nil.
var ErrRollback = errors.New("postgres: rollback")

// dbtx is satisfied by *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type unitKey struct{}

type unit struct {
	tx     pgx.Tx
	parent *unit

	mu    sync.Mutex
	hooks []func(context.Context)
}

func (u *unit) addHook(fn func(context.Context)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.hooks = append(u.hooks, fn)
}

func (u *unit) takeHooks() []func(context.Context) {
	u.mu.Lock()
	defer u.mu.Unlock()
	h := u.hooks
	u.hooks = nil
	return h
}

func unitFrom(ctx context.Context) *unit {
	u, _ := ctx.Value(unitKey{}).(*unit)
	return u
}

// conn returns the innermost transaction in ctx, or the pool.
func conn(ctx context.Context, pool *pgxpool.Pool) dbtx {
	if u := unitFrom(ctx); u != nil {
		return u.tx
	}
	return pool
}

// UnitOfWork runs functions inside a transaction carried by the context.
// A nested Run opens a savepoint that commits or rolls back on its own.
type UnitOfWork struct {
	pool *pgxpool.Pool
}

func NewUnitOfWork(pool *pgxpool.Pool) *UnitOfWork {
	return &UnitOfWork{pool: pool}
}

// Run executes fn in a unit of work. fn returning ErrRollback rolls back
// without reporting an error; any other error rolls back and is returned.
func (w *UnitOfWork) Run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	parent := unitFrom(ctx)

	var tx pgx.Tx
	if parent != nil {
		tx, err = parent.tx.Begin(ctx)
	} else {
		tx, err = w.pool.Begin(ctx)
	}
	if err != nil {
		return fmt.Errorf("postgres.UnitOfWork.Run: begin: %w", err)
	}

	cur := &unit{tx: tx, parent: parent}

	defer func() {
		if p := recover(); p != nil {
			rollback(ctx, tx)
			panic(p)
		}
	}()

	if fnErr := fn(context.WithValue(ctx, unitKey{}, cur)); fnErr != nil {
		rollback(ctx, tx)
		if errors.Is(fnErr, ErrRollback) {
			return nil
		}
		return fnErr
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres.UnitOfWork.Run: commit: %w", err)
	}

	hooks := cur.takeHooks()
	if parent != nil {
		for _, h := range hooks {
			parent.addHook(h)
		}
		return nil
	}

	for _, h := range hooks {
		h(ctx)
	}
	return nil
}

// Detach returns a context with no ambient unit of work. Writes made with
// it commit on their own, whatever happens to the caller's transaction.
func (w *UnitOfWork) Detach(ctx context.Context) context.Context {
	if unitFrom(ctx) == nil {
		return ctx
	}
	return context.WithValue(ctx, unitKey{}, (*unit)(nil))
}

// AfterCommit runs fn once the outermost transaction in ctx commits. Hooks
// added inside a savepoint that rolls back are dropped. Without a unit of
// work fn runs immediately.
func (w *UnitOfWork) AfterCommit(ctx context.Context, fn func(context.Context)) {
	if u := unitFrom(ctx); u != nil {
		u.addHook(fn)
		return
	}
	fn(ctx)
}

// InUnit reports whether ctx carries a unit of work.
func InUnit(ctx context.Context) bool {
	return unitFrom(ctx) != nil
}

func rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		log.Warn().Err(err).Msg("postgres: rollback failed")
	}
}
