package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/custos/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	pool       *pgxpool.Pool
	uow        *UnitOfWork
	actions    *ActionRepo
	principals *PrincipalRepo
	notes      *NoteRepo
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return NewFromPool(pool), nil
}

// NewFromPool wraps an existing pool. The store takes ownership of it.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:       pool,
		uow:        NewUnitOfWork(pool),
		actions:    NewActionRepo(pool),
		principals: NewPrincipalRepo(pool),
		notes:      NewNoteRepo(pool),
	}
}

// EnsureSchema applies the embedded DDL. It is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres.EnsureSchema: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) UnitOfWork() *UnitOfWork                { return s.uow }
func (s *Store) Actions() domain.ActionRepository       { return s.actions }
func (s *Store) Principals() domain.PrincipalRepository { return s.principals }
func (s *Store) Notes() domain.NoteRepository           { return s.notes }
