package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/custos/internal/domain"
)

type PrincipalRepo struct {
	pool *pgxpool.Pool
}

func NewPrincipalRepo(pool *pgxpool.Pool) *PrincipalRepo {
	return &PrincipalRepo{pool: pool}
}

func (r *PrincipalRepo) Create(ctx context.Context, p *domain.Principal) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO custos_principals (id, kind, name, role, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Kind, p.Name, p.Role, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("principalRepo.Create: %w", err)
	}

	return nil
}

func (r *PrincipalRepo) Get(ctx context.Context, kind string, id uuid.UUID) (*domain.Principal, error) {
	var p domain.Principal

	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, kind, name, role, created_at
		 FROM custos_principals WHERE kind = $1 AND id = $2`,
		kind, id,
	).Scan(&p.ID, &p.Kind, &p.Name, &p.Role, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("principalRepo.Get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("principalRepo.Get: %w", err)
	}

	return &p, nil
}
