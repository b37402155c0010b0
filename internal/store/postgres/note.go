package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/custos/internal/domain"
)

type NoteRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewNoteRepo(pool *pgxpool.Pool) *NoteRepo {
	return &NoteRepo{pool: pool, now: time.Now}
}

// Insert assigns the id and timestamps of n before writing it.
func (r *NoteRepo) Insert(ctx context.Context, n *domain.Note) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Sensitivity == "" {
		n.Sensitivity = domain.SensitivityNormal
	}
	now := r.now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now

	_, err := conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO notes (id, patient_id, title, body, sensitivity, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.PatientID, n.Title, n.Body, n.Sensitivity, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("noteRepo.Insert: %w", err)
	}

	return nil
}

func (r *NoteRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Note, error) {
	var n domain.Note

	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, patient_id, title, body, sensitivity, created_at, updated_at
		 FROM notes WHERE id = $1`,
		id,
	).Scan(&n.ID, &n.PatientID, &n.Title, &n.Body, &n.Sensitivity, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("noteRepo.Get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("noteRepo.Get: %w", err)
	}

	return &n, nil
}

func (r *NoteRepo) Update(ctx context.Context, n *domain.Note) error {
	n.UpdatedAt = r.now().UTC()

	tag, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE notes SET patient_id = $1, title = $2, body = $3, sensitivity = $4, updated_at = $5
		 WHERE id = $6`,
		n.PatientID, n.Title, n.Body, n.Sensitivity, n.UpdatedAt, n.ID,
	)
	if err != nil {
		return fmt.Errorf("noteRepo.Update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("noteRepo.Update: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *NoteRepo) Delete(ctx context.Context, n *domain.Note) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM notes WHERE id = $1`, n.ID)
	if err != nil {
		return fmt.Errorf("noteRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("noteRepo.Delete: %w", domain.ErrNotFound)
	}

	return nil
}

// List returns notes newest first. id breaks ties so that pages do not
// overlap.
func (r *NoteRepo) List(ctx context.Context, limit, offset int) ([]*domain.Note, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT id, patient_id, title, body, sensitivity, created_at, updated_at
		 FROM notes ORDER BY created_at DESC, id DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("noteRepo.List: %w", err)
	}
	defer rows.Close()

	var notes []*domain.Note
	for rows.Next() {
		var n domain.Note

		err = rows.Scan(&n.ID, &n.PatientID, &n.Title, &n.Body, &n.Sensitivity, &n.CreatedAt, &n.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("noteRepo.List: scan: %w", err)
		}

		notes = append(notes, &n)
	}
	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("noteRepo.List: rows: %w", err)
	}

	return notes, nil
}
