package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/custos/internal/domain"
)

// ActionRepo is the append-only action log. Every method runs on the unit
// of work carried by its context, or on the pool when there is none.
type ActionRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewActionRepo(pool *pgxpool.Pool) *ActionRepo {
	return &ActionRepo{pool: pool, now: time.Now}
}

func (r *ActionRepo) InsertOne(ctx context.Context, a *domain.Action) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("actionRepo.InsertOne: %w", err)
	}

	id, err := newActionID()
	if err != nil {
		return fmt.Errorf("actionRepo.InsertOne: %w", err)
	}
	createdAt := r.now().UTC()

	row, err := rowFor(a, id, createdAt)
	if err != nil {
		return fmt.Errorf("actionRepo.InsertOne: %w", err)
	}

	sql, args := buildInsert(actionsTable, []actionRow{row})
	if _, err := conn(ctx, r.pool).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("actionRepo.InsertOne: %w", err)
	}

	a.ID = id
	a.CreatedAt = createdAt
	return nil
}

// BulkInsert validates the whole batch before writing any of it, then
// writes every row with one shared created_at.
func (r *ActionRepo) BulkInsert(ctx context.Context, actions []*domain.Action) error {
	if len(actions) == 0 {
		return nil
	}

	for i, a := range actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("actionRepo.BulkInsert: action %d: %w", i, err)
		}
	}

	createdAt := r.now().UTC()
	ids := make([]uuid.UUID, len(actions))
	rows := make([]actionRow, len(actions))
	for i, a := range actions {
		id, err := newActionID()
		if err != nil {
			return fmt.Errorf("actionRepo.BulkInsert: action %d: %w", i, err)
		}
		ids[i] = id
		row, err := rowFor(a, id, createdAt)
		if err != nil {
			return fmt.Errorf("actionRepo.BulkInsert: action %d: %w", i, err)
		}
		rows[i] = row
	}

	chunks := chunkRows(rows, len(unionColumns(rows)))
	if len(chunks) == 1 {
		sql, args := buildInsert(actionsTable, rows)
		if _, err := conn(ctx, r.pool).Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("actionRepo.BulkInsert: %w", err)
		}
	} else if err := r.insertChunks(ctx, chunks); err != nil {
		return fmt.Errorf("actionRepo.BulkInsert: %w", err)
	}

	for i, a := range actions {
		a.ID = ids[i]
		a.CreatedAt = createdAt
	}
	return nil
}

// insertChunks writes oversized batches inside one (nested) transaction so
// the batch still lands all-or-nothing.
func (r *ActionRepo) insertChunks(ctx context.Context, chunks [][]actionRow) error {
	tx, err := conn(ctx, r.pool).Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer rollback(ctx, tx)

	for _, chunk := range chunks {
		sql, args := buildInsert(actionsTable, chunk)
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// newActionID returns a time-ordered id. Actions of one batch share their
// timestamps, so the id is what keeps them in write order.
func newActionID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate id: %w", err)
	}
	return id, nil
}

func (r *ActionRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Action, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, actionSelect+` WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("actionRepo.Get: %w", err)
	}
	defer rows.Close()

	actions, err := scanActions(rows, "actionRepo.Get")
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("actionRepo.Get: %w", domain.ErrNotFound)
	}

	return actions[0], nil
}

// Find returns matching actions, most recent first.
func (r *ActionRepo) Find(ctx context.Context, f domain.ActionFilter) ([]*domain.Action, error) {
	sql, args := buildFind(f)

	rows, err := conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("actionRepo.Find: %w", err)
	}
	defer rows.Close()

	return scanActions(rows, "actionRepo.Find")
}

func (r *ActionRepo) Count(ctx context.Context, f domain.ActionFilter) (int, error) {
	sql, args := buildCount(f)

	var n int
	err := conn(ctx, r.pool).QueryRow(ctx, sql, args...).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("actionRepo.Count: %w", err)
	}

	return n, nil
}

func scanActions(rows pgx.Rows, caller string) ([]*domain.Action, error) {
	var actions []*domain.Action
	for rows.Next() {
		var (
			a           domain.Action
			agentType   string
			agentID     uuid.NullUUID
			protectedID uuid.NullUUID
			snap        []byte
			kind        string
		)

		if err := rows.Scan(
			&a.ID, &agentType, &agentID, &a.Protected.Type, &protectedID,
			&snap, &kind, &a.PerformedAt, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", caller, err)
		}

		if agentID.Valid {
			a.Agent = domain.IdentifiedAgent(agentType, agentID.UUID)
		} else {
			a.Agent = domain.SingletonAgent(agentType)
		}
		a.Protected.ID = protectedID
		a.Kind = domain.ActionKind(kind)
		if err := json.Unmarshal(snap, &a.Snapshot); err != nil {
			return nil, fmt.Errorf("%s: unmarshal snapshot: %w", caller, err)
		}

		actions = append(actions, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", caller, err)
	}

	return actions, nil
}
