package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/gosuda/custos/internal/domain"
)

// ErrUnknownRecordType is returned for actions on a type nobody registered.
var ErrUnknownRecordType = errors.New("audit: unknown protected record type") //nolint:gochecknoglobals // sentinel error

type recordType struct {
	load  func(ctx context.Context, id uuid.UUID) (domain.Restorable, error)
	blank func() domain.Restorable
}

// Rebuilder reconstructs the record an action was taken on.
type Rebuilder struct {
	mu    sync.RWMutex
	types map[string]recordType
}

func NewRebuilder() *Rebuilder {
	return &Rebuilder{types: make(map[string]recordType)}
}

// RegisterRecord adds a protected record type. get loads the current state
// of a record and blank returns an empty one.
func RegisterRecord[R domain.Restorable](b *Rebuilder, typ string, get func(ctx context.Context, id uuid.UUID) (R, error), blank func() R) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.types[typ] = recordType{
		load: func(ctx context.Context, id uuid.UUID) (domain.Restorable, error) {
			rec, err := get(ctx, id)
			if err != nil {
				return nil, err
			}
			return rec, nil
		},
		blank: func() domain.Restorable { return blank() },
	}
}

// Protected returns the record a was taken on: the record as it stands now
// with a's snapshot laid over it. A destruction, a record that never had an
// id, or one deleted since starts from a blank record instead.
func (b *Rebuilder) Protected(ctx context.Context, a *domain.Action) (domain.Restorable, error) {
	b.mu.RLock()
	t, ok := b.types[a.Protected.Type]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("audit.Rebuilder.Protected(%q): %w", a.Protected.Type, ErrUnknownRecordType)
	}

	rec := t.blank()
	if a.Kind != domain.ActionDestruction && a.Protected.ID.Valid {
		cur, err := t.load(ctx, a.Protected.ID.UUID)
		switch {
		case err == nil:
			rec = cur
		case errors.Is(err, domain.ErrNotFound):
		default:
			return nil, fmt.Errorf("audit.Rebuilder.Protected: load: %w", err)
		}
	}

	if err := rec.Restore(a.Snapshot); err != nil {
		return nil, fmt.Errorf("audit.Rebuilder.Protected: %w", err)
	}
	return rec, nil
}
