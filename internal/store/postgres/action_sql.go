package postgres

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gosuda/custos/internal/domain"
)

const actionsTable = "custos_actions"

// maxBindParams is the PostgreSQL limit on parameters per statement.
const maxBindParams = 65535

// actionColumns is the canonical column order of the actions table.
var actionColumns = []string{ //nolint:gochecknoglobals // fixed table layout
	"id", "agent_type", "agent_id", "protected_type", "protected_id",
	"protected_attributes", "kind", "performed_at", "created_at",
}

const actionSelect = `SELECT id, agent_type, agent_id, protected_type, protected_id, protected_attributes, kind, performed_at, created_at FROM custos_actions`

// actionRow is the set of populated columns for one action.
type actionRow map[string]any

func rowFor(a *domain.Action, id uuid.UUID, createdAt time.Time) (actionRow, error) {
	snap, err := json.Marshal(a.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	row := actionRow{
		"id":                   id,
		"agent_type":           a.Agent.Kind(),
		"protected_type":       a.Protected.Type,
		"protected_attributes": snap,
		"kind":                 string(a.Kind),
		"performed_at":         a.PerformedAt,
		"created_at":           createdAt,
	}
	if agentID, ok := a.Agent.ID(); ok {
		row["agent_id"] = agentID
	}
	if a.Protected.ID.Valid {
		row["protected_id"] = a.Protected.ID.UUID
	}

	return row, nil
}

// unionColumns returns, in canonical order, every column set in any row.
func unionColumns(rows []actionRow) []string {
	var cols []string
	for _, c := range actionColumns {
		for _, r := range rows {
			if _, ok := r[c]; ok {
				cols = append(cols, c)
				break
			}
		}
	}
	return cols
}

// buildInsert renders one multi-row INSERT over the union of the rows'
// columns. A column missing from a row is bound as NULL.
func buildInsert(table string, rows []actionRow) (string, []any) {
	cols := unionColumns(rows)

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgx.Identifier{table}.Sanitize())
	b.WriteString(" (")
	b.WriteString(strings.Join(quoted, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(cols))
	n := 1
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, c := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			args = append(args, r[c])
		}
		b.WriteByte(')')
	}

	return b.String(), args
}

// chunkRows splits rows so that no statement exceeds the bind limit.
func chunkRows(rows []actionRow, cols int) [][]actionRow {
	per := maxBindParams / max(cols, 1)
	var out [][]actionRow
	for len(rows) > per {
		out = append(out, rows[:per])
		rows = rows[per:]
	}
	return append(out, rows)
}

// buildWhere renders the filter as a WHERE clause with $N placeholders
// starting at 1.
func buildWhere(f domain.ActionFilter) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(" WHERE 1=1")

	add := func(clause string, v any) {
		args = append(args, v)
		fmt.Fprintf(&b, clause, len(args))
	}

	if f.Protected != nil {
		add(" AND protected_type = $%d", f.Protected.Type)
		if f.Protected.ID.Valid {
			add(" AND protected_id = $%d", f.Protected.ID.UUID)
		}
	}
	if f.Agent != nil {
		add(" AND agent_type = $%d", f.Agent.Kind())
		if id, ok := f.Agent.ID(); ok {
			add(" AND agent_id = $%d", id)
		} else {
			b.WriteString(" AND agent_id IS NULL")
		}
	}
	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		add(" AND kind = ANY($%d)", kinds)
	}
	if !f.Since.IsZero() {
		add(" AND performed_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add(" AND performed_at < $%d", f.Until)
	}

	return b.String(), args
}

// buildFind renders the most-recent-first query for f.
func buildFind(f domain.ActionFilter) (string, []any) {
	where, args := buildWhere(f)
	q := actionSelect + where + " ORDER BY created_at DESC, performed_at DESC, id DESC"

	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += " LIMIT $" + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += " OFFSET $" + strconv.Itoa(len(args))
	}

	return q, args
}

func buildCount(f domain.ActionFilter) (string, []any) {
	where, args := buildWhere(f)
	return "SELECT COUNT(*) FROM custos_actions" + where, args
}
