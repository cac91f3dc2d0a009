package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Where accumulates positional filter conditions.
type Where struct {
	conds []string
	args  []any
}

// Add appends a condition; "?" in cond is replaced with the next placeholder.
func (w *Where) Add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1))
}

// AddRaw appends a condition without an argument.
func (w *Where) AddRaw(cond string) {
	w.conds = append(w.conds, cond)
}

// SQL renders the WHERE clause, or an empty string.
func (w *Where) SQL() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conds, " AND ")
}

// Args returns the accumulated arguments.
func (w *Where) Args() []any {
	return w.args
}

// Page appends LIMIT/OFFSET placeholders; a non-positive limit means no limit.
func (w *Where) Page(limit, offset int) string {
	if limit <= 0 {
		if offset <= 0 {
			return ""
		}
		w.args = append(w.args, offset)
		return fmt.Sprintf("OFFSET $%d", len(w.args))
	}
	w.args = append(w.args, limit, offset)
	return fmt.Sprintf("LIMIT $%d OFFSET $%d", len(w.args)-1, len(w.args))
}

// NullInt maps zero ids to NULL.
func NullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
