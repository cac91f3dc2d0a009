package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type recordingQuerier struct {
	statements []string
}

func (q *recordingQuerier) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	q.statements = append(q.statements, sql)
	return pgconn.CommandTag{}, nil
}

func (q *recordingQuerier) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	q.statements = append(q.statements, sql)
	return nil, errors.New("no rows source")
}

func (q *recordingQuerier) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	q.statements = append(q.statements, sql)
	return missingRow{}
}

type missingRow struct{}

func (missingRow) Scan(...any) error { return pgx.ErrNoRows }

func TestBalanceLockSerialisesFirstWrite(t *testing.T) {
	q := &recordingQuerier{}
	repo := &txRepository{q: q}

	_, err := repo.GetBalanceForUpdate(context.Background(), Key{ProductID: 1, WarehouseID: 2})
	require.ErrorIs(t, err, ErrBalanceNotFound)
	require.Len(t, q.statements, 2)
	require.Contains(t, q.statements[0], "pg_advisory_xact_lock")
	require.Contains(t, q.statements[1], "FOR UPDATE")
}
