package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CopyFromSlice bulk-inserts rows with the COPY protocol. It requires the
// transaction in ctx so the rows commit or roll back with the caller.
func (m *TxManager) CopyFromSlice(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	t := m.GetTx(ctx)
	if t == nil {
		return 0, fmt.Errorf("copy into %s requires a transaction", table)
	}
	n, err := t.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, MapError(fmt.Errorf("copy into %s: %w", table, err), table)
	}
	return n, nil
}
