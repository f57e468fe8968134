package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Target names a table, optionally qualified by schema.
type Target struct {
	Schema string
	Table  string
}

// Identifier returns the pgx identifier for t.
func (t Target) Identifier() pgx.Identifier {
	if t.Schema == "" {
		return pgx.Identifier{t.Table}
	}
	return pgx.Identifier{t.Schema, t.Table}
}

// String returns t quoted for use in SQL text.
func (t Target) String() string {
	return t.Identifier().Sanitize()
}

// Copy loads rows into t with the COPY protocol. No rows is a no-op.
func Copy(ctx context.Context, c Copier, t Target, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := c.CopyFrom(ctx, t.Identifier(), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: copy into %s", t)
	}
	return n, nil
}
