// Package sink publishes the final feature table to PostGIS.
package sink

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rooftop-index/internal/db"
	"github.com/sells-group/rooftop-index/internal/resilience"
	"github.com/sells-group/rooftop-index/internal/table"
)

// GeomColumn is the geometry column added to every published table.
const GeomColumn = "the_geom"

const defaultBatchSize = 50000

// Options configure where the table lands.
type Options struct {
	Schema    string
	Table     string
	SRID      int
	BatchSize int
}

// PostGIS replaces a table with the contents of a feature table on every
// write.
type PostGIS struct {
	pool db.Pool
	opts Options
}

// Connect opens a pgx pool for url and waits for it to answer a ping.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, eris.Wrap(err, "sink: parse database url")
	}
	cfg.MaxConns = 4
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "sink: connect")
	}

	retry := resilience.DefaultPolicy()
	retry.OnRetry = resilience.LogRetries("postgis", "ping")
	if err := resilience.Do(ctx, retry, pool.Ping); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "sink: ping")
	}
	return pool, nil
}

// NewPostGIS returns a sink writing through pool.
func NewPostGIS(pool db.Pool, opts Options) *PostGIS {
	if opts.Table == "" {
		opts.Table = "flat_areas"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &PostGIS{pool: pool, opts: opts}
}

// Write drops and recreates the target table from t, then COPYs every row
// with its geometry as EWKB. Returns the number of rows loaded.
func (s *PostGIS) Write(ctx context.Context, t *table.Table) (int64, error) {
	if t == nil {
		t = table.New()
	}
	qualified := s.target().String()
	log := zap.L().With(
		zap.String("component", "sink.postgis"),
		zap.String("table", qualified),
		zap.Int("total_rows", t.Len()),
	)

	for _, stmt := range s.ddl(t) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return 0, eris.Wrapf(err, "sink: prepare %s", qualified)
		}
	}

	columns := append(append([]string{}, t.Columns...), GeomColumn)
	rows := make([][]any, 0, t.Len())
	for i, r := range t.Rows {
		row := make([]any, 0, len(columns))
		for _, col := range t.Columns {
			row = append(row, sqlValue(r.Attrs[col]))
		}
		wkb, err := EncodeEWKB(r.Geom, s.opts.SRID)
		if err != nil {
			return 0, eris.Wrapf(err, "sink: row %d", i)
		}
		row = append(row, wkb)
		rows = append(rows, row)
	}

	var total int64
	for i := 0; i < len(rows); i += s.opts.BatchSize {
		end := min(i+s.opts.BatchSize, len(rows))
		n, err := db.Copy(ctx, s.pool, s.target(), columns, rows[i:end])
		if err != nil {
			return total, eris.Wrapf(err, "sink: COPY into %s (batch %d-%d)", qualified, i, end)
		}
		total += n

		log.Debug("batch loaded",
			zap.Int("batch_start", i),
			zap.Int("batch_end", end),
			zap.Int64("batch_rows", n),
		)
	}

	log.Info("sink: table published", zap.Int64("rows", total))
	return total, nil
}

func (s *PostGIS) target() db.Target {
	return db.Target{Schema: s.opts.Schema, Table: s.opts.Table}
}

// ddl returns the statements that (re)create the target table.
func (s *PostGIS) ddl(t *table.Table) []string {
	qualified := s.target().String()

	var stmts []string
	if s.opts.Schema != "" {
		stmts = append(stmts, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{s.opts.Schema}.Sanitize()))
	}
	stmts = append(stmts, fmt.Sprintf("DROP TABLE IF EXISTS %s", qualified))

	defs := make([]string, 0, len(t.Columns)+1)
	for _, col := range t.Columns {
		defs = append(defs, pgx.Identifier{col}.Sanitize()+" "+sqlType(t, col))
	}
	defs = append(defs, fmt.Sprintf("%s geometry(Geometry, %d)", GeomColumn, s.opts.SRID))
	stmts = append(stmts, fmt.Sprintf("CREATE TABLE %s (%s)", qualified, strings.Join(defs, ", ")))

	idx := pgx.Identifier{fmt.Sprintf("idx_%s_%s", s.opts.Table, GeomColumn)}.Sanitize()
	stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s ON %s USING GIST (%s)", idx, qualified, GeomColumn))
	return stmts
}

// sqlType picks a column type from the values present. Mixed numeric
// columns are double precision; anything involving text is text.
func sqlType(t *table.Table, col string) string {
	typ := ""
	for _, r := range t.Rows {
		var vt string
		switch r.Attrs[col].(type) {
		case nil:
			continue
		case int, int32, int64, uint, uint32, uint64:
			vt = "bigint"
		case float32, float64:
			vt = "double precision"
		case bool:
			vt = "boolean"
		default:
			vt = "text"
		}
		switch {
		case typ == "" || typ == vt:
			typ = vt
		case typ == "text" || vt == "text" || typ == "boolean" || vt == "boolean":
			typ = "text"
		default:
			typ = "double precision"
		}
	}
	if typ == "" {
		return "double precision"
	}
	return typ
}

func sqlValue(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
	case int:
		return int64(x)
	}
	return v
}
