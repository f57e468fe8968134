// Package table is the polygon attribute table passed between pipeline
// stages: ordered columns, one geometry and one attribute map per row.
package table

import (
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
)

// Row is a single feature: its geometry and its attribute values keyed by
// column name.
type Row struct {
	Geom  orb.Geometry
	Attrs map[string]any
}

// Get returns the attribute stored under col.
func (r Row) Get(col string) (any, bool) {
	v, ok := r.Attrs[col]
	return v, ok
}

// Float returns col as a float64. Missing or nil values come back as NaN.
func (r Row) Float(col string) float64 {
	v, ok := r.Attrs[col]
	if !ok {
		return math.NaN()
	}
	return ToFloat(v)
}

// Key returns col normalized to a string so ids read from different formats
// (int from shapefiles, float64 from GeoJSON) join on equal values.
func (r Row) Key(col string) string {
	return KeyString(r.Attrs[col])
}

// Clone copies the attribute map. Geometry is shared.
func (r Row) Clone() Row {
	attrs := make(map[string]any, len(r.Attrs))
	for k, v := range r.Attrs {
		attrs[k] = v
	}
	return Row{Geom: r.Geom, Attrs: attrs}
}

// Table is an ordered set of rows with a declared column order.
type Table struct {
	Columns []string
	Rows    []Row
}

// New returns an empty table with the given columns.
func New(columns ...string) *Table {
	return &Table{Columns: slices.Clone(columns)}
}

// Len returns the row count.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// HasColumn reports whether col is declared.
func (t *Table) HasColumn(col string) bool {
	return slices.Contains(t.Columns, col)
}

// AddColumn declares col if it is not declared yet.
func (t *Table) AddColumn(col string) {
	if !t.HasColumn(col) {
		t.Columns = append(t.Columns, col)
	}
}

// RenameColumn renames a column and the matching attribute on every row.
func (t *Table) RenameColumn(from, to string) {
	idx := slices.Index(t.Columns, from)
	if idx < 0 {
		return
	}
	t.Columns[idx] = to
	for _, r := range t.Rows {
		if v, ok := r.Attrs[from]; ok {
			delete(r.Attrs, from)
			r.Attrs[to] = v
		}
	}
}

// Append adds a row. Attribute names not yet declared are appended to the
// column list in sorted order.
func (t *Table) Append(geom orb.Geometry, attrs map[string]any) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	var extra []string
	for k := range attrs {
		if !t.HasColumn(k) {
			extra = append(extra, k)
		}
	}
	slices.Sort(extra)
	t.Columns = append(t.Columns, extra...)
	t.Rows = append(t.Rows, Row{Geom: geom, Attrs: attrs})
}

// Clone deep-copies rows and columns. Geometries are shared; stages never
// mutate them in place.
func (t *Table) Clone() *Table {
	out := &Table{Columns: slices.Clone(t.Columns), Rows: make([]Row, len(t.Rows))}
	for i, r := range t.Rows {
		out.Rows[i] = r.Clone()
	}
	return out
}

// Select returns a new table with only the given columns, in that order.
func (t *Table) Select(columns ...string) *Table {
	out := New(columns...)
	out.Rows = make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		attrs := make(map[string]any, len(columns))
		for _, c := range columns {
			if v, ok := r.Attrs[c]; ok {
				attrs[c] = v
			}
		}
		out.Rows[i] = Row{Geom: r.Geom, Attrs: attrs}
	}
	return out
}

// Filter returns a new table holding the rows for which keep is true.
func (t *Table) Filter(keep func(Row) bool) *Table {
	out := New(t.Columns...)
	for _, r := range t.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, r.Clone())
		}
	}
	return out
}

// Index maps the normalized key column to row positions. Duplicate keys are
// an error.
func (t *Table) Index(key string) (map[string]int, error) {
	idx := make(map[string]int, len(t.Rows))
	for i, r := range t.Rows {
		k := r.Key(key)
		if _, dup := idx[k]; dup {
			return nil, eris.Errorf("table: duplicate key %q in column %s", k, key)
		}
		idx[k] = i
	}
	return idx, nil
}

// Keys returns the normalized values of the key column in row order.
func (t *Table) Keys(key string) []string {
	keys := make([]string, len(t.Rows))
	for i, r := range t.Rows {
		keys[i] = r.Key(key)
	}
	return keys
}

// KeyString normalizes an attribute value for joining. Integral floats print
// without a fractional part.
func KeyString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return KeyString(float64(x))
	default:
		return fmt.Sprint(v)
	}
}

// ToFloat converts numeric attribute values to float64. Anything else,
// including nil, is NaN.
func ToFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}
