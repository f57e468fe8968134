package geomop

import (
	"maps"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rooftop-index/internal/table"
)

// Overlay intersects every row of a with every row of b whose bounds
// overlap and returns one row per non-empty areal intersection. Each output
// row carries a's attributes followed by b's; b wins on name clashes. The
// output keeps a's row order, then b's.
func Overlay(a, b *table.Table) (*table.Table, error) {
	out := table.New(a.Columns...)
	for _, c := range b.Columns {
		out.AddColumn(c)
	}

	bounds := make([]orb.Bound, b.Len())
	for j, rb := range b.Rows {
		if rb.Geom != nil {
			bounds[j] = rb.Geom.Bound()
		}
	}

	for i, ra := range a.Rows {
		if ra.Geom == nil {
			continue
		}
		ba := ra.Geom.Bound()
		for j, rb := range b.Rows {
			if rb.Geom == nil || !ba.Intersects(bounds[j]) {
				continue
			}
			g, err := Intersection(ra.Geom, rb.Geom)
			if err != nil {
				return nil, eris.Wrapf(err, "geomop: overlay row %d with row %d", i, j)
			}
			if g == nil {
				continue
			}
			attrs := maps.Clone(ra.Attrs)
			if attrs == nil {
				attrs = map[string]any{}
			}
			maps.Copy(attrs, rb.Attrs)
			out.Rows = append(out.Rows, table.Row{Geom: g, Attrs: attrs})
		}
	}
	return out, nil
}
