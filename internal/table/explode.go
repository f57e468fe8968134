package table

import (
	"github.com/paulmach/orb"
)

// Explode splits every multi-part geometry into one row per polygon part,
// duplicating the attributes onto each part. Non-areal parts (points, lines
// left over from an overlay) are dropped, as are rows with no polygon at all.
func Explode(t *Table) *Table {
	out := New(t.Columns...)
	for _, r := range t.Rows {
		for _, p := range Polygons(r.Geom) {
			c := r.Clone()
			c.Geom = p
			out.Rows = append(out.Rows, c)
		}
	}
	return out
}

// Polygons flattens g into its single polygon parts.
func Polygons(g orb.Geometry) []orb.Polygon {
	switch x := g.(type) {
	case orb.Polygon:
		if len(x) == 0 || len(x[0]) == 0 {
			return nil
		}
		return []orb.Polygon{x}
	case orb.MultiPolygon:
		var out []orb.Polygon
		for _, p := range x {
			out = append(out, Polygons(p)...)
		}
		return out
	case orb.Collection:
		var out []orb.Polygon
		for _, c := range x {
			out = append(out, Polygons(c)...)
		}
		return out
	case orb.Bound:
		return []orb.Polygon{x.ToPolygon()}
	default:
		return nil
	}
}

// IsSinglePart reports whether g is a lone polygon.
func IsSinglePart(g orb.Geometry) bool {
	_, ok := g.(orb.Polygon)
	return ok
}
