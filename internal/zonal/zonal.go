// Package zonal aggregates raster cells per polygon. A cell belongs to a
// polygon when its center falls inside it; nodata cells are skipped.
package zonal

import (
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rooftop-index/internal/raster"
	"github.com/sells-group/rooftop-index/internal/table"
)

// Stat names an aggregate.
type Stat string

// Built-in and area aggregates.
const (
	Count  Stat = "count"
	Sum    Stat = "sum"
	Mean   Stat = "mean"
	Median Stat = "median"
	Min    Stat = "min"
	Max    Stat = "max"
	// FlatArea is the sum of a 0/1 mask times the cell area: the area of
	// cells flagged 1.
	FlatArea Stat = "flat_area"
	// TotalArea is the number of valid (non-nodata) cells times the cell
	// area. Zero-valued and negative cells count.
	TotalArea Stat = "total_area"
)

var known = []Stat{Count, Sum, Mean, Median, Min, Max, FlatArea, TotalArea}

// ParseStat validates a stat name.
func ParseStat(s string) (Stat, error) {
	st := Stat(s)
	if !slices.Contains(known, st) {
		return "", eris.Errorf("zonal: unknown stat %q", s)
	}
	return st, nil
}

// Record is the aggregate result for one polygon, tagged with its join key.
// A stat is NaN when the polygon covers no cell of the raster.
type Record struct {
	Key   string
	Geom  orb.Geometry
	Stats map[Stat]float64
}

// Values returns the valid cell values whose centers lie inside geom.
// covered is false when no cell center of the raster falls inside geom,
// which is the case for polygons outside the raster extent.
func Values(geom orb.Geometry, g raster.Grid) (values []float64, covered bool) {
	polys := table.Polygons(geom)
	if len(polys) == 0 {
		return nil, false
	}
	b := geom.Bound()
	col0, row0, col1, row1, ok := g.Window(b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y())
	if !ok {
		return nil, false
	}

	for row := row0; row < row1; row++ {
		for col := col0; col < col1; col++ {
			x, y := g.CellCenter(col, row)
			if !containsAny(polys, orb.Point{x, y}) {
				continue
			}
			covered = true
			v := g.At(col, row)
			if g.IsNoData(v) {
				continue
			}
			values = append(values, v)
		}
	}
	return values, covered
}

func containsAny(polys []orb.Polygon, p orb.Point) bool {
	for _, poly := range polys {
		if poly.Bound().Contains(p) && planar.PolygonContains(poly, p) {
			return true
		}
	}
	return false
}

// Polygon computes the requested stats for a single geometry.
func Polygon(geom orb.Geometry, g raster.Grid, stats []Stat) map[Stat]float64 {
	values, covered := Values(geom, g)
	out := make(map[Stat]float64, len(stats))
	for _, st := range stats {
		if !covered {
			out[st] = math.NaN()
			continue
		}
		out[st] = Aggregate(st, values, g.CellArea())
	}
	return out
}

// Aggregate reduces valid cell values to one stat. Value stats over an
// empty set are NaN; count and the area stats are zero.
func Aggregate(st Stat, values []float64, cellArea float64) float64 {
	switch st {
	case Count:
		return float64(len(values))
	case TotalArea:
		return float64(len(values)) * cellArea
	case FlatArea:
		return sum(values) * cellArea
	}

	if len(values) == 0 {
		return math.NaN()
	}
	switch st {
	case Sum:
		return sum(values)
	case Mean:
		return sum(values) / float64(len(values))
	case Median:
		return median(values)
	case Min:
		return slices.Min(values)
	case Max:
		return slices.Max(values)
	default:
		return math.NaN()
	}
}

func sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}

func median(values []float64) float64 {
	s := slices.Clone(values)
	slices.Sort(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// Stats computes stats for every row of t, keyed by the key column.
func Stats(t *table.Table, key string, g raster.Grid, stats ...Stat) ([]Record, error) {
	if err := g.Validate(); err != nil {
		return nil, eris.Wrap(err, "zonal: raster")
	}
	if len(stats) == 0 {
		return nil, eris.New("zonal: no stats requested")
	}

	records := make([]Record, 0, t.Len())
	for _, r := range t.Rows {
		records = append(records, Record{
			Key:   r.Key(key),
			Geom:  r.Geom,
			Stats: Polygon(r.Geom, g, stats),
		})
	}
	return records, nil
}

// Join merges records onto t by key, writing each stat into the column
// named by columns. Rows without a record get NaN. When t has no rows the
// records themselves become the table: one row per record with the key
// column, its geometry and the stat columns.
func Join(t *table.Table, records []Record, key string, columns map[Stat]string) *table.Table {
	stats := make([]Stat, 0, len(columns))
	for st := range columns {
		stats = append(stats, st)
	}
	slices.Sort(stats)

	if t.Len() == 0 {
		out := table.New(key)
		for _, st := range stats {
			out.AddColumn(columns[st])
		}
		for _, rec := range records {
			attrs := map[string]any{key: rec.Key}
			for _, st := range stats {
				attrs[columns[st]] = value(rec, st)
			}
			out.Rows = append(out.Rows, table.Row{Geom: rec.Geom, Attrs: attrs})
		}
		return out
	}

	byKey := make(map[string]Record, len(records))
	for _, rec := range records {
		byKey[rec.Key] = rec
	}

	out := t.Clone()
	for _, st := range stats {
		out.AddColumn(columns[st])
	}
	for _, r := range out.Rows {
		rec, ok := byKey[r.Key(key)]
		for _, st := range stats {
			if !ok {
				r.Attrs[columns[st]] = math.NaN()
				continue
			}
			r.Attrs[columns[st]] = value(rec, st)
		}
	}
	return out
}

func value(rec Record, st Stat) float64 {
	v, ok := rec.Stats[st]
	if !ok {
		return math.NaN()
	}
	return v
}
