// Package vectorize converts a single-band raster into polygons, one per
// 4-connected region of equal value. Nodata cells produce no polygon.
package vectorize

import (
	"context"

	"github.com/paulmach/orb"

	"github.com/sells-group/rooftop-index/internal/raster"
	"github.com/sells-group/rooftop-index/internal/table"
)

// ValueColumn is the attribute holding a region's raster value.
const ValueColumn = "DN"

// Region is one contiguous equal-value area.
type Region struct {
	Value   float64
	Polygon orb.Polygon
}

// Vectorizer turns a grid into regions.
type Vectorizer interface {
	Vectorize(ctx context.Context, g raster.Grid) ([]Region, error)
}

// ToTable lays regions out as a table with a single DN column.
func ToTable(regions []Region) *table.Table {
	t := table.New(ValueColumn)
	for _, r := range regions {
		t.Rows = append(t.Rows, table.Row{Geom: r.Polygon, Attrs: map[string]any{ValueColumn: r.Value}})
	}
	return t
}

// Only returns the regions whose value is v.
func Only(regions []Region, v float64) []Region {
	var out []Region
	for _, r := range regions {
		if r.Value == v {
			out = append(out, r)
		}
	}
	return out
}
