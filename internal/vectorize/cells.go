package vectorize

import (
	"context"
	"slices"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rooftop-index/internal/geomop"
	"github.com/sells-group/rooftop-index/internal/raster"
	"github.com/sells-group/rooftop-index/internal/table"
)

// Cells vectorizes in process: it labels 4-connected components of equal
// value, then dissolves each component's cells with GEOS. Regions come out
// in row-major order of their first cell.
type Cells struct {
	// Values limits tracing to regions with these values. Empty traces
	// every value.
	Values []float64
}

// Vectorize implements Vectorizer.
func (c Cells) Vectorize(ctx context.Context, g raster.Grid) ([]Region, error) {
	if err := g.Validate(); err != nil {
		return nil, eris.Wrap(err, "vectorize: cells")
	}

	visited := make([]bool, len(g.Data))
	var regions []Region
	queue := make([]int, 0, 64)

	for start, v := range g.Data {
		if visited[start] {
			continue
		}
		visited[start] = true
		if g.IsNoData(v) || (len(c.Values) > 0 && !slices.Contains(c.Values, v)) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Flood fill the component.
		cells := []int{start}
		queue = append(queue[:0], start)
		for len(queue) > 0 {
			i := queue[0]
			queue = queue[1:]
			col, row := i%g.Width, i/g.Width
			for _, n := range [4][2]int{{col - 1, row}, {col + 1, row}, {col, row - 1}, {col, row + 1}} {
				if n[0] < 0 || n[0] >= g.Width || n[1] < 0 || n[1] >= g.Height {
					continue
				}
				j := n[1]*g.Width + n[0]
				if visited[j] || g.Data[j] != v {
					continue
				}
				visited[j] = true
				cells = append(cells, j)
				queue = append(queue, j)
			}
		}

		geom, err := geomop.Union(runs(g, cells))
		if err != nil {
			return nil, eris.Wrapf(err, "vectorize: dissolve region at cell %d", start)
		}
		for _, poly := range table.Polygons(geom) {
			regions = append(regions, Region{Value: v, Polygon: poly})
		}
	}
	return regions, nil
}

// runs merges a component's cells into one rectangle per horizontal run so
// the union has far fewer inputs than cells.
func runs(g raster.Grid, cells []int) []orb.Geometry {
	slices.Sort(cells)
	var out []orb.Geometry
	for k := 0; k < len(cells); {
		first := cells[k]
		row := first / g.Width
		last := first
		for k+1 < len(cells) && cells[k+1] == last+1 && cells[k+1]/g.Width == row {
			k++
			last = cells[k]
		}
		k++

		x0, y0 := g.CellCorner(first%g.Width, row)
		x1, y1 := g.CellCorner(last%g.Width+1, row+1)
		minX, maxX := min(x0, x1), max(x0, x1)
		minY, maxY := min(y0, y1), max(y0, y1)
		out = append(out, orb.Polygon{orb.Ring{
			{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
		}})
	}
	return out
}
