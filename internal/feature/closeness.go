package feature

import (
	"context"
	"math"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rooftop-index/internal/model"
	"github.com/sells-group/rooftop-index/internal/table"
)

// ArgPoints lists the point layers closeness_to_points measures against.
const ArgPoints = "points"

var closenessDef = Definition{
	ID:          ClosenessToPoints,
	Description: "distance from each flat area's centroid to the nearest point of each layer",
	Required:    []string{ArgPoints},
	Columns: func(args Args) []string {
		paths, _ := args.Strings(ArgPoints)
		cols := make([]string, len(paths))
		for i, p := range paths {
			cols[i] = LayerColumn(p)
		}
		return cols
	},
	Validate: func(args Args) error {
		paths, err := args.Strings(ArgPoints)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return eris.New("feature: points needs at least one layer")
		}
		seen := map[string]string{}
		for _, p := range paths {
			col := LayerColumn(p)
			if prev, dup := seen[col]; dup {
				return eris.Errorf("feature: layers %s and %s both map to column %q", prev, p, col)
			}
			seen[col] = p
		}
		return nil
	},
	Apply: closeness,
}

// LayerColumn names a point layer's column: the file name without its
// extension.
func LayerColumn(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func closeness(ctx context.Context, in *Inputs, t *table.Table, args Args) (*table.Table, error) {
	paths, err := args.Strings(ArgPoints)
	if err != nil {
		return nil, model.NewConfigError(string(ClosenessToPoints), err)
	}
	if in.Vectors == nil {
		return nil, model.NewConfigError(string(ClosenessToPoints), eris.New("feature: no vector reader for point layers"))
	}

	out := t.Clone()
	centroids := make([]orb.Point, out.Len())
	for i, r := range out.Rows {
		centroids[i], _ = planar.CentroidArea(r.Geom)
	}

	for _, path := range paths {
		layer, err := in.Vectors.ReadVector(ctx, path)
		if err != nil {
			return nil, eris.Wrapf(err, "feature: read point layer %s", path)
		}
		points := layerPoints(layer)
		col := LayerColumn(path)
		out.AddColumn(col)
		for i, r := range out.Rows {
			r.Attrs[col] = nearest(centroids[i], points)
		}
	}
	return out, nil
}

func layerPoints(t *table.Table) []orb.Point {
	var out []orb.Point
	for _, r := range t.Rows {
		switch g := r.Geom.(type) {
		case orb.Point:
			out = append(out, g)
		case orb.MultiPoint:
			out = append(out, g...)
		}
	}
	return out
}

// nearest returns the distance from p to the closest point, NaN when there
// are none.
func nearest(p orb.Point, points []orb.Point) float64 {
	best := math.NaN()
	for _, q := range points {
		d := planar.Distance(p, q)
		if math.IsNaN(best) || d < best {
			best = d
		}
	}
	return best
}
