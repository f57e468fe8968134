package feature

import (
	"context"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rooftop-index/internal/geomop"
	"github.com/sells-group/rooftop-index/internal/model"
	"github.com/sells-group/rooftop-index/internal/table"
	"github.com/sells-group/rooftop-index/internal/zonal"
)

// ColParapetSlope holds the median slope along the inside edge of the
// parent building.
const ColParapetSlope = "parapet_slope"

// ArgWidth is the parapet ring width in CRS units.
const ArgWidth = "width"

var parapetDef = Definition{
	ID:          ParapetSlope,
	Description: "median slope of a ring along the inside edge of each parent building",
	Optional:    map[string]any{ArgWidth: 1.0},
	Columns:     fixedColumns(ColParapetSlope),
	Validate: func(args Args) error {
		w, err := args.Float(ArgWidth)
		if err != nil {
			return err
		}
		if w <= 0 {
			return eris.Errorf("feature: width must be positive, got %v", w)
		}
		return nil
	},
	Apply: parapetSlope,
}

func parapetSlope(ctx context.Context, in *Inputs, t *table.Table, args Args) (*table.Table, error) {
	width, err := args.Float(ArgWidth)
	if err != nil {
		return nil, model.NewConfigError(string(ParapetSlope), err)
	}
	if in.Footprints == nil || in.IDColumn == "" {
		return nil, model.NewConfigError(string(ParapetSlope), eris.New("feature: building footprints are required"))
	}
	if t.Len() > 0 && !t.HasColumn(in.IDColumn) {
		return nil, model.NewConfigError(string(ParapetSlope), eris.Errorf("feature: flat areas have no %q column", in.IDColumn))
	}

	wanted := make(map[string]bool, t.Len())
	for _, k := range t.Keys(in.IDColumn) {
		wanted[k] = true
	}

	rings := table.New(in.IDColumn)
	for _, r := range in.Footprints.Rows {
		key := r.Key(in.IDColumn)
		if !wanted[key] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ring, err := geomop.InnerRing(r.Geom, width)
		if err != nil {
			return nil, eris.Wrapf(err, "feature: parapet ring for building %s", key)
		}
		if ring == nil {
			continue
		}
		rings.Rows = append(rings.Rows, table.Row{Geom: ring, Attrs: map[string]any{in.IDColumn: key}})
	}

	slope := make(map[string]float64, rings.Len())
	if rings.Len() > 0 {
		records, err := zonal.Stats(rings, in.IDColumn, in.Slope, zonal.Median)
		if err != nil {
			return nil, eris.Wrap(err, "feature: parapet slope")
		}
		for _, rec := range records {
			slope[rec.Key] = rec.Stats[zonal.Median]
		}
	}

	out := t.Clone()
	out.AddColumn(ColParapetSlope)
	for _, r := range out.Rows {
		v, ok := slope[r.Key(in.IDColumn)]
		if !ok {
			v = math.NaN()
		}
		r.Attrs[ColParapetSlope] = v
	}
	return out, nil
}
