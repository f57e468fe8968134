package flatroof

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strconv"

	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rooftop-index/internal/geomop"
	"github.com/sells-group/rooftop-index/internal/model"
	"github.com/sells-group/rooftop-index/internal/raster"
	"github.com/sells-group/rooftop-index/internal/table"
	"github.com/sells-group/rooftop-index/internal/vectorize"
)

// Columns of the disaggregated table. Footprint area columns are renamed on
// the way in so flat_area refers to the polygon itself.
const (
	ColFAID          = "faid"
	ColBldgTotalArea = "bldg_total_area"
	ColBldgFlatArea  = "bldg_flat_area"
)

// DisaggregateOptions tunes Disaggregate.
type DisaggregateOptions struct {
	// SlopeThreshold in degrees; cells at or below it are flat.
	SlopeThreshold float64
	// MinAreaSqft drops polygons at or below this area.
	MinAreaSqft float64
	// IDColumn is the parent footprint key.
	IDColumn string
}

// DefaultDisaggregateOptions returns 11 degrees and 1000 square feet.
func DefaultDisaggregateOptions() DisaggregateOptions {
	return DisaggregateOptions{SlopeThreshold: 11, MinAreaSqft: 1000, IDColumn: "bldg_id"}
}

// Disaggregate splits flat footprints into single-part flat-area polygons
// with a deterministic faid, flat_area in square feet and the parent's
// attributes.
func Disaggregate(ctx context.Context, v vectorize.Vectorizer, slope raster.Grid, flat *table.Table, opts DisaggregateOptions) (*table.Table, error) {
	if opts.IDColumn == "" {
		return nil, model.NewConfigError("disaggregate", eris.New("flatroof: id column is required"))
	}

	parents := flat.Clone()
	parents.RenameColumn(ColTotalArea, ColBldgTotalArea)
	parents.RenameColumn(ColFlatArea, ColBldgFlatArea)

	columns := append([]string{ColFAID, ColFlatArea}, parents.Columns...)
	out := table.New(columns...)
	if flat.Len() == 0 {
		return out, nil
	}

	log := zap.L().With(zap.String("component", "flatroof"))

	mask := raster.Binarize(slope, opts.SlopeThreshold, raster.AtOrBelow)
	regions, err := v.Vectorize(ctx, mask)
	if err != nil {
		if model.IsProcessError(err) {
			return nil, err
		}
		return nil, eris.Wrap(err, "flatroof: vectorize")
	}
	flatRegions := vectorize.Only(regions, 1)

	overlaid, err := geomop.Overlay(vectorize.ToTable(flatRegions), parents)
	if err != nil {
		return nil, eris.Wrap(err, "flatroof: overlay")
	}
	parts := table.Explode(overlaid)

	type candidate struct {
		row  table.Row
		key  string
		area float64
	}
	var kept []candidate
	for _, r := range parts.Rows {
		area := planar.Area(r.Geom) * SqftPerSqm
		if !(area > opts.MinAreaSqft) {
			continue
		}
		kept = append(kept, candidate{row: r, key: r.Key(opts.IDColumn), area: area})
	}

	slices.SortStableFunc(kept, func(a, b candidate) int {
		if c := compareKeys(a.key, b.key); c != 0 {
			return c
		}
		ba, bb := a.row.Geom.Bound(), b.row.Geom.Bound()
		if c := cmp.Compare(ba.Min.X(), bb.Min.X()); c != 0 {
			return c
		}
		if c := cmp.Compare(ba.Min.Y(), bb.Min.Y()); c != 0 {
			return c
		}
		return cmp.Compare(a.area, b.area)
	})

	for i, c := range kept {
		attrs := make(map[string]any, len(columns))
		for _, col := range parents.Columns {
			if v, ok := c.row.Attrs[col]; ok {
				attrs[col] = v
			}
		}
		attrs[ColFAID] = i
		attrs[ColFlatArea] = c.area
		out.Rows = append(out.Rows, table.Row{Geom: c.row.Geom, Attrs: attrs})
	}

	log.Info("flatroof: disaggregated flat areas",
		zap.Int("buildings", flat.Len()),
		zap.Int("regions", len(flatRegions)),
		zap.Int("parts", parts.Len()),
		zap.Int("flat_areas", out.Len()),
	)
	return out, nil
}

// compareKeys orders numeric keys numerically and everything else
// lexically. Numbers sort before strings.
func compareKeys(a, b string) int {
	fa, numA := numeric(a)
	fb, numB := numeric(b)
	switch {
	case numA && numB:
		return cmp.Compare(fa, fb)
	case numA:
		return -1
	case numB:
		return 1
	default:
		return cmp.Compare(a, b)
	}
}

func numeric(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil && !math.IsNaN(f)
}
