// Package flatroof finds flat roofs: it classifies building footprints by
// the share of low-slope cells they cover, then splits the flat buildings
// into discrete flat-area polygons.
package flatroof

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rooftop-index/internal/model"
	"github.com/sells-group/rooftop-index/internal/raster"
	"github.com/sells-group/rooftop-index/internal/table"
	"github.com/sells-group/rooftop-index/internal/zonal"
)

// Unit conversions from metric rasters to the feet the outputs are
// reported in.
const (
	SqftPerSqm = 10.7639
	FtPerM     = 3.28084
)

// Output columns of the classifier.
const (
	ColTotalArea = "total_area"
	ColFlatArea  = "flat_area"
)

// ClassifyOptions tunes Classify.
type ClassifyOptions struct {
	// SlopeThreshold in degrees; cells strictly below it are flat.
	SlopeThreshold float64
	// AreaThreshold is the minimum percent of flat area, exclusive.
	AreaThreshold float64
	// UnitConvert reports areas in square feet instead of CRS units.
	UnitConvert bool
	// IDColumn is the footprint key column.
	IDColumn string
}

// DefaultClassifyOptions returns the standard thresholds: 11 degrees, 9%,
// square feet, keyed by bldg_id.
func DefaultClassifyOptions() ClassifyOptions {
	return ClassifyOptions{
		SlopeThreshold: 11,
		AreaThreshold:  9,
		UnitConvert:    true,
		IDColumn:       "bldg_id",
	}
}

// Classification is the classifier's output.
type Classification struct {
	// Flat holds the retained footprints with columns id, total_area,
	// flat_area.
	Flat *table.Table
	// Excluded lists footprints dropped because their total area is zero
	// or undefined (nodata-covered or outside the raster).
	Excluded []*model.DataError
	// BelowThreshold counts footprints with valid area that were not flat
	// enough.
	BelowThreshold int
}

// Classify keeps the footprints whose flat share exceeds the area
// threshold.
func Classify(slope raster.Grid, footprints *table.Table, opts ClassifyOptions) (*Classification, error) {
	if opts.IDColumn == "" {
		return nil, model.NewConfigError("classify", eris.New("flatroof: id column is required"))
	}
	if footprints.Len() > 0 && !footprints.HasColumn(opts.IDColumn) {
		return nil, model.NewConfigError("classify", eris.Errorf("flatroof: footprints have no %q column", opts.IDColumn))
	}

	log := zap.L().With(zap.String("component", "flatroof"))

	mask := raster.Binarize(slope, opts.SlopeThreshold, raster.Below)
	records, err := zonal.Stats(footprints, opts.IDColumn, mask, zonal.FlatArea, zonal.TotalArea)
	if err != nil {
		return nil, eris.Wrap(err, "flatroof: classify zonal stats")
	}

	res := &Classification{Flat: table.New(opts.IDColumn, ColTotalArea, ColFlatArea)}
	for i, rec := range records {
		flat, total := rec.Stats[zonal.FlatArea], rec.Stats[zonal.TotalArea]
		if opts.UnitConvert {
			flat *= SqftPerSqm
			total *= SqftPerSqm
		}

		if math.IsNaN(total) || total <= 0 {
			res.Excluded = append(res.Excluded, model.NewDataError(
				"footprint "+rec.Key, eris.New("flatroof: total area is zero or undefined"),
			))
			continue
		}

		percent := flat / total * 100
		if !(percent > opts.AreaThreshold) {
			res.BelowThreshold++
			continue
		}

		res.Flat.Rows = append(res.Flat.Rows, table.Row{
			Geom: footprints.Rows[i].Geom,
			Attrs: map[string]any{
				opts.IDColumn: footprints.Rows[i].Attrs[opts.IDColumn],
				ColTotalArea:  total,
				ColFlatArea:   flat,
			},
		})
	}

	log.Info("flatroof: classified footprints",
		zap.Int("footprints", footprints.Len()),
		zap.Int("flat", res.Flat.Len()),
		zap.Int("below_threshold", res.BelowThreshold),
		zap.Int("excluded", len(res.Excluded)),
	)
	return res, nil
}
