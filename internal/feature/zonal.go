package feature

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rooftop-index/internal/raster"
	"github.com/sells-group/rooftop-index/internal/table"
	"github.com/sells-group/rooftop-index/internal/zonal"
)

// Output columns of the zonal features.
const (
	ColAvgSlope     = "avg_slope"
	ColMedianHeight = "median_height"
)

var averageSlopeDef = Definition{
	ID:          AverageSlope,
	Description: "zonal mean of the slope raster over each flat area",
	Columns:     fixedColumns(ColAvgSlope),
	Apply: func(_ context.Context, in *Inputs, t *table.Table, _ Args) (*table.Table, error) {
		return zonalColumn(t, in.Slope, zonal.Mean, ColAvgSlope)
	},
}

var medianHeightDef = Definition{
	ID:          MedianHeight,
	Description: "zonal median of the height-above-ground raster over each flat area",
	Columns:     fixedColumns(ColMedianHeight),
	Apply: func(_ context.Context, in *Inputs, t *table.Table, _ Args) (*table.Table, error) {
		return zonalColumn(t, in.Height, zonal.Median, ColMedianHeight)
	},
}

func zonalColumn(t *table.Table, g raster.Grid, st zonal.Stat, col string) (*table.Table, error) {
	if err := requireSinglePart(t); err != nil {
		return nil, err
	}
	records, err := zonal.Stats(t, KeyColumn, g, st)
	if err != nil {
		return nil, eris.Wrapf(err, "feature: %s", col)
	}
	return zonal.Join(t, records, KeyColumn, map[zonal.Stat]string{st: col}), nil
}
