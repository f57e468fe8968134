// Package terrain derives slope and height-above-ground rasters from a DSM
// and a co-registered ground elevation model.
package terrain

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rooftop-index/internal/model"
	"github.com/sells-group/rooftop-index/internal/raster"
)

// EngineInput is what a terrain-derivative engine needs: the elevation cells
// in row-major order plus metadata in GDAL's conventions.
type EngineInput struct {
	Elevation []float64
	Width     int
	Height    int
	// Geotransform is (origin x, pixel width, row rotation, origin y,
	// column rotation, pixel height).
	Geotransform [6]float64
	Projection   string
	NoData       float64
	HasNoData    bool
}

// Engine computes per-cell slope in degrees. Output has the same length as
// the input elevation; NaN marks cells without a value.
type Engine interface {
	Slope(ctx context.Context, in EngineInput) ([]float64, error)
}

// Input builds the engine's view of a grid.
func Input(g raster.Grid) EngineInput {
	return EngineInput{
		Elevation:    g.Data,
		Width:        g.Width,
		Height:       g.Height,
		Geotransform: g.Transform.Geotransform(),
		Projection:   g.CRS,
		NoData:       g.NoData,
		HasNoData:    g.HasNoData,
	}
}

// Slope runs engine over dsm and returns a slope grid in degrees aligned
// with dsm. Cells that are nodata in dsm, or that the engine could not
// compute, are NaN. The result has no sentinel of its own.
func Slope(ctx context.Context, engine Engine, dsm raster.Grid) (raster.Grid, error) {
	if err := dsm.Validate(); err != nil {
		return raster.Grid{}, model.NewConfigError("dsm", err)
	}

	values, err := engine.Slope(ctx, Input(dsm))
	if err != nil {
		return raster.Grid{}, eris.Wrap(err, "terrain: slope")
	}
	if len(values) != len(dsm.Data) {
		return raster.Grid{}, eris.Errorf("terrain: engine returned %d cells, want %d", len(values), len(dsm.Data))
	}

	out := dsm.Derived()
	var missing int
	for i, v := range values {
		if dsm.IsNoData(dsm.Data[i]) || math.IsNaN(v) || math.IsInf(v, 0) {
			out.Data[i] = math.NaN()
			missing++
			continue
		}
		out.Data[i] = v
	}

	zap.L().Debug("terrain: slope computed",
		zap.Int("width", dsm.Width),
		zap.Int("height", dsm.Height),
		zap.Int("nodata_cells", missing),
	)
	return out, nil
}

// Height subtracts ground from dsm cell by cell. The grids must share shape,
// transform and CRS; a mismatch is a configuration error. A cell that is
// nodata in either input is NaN in the output.
func Height(dsm, ground raster.Grid) (raster.Grid, error) {
	if err := dsm.Validate(); err != nil {
		return raster.Grid{}, model.NewConfigError("dsm", err)
	}
	if err := ground.Validate(); err != nil {
		return raster.Grid{}, model.NewConfigError("ground", err)
	}
	if !raster.SameAlignment(dsm, ground) {
		return raster.Grid{}, model.NewConfigError("ground", eris.Errorf(
			"terrain: ground grid %dx%d %v %q is not aligned with dsm %dx%d %v %q",
			ground.Width, ground.Height, ground.Transform, ground.CRS,
			dsm.Width, dsm.Height, dsm.Transform, dsm.CRS,
		))
	}

	out := dsm.Derived()
	for i, s := range dsm.Data {
		g := ground.Data[i]
		if dsm.IsNoData(s) || ground.IsNoData(g) {
			out.Data[i] = math.NaN()
			continue
		}
		out.Data[i] = s - g
	}
	return out, nil
}
