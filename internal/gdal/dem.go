package gdal

import (
	"context"
	"math"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rooftop-index/internal/terrain"
)

// DemEngine computes slope with GDAL's DEM processing ("gdaldem slope").
// It implements terrain.Engine.
type DemEngine struct {
	tempDir string
}

// NewDemEngine returns a DemEngine. Intermediate files go under tempDir
// (os.TempDir() when empty).
func NewDemEngine(tempDir string) *DemEngine {
	register()
	return &DemEngine{tempDir: tempDir}
}

// Slope implements terrain.Engine. Edge cells are computed rather than left
// empty; cells GDAL marks as nodata come back as NaN.
func (e *DemEngine) Slope(ctx context.Context, in terrain.EngineInput) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.tempDir != "" {
		if err := os.MkdirAll(e.tempDir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "gdal: create temp dir %s", e.tempDir)
		}
	}
	dir, err := os.MkdirTemp(e.tempDir, "dem-*")
	if err != nil {
		return nil, eris.Wrap(err, "gdal: create work dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	src, err := godal.Create(godal.Memory, "", 1, godal.Float64, in.Width, in.Height)
	if err != nil {
		return nil, eris.Wrap(err, "gdal: create elevation dataset")
	}
	defer src.Close() //nolint:errcheck

	if err := fill(src, in.Elevation, in.Geotransform, in.Projection, in.NoData, in.HasNoData); err != nil {
		return nil, eris.Wrap(err, "gdal: load elevation")
	}

	out := filepath.Join(dir, "slope.tif")
	dst, err := src.Dem(out, "slope", "", []string{"-compute_edges"})
	if err != nil {
		return nil, eris.Wrap(err, "gdal: dem slope")
	}
	defer dst.Close() //nolint:errcheck

	g, err := readGrid(dst)
	if err != nil {
		return nil, err
	}

	values := g.Data
	for i, v := range values {
		if g.HasNoData && v == g.NoData {
			values[i] = math.NaN()
		}
	}

	zap.L().Debug("gdal: slope computed",
		zap.Int("width", in.Width),
		zap.Int("height", in.Height),
	)
	return values, nil
}
