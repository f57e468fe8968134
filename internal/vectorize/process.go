package vectorize

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rooftop-index/internal/model"
	"github.com/sells-group/rooftop-index/internal/raster"
	"github.com/sells-group/rooftop-index/internal/table"
)

// RasterWriter persists a grid as a GeoTIFF the external tool can read.
type RasterWriter interface {
	WriteRaster(ctx context.Context, g raster.Grid, path string) error
}

// VectorReader loads the tool's shapefile output.
type VectorReader interface {
	ReadVector(ctx context.Context, path string) (*table.Table, error)
}

// Process shells out to gdal_polygonize. The grid is written to a temp
// GeoTIFF, polygonized into a temp shapefile and read back.
type Process struct {
	binPath string
	tempDir string
	rasters RasterWriter
	vectors VectorReader
}

// NewProcess creates a Process vectorizer. If binPath is empty,
// "gdal_polygonize.py" is used. Temp files go under tempDir (os.TempDir()
// when empty) and are removed after each call.
func NewProcess(binPath, tempDir string, rasters RasterWriter, vectors VectorReader) *Process {
	if binPath == "" {
		binPath = "gdal_polygonize.py"
	}
	return &Process{binPath: binPath, tempDir: tempDir, rasters: rasters, vectors: vectors}
}

// Vectorize implements Vectorizer.
func (p *Process) Vectorize(ctx context.Context, g raster.Grid) ([]Region, error) {
	if p.tempDir != "" {
		if err := os.MkdirAll(p.tempDir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "vectorize: create temp dir %s", p.tempDir)
		}
	}
	dir, err := os.MkdirTemp(p.tempDir, "polygonize-*")
	if err != nil {
		return nil, eris.Wrap(err, "vectorize: create work dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	in := filepath.Join(dir, "mask.tif")
	out := filepath.Join(dir, "regions.shp")

	if err := p.rasters.WriteRaster(ctx, g, in); err != nil {
		return nil, eris.Wrap(err, "vectorize: write raster")
	}

	if err := p.run(ctx, in, out); err != nil {
		return nil, err
	}

	t, err := p.vectors.ReadVector(ctx, out)
	if err != nil {
		return nil, eris.Wrap(err, "vectorize: read polygonize output")
	}

	var regions []Region
	for _, r := range t.Rows {
		v := r.Float(ValueColumn)
		for _, poly := range table.Polygons(r.Geom) {
			regions = append(regions, Region{Value: v, Polygon: poly})
		}
	}

	zap.L().Debug("vectorize: polygonize complete",
		zap.String("bin", p.binPath),
		zap.Int("regions", len(regions)),
	)
	return regions, nil
}

// run invokes the tool. A non-zero exit is reported as a ProcessError.
func (p *Process) run(ctx context.Context, in, out string) error {
	cmd := exec.CommandContext(ctx, p.binPath, in, "-f", "ESRI Shapefile", out, "regions", ValueColumn)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &model.ProcessError{
		Command:  filepath.Base(p.binPath),
		ExitCode: code,
		Stderr:   strings.TrimSpace(stderr.String()),
		Err:      err,
	}
}
