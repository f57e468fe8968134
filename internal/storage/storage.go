// Package storage reads and writes the rasters and polygon tables the
// pipeline consumes and produces. Vector formats are chosen by file
// extension; rasters are delegated to a RasterIO (GDAL in production).
package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rooftop-index/internal/fetcher"
	"github.com/sells-group/rooftop-index/internal/model"
	"github.com/sells-group/rooftop-index/internal/raster"
	"github.com/sells-group/rooftop-index/internal/table"
)

// Storage is the IO collaborator used by the pipeline.
type Storage interface {
	ReadRaster(ctx context.Context, path string) (raster.Grid, error)
	ReadVector(ctx context.Context, path string) (*table.Table, error)
	WriteRaster(ctx context.Context, g raster.Grid, path string) error
	WriteVector(ctx context.Context, t *table.Table, path string) error
}

// RasterIO reads and writes single-band rasters.
type RasterIO interface {
	ReadRaster(ctx context.Context, path string) (raster.Grid, error)
	WriteRaster(ctx context.Context, g raster.Grid, path string) error
}

// Vector file extensions.
const (
	ExtShapefile  = ".shp"
	ExtZip        = ".zip"
	ExtGeoJSON    = ".geojson"
	ExtJSON       = ".json"
	ExtFlatGeobuf = ".fgb"
)

// Local is a Storage backed by the local filesystem.
type Local struct {
	rasters RasterIO
	tempDir string
}

// NewLocal returns a local Storage. tempDir is where zipped inputs are
// unpacked; empty means the OS default.
func NewLocal(rasters RasterIO, tempDir string) *Local {
	return &Local{rasters: rasters, tempDir: tempDir}
}

// ReadRaster loads a raster through the configured RasterIO.
func (l *Local) ReadRaster(ctx context.Context, path string) (raster.Grid, error) {
	if err := ctx.Err(); err != nil {
		return raster.Grid{}, err
	}
	if l.rasters == nil {
		return raster.Grid{}, model.NewConfigError("raster", eris.New("storage: no raster driver configured"))
	}
	g, err := l.rasters.ReadRaster(ctx, path)
	if err != nil {
		return raster.Grid{}, eris.Wrapf(err, "storage: read raster %s", path)
	}
	return g, nil
}

// WriteRaster stores g at path, creating parent directories.
func (l *Local) WriteRaster(ctx context.Context, g raster.Grid, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.rasters == nil {
		return model.NewConfigError("raster", eris.New("storage: no raster driver configured"))
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	if err := l.rasters.WriteRaster(ctx, g, path); err != nil {
		return eris.Wrapf(err, "storage: write raster %s", path)
	}
	return nil
}

// ReadVector loads a polygon or point table from .shp, .zip (zipped
// shapefile) or .geojson/.json.
func (l *Local) ReadVector(ctx context.Context, path string) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ExtShapefile:
		return readShapefile(path)
	case ExtZip:
		return l.readZippedShapefile(path)
	case ExtGeoJSON, ExtJSON:
		return readGeoJSON(path)
	default:
		return nil, model.NewConfigError(path, eris.Errorf("storage: unsupported vector format %q", ext))
	}
}

// WriteVector stores t at path as .shp, .geojson/.json or .fgb.
func (l *Local) WriteVector(ctx context.Context, t *table.Table, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t == nil {
		t = table.New()
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ExtShapefile:
		err = writeShapefile(t, path)
	case ExtGeoJSON, ExtJSON:
		err = writeGeoJSON(t, path)
	case ExtFlatGeobuf:
		err = writeFlatGeobuf(t, path)
	default:
		return model.NewConfigError(path, eris.Errorf("storage: unsupported vector format %q", ext))
	}
	if err != nil {
		return err
	}

	zap.L().Debug("storage: wrote vector",
		zap.String("path", path),
		zap.Int("rows", t.Len()),
	)
	return nil
}

func (l *Local) readZippedShapefile(path string) (*table.Table, error) {
	if l.tempDir != "" {
		if err := os.MkdirAll(l.tempDir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "storage: create temp dir %s", l.tempDir)
		}
	}
	dir, err := os.MkdirTemp(l.tempDir, "vector-*")
	if err != nil {
		return nil, eris.Wrap(err, "storage: create temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	shpPath, err := fetcher.ExtractShapefile(path, dir)
	if err != nil {
		return nil, err
	}
	return readShapefile(shpPath)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "storage: create directory %s", dir)
	}
	return nil
}
