// Package gdal holds the GDAL-backed collaborators: GeoTIFF raster IO and
// the gdaldem slope engine.
package gdal

import (
	"context"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rooftop-index/internal/raster"
)

var registerOnce sync.Once

func register() {
	registerOnce.Do(godal.RegisterAll)
}

// RasterIO reads and writes single-band float64 GeoTIFFs.
type RasterIO struct {
	creation []string
}

// NewRasterIO returns a RasterIO writing DEFLATE-compressed tiled GeoTIFFs.
func NewRasterIO() *RasterIO {
	register()
	return &RasterIO{creation: []string{"TILED=YES", "COMPRESS=DEFLATE"}}
}

// ReadRaster loads band 1 of path as a grid.
func (r *RasterIO) ReadRaster(ctx context.Context, path string) (raster.Grid, error) {
	if err := ctx.Err(); err != nil {
		return raster.Grid{}, err
	}
	ds, err := godal.Open(path)
	if err != nil {
		return raster.Grid{}, eris.Wrapf(err, "gdal: open %s", path)
	}
	defer ds.Close() //nolint:errcheck

	return readGrid(ds)
}

// WriteRaster writes g to path as a GeoTIFF. NaN cells are stored as the
// grid's sentinel, or raster.WriteNoData when it has none.
func (r *RasterIO) WriteRaster(ctx context.Context, g raster.Grid, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.Validate(); err != nil {
		return err
	}
	g = g.WithSentinel()
	ds, err := godal.Create(godal.GTiff, path, 1, godal.Float64, g.Width, g.Height,
		godal.CreationOption(r.creation...))
	if err != nil {
		return eris.Wrapf(err, "gdal: create %s", path)
	}
	if err := fill(ds, g.Data, g.Transform.Geotransform(), g.CRS, g.NoData, g.HasNoData); err != nil {
		_ = ds.Close()
		return eris.Wrapf(err, "gdal: write %s", path)
	}
	if err := ds.Close(); err != nil {
		return eris.Wrapf(err, "gdal: close %s", path)
	}
	return nil
}

func readGrid(ds *godal.Dataset) (raster.Grid, error) {
	st := ds.Structure()
	bands := ds.Bands()
	if len(bands) == 0 {
		return raster.Grid{}, eris.New("gdal: dataset has no bands")
	}
	gt, err := ds.GeoTransform()
	if err != nil {
		return raster.Grid{}, eris.Wrap(err, "gdal: geotransform")
	}

	data := make([]float64, st.SizeX*st.SizeY)
	if err := bands[0].Read(0, 0, data, st.SizeX, st.SizeY); err != nil {
		return raster.Grid{}, eris.Wrap(err, "gdal: read band")
	}
	nd, hasND := bands[0].NoData()

	return raster.Grid{
		Width:     st.SizeX,
		Height:    st.SizeY,
		Transform: raster.FromGeotransform(gt),
		CRS:       ds.Projection(),
		NoData:    nd,
		HasNoData: hasND,
		Data:      data,
	}, nil
}

func fill(ds *godal.Dataset, data []float64, gt [6]float64, projection string, nodata float64, hasNoData bool) error {
	if err := ds.SetGeoTransform(gt); err != nil {
		return eris.Wrap(err, "set geotransform")
	}
	if projection != "" {
		if err := ds.SetProjection(projection); err != nil {
			return eris.Wrap(err, "set projection")
		}
	}
	band := ds.Bands()[0]
	if hasNoData {
		if err := band.SetNoData(nodata); err != nil {
			return eris.Wrap(err, "set nodata")
		}
	}
	st := ds.Structure()
	if err := band.Write(0, 0, data, st.SizeX, st.SizeY); err != nil {
		return eris.Wrap(err, "write band")
	}
	return nil
}
