package storage

import (
	"archive/zip"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rooftop-index/internal/model"
	"github.com/sells-group/rooftop-index/internal/raster"
	"github.com/sells-group/rooftop-index/internal/table"
)

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}}
}

func withHole() orb.Polygon {
	p := square(0, 0, 10)
	return append(p, orb.Ring{{2, 2}, {2, 4}, {4, 4}, {4, 2}, {2, 2}})
}

func roofTable() *table.Table {
	t := table.New("faid", "flat_area", "bldg_total_area", "bldg_flat_area", "name")
	t.Append(withHole(), map[string]any{
		"faid": 0, "flat_area": 96.0, "bldg_total_area": 120.5, "bldg_flat_area": 100.0, "name": "a",
	})
	t.Append(orb.MultiPolygon{square(20, 0, 2), square(30, 0, 3)}, map[string]any{
		"faid": 1, "flat_area": math.NaN(), "bldg_total_area": 13.0, "bldg_flat_area": nil, "name": "bb",
	})
	return t
}

type fakeRasters struct {
	grid    raster.Grid
	written []string
}

func (f *fakeRasters) ReadRaster(_ context.Context, _ string) (raster.Grid, error) {
	return f.grid, nil
}

func (f *fakeRasters) WriteRaster(_ context.Context, _ raster.Grid, path string) error {
	f.written = append(f.written, path)
	return nil
}

func TestShapefile_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(nil, t.TempDir())
	path := filepath.Join(t.TempDir(), "out", "flat.shp")

	require.NoError(t, s.WriteVector(ctx, roofTable(), path))
	_, err := os.Stat(filepath.Join(filepath.Dir(path), "flat.dbf"))
	require.NoError(t, err)

	got, err := s.ReadVector(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"faid", "flat_area", "bldg_total", "bldg_flat_", "name"}, got.Columns)
	require.Equal(t, 2, got.Len())

	first := got.Rows[0]
	assert.Equal(t, int64(0), first.Attrs["faid"])
	assert.InDelta(t, 96.0, first.Float("flat_area"), 1e-9)
	assert.InDelta(t, 120.5, first.Float("bldg_total"), 1e-9)
	assert.Equal(t, "a", first.Attrs["name"])

	poly, ok := first.Geom.(orb.Polygon)
	require.True(t, ok, "got %T", first.Geom)
	assert.Len(t, poly, 2)
	assert.InDelta(t, 96.0, planar.Area(poly), 1e-9)

	second := got.Rows[1]
	assert.Equal(t, "1", second.Key("faid"))
	assert.Nil(t, second.Attrs["flat_area"])
	assert.Nil(t, second.Attrs["bldg_flat_"])
	mp, ok := second.Geom.(orb.MultiPolygon)
	require.True(t, ok, "got %T", second.Geom)
	assert.Len(t, mp, 2)
	assert.InDelta(t, 13.0, planar.Area(mp), 1e-9)
}

func TestShapefile_Points(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(nil, "")
	path := filepath.Join(t.TempDir(), "hvac.shp")

	pts := table.New("kind")
	pts.Append(orb.Point{1, 2}, map[string]any{"kind": "unit"})
	pts.Append(orb.Point{3, 4}, map[string]any{"kind": "vent"})
	require.NoError(t, s.WriteVector(ctx, pts, path))

	got, err := s.ReadVector(ctx, path)
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())
	assert.Equal(t, orb.Point{3, 4}, got.Rows[1].Geom)
	assert.Equal(t, "vent", got.Rows[1].Attrs["kind"])
}

func TestShapefile_RejectsMixedGeometry(t *testing.T) {
	mixed := table.New()
	mixed.Append(orb.Point{0, 0}, nil)
	mixed.Append(square(0, 0, 1), nil)

	err := NewLocal(nil, "").WriteVector(context.Background(), mixed, filepath.Join(t.TempDir(), "m.shp"))
	require.Error(t, err)
}

func TestDBFName(t *testing.T) {
	used := map[string]bool{}
	assert.Equal(t, "faid", dbfName("faid", used))
	assert.Equal(t, "bldg_total", dbfName("bldg_total_area", used))
	assert.Equal(t, "bldg_tot_1", dbfName("bldg_total_height", used))
	assert.Equal(t, "bldg_tot_2", dbfName("bldg_totals", used))
	assert.Equal(t, "FAID_1", dbfName("FAID", used))
}

func TestAssemblePolygons(t *testing.T) {
	cw := func(p orb.Polygon) orb.Ring {
		r := p[0].Clone()
		r.Reverse()
		return r
	}
	a := cw(square(0, 0, 4))
	b := cw(square(10, 0, 4))
	hole := orb.Ring{{11, 1}, {12, 1}, {12, 2}, {11, 2}, {11, 1}}

	got := assemblePolygons([]orb.Ring{a, b, hole})
	mp, ok := got.(orb.MultiPolygon)
	require.True(t, ok)
	require.Len(t, mp, 2)
	assert.Len(t, mp[0], 1)
	assert.Len(t, mp[1], 2)

	// No clockwise ring at all: every ring is its own polygon.
	got = assemblePolygons([]orb.Ring{square(0, 0, 1)[0]})
	assert.IsType(t, orb.Polygon{}, got)
	assert.Nil(t, assemblePolygons(nil))
}

func TestGeoJSON_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(nil, "")
	path := filepath.Join(t.TempDir(), "flat.geojson")

	require.NoError(t, s.WriteVector(ctx, roofTable(), path))
	got, err := s.ReadVector(ctx, path)
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())

	assert.ElementsMatch(t, roofTable().Columns, got.Columns)
	assert.Equal(t, "0", got.Rows[0].Key("faid"))
	assert.InDelta(t, 120.5, got.Rows[0].Float("bldg_total_area"), 1e-9)
	assert.Nil(t, got.Rows[1].Attrs["flat_area"])
	assert.True(t, math.IsNaN(got.Rows[1].Float("flat_area")))
	assert.InDelta(t, 96.0, planar.Area(got.Rows[0].Geom), 1e-9)
}

func TestReadVector_ZippedShapefile(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(nil, t.TempDir())
	dir := t.TempDir()
	shpPath := filepath.Join(dir, "footprints.shp")
	require.NoError(t, s.WriteVector(ctx, roofTable(), shpPath))

	zipPath := filepath.Join(t.TempDir(), "footprints.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	_, err = zw.Create("__MACOSX/._footprints.shp")
	require.NoError(t, err)
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		data, err := os.ReadFile(filepath.Join(dir, "footprints"+ext))
		require.NoError(t, err)
		w, err := zw.Create("footprints" + ext)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	got, err := s.ReadVector(ctx, zipPath)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())
	assert.Equal(t, "bb", got.Rows[1].Attrs["name"])
}

func TestFlatGeobuf_Write(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flat.fgb")
	require.NoError(t, NewLocal(nil, "").WriteVector(context.Background(), roofTable(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, "fgb", string(data[:3]))
}

func TestEncodeProperties(t *testing.T) {
	roofs := roofTable()
	cols := []fgbColumn{
		{name: "faid", typ: fgbColumnType(roofs, "faid")},
		{name: "flat_area", typ: fgbColumnType(roofs, "flat_area")},
	}

	row := table.Row{Attrs: map[string]any{"faid": 3, "flat_area": math.NaN()}}
	got := encodeProperties(row, cols)
	// Index 0 plus an 8-byte long; the NaN double is omitted.
	assert.Equal(t, []byte{0, 0, 3, 0, 0, 0, 0, 0, 0, 0}, got)
}

func TestUnsupportedFormats(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(nil, "")

	_, err := s.ReadVector(ctx, "roofs.kml")
	require.Error(t, err)
	assert.True(t, model.IsConfigError(err))

	err = s.WriteVector(ctx, table.New(), filepath.Join(t.TempDir(), "roofs.csv"))
	require.Error(t, err)
	assert.True(t, model.IsConfigError(err))
}

func TestRasters(t *testing.T) {
	ctx := context.Background()

	_, err := NewLocal(nil, "").ReadRaster(ctx, "dsm.tif")
	require.Error(t, err)
	assert.True(t, model.IsConfigError(err))

	g := raster.NewGrid(2, 2, raster.Affine{1, 0, 0, 0, -1, 2}, "EPSG:2263", -9999, 1)
	fake := &fakeRasters{grid: g}
	s := NewLocal(fake, "")

	got, err := s.ReadRaster(ctx, "dsm.tif")
	require.NoError(t, err)
	assert.Equal(t, g, got)

	out := filepath.Join(t.TempDir(), "nested", "slope.tif")
	require.NoError(t, s.WriteRaster(ctx, g, out))
	assert.Equal(t, []string{out}, fake.written)
	info, err := os.Stat(filepath.Dir(out))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewLocal(&fakeRasters{}, "")

	_, err := s.ReadVector(ctx, "a.shp")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.ReadRaster(ctx, "a.tif")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.WriteVector(ctx, table.New(), "a.shp"), context.Canceled)
}
