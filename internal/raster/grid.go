// Package raster holds the grid model shared by every array-based operation:
// the affine transform, CRS, nodata sentinel and the cell values.
package raster

import (
	"math"
	"slices"

	"github.com/rotisserie/eris"
)

// Affine maps pixel (col, row) to world coordinates using the conventional
// coefficient order:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
type Affine [6]float64

// A returns the pixel width coefficient.
func (a Affine) A() float64 { return a[0] }

// B returns the row rotation coefficient.
func (a Affine) B() float64 { return a[1] }

// C returns the x origin.
func (a Affine) C() float64 { return a[2] }

// D returns the column rotation coefficient.
func (a Affine) D() float64 { return a[3] }

// E returns the pixel height coefficient (negative for north-up grids).
func (a Affine) E() float64 { return a[4] }

// F returns the y origin.
func (a Affine) F() float64 { return a[5] }

// Geotransform reorders the affine into GDAL's geotransform tuple:
// (origin x, pixel width, row rotation, origin y, column rotation, pixel height).
func (a Affine) Geotransform() [6]float64 {
	return [6]float64{a[2], a[0], a[1], a[5], a[3], a[4]}
}

// FromGeotransform builds an Affine from a GDAL geotransform tuple.
func FromGeotransform(gt [6]float64) Affine {
	return Affine{gt[1], gt[2], gt[0], gt[4], gt[5], gt[3]}
}

// WriteNoData is the sentinel written for derived grids. Slopes, heights
// and masks never take this value.
const WriteNoData = -9999.0

// Grid is a single-band raster: row-major values plus the metadata needed to
// place each cell in the world.
type Grid struct {
	Width     int
	Height    int
	Transform Affine
	CRS       string
	NoData    float64
	HasNoData bool
	Data      []float64
}

// NewGrid allocates a grid filled with fill.
func NewGrid(width, height int, transform Affine, crs string, nodata float64, fill float64) Grid {
	data := make([]float64, width*height)
	if fill != 0 {
		for i := range data {
			data[i] = fill
		}
	}
	return Grid{
		Width:     width,
		Height:    height,
		Transform: transform,
		CRS:       crs,
		NoData:    nodata,
		HasNoData: true,
		Data:      data,
	}
}

// Validate checks that the data length matches the shape and that the grid
// is north-up (no rotation terms), which every zonal operation assumes.
func (g Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return eris.Errorf("raster: invalid shape %dx%d", g.Width, g.Height)
	}
	if len(g.Data) != g.Width*g.Height {
		return eris.Errorf("raster: data length %d does not match shape %dx%d", len(g.Data), g.Width, g.Height)
	}
	if g.Transform.B() != 0 || g.Transform.D() != 0 {
		return eris.New("raster: rotated transforms are not supported")
	}
	if g.Transform.A() == 0 || g.Transform.E() == 0 {
		return eris.New("raster: transform has zero cell size")
	}
	return nil
}

// CellWidth returns the absolute cell width in CRS units.
func (g Grid) CellWidth() float64 { return math.Abs(g.Transform.A()) }

// CellHeight returns the absolute cell height in CRS units.
func (g Grid) CellHeight() float64 { return math.Abs(g.Transform.E()) }

// CellArea returns the area of one cell in squared CRS units.
func (g Grid) CellArea() float64 { return g.CellWidth() * g.CellHeight() }

// At returns the value at (col, row).
func (g Grid) At(col, row int) float64 { return g.Data[row*g.Width+col] }

// Set stores v at (col, row).
func (g Grid) Set(col, row int, v float64) { g.Data[row*g.Width+col] = v }

// IsNoData reports whether v is the nodata sentinel or NaN.
func (g Grid) IsNoData(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	return g.HasNoData && v == g.NoData
}

// NoDataValue returns the value written into nodata cells: the sentinel when
// the grid has one, NaN otherwise.
func (g Grid) NoDataValue() float64 {
	if g.HasNoData {
		return g.NoData
	}
	return math.NaN()
}

// CellCenter returns the world coordinates of the center of (col, row).
func (g Grid) CellCenter(col, row int) (x, y float64) {
	fc, fr := float64(col)+0.5, float64(row)+0.5
	t := g.Transform
	return t.A()*fc + t.B()*fr + t.C(), t.D()*fc + t.E()*fr + t.F()
}

// CellCorner returns the world coordinates of the top-left corner of (col, row).
func (g Grid) CellCorner(col, row int) (x, y float64) {
	fc, fr := float64(col), float64(row)
	t := g.Transform
	return t.A()*fc + t.B()*fr + t.C(), t.D()*fc + t.E()*fr + t.F()
}

// Window returns the clamped, inclusive-exclusive cell range covering the
// world-space box. ok is false when the box misses the grid entirely.
func (g Grid) Window(minX, minY, maxX, maxY float64) (col0, row0, col1, row1 int, ok bool) {
	t := g.Transform
	c0 := (minX - t.C()) / t.A()
	c1 := (maxX - t.C()) / t.A()
	r0 := (maxY - t.F()) / t.E()
	r1 := (minY - t.F()) / t.E()
	if c0 > c1 {
		c0, c1 = c1, c0
	}
	if r0 > r1 {
		r0, r1 = r1, r0
	}

	col0 = max(int(math.Floor(c0)), 0)
	row0 = max(int(math.Floor(r0)), 0)
	col1 = min(int(math.Ceil(c1)), g.Width)
	row1 = min(int(math.Ceil(r1)), g.Height)
	if col0 >= col1 || row0 >= row1 {
		return 0, 0, 0, 0, false
	}
	return col0, row0, col1, row1, true
}

// Like returns an empty grid sharing g's shape and metadata.
func (g Grid) Like() Grid {
	out := g
	out.Data = make([]float64, len(g.Data))
	return out
}

// Derived returns an empty grid aligned with g for values computed from it.
// Its nodata cells are NaN; it carries no sentinel, so a computed value can
// never be mistaken for g's.
func (g Grid) Derived() Grid {
	out := g.Like()
	out.NoData = 0
	out.HasNoData = false
	return out
}

// WithSentinel returns g with every NaN cell replaced by a sentinel, for
// formats that cannot store NaN. Grids without a sentinel take WriteNoData.
// g is not modified.
func (g Grid) WithSentinel() Grid {
	out := g
	if !g.HasNoData {
		out.NoData = WriteNoData
		out.HasNoData = true
	}
	cloned := false
	for i, v := range g.Data {
		if !math.IsNaN(v) {
			continue
		}
		if !cloned {
			out.Data = slices.Clone(g.Data)
			cloned = true
		}
		out.Data[i] = out.NoData
	}
	return out
}

// SameAlignment reports whether two grids share shape, transform and CRS.
func SameAlignment(a, b Grid) bool {
	return a.Width == b.Width && a.Height == b.Height && a.Transform == b.Transform && a.CRS == b.CRS
}
