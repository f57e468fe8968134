package terrain

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
)

// Horn computes slope in process with Horn's third-order finite difference,
// the same kernel gdaldem uses. Edge cells and nodata neighbours take the
// center cell's value.
type Horn struct {
	// ZFactor scales elevation units to horizontal units. Zero means 1.
	ZFactor float64
}

// Slope implements Engine.
func (h Horn) Slope(ctx context.Context, in EngineInput) ([]float64, error) {
	if in.Width <= 0 || in.Height <= 0 || len(in.Elevation) != in.Width*in.Height {
		return nil, eris.Errorf("terrain: horn: bad input shape %dx%d with %d cells", in.Width, in.Height, len(in.Elevation))
	}
	xres := math.Abs(in.Geotransform[1])
	yres := math.Abs(in.Geotransform[5])
	if xres == 0 || yres == 0 {
		return nil, eris.New("terrain: horn: zero pixel size in geotransform")
	}
	z := h.ZFactor
	if z == 0 {
		z = 1
	}

	isNoData := func(v float64) bool {
		return math.IsNaN(v) || (in.HasNoData && v == in.NoData)
	}

	out := make([]float64, len(in.Elevation))
	for row := 0; row < in.Height; row++ {
		if row%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for col := 0; col < in.Width; col++ {
			center := in.Elevation[row*in.Width+col]
			if isNoData(center) {
				out[row*in.Width+col] = math.NaN()
				continue
			}
			at := func(dc, dr int) float64 {
				c, r := col+dc, row+dr
				if c < 0 || c >= in.Width || r < 0 || r >= in.Height {
					return center
				}
				v := in.Elevation[r*in.Width+c]
				if isNoData(v) {
					return center
				}
				return v
			}

			a, b, c := at(-1, -1), at(0, -1), at(1, -1)
			d, f := at(-1, 0), at(1, 0)
			g, hh, i := at(-1, 1), at(0, 1), at(1, 1)

			dx := ((c + 2*f + i) - (a + 2*d + g)) / (8 * xres)
			dy := ((g + 2*hh + i) - (a + 2*b + c)) / (8 * yres)
			out[row*in.Width+col] = math.Atan(z*math.Hypot(dx, dy)) * 180 / math.Pi
		}
	}
	return out, nil
}
