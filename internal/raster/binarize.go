package raster

import "math"

// Comparison selects how Binarize compares cells against the threshold.
type Comparison int

const (
	// Below flags cells strictly below the threshold.
	Below Comparison = iota
	// AtOrBelow flags cells at or below the threshold.
	AtOrBelow
)

// Binarize returns a grid with 1 where the comparison holds and 0 elsewhere.
// Nodata cells become NaN so they never count as flat, whatever sentinel
// the source used.
func Binarize(g Grid, threshold float64, cmp Comparison) Grid {
	out := g.Derived()
	for i, v := range g.Data {
		switch {
		case g.IsNoData(v):
			out.Data[i] = math.NaN()
		case cmp == Below && v < threshold, cmp == AtOrBelow && v <= threshold:
			out.Data[i] = 1
		default:
			out.Data[i] = 0
		}
	}
	return out
}
