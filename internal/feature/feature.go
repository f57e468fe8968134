// Package feature computes per-polygon attributes on the flat-area table.
// Features are a closed set resolved when the plan is parsed; Build folds
// them over the table in the order given.
package feature

import (
	"context"
	"slices"

	"github.com/sells-group/rooftop-index/internal/flatroof"
	"github.com/sells-group/rooftop-index/internal/raster"
	"github.com/sells-group/rooftop-index/internal/table"
)

// ID identifies a feature.
type ID string

// Known features, in declaration order.
const (
	AverageSlope      ID = "average_slope"
	MedianHeight      ID = "median_height"
	ClosenessToPoints ID = "closeness_to_points"
	VolumeOnRoof      ID = "volume_on_roof"
	ParapetSlope      ID = "parapet_slope"
)

// KeyColumn is the flat-area identifier every feature joins on.
const KeyColumn = flatroof.ColFAID

// Args holds a feature's keyword arguments.
type Args map[string]any

// VectorReader loads auxiliary vector layers.
type VectorReader interface {
	ReadVector(ctx context.Context, path string) (*table.Table, error)
}

// Inputs is the read-only data features draw on besides the table itself.
type Inputs struct {
	Slope  raster.Grid
	Height raster.Grid
	// Footprints are the flat building footprints, keyed by IDColumn.
	Footprints *table.Table
	IDColumn   string
	Vectors    VectorReader
}

// Func computes a feature. It must return a new table with the same faid
// rows as t; t itself is never modified.
type Func func(ctx context.Context, in *Inputs, t *table.Table, args Args) (*table.Table, error)

// Definition describes a registered feature.
type Definition struct {
	ID          ID
	Description string
	// Required lists argument names that must be present.
	Required []string
	// Optional maps argument names to their defaults.
	Optional map[string]any
	// Columns reports the columns the feature writes for the given args.
	Columns func(args Args) []string
	// Validate checks argument values. Nil accepts anything.
	Validate func(args Args) error
	Apply    Func
}

var order = []ID{AverageSlope, MedianHeight, ClosenessToPoints, VolumeOnRoof, ParapetSlope}

var registry = map[ID]Definition{
	AverageSlope:      averageSlopeDef,
	MedianHeight:      medianHeightDef,
	ClosenessToPoints: closenessDef,
	VolumeOnRoof:      volumeDef,
	ParapetSlope:      parapetDef,
}

// Lookup resolves a feature name.
func Lookup(name string) (Definition, bool) {
	d, ok := registry[ID(name)]
	return d, ok
}

// Definitions returns every feature in declaration order.
func Definitions() []Definition {
	out := make([]Definition, 0, len(order))
	for _, id := range order {
		out = append(out, registry[id])
	}
	return out
}

// Names returns every feature name in declaration order.
func Names() []string {
	out := make([]string, 0, len(order))
	for _, id := range order {
		out = append(out, string(id))
	}
	return out
}

// IsKnown reports whether id is registered.
func IsKnown(id ID) bool {
	return slices.Contains(order, id)
}

func fixedColumns(cols ...string) func(Args) []string {
	return func(Args) []string { return cols }
}
