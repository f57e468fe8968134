package pipeline

import (
	"github.com/sells-group/rooftop-index/internal/raster"
	"github.com/sells-group/rooftop-index/internal/table"
)

// StageContext carries what earlier stages produced. Stages read it and
// hand the next stage an extended copy; nothing in it is modified once set.
type StageContext struct {
	DSM    raster.Grid
	Ground raster.Grid
	Slope  raster.Grid
	Height raster.Grid

	// Footprints as loaded, Flat after classification.
	Footprints *table.Table
	Flat       *table.Table
	// FlatAreas is the disaggregated table, Features the same rows with
	// feature columns.
	FlatAreas *table.Table
	Features  *table.Table
}

func (sc StageContext) withRasters(dsm, ground raster.Grid) StageContext {
	sc.DSM = dsm
	sc.Ground = ground
	return sc
}

func (sc StageContext) withFootprints(t *table.Table) StageContext {
	sc.Footprints = t
	return sc
}

func (sc StageContext) withTerrain(slope, height raster.Grid) StageContext {
	sc.Slope = slope
	sc.Height = height
	return sc
}

func (sc StageContext) withFlat(t *table.Table) StageContext {
	sc.Flat = t
	return sc
}

func (sc StageContext) withFlatAreas(t *table.Table) StageContext {
	sc.FlatAreas = t
	return sc
}

func (sc StageContext) withFeatures(t *table.Table) StageContext {
	sc.Features = t
	return sc
}
