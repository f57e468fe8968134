package feature

import (
	"context"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rooftop-index/internal/flatroof"
	"github.com/sells-group/rooftop-index/internal/table"
	"github.com/sells-group/rooftop-index/internal/zonal"
)

// ColRoofVolume holds the volume of rooftop objects in cubic feet.
const ColRoofVolume = "roof_volume"

var volumeDef = Definition{
	ID:          VolumeOnRoof,
	Description: "volume of objects standing in the holes of each flat area, from median heights",
	Columns:     fixedColumns(ColRoofVolume),
	Apply:       volumeOnRoof,
}

// volumeOnRoof treats each interior ring of a flat area as the footprint of
// rooftop equipment. Each object contributes
// max(0, median height inside it - median height of the roof) in feet
// times its area in square feet. Heights and areas are taken as metric.
// Objects the raster cannot measure contribute nothing.
func volumeOnRoof(_ context.Context, in *Inputs, t *table.Table, _ Args) (*table.Table, error) {
	if err := requireSinglePart(t); err != nil {
		return nil, err
	}

	roofs, err := zonal.Stats(t, KeyColumn, in.Height, zonal.Median)
	if err != nil {
		return nil, eris.Wrap(err, "feature: roof heights")
	}
	roofHeight := make(map[string]float64, len(roofs))
	for _, rec := range roofs {
		roofHeight[rec.Key] = rec.Stats[zonal.Median]
	}

	// One row per set of holes, tagged with the parent faid, then split.
	interiors := table.New(KeyColumn)
	for _, r := range t.Rows {
		poly := r.Geom.(orb.Polygon)
		if len(poly) < 2 {
			continue
		}
		var holes orb.MultiPolygon
		for _, ring := range poly[1:] {
			holes = append(holes, orb.Polygon{ring})
		}
		interiors.Rows = append(interiors.Rows, table.Row{
			Geom:  holes,
			Attrs: map[string]any{KeyColumn: r.Attrs[KeyColumn]},
		})
	}
	objects := table.Explode(interiors)

	volume := make(map[string]float64, t.Len())
	if objects.Len() > 0 {
		heights, err := zonal.Stats(objects, KeyColumn, in.Height, zonal.Median)
		if err != nil {
			return nil, eris.Wrap(err, "feature: object heights")
		}
		for i, rec := range heights {
			rise := rec.Stats[zonal.Median] - roofHeight[rec.Key]
			if math.IsNaN(rise) || rise <= 0 {
				continue
			}
			area := planar.Area(objects.Rows[i].Geom) * flatroof.SqftPerSqm
			volume[rec.Key] += rise * flatroof.FtPerM * area
		}
	}

	out := t.Clone()
	out.AddColumn(ColRoofVolume)
	for _, r := range out.Rows {
		r.Attrs[ColRoofVolume] = volume[r.Key(KeyColumn)]
	}
	return out, nil
}
