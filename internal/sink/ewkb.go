package sink

import (
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/rooftop-index/internal/table"
)

// EncodeEWKB converts a row geometry to little-endian EWKB tagged with srid.
// Polygonal geometries are always written as MultiPolygon. Returns nil, nil
// for a nil geometry.
func EncodeEWKB(g orb.Geometry, srid int) ([]byte, error) {
	if g == nil {
		return nil, nil
	}

	var t geom.T
	switch v := g.(type) {
	case orb.Point:
		t = geom.NewPointFlat(geom.XY, []float64{v[0], v[1]}).SetSRID(srid)
	case orb.Polygon, orb.MultiPolygon, orb.Bound:
		mp, err := multiPolygon(table.Polygons(v))
		if err != nil {
			return nil, err
		}
		t = mp.SetSRID(srid)
	default:
		return nil, eris.Errorf("sink: unsupported geometry %T", g)
	}

	data, err := ewkb.Marshal(t, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "sink: encode EWKB")
	}
	return data, nil
}

func multiPolygon(polys []orb.Polygon) (*geom.MultiPolygon, error) {
	mp := geom.NewMultiPolygon(geom.XY)
	for _, p := range polys {
		poly := geom.NewPolygon(geom.XY)
		for _, r := range p {
			flat := make([]float64, 0, 2*len(r))
			for _, pt := range r {
				flat = append(flat, pt[0], pt[1])
			}
			if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
				return nil, eris.Wrap(err, "sink: push ring")
			}
		}
		if err := mp.Push(poly); err != nil {
			return nil, eris.Wrap(err, "sink: push polygon")
		}
	}
	return mp, nil
}
