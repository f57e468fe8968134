// Package geomop runs the overlay operations the pipeline needs on GEOS:
// intersection, inward-buffer rings and unions. Geometries cross the
// boundary as WKB so callers keep working with orb types.
package geomop

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geos"
)

// quadSegs is the number of segments per quarter circle used for buffers.
const quadSegs = 8

// ToGEOS converts an orb geometry to a GEOS geometry.
func ToGEOS(g orb.Geometry) (gg *geos.Geom, err error) {
	data, err := wkb.Marshal(g)
	if err != nil {
		return nil, eris.Wrap(err, "geomop: encode wkb")
	}
	defer recoverGEOS("decode wkb", &err)
	gg, err = geos.NewGeomFromWKB(data)
	if err != nil {
		return nil, eris.Wrap(err, "geomop: decode wkb")
	}
	return gg, nil
}

// FromGEOS converts a GEOS geometry back to orb. Empty geometries return
// nil.
func FromGEOS(g *geos.Geom) (out orb.Geometry, err error) {
	if g == nil {
		return nil, nil
	}
	defer recoverGEOS("encode wkb", &err)
	if g.IsEmpty() {
		return nil, nil
	}
	out, err = wkb.Unmarshal(g.ToWKB())
	if err != nil {
		return nil, eris.Wrap(err, "geomop: decode wkb")
	}
	return out, nil
}

// valid returns a GEOS geometry for g, repaired when GEOS reports it
// invalid (self-intersecting footprints are common in building datasets).
func valid(g orb.Geometry) (*geos.Geom, error) {
	gg, err := ToGEOS(g)
	if err != nil {
		return nil, err
	}
	if !gg.IsValid() {
		gg = gg.MakeValid()
	}
	return gg, nil
}

// Intersection returns the polygonal part of a ∩ b, or nil when they do not
// overlap in area.
func Intersection(a, b orb.Geometry) (out orb.Geometry, err error) {
	defer recoverGEOS("intersection", &err)
	ga, err := valid(a)
	if err != nil {
		return nil, err
	}
	gb, err := valid(b)
	if err != nil {
		return nil, err
	}
	if !ga.Intersects(gb) {
		return nil, nil
	}
	return polygonal(ga.Intersection(gb))
}

// InnerRing returns the band of width w along the inside of outline's
// boundary: outline minus outline buffered inward by w. An outline thinner
// than 2w yields the whole outline.
func InnerRing(outline orb.Geometry, w float64) (out orb.Geometry, err error) {
	if w <= 0 {
		return nil, eris.Errorf("geomop: ring width must be positive, got %v", w)
	}
	defer recoverGEOS("inner ring", &err)
	g, err := valid(outline)
	if err != nil {
		return nil, err
	}
	inner := g.Buffer(-w, quadSegs)
	if inner.IsEmpty() {
		return polygonal(g)
	}
	return polygonal(g.Difference(inner))
}

// Union dissolves geoms into a single polygon or multipolygon.
func Union(geoms []orb.Geometry) (out orb.Geometry, err error) {
	if len(geoms) == 0 {
		return nil, nil
	}
	defer recoverGEOS("union", &err)
	g, err := ToGEOS(orb.Collection(geoms))
	if err != nil {
		return nil, err
	}
	return polygonal(g.UnaryUnion())
}

// polygonal keeps the areal members of g: a polygon, a multipolygon, or the
// polygons of a collection. Lines and points from touching boundaries are
// dropped.
func polygonal(g *geos.Geom) (orb.Geometry, error) {
	out, err := FromGEOS(g)
	if err != nil || out == nil {
		return nil, err
	}
	switch x := out.(type) {
	case orb.Polygon:
		return x, nil
	case orb.MultiPolygon:
		return x, nil
	case orb.Collection:
		var mp orb.MultiPolygon
		for _, m := range x {
			switch p := m.(type) {
			case orb.Polygon:
				mp = append(mp, p)
			case orb.MultiPolygon:
				mp = append(mp, p...)
			}
		}
		switch len(mp) {
		case 0:
			return nil, nil
		case 1:
			return mp[0], nil
		default:
			return mp, nil
		}
	default:
		return nil, nil
	}
}

// recoverGEOS turns a panic raised by go-geos on a GEOS exception into an
// error.
func recoverGEOS(op string, err *error) {
	if r := recover(); r != nil {
		*err = eris.Errorf("geomop: %s: %s", op, fmt.Sprint(r))
	}
}
