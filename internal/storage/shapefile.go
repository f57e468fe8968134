package storage

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rooftop-index/internal/table"
)

// dbfNameLen is the longest field name a DBF header can hold.
const dbfNameLen = 10

// DBF field layouts used when writing.
const (
	floatSize      = 24
	floatPrecision = 6
	intSize        = 18
	maxStringSize  = 254
)

// readShapefile loads every record of a shapefile into a table. Numeric
// fields become int64 (no decimals) or float64, blanks become nil.
func readShapefile(path string) (*table.Table, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "storage: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}

	out := table.New(names...)
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		geom := shapeToGeometry(shape)
		if geom == nil {
			skipped++
		}

		attrs := make(map[string]any, len(fields))
		for i, f := range fields {
			attrs[names[i]] = parseAttribute(f, reader.Attribute(i))
		}
		out.Append(geom, attrs)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "storage: read shapefile %s", path)
	}

	if skipped > 0 {
		zap.L().Debug("storage: shapefile records without geometry",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return out, nil
}

func parseAttribute(f shp.Field, raw string) any {
	val := strings.TrimSpace(strings.TrimRight(raw, "\x00"))
	if val == "" {
		return nil
	}
	switch f.Fieldtype {
	case 'N', 'F':
		if f.Precision == 0 {
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				return n
			}
		}
		if x, err := strconv.ParseFloat(val, 64); err == nil {
			return x
		}
		return nil
	case 'L':
		switch val {
		case "T", "t", "Y", "y":
			return true
		case "F", "f", "N", "n":
			return false
		}
		return nil
	default:
		return val
	}
}

func shapeToGeometry(s shp.Shape) orb.Geometry {
	switch v := s.(type) {
	case *shp.Point:
		return orb.Point{v.X, v.Y}
	case *shp.PointZ:
		return orb.Point{v.X, v.Y}
	case *shp.PointM:
		return orb.Point{v.X, v.Y}
	case *shp.MultiPoint:
		mp := make(orb.MultiPoint, len(v.Points))
		for i, p := range v.Points {
			mp[i] = orb.Point{p.X, p.Y}
		}
		return mp
	case *shp.Polygon:
		return assemblePolygons(splitParts(v.Parts, v.Points))
	case *shp.PolygonZ:
		return assemblePolygons(splitParts(v.Parts, v.Points))
	case *shp.PolygonM:
		return assemblePolygons(splitParts(v.Parts, v.Points))
	default:
		return nil
	}
}

func splitParts(parts []int32, points []shp.Point) []orb.Ring {
	rings := make([]orb.Ring, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || end > int32(len(points)) || start >= end {
			continue
		}
		ring := make(orb.Ring, 0, end-start+1)
		for _, p := range points[start:end] {
			ring = append(ring, orb.Point{p.X, p.Y})
		}
		if !ring.Closed() {
			ring = append(ring, ring[0])
		}
		rings = append(rings, ring)
	}
	return rings
}

// assemblePolygons groups shapefile rings into polygons. Clockwise rings are
// exteriors; counter-clockwise rings are holes of the first exterior that
// contains them. Files that ignore the winding rule (no clockwise ring) get
// one polygon per ring.
func assemblePolygons(rings []orb.Ring) orb.Geometry {
	if len(rings) == 0 {
		return nil
	}

	var polys []orb.Polygon
	var holes []orb.Ring
	for _, r := range rings {
		if r.Orientation() == orb.CW {
			polys = append(polys, orb.Polygon{r})
		} else {
			holes = append(holes, r)
		}
	}
	if len(polys) == 0 {
		for _, r := range holes {
			polys = append(polys, orb.Polygon{r})
		}
		holes = nil
	}

	for _, h := range holes {
		placed := false
		for i, p := range polys {
			if planar.RingContains(p[0], h[0]) {
				polys[i] = append(p, h)
				placed = true
				break
			}
		}
		if !placed {
			polys = append(polys, orb.Polygon{h})
		}
	}

	if len(polys) == 1 {
		return polys[0]
	}
	return orb.MultiPolygon(polys)
}

// fieldSpec maps a table column onto a DBF field.
type fieldSpec struct {
	column string
	field  shp.Field
	kind   byte // 'i' int, 'f' float, 's' string
}

// writeShapefile writes t as a polygon (or point) shapefile. Column names are
// cut to the DBF limit and made unique; NaN and nil values are left blank.
func writeShapefile(t *table.Table, path string) error {
	shapeType, err := shapeTypeOf(t)
	if err != nil {
		return err
	}

	specs := fieldSpecs(t)
	fields := make([]shp.Field, len(specs))
	for i, s := range specs {
		fields[i] = s.field
	}

	w, err := shp.Create(path, shapeType)
	if err != nil {
		return eris.Wrapf(err, "storage: create shapefile %s", path)
	}
	writeErr := writeRecords(w, t, specs, fields)
	w.Close()
	if err := fixDBFName(path); err != nil {
		return err
	}
	if writeErr != nil {
		return eris.Wrapf(writeErr, "storage: write shapefile %s", path)
	}
	return nil
}

func writeRecords(w *shp.Writer, t *table.Table, specs []fieldSpec, fields []shp.Field) error {
	if err := w.SetFields(fields); err != nil {
		return err
	}
	for i, r := range t.Rows {
		shape, err := toShape(r.Geom)
		if err != nil {
			return eris.Wrapf(err, "row %d", i)
		}
		idx := int(w.Write(shape))
		for j, s := range specs {
			v, ok := s.value(r.Attrs[s.column])
			if !ok {
				continue
			}
			if err := w.WriteAttribute(idx, j, v); err != nil {
				return eris.Wrapf(err, "row %d column %s", i, s.column)
			}
		}
	}
	return nil
}

// fixDBFName moves the attribute file to <base>.dbf. go-shp v0.1.1 creates
// it as <base>dbf without the dot.
func fixDBFName(path string) error {
	base := path[:len(path)-len(filepath.Ext(path))]
	wrong := base + "dbf"
	if _, err := os.Stat(wrong); err != nil {
		return nil
	}
	if err := os.Rename(wrong, base+".dbf"); err != nil {
		return eris.Wrap(err, "storage: rename dbf")
	}
	return nil
}

func shapeTypeOf(t *table.Table) (shp.ShapeType, error) {
	points, polys := 0, 0
	for i, r := range t.Rows {
		switch r.Geom.(type) {
		case orb.Point:
			points++
		case orb.Polygon, orb.MultiPolygon, orb.Bound:
			polys++
		default:
			return 0, eris.Errorf("storage: row %d: unsupported geometry %T for shapefile", i, r.Geom)
		}
	}
	if points > 0 && polys > 0 {
		return 0, eris.New("storage: shapefile cannot mix points and polygons")
	}
	if points > 0 {
		return shp.POINT, nil
	}
	return shp.POLYGON, nil
}

func toShape(g orb.Geometry) (shp.Shape, error) {
	if p, ok := g.(orb.Point); ok {
		return &shp.Point{X: p[0], Y: p[1]}, nil
	}

	var parts [][]shp.Point
	for _, poly := range table.Polygons(g) {
		for i, ring := range poly {
			// Exterior clockwise, holes counter-clockwise.
			want := orb.CCW
			if i == 0 {
				want = orb.CW
			}
			parts = append(parts, ringPoints(ring, want))
		}
	}
	if len(parts) == 0 {
		return nil, eris.Errorf("storage: empty polygon geometry %T", g)
	}
	return (*shp.Polygon)(shp.NewPolyLine(parts)), nil
}

func ringPoints(r orb.Ring, want orb.Orientation) []shp.Point {
	pts := make([]shp.Point, len(r))
	reverse := r.Orientation() != want
	for i, p := range r {
		j := i
		if reverse {
			j = len(r) - 1 - i
		}
		pts[j] = shp.Point{X: p[0], Y: p[1]}
	}
	return pts
}

func fieldSpecs(t *table.Table) []fieldSpec {
	used := make(map[string]bool, len(t.Columns))
	specs := make([]fieldSpec, 0, len(t.Columns))
	for _, col := range t.Columns {
		name := dbfName(col, used)
		if name != col {
			zap.L().Debug("storage: shortened column for dbf",
				zap.String("column", col),
				zap.String("field", name),
			)
		}

		kind, width := columnKind(t, col)
		var f shp.Field
		switch kind {
		case 'i':
			f = shp.NumberField(name, intSize)
		case 'f':
			f = shp.FloatField(name, floatSize, floatPrecision)
		default:
			f = shp.StringField(name, uint8(width))
		}
		specs = append(specs, fieldSpec{column: col, field: f, kind: kind})
	}
	return specs
}

// columnKind picks the narrowest DBF type holding every value of col. For
// string columns it also returns the field width.
func columnKind(t *table.Table, col string) (byte, int) {
	kind := byte(0)
	width := 1
	for _, r := range t.Rows {
		v := r.Attrs[col]
		if v == nil {
			continue
		}
		var k byte
		switch v.(type) {
		case int, int32, int64, uint, uint32, uint64, bool:
			k = 'i'
		case float32, float64:
			k = 'f'
		default:
			k = 's'
		}
		if w := len(fmt.Sprint(v)); w > width {
			width = w
		}
		switch {
		case kind == 0:
			kind = k
		case kind != k && (kind == 's' || k == 's'):
			kind = 's'
		case kind != k:
			kind = 'f'
		}
	}
	if kind == 0 {
		kind = 'f'
	}
	return kind, min(width, maxStringSize)
}

func (s fieldSpec) value(v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	switch s.kind {
	case 'i':
		if b, ok := v.(bool); ok {
			if b {
				return 1, true
			}
			return 0, true
		}
		return int(table.ToFloat(v)), true
	case 'f':
		f := table.ToFloat(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		return f, true
	default:
		str := fmt.Sprint(v)
		if len(str) > maxStringSize {
			str = str[:maxStringSize]
		}
		return str, true
	}
}

// dbfName shortens col to the DBF limit, adding a numeric suffix when the
// short name is already taken.
func dbfName(col string, used map[string]bool) string {
	name := col
	if len(name) > dbfNameLen {
		name = name[:dbfNameLen]
	}
	for n := 1; used[strings.ToLower(name)]; n++ {
		suffix := "_" + strconv.Itoa(n)
		stem := col
		if len(stem) > dbfNameLen-len(suffix) {
			stem = stem[:dbfNameLen-len(suffix)]
		}
		name = stem + suffix
	}
	used[strings.ToLower(name)] = true
	return name
}
