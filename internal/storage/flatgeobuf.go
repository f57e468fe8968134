package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rooftop-index/internal/table"
)

// fgbColumn is a table column with the FlatGeobuf type chosen for it.
type fgbColumn struct {
	name string
	typ  flattypes.ColumnType
}

// writeFlatGeobuf writes t as a FlatGeobuf file without a spatial index.
// Rows without geometry are skipped; nil and non-finite values are omitted
// from the feature's properties.
func writeFlatGeobuf(t *table.Table, path string) error {
	cols := make([]fgbColumn, len(t.Columns))
	for i, name := range t.Columns {
		cols[i] = fgbColumn{name: name, typ: fgbColumnType(t, name)}
	}

	builder := flatbuffers.NewBuilder(4096)
	header := writer.NewHeader(builder)
	header.SetName(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	header.SetGeometryType(fgbGeometryType(t))

	if len(cols) > 0 {
		columns := make([]*writer.Column, len(cols))
		for i, c := range cols {
			col := writer.NewColumn(builder)
			col.SetName(c.name)
			col.SetTitle(c.name)
			col.SetType(c.typ)
			col.SetNullable(true)
			columns[i] = col
		}
		header.SetColumns(columns)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "storage: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	bw := bufio.NewWriter(f)
	gen := &featureGenerator{rows: t.Rows, cols: cols}
	if _, err := writer.NewWriter(header, false, gen, nil).Write(bw); err != nil {
		return eris.Wrapf(err, "storage: write flatgeobuf %s", path)
	}
	if err := bw.Flush(); err != nil {
		return eris.Wrapf(err, "storage: flush %s", path)
	}
	return f.Close()
}

// featureGenerator feeds table rows to the FlatGeobuf writer one at a time.
type featureGenerator struct {
	rows  []table.Row
	cols  []fgbColumn
	index int
}

func (g *featureGenerator) Generate() *writer.Feature {
	for g.index < len(g.rows) {
		r := g.rows[g.index]
		g.index++

		builder := flatbuffers.NewBuilder(1024)
		geom := fgbGeometry(r.Geom, builder)
		if geom == nil {
			continue
		}
		feature := writer.NewFeature(builder)
		feature.SetGeometry(geom)
		if props := encodeProperties(r, g.cols); len(props) > 0 {
			feature.SetProperties(props)
		}
		return feature
	}
	return nil
}

func fgbGeometry(g orb.Geometry, builder *flatbuffers.Builder) *writer.Geometry {
	switch v := g.(type) {
	case orb.Point:
		geom := writer.NewGeometry(builder)
		geom.SetType(flattypes.GeometryTypePoint)
		geom.SetXY([]float64{v[0], v[1]})
		return geom
	case orb.Polygon:
		return fgbPolygon(v, builder)
	case orb.Bound:
		return fgbPolygon(v.ToPolygon(), builder)
	case orb.MultiPolygon:
		geom := writer.NewGeometry(builder)
		geom.SetType(flattypes.GeometryTypeMultiPolygon)
		parts := make([]writer.Geometry, 0, len(v))
		for _, p := range v {
			parts = append(parts, *fgbPolygon(p, builder))
		}
		geom.SetParts(parts)
		return geom
	default:
		return nil
	}
}

func fgbPolygon(p orb.Polygon, builder *flatbuffers.Builder) *writer.Geometry {
	var xy []float64
	ends := make([]uint32, 0, len(p))
	for _, ring := range p {
		for _, pt := range ring {
			xy = append(xy, pt[0], pt[1])
		}
		ends = append(ends, uint32(len(xy)/2))
	}
	geom := writer.NewGeometry(builder)
	geom.SetType(flattypes.GeometryTypePolygon)
	geom.SetXY(xy)
	geom.SetEnds(ends)
	return geom
}

func fgbGeometryType(t *table.Table) flattypes.GeometryType {
	typ := flattypes.GeometryTypeUnknown
	seen := false
	for _, r := range t.Rows {
		var rt flattypes.GeometryType
		switch r.Geom.(type) {
		case orb.Point:
			rt = flattypes.GeometryTypePoint
		case orb.Polygon, orb.Bound:
			rt = flattypes.GeometryTypePolygon
		case orb.MultiPolygon:
			rt = flattypes.GeometryTypeMultiPolygon
		default:
			continue
		}
		if seen && rt != typ {
			return flattypes.GeometryTypeUnknown
		}
		typ, seen = rt, true
	}
	return typ
}

func fgbColumnType(t *table.Table, col string) flattypes.ColumnType {
	kind, _ := columnKind(t, col)
	switch kind {
	case 'i':
		return flattypes.ColumnTypeLong
	case 'f':
		return flattypes.ColumnTypeDouble
	default:
		return flattypes.ColumnTypeString
	}
}

// encodeProperties lays out the non-null values of r as
// (uint16 column index, value) pairs.
func encodeProperties(r table.Row, cols []fgbColumn) []byte {
	var buf bytes.Buffer
	for i, c := range cols {
		v := r.Attrs[c.name]
		if v == nil {
			continue
		}
		var val []byte
		switch c.typ {
		case flattypes.ColumnTypeLong:
			var n int64
			if b, ok := v.(bool); ok {
				if b {
					n = 1
				}
			} else {
				n = int64(table.ToFloat(v))
			}
			val = binary.LittleEndian.AppendUint64(nil, uint64(n))
		case flattypes.ColumnTypeDouble:
			f := table.ToFloat(v)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				continue
			}
			val = binary.LittleEndian.AppendUint64(nil, math.Float64bits(f))
		default:
			s := fmt.Sprint(v)
			val = binary.LittleEndian.AppendUint32(nil, uint32(len(s)))
			val = append(val, s...)
		}
		buf.Write(binary.LittleEndian.AppendUint16(nil, uint16(i)))
		buf.Write(val)
	}
	return buf.Bytes()
}
