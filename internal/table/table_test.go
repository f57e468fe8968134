package table

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}}
}

func TestKeyString(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "B-12", "B-12"},
		{"int", 42, "42"},
		{"int64", int64(7), "7"},
		{"integral float", 42.0, "42"},
		{"fractional float", 1.5, "1.5"},
		{"float32", float32(3), "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyString(tt.in))
		})
	}
}

func TestToFloat(t *testing.T) {
	assert.Equal(t, 3.0, ToFloat(3))
	assert.Equal(t, 2.5, ToFloat("2.5"))
	assert.True(t, math.IsNaN(ToFloat(nil)))
	assert.True(t, math.IsNaN(ToFloat("abc")))
}

func TestTable_AppendDeclaresColumns(t *testing.T) {
	tbl := New("bldg_id")
	tbl.Append(square(0, 0, 1), map[string]any{"bldg_id": 1, "zone": "a", "height": 3.0})

	assert.Equal(t, []string{"bldg_id", "height", "zone"}, tbl.Columns)
	assert.Equal(t, 1, tbl.Len())
	assert.Equal(t, 3.0, tbl.Rows[0].Float("height"))
	assert.True(t, math.IsNaN(tbl.Rows[0].Float("missing")))
}

func TestTable_CloneIsIndependent(t *testing.T) {
	tbl := New("id")
	tbl.Append(square(0, 0, 1), map[string]any{"id": 1})

	c := tbl.Clone()
	c.Rows[0].Attrs["id"] = 2
	c.AddColumn("extra")

	assert.Equal(t, 1, tbl.Rows[0].Attrs["id"])
	assert.False(t, tbl.HasColumn("extra"))
}

func TestTable_SelectFilterRename(t *testing.T) {
	tbl := New("id", "a", "b")
	tbl.Append(square(0, 0, 1), map[string]any{"id": 1, "a": 1.0, "b": 2.0})
	tbl.Append(square(2, 0, 1), map[string]any{"id": 2, "a": 5.0, "b": 6.0})

	sel := tbl.Select("id", "b")
	assert.Equal(t, []string{"id", "b"}, sel.Columns)
	_, ok := sel.Rows[0].Get("a")
	assert.False(t, ok)

	f := tbl.Filter(func(r Row) bool { return r.Float("a") > 2 })
	require.Equal(t, 1, f.Len())
	assert.Equal(t, "2", f.Rows[0].Key("id"))

	tbl.RenameColumn("a", "renamed")
	assert.Equal(t, []string{"id", "renamed", "b"}, tbl.Columns)
	assert.Equal(t, 5.0, tbl.Rows[1].Float("renamed"))
}

func TestTable_Index(t *testing.T) {
	tbl := New("id")
	tbl.Append(nil, map[string]any{"id": 1})
	tbl.Append(nil, map[string]any{"id": 2.0})

	idx, err := tbl.Index("id")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"1": 0, "2": 1}, idx)
	assert.Equal(t, []string{"1", "2"}, tbl.Keys("id"))

	tbl.Append(nil, map[string]any{"id": "1"})
	_, err = tbl.Index("id")
	assert.ErrorContains(t, err, "duplicate key")
}

func TestExplode(t *testing.T) {
	tbl := New("id")
	tbl.Append(orb.MultiPolygon{square(0, 0, 1), square(5, 5, 1)}, map[string]any{"id": "m"})
	tbl.Append(square(10, 10, 2), map[string]any{"id": "p"})
	tbl.Append(orb.Collection{orb.Point{1, 1}, square(20, 20, 1)}, map[string]any{"id": "c"})
	tbl.Append(orb.LineString{{0, 0}, {1, 1}}, map[string]any{"id": "l"})

	out := Explode(tbl)

	require.Equal(t, 4, out.Len())
	assert.Equal(t, []string{"m", "m", "p", "c"}, out.Keys("id"))
	for _, r := range out.Rows {
		assert.True(t, IsSinglePart(r.Geom))
	}

	out.Rows[0].Attrs["id"] = "changed"
	assert.Equal(t, "m", out.Rows[1].Key("id"))
	assert.Equal(t, "m", tbl.Rows[0].Key("id"))
}
