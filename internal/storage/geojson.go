package storage

import (
	"math"
	"os"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rooftop-index/internal/table"
)

func readGeoJSON(path string) (*table.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "storage: read %s", path)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, eris.Wrapf(err, "storage: parse geojson %s", path)
	}

	out := table.New()
	for _, f := range fc.Features {
		attrs := make(map[string]any, len(f.Properties))
		for k, v := range f.Properties {
			attrs[k] = v
		}
		out.Append(f.Geometry, attrs)
	}
	return out, nil
}

// writeGeoJSON writes t as a FeatureCollection. Non-finite numbers are
// written as null.
func writeGeoJSON(t *table.Table, path string) error {
	fc := geojson.NewFeatureCollection()
	for _, r := range t.Rows {
		f := geojson.NewFeature(r.Geom)
		for _, col := range t.Columns {
			f.Properties[col] = jsonValue(r.Attrs[col])
		}
		fc.Append(f)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return eris.Wrapf(err, "storage: encode geojson %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "storage: write %s", path)
	}
	return nil
}

func jsonValue(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil
		}
	}
	return v
}
