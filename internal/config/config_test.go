package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/rooftop-index/internal/feature"
	"github.com/sells-group/rooftop-index/internal/model"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "bldg_id", cfg.Input.IDColumn)
	assert.InDelta(t, 11.0, cfg.Classify.SlopeThreshold, 1e-9)
	assert.InDelta(t, 9.0, cfg.Classify.AreaThreshold, 1e-9)
	assert.True(t, cfg.Classify.UnitConvert)
	assert.InDelta(t, 11.0, cfg.Disaggregate.SlopeThreshold, 1e-9)
	assert.InDelta(t, 1000.0, cfg.Disaggregate.MinAreaSqft, 1e-9)
	assert.Empty(t, cfg.Features.Names)
	assert.True(t, cfg.Features.Strict)
	assert.Equal(t, EngineGDAL, cfg.Terrain.Engine)
	assert.Equal(t, VectorizeProcess, cfg.Vectorizer.Kind)
	assert.Equal(t, "gdal_polygonize.py", cfg.Vectorizer.PolygonizePath)
	assert.Equal(t, "out", cfg.Output.Dir)
	assert.Equal(t, FormatShapefile, cfg.Output.Format)
	assert.False(t, cfg.Output.WriteRasters)
	assert.Equal(t, "public", cfg.Output.Schema)
	assert.Equal(t, "flat_areas", cfg.Output.Table)
	assert.Equal(t, 0, cfg.Output.SRID)
	assert.Equal(t, "rooftop.db", cfg.Store.Path)
	assert.Empty(t, cfg.Metrics.Textfile)
	assert.Equal(t, 24, cfg.Monitoring.LookbackHours)
	assert.InDelta(t, 0.2, cfg.Monitoring.FailureRateThreshold, 1e-9)
	assert.Equal(t, "/tmp/rooftop", cfg.TempDir)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
  format: console
input:
  dsm: dsm.tif
  ground: dem.tif
  footprints: buildings.zip
  points: [schools.shp, transit.geojson]
classify:
  area_threshold: 15
features:
  names: [average_slope, parapet_slope]
  args:
    parapet_slope:
      width: 2
output:
  format: fgb
  srid: 2263
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "dsm.tif", cfg.Input.DSM)
	assert.Equal(t, "buildings.zip", cfg.Input.Footprints)
	assert.Equal(t, []string{"schools.shp", "transit.geojson"}, cfg.Input.Points)
	assert.InDelta(t, 15.0, cfg.Classify.AreaThreshold, 1e-9)
	assert.Equal(t, []string{"average_slope", "parapet_slope"}, cfg.Features.Names)
	assert.EqualValues(t, 2, cfg.Features.Args["parapet_slope"]["width"])
	assert.Equal(t, FormatFlatGeobuf, cfg.Output.Format)
	assert.Equal(t, 2263, cfg.Output.SRID)
	// Defaults still apply for unset values
	assert.InDelta(t, 11.0, cfg.Classify.SlopeThreshold, 1e-9)
	assert.Equal(t, "rooftop.db", cfg.Store.Path)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
output:
  format: geojson
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("ROOFTOP_LOG_LEVEL", "warn")
	t.Setenv("ROOFTOP_OUTPUT_FORMAT", "fgb")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "fgb", cfg.Output.Format)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("ROOFTOP_INPUT_DSM", "/data/dsm.tif")
	t.Setenv("ROOFTOP_DISAGGREGATE_MIN_AREA_SQFT", "500")
	t.Setenv("ROOFTOP_TERRAIN_ENGINE", "horn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/dsm.tif", cfg.Input.DSM)
	assert.InDelta(t, 500.0, cfg.Disaggregate.MinAreaSqft, 1e-9)
	assert.Equal(t, EngineHorn, cfg.Terrain.Engine)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unterminated"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	assert.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	assert.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}

func validDefaults() *Config {
	return &Config{
		Log:          LogConfig{Level: "info", Format: "json"},
		Input:        InputConfig{DSM: "dsm.tif", Ground: "dem.tif", Footprints: "bldg.shp", IDColumn: "bldg_id"},
		Classify:     ClassifyConfig{SlopeThreshold: 11, AreaThreshold: 9, UnitConvert: true},
		Disaggregate: DisaggregateConfig{SlopeThreshold: 11, MinAreaSqft: 1000},
		Terrain:      TerrainConfig{Engine: EngineGDAL},
		Vectorizer:   VectorizerConfig{Kind: VectorizeProcess, PolygonizePath: "gdal_polygonize.py"},
		Output:       OutputConfig{Dir: "out", Format: FormatShapefile},
		Store:        StoreConfig{Path: "rooftop.db"},
		Monitoring:   MonitoringConfig{LookbackHours: 24, FailureRateThreshold: 0.2, ExclusionRateThreshold: 0.5},
	}
}

func TestValidateRun_Valid(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("run"))
}

func TestValidateRun_MissingInputs(t *testing.T) {
	cfg := validDefaults()
	cfg.Input = InputConfig{}

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.True(t, model.IsConfigError(err))
	assert.Contains(t, err.Error(), "input.dsm is required")
	assert.Contains(t, err.Error(), "input.ground is required")
	assert.Contains(t, err.Error(), "input.footprints is required")
	assert.Contains(t, err.Error(), "input.id_column is required")
}

func TestValidateRun_BadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"slope", func(c *Config) { c.Classify.SlopeThreshold = 0 }, "classify.slope_threshold"},
		{"area", func(c *Config) { c.Classify.AreaThreshold = 100 }, "classify.area_threshold"},
		{"disaggregate slope", func(c *Config) { c.Disaggregate.SlopeThreshold = 95 }, "disaggregate.slope_threshold"},
		{"min area", func(c *Config) { c.Disaggregate.MinAreaSqft = -1 }, "disaggregate.min_area_sqft"},
		{"engine", func(c *Config) { c.Terrain.Engine = "richdem" }, "terrain.engine"},
		{"vectorizer", func(c *Config) { c.Vectorizer.Kind = "opencv" }, "vectorizer.kind"},
		{"polygonize path", func(c *Config) { c.Vectorizer.PolygonizePath = "" }, "vectorizer.polygonize_path"},
		{"format", func(c *Config) { c.Output.Format = "gpkg" }, "output.format"},
		{"srid", func(c *Config) { c.Output.SRID = -1 }, "output.srid"},
		{"store", func(c *Config) { c.Store.Path = "" }, "store.path is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate("run")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateTerrain_FootprintsOptional(t *testing.T) {
	cfg := validDefaults()
	cfg.Input.Footprints = ""
	cfg.Vectorizer.Kind = "unused"
	assert.NoError(t, cfg.Validate("terrain"))

	cfg.Input.Ground = ""
	err := cfg.Validate("terrain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input.ground is required")
}

func TestValidateRuns(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("runs"))

	cfg.Monitoring.LookbackHours = 0
	cfg.Monitoring.FailureRateThreshold = 1.5
	err := cfg.Validate("runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.lookback_hours must be > 0")
	assert.Contains(t, err.Error(), "monitoring.failure_rate_threshold")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestFeatureArgs(t *testing.T) {
	cfg := validDefaults()
	cfg.Features.Args = map[string]map[string]any{
		"parapet_slope": {"width": 2},
	}
	cfg.Input.Points = []string{"schools.shp"}

	args := cfg.FeatureArgs()
	assert.Equal(t, feature.Args{"width": 2}, args["parapet_slope"])
	assert.Equal(t, []string{"schools.shp"}, args["closeness_to_points"][feature.ArgPoints])

	// explicit feature args win over input.points
	cfg.Features.Args["closeness_to_points"] = map[string]any{"points": "transit.geojson"}
	args = cfg.FeatureArgs()
	assert.Equal(t, "transit.geojson", args["closeness_to_points"][feature.ArgPoints])
}

func TestFeatureArgs_DoesNotMutateConfig(t *testing.T) {
	cfg := validDefaults()
	cfg.Features.Args = map[string]map[string]any{
		"closeness_to_points": {"decay": 2},
	}
	cfg.Input.Points = []string{"schools.shp"}

	args := cfg.FeatureArgs()
	assert.Equal(t, []string{"schools.shp"}, args["closeness_to_points"][feature.ArgPoints])
	assert.Equal(t, map[string]any{"decay": 2}, cfg.Features.Args["closeness_to_points"])
}

func TestFeatureNames(t *testing.T) {
	all := feature.Names()
	withoutPoints := []string{"average_slope", "median_height", "volume_on_roof", "parapet_slope"}

	tests := []struct {
		name   string
		names  []string
		points []string
		args   map[string]map[string]any
		want   []string
	}{
		{name: "defaults without points", want: withoutPoints},
		{name: "defaults with input points", points: []string{"schools.shp"}, want: all},
		{
			name: "defaults with points arg",
			args: map[string]map[string]any{"closeness_to_points": {"points": []string{"hvac.shp"}}},
			want: all,
		},
		{name: "explicit names kept", names: []string{"closeness_to_points"}, want: []string{"closeness_to_points"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			cfg.Features.Names = tt.names
			cfg.Features.Args = tt.args
			cfg.Input.Points = tt.points
			assert.Equal(t, tt.want, cfg.FeatureNames())
		})
	}
}
