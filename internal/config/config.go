package config

import (
	"maps"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/rooftop-index/internal/feature"
	"github.com/sells-group/rooftop-index/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Input        InputConfig        `yaml:"input" mapstructure:"input"`
	Classify     ClassifyConfig     `yaml:"classify" mapstructure:"classify"`
	Disaggregate DisaggregateConfig `yaml:"disaggregate" mapstructure:"disaggregate"`
	Features     FeaturesConfig     `yaml:"features" mapstructure:"features"`
	Terrain      TerrainConfig      `yaml:"terrain" mapstructure:"terrain"`
	Vectorizer   VectorizerConfig   `yaml:"vectorizer" mapstructure:"vectorizer"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Metrics      MetricsConfig      `yaml:"metrics" mapstructure:"metrics"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	TempDir      string             `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// InputConfig names the datasets of a run.
type InputConfig struct {
	DSM        string   `yaml:"dsm" mapstructure:"dsm"`
	Ground     string   `yaml:"ground" mapstructure:"ground"`
	Footprints string   `yaml:"footprints" mapstructure:"footprints"`
	Points     []string `yaml:"points" mapstructure:"points"`
	IDColumn   string   `yaml:"id_column" mapstructure:"id_column"`
}

// ClassifyConfig configures the flatness classifier.
type ClassifyConfig struct {
	SlopeThreshold float64 `yaml:"slope_threshold" mapstructure:"slope_threshold"`
	AreaThreshold  float64 `yaml:"area_threshold" mapstructure:"area_threshold"`
	UnitConvert    bool    `yaml:"unit_convert" mapstructure:"unit_convert"`
}

// DisaggregateConfig configures the flat-area disaggregator.
type DisaggregateConfig struct {
	SlopeThreshold float64 `yaml:"slope_threshold" mapstructure:"slope_threshold"`
	MinAreaSqft    float64 `yaml:"min_area_sqft" mapstructure:"min_area_sqft"`
}

// FeaturesConfig selects the features to build. When PlanFile is set it
// replaces Names and Args. Empty Names selects every feature that can run;
// see FeatureNames.
type FeaturesConfig struct {
	Names    []string                  `yaml:"names" mapstructure:"names"`
	Args     map[string]map[string]any `yaml:"args" mapstructure:"args"`
	PlanFile string                    `yaml:"plan_file" mapstructure:"plan_file"`
	// Strict aborts the run before any raster work when a feature is
	// rejected. Otherwise rejected features are reported and skipped.
	Strict bool `yaml:"strict" mapstructure:"strict"`
}

// TerrainConfig selects the slope engine.
type TerrainConfig struct {
	Engine string `yaml:"engine" mapstructure:"engine"`
}

// VectorizerConfig selects the raster-to-polygon implementation.
type VectorizerConfig struct {
	Kind           string `yaml:"kind" mapstructure:"kind"`
	PolygonizePath string `yaml:"polygonize_path" mapstructure:"polygonize_path"`
}

// OutputConfig configures where results go.
type OutputConfig struct {
	Dir          string `yaml:"dir" mapstructure:"dir"`
	Format       string `yaml:"format" mapstructure:"format"`
	WriteRasters bool   `yaml:"write_rasters" mapstructure:"write_rasters"`
	DatabaseURL  string `yaml:"database_url" mapstructure:"database_url"`
	Schema       string `yaml:"schema" mapstructure:"schema"`
	Table        string `yaml:"table" mapstructure:"table"`
	SRID         int    `yaml:"srid" mapstructure:"srid"`
}

// StoreConfig configures the run ledger.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// MonitoringConfig configures the run-ledger health check.
type MonitoringConfig struct {
	LookbackHours          int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ExclusionRateThreshold float64 `yaml:"exclusion_rate_threshold" mapstructure:"exclusion_rate_threshold"`
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// Engine and format names.
const (
	EngineGDAL       = "gdal"
	EngineHorn       = "horn"
	VectorizeProcess = "process"
	VectorizeCells   = "cells"
	FormatShapefile  = "shp"
	FormatGeoJSON    = "geojson"
	FormatFlatGeobuf = "fgb"
)

// Load reads configuration from config.yaml and ROOFTOP_* environment
// variables.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ROOFTOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("input.dsm", "")
	v.SetDefault("input.ground", "")
	v.SetDefault("input.footprints", "")
	v.SetDefault("input.points", []string{})
	v.SetDefault("input.id_column", "bldg_id")
	v.SetDefault("classify.slope_threshold", 11.0)
	v.SetDefault("classify.area_threshold", 9.0)
	v.SetDefault("classify.unit_convert", true)
	v.SetDefault("disaggregate.slope_threshold", 11.0)
	v.SetDefault("disaggregate.min_area_sqft", 1000.0)
	v.SetDefault("features.names", []string{})
	v.SetDefault("features.plan_file", "")
	v.SetDefault("features.strict", true)
	v.SetDefault("terrain.engine", EngineGDAL)
	v.SetDefault("vectorizer.kind", VectorizeProcess)
	v.SetDefault("vectorizer.polygonize_path", "gdal_polygonize.py")
	v.SetDefault("output.dir", "out")
	v.SetDefault("output.format", FormatShapefile)
	v.SetDefault("output.write_rasters", false)
	v.SetDefault("output.database_url", "")
	v.SetDefault("output.schema", "public")
	v.SetDefault("output.table", "flat_areas")
	v.SetDefault("output.srid", 0)
	v.SetDefault("store.path", "rooftop.db")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.exclusion_rate_threshold", 0.5)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("temp_dir", "/tmp/rooftop")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Mode is one of "run",
// "terrain" or "runs". All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run":
		errs = append(errs, c.requireInputs(true)...)
		errs = append(errs, c.checkThresholds()...)
		errs = append(errs, c.checkEngines()...)
		switch c.Output.Format {
		case FormatShapefile, FormatGeoJSON, FormatFlatGeobuf:
		default:
			errs = append(errs, "output.format must be one of shp, geojson, fgb")
		}
		if c.Output.SRID < 0 {
			errs = append(errs, "output.srid must be >= 0")
		}
	case "terrain":
		errs = append(errs, c.requireInputs(false)...)
		if c.Terrain.Engine != EngineGDAL && c.Terrain.Engine != EngineHorn {
			errs = append(errs, "terrain.engine must be gdal or horn")
		}
	case "runs":
		if c.Monitoring.LookbackHours <= 0 {
			errs = append(errs, "monitoring.lookback_hours must be > 0")
		}
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
		if c.Monitoring.ExclusionRateThreshold < 0 || c.Monitoring.ExclusionRateThreshold > 1 {
			errs = append(errs, "monitoring.exclusion_rate_threshold must be between 0 and 1")
		}
	default:
		return model.NewConfigError("config", eris.Errorf("config: unknown mode %q", mode))
	}

	if c.Store.Path == "" {
		errs = append(errs, "store.path is required")
	}

	if len(errs) > 0 {
		return model.NewConfigError("config", eris.Errorf("config: %s", strings.Join(errs, "; ")))
	}
	return nil
}

func (c *Config) requireInputs(footprints bool) []string {
	var errs []string
	if c.Input.DSM == "" {
		errs = append(errs, "input.dsm is required")
	}
	if c.Input.Ground == "" {
		errs = append(errs, "input.ground is required")
	}
	if footprints {
		if c.Input.Footprints == "" {
			errs = append(errs, "input.footprints is required")
		}
		if c.Input.IDColumn == "" {
			errs = append(errs, "input.id_column is required")
		}
	}
	return errs
}

func (c *Config) checkThresholds() []string {
	var errs []string
	if c.Classify.SlopeThreshold <= 0 || c.Classify.SlopeThreshold >= 90 {
		errs = append(errs, "classify.slope_threshold must be between 0 and 90")
	}
	if c.Classify.AreaThreshold < 0 || c.Classify.AreaThreshold >= 100 {
		errs = append(errs, "classify.area_threshold must be between 0 and 100")
	}
	if c.Disaggregate.SlopeThreshold <= 0 || c.Disaggregate.SlopeThreshold >= 90 {
		errs = append(errs, "disaggregate.slope_threshold must be between 0 and 90")
	}
	if c.Disaggregate.MinAreaSqft < 0 {
		errs = append(errs, "disaggregate.min_area_sqft must be >= 0")
	}
	return errs
}

func (c *Config) checkEngines() []string {
	var errs []string
	if c.Terrain.Engine != EngineGDAL && c.Terrain.Engine != EngineHorn {
		errs = append(errs, "terrain.engine must be gdal or horn")
	}
	switch c.Vectorizer.Kind {
	case VectorizeProcess:
		if c.Vectorizer.PolygonizePath == "" {
			errs = append(errs, "vectorizer.polygonize_path is required for the process vectorizer")
		}
	case VectorizeCells:
	default:
		errs = append(errs, "vectorizer.kind must be process or cells")
	}
	return errs
}

// FeatureArgs converts the configured per-feature arguments. input.points
// fills closeness_to_points' points argument when it is not set there.
func (c *Config) FeatureArgs() map[string]feature.Args {
	out := make(map[string]feature.Args, len(c.Features.Args)+1)
	for name, args := range c.Features.Args {
		out[name] = feature.Args(maps.Clone(args))
	}
	if len(c.Input.Points) > 0 {
		name := string(feature.ClosenessToPoints)
		args := out[name]
		if args == nil {
			args = feature.Args{}
		}
		if _, ok := args[feature.ArgPoints]; !ok {
			args[feature.ArgPoints] = c.Input.Points
		}
		out[name] = args
	}
	return out
}

// FeatureNames returns the ordered features to build. Explicit names are
// returned as given. With none configured every registered feature is
// selected, except closeness_to_points when no point layer is configured
// for it.
func (c *Config) FeatureNames() []string {
	if len(c.Features.Names) > 0 {
		return c.Features.Names
	}
	args := c.FeatureArgs()
	var names []string
	for _, name := range feature.Names() {
		if name == string(feature.ClosenessToPoints) {
			if _, ok := args[name][feature.ArgPoints]; !ok {
				continue
			}
		}
		names = append(names, name)
	}
	return names
}

// InitLogger initializes the global zap logger based on config.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
