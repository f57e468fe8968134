package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rooftop-index/internal/config"
	"github.com/sells-group/rooftop-index/internal/feature"
	"github.com/sells-group/rooftop-index/internal/flatroof"
	"github.com/sells-group/rooftop-index/internal/gdal"
	"github.com/sells-group/rooftop-index/internal/model"
	"github.com/sells-group/rooftop-index/internal/pipeline"
	"github.com/sells-group/rooftop-index/internal/storage"
	"github.com/sells-group/rooftop-index/internal/store"
	"github.com/sells-group/rooftop-index/internal/terrain"
	"github.com/sells-group/rooftop-index/internal/vectorize"
)

// initStore opens and migrates the SQLite run ledger.
func initStore(ctx context.Context) (store.Store, error) {
	if dir := filepath.Dir(cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrap(err, "create store dir")
		}
	}
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func newStorage(c *config.Config) *storage.Local {
	return storage.NewLocal(gdal.NewRasterIO(), c.TempDir)
}

func newEngine(c *config.Config) (terrain.Engine, error) {
	switch c.Terrain.Engine {
	case config.EngineGDAL:
		return gdal.NewDemEngine(c.TempDir), nil
	case config.EngineHorn:
		return terrain.Horn{}, nil
	default:
		return nil, model.NewConfigError("terrain.engine", eris.Errorf("unknown terrain engine %q", c.Terrain.Engine))
	}
}

func newVectorizer(c *config.Config, st *storage.Local) (vectorize.Vectorizer, error) {
	switch c.Vectorizer.Kind {
	case config.VectorizeProcess:
		return vectorize.NewProcess(c.Vectorizer.PolygonizePath, c.TempDir, st, st), nil
	case config.VectorizeCells:
		return vectorize.Cells{Values: []float64{1}}, nil
	default:
		return nil, model.NewConfigError("vectorizer.kind", eris.Errorf("unknown vectorizer %q", c.Vectorizer.Kind))
	}
}

// buildPlan resolves the configured features before any raster is read.
// In strict mode a rejected feature fails the command; otherwise the
// rejections are returned for the run to report.
func buildPlan(c *config.Config) (*feature.Plan, []*model.ConfigError, error) {
	names, args := c.FeatureNames(), c.FeatureArgs()
	if c.Features.PlanFile != "" {
		var err error
		names, args, err = feature.LoadPlanFile(c.Features.PlanFile)
		if err != nil {
			return nil, nil, err
		}
	}

	plan, err := feature.ParsePlan(names, args)
	if err == nil {
		return plan, nil, nil
	}

	var pe *feature.PlanError
	if !errors.As(err, &pe) || c.Features.Strict {
		return nil, nil, err
	}
	for _, rej := range pe.Errors {
		zap.L().Warn("feature rejected", zap.String("feature", rej.Subject), zap.Error(rej.Err))
	}
	return plan, pe.Errors, nil
}

// outputPath is the feature table file under output.dir.
func outputPath(c *config.Config) string {
	return filepath.Join(c.Output.Dir, "flat_areas."+c.Output.Format)
}

func runInput(c *config.Config, plan *feature.Plan) model.RunInput {
	in := model.RunInput{
		DSM:         c.Input.DSM,
		Ground:      c.Input.Ground,
		Footprints:  c.Input.Footprints,
		PointLayers: c.Input.Points,
	}
	if plan != nil {
		for _, id := range plan.IDs() {
			in.Features = append(in.Features, string(id))
		}
	}
	return in
}

func buildRequest(c *config.Config, plan *feature.Plan, rejected []*model.ConfigError) pipeline.Request {
	classify := flatroof.ClassifyOptions{
		SlopeThreshold: c.Classify.SlopeThreshold,
		AreaThreshold:  c.Classify.AreaThreshold,
		UnitConvert:    c.Classify.UnitConvert,
		IDColumn:       c.Input.IDColumn,
	}
	disaggregate := flatroof.DisaggregateOptions{
		SlopeThreshold: c.Disaggregate.SlopeThreshold,
		MinAreaSqft:    c.Disaggregate.MinAreaSqft,
		IDColumn:       c.Input.IDColumn,
	}

	req := pipeline.Request{
		Input:        runInput(c, plan),
		Classify:     classify,
		Disaggregate: disaggregate,
		Plan:         plan,
		Rejected:     rejected,
		Output:       outputPath(c),
	}
	if c.Output.WriteRasters {
		req.RasterDir = c.Output.Dir
	}
	return req
}
