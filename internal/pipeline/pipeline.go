// Package pipeline runs the rooftop flat-area pipeline end to end: load,
// terrain, classify, disaggregate, features, write.
package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/rooftop-index/internal/feature"
	"github.com/sells-group/rooftop-index/internal/flatroof"
	"github.com/sells-group/rooftop-index/internal/model"
	"github.com/sells-group/rooftop-index/internal/monitoring"
	"github.com/sells-group/rooftop-index/internal/raster"
	"github.com/sells-group/rooftop-index/internal/storage"
	"github.com/sells-group/rooftop-index/internal/store"
	"github.com/sells-group/rooftop-index/internal/table"
	"github.com/sells-group/rooftop-index/internal/terrain"
	"github.com/sells-group/rooftop-index/internal/vectorize"
)

// ErrBusy is returned when a Pipeline is already running. Concurrent runs
// need separate instances.
var ErrBusy = errors.New("pipeline: run already in progress")

// Stage names, as recorded in the run ledger and metrics.
const (
	StageLoad         = "load"
	StageTerrain      = "terrain"
	StageClassify     = "classify"
	StageDisaggregate = "disaggregate"
	StageFeatures     = "features"
	StageRasters      = "write_rasters"
	StageWrite        = "write"
	StageSink         = "sink"
)

// Derived raster file names under Request.RasterDir.
const (
	SlopeFile  = "slope.tif"
	HeightFile = "height.tif"
)

// Sink receives the final feature table, e.g. a PostGIS table.
type Sink interface {
	Write(ctx context.Context, t *table.Table) (int64, error)
}

// Request describes one run.
type Request struct {
	Input        model.RunInput
	Classify     flatroof.ClassifyOptions
	Disaggregate flatroof.DisaggregateOptions
	Plan         *feature.Plan
	// Rejected lists features dropped while parsing the plan. They are
	// reported in the result alongside features that fail while building.
	Rejected []*model.ConfigError
	// Output is the vector path of the feature table. Empty skips writing.
	Output string
	// RasterDir, when set, receives slope.tif and height.tif.
	RasterDir string
}

// Pipeline wires the collaborators of a run. A Pipeline runs one request at
// a time; derived data lives in a StageContext private to each run.
type Pipeline struct {
	storage    storage.Storage
	engine     terrain.Engine
	vectorizer vectorize.Vectorizer
	store      store.Store
	metrics    *monitoring.Metrics
	sink       Sink
	clock      clockwork.Clock

	mu sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStore records runs and stages in st.
func WithStore(st store.Store) Option { return func(p *Pipeline) { p.store = st } }

// WithMetrics records stage metrics in m.
func WithMetrics(m *monitoring.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithSink also writes the feature table to s.
func WithSink(s Sink) Option { return func(p *Pipeline) { p.sink = s } }

// WithClock sets the clock used for stage timing.
func WithClock(c clockwork.Clock) Option { return func(p *Pipeline) { p.clock = c } }

// New creates a Pipeline.
func New(st storage.Storage, engine terrain.Engine, v vectorize.Vectorizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		storage:    st,
		engine:     engine,
		vectorizer: v,
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes every stage in order, checking ctx between stages. Stage
// failures end the run; feature failures are reported in the result and do
// not. The result is returned alongside any error.
func (p *Pipeline) Run(ctx context.Context, req Request) (*model.RunResult, error) {
	if !p.mu.TryLock() {
		return nil, ErrBusy
	}
	defer p.mu.Unlock()

	r := p.begin(ctx, req.Input)
	r.log.Info("pipeline: starting run",
		zap.String("dsm", req.Input.DSM),
		zap.String("footprints", req.Input.Footprints),
	)
	for _, rej := range req.Rejected {
		r.featureIssue(feature.Issue{Feature: feature.ID(rej.Subject), Err: rej})
	}

	sc, err := p.runStages(ctx, r, req)
	if err == nil {
		r.result.Columns = sc.Features.Columns
		r.result.Output = req.Output
	}
	return r.finish(ctx, err)
}

// Terrain derives slope and height and writes them to req.RasterDir. The
// footprints are not read.
func (p *Pipeline) Terrain(ctx context.Context, req Request) (*model.RunResult, error) {
	if !p.mu.TryLock() {
		return nil, ErrBusy
	}
	defer p.mu.Unlock()

	if req.RasterDir == "" {
		return nil, model.NewConfigError("raster dir", eris.New("pipeline: terrain needs an output directory"))
	}

	r := p.begin(ctx, req.Input)
	sc, err := p.load(ctx, r, req, false)
	if err == nil {
		sc, err = p.terrain(ctx, r, sc)
	}
	if err == nil {
		err = p.writeRasters(ctx, r, sc, req.RasterDir)
	}
	if err == nil {
		r.result.Output = req.RasterDir
	}
	return r.finish(ctx, err)
}

func (p *Pipeline) runStages(ctx context.Context, r *run, req Request) (StageContext, error) {
	sc, err := p.load(ctx, r, req, true)
	if err != nil {
		return sc, err
	}
	if sc, err = p.terrain(ctx, r, sc); err != nil {
		return sc, err
	}
	if req.RasterDir != "" {
		if err = p.writeRasters(ctx, r, sc, req.RasterDir); err != nil {
			return sc, err
		}
	}
	if sc, err = p.classify(ctx, r, sc, req.Classify); err != nil {
		return sc, err
	}
	if sc, err = p.disaggregate(ctx, r, sc, req.Disaggregate); err != nil {
		return sc, err
	}
	if sc, err = p.features(ctx, r, sc, req); err != nil {
		return sc, err
	}
	if req.Output != "" {
		if err = p.write(ctx, r, sc, req.Output); err != nil {
			return sc, err
		}
	}
	if p.sink != nil {
		if err = p.toSink(ctx, r, sc); err != nil {
			return sc, err
		}
	}
	return sc, nil
}

// load reads the DSM and ground rasters and, when footprints is set, the
// footprint layer. The reads run concurrently.
func (p *Pipeline) load(ctx context.Context, r *run, req Request, footprints bool) (StageContext, error) {
	var sc StageContext
	err := r.stage(ctx, StageLoad, model.RunStatusLoading, func() (*model.StageResult, error) {
		var (
			dsm, ground raster.Grid
			fp          *table.Table
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			if dsm, err = p.storage.ReadRaster(gctx, req.Input.DSM); err != nil {
				return eris.Wrap(err, "pipeline: read dsm")
			}
			return nil
		})
		g.Go(func() error {
			var err error
			if ground, err = p.storage.ReadRaster(gctx, req.Input.Ground); err != nil {
				return eris.Wrap(err, "pipeline: read ground")
			}
			return nil
		})
		if footprints {
			g.Go(func() error {
				var err error
				if fp, err = p.storage.ReadVector(gctx, req.Input.Footprints); err != nil {
					return eris.Wrap(err, "pipeline: read footprints")
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		sc = sc.withRasters(dsm, ground)
		res := &model.StageResult{Metadata: map[string]any{
			"width":  dsm.Width,
			"height": dsm.Height,
			"crs":    dsm.CRS,
		}}
		if fp != nil {
			sc = sc.withFootprints(fp)
			r.result.Footprints = fp.Len()
			res.Rows = fp.Len()
		}
		return res, nil
	})
	return sc, err
}

func (p *Pipeline) terrain(ctx context.Context, r *run, sc StageContext) (StageContext, error) {
	err := r.stage(ctx, StageTerrain, model.RunStatusTerrain, func() (*model.StageResult, error) {
		height, err := terrain.Height(sc.DSM, sc.Ground)
		if err != nil {
			return nil, err
		}
		slope, err := terrain.Slope(ctx, p.engine, sc.DSM)
		if err != nil {
			return nil, err
		}
		sc = sc.withTerrain(slope, height)
		return &model.StageResult{Rows: len(slope.Data)}, nil
	})
	return sc, err
}

func (p *Pipeline) writeRasters(ctx context.Context, r *run, sc StageContext, dir string) error {
	return r.stage(ctx, StageRasters, model.RunStatusWriting, func() (*model.StageResult, error) {
		slopePath := filepath.Join(dir, SlopeFile)
		heightPath := filepath.Join(dir, HeightFile)
		if err := p.storage.WriteRaster(ctx, sc.Slope, slopePath); err != nil {
			return nil, eris.Wrap(err, "pipeline: write slope")
		}
		if err := p.storage.WriteRaster(ctx, sc.Height, heightPath); err != nil {
			return nil, eris.Wrap(err, "pipeline: write height")
		}
		return &model.StageResult{Metadata: map[string]any{
			"slope":  slopePath,
			"height": heightPath,
		}}, nil
	})
}

func (p *Pipeline) classify(ctx context.Context, r *run, sc StageContext, opts flatroof.ClassifyOptions) (StageContext, error) {
	err := r.stage(ctx, StageClassify, model.RunStatusClassifying, func() (*model.StageResult, error) {
		res, err := flatroof.Classify(sc.Slope, sc.Footprints, opts)
		if err != nil {
			return nil, err
		}
		sc = sc.withFlat(res.Flat)
		r.result.FlatFootprints = res.Flat.Len()
		r.result.ExcludedFootprints = len(res.Excluded)
		if p.metrics != nil {
			p.metrics.ExcludedFootprints.Add(float64(len(res.Excluded)))
		}
		return &model.StageResult{Rows: res.Flat.Len(), Metadata: map[string]any{
			"excluded":        len(res.Excluded),
			"below_threshold": res.BelowThreshold,
		}}, nil
	})
	return sc, err
}

func (p *Pipeline) disaggregate(ctx context.Context, r *run, sc StageContext, opts flatroof.DisaggregateOptions) (StageContext, error) {
	err := r.stage(ctx, StageDisaggregate, model.RunStatusDisaggregating, func() (*model.StageResult, error) {
		areas, err := flatroof.Disaggregate(ctx, p.vectorizer, sc.Slope, sc.Flat, opts)
		if err != nil {
			return nil, err
		}
		sc = sc.withFlatAreas(areas)
		r.result.FlatAreas = areas.Len()
		if p.metrics != nil {
			p.metrics.FlatAreas.Set(float64(areas.Len()))
		}
		return &model.StageResult{Rows: areas.Len()}, nil
	})
	return sc, err
}

func (p *Pipeline) features(ctx context.Context, r *run, sc StageContext, req Request) (StageContext, error) {
	err := r.stage(ctx, StageFeatures, model.RunStatusFeatures, func() (*model.StageResult, error) {
		in := &feature.Inputs{
			Slope:      sc.Slope,
			Height:     sc.Height,
			Footprints: sc.Flat,
			IDColumn:   req.Classify.IDColumn,
			Vectors:    p.storage,
		}
		out, report, err := feature.Build(ctx, in, sc.FlatAreas, req.Plan)
		if err != nil {
			return nil, err
		}
		for _, issue := range report.Issues {
			r.featureIssue(issue)
		}
		sc = sc.withFeatures(out)

		applied := make([]string, len(report.Applied))
		for i, id := range report.Applied {
			applied[i] = string(id)
		}
		return &model.StageResult{Rows: out.Len(), Metadata: map[string]any{
			"applied": applied,
			"skipped": len(report.Issues),
		}}, nil
	})
	return sc, err
}

func (p *Pipeline) write(ctx context.Context, r *run, sc StageContext, path string) error {
	return r.stage(ctx, StageWrite, model.RunStatusWriting, func() (*model.StageResult, error) {
		if err := p.storage.WriteVector(ctx, sc.Features, path); err != nil {
			return nil, eris.Wrap(err, "pipeline: write features")
		}
		return &model.StageResult{Rows: sc.Features.Len(), Metadata: map[string]any{"path": path}}, nil
	})
}

func (p *Pipeline) toSink(ctx context.Context, r *run, sc StageContext) error {
	return r.stage(ctx, StageSink, model.RunStatusWriting, func() (*model.StageResult, error) {
		n, err := p.sink.Write(ctx, sc.Features)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: sink")
		}
		return &model.StageResult{Rows: int(n)}, nil
	})
}
