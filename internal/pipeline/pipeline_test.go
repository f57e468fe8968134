package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rooftop-index/internal/feature"
	"github.com/sells-group/rooftop-index/internal/flatroof"
	"github.com/sells-group/rooftop-index/internal/model"
	"github.com/sells-group/rooftop-index/internal/monitoring"
	"github.com/sells-group/rooftop-index/internal/raster"
	"github.com/sells-group/rooftop-index/internal/store"
	"github.com/sells-group/rooftop-index/internal/table"
	"github.com/sells-group/rooftop-index/internal/terrain"
	"github.com/sells-group/rooftop-index/internal/vectorize"
)

func rect(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{orb.Ring{{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY}}}
}

// memStorage keeps rasters and vectors in memory, keyed by path.
type memStorage struct {
	mu       sync.Mutex
	rasters  map[string]raster.Grid
	vectors  map[string]*table.Table
	reads    []string
	writeErr error
}

func newMemStorage() *memStorage {
	// 6x4 cells of 10 m over (0,0)-(60,40).
	dsm := raster.NewGrid(6, 4, raster.Affine{10, 0, 0, 0, -10, 40}, "EPSG:32612", -9999, 100)
	ground := raster.NewGrid(6, 4, raster.Affine{10, 0, 0, 0, -10, 40}, "EPSG:32612", -9999, 90)

	footprints := table.New("bldg_id", "name")
	footprints.Append(rect(0, 0, 60, 40), map[string]any{"bldg_id": 1, "name": "warehouse"})

	return &memStorage{
		rasters: map[string]raster.Grid{"dsm.tif": dsm, "dem.tif": ground},
		vectors: map[string]*table.Table{"footprints.shp": footprints},
	}
}

func (m *memStorage) ReadRaster(_ context.Context, path string) (raster.Grid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = append(m.reads, path)
	g, ok := m.rasters[path]
	if !ok {
		return raster.Grid{}, errors.New("not found: " + path)
	}
	return g, nil
}

func (m *memStorage) ReadVector(_ context.Context, path string) (*table.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = append(m.reads, path)
	t, ok := m.vectors[path]
	if !ok {
		return nil, errors.New("not found: " + path)
	}
	return t, nil
}

func (m *memStorage) WriteRaster(_ context.Context, g raster.Grid, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.rasters[path] = g
	return nil
}

func (m *memStorage) WriteVector(_ context.Context, t *table.Table, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.vectors[path] = t
	return nil
}

// flatEngine reports zero slope everywhere and runs an optional hook.
type flatEngine struct {
	hook func()
}

func (e flatEngine) Slope(_ context.Context, in terrain.EngineInput) ([]float64, error) {
	if e.hook != nil {
		e.hook()
	}
	return make([]float64, len(in.Elevation)), nil
}

type fakeVectorizer struct {
	regions []vectorize.Region
	err     error
}

func (f *fakeVectorizer) Vectorize(context.Context, raster.Grid) ([]vectorize.Region, error) {
	return f.regions, f.err
}

func roofVectorizer() *fakeVectorizer {
	return &fakeVectorizer{regions: []vectorize.Region{
		{Value: 1, Polygon: rect(0, 0, 40, 30)},
		{Value: 0, Polygon: rect(40, 0, 60, 40)},
	}}
}

type fakeSink struct {
	got *table.Table
	err error
}

func (s *fakeSink) Write(_ context.Context, t *table.Table) (int64, error) {
	s.got = t
	return int64(t.Len()), s.err
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "rooftop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func request(t *testing.T, names ...string) Request {
	t.Helper()
	plan, err := feature.ParsePlan(names, nil)
	require.NoError(t, err)
	return Request{
		Input: model.RunInput{
			DSM:        "dsm.tif",
			Ground:     "dem.tif",
			Footprints: "footprints.shp",
			Features:   names,
		},
		Classify:     flatroof.DefaultClassifyOptions(),
		Disaggregate: flatroof.DefaultDisaggregateOptions(),
		Plan:         plan,
		Output:       "out/flat_areas.shp",
	}
}

func stageNames(stages []model.StageResult) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = s.Name
	}
	return out
}

func TestRun_EndToEnd(t *testing.T) {
	st := newMemStorage()
	ledger := newTestStore(t)
	metrics := monitoring.NewMetrics()
	sink := &fakeSink{}
	p := New(st, flatEngine{}, roofVectorizer(),
		WithStore(ledger), WithMetrics(metrics), WithSink(sink))

	req := request(t, "average_slope", "median_height")
	req.RasterDir = "out"

	res, err := p.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Footprints)
	assert.Equal(t, 1, res.FlatFootprints)
	assert.Equal(t, 0, res.ExcludedFootprints)
	assert.Equal(t, 1, res.FlatAreas)
	assert.Empty(t, res.FeatureErrors)
	assert.Equal(t, "out/flat_areas.shp", res.Output)
	assert.Contains(t, res.Columns, flatroof.ColFAID)
	assert.Contains(t, res.Columns, feature.ColAvgSlope)
	assert.Contains(t, res.Columns, feature.ColMedianHeight)
	assert.Equal(t, []string{
		StageLoad, StageTerrain, StageRasters, StageClassify,
		StageDisaggregate, StageFeatures, StageWrite, StageSink,
	}, stageNames(res.Stages))

	out := st.vectors["out/flat_areas.shp"]
	require.NotNil(t, out)
	require.Equal(t, 1, out.Len())
	row := out.Rows[0]
	assert.InDelta(t, 1200*flatroof.SqftPerSqm, row.Float(flatroof.ColFlatArea), 1e-6)
	assert.InDelta(t, 0.0, row.Float(feature.ColAvgSlope), 1e-9)
	assert.InDelta(t, 10.0, row.Float(feature.ColMedianHeight), 1e-9)
	assert.Same(t, out, sink.got)

	_, ok := st.rasters[filepath.Join("out", SlopeFile)]
	assert.True(t, ok)
	height := st.rasters[filepath.Join("out", HeightFile)]
	assert.InDelta(t, 10.0, height.At(0, 0), 1e-9)

	run, err := ledger.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Result)
	assert.Equal(t, 1, run.Result.FlatAreas)
	stages, err := ledger.ListStages(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Len(t, stages, 8)

	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues("complete")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.StageRows.WithLabelValues(StageDisaggregate)), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.FlatAreas), 1e-9)
}

func TestRun_EmptyPlanKeepsDisaggregatedTable(t *testing.T) {
	st := newMemStorage()
	p := New(st, flatEngine{}, roofVectorizer())

	res, err := p.Run(context.Background(), request(t))
	require.NoError(t, err)
	assert.Equal(t, []string{flatroof.ColFAID, flatroof.ColFlatArea, "bldg_id",
		flatroof.ColBldgTotalArea, flatroof.ColBldgFlatArea}, res.Columns)
}

func TestRun_NoFlatFootprintsCompletes(t *testing.T) {
	st := newMemStorage()
	outside := table.New("bldg_id")
	outside.Append(rect(500, 500, 560, 540), map[string]any{"bldg_id": 9})
	st.vectors["footprints.shp"] = outside

	metrics := monitoring.NewMetrics()
	p := New(st, flatEngine{}, roofVectorizer(), WithMetrics(metrics))

	res, err := p.Run(context.Background(), request(t, "average_slope"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Footprints)
	assert.Equal(t, 1, res.ExcludedFootprints)
	assert.Equal(t, 0, res.FlatFootprints)
	assert.Equal(t, 0, res.FlatAreas)
	assert.Equal(t, 0, st.vectors["out/flat_areas.shp"].Len())
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.ExcludedFootprints), 1e-9)
}

func TestRun_FeatureIssuesAreReported(t *testing.T) {
	st := newMemStorage()
	metrics := monitoring.NewMetrics()
	p := New(st, flatEngine{}, roofVectorizer(), WithMetrics(metrics))

	req := request(t, "average_slope")
	plan, perr := feature.ParsePlan([]string{"average_slope", "closeness_to_points", "roof_pitch"},
		map[string]feature.Args{"closeness_to_points": {feature.ArgPoints: []string{"missing.shp"}}})
	require.Error(t, perr)
	var pe *feature.PlanError
	require.ErrorAs(t, perr, &pe)
	req.Plan = plan
	req.Rejected = pe.Errors

	res, err := p.Run(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, res.FeatureErrors, 2)
	assert.Equal(t, "roof_pitch", res.FeatureErrors[0].Feature)
	assert.Equal(t, "config", res.FeatureErrors[0].Kind)
	assert.Equal(t, string(feature.ClosenessToPoints), res.FeatureErrors[1].Feature)
	assert.Contains(t, res.Columns, feature.ColAvgSlope)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.FeatureErrors.WithLabelValues("roof_pitch", "config")), 1e-9)
}

func TestRun_ProcessErrorFailsRun(t *testing.T) {
	st := newMemStorage()
	ledger := newTestStore(t)
	metrics := monitoring.NewMetrics()
	v := &fakeVectorizer{err: &model.ProcessError{Command: "gdal_polygonize.py", ExitCode: 1, Stderr: "boom"}}
	p := New(st, flatEngine{}, v, WithStore(ledger), WithMetrics(metrics))

	res, err := p.Run(context.Background(), request(t, "average_slope"))
	require.Error(t, err)
	assert.True(t, model.IsProcessError(err))
	require.NotNil(t, res)
	assert.Contains(t, res.Error, "exited with status 1")

	last := res.Stages[len(res.Stages)-1]
	assert.Equal(t, StageDisaggregate, last.Name)
	assert.Equal(t, model.StageStatusFailed, last.Status)
	_, written := st.vectors["out/flat_areas.shp"]
	assert.False(t, written)

	run, err := ledger.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.StageErrors.WithLabelValues(StageDisaggregate, "process")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues("failed")), 1e-9)
}

func TestRun_MisalignedGroundIsConfigError(t *testing.T) {
	st := newMemStorage()
	st.rasters["dem.tif"] = raster.NewGrid(3, 2, raster.Affine{20, 0, 0, 0, -20, 40}, "EPSG:32612", -9999, 90)
	p := New(st, flatEngine{}, roofVectorizer())

	_, err := p.Run(context.Background(), request(t))
	require.Error(t, err)
	assert.True(t, model.IsConfigError(err))
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	st := newMemStorage()
	ledger := newTestStore(t)
	p := New(st, flatEngine{}, roofVectorizer(), WithStore(ledger))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := p.Run(ctx, request(t))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, st.reads)
	assert.Empty(t, res.Stages)

	run, err := ledger.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, run.Status)
}

func TestRun_CancelledBetweenStages(t *testing.T) {
	st := newMemStorage()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The terrain stage is not preempted; the next stage never starts.
	p := New(st, flatEngine{hook: cancel}, roofVectorizer())

	res, err := p.Run(ctx, request(t))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{StageLoad, StageTerrain}, stageNames(res.Stages))
	assert.Equal(t, model.StageStatusComplete, res.Stages[1].Status)
}

func TestRun_Busy(t *testing.T) {
	p := New(newMemStorage(), flatEngine{}, roofVectorizer())
	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := p.Run(context.Background(), request(t))
	assert.ErrorIs(t, err, ErrBusy)
	_, err = p.Terrain(context.Background(), Request{RasterDir: "out"})
	assert.ErrorIs(t, err, ErrBusy)
}

func TestRun_StageDurationsUseClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	engine := flatEngine{hook: func() { clock.Advance(2500 * time.Millisecond) }}
	p := New(newMemStorage(), engine, roofVectorizer(), WithClock(clock))

	res, err := p.Run(context.Background(), request(t))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Stages[0].Duration)
	assert.Equal(t, int64(2500), res.Stages[1].Duration)
}

// failingStore fails every call.
type failingStore struct{ store.Store }

var errLedger = errors.New("ledger unavailable")

func (failingStore) CreateRun(context.Context, model.RunInput) (*model.Run, error) {
	return nil, errLedger
}
func (failingStore) UpdateRunStatus(context.Context, string, model.RunStatus) error { return errLedger }
func (failingStore) UpdateRunResult(context.Context, string, model.RunStatus, *model.RunResult) error {
	return errLedger
}
func (failingStore) CreateStage(context.Context, string, string) (*model.RunStage, error) {
	return nil, errLedger
}

func TestRun_LedgerFailuresAreNotFatal(t *testing.T) {
	p := New(newMemStorage(), flatEngine{}, roofVectorizer(), WithStore(failingStore{}))

	res, err := p.Run(context.Background(), request(t, "average_slope"))
	require.NoError(t, err)
	_, perr := uuid.Parse(res.RunID)
	assert.NoError(t, perr)
	assert.Equal(t, 1, res.FlatAreas)
}

func TestRun_WriteFailure(t *testing.T) {
	st := newMemStorage()
	st.writeErr = errors.New("disk full")
	p := New(st, flatEngine{}, roofVectorizer())

	res, err := p.Run(context.Background(), request(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: write features")
	assert.Equal(t, 1, res.FlatAreas)
}

func TestRun_SinkFailure(t *testing.T) {
	sink := &fakeSink{err: errors.New("copy failed")}
	p := New(newMemStorage(), flatEngine{}, roofVectorizer(), WithSink(sink))

	_, err := p.Run(context.Background(), request(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: sink")
}

func TestTerrain(t *testing.T) {
	st := newMemStorage()
	p := New(st, flatEngine{}, nil)

	req := request(t)
	req.RasterDir = "derived"
	res, err := p.Terrain(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "derived", res.Output)
	assert.Equal(t, []string{StageLoad, StageTerrain, StageRasters}, stageNames(res.Stages))
	assert.NotContains(t, st.reads, "footprints.shp")
	slope, ok := st.rasters[filepath.Join("derived", SlopeFile)]
	require.True(t, ok)
	assert.Equal(t, 6, slope.Width)
	height := st.rasters[filepath.Join("derived", HeightFile)]
	assert.InDelta(t, 10.0, height.At(5, 3), 1e-9)
}

func TestTerrain_NeedsDir(t *testing.T) {
	p := New(newMemStorage(), flatEngine{}, nil)
	_, err := p.Terrain(context.Background(), request(t))
	require.Error(t, err)
	assert.True(t, model.IsConfigError(err))
}
