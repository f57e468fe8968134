package monitoring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Independent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RunsTotal.WithLabelValues("complete").Inc()
	a.ExcludedFootprints.Add(3)

	assert.InDelta(t, 1.0, testutil.ToFloat64(a.RunsTotal.WithLabelValues("complete")), 1e-9)
	assert.InDelta(t, 3.0, testutil.ToFloat64(a.ExcludedFootprints), 1e-9)
	assert.InDelta(t, 0.0, testutil.ToFloat64(b.ExcludedFootprints), 1e-9)
}

func TestMetrics_Stages(t *testing.T) {
	m := NewMetrics()
	m.StageDuration.WithLabelValues("classify").Observe(1.5)
	m.StageRows.WithLabelValues("classify").Set(42)
	m.StageErrors.WithLabelValues("disaggregate", "process").Inc()
	m.FeatureErrors.WithLabelValues("closeness_to_points", "data").Inc()

	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))
	assert.InDelta(t, 42.0, testutil.ToFloat64(m.StageRows.WithLabelValues("classify")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.StageErrors.WithLabelValues("disaggregate", "process")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.FeatureErrors.WithLabelValues("closeness_to_points", "data")), 1e-9)
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.FlatAreas.Set(7)
	m.RunsTotal.WithLabelValues("failed").Inc()

	path := filepath.Join(t.TempDir(), "rooftop.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rooftop_flat_areas 7")
	assert.Contains(t, string(data), `rooftop_runs_total{status="failed"} 1`)
}

func TestMetrics_WriteTextfileError(t *testing.T) {
	m := NewMetrics()
	err := m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "rooftop.prom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: write textfile")
}
