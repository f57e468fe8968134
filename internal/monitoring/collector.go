package monitoring

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rooftop-index/internal/model"
	"github.com/sells-group/rooftop-index/internal/store"
)

// Snapshot holds a point-in-time view of recent runs.
type Snapshot struct {
	RunsTotal      int     `json:"runs_total"`
	RunsComplete   int     `json:"runs_complete"`
	RunsFailed     int     `json:"runs_failed"`
	RunsCancelled  int     `json:"runs_cancelled"`
	RunsInProgress int     `json:"runs_in_progress"`
	FailRate       float64 `json:"fail_rate"`

	// Totals over runs with a recorded result.
	Footprints         int     `json:"footprints"`
	ExcludedFootprints int     `json:"excluded_footprints"`
	ExclusionRate      float64 `json:"exclusion_rate"`
	FlatAreas          int     `json:"flat_areas"`
	AvgFlatAreas       float64 `json:"avg_flat_areas"`
	FeatureErrors      int     `json:"feature_errors"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector summarizes the run ledger.
type Collector struct {
	runs  RunLister
	clock clockwork.Clock
}

// NewCollector creates a collector. A nil clock uses the real clock.
func NewCollector(runs RunLister, clock clockwork.Clock) *Collector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Collector{runs: runs, clock: clock}
}

// Collect gathers a snapshot of runs created within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.clock.Now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var withResult int
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusCancelled:
			snap.RunsCancelled++
		default:
			snap.RunsInProgress++
		}
		if r.Result == nil {
			continue
		}
		withResult++
		snap.Footprints += r.Result.Footprints
		snap.ExcludedFootprints += r.Result.ExcludedFootprints
		snap.FlatAreas += r.Result.FlatAreas
		snap.FeatureErrors += len(r.Result.FeatureErrors)
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.Footprints > 0 {
		snap.ExclusionRate = float64(snap.ExcludedFootprints) / float64(snap.Footprints)
	}
	if withResult > 0 {
		snap.AvgFlatAreas = float64(snap.FlatAreas) / float64(withResult)
	}

	return snap, nil
}
