package pipeline

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/rooftop-index/internal/feature"
	"github.com/sells-group/rooftop-index/internal/model"
)

// run tracks one Run or Terrain call: ledger writes, metrics and the
// accumulating result.
type run struct {
	p      *Pipeline
	id     string
	result *model.RunResult
	log    *zap.Logger
	// ledger outlives cancellation so cancelled runs are still recorded.
	ledger context.Context
}

func (p *Pipeline) begin(ctx context.Context, input model.RunInput) *run {
	r := &run{
		p:      p,
		result: &model.RunResult{},
		ledger: context.WithoutCancel(ctx),
	}

	if p.store != nil {
		rec, err := p.store.CreateRun(r.ledger, input)
		if err != nil {
			zap.L().Warn("pipeline: failed to create run", zap.Error(err))
		} else {
			r.id = rec.ID
		}
	}
	if r.id == "" {
		r.id = uuid.New().String()
	}

	r.result.RunID = r.id
	r.log = zap.L().With(zap.String("component", "pipeline"), zap.String("run_id", r.id))
	return r
}

func (r *run) setStatus(status model.RunStatus) {
	if r.p.store == nil {
		return
	}
	if err := r.p.store.UpdateRunStatus(r.ledger, r.id, status); err != nil {
		r.log.Warn("pipeline: failed to update status", zap.Error(err))
	}
}

// stage runs fn as the named stage. ctx is checked first; a cancelled run
// never starts another stage.
func (r *run) stage(ctx context.Context, name string, status model.RunStatus, fn func() (*model.StageResult, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.setStatus(status)

	var stageID string
	if r.p.store != nil {
		st, err := r.p.store.CreateStage(r.ledger, r.id, name)
		if err != nil {
			r.log.Warn("pipeline: failed to create stage", zap.String("stage", name), zap.Error(err))
		} else {
			stageID = st.ID
		}
	}

	start := r.p.clock.Now()
	res, fnErr := fn()
	elapsed := r.p.clock.Since(start)

	if res == nil {
		res = &model.StageResult{}
	}
	res.Name = name
	res.Duration = elapsed.Milliseconds()

	if fnErr != nil {
		res.Status = model.StageStatusFailed
		res.Error = fnErr.Error()
		r.log.Error("pipeline: stage failed",
			zap.String("stage", name),
			zap.Int64("duration_ms", res.Duration),
			zap.String("error_kind", model.ErrorKind(fnErr)),
			zap.Error(fnErr),
		)
	} else {
		res.Status = model.StageStatusComplete
		r.log.Info("pipeline: stage complete",
			zap.String("stage", name),
			zap.Int64("duration_ms", res.Duration),
			zap.Int("rows", res.Rows),
		)
	}

	if m := r.p.metrics; m != nil {
		m.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
		if fnErr != nil {
			m.StageErrors.WithLabelValues(name, model.ErrorKind(fnErr)).Inc()
		} else {
			m.StageRows.WithLabelValues(name).Set(float64(res.Rows))
		}
	}

	if stageID != "" {
		if err := r.p.store.CompleteStage(r.ledger, stageID, res); err != nil {
			r.log.Warn("pipeline: failed to complete stage", zap.String("stage", name), zap.Error(err))
		}
	}
	r.result.Stages = append(r.result.Stages, *res)
	return fnErr
}

func (r *run) featureIssue(issue feature.Issue) {
	kind := model.ErrorKind(issue.Err)
	r.result.FeatureErrors = append(r.result.FeatureErrors, model.FeatureIssue{
		Feature: string(issue.Feature),
		Kind:    kind,
		Error:   issue.Err.Error(),
	})
	if r.p.metrics != nil {
		r.p.metrics.FeatureErrors.WithLabelValues(string(issue.Feature), kind).Inc()
	}
}

// finish records the outcome of the run and returns the result with err.
func (r *run) finish(ctx context.Context, err error) (*model.RunResult, error) {
	status := model.RunStatusComplete
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		status = model.RunStatusCancelled
	default:
		status = model.RunStatusFailed
	}
	if err != nil {
		r.result.Error = err.Error()
	}

	if r.p.metrics != nil {
		r.p.metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	}
	if r.p.store != nil {
		if saveErr := r.p.store.UpdateRunResult(r.ledger, r.id, status, r.result); saveErr != nil {
			r.log.Warn("pipeline: failed to save run result", zap.Error(saveErr))
		}
	}

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int("footprints", r.result.Footprints),
		zap.Int("flat_footprints", r.result.FlatFootprints),
		zap.Int("flat_areas", r.result.FlatAreas),
		zap.Int("feature_errors", len(r.result.FeatureErrors)),
	}
	if err != nil {
		r.log.Error("pipeline: run ended", append(fields, zap.Error(err))...)
	} else {
		r.log.Info("pipeline: run complete", fields...)
	}
	return r.result, err
}
