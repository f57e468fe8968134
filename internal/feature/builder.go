package feature

import (
	"context"
	"maps"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rooftop-index/internal/model"
	"github.com/sells-group/rooftop-index/internal/table"
)

// Issue records a feature that failed while building.
type Issue struct {
	Feature ID
	Err     error
}

// Report summarizes a Build.
type Report struct {
	Applied []ID
	Issues  []Issue
}

// Build applies plan's features to t in order, each one's output feeding the
// next. A feature that fails, or that returns a table whose faid rows differ
// from its input, is recorded in the report and skipped; the fold continues
// with the previous table. Only cancellation aborts the build. An empty plan
// returns t as is.
func Build(ctx context.Context, in *Inputs, t *table.Table, plan *Plan) (*table.Table, *Report, error) {
	report := &Report{}
	if plan == nil || len(plan.Steps) == 0 {
		return t, report, nil
	}

	log := zap.L().With(zap.String("component", "feature"))
	cur := t
	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}

		out, err := step.Def.Apply(ctx, in, cur, step.Args)
		if err == nil {
			err = checkRows(cur, out)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, report, ctx.Err()
			}
			log.Warn("feature: skipped",
				zap.String("feature", string(step.Def.ID)),
				zap.String("error_kind", model.ErrorKind(err)),
				zap.Error(err),
			)
			report.Issues = append(report.Issues, Issue{Feature: step.Def.ID, Err: err})
			continue
		}

		log.Debug("feature: applied",
			zap.String("feature", string(step.Def.ID)),
			zap.Strings("columns", step.Def.Columns(step.Args)),
			zap.Int("rows", out.Len()),
		)
		report.Applied = append(report.Applied, step.Def.ID)
		cur = out
	}
	return cur, report, nil
}

// checkRows rejects a feature result that dropped, added or emptied rows.
func checkRows(before, after *table.Table) error {
	if after == nil {
		return model.NewDataError("feature result", eris.New("feature: returned no table"))
	}
	if before.Len() != after.Len() {
		return model.NewDataError("feature result", eris.Errorf(
			"feature: row count changed from %d to %d", before.Len(), after.Len()))
	}
	want := keySet(before)
	got := keySet(after)
	if !maps.Equal(want, got) {
		return model.NewDataError("feature result", eris.New("feature: faid set changed"))
	}
	return nil
}

func keySet(t *table.Table) map[string]int {
	out := make(map[string]int, t.Len())
	for _, k := range t.Keys(KeyColumn) {
		out[k]++
	}
	return out
}

// requireSinglePart rejects multi-part rows before a zonal call.
func requireSinglePart(t *table.Table) error {
	idx := slices.IndexFunc(t.Rows, func(r table.Row) bool { return !table.IsSinglePart(r.Geom) })
	if idx >= 0 {
		return model.NewDataError("faid "+t.Rows[idx].Key(KeyColumn),
			eris.Errorf("feature: row %d is not a single polygon (%T)", idx, t.Rows[idx].Geom))
	}
	return nil
}
