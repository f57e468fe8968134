package feature

import (
	"errors"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/rooftop-index/internal/model"
)

// Step is a resolved feature with its arguments, defaults applied.
type Step struct {
	Def  Definition
	Args Args
}

// Plan is the ordered list of features to apply.
type Plan struct {
	Steps []Step
}

// IDs returns the plan's feature ids in order.
func (p *Plan) IDs() []ID {
	out := make([]ID, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Def.ID
	}
	return out
}

// Columns returns the columns the plan will add, in order.
func (p *Plan) Columns() []string {
	var out []string
	for _, s := range p.Steps {
		out = append(out, s.Def.Columns(s.Args)...)
	}
	return out
}

// PlanError collects the configuration errors of every rejected feature.
type PlanError struct {
	Errors []*model.ConfigError
}

func (e *PlanError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return "feature: invalid plan: " + strings.Join(msgs, "; ")
}

// Unwrap exposes each ConfigError to errors.As.
func (e *PlanError) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, err := range e.Errors {
		out[i] = err
	}
	return out
}

// ParsePlan resolves names against the registry and validates each
// feature's arguments. Valid features always make it into the plan; when
// some are rejected the returned error is a *PlanError listing them, so the
// caller can decide whether to abort or run the rest.
func ParsePlan(names []string, args map[string]Args) (*Plan, error) {
	plan := &Plan{}
	var rejected []*model.ConfigError

	for _, name := range names {
		name = strings.TrimSpace(name)
		def, ok := Lookup(name)
		if !ok {
			rejected = append(rejected, model.NewConfigError(name, eris.Errorf("feature: unknown feature %q", name)))
			continue
		}

		a := withDefaults(def, args[name])
		if err := checkArgs(def, a); err != nil {
			rejected = append(rejected, model.NewConfigError(name, err))
			continue
		}
		plan.Steps = append(plan.Steps, Step{Def: def, Args: a})
	}

	if len(rejected) > 0 {
		return plan, &PlanError{Errors: rejected}
	}
	return plan, nil
}

func checkArgs(def Definition, a Args) error {
	var missing []string
	for _, req := range def.Required {
		if _, ok := a[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("feature: missing required argument(s) %s", strings.Join(missing, ", "))
	}
	if def.Validate != nil {
		return def.Validate(a)
	}
	return nil
}

// IsPlanError reports whether err is a *PlanError.
func IsPlanError(err error) bool {
	var pe *PlanError
	return errors.As(err, &pe)
}

// planFile is the YAML layout of a feature plan file:
//
//	features:
//	  - name: average_slope
//	  - name: closeness_to_points
//	    args:
//	      points: [schools.shp, transit.geojson]
type planFile struct {
	Features []struct {
		Name string         `yaml:"name"`
		Args map[string]any `yaml:"args"`
	} `yaml:"features"`
}

// LoadPlanFile reads feature names and arguments from a YAML plan file.
func LoadPlanFile(path string) ([]string, map[string]Args, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "feature: read plan file %s", path)
	}

	var pf planFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, nil, model.NewConfigError(path, eris.Wrap(err, "feature: parse plan file"))
	}

	names := make([]string, 0, len(pf.Features))
	args := make(map[string]Args, len(pf.Features))
	for _, f := range pf.Features {
		names = append(names, f.Name)
		if len(f.Args) > 0 {
			args[f.Name] = Args(f.Args)
		}
	}
	return names, args, nil
}
