package feature

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rooftop-index/internal/table"
)

// withDefaults returns args with every optional default filled in.
func withDefaults(d Definition, args Args) Args {
	out := make(Args, len(args)+len(d.Optional))
	for k, v := range d.Optional {
		out[k] = v
	}
	for k, v := range args {
		out[k] = v
	}
	return out
}

// Float reads a numeric argument.
func (a Args) Float(name string) (float64, error) {
	v, ok := a[name]
	if !ok {
		return 0, eris.Errorf("feature: missing argument %q", name)
	}
	f := table.ToFloat(v)
	if math.IsNaN(f) {
		return 0, eris.Errorf("feature: argument %q must be a number, got %v", name, v)
	}
	return f, nil
}

// Strings reads a list-of-strings argument. A single string is split on
// commas.
func (a Args) Strings(name string) ([]string, error) {
	v, ok := a[name]
	if !ok {
		return nil, eris.Errorf("feature: missing argument %q", name)
	}

	var out []string
	switch x := v.(type) {
	case string:
		for _, s := range strings.Split(x, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, x...)
	case []any:
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, eris.Errorf("feature: argument %q must be a list of strings, got %T item", name, item)
			}
			out = append(out, s)
		}
	default:
		return nil, eris.Errorf("feature: argument %q must be a list of strings, got %T", name, v)
	}
	return out, nil
}
