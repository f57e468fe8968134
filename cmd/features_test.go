//go:build !integration

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/rooftop-index/internal/feature"
)

func TestFormatFeatures(t *testing.T) {
	var buf bytes.Buffer
	formatFeatures(&buf, feature.Definitions())

	output := buf.String()
	assert.Contains(t, output, "NAME")
	for _, name := range feature.Names() {
		assert.Contains(t, output, name)
	}
	assert.Contains(t, output, "width=1")
	assert.Contains(t, output, "one per point layer")
	assert.Contains(t, output, "avg_slope")
	assert.Contains(t, output, "roof_volume")
}

func TestFormatOptional(t *testing.T) {
	assert.Equal(t, "", formatOptional(nil))
	assert.Equal(t, "a=1,b=x", formatOptional(map[string]any{"b": "x", "a": 1}))
}

func TestOrDash(t *testing.T) {
	assert.Equal(t, "-", orDash(""))
	assert.Equal(t, "x", orDash("x"))
}
