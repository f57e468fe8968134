package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsConfigError_Wrapped(t *testing.T) {
	err := eris.Wrap(NewConfigError("feature \"nope\"", errors.New("unknown feature")), "builder")
	assert.True(t, IsConfigError(err))
	assert.False(t, IsDataError(err))
	assert.Contains(t, err.Error(), "unknown feature")
}

func TestIsDataError_Wrapped(t *testing.T) {
	err := fmt.Errorf("classify: %w", NewDataError("bldg 7", errors.New("zero total area")))
	assert.True(t, IsDataError(err))
	assert.False(t, IsProcessError(err))
}

func TestProcessError_Message(t *testing.T) {
	err := &ProcessError{Command: "gdal_polygonize.py", ExitCode: 2, Stderr: "no such file"}
	assert.Equal(t, "gdal_polygonize.py exited with status 2: no such file", err.Error())
	assert.True(t, IsProcessError(eris.Wrap(err, "vectorize")))
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"config", NewConfigError("x", errors.New("bad")), "config"},
		{"data", NewDataError("x", errors.New("empty")), "data"},
		{"process", &ProcessError{Command: "c", ExitCode: 1}, "process"},
		{"plain", errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorKind(tt.err))
		})
	}
}
