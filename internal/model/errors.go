package model

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid configuration: an unknown feature name, a
// missing feature argument, mismatched grid alignment, or a bad setting.
type ConfigError struct {
	Subject string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Subject == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Subject, e.Err.Error())
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError wraps err as a configuration error about subject.
func NewConfigError(subject string, err error) *ConfigError {
	return &ConfigError{Subject: subject, Err: err}
}

// DataError reports input data that cannot produce a row: a footprint with
// zero total area, a polygon outside the raster extent, an empty
// intersection.
type DataError struct {
	Subject string
	Err     error
}

func (e *DataError) Error() string {
	if e.Subject == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Subject, e.Err.Error())
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError wraps err as a data error about subject.
func NewDataError(subject string, err error) *DataError {
	return &DataError{Subject: subject, Err: err}
}

// ProcessError reports a failed external process. It points at the
// environment or toolchain, not at the input geometry.
type ProcessError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsConfigError returns true if any error in the chain is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsDataError returns true if any error in the chain is a DataError.
func IsDataError(err error) bool {
	var de *DataError
	return errors.As(err, &de)
}

// IsProcessError returns true if any error in the chain is a ProcessError.
func IsProcessError(err error) bool {
	var pe *ProcessError
	return errors.As(err, &pe)
}

// ErrorKind returns a short label for the error's taxonomy class.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsProcessError(err):
		return "process"
	case IsConfigError(err):
		return "config"
	case IsDataError(err):
		return "data"
	default:
		return "internal"
	}
}
