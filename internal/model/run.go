package model

import "time"

// RunStatus represents the current state of a feature-extraction run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusLoading        RunStatus = "loading"
	RunStatusTerrain        RunStatus = "terrain"
	RunStatusClassifying    RunStatus = "classifying"
	RunStatusDisaggregating RunStatus = "disaggregating"
	RunStatusFeatures       RunStatus = "features"
	RunStatusWriting        RunStatus = "writing"
	RunStatusComplete       RunStatus = "complete"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
)

// RunInput describes the datasets a run was started with.
type RunInput struct {
	DSM         string   `json:"dsm"`
	Ground      string   `json:"ground"`
	Footprints  string   `json:"footprints"`
	PointLayers []string `json:"point_layers,omitempty"`
	Features    []string `json:"features,omitempty"`
}

// Run represents a single pipeline run over one DSM/footprint dataset.
type Run struct {
	ID        string     `json:"id"`
	Input     RunInput   `json:"input"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	RunID              string         `json:"run_id"`
	Footprints         int            `json:"footprints"`
	ExcludedFootprints int            `json:"excluded_footprints"`
	FlatFootprints     int            `json:"flat_footprints"`
	FlatAreas          int            `json:"flat_areas"`
	Columns            []string       `json:"columns"`
	Output             string         `json:"output,omitempty"`
	Stages             []StageResult  `json:"stages"`
	FeatureErrors      []FeatureIssue `json:"feature_errors,omitempty"`
	Error              string         `json:"error,omitempty"`
}

// FeatureIssue records a feature that was skipped or failed during the
// feature fold.
type FeatureIssue struct {
	Feature string `json:"feature"`
	Kind    string `json:"kind"`
	Error   string `json:"error"`
}

// RunStage represents a stage within a run.
type RunStage struct {
	ID         string       `json:"id"`
	RunID      string       `json:"run_id"`
	Name       string       `json:"name"`
	Status     StageStatus  `json:"status"`
	Result     *StageResult `json:"result,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// StageStatus represents the current state of a pipeline stage.
type StageStatus string

const (
	StageStatusRunning  StageStatus = "running"
	StageStatusComplete StageStatus = "complete"
	StageStatusFailed   StageStatus = "failed"
	StageStatusSkipped  StageStatus = "skipped"
)

// StageResult holds the outcome of a pipeline stage.
type StageResult struct {
	Name     string         `json:"name"`
	Status   StageStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Rows     int            `json:"rows"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
