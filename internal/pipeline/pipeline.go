// Package pipeline sequences the download, transform, validate, and load
// stages for each dataset, with per-dataset failure isolation and atomic
// per-dataset transactions on the load side.
package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Stage identifies the pipeline stage a dataset last reached.
type Stage string

const (
	StageDownload  Stage = "DOWNLOAD"
	StageTransform Stage = "TRANSFORM"
	StageValidate  Stage = "VALIDATE"
	StageLoad      Stage = "LOAD"
)

// Status is the final outcome for one dataset.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
)

// DatasetResult is the outcome of processing one dataset end to end.
type DatasetResult struct {
	DatasetName  string
	Stage        Stage
	Status       Status
	RowsLoaded   int64
	Elapsed      time.Duration
	ErrorMessage string
}

// Result aggregates a full pipeline execution.
type Result struct {
	RunID    string
	Datasets []DatasetResult
	Elapsed  time.Duration
	Success  bool
}

// TotalRows sums rows loaded across all datasets.
func (r Result) TotalRows() int64 {
	var total int64
	for _, ds := range r.Datasets {
		total += ds.RowsLoaded
	}

	return total
}

func newRunID() string {
	return uuid.NewString()
}
