package sync

import (
	"time"
)

// TypeState is the outcome of reconciling one entity type within one
// dataset.
type TypeState string

// Per-type outcomes.
const (
	// StateUnchanged means the ledger hash matched and nothing was done.
	StateUnchanged TypeState = "unchanged"

	// StateApplied means the type was reconciled and its ledger hash
	// advanced.
	StateApplied TypeState = "applied"

	// StateFailed means a transient failure stopped the type; its ledger
	// hash is left stale so the next run retries.
	StateFailed TypeState = "failed"

	// StateSkipped means a dataset-level precondition stopped all work.
	StateSkipped TypeState = "skipped"
)

// DatasetResult is the outcome of one dataset within a run.
type DatasetResult struct {
	DatasetID  string
	States     map[string]TypeState
	Created    int
	Deleted    int
	Skipped    bool
	SkipReason string
	// Aborted means a step before reconciliation failed and the dataset
	// was not processed at all; it stays unmarked in the progress file.
	// Per-type failures do not abort: those types are retried on the next
	// full run through their stale ledger hashes.
	Aborted bool
	Errors  []error
}

// Failed reports whether any type failed or the dataset was skipped for a
// reason other than being unchanged.
func (r *DatasetResult) Failed() bool {
	if len(r.Errors) > 0 {
		return true
	}
	for _, s := range r.States {
		if s == StateFailed {
			return true
		}
	}
	return false
}

// Changed reports whether any type was applied.
func (r *DatasetResult) Changed() bool {
	for _, s := range r.States {
		if s == StateApplied {
			return true
		}
	}
	return false
}

// Result is the outcome of a whole run.
type Result struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Datasets []DatasetResult
}

// FailedDatasets returns the ids of datasets that did not complete cleanly.
func (r *Result) FailedDatasets() []string {
	var ids []string
	for i := range r.Datasets {
		if r.Datasets[i].Failed() {
			ids = append(ids, r.Datasets[i].DatasetID)
		}
	}
	return ids
}

// Duration returns the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}
