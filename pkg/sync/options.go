package sync

import (
	"context"
)

// Defaults for tunable engine parameters.
const (
	// DefaultBatchSize is the number of records created per bulk call.
	DefaultBatchSize = 100

	// DefaultProgressFile is where run progress is recorded for --resume.
	DefaultProgressFile = "metasync-progress.json"

	// DefaultLedgerDataset is the tracking dataset holding ledger and run
	// records.
	DefaultLedgerDataset = "sync-tracking"

	// DefaultTag is applied to datasets whose snapshot carries no tags.
	DefaultTag = "SPARC"
)

// AwardEnricher supplements award records with fields fetched from an
// external grant registry. A nil enricher leaves awards as projected.
type AwardEnricher interface {
	// Enrich returns extra property values for an award id. A not-found
	// award returns an empty map and no error.
	Enrich(ctx context.Context, awardID string) (map[string]any, error)
}

// Options configure a sync run.
type Options struct {
	// Target restricts the run to one dataset id. Empty means all datasets
	// in the snapshot.
	Target string

	// Force replaces all records of every entity type, ignoring ledger
	// hashes.
	Force bool

	// ForceTypes lists ledger fields to replace regardless of their hash.
	ForceTypes []string

	// DryRun reports what would change without any remote writes.
	DryRun bool

	// Resume skips datasets the progress file records as completed.
	Resume bool

	// BatchSize caps the number of records per bulk create call.
	BatchSize int

	// ProgressFile is the path of the local progress ledger.
	ProgressFile string

	// LedgerDataset is the tracking dataset id for ledger and run records.
	LedgerDataset string

	// DefaultTag is applied when a dataset's snapshot has no tags.
	DefaultTag string

	// Enricher supplements award records; may be nil.
	Enricher AwardEnricher
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.BatchSize <= 0 {
		out.BatchSize = DefaultBatchSize
	}
	if out.ProgressFile == "" {
		out.ProgressFile = DefaultProgressFile
	}
	if out.LedgerDataset == "" {
		out.LedgerDataset = DefaultLedgerDataset
	}
	if out.DefaultTag == "" {
		out.DefaultTag = DefaultTag
	}
	return out
}

func (o *Options) forced(field string) bool {
	if o.Force {
		return true
	}
	for _, f := range o.ForceTypes {
		if f == field {
			return true
		}
	}
	return false
}
