package sync

import (
	"context"
	"time"

	"github.com/sparctools/metasync/pkg/entity"
	"github.com/sparctools/metasync/pkg/errors"
	"github.com/sparctools/metasync/pkg/platform"
	"github.com/sparctools/metasync/pkg/resolve"
)

// Ledger and run-record model names on the tracking dataset.
const (
	LedgerModel = "sync_ledger"
	RunModel    = "sync_run"
)

const ledgerDatasetProperty = "datasetId"

// Ledger is the remote record of what each dataset looked like after its
// last successful reconciliation: one record per dataset, one hash field
// per entity type plus the tag list. Comparing these hashes against the
// snapshot decides whether a type needs any work at all. Entries are
// prefetched once per run, so unchanged datasets cost zero remote calls
// beyond the prefetch.
type Ledger struct {
	client   platform.Client
	registry *entity.Registry
	dataset  string
	fields   []string
	entries  map[string]*ledgerEntry
}

type ledgerEntry struct {
	recordID string
	hashes   map[string]string
}

// OpenLedger ensures the tracking dataset and its models exist and loads
// every ledger record.
func OpenLedger(ctx context.Context, client platform.Client, registry *entity.Registry, trackingDataset string) (*Ledger, error) {
	l := &Ledger{
		client:   client,
		registry: registry,
		dataset:  trackingDataset,
		fields:   registry.LedgerFields(),
		entries:  make(map[string]*ledgerEntry),
	}

	if _, err := client.GetOrCreateDataset(ctx, trackingDataset); err != nil {
		return nil, err
	}
	if _, err := client.GetOrCreateModel(ctx, trackingDataset, l.definition()); err != nil {
		return nil, err
	}
	if _, err := client.GetOrCreateModel(ctx, trackingDataset, runDefinition()); err != nil {
		return nil, err
	}

	for offset := 0; ; offset += resolve.DefaultPageSize {
		page, err := client.Records(ctx, trackingDataset, LedgerModel, resolve.DefaultPageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, rec := range page {
			datasetID, _ := rec.Values[ledgerDatasetProperty].(string)
			if datasetID == "" {
				continue
			}
			entry := &ledgerEntry{recordID: rec.ID, hashes: make(map[string]string, len(l.fields))}
			for _, f := range l.fields {
				if h, ok := rec.Values[f].(string); ok {
					entry.hashes[f] = h
				}
			}
			l.entries[datasetID] = entry
		}
		if len(page) < resolve.DefaultPageSize {
			break
		}
	}
	return l, nil
}

func (l *Ledger) definition() platform.ModelDefinition {
	def := platform.ModelDefinition{
		Name:    LedgerModel,
		Display: "Sync Ledger",
		Properties: []platform.Property{
			{Name: ledgerDatasetProperty, Display: "Dataset", Title: true},
		},
	}
	for _, f := range l.fields {
		def.Properties = append(def.Properties, platform.Property{Name: f, Display: f})
	}
	return def
}

func runDefinition() platform.ModelDefinition {
	return platform.ModelDefinition{
		Name:    RunModel,
		Display: "Sync Run",
		Properties: []platform.Property{
			{Name: "runId", Display: "Run", Title: true},
			{Name: "status", Display: "Status"},
			{Name: "started", Display: "Started", DataType: "date"},
			{Name: "finished", Display: "Finished", DataType: "date"},
			{Name: "datasets", Display: "Datasets"},
			{Name: "failed", Display: "Failed datasets", Multi: true},
		},
	}
}

// Hash returns the recorded hash for a dataset's ledger field, or "" when
// the dataset or field has never been recorded.
func (l *Ledger) Hash(datasetID, field string) string {
	entry, ok := l.entries[datasetID]
	if !ok {
		return ""
	}
	return entry.hashes[field]
}

// SetHash records a new hash for one field and persists the change
// immediately, so a later crash cannot repeat work that already succeeded.
func (l *Ledger) SetHash(ctx context.Context, datasetID, field, hash string) error {
	entry, ok := l.entries[datasetID]
	if !ok {
		values := map[string]any{ledgerDatasetProperty: datasetID, field: hash}
		ids, err := l.client.CreateRecords(ctx, l.dataset, LedgerModel, []map[string]any{values})
		if err != nil {
			return err
		}
		if len(ids) != 1 {
			return errors.WrapRemote("create", LedgerModel, errors.New("ledger create returned no id"))
		}
		l.entries[datasetID] = &ledgerEntry{
			recordID: ids[0],
			hashes:   map[string]string{field: hash},
		}
		return nil
	}

	entry.hashes[field] = hash
	values := make(map[string]any, len(entry.hashes)+1)
	values[ledgerDatasetProperty] = datasetID
	for f, h := range entry.hashes {
		values[f] = h
	}
	return l.client.UpdateRecord(ctx, l.dataset, LedgerModel, entry.recordID, values)
}

// Clear removes a dataset's ledger record, forcing full reconciliation on
// the next run.
func (l *Ledger) Clear(ctx context.Context, datasetID string) error {
	entry, ok := l.entries[datasetID]
	if !ok {
		return nil
	}
	if err := l.client.DeleteRecords(ctx, l.dataset, LedgerModel, []string{entry.recordID}); err != nil {
		return err
	}
	delete(l.entries, datasetID)
	return nil
}

// RecordRun appends a run record to the tracking dataset.
func (l *Ledger) RecordRun(ctx context.Context, res *Result) error {
	status := "ok"
	failed := res.FailedDatasets()
	if len(failed) > 0 {
		status = "failed"
	}
	values := map[string]any{
		"runId":    res.RunID,
		"status":   status,
		"started":  res.Started.UTC().Format(time.RFC3339),
		"finished": res.Finished.UTC().Format(time.RFC3339),
		"datasets": len(res.Datasets),
	}
	if len(failed) > 0 {
		values["failed"] = failed
	}
	_, err := l.client.CreateRecords(ctx, l.dataset, RunModel, []map[string]any{values})
	return err
}
