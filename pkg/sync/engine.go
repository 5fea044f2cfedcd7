// Package sync reconciles a local metadata snapshot against the remote
// curation platform. Work is gated per dataset and per entity type by
// content hashes kept in a remote ledger, applied as remove-then-create
// replacements, and checkpointed both remotely (ledger hashes per type)
// and locally (progress file per dataset) so interrupted runs resume
// without repeating finished work.
package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sparctools/metasync/pkg/entity"
	"github.com/sparctools/metasync/pkg/errors"
	"github.com/sparctools/metasync/pkg/logging"
	"github.com/sparctools/metasync/pkg/platform"
	"github.com/sparctools/metasync/pkg/progress"
	"github.com/sparctools/metasync/pkg/snapshot"
)

// Engine runs snapshot reconciliation against one platform client.
type Engine struct {
	client   platform.Client
	registry *entity.Registry
	opts     Options
	log      zerolog.Logger
}

// New returns an engine with the given client and options.
func New(client platform.Client, opts Options) (*Engine, error) {
	if client == nil {
		return nil, &errors.ValidationError{Field: "client", Message: "platform client is required"}
	}
	registry, err := entity.Load()
	if err != nil {
		return nil, err
	}
	return &Engine{
		client:   client,
		registry: registry,
		opts:     opts.withDefaults(),
		log:      logging.With().Str("component", "sync").Logger(),
	}, nil
}

// Run reconciles the snapshot. Datasets are processed sequentially in
// sorted id order; a dataset failure is recorded and the run continues.
// The returned result lists the per-type outcome of every dataset.
func (e *Engine) Run(ctx context.Context, snap snapshot.Snapshot) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), Started: time.Now()}

	ids := snap.DatasetIDs()
	if e.opts.Target != "" {
		if _, ok := snap[e.opts.Target]; !ok {
			return nil, errors.NewNotFoundError("dataset", e.opts.Target)
		}
		ids = []string{e.opts.Target}
	}

	ledger, err := OpenLedger(ctx, e.client, e.registry, e.opts.LedgerDataset)
	if err != nil {
		return nil, err
	}
	prog, err := progress.Open(e.opts.ProgressFile, e.opts.Resume)
	if err != nil {
		return nil, err
	}

	e.log.Info().Str("run", res.RunID).Int("datasets", len(ids)).
		Bool("dry_run", e.opts.DryRun).Msg("starting run")

	for _, id := range ids {
		if prog.Done(id) {
			e.log.Info().Str("dataset", id).Msg("already completed, resuming past it")
			continue
		}
		dres := e.syncDataset(ctx, ledger, id, snap[id])
		res.Datasets = append(res.Datasets, dres)
		// Partial failures still count as completed for this run; the
		// stale per-type ledger hashes drive their retry, not resume.
		if !e.opts.DryRun && !dres.Aborted {
			if err := prog.MarkDone(id); err != nil {
				res.Finished = time.Now()
				return res, err
			}
		}
		if err := ctx.Err(); err != nil {
			res.Finished = time.Now()
			return res, err
		}
	}

	res.Finished = time.Now()
	if !e.opts.DryRun {
		if err := ledger.RecordRun(ctx, res); err != nil {
			e.log.Warn().Err(err).Msg("run record not written")
		}
	}
	e.log.Info().Str("run", res.RunID).Dur("took", res.Duration()).
		Strs("failed", res.FailedDatasets()).Msg("run finished")
	return res, nil
}

// Clear removes every registry model (with all records) from a dataset and
// drops its ledger entry, so the next run rebuilds it from scratch.
func (e *Engine) Clear(ctx context.Context, datasetID string) error {
	existing, err := e.client.Models(ctx, datasetID)
	if err != nil {
		return err
	}
	for _, t := range e.registry.Ordered() {
		for _, m := range t.Models() {
			if _, ok := existing[m.Name]; !ok {
				continue
			}
			if err := e.client.DeleteModel(ctx, datasetID, m.Name); err != nil {
				return err
			}
			e.log.Info().Str("dataset", datasetID).Str("model", m.Name).Msg("model removed")
		}
	}

	ledger, err := OpenLedger(ctx, e.client, e.registry, e.opts.LedgerDataset)
	if err != nil {
		return err
	}
	return ledger.Clear(ctx, datasetID)
}
