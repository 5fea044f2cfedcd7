// Package metasync reconciles graph-projected dataset metadata against the
// remote curation platform. It is the embedding surface of the module: load
// a snapshot, point the engine at a platform client, and run.
//
// Basic usage:
//
//	client, err := apiplatform.New(apiplatform.Config{Host: host, Token: token})
//	if err != nil { ... }
//	result, err := metasync.Update(ctx, "snapshot.json",
//		metasync.WithClient(client),
//		metasync.WithResume(true),
//	)
package metasync

import (
	"context"

	"github.com/sparctools/metasync/pkg/errors"
	"github.com/sparctools/metasync/pkg/platform"
	"github.com/sparctools/metasync/pkg/snapshot"
	"github.com/sparctools/metasync/pkg/sync"
)

// Option configures an update or clear run.
type Option func(*settings)

type settings struct {
	client platform.Client
	opts   sync.Options
}

// WithClient sets the platform client. Required.
func WithClient(client platform.Client) Option {
	return func(s *settings) { s.client = client }
}

// WithTarget restricts the run to one dataset id.
func WithTarget(datasetID string) Option {
	return func(s *settings) { s.opts.Target = datasetID }
}

// WithForce replaces all records regardless of ledger hashes.
func WithForce(force bool) Option {
	return func(s *settings) { s.opts.Force = force }
}

// WithForceTypes replaces the named entity types regardless of their
// ledger hashes.
func WithForceTypes(types ...string) Option {
	return func(s *settings) { s.opts.ForceTypes = types }
}

// WithDryRun reports what would change without writing.
func WithDryRun(dry bool) Option {
	return func(s *settings) { s.opts.DryRun = dry }
}

// WithResume skips datasets already recorded in the progress file.
func WithResume(resume bool) Option {
	return func(s *settings) { s.opts.Resume = resume }
}

// WithBatchSize caps records per bulk create call.
func WithBatchSize(n int) Option {
	return func(s *settings) { s.opts.BatchSize = n }
}

// WithProgressFile sets the path of the local resume ledger.
func WithProgressFile(path string) Option {
	return func(s *settings) { s.opts.ProgressFile = path }
}

// WithLedgerDataset sets the tracking dataset for ledger and run records.
func WithLedgerDataset(datasetID string) Option {
	return func(s *settings) { s.opts.LedgerDataset = datasetID }
}

// WithDefaultTag sets the tag applied to datasets without snapshot tags.
func WithDefaultTag(tag string) Option {
	return func(s *settings) { s.opts.DefaultTag = tag }
}

// WithEnricher sets the award enricher.
func WithEnricher(e sync.AwardEnricher) Option {
	return func(s *settings) { s.opts.Enricher = e }
}

func build(opts []Option) (*sync.Engine, error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	if s.client == nil {
		return nil, &errors.ValidationError{Field: "client", Message: "WithClient is required"}
	}
	return sync.New(s.client, s.opts)
}

// Update loads the snapshot at path and reconciles it.
func Update(ctx context.Context, path string, opts ...Option) (*sync.Result, error) {
	engine, err := build(opts)
	if err != nil {
		return nil, err
	}
	snap, err := snapshot.Load(path)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, snap)
}

// UpdateSnapshot reconciles an already-parsed snapshot.
func UpdateSnapshot(ctx context.Context, snap snapshot.Snapshot, opts ...Option) (*sync.Result, error) {
	engine, err := build(opts)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, snap)
}

// Clear removes all synced models and ledger state for one dataset.
func Clear(ctx context.Context, datasetID string, opts ...Option) error {
	engine, err := build(opts)
	if err != nil {
		return err
	}
	return engine.Clear(ctx, datasetID)
}
