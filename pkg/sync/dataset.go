package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	stdsync "sync"

	"github.com/rs/zerolog"

	"github.com/sparctools/metasync/pkg/entity"
	"github.com/sparctools/metasync/pkg/errors"
	"github.com/sparctools/metasync/pkg/linker"
	"github.com/sparctools/metasync/pkg/logging"
	"github.com/sparctools/metasync/pkg/platform"
	"github.com/sparctools/metasync/pkg/resolve"
	"github.com/sparctools/metasync/pkg/snapshot"
)

// datasetSync carries the state of reconciling one dataset.
type datasetSync struct {
	engine   *Engine
	ledger   *Ledger
	dataset  string
	doc      *snapshot.Document
	resolver *resolve.Resolver
	builder  *linker.Builder
	local    map[string]string // ledger field -> local hash
	changed  map[string]bool
	res      *DatasetResult
	log      zerolog.Logger
}

func (e *Engine) syncDataset(ctx context.Context, ledger *Ledger, datasetID string, doc *snapshot.Document) DatasetResult {
	res := DatasetResult{DatasetID: datasetID, States: make(map[string]TypeState)}
	d := &datasetSync{
		engine:  e,
		ledger:  ledger,
		dataset: datasetID,
		doc:     doc,
		local:   make(map[string]string),
		changed: make(map[string]bool),
		res:     &res,
		log:     logging.With().Str("dataset", datasetID).Logger(),
	}

	d.gate()
	if len(d.changed) == 0 {
		d.log.Debug().Msg("dataset unchanged")
		return res
	}
	if e.opts.DryRun {
		for field := range d.changed {
			d.log.Info().Str("type", field).Msg("would reconcile")
			res.States[field] = StateApplied
		}
		return res
	}

	if skipped := d.precheck(ctx); skipped {
		return res
	}

	d.resolver = resolve.New(e.client, e.registry, datasetID, doc)
	d.builder = linker.New(e.client, e.registry, d.resolver, datasetID, doc)

	if err := d.ensureModels(ctx); err != nil {
		res.Aborted = true
		res.Errors = append(res.Errors, err)
		return res
	}
	d.prefetch(ctx)
	d.reconcile(ctx)
	d.reconcileTags(ctx)
	d.link(ctx)
	return res
}

// gate compares local collection hashes against the remote ledger and marks
// the fields that need work. An entirely unchanged dataset is decided here
// with no remote calls at all.
func (d *datasetSync) gate() {
	for _, t := range d.engine.registry.Ordered() {
		d.local[t.Name] = snapshot.HashCollection(d.doc.Collection(t.Name))
	}
	d.local[entity.LedgerTagField] = snapshot.HashTags(d.tags())

	for field, localHash := range d.local {
		if d.engine.opts.forced(field) || localHash != d.ledger.Hash(d.dataset, field) {
			d.changed[field] = true
		} else {
			d.res.States[field] = StateUnchanged
		}
	}
}

func (d *datasetSync) tags() []string {
	if len(d.doc.Tags) > 0 {
		return d.doc.Tags
	}
	return []string{d.engine.opts.DefaultTag}
}

// precheck verifies the dataset exists and is writable. Any failure skips
// the whole dataset without ledger changes.
func (d *datasetSync) precheck(ctx context.Context) bool {
	if _, err := d.engine.client.GetOrCreateDataset(ctx, d.dataset); err != nil {
		d.res.Aborted = true
		d.res.Errors = append(d.res.Errors, err)
		return true
	}

	role, err := d.engine.client.Role(ctx, d.dataset)
	if err != nil {
		d.res.Aborted = true
		d.res.Errors = append(d.res.Errors, err)
		return true
	}
	if !role.CanWrite() {
		d.skip((&errors.AuthorizationError{DatasetID: d.dataset, Role: string(role)}).Error())
		return true
	}

	status, err := d.engine.client.PublicationStatus(ctx, d.dataset)
	if err != nil {
		d.res.Aborted = true
		d.res.Errors = append(d.res.Errors, err)
		return true
	}
	if platform.Locked(status) {
		d.skip((&errors.LockedError{DatasetID: d.dataset, Status: status}).Error())
		return true
	}
	return false
}

func (d *datasetSync) skip(reason string) {
	d.log.Warn().Str("reason", reason).Msg("skipping dataset")
	d.res.Skipped = true
	d.res.SkipReason = reason
	for field := range d.changed {
		d.res.States[field] = StateSkipped
	}
}

// ensureModels creates every registry model missing from the dataset, so
// reconciliation and link resolution never race model creation.
func (d *datasetSync) ensureModels(ctx context.Context) error {
	for _, t := range d.engine.registry.Ordered() {
		for _, m := range t.Models() {
			model, err := d.engine.client.GetOrCreateModel(ctx, d.dataset, m.ModelDefinition())
			if err != nil {
				return fmt.Errorf("ensure model %s: %w", m.Name, err)
			}
			d.resolver.Cache().SetModel(model)
		}
	}
	return nil
}

// prefetch warms the record cache for every model this dataset will touch.
// This is the only concurrent fan-out in a run; failures are ignored here
// because reconciliation refetches on demand.
func (d *datasetSync) prefetch(ctx context.Context) {
	models := make(map[string]bool)
	for _, t := range d.engine.registry.Ordered() {
		for _, m := range t.Models() {
			if d.changed[t.Name] {
				models[m.Name] = true
			}
			if d.linkTriggered(m) {
				models[m.Name] = true
				for _, l := range m.Links {
					for _, target := range d.engine.registry.TargetModels(l.Target) {
						models[target] = true
					}
				}
				for _, rel := range m.Relationships {
					for _, target := range d.engine.registry.TargetModels(rel.Target) {
						models[target] = true
					}
				}
			}
		}
	}

	var wg stdsync.WaitGroup
	for name := range models {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if _, err := d.resolver.Records(ctx, name); err != nil {
				d.log.Debug().Err(err).Str("model", name).Msg("prefetch failed")
			}
		}(name)
	}
	wg.Wait()
}

// reconcile replaces changed records type by type in dependency order. A
// transient failure marks the type failed and moves on; its ledger hash
// stays stale so the next run retries just that type.
func (d *datasetSync) reconcile(ctx context.Context) {
	for _, t := range d.engine.registry.Ordered() {
		field := t.Name
		if !d.changed[field] {
			continue
		}
		created, deleted, err := d.reconcileType(ctx, t)
		d.res.Created += created
		d.res.Deleted += deleted
		if err != nil {
			d.res.States[field] = StateFailed
			d.res.Errors = append(d.res.Errors, fmt.Errorf("%s: %w", field, err))
			d.log.Error().Err(err).Str("type", field).Msg("reconciliation failed")
			continue
		}
		d.references(ctx, t)
		if err := d.ledger.SetHash(ctx, d.dataset, field, d.local[field]); err != nil {
			d.res.States[field] = StateFailed
			d.res.Errors = append(d.res.Errors, fmt.Errorf("%s: record hash: %w", field, err))
			continue
		}
		d.res.States[field] = StateApplied
		d.log.Info().Str("type", field).Int("created", created).Int("deleted", deleted).
			Msg("reconciled")
	}
}

func (d *datasetSync) reconcileType(ctx context.Context, t *entity.Type) (created, deleted int, err error) {
	col := d.doc.Collection(t.Name)
	for _, m := range t.Models() {
		c, del, err := d.reconcileModel(ctx, m, m.Filter(col))
		created += c
		deleted += del
		if err != nil {
			return created, deleted, err
		}
	}
	return created, deleted, nil
}

// reconcileModel computes the hash diff for one model and applies it:
// remote records whose hash matches a local record survive, everything
// else is removed, and unmatched local records are created in batches.
func (d *datasetSync) reconcileModel(ctx context.Context, m *entity.Type, col snapshot.Collection) (created, deleted int, err error) {
	remote, err := d.resolver.Records(ctx, m.Name)
	if err != nil {
		return 0, 0, err
	}

	force := d.engine.opts.forced(m.Source())
	byHash := make(map[string]string, len(col))
	for localID, rec := range col {
		byHash[rec.Hash] = localID
	}

	claimed := make(map[string]bool, len(col))
	var toDelete []string
	for _, rec := range remote {
		localID, ok := byHash[rec.Hash()]
		if force || !ok || claimed[localID] {
			toDelete = append(toDelete, rec.ID)
			continue
		}
		claimed[localID] = true
		d.resolver.Cache().Put(m.Name, localID, rec.ID)
	}

	if len(toDelete) > 0 {
		if err := d.engine.client.DeleteRecords(ctx, d.dataset, m.Name, toDelete); err != nil {
			return 0, 0, err
		}
		deleted = len(toDelete)
	}

	pending := make([]string, 0, len(col))
	for _, localID := range sortedKeys(col) {
		if !claimed[localID] {
			pending = append(pending, localID)
		}
	}

	batchSize := d.engine.opts.BatchSize
	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		values := make([]map[string]any, len(batch))
		for i, localID := range batch {
			v := m.Transform(localID, col[localID])
			if m.Enrich {
				d.enrich(ctx, v)
			}
			values[i] = v
		}
		ids, err := d.engine.client.CreateRecords(ctx, d.dataset, m.Name, values)
		if err != nil {
			return created, deleted, err
		}
		for i, localID := range batch {
			if i < len(ids) {
				d.resolver.Cache().Put(m.Name, localID, ids[i])
			}
		}
		created += len(batch)
	}

	d.resolver.Cache().Invalidate(m.Name)
	return created, deleted, nil
}

// enrich merges registry-fetched award fields into the record values. The
// content hash is computed from the snapshot alone, so enrichment never
// affects change detection.
func (d *datasetSync) enrich(ctx context.Context, values map[string]any) {
	enricher := d.engine.opts.Enricher
	if enricher == nil {
		return
	}
	awardID, _ := values["award_id"].(string)
	if awardID == "" {
		return
	}
	extra, err := enricher.Enrich(ctx, awardID)
	if err != nil {
		d.log.Warn().Err(err).Str("award", awardID).Msg("award enrichment failed")
		return
	}
	for k, v := range extra {
		if k == "award_id" || k == platform.RecordHashProperty || v == nil {
			continue
		}
		values[k] = v
	}
}

// references registers DOI values from a reconciled type as external
// dataset references. Failures are logged only; references are additive
// and retried on the next changed run.
func (d *datasetSync) references(ctx context.Context, t *entity.Type) {
	if t.References == nil {
		return
	}
	for _, rec := range d.doc.Collection(t.Name) {
		for _, v := range entity.Values(rec.Properties, t.References.From) {
			s, _ := v.(string)
			doi := normalizeDOI(s)
			if doi == "" {
				continue
			}
			if err := d.engine.client.CreateReference(ctx, d.dataset, doi, t.References.Relationship); err != nil {
				d.log.Warn().Err(err).Str("doi", doi).Msg("reference registration failed")
			}
		}
	}
}

func (d *datasetSync) reconcileTags(ctx context.Context) {
	if !d.changed[entity.LedgerTagField] {
		return
	}
	tags := d.tags()
	if err := d.engine.client.SetDatasetTags(ctx, d.dataset, tags); err != nil {
		d.res.States[entity.LedgerTagField] = StateFailed
		d.res.Errors = append(d.res.Errors, fmt.Errorf("tags: %w", err))
		return
	}
	if err := d.ledger.SetHash(ctx, d.dataset, entity.LedgerTagField, d.local[entity.LedgerTagField]); err != nil {
		d.res.States[entity.LedgerTagField] = StateFailed
		d.res.Errors = append(d.res.Errors, fmt.Errorf("tags: record hash: %w", err))
		return
	}
	d.res.States[entity.LedgerTagField] = StateApplied
}

// link runs the link phase for every model whose trigger types were
// reconciled this run. Link failures are recorded but do not stop the
// remaining models.
func (d *datasetSync) link(ctx context.Context) {
	for _, t := range d.engine.registry.Ordered() {
		for _, m := range t.Models() {
			if !d.linkApplies(m) {
				continue
			}
			if err := d.builder.Apply(ctx, m); err != nil {
				d.res.Errors = append(d.res.Errors, fmt.Errorf("links %s: %w", m.Name, err))
				d.log.Error().Err(err).Str("model", m.Name).Msg("link phase failed")
			}
		}
	}
}

// linkTriggered reports whether the model's link phase would run given the
// changed set; linkApplies additionally requires its triggers to have been
// applied, not failed.
func (d *datasetSync) linkTriggered(m *entity.Type) bool {
	for _, field := range d.triggers(m) {
		if d.changed[field] {
			return true
		}
	}
	return false
}

func (d *datasetSync) linkApplies(m *entity.Type) bool {
	for _, field := range d.triggers(m) {
		if d.res.States[field] == StateApplied {
			return true
		}
	}
	return false
}

func (d *datasetSync) triggers(m *entity.Type) []string {
	if len(m.Links) == 0 && len(m.Relationships) == 0 && !m.AttachFiles {
		return nil
	}
	if len(m.LinkWhen) > 0 {
		return m.LinkWhen
	}
	return []string{m.Source()}
}

func normalizeDOI(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "doi:"} {
		if strings.HasPrefix(s, prefix) {
			s = s[len(prefix):]
			break
		}
	}
	if !strings.HasPrefix(s, "10.") {
		return ""
	}
	return s
}

func sortedKeys(col snapshot.Collection) []string {
	keys := make([]string, 0, len(col))
	for k := range col {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
