// Package resolve maps local record ids to remote record ids. Resolution
// walks a fixed chain: run cache, bulk-fetched record match, structured
// remote search, and finally placeholder creation for term-like types.
// Every hit is cached so a local id is resolved at most once per run.
package resolve

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sparctools/metasync/pkg/entity"
	"github.com/sparctools/metasync/pkg/errors"
	"github.com/sparctools/metasync/pkg/logging"
	"github.com/sparctools/metasync/pkg/platform"
	"github.com/sparctools/metasync/pkg/snapshot"
)

// DefaultPageSize is the record page size used for bulk fetches.
const DefaultPageSize = 500

// Resolver resolves local ids against one dataset on the platform.
type Resolver struct {
	client   platform.Client
	registry *entity.Registry
	dataset  string
	doc      *snapshot.Document
	cache    *Cache
	pageSize int
	log      zerolog.Logger
}

// New returns a resolver for one dataset. The document supplies payloads
// for building search filters; it may be nil when resolving ids for
// records that have no local counterpart.
func New(client platform.Client, registry *entity.Registry, datasetID string, doc *snapshot.Document) *Resolver {
	return &Resolver{
		client:   client,
		registry: registry,
		dataset:  datasetID,
		doc:      doc,
		cache:    NewCache(),
		pageSize: DefaultPageSize,
		log:      logging.With().Str("dataset", datasetID).Logger(),
	}
}

// Cache exposes the run cache so the orchestrator can register ids it
// learns during reconciliation.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Records returns all remote records of a model, bulk-fetching and caching
// them on first use.
func (r *Resolver) Records(ctx context.Context, model string) ([]platform.Record, error) {
	if records, ok := r.cache.Records(model); ok {
		return records, nil
	}
	var records []platform.Record
	for offset := 0; ; offset += r.pageSize {
		page, err := r.client.Records(ctx, r.dataset, model, r.pageSize, offset)
		if err != nil {
			return nil, err
		}
		records = append(records, page...)
		if len(page) < r.pageSize {
			break
		}
	}
	r.cache.SetRecords(model, records)
	return records, nil
}

// Resolve maps a local id of the named entity to a remote record id.
// Returns ErrNotFound when the chain is exhausted, which callers treat as
// an unresolved link target.
func (r *Resolver) Resolve(ctx context.Context, name, localID string) (string, error) {
	for _, modelName := range r.registry.TargetModels(name) {
		if id, ok := r.cache.ID(modelName, localID); ok {
			return id, nil
		}
	}

	for _, modelName := range r.registry.TargetModels(name) {
		typ, ok := r.registry.Get(modelName)
		if !ok {
			continue
		}
		id, err := r.resolveModel(ctx, typ, localID)
		if err == nil {
			return id, nil
		}
		// An ambiguous match is a miss for resolution purposes.
		if !errors.IsNotFound(err) && !errors.IsAmbiguous(err) {
			return "", err
		}
	}

	typ, ok := r.registry.Get(name)
	if ok && typ.TermLike {
		return r.createPlaceholder(ctx, typ, localID)
	}
	return "", errors.NewNotFoundError(name, localID)
}

func (r *Resolver) resolveModel(ctx context.Context, typ *entity.Type, localID string) (string, error) {
	rec := r.localRecord(typ, localID)
	filters := typ.SearchFilters(localID, rec)
	if filters == nil && !typ.Singleton {
		return "", errors.NewNotFoundError(typ.Name, localID)
	}

	// Match against the bulk-fetched records first; one listing call
	// serves every lookup of the model.
	records, err := r.Records(ctx, typ.Name)
	if err != nil {
		return "", err
	}
	if id, err := r.pick(typ, localID, filter(records, filters)); err == nil {
		r.cache.Put(typ.Name, localID, id)
		return id, nil
	} else if errors.IsAmbiguous(err) {
		return "", err
	}

	if typ.LocalOnly || typ.Singleton || len(filters) == 0 {
		return "", errors.NewNotFoundError(typ.Name, localID)
	}

	found, err := r.client.SearchRecords(ctx, r.dataset, typ.Name, filters)
	if err != nil {
		return "", err
	}
	id, err := r.pick(typ, localID, found)
	if err != nil {
		return "", err
	}
	r.cache.Put(typ.Name, localID, id)
	return id, nil
}

// pick enforces single-match resolution. More than one match is logged and
// treated as a miss so reconciliation proceeds without guessing.
func (r *Resolver) pick(typ *entity.Type, localID string, matches []platform.Record) (string, error) {
	switch len(matches) {
	case 0:
		return "", errors.NewNotFoundError(typ.Name, localID)
	case 1:
		return matches[0].ID, nil
	default:
		ambErr := &errors.AmbiguousMatchError{EntityType: typ.Name, LocalID: localID, Matches: len(matches)}
		r.log.Warn().Str("model", typ.Name).Str("local_id", localID).
			Int("matches", len(matches)).Msg("ambiguous identity match, treating as unresolved")
		return "", ambErr
	}
}

// createPlaceholder creates a minimal record carrying just the local id as
// its label. Creation per label is serialized so concurrent resolution of
// the same target yields one record.
func (r *Resolver) createPlaceholder(ctx context.Context, typ *entity.Type, localID string) (string, error) {
	mu := r.cache.lockFor(typ.Name, localID)
	mu.Lock()
	defer mu.Unlock()

	if id, ok := r.cache.ID(typ.Name, localID); ok {
		return id, nil
	}

	values := typ.Transform(localID, typ.Placeholder(localID))
	ids, err := r.client.CreateRecords(ctx, r.dataset, typ.Name, []map[string]any{values})
	if err != nil {
		return "", err
	}
	if len(ids) != 1 {
		return "", errors.WrapRemote("create", typ.Name, errors.New("placeholder create returned no id"))
	}
	r.log.Debug().Str("model", typ.Name).Str("local_id", localID).Msg("created placeholder record")
	r.cache.Put(typ.Name, localID, ids[0])
	return ids[0], nil
}

func (r *Resolver) localRecord(typ *entity.Type, localID string) snapshot.Record {
	if r.doc == nil {
		return snapshot.Record{}
	}
	col := r.doc.Collection(typ.Source())
	return col[localID]
}

func filter(records []platform.Record, filters []platform.SearchFilter) []platform.Record {
	if filters == nil {
		return nil
	}
	var out []platform.Record
	for _, rec := range records {
		if entity.Matches(rec, filters) {
			out = append(out, rec)
		}
	}
	return out
}
