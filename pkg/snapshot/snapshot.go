// Package snapshot defines the graph-derived metadata projection that the
// sync engine reconciles against the remote curation platform, and the
// content hashing used to detect changes in it.
//
// A Snapshot maps dataset ids to per-dataset documents. Each document maps
// entity-type names to collections of records keyed by local id. The
// snapshot is produced upstream by the graph-to-JSON projector and is never
// mutated here.
package snapshot

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/sparctools/metasync/pkg/errors"
)

// EntitySummary is the fixed local id of the singleton summary record.
const EntitySummary = "summary"

// Record is one entity record: a property map plus its content hash.
// Identity is by local id (the collection key); a changed hash for the same
// local id means replace-by-remove-then-create, never an in-place update.
type Record struct {
	Properties map[string]any
	Hash       string
}

// Collection maps local ids to records for one entity type.
type Collection map[string]Record

// Document is the projection of a single dataset.
type Document struct {
	Entities map[string]Collection
	Tags     []string
}

// Collection returns the named entity collection, which may be nil.
func (d *Document) Collection(name string) Collection {
	if d == nil {
		return nil
	}
	return d.Entities[name]
}

// Snapshot maps dataset ids to their documents.
type Snapshot map[string]*Document

// DatasetIDs returns the dataset ids in sorted order.
func (s Snapshot) DatasetIDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Load reads and parses a snapshot document from disk.
func Load(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO("read", path, err)
	}
	snap, err := Parse(data)
	if err != nil {
		return nil, errors.WrapIO("parse", path, err)
	}
	return snap, nil
}

// Parse decodes a snapshot from its JSON form.
func Parse(data []byte) (Snapshot, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	snap := make(Snapshot, len(raw))
	for dsID, docRaw := range raw {
		doc, err := parseDocument(docRaw)
		if err != nil {
			return nil, &errors.ValidationError{Field: dsID, Message: err.Error()}
		}
		snap[dsID] = doc
	}
	return snap, nil
}

func parseDocument(data json.RawMessage) (*Document, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	doc := &Document{Entities: make(map[string]Collection, len(raw))}
	for name, sub := range raw {
		switch name {
		case "tag":
			if err := json.Unmarshal(sub, &doc.Tags); err != nil {
				return nil, err
			}
			sort.Strings(doc.Tags)
		case EntitySummary:
			col, err := parseSummary(sub)
			if err != nil {
				return nil, err
			}
			doc.Entities[name] = col
		default:
			col, err := parseCollection(sub)
			if err != nil {
				return nil, err
			}
			doc.Entities[name] = col
		}
	}
	return doc, nil
}

func parseCollection(data json.RawMessage) (Collection, error) {
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	col := make(Collection, len(raw))
	for localID, props := range raw {
		col[localID] = newRecord(props)
	}
	return col, nil
}

// parseSummary normalizes the summary, which arrives as a bare property map,
// into a singleton collection keyed by the fixed summary id.
func parseSummary(data json.RawMessage) (Collection, error) {
	var props map[string]any
	if err := json.Unmarshal(data, &props); err != nil {
		return nil, err
	}
	if len(props) == 0 {
		return Collection{}, nil
	}
	return Collection{EntitySummary: newRecord(props)}, nil
}

// newRecord separates the projector-supplied hash field from the property
// map, computing the hash itself when the projector omitted it.
func newRecord(props map[string]any) Record {
	hash, _ := props["hash"].(string)
	delete(props, "hash")
	if hash == "" {
		hash = HashRecord(props)
	}
	return Record{Properties: props, Hash: hash}
}
