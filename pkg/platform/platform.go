// Package platform defines the client abstraction over the remote curation
// platform: datasets, metadata models, records, schema-linked properties,
// and named relationships. Implementations live in internal/platform (HTTP)
// and pkg/platform/memory (in-memory, for tests and dry runs).
package platform

import (
	"context"
)

// RecordHashProperty is the reserved model property that carries the content
// hash of the source record a remote record was created from. The diff between
// local and remote state is computed purely over these values.
const RecordHashProperty = "recordHash"

// Record is a metadata record on the platform.
type Record struct {
	ID     string
	Model  string
	Values map[string]any
}

// Hash returns the content hash the record carries, or "" for records
// created outside the sync engine.
func (r Record) Hash() string {
	h, _ := r.Values[RecordHashProperty].(string)
	return h
}

// Property describes one scalar column of a model schema.
type Property struct {
	Name     string
	Display  string
	DataType string
	Title    bool
	Multi    bool
}

// LinkedProperty describes a schema-level link from one model to another.
type LinkedProperty struct {
	Name    string
	Display string
	Target  string // target model name
}

// ModelDefinition is the full schema of a metadata model.
type ModelDefinition struct {
	Name       string
	Display    string
	Properties []Property
	Linked     []LinkedProperty
}

// Model is a metadata model as it exists on the platform.
type Model struct {
	ID     string
	Name   string
	Count  int
	Linked map[string]string // linked property name -> property id
}

// SearchFilter is one field-equality clause of a structured record search.
type SearchFilter struct {
	Property string
	Value    any
}

// Link is an instance-level linked-property value between two records.
type Link struct {
	Property   string // linked property name
	PropertyID string // schema id, filled by implementations
	To         string // target record id
}

// Relation is an instance of a named relationship between two records.
type Relation struct {
	Name string
	To   string
}

// Role is the caller's permission level on a dataset.
type Role string

// Dataset roles, lowest to highest.
const (
	RoleNone    Role = "none"
	RoleViewer  Role = "viewer"
	RoleEditor  Role = "editor"
	RoleManager Role = "manager"
	RoleOwner   Role = "owner"
)

// CanWrite reports whether the role permits metadata writes.
func (r Role) CanWrite() bool {
	switch r {
	case RoleEditor, RoleManager, RoleOwner:
		return true
	}
	return false
}

// Publication states that lock a dataset against metadata writes.
const (
	PublicationRequested = "requested"
	PublicationAccepted  = "accepted"
	PublicationFailed    = "failed"
)

// Locked reports whether a publication status forbids writes.
func Locked(status string) bool {
	switch status {
	case PublicationRequested, PublicationAccepted, PublicationFailed:
		return true
	}
	return false
}

// Client is the operation surface the sync engine needs from the curation
// platform. All record operations are scoped to a dataset and a model name.
// Implementations return errors from the pkg/errors taxonomy: sentinel
// ErrNotFound for missing resources and RemoteError for transient failures.
type Client interface {
	// GetOrCreateDataset resolves a dataset by id, creating it when the
	// platform does not know it yet. Returns the platform-native dataset id.
	GetOrCreateDataset(ctx context.Context, datasetID string) (string, error)

	// Role returns the caller's role on the dataset.
	Role(ctx context.Context, datasetID string) (Role, error)

	// PublicationStatus returns the dataset's publication workflow status.
	PublicationStatus(ctx context.Context, datasetID string) (string, error)

	// SetDatasetTags replaces the dataset's tag list.
	SetDatasetTags(ctx context.Context, datasetID string, tags []string) error

	// CreateReference registers an external DOI reference on the dataset
	// under the given relationship type, if it is not already present.
	CreateReference(ctx context.Context, datasetID, doi, relationship string) error

	// AttachFile links a dataset file path to a record.
	AttachFile(ctx context.Context, datasetID, recordID, path string) error

	// Models lists the metadata models defined on the dataset, keyed by name.
	Models(ctx context.Context, datasetID string) (map[string]Model, error)

	// GetOrCreateModel ensures a model with the given schema exists and
	// returns it. Existing models are not migrated.
	GetOrCreateModel(ctx context.Context, datasetID string, def ModelDefinition) (Model, error)

	// DeleteModel removes a model and all its records.
	DeleteModel(ctx context.Context, datasetID, model string) error

	// Records returns one page of records of a model.
	Records(ctx context.Context, datasetID, model string, limit, offset int) ([]Record, error)

	// CreateRecords creates records in one batch and returns their new ids
	// in input order.
	CreateRecords(ctx context.Context, datasetID, model string, values []map[string]any) ([]string, error)

	// UpdateRecord replaces the property values of an existing record.
	UpdateRecord(ctx context.Context, datasetID, model, recordID string, values map[string]any) error

	// DeleteRecords removes records in bulk.
	DeleteRecords(ctx context.Context, datasetID, model string, recordIDs []string) error

	// SearchRecords runs a structured field-equality search over a model.
	SearchRecords(ctx context.Context, datasetID, model string, filters []SearchFilter) ([]Record, error)

	// Links returns the outgoing linked-property values of a record.
	Links(ctx context.Context, datasetID, model, recordID string) ([]Link, error)

	// CreateLinks sets linked-property values on a record in one batch.
	CreateLinks(ctx context.Context, datasetID, model, recordID string, links []Link) error

	// Relations returns the outgoing named relationships of a record.
	Relations(ctx context.Context, datasetID, recordID string) ([]Relation, error)

	// Relate creates instances of one named relationship from a record to
	// each target. The display name is shown in the platform UI.
	Relate(ctx context.Context, datasetID, model, recordID, name, display string, targets []string) error
}
