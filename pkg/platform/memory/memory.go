// Package memory provides an in-memory platform.Client implementation. It
// backs the test suite and offline dry runs: datasets, models, records,
// links, and relations live in process, with hooks for injecting failures
// and counting write traffic.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sparctools/metasync/pkg/errors"
	"github.com/sparctools/metasync/pkg/platform"
)

type reference struct {
	doi          string
	relationship string
}

type model struct {
	info    platform.Model
	def     platform.ModelDefinition
	records map[string]platform.Record
	order   []string // record ids in creation order, for stable paging
	links   map[string][]platform.Link
}

type dataset struct {
	id          string
	tags        []string
	references  []reference
	models      map[string]*model
	relations   map[string][]platform.Relation
	attachments map[string][]string
}

// Client is an in-memory platform client. The zero value is not usable; use
// New.
type Client struct {
	mu        sync.Mutex
	datasets  map[string]*dataset
	roles     map[string]platform.Role
	pubStatus map[string]string
	failures  map[string]error
	nextID    int
	writes    int
}

// New returns an empty in-memory client. Unknown datasets are created on
// first use with owner role and no publication lock.
func New() *Client {
	return &Client{
		datasets:  make(map[string]*dataset),
		roles:     make(map[string]platform.Role),
		pubStatus: make(map[string]string),
		failures:  make(map[string]error),
	}
}

// SetRole fixes the role reported for a dataset.
func (c *Client) SetRole(datasetID string, role platform.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roles[datasetID] = role
}

// SetPublicationStatus fixes the publication status reported for a dataset.
func (c *Client) SetPublicationStatus(datasetID, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pubStatus[datasetID] = status
}

// Fail makes every call of the named operation return err until cleared
// with a nil err. Operation names match the Client method names in
// lowerCamelCase.
func (c *Client) Fail(operation string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, operation)
		return
	}
	c.failures[operation] = err
}

// Writes returns the number of mutating calls made so far.
func (c *Client) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// ResetWrites zeroes the mutating-call counter.
func (c *Client) ResetWrites() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = 0
}

// Tags returns the dataset's current tag list.
func (c *Client) Tags(datasetID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ds, ok := c.datasets[datasetID]; ok {
		return append([]string(nil), ds.tags...)
	}
	return nil
}

// References returns the DOIs registered on the dataset under a relationship.
func (c *Client) References(datasetID, relationship string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ds, ok := c.datasets[datasetID]
	if !ok {
		return nil
	}
	var dois []string
	for _, ref := range ds.references {
		if ref.relationship == relationship {
			dois = append(dois, ref.doi)
		}
	}
	return dois
}

// Attachments returns the file paths attached to a record.
func (c *Client) Attachments(datasetID, recordID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ds, ok := c.datasets[datasetID]; ok {
		return append([]string(nil), ds.attachments[recordID]...)
	}
	return nil
}

func (c *Client) fail(operation string) error {
	if err, ok := c.failures[operation]; ok {
		return err
	}
	return nil
}

func (c *Client) dataset(datasetID string) *dataset {
	ds, ok := c.datasets[datasetID]
	if !ok {
		ds = &dataset{
			id:          datasetID,
			models:      make(map[string]*model),
			relations:   make(map[string][]platform.Relation),
			attachments: make(map[string][]string),
		}
		c.datasets[datasetID] = ds
	}
	return ds
}

func (c *Client) model(datasetID, name string) (*model, error) {
	ds, ok := c.datasets[datasetID]
	if !ok {
		return nil, errors.NewNotFoundError("dataset", datasetID)
	}
	m, ok := ds.models[name]
	if !ok {
		return nil, errors.NewNotFoundError("model", name)
	}
	return m, nil
}

func (c *Client) id(prefix string) string {
	c.nextID++
	return fmt.Sprintf("%s-%d", prefix, c.nextID)
}

// GetOrCreateDataset implements platform.Client.
func (c *Client) GetOrCreateDataset(_ context.Context, datasetID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("getOrCreateDataset"); err != nil {
		return "", err
	}
	return c.dataset(datasetID).id, nil
}

// Role implements platform.Client.
func (c *Client) Role(_ context.Context, datasetID string) (platform.Role, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("role"); err != nil {
		return platform.RoleNone, err
	}
	if role, ok := c.roles[datasetID]; ok {
		return role, nil
	}
	return platform.RoleOwner, nil
}

// PublicationStatus implements platform.Client.
func (c *Client) PublicationStatus(_ context.Context, datasetID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("publicationStatus"); err != nil {
		return "", err
	}
	return c.pubStatus[datasetID], nil
}

// SetDatasetTags implements platform.Client.
func (c *Client) SetDatasetTags(_ context.Context, datasetID string, tags []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("setDatasetTags"); err != nil {
		return err
	}
	c.writes++
	c.dataset(datasetID).tags = append([]string(nil), tags...)
	return nil
}

// CreateReference implements platform.Client.
func (c *Client) CreateReference(_ context.Context, datasetID, doi, relationship string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("createReference"); err != nil {
		return err
	}
	ds := c.dataset(datasetID)
	for _, ref := range ds.references {
		if ref.doi == doi && ref.relationship == relationship {
			return nil
		}
	}
	c.writes++
	ds.references = append(ds.references, reference{doi: doi, relationship: relationship})
	return nil
}

// AttachFile implements platform.Client.
func (c *Client) AttachFile(_ context.Context, datasetID, recordID, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("attachFile"); err != nil {
		return err
	}
	c.writes++
	ds := c.dataset(datasetID)
	ds.attachments[recordID] = append(ds.attachments[recordID], path)
	return nil
}

// Models implements platform.Client.
func (c *Client) Models(_ context.Context, datasetID string) (map[string]platform.Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("models"); err != nil {
		return nil, err
	}
	out := make(map[string]platform.Model)
	if ds, ok := c.datasets[datasetID]; ok {
		for name, m := range ds.models {
			info := m.info
			info.Count = len(m.records)
			out[name] = info
		}
	}
	return out, nil
}

// GetOrCreateModel implements platform.Client.
func (c *Client) GetOrCreateModel(_ context.Context, datasetID string, def platform.ModelDefinition) (platform.Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("getOrCreateModel"); err != nil {
		return platform.Model{}, err
	}
	ds := c.dataset(datasetID)
	if m, ok := ds.models[def.Name]; ok {
		info := m.info
		info.Count = len(m.records)
		return info, nil
	}
	c.writes++
	linked := make(map[string]string, len(def.Linked))
	for _, lp := range def.Linked {
		linked[lp.Name] = c.id("prop")
	}
	m := &model{
		info:    platform.Model{ID: c.id("model"), Name: def.Name, Linked: linked},
		def:     def,
		records: make(map[string]platform.Record),
		links:   make(map[string][]platform.Link),
	}
	ds.models[def.Name] = m
	return m.info, nil
}

// DeleteModel implements platform.Client.
func (c *Client) DeleteModel(_ context.Context, datasetID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("deleteModel"); err != nil {
		return err
	}
	ds, ok := c.datasets[datasetID]
	if !ok {
		return errors.NewNotFoundError("dataset", datasetID)
	}
	if _, ok := ds.models[name]; !ok {
		return errors.NewNotFoundError("model", name)
	}
	c.writes++
	delete(ds.models, name)
	return nil
}

// Records implements platform.Client.
func (c *Client) Records(_ context.Context, datasetID, name string, limit, offset int) ([]platform.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("records"); err != nil {
		return nil, err
	}
	m, err := c.model(datasetID, name)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if offset >= len(m.order) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(m.order) {
		end = len(m.order)
	}
	out := make([]platform.Record, 0, end-offset)
	for _, id := range m.order[offset:end] {
		out = append(out, m.records[id])
	}
	return out, nil
}

// CreateRecords implements platform.Client.
func (c *Client) CreateRecords(_ context.Context, datasetID, name string, values []map[string]any) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("createRecords"); err != nil {
		return nil, err
	}
	m, err := c.model(datasetID, name)
	if err != nil {
		return nil, err
	}
	c.writes++
	ids := make([]string, 0, len(values))
	for _, vals := range values {
		id := c.id("rec")
		copied := make(map[string]any, len(vals))
		for k, v := range vals {
			copied[k] = v
		}
		m.records[id] = platform.Record{ID: id, Model: name, Values: copied}
		m.order = append(m.order, id)
		ids = append(ids, id)
	}
	return ids, nil
}

// UpdateRecord implements platform.Client.
func (c *Client) UpdateRecord(_ context.Context, datasetID, name, recordID string, values map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("updateRecord"); err != nil {
		return err
	}
	m, err := c.model(datasetID, name)
	if err != nil {
		return err
	}
	if _, ok := m.records[recordID]; !ok {
		return errors.NewNotFoundError("record", recordID)
	}
	c.writes++
	copied := make(map[string]any, len(values))
	for k, v := range values {
		copied[k] = v
	}
	m.records[recordID] = platform.Record{ID: recordID, Model: name, Values: copied}
	return nil
}

// DeleteRecords implements platform.Client.
func (c *Client) DeleteRecords(_ context.Context, datasetID, name string, recordIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("deleteRecords"); err != nil {
		return err
	}
	m, err := c.model(datasetID, name)
	if err != nil {
		return err
	}
	c.writes++
	drop := make(map[string]bool, len(recordIDs))
	for _, id := range recordIDs {
		drop[id] = true
		delete(m.records, id)
		delete(m.links, id)
	}
	order := m.order[:0]
	for _, id := range m.order {
		if !drop[id] {
			order = append(order, id)
		}
	}
	m.order = order
	return nil
}

// SearchRecords implements platform.Client.
func (c *Client) SearchRecords(_ context.Context, datasetID, name string, filters []platform.SearchFilter) ([]platform.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("searchRecords"); err != nil {
		return nil, err
	}
	m, err := c.model(datasetID, name)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []platform.Record
	for _, id := range m.order {
		rec := m.records[id]
		if matches(rec, filters) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func matches(rec platform.Record, filters []platform.SearchFilter) bool {
	for _, f := range filters {
		got, ok := rec.Values[f.Property]
		if !ok || fmt.Sprint(got) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}

// Links implements platform.Client.
func (c *Client) Links(_ context.Context, datasetID, name, recordID string) ([]platform.Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("links"); err != nil {
		return nil, err
	}
	m, err := c.model(datasetID, name)
	if err != nil {
		return nil, err
	}
	return append([]platform.Link(nil), m.links[recordID]...), nil
}

// CreateLinks implements platform.Client.
func (c *Client) CreateLinks(_ context.Context, datasetID, name, recordID string, links []platform.Link) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("createLinks"); err != nil {
		return err
	}
	m, err := c.model(datasetID, name)
	if err != nil {
		return err
	}
	if _, ok := m.records[recordID]; !ok {
		return errors.NewNotFoundError("record", recordID)
	}
	c.writes++
	for _, l := range links {
		if l.PropertyID == "" {
			l.PropertyID = m.info.Linked[l.Property]
		}
		m.links[recordID] = append(m.links[recordID], l)
	}
	return nil
}

// Relations implements platform.Client.
func (c *Client) Relations(_ context.Context, datasetID, recordID string) ([]platform.Relation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("relations"); err != nil {
		return nil, err
	}
	ds, ok := c.datasets[datasetID]
	if !ok {
		return nil, errors.NewNotFoundError("dataset", datasetID)
	}
	return append([]platform.Relation(nil), ds.relations[recordID]...), nil
}

// Relate implements platform.Client.
func (c *Client) Relate(_ context.Context, datasetID, _, recordID, name, _ string, targets []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("relate"); err != nil {
		return err
	}
	ds, ok := c.datasets[datasetID]
	if !ok {
		return errors.NewNotFoundError("dataset", datasetID)
	}
	c.writes++
	for _, to := range targets {
		ds.relations[recordID] = append(ds.relations[recordID], platform.Relation{Name: name, To: to})
	}
	return nil
}

var _ platform.Client = (*Client)(nil)
