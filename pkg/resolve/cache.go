package resolve

import (
	"sync"

	"github.com/sparctools/metasync/pkg/platform"
)

// Cache holds per-run resolution state for one dataset: resolved record ids,
// bulk-fetched record pages, and ensured models. A fresh cache is created
// for every dataset in every run; nothing survives across runs.
type Cache struct {
	mu      sync.Mutex
	ids     map[string]map[string]string // model -> local id -> record id
	records map[string][]platform.Record // model -> fetched records
	fetched map[string]bool
	models  map[string]platform.Model

	labelMu sync.Mutex
	labels  map[string]*sync.Mutex // model\x00label -> creation lock
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		ids:     make(map[string]map[string]string),
		records: make(map[string][]platform.Record),
		fetched: make(map[string]bool),
		models:  make(map[string]platform.Model),
		labels:  make(map[string]*sync.Mutex),
	}
}

// ID returns the cached record id for a local id within a model.
func (c *Cache) ID(model, localID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.ids[model][localID]
	return id, ok
}

// Put records a resolved local id to record id mapping.
func (c *Cache) Put(model, localID, recordID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byLocal, ok := c.ids[model]
	if !ok {
		byLocal = make(map[string]string)
		c.ids[model] = byLocal
	}
	byLocal[localID] = recordID
}

// Records returns the bulk-fetched records for a model and whether the
// fetch has happened yet.
func (c *Cache) Records(model string) ([]platform.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records[model], c.fetched[model]
}

// SetRecords stores the bulk-fetch result for a model.
func (c *Cache) SetRecords(model string, records []platform.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[model] = records
	c.fetched[model] = true
}

// Invalidate drops the bulk-fetch result for a model. Resolved ids are
// kept; callers re-register ids that survive reconciliation.
func (c *Cache) Invalidate(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, model)
	delete(c.fetched, model)
}

// Model returns the ensured platform model by name.
func (c *Cache) Model(name string) (platform.Model, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.models[name]
	return m, ok
}

// SetModel stores an ensured platform model.
func (c *Cache) SetModel(m platform.Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[m.Name] = m
}

// lockFor returns the mutex serializing placeholder creation for one label
// within one model, creating it on first use.
func (c *Cache) lockFor(model, label string) *sync.Mutex {
	c.labelMu.Lock()
	defer c.labelMu.Unlock()
	key := model + "\x00" + label
	mu, ok := c.labels[key]
	if !ok {
		mu = &sync.Mutex{}
		c.labels[key] = mu
	}
	return mu
}
