// Package entity holds the registry of entity types the sync engine knows
// how to reconcile. The registry is declared in an embedded YAML document
// and drives everything type-specific: model schemas, the projection from
// snapshot payloads to platform record values, identity-search keys, linked
// properties, and named relationships.
package entity

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"

	"github.com/sparctools/metasync/pkg/platform"
	"github.com/sparctools/metasync/pkg/snapshot"
)

//go:embed registry.yaml
var registryYAML []byte

// LedgerTagField is the ledger gate field for the dataset tag list, which is
// reconciled alongside the entity collections but is not an entity type.
const LedgerTagField = "tag"

// Property describes how one platform model property is populated from a
// snapshot payload.
type Property struct {
	Name        string `yaml:"name"`
	Display     string `yaml:"display"`
	Kind        string `yaml:"kind"` // "", "url", "date", "unitvalue"
	Title       bool   `yaml:"title"`
	Multi       bool   `yaml:"multi"`
	From        string `yaml:"from"`     // payload key, defaults to Name
	Fallback    string `yaml:"fallback"` // secondary payload key
	First       bool   `yaml:"first"`    // take the first element of a list value
	AsList      bool   `yaml:"asList"`   // wrap a scalar value into a list
	Default     string `yaml:"default"`
	FromLocalID bool   `yaml:"fromLocalId"` // value is the record's local id
}

// LinkSpec describes a schema-linked property pointing at another entity's
// records.
type LinkSpec struct {
	Property string `yaml:"property"`
	Display  string `yaml:"display"`
	Target   string `yaml:"target"`
	From     string `yaml:"from"`    // payload key, defaults to Property
	Extract  string `yaml:"extract"` // "subjectPath" extracts the id from a subject IRI
}

// Key returns the payload key the link value is read from.
func (l LinkSpec) Key() string {
	if l.From != "" {
		return l.From
	}
	return l.Property
}

// TargetLocalID converts one raw link value into the target record's local
// id. Subject links arrive as IRIs with a /subjects/ path segment.
func (l LinkSpec) TargetLocalID(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	if l.Extract == "subjectPath" {
		if i := strings.LastIndex(s, "/subjects/"); i >= 0 {
			return s[i+len("/subjects/"):]
		}
	}
	return s
}

// Targets returns the target local ids a record's payload names for this
// link.
func (l LinkSpec) Targets(props map[string]any) []string {
	var out []string
	for _, v := range valueList(lookup(props, l.Key())) {
		if id := l.TargetLocalID(v); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// RelationshipSpec describes a named relationship from this entity's records
// to another entity's records.
type RelationshipSpec struct {
	Name   string `yaml:"name"`
	Target string `yaml:"target"`
	From   string `yaml:"from"` // payload key, defaults to Name
}

// Key returns the payload key the relationship targets are read from.
func (r RelationshipSpec) Key() string {
	if r.From != "" {
		return r.From
	}
	return r.Name
}

// Targets returns the target local ids a record's payload names for this
// relationship.
func (r RelationshipSpec) Targets(props map[string]any) []string {
	var out []string
	for _, v := range valueList(lookup(props, r.Key())) {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Values returns a record's payload values under a key as a flat list.
// Scalars become single-element lists; missing keys yield nil.
func Values(props map[string]any, key string) []any {
	return valueList(lookup(props, key))
}

// SearchKey describes one field-equality clause of the identity search used
// when a record is not in the resolution cache.
type SearchKey struct {
	Property        string `yaml:"property"`
	From            string `yaml:"from"` // payload key, defaults to Property
	First           bool   `yaml:"first"`
	Default         string `yaml:"default"`
	UseLocalID      bool   `yaml:"useLocalId"`      // value is the local id itself
	FallbackLocalID bool   `yaml:"fallbackLocalId"` // fall back to the local id when the payload value is missing
}

// Discriminator splits a snapshot collection across model variants by
// comparing one payload property against a fixed value.
type Discriminator struct {
	Property string `yaml:"property"`
	Value    string `yaml:"value"`
}

// ReferenceSpec marks a payload property whose DOI values are registered as
// external references on the dataset.
type ReferenceSpec struct {
	From         string `yaml:"from"`
	Relationship string `yaml:"relationship"`
}

// Type is one entity type: a platform model plus the rules for projecting,
// resolving, and linking its records. Types with variants (subject) are
// reconciled per variant model but gated by a single ledger field.
type Type struct {
	Name          string             `yaml:"name"`
	Display       string             `yaml:"display"`
	Order         int                `yaml:"order"`
	TermLike      bool               `yaml:"termLike"` // placeholder creation allowed
	Singleton     bool               `yaml:"singleton"`
	Enrich        bool               `yaml:"enrich"` // award enrichment applies
	AttachFiles   bool               `yaml:"attachFiles"`
	LocalOnly     bool               `yaml:"localOnly"` // resolution never falls through to remote search
	Match         bool               `yaml:"match"`     // variant: keep records matching the discriminator
	Discriminator *Discriminator     `yaml:"discriminator"`
	Properties    []Property         `yaml:"properties"`
	Links         []LinkSpec         `yaml:"links"`
	Relationships []RelationshipSpec `yaml:"relationships"`
	Search        []SearchKey        `yaml:"search"`
	References    *ReferenceSpec     `yaml:"references"`
	Variants      []*Type            `yaml:"variants"`
	LinkWhen      []string           `yaml:"linkWhen"`

	parent string
}

// Registry is the full set of entity types, in reconciliation order.
type Registry struct {
	Types []*Type `yaml:"types"`

	byName map[string]*Type
}

var (
	loadOnce sync.Once
	shared   *Registry
	loadErr  error
)

// Load parses the embedded registry. The result is shared and must not be
// mutated.
func Load() (*Registry, error) {
	loadOnce.Do(func() {
		shared, loadErr = Parse(registryYAML)
	})
	return shared, loadErr
}

// Parse decodes a registry document and resolves variant inheritance.
func Parse(data []byte) (*Registry, error) {
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse entity registry: %w", err)
	}

	reg.byName = make(map[string]*Type)
	for _, t := range reg.Types {
		reg.byName[t.Name] = t
		for _, v := range t.Variants {
			v.parent = t.Name
			v.Discriminator = t.Discriminator
			if len(v.LinkWhen) == 0 {
				v.LinkWhen = t.LinkWhen
			}
			reg.byName[v.Name] = v
		}
	}

	sort.SliceStable(reg.Types, func(i, j int) bool {
		return reg.Types[i].Order < reg.Types[j].Order
	})
	return &reg, nil
}

// Ordered returns the top-level types in reconciliation order.
func (r *Registry) Ordered() []*Type {
	return r.Types
}

// Get returns the type or variant with the given model name.
func (r *Registry) Get(name string) (*Type, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// LedgerFields returns the ledger gate fields in reconciliation order,
// ending with the tag field. Variants share their parent's field.
func (r *Registry) LedgerFields() []string {
	fields := make([]string, 0, len(r.Types)+1)
	for _, t := range r.Types {
		fields = append(fields, t.Name)
	}
	return append(fields, LedgerTagField)
}

// TargetModels maps a link-target entity name to the platform models its
// records can live in. Subject links may resolve to either subject variant.
func (r *Registry) TargetModels(name string) []string {
	t, ok := r.byName[name]
	if !ok {
		return []string{name}
	}
	if len(t.Variants) == 0 {
		return []string{t.Name}
	}
	models := make([]string, 0, len(t.Variants))
	for _, v := range t.Variants {
		models = append(models, v.Name)
	}
	return models
}

// SnapshotName maps a platform model name back to the snapshot entity name
// its records are projected from.
func (r *Registry) SnapshotName(model string) string {
	if t, ok := r.byName[model]; ok && t.parent != "" {
		return t.parent
	}
	return model
}

// Models returns the platform model types reconciled for this entity: the
// variants when the type has any, otherwise the type itself.
func (t *Type) Models() []*Type {
	if len(t.Variants) > 0 {
		return t.Variants
	}
	return []*Type{t}
}

// Source returns the snapshot entity name this type's records come from.
func (t *Type) Source() string {
	if t.parent != "" {
		return t.parent
	}
	return t.Name
}

// Filter returns the subset of a snapshot collection belonging to this
// model, applying the variant discriminator when one is set.
func (t *Type) Filter(col snapshot.Collection) snapshot.Collection {
	if t.Discriminator == nil {
		return col
	}
	out := make(snapshot.Collection, len(col))
	for localID, rec := range col {
		v, _ := lookup(rec.Properties, t.Discriminator.Property).(string)
		matched := strings.EqualFold(strings.TrimSpace(v), t.Discriminator.Value)
		if matched == t.Match {
			out[localID] = rec
		}
	}
	return out
}

// Transform projects a snapshot record into the value map for a platform
// record of this model, including the content hash.
func (t *Type) Transform(localID string, rec snapshot.Record) map[string]any {
	values := make(map[string]any, len(t.Properties)+1)
	for _, p := range t.Properties {
		if v := p.value(localID, rec.Properties); v != nil {
			values[p.Name] = v
		}
	}
	values[platform.RecordHashProperty] = rec.Hash
	return values
}

func (p Property) value(localID string, props map[string]any) any {
	if p.FromLocalID {
		return localID
	}
	key := p.From
	if key == "" {
		key = p.Name
	}
	raw := lookup(props, key)
	if raw == nil && p.Fallback != "" {
		raw = lookup(props, p.Fallback)
	}
	if p.First {
		raw = firstElement(raw)
	}
	if p.Kind == "unitvalue" {
		raw = unitValue(raw)
	}
	if p.AsList {
		raw = asList(raw)
	}
	if raw == nil && p.Default != "" {
		return p.Default
	}
	return raw
}

// SearchFilters builds the structured-search clauses that identify this
// record remotely. Returns nil when the type defines no usable search.
func (t *Type) SearchFilters(localID string, rec snapshot.Record) []platform.SearchFilter {
	if t.Singleton {
		// The singleton is identified by being the only record.
		return []platform.SearchFilter{}
	}
	if len(t.Search) == 0 {
		return nil
	}
	filters := make([]platform.SearchFilter, 0, len(t.Search))
	for _, k := range t.Search {
		v := k.value(localID, rec.Properties)
		if v == nil {
			continue
		}
		filters = append(filters, platform.SearchFilter{Property: k.Property, Value: v})
	}
	if len(filters) == 0 {
		return nil
	}
	return filters
}

func (k SearchKey) value(localID string, props map[string]any) any {
	if k.UseLocalID {
		return localID
	}
	key := k.From
	if key == "" {
		key = k.Property
	}
	raw := lookup(props, key)
	if k.First {
		raw = firstElement(raw)
	}
	if raw == nil && k.FallbackLocalID {
		return localID
	}
	if raw == nil && k.Default != "" {
		return k.Default
	}
	return raw
}

// Matches reports whether a remote record satisfies all search filters,
// comparing values by their string form.
func Matches(rec platform.Record, filters []platform.SearchFilter) bool {
	for _, f := range filters {
		got, ok := rec.Values[f.Property]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}

// ModelDefinition builds the platform schema for this model, including the
// reserved content-hash property and schema-linked properties.
func (t *Type) ModelDefinition() platform.ModelDefinition {
	def := platform.ModelDefinition{Name: t.Name, Display: t.Display}
	for _, p := range t.Properties {
		def.Properties = append(def.Properties, platform.Property{
			Name:     p.Name,
			Display:  p.Display,
			DataType: p.Kind,
			Title:    p.Title,
			Multi:    p.Multi,
		})
	}
	def.Properties = append(def.Properties, platform.Property{
		Name:    platform.RecordHashProperty,
		Display: "Record hash",
	})
	for _, l := range t.Links {
		def.Linked = append(def.Linked, platform.LinkedProperty{
			Name:    l.Property,
			Display: l.Display,
			Target:  l.Target,
		})
	}
	return def
}

// Placeholder returns the property payload of a placeholder record for a
// term-like type. The local id is stored under the title property's source
// key, so projection and identity search both see it as the label and later
// runs find the record instead of creating another.
func (t *Type) Placeholder(localID string) snapshot.Record {
	props := map[string]any{}
	for _, p := range t.Properties {
		if !p.Title {
			continue
		}
		key := p.From
		if key == "" {
			key = p.Name
		}
		var v any = localID
		if p.First || p.Multi {
			v = []any{localID}
		}
		props[key] = v
		break
	}
	return snapshot.Record{Properties: props, Hash: snapshot.HashRecord(props)}
}

// lookup reads a payload value by key. Keys containing a slash that is not
// part of a literal top-level key are walked as nested-map paths, which is
// how the projector nests unprocessed values under "raw".
func lookup(props map[string]any, key string) any {
	if v, ok := props[key]; ok {
		return v
	}
	if !strings.Contains(key, "/") {
		return nil
	}
	var cur any = props
	for _, seg := range strings.Split(key, "/") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

func firstElement(v any) any {
	switch val := v.(type) {
	case []any:
		if len(val) == 0 {
			return nil
		}
		return val[0]
	case []string:
		if len(val) == 0 {
			return nil
		}
		return val[0]
	default:
		return v
	}
}

func valueList(v any) []any {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		return val
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

func asList(v any) any {
	switch v.(type) {
	case nil:
		return nil
	case []any, []string:
		return v
	default:
		return []any{v}
	}
}

// unitValue flattens a {value, unit} pair into its display string. Scalar
// values pass through unchanged.
func unitValue(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	val, hasVal := m["value"]
	unit, hasUnit := m["unit"]
	switch {
	case hasVal && hasUnit:
		return strings.TrimSpace(fmt.Sprintf("%v %v", val, unit))
	case hasVal:
		return val
	default:
		return v
	}
}
