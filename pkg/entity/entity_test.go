package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparctools/metasync/pkg/platform"
	"github.com/sparctools/metasync/pkg/snapshot"
)

func loadRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := Load()
	require.NoError(t, err)
	return reg
}

func TestRegistryOrder(t *testing.T) {
	reg := loadRegistry(t)

	var names []string
	for _, typ := range reg.Ordered() {
		names = append(names, typ.Name)
	}
	assert.Equal(t, []string{"term", "award", "protocol", "researcher", "subject", "sample", "summary"}, names)
}

func TestLedgerFields(t *testing.T) {
	reg := loadRegistry(t)
	fields := reg.LedgerFields()
	assert.Equal(t, "term", fields[0])
	assert.Equal(t, LedgerTagField, fields[len(fields)-1])
	assert.Contains(t, fields, "subject")
	assert.NotContains(t, fields, "human_subject", "variants share the parent field")
}

func TestSubjectVariants(t *testing.T) {
	reg := loadRegistry(t)

	subject, ok := reg.Get("subject")
	require.True(t, ok)
	models := subject.Models()
	require.Len(t, models, 2)
	assert.Equal(t, "human_subject", models[0].Name)
	assert.Equal(t, "animal_subject", models[1].Name)

	human, ok := reg.Get("human_subject")
	require.True(t, ok)
	assert.Equal(t, "subject", human.Source())
	assert.True(t, human.LocalOnly)

	assert.Equal(t, []string{"human_subject", "animal_subject"}, reg.TargetModels("subject"))
	assert.Equal(t, []string{"term"}, reg.TargetModels("term"))
	assert.Equal(t, "subject", reg.SnapshotName("animal_subject"))
	assert.Equal(t, "term", reg.SnapshotName("term"))
}

func TestVariantFilter(t *testing.T) {
	reg := loadRegistry(t)

	col := snapshot.Collection{
		"sub-1": {Properties: map[string]any{"animalSubjectIsOfSpecies": "Homo sapiens"}},
		"sub-2": {Properties: map[string]any{"animalSubjectIsOfSpecies": "Rattus norvegicus"}},
		"sub-3": {Properties: map[string]any{}},
	}

	human, _ := reg.Get("human_subject")
	animal, _ := reg.Get("animal_subject")

	humans := human.Filter(col)
	require.Len(t, humans, 1)
	assert.Contains(t, humans, "sub-1", "species comparison ignores case")

	animals := animal.Filter(col)
	assert.Len(t, animals, 2, "missing species counts as non-human")
}

func TestTransformTerm(t *testing.T) {
	reg := loadRegistry(t)
	term, _ := reg.Get("term")

	rec := snapshot.Record{
		Properties: map[string]any{
			"labels":   []any{"brain", "encephalon"},
			"curie":    "UBERON:0000955",
			"synonyms": []any{"the brain"},
		},
		Hash: "deadbeef",
	}
	values := term.Transform("UBERON:0000955", rec)

	assert.Equal(t, "brain", values["label"], "label takes the first of labels")
	assert.Equal(t, "UBERON:0000955", values["curie"])
	assert.Equal(t, "deadbeef", values[platform.RecordHashProperty])
	_, ok := values["abbreviations"]
	assert.False(t, ok, "absent payload values stay absent")
}

func TestTransformDefaults(t *testing.T) {
	reg := loadRegistry(t)
	term, _ := reg.Get("term")

	values := term.Transform("T:1", snapshot.Record{Properties: map[string]any{}, Hash: "h"})
	assert.Equal(t, "(no label)", values["label"])
}

func TestTransformLocalID(t *testing.T) {
	reg := loadRegistry(t)
	sample, _ := reg.Get("sample")

	rec := snapshot.Record{Properties: map[string]any{"localId": "sam-7"}, Hash: "h"}
	values := sample.Transform("sam-7", rec)
	assert.Equal(t, "sam-7", values["id"], "id comes from the collection key")
	assert.Equal(t, "sam-7", values["label"])
}

func TestTransformUnitValue(t *testing.T) {
	reg := loadRegistry(t)
	human, _ := reg.Get("human_subject")

	rec := snapshot.Record{
		Properties: map[string]any{
			"subjectHasWeight": map[string]any{"value": 72.5, "unit": "kg"},
			"hasAge":           map[string]any{"value": 34.0},
		},
		Hash: "h",
	}
	values := human.Transform("sub-1", rec)
	assert.Equal(t, "72.5 kg", values["subjectHasWeight"])
	assert.Equal(t, 34.0, values["hasAge"], "unit-less pairs keep the bare value")
}

func TestTransformNestedRaw(t *testing.T) {
	reg := loadRegistry(t)
	sample, _ := reg.Get("sample")

	rec := snapshot.Record{
		Properties: map[string]any{
			"raw": map[string]any{
				"wasExtractedFromAnatomicalRegion": []any{"UBERON:0000955"},
			},
		},
		Hash: "h",
	}
	values := sample.Transform("sam-1", rec)
	assert.Equal(t, []any{"UBERON:0000955"}, values["extractedFrom"])
}

func TestSearchFilters(t *testing.T) {
	reg := loadRegistry(t)

	t.Run("term falls back to local id", func(t *testing.T) {
		term, _ := reg.Get("term")
		filters := term.SearchFilters("UBERON:1", snapshot.Record{Properties: map[string]any{}})
		require.Len(t, filters, 1)
		assert.Equal(t, platform.SearchFilter{Property: "label", Value: "UBERON:1"}, filters[0])
	})

	t.Run("researcher uses both names", func(t *testing.T) {
		researcher, _ := reg.Get("researcher")
		rec := snapshot.Record{Properties: map[string]any{"lastName": "Smith", "firstName": "Ada"}}
		filters := researcher.SearchFilters("r1", rec)
		require.Len(t, filters, 2)
		assert.Equal(t, "lastName", filters[0].Property)
		assert.Equal(t, "firstName", filters[1].Property)
	})

	t.Run("subject searches on local id only", func(t *testing.T) {
		human, _ := reg.Get("human_subject")
		filters := human.SearchFilters("sub-9", snapshot.Record{Properties: map[string]any{"x": 1}})
		require.Len(t, filters, 1)
		assert.Equal(t, platform.SearchFilter{Property: "localId", Value: "sub-9"}, filters[0])
	})

	t.Run("summary is a singleton", func(t *testing.T) {
		summary, _ := reg.Get("summary")
		filters := summary.SearchFilters("summary", snapshot.Record{})
		require.NotNil(t, filters)
		assert.Empty(t, filters, "empty filter set matches the only record")
	})

	t.Run("protocol has no search", func(t *testing.T) {
		protocol, _ := reg.Get("protocol")
		assert.Nil(t, protocol.SearchFilters("p1", snapshot.Record{}))
	})
}

func TestMatches(t *testing.T) {
	rec := platform.Record{Values: map[string]any{"label": "brain", "curie": "U:1"}}
	assert.True(t, Matches(rec, []platform.SearchFilter{{Property: "label", Value: "brain"}}))
	assert.False(t, Matches(rec, []platform.SearchFilter{{Property: "label", Value: "liver"}}))
	assert.False(t, Matches(rec, []platform.SearchFilter{{Property: "missing", Value: "x"}}))
	assert.True(t, Matches(rec, nil), "no filters match anything")
}

func TestLinkSpecTargets(t *testing.T) {
	reg := loadRegistry(t)
	sample, _ := reg.Get("sample")
	require.Len(t, sample.Links, 1)
	spec := sample.Links[0]

	props := map[string]any{
		"wasDerivedFromSubject": "https://example.org/dataset/ds1/subjects/sub-12",
	}
	assert.Equal(t, []string{"sub-12"}, spec.Targets(props))

	assert.Empty(t, spec.Targets(map[string]any{}))
}

func TestRelationshipTargets(t *testing.T) {
	reg := loadRegistry(t)
	summary, _ := reg.Get("summary")

	var isAbout *RelationshipSpec
	for i := range summary.Relationships {
		if summary.Relationships[i].Name == "isAbout" {
			isAbout = &summary.Relationships[i]
		}
	}
	require.NotNil(t, isAbout)

	props := map[string]any{
		"http://purl.obolibrary.org/obo/IAO_0000136": []any{"UBERON:1", "UBERON:2"},
	}
	assert.Equal(t, []string{"UBERON:1", "UBERON:2"}, isAbout.Targets(props))
}

func TestModelDefinition(t *testing.T) {
	reg := loadRegistry(t)
	human, _ := reg.Get("human_subject")

	def := human.ModelDefinition()
	assert.Equal(t, "human_subject", def.Name)

	var names []string
	for _, p := range def.Properties {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, platform.RecordHashProperty)
	assert.Contains(t, names, "localId")

	require.NotEmpty(t, def.Linked)
	assert.Equal(t, "hasBiologicalSex", def.Linked[0].Name)
	assert.Equal(t, "term", def.Linked[0].Target)
}

func TestPlaceholder(t *testing.T) {
	reg := loadRegistry(t)
	term, _ := reg.Get("term")
	require.True(t, term.TermLike)

	rec := term.Placeholder("UBERON:404")
	assert.NotEmpty(t, rec.Hash)

	// The projection must surface the local id as the label, not fall
	// through to the default.
	values := term.Transform("UBERON:404", rec)
	assert.Equal(t, "UBERON:404", values["label"])

	// Identity search over the placeholder payload filters on that same
	// label, so the record is findable on later runs.
	filters := term.SearchFilters("UBERON:404", rec)
	require.Len(t, filters, 1)
	assert.Equal(t, "label", filters[0].Property)
	assert.Equal(t, "UBERON:404", filters[0].Value)
}
