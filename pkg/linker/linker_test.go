package linker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparctools/metasync/pkg/entity"
	"github.com/sparctools/metasync/pkg/platform"
	"github.com/sparctools/metasync/pkg/platform/memory"
	"github.com/sparctools/metasync/pkg/resolve"
	"github.com/sparctools/metasync/pkg/snapshot"
)

const dsID = "ds-1"

type fixture struct {
	client   *memory.Client
	registry *entity.Registry
	resolver *resolve.Resolver
	builder  *Builder
}

func setup(t *testing.T, doc *snapshot.Document) *fixture {
	t.Helper()
	reg, err := entity.Load()
	require.NoError(t, err)

	client := memory.New()
	ctx := context.Background()
	_, err = client.GetOrCreateDataset(ctx, dsID)
	require.NoError(t, err)
	for _, typ := range reg.Ordered() {
		for _, m := range typ.Models() {
			_, err := client.GetOrCreateModel(ctx, dsID, m.ModelDefinition())
			require.NoError(t, err)
		}
	}

	resolver := resolve.New(client, reg, dsID, doc)
	return &fixture{
		client:   client,
		registry: reg,
		resolver: resolver,
		builder:  New(client, reg, resolver, dsID, doc),
	}
}

func create(t *testing.T, f *fixture, model string, values map[string]any) string {
	t.Helper()
	ids, err := f.client.CreateRecords(context.Background(), dsID, model, []map[string]any{values})
	require.NoError(t, err)
	return ids[0]
}

func subjectDoc() *snapshot.Document {
	return &snapshot.Document{Entities: map[string]snapshot.Collection{
		"subject": {
			"sub-1": {
				Properties: map[string]any{
					"animalSubjectIsOfSpecies": "Rattus norvegicus",
					"hasBiologicalSex":         "PATO:0000384",
					"hasAgeCategory":           "UBERON:0000113",
				},
				Hash: "hsub1",
			},
		},
		"term": {
			"PATO:0000384":   {Properties: map[string]any{"labels": []any{"male"}}, Hash: "ht1"},
			"UBERON:0000113": {Properties: map[string]any{"labels": []any{"adult"}}, Hash: "ht2"},
		},
	}}
}

func TestApplySubjectLinks(t *testing.T) {
	doc := subjectDoc()
	f := setup(t, doc)
	ctx := context.Background()

	subID := create(t, f, "animal_subject", map[string]any{"localId": "sub-1", platform.RecordHashProperty: "hsub1"})
	sexID := create(t, f, "term", map[string]any{"label": "male", platform.RecordHashProperty: "ht1"})
	ageID := create(t, f, "term", map[string]any{"label": "adult", platform.RecordHashProperty: "ht2"})
	f.resolver.Cache().Put("term", "PATO:0000384", sexID)
	f.resolver.Cache().Put("term", "UBERON:0000113", ageID)

	animal, _ := f.registry.Get("animal_subject")
	require.NoError(t, f.builder.Apply(ctx, animal))

	links, err := f.client.Links(ctx, dsID, "animal_subject", subID)
	require.NoError(t, err)
	require.Len(t, links, 3, "species link plus sex and age category")

	byProp := map[string]string{}
	for _, l := range links {
		byProp[l.Property] = l.To
	}
	assert.Equal(t, sexID, byProp["hasBiologicalSex"])
	assert.Equal(t, ageID, byProp["hasAgeCategory"])
	assert.NotEmpty(t, byProp["animalSubjectIsOfSpecies"], "species resolved via placeholder")
}

func TestApplyIsReentrant(t *testing.T) {
	doc := subjectDoc()
	f := setup(t, doc)
	ctx := context.Background()

	subID := create(t, f, "animal_subject", map[string]any{"localId": "sub-1", platform.RecordHashProperty: "hsub1"})
	sexID := create(t, f, "term", map[string]any{"label": "male", platform.RecordHashProperty: "ht1"})
	ageID := create(t, f, "term", map[string]any{"label": "adult", platform.RecordHashProperty: "ht2"})
	f.resolver.Cache().Put("term", "PATO:0000384", sexID)
	f.resolver.Cache().Put("term", "UBERON:0000113", ageID)

	animal, _ := f.registry.Get("animal_subject")
	require.NoError(t, f.builder.Apply(ctx, animal))
	first, err := f.client.Links(ctx, dsID, "animal_subject", subID)
	require.NoError(t, err)

	// A resumed run applies again; nothing is duplicated.
	require.NoError(t, f.builder.Apply(ctx, animal))
	second, err := f.client.Links(ctx, dsID, "animal_subject", subID)
	require.NoError(t, err)
	assert.Len(t, second, len(first))
}

func TestUnresolvedTargetIsDropped(t *testing.T) {
	doc := &snapshot.Document{Entities: map[string]snapshot.Collection{
		"sample": {
			"sam-1": {
				Properties: map[string]any{
					"localId":               "sam-1",
					"wasDerivedFromSubject": "https://example.org/ds/subjects/sub-404",
				},
				Hash: "hsam1",
			},
		},
	}}
	f := setup(t, doc)
	ctx := context.Background()

	samID := create(t, f, "sample", map[string]any{"id": "sam-1", "label": "sam-1", platform.RecordHashProperty: "hsam1"})

	sample, _ := f.registry.Get("sample")
	require.NoError(t, f.builder.Apply(ctx, sample), "unresolved subject is a warning, not an error")

	links, err := f.client.Links(ctx, dsID, "sample", samID)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestApplySummaryRelationships(t *testing.T) {
	doc := &snapshot.Document{Entities: map[string]snapshot.Collection{
		"summary": {
			snapshot.EntitySummary: {
				Properties: map[string]any{
					"title":                    "Study",
					"hasAwardNumber":           "AW-1",
					"hasContactPerson":         []any{"r-1"},
					"protocolEmploysTechnique": []any{"NLX:1"},
				},
				Hash: "hsum",
			},
		},
		"award": {
			"AW-1": {Properties: map[string]any{"awardId": "AW-1"}, Hash: "ha"},
		},
		"researcher": {
			"r-1": {Properties: map[string]any{"lastName": "Smith", "firstName": "Ada"}, Hash: "hr"},
		},
	}}
	f := setup(t, doc)
	ctx := context.Background()

	sumID := create(t, f, "summary", map[string]any{"title": "Study", platform.RecordHashProperty: "hsum"})
	awardID := create(t, f, "award", map[string]any{"award_id": "AW-1", platform.RecordHashProperty: "ha"})
	resID := create(t, f, "researcher", map[string]any{"lastName": "Smith", "firstName": "Ada", platform.RecordHashProperty: "hr"})
	f.resolver.Cache().Put("award", "AW-1", awardID)
	f.resolver.Cache().Put("researcher", "r-1", resID)

	summary, _ := f.registry.Get("summary")
	require.NoError(t, f.builder.Apply(ctx, summary))

	links, err := f.client.Links(ctx, dsID, "summary", sumID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "hasAwardNumber", links[0].Property)
	assert.Equal(t, awardID, links[0].To)

	relations, err := f.client.Relations(ctx, dsID, sumID)
	require.NoError(t, err)

	byName := map[string][]string{}
	for _, rel := range relations {
		byName[rel.Name] = append(byName[rel.Name], rel.To)
	}
	assert.Equal(t, []string{resID}, byName["hasContactPerson"])
	assert.Len(t, byName["protocolEmploysTechnique"], 1, "unknown technique term is placeheld")
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"hasContactPerson", "Has Contact Person"},
		{"isAbout", "Is About"},
		{"involvesAnatomicalRegion", "Involves Anatomical Region"},
		{"http://purl.obolibrary.org/obo/IAO_0000136", "http://purl.obolibrary.org/obo/IAO_0000136"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayName(tt.name))
		})
	}
}
