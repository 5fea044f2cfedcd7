package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `{
	"ds-2": {
		"term": {
			"UBERON:0000955": {"labels": ["brain"], "curie": "UBERON:0000955"}
		},
		"summary": {"title": "Test study", "hasNumberOfSubjects": 2},
		"tag": ["zeta", "alpha"]
	},
	"ds-1": {
		"term": {},
		"summary": {}
	}
}`

func TestParse(t *testing.T) {
	snap, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)
	require.Len(t, snap, 2)

	assert.Equal(t, []string{"ds-1", "ds-2"}, snap.DatasetIDs())

	doc := snap["ds-2"]
	require.NotNil(t, doc)
	assert.Equal(t, []string{"alpha", "zeta"}, doc.Tags, "tags are sorted on load")

	terms := doc.Collection("term")
	require.Len(t, terms, 1)
	rec := terms["UBERON:0000955"]
	assert.NotEmpty(t, rec.Hash)
	assert.Equal(t, "UBERON:0000955", rec.Properties["curie"])
}

func TestParseSummarySingleton(t *testing.T) {
	snap, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	col := snap["ds-2"].Collection(EntitySummary)
	require.Len(t, col, 1, "summary becomes a singleton collection")
	rec, ok := col[EntitySummary]
	require.True(t, ok)
	assert.Equal(t, "Test study", rec.Properties["title"])

	assert.Empty(t, snap["ds-1"].Collection(EntitySummary), "empty summary stays empty")
}

func TestParseSuppliedHash(t *testing.T) {
	snap, err := Parse([]byte(`{"ds": {"term": {"x": {"labels": ["x"], "hash": "abc123"}}}}`))
	require.NoError(t, err)

	rec := snap["ds"].Collection("term")["x"]
	assert.Equal(t, "abc123", rec.Hash, "projector-supplied hash wins")
	_, ok := rec.Properties["hash"]
	assert.False(t, ok, "hash is not a property")
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse([]byte(`{"ds": {"term": 12}}`))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleDoc), 0o644))

	snap, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, snap, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestMissingCollectionIsNil(t *testing.T) {
	snap, err := Parse([]byte(`{"ds": {"term": {}}}`))
	require.NoError(t, err)
	assert.Nil(t, snap["ds"].Collection("sample"))

	var doc *Document
	assert.Nil(t, doc.Collection("term"), "nil document is safe")
}
