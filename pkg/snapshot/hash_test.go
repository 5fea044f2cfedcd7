package snapshot

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCollection() Collection {
	return Collection{
		"UBERON:0000955": newRecord(map[string]any{
			"labels": []any{"brain"},
			"curie":  "UBERON:0000955",
		}),
		"UBERON:0002240": newRecord(map[string]any{
			"labels": []any{"spinal cord"},
			"curie":  "UBERON:0002240",
		}),
	}
}

func TestHashCollectionStable(t *testing.T) {
	a := HashCollection(testCollection())
	b := HashCollection(testCollection())
	assert.Equal(t, a, b, "same content always hashes the same")
	assert.Len(t, a, 32, "md5 hex digest")
}

func TestHashCollectionSensitive(t *testing.T) {
	base := HashCollection(testCollection())

	changed := testCollection()
	changed["UBERON:0000955"] = newRecord(map[string]any{
		"labels": []any{"brain", "encephalon"},
		"curie":  "UBERON:0000955",
	})
	assert.NotEqual(t, base, HashCollection(changed), "any value change changes the hash")

	smaller := testCollection()
	delete(smaller, "UBERON:0002240")
	assert.NotEqual(t, base, HashCollection(smaller), "membership changes change the hash")

	assert.NotEqual(t, base, HashCollection(Collection{}))
	assert.Equal(t, HashCollection(Collection{}), HashCollection(nil), "empty and nil agree")
}

func TestHashRecordKeyOrderIrrelevant(t *testing.T) {
	// Maps iterate in random order; the digest must not depend on it.
	props := map[string]any{"a": 1.0, "b": "two", "c": []any{"x", "y"}, "d": nil}
	want := HashRecord(props)
	for i := 0; i < 20; i++ {
		assert.Equal(t, want, HashRecord(props))
	}
}

func TestHashTagsOrderMatters(t *testing.T) {
	// Tag lists are sorted at parse time, so array order is meaningful here.
	assert.NotEqual(t, HashTags([]string{"a", "b"}), HashTags([]string{"b", "a"}))
	assert.Equal(t, HashTags(nil), HashTags([]string{}))
}

func TestCanonicalGolden(t *testing.T) {
	v := map[string]any{
		"labels": []any{"brain", "Brain tissue"},
		"curie":  "UBERON:0000955",
		"count":  3.0,
		"flags":  map[string]any{"primary": true, "deprecated": false},
		"note":   nil,
	}
	got := Canonical(v)
	require.NotEmpty(t, got)

	g := goldie.New(t)
	g.Assert(t, "canonical_record", got)
}
