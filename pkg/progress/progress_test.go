package progress

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreshRunTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	require.NoError(t, os.WriteFile(path, []byte(`["ds-1","ds-2"]`), 0o644))

	l, err := Open(path, false)
	require.NoError(t, err)
	assert.False(t, l.Done("ds-1"), "fresh runs forget previous progress")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data), "file is truncated immediately")
}

func TestResumeLoadsCompleted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	require.NoError(t, os.WriteFile(path, []byte(`["ds-2","ds-1"]`), 0o644))

	l, err := Open(path, true)
	require.NoError(t, err)
	assert.True(t, l.Done("ds-1"))
	assert.True(t, l.Done("ds-2"))
	assert.False(t, l.Done("ds-3"))
	assert.Equal(t, []string{"ds-1", "ds-2"}, l.Completed())
}

func TestResumeMissingFile(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "none.json"), true)
	require.NoError(t, err)
	assert.False(t, l.Done("ds-1"))
}

func TestMarkDonePersistsEachTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	l, err := Open(path, false)
	require.NoError(t, err)

	require.NoError(t, l.MarkDone("ds-3"))
	require.NoError(t, l.MarkDone("ds-1"))
	require.NoError(t, l.MarkDone("ds-1"), "marking twice is a no-op")

	// Reopen as a resumed run sees exactly what was marked.
	resumed, err := Open(path, true)
	require.NoError(t, err)
	assert.True(t, resumed.Done("ds-3"))
	assert.True(t, resumed.Done("ds-1"))
	assert.Equal(t, []string{"ds-1", "ds-3"}, resumed.Completed())
}

func TestFileIsAlwaysValidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	l, err := Open(path, false)
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, l.MarkDone(id))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var ids []string
		require.NoError(t, json.Unmarshal(data, &ids), "file is complete after every mark")
	}
}

func TestCorruptFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	_, err := Open(path, true)
	assert.Error(t, err)
}
