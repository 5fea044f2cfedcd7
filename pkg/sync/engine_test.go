package sync

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparctools/metasync/pkg/entity"
	"github.com/sparctools/metasync/pkg/errors"
	"github.com/sparctools/metasync/pkg/platform"
	"github.com/sparctools/metasync/pkg/platform/memory"
	"github.com/sparctools/metasync/pkg/progress"
	"github.com/sparctools/metasync/pkg/snapshot"
)

const snapshotDoc = `{
	"ds-1": {
		"term": {
			"UBERON:0000955": {"labels": ["brain"], "curie": "UBERON:0000955"},
			"PATO:0000384": {"labels": ["male"]},
			"NCBITaxon:10116": {"labels": ["Rattus norvegicus"]}
		},
		"award": {
			"AW-1": {"awardId": "AW-1"}
		},
		"researcher": {
			"r-1": {"lastName": "Smith", "firstName": "Ada"}
		},
		"subject": {
			"sub-1": {"animalSubjectIsOfSpecies": "homo sapiens", "hasBiologicalSex": "PATO:0000384"},
			"sub-2": {"animalSubjectIsOfSpecies": "Rattus norvegicus"}
		},
		"sample": {
			"sam-1": {"localId": "sam-1", "wasDerivedFromSubject": "https://example.org/ds-1/subjects/sub-1"}
		},
		"summary": {"title": "Study one", "hasAwardNumber": "AW-1", "hasContactPerson": ["r-1"]},
		"tag": ["neuro"]
	},
	"ds-2": {
		"term": {
			"UBERON:0002240": {"labels": ["spinal cord"]}
		},
		"summary": {"title": "Study two"}
	}
}`

type testEnv struct {
	client *memory.Client
	opts   Options
	snap   snapshot.Snapshot
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	snap, err := snapshot.Parse([]byte(snapshotDoc))
	require.NoError(t, err)
	return &testEnv{
		client: memory.New(),
		snap:   snap,
		opts: Options{
			ProgressFile:  filepath.Join(t.TempDir(), "progress.json"),
			LedgerDataset: "tracking",
		},
	}
}

func (e *testEnv) run(t *testing.T) *Result {
	t.Helper()
	engine, err := New(e.client, e.opts)
	require.NoError(t, err)
	res, err := engine.Run(context.Background(), e.snap)
	require.NoError(t, err)
	return res
}

func records(t *testing.T, client *memory.Client, dataset, model string) []platform.Record {
	t.Helper()
	recs, err := client.Records(context.Background(), dataset, model, 0, 0)
	require.NoError(t, err)
	return recs
}

func TestFirstRunCreatesEverything(t *testing.T) {
	env := newEnv(t)
	res := env.run(t)

	require.Len(t, res.Datasets, 2)
	assert.Empty(t, res.FailedDatasets())
	for i := range res.Datasets {
		assert.True(t, res.Datasets[i].Changed())
	}

	assert.Len(t, records(t, env.client, "ds-1", "term"), 3)
	assert.Len(t, records(t, env.client, "ds-1", "award"), 1)
	assert.Len(t, records(t, env.client, "ds-1", "human_subject"), 1)
	assert.Len(t, records(t, env.client, "ds-1", "animal_subject"), 1)
	assert.Len(t, records(t, env.client, "ds-1", "sample"), 1)
	assert.Len(t, records(t, env.client, "ds-1", "summary"), 1)
	assert.Equal(t, []string{"neuro"}, env.client.Tags("ds-1"))

	// The ds-2 snapshot has no tags, so the default applies.
	assert.Equal(t, []string{DefaultTag}, env.client.Tags("ds-2"))

	// Created records carry their content hash.
	for _, rec := range records(t, env.client, "ds-1", "term") {
		assert.NotEmpty(t, rec.Hash())
	}
}

func TestFirstRunWiresLinks(t *testing.T) {
	env := newEnv(t)
	env.run(t)
	ctx := context.Background()

	samples := records(t, env.client, "ds-1", "sample")
	require.Len(t, samples, 1)
	humans := records(t, env.client, "ds-1", "human_subject")
	require.Len(t, humans, 1)

	links, err := env.client.Links(ctx, "ds-1", "sample", samples[0].ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "wasDerivedFromSubject", links[0].Property)
	assert.Equal(t, humans[0].ID, links[0].To)

	summaries := records(t, env.client, "ds-1", "summary")
	require.Len(t, summaries, 1)
	relations, err := env.client.Relations(ctx, "ds-1", summaries[0].ID)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.Equal(t, "hasContactPerson", relations[0].Name)
}

func TestSecondRunIsFree(t *testing.T) {
	env := newEnv(t)
	env.run(t)

	env.client.ResetWrites()
	res := env.run(t)

	assert.Empty(t, res.FailedDatasets())
	for i := range res.Datasets {
		assert.False(t, res.Datasets[i].Changed())
		for field, state := range res.Datasets[i].States {
			assert.Equal(t, StateUnchanged, state, field)
		}
	}
	// The only write of an all-unchanged run is its own run record.
	assert.Equal(t, 1, env.client.Writes())
}

func TestChangedRecordIsReplaced(t *testing.T) {
	env := newEnv(t)
	env.run(t)

	before := records(t, env.client, "ds-1", "term")
	require.Len(t, before, 3)
	keptHashes := map[string]bool{}
	for _, rec := range before {
		keptHashes[rec.Hash()] = true
	}

	// One term gains a synonym; the other is untouched.
	env.snap["ds-1"].Entities["term"]["UBERON:0000955"] = snapshot.Record{
		Properties: map[string]any{"labels": []any{"brain"}, "curie": "UBERON:0000955", "synonyms": []any{"encephalon"}},
		Hash:       snapshot.HashRecord(map[string]any{"labels": []any{"brain"}, "curie": "UBERON:0000955", "synonyms": []any{"encephalon"}}),
	}

	res := env.run(t)
	require.Empty(t, res.FailedDatasets())

	var ds1 *DatasetResult
	for i := range res.Datasets {
		if res.Datasets[i].DatasetID == "ds-1" {
			ds1 = &res.Datasets[i]
		}
	}
	require.NotNil(t, ds1)
	assert.Equal(t, StateApplied, ds1.States["term"])
	assert.Equal(t, StateUnchanged, ds1.States["award"], "other types are untouched")
	assert.Equal(t, 1, ds1.Created, "only the changed record is created")
	assert.Equal(t, 1, ds1.Deleted, "its stale twin is removed")

	after := records(t, env.client, "ds-1", "term")
	require.Len(t, after, 3)
	unchanged := 0
	for _, rec := range after {
		if keptHashes[rec.Hash()] {
			unchanged++
		}
	}
	assert.Equal(t, 2, unchanged, "untouched records keep their identity")
}

func TestForceReplacesAll(t *testing.T) {
	env := newEnv(t)
	env.run(t)

	env.opts.Force = true
	env.opts.Target = "ds-1"
	res := env.run(t)

	require.Len(t, res.Datasets, 1)
	assert.Equal(t, res.Datasets[0].Created, res.Datasets[0].Deleted,
		"force removes and recreates every record")
	assert.Greater(t, res.Datasets[0].Created, 0)
}

func TestForceTypeLimitsScope(t *testing.T) {
	env := newEnv(t)
	env.run(t)

	env.opts.ForceTypes = []string{"award"}
	env.opts.Target = "ds-1"
	res := env.run(t)

	require.Len(t, res.Datasets, 1)
	assert.Equal(t, StateApplied, res.Datasets[0].States["award"])
	assert.Equal(t, StateUnchanged, res.Datasets[0].States["term"])
	assert.Equal(t, 1, res.Datasets[0].Created)
}

func TestDryRunWritesNothing(t *testing.T) {
	env := newEnv(t)
	env.opts.DryRun = true
	res := env.run(t)

	assert.Len(t, records(t, env.client, "ds-1", "term"), 0)
	require.Len(t, res.Datasets, 2)
	assert.Equal(t, StateApplied, res.Datasets[0].States["term"], "dry run reports what would change")

	// Only the tracking dataset scaffolding exists.
	models, err := env.client.Models(context.Background(), "ds-1")
	require.NoError(t, err)
	assert.Empty(t, models)
}

func TestUnknownTargetDataset(t *testing.T) {
	env := newEnv(t)
	env.opts.Target = "ds-404"
	engine, err := New(env.client, env.opts)
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), env.snap)
	assert.True(t, errors.IsNotFound(err))
}

func TestViewerRoleSkipsDataset(t *testing.T) {
	env := newEnv(t)
	env.client.SetRole("ds-1", platform.RoleViewer)
	res := env.run(t)

	var ds1 *DatasetResult
	for i := range res.Datasets {
		if res.Datasets[i].DatasetID == "ds-1" {
			ds1 = &res.Datasets[i]
		}
	}
	require.NotNil(t, ds1)
	assert.True(t, ds1.Skipped)
	assert.Contains(t, ds1.SkipReason, "no write access")
	assert.Empty(t, records(t, env.client, "ds-1", "term"), "no writes to a read-only dataset")

	// The other dataset is still processed.
	assert.NotEmpty(t, records(t, env.client, "ds-2", "term"))
}

func TestPublicationLockSkipsDataset(t *testing.T) {
	env := newEnv(t)
	env.client.SetPublicationStatus("ds-1", platform.PublicationRequested)
	res := env.run(t)

	var ds1 *DatasetResult
	for i := range res.Datasets {
		if res.Datasets[i].DatasetID == "ds-1" {
			ds1 = &res.Datasets[i]
		}
	}
	require.NotNil(t, ds1)
	assert.True(t, ds1.Skipped)
	assert.Contains(t, ds1.SkipReason, "locked")
	assert.Empty(t, records(t, env.client, "ds-1", "term"))
}

func TestTransientFailureRetriedNextRun(t *testing.T) {
	env := newEnv(t)
	env.opts.Target = "ds-2"

	env.client.Fail("createRecords", errors.NewRemoteError("create", "term", 502, errors.New("bad gateway")))
	res := env.run(t)

	require.Len(t, res.Datasets, 1)
	assert.Equal(t, StateFailed, res.Datasets[0].States["term"])
	assert.Contains(t, res.FailedDatasets(), "ds-2")

	// The failure heals: the next run retries exactly the failed types.
	env.client.Fail("createRecords", nil)
	res = env.run(t)
	require.Empty(t, res.FailedDatasets())
	assert.Equal(t, StateApplied, res.Datasets[0].States["term"])
	assert.Len(t, records(t, env.client, "ds-2", "term"), 1)
}

func TestFailedTypeStillCompletesDataset(t *testing.T) {
	env := newEnv(t)
	env.client.Fail("createRecords", errors.NewRemoteError("create", "term", 502, errors.New("bad gateway")))
	res := env.run(t)

	require.NotEmpty(t, res.FailedDatasets())

	// A partial failure still counts as completed for this run: the stale
	// per-type ledger hashes drive the retry on the next full run, not the
	// progress file.
	prog, err := progress.Open(env.opts.ProgressFile, true)
	require.NoError(t, err)
	assert.True(t, prog.Done("ds-1"))
	assert.True(t, prog.Done("ds-2"))
}

func TestResumeSkipsCompletedDatasets(t *testing.T) {
	env := newEnv(t)

	prog, err := progress.Open(env.opts.ProgressFile, false)
	require.NoError(t, err)
	require.NoError(t, prog.MarkDone("ds-1"))

	env.opts.Resume = true
	res := env.run(t)

	require.Len(t, res.Datasets, 1)
	assert.Equal(t, "ds-2", res.Datasets[0].DatasetID)
	assert.Empty(t, records(t, env.client, "ds-1", "term"), "completed dataset is not touched")
}

func TestSubjectVariantSplit(t *testing.T) {
	env := newEnv(t)
	env.run(t)

	humans := records(t, env.client, "ds-1", "human_subject")
	require.Len(t, humans, 1)
	assert.Equal(t, "sub-1", humans[0].Values["localId"])

	animals := records(t, env.client, "ds-1", "animal_subject")
	require.Len(t, animals, 1)
	assert.Equal(t, "sub-2", animals[0].Values["localId"])
}

func TestRunRecordWritten(t *testing.T) {
	env := newEnv(t)
	res := env.run(t)

	runs := records(t, env.client, "tracking", RunModel)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].Values["runId"])
	assert.Equal(t, "ok", runs[0].Values["status"])
}

func TestLedgerSurvivesAcrossEngines(t *testing.T) {
	env := newEnv(t)
	env.run(t)

	ledgers := records(t, env.client, "tracking", LedgerModel)
	assert.Len(t, ledgers, 2, "one ledger record per dataset")
	for _, rec := range ledgers {
		assert.NotEmpty(t, rec.Values["term"], "per-type hash recorded")
		assert.NotEmpty(t, rec.Values[entity.LedgerTagField])
	}
}

func TestClearRemovesModelsAndLedger(t *testing.T) {
	env := newEnv(t)
	env.run(t)

	engine, err := New(env.client, env.opts)
	require.NoError(t, err)
	require.NoError(t, engine.Clear(context.Background(), "ds-1"))

	models, err := env.client.Models(context.Background(), "ds-1")
	require.NoError(t, err)
	assert.Empty(t, models)

	// The next run rebuilds the dataset from scratch.
	res := env.run(t)
	for i := range res.Datasets {
		if res.Datasets[i].DatasetID == "ds-1" {
			assert.True(t, res.Datasets[i].Changed())
		}
	}
	assert.Len(t, records(t, env.client, "ds-1", "term"), 3)
}

type staticEnricher struct {
	fields map[string]any
}

func (s staticEnricher) Enrich(context.Context, string) (map[string]any, error) {
	return s.fields, nil
}

func TestAwardEnrichment(t *testing.T) {
	env := newEnv(t)
	env.opts.Enricher = staticEnricher{fields: map[string]any{
		"title":      "Mapping the vagus nerve",
		"recordHash": "must-not-win",
	}}
	env.run(t)

	awards := records(t, env.client, "ds-1", "award")
	require.Len(t, awards, 1)
	assert.Equal(t, "Mapping the vagus nerve", awards[0].Values["title"])
	assert.NotEqual(t, "must-not-win", awards[0].Values[platform.RecordHashProperty],
		"enrichment can never touch the content hash")
}
