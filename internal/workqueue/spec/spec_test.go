package spec

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/workqueue/internal/common/wqerrors"
)

const reprocessingYaml = `
requestName: reprocessing-2026
version: 3
priority: 90000
siteWhitelist: [T1_US_FNAL, T2_CH_CERN]
tasks:
  - name: /reprocessing-2026/DataProcessing
    inputDataset: /MinimumBias/Run2026A-v1/RAW
    locationService: https://dbs.example.org/dbs/prod/global/DBSReader
    runWhitelist: [1, 2]
    openRunningTimeout: 2h
    splitting:
      algorithm: Block
      sliceType: events
      sliceSize: 1000
      maxJobsPerElement: 50
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(reprocessingYaml))
	require.NoError(t, err)
	assert.Equal(t, "reprocessing-2026", s.RequestName)
	assert.Equal(t, "reprocessing-2026@3", s.Ref())
	assert.Equal(t, int32(90000), s.Priority)
	require.Len(t, s.Tasks, 1)
	task := s.Tasks[0]
	assert.Equal(t, []int64{1, 2}, task.RunWhitelist)
	assert.Equal(t, 2*time.Hour, task.OpenRunningTimeout)
	assert.Equal(t, BlockSplitting{
		Slicing:           Slicing{SliceType: SliceByEvents, SliceSize: 1000},
		MaxJobsPerElement: 50,
	}, task.Splitting)
	assert.Same(t, task, s.Task("/reprocessing-2026/DataProcessing"))
	assert.Nil(t, s.Task("/nope"))
}

func TestParse_Defaults(t *testing.T) {
	s, err := Parse([]byte(`
requestName: r
tasks:
  - name: /r/t
    inputDataset: /a/b/c
    splitting:
      algorithm: Dataset
`))
	require.NoError(t, err)
	assert.Equal(t, DatasetSplitting{Slicing: Slicing{SliceType: SliceByFiles, SliceSize: 1}}, s.Tasks[0].Splitting)
}

func TestTask_JSONRoundTripKeepsSplitting(t *testing.T) {
	s, err := Parse([]byte(reprocessingYaml))
	require.NoError(t, err)
	data, err := json.Marshal(s)
	require.NoError(t, err)
	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, s, again)
}

func TestParse_Rejected(t *testing.T) {
	tests := map[string]string{
		"no request name": `
tasks:
  - name: /r/t
    splitting: {algorithm: MonteCarlo, eventsPerJob: 10, maxJobsPerElement: 5}`,
		"no tasks": `
requestName: r`,
		"no splitting": `
requestName: r
tasks:
  - name: /r/t
    inputDataset: /a/b/c`,
		"monte carlo with input": `
requestName: r
tasks:
  - name: /r/t
    inputDataset: /a/b/c
    splitting: {algorithm: MonteCarlo, eventsPerJob: 10, maxJobsPerElement: 5}`,
		"block without input": `
requestName: r
tasks:
  - name: /r/t
    splitting: {algorithm: Block}`,
		"resubmit without record": `
requestName: r
tasks:
  - name: /r/t
    splitting: {algorithm: ResubmitBlock, chunkSize: 10}`,
		"duplicate task": `
requestName: r
tasks:
  - name: /r/t
    splitting: {algorithm: MonteCarlo, eventsPerJob: 10, maxJobsPerElement: 5}
  - name: /r/t
    splitting: {algorithm: MonteCarlo, eventsPerJob: 10, maxJobsPerElement: 5}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.Equal(t, wqerrors.KindSpecRejected, wqerrors.Classify(err))
		})
	}
}

func TestParse_BadSplitting(t *testing.T) {
	tests := map[string]string{
		"unknown algorithm":      `{algorithm: Magic}`,
		"bad slice type":         `{algorithm: Block, sliceType: parsecs}`,
		"negative slice size":    `{algorithm: Block, sliceSize: -1}`,
		"monte carlo no events":  `{algorithm: MonteCarlo, maxJobsPerElement: 5}`,
		"monte carlo overflow":   `{algorithm: MonteCarlo, eventsPerJob: 4611686018427387904, maxJobsPerElement: 2}`,
		"resubmit no chunk size": `{algorithm: ResubmitBlock}`,
	}
	for name, splitting := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte("requestName: r\ntasks:\n  - name: /r/t\n    inputDataset: /a/b/c\n    splitting: " + splitting))
			assert.Error(t, err)
		})
	}
}

func TestParseRef(t *testing.T) {
	name, version, err := ParseRef("my@request@12")
	require.NoError(t, err)
	assert.Equal(t, "my@request", name)
	assert.Equal(t, 12, version)

	_, _, err = ParseRef("noversion")
	assert.Error(t, err)
	_, _, err = ParseRef("r@x")
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(reprocessingYaml), 0o600))
	s, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "reprocessing-2026", s.RequestName)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

type countingStore struct {
	Store
	gets int
}

func (s *countingStore) Get(ctx context.Context, ref string) (*Specification, error) {
	s.gets++
	return s.Store.Get(ctx, ref)
}

func TestCachingStore(t *testing.T) {
	ctx := context.Background()
	s, err := Parse([]byte(reprocessingYaml))
	require.NoError(t, err)

	underlying := &countingStore{Store: NewMemoryStore()}
	require.NoError(t, underlying.Put(ctx, s))

	cached, err := NewCachingStore(underlying, 10)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := cached.Get(ctx, s.Ref())
		require.NoError(t, err)
		assert.Same(t, s, got)
	}
	assert.Equal(t, 1, underlying.gets)

	_, err = cached.Get(ctx, "missing@1")
	assert.True(t, wqerrors.IsNotFound(err))
}

func TestMemoryStore_PutIsImmutable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	first := &Specification{RequestName: "r", Tasks: []*Task{{Name: "/r/t", Splitting: MonteCarloSplitting{EventsPerJob: 1, MaxJobsPerElement: 1}}}}
	second := &Specification{RequestName: "r", Priority: 10, Tasks: first.Tasks}
	require.NoError(t, store.Put(ctx, first))
	require.NoError(t, store.Put(ctx, second))
	got, err := store.Get(ctx, "r@0")
	require.NoError(t, err)
	assert.Same(t, first, got)
}
