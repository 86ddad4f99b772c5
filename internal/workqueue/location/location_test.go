package location

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/workqueue/internal/common/wqerrors"
)

func testBlocks() []Block {
	return []Block{
		{Name: "/a/b/c#2", Dataset: "/a/b/c", NumFiles: 5, Sites: []string{"B", "A"}},
		{Name: "/a/b/c#1", Dataset: "/a/b/c", NumFiles: 10, Sites: []string{"A", "C"}},
		{Name: "/x/y/z#1", Dataset: "/x/y/z", NumFiles: 1, Sites: []string{"C"}},
	}
}

func TestStaticService_ListBlocks(t *testing.T) {
	ctx := context.Background()
	s := NewStaticService(testBlocks()...)

	blocks, err := s.ListBlocks(ctx, "/a/b/c")
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "/a/b/c#1", blocks[0].Name)
	assert.Equal(t, "/a/b/c#2", blocks[1].Name)

	_, err = s.ListBlocks(ctx, "/unknown")
	assert.True(t, wqerrors.IsNotFound(err))
}

func TestStaticService_Locations(t *testing.T) {
	ctx := context.Background()
	s := NewStaticService(testBlocks()...)

	sites, err := s.BlockLocations(ctx, "/a/b/c#2")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, sites)

	sites, err = s.DatasetLocations(ctx, "/a/b/c")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, sites)

	require.NoError(t, s.SetBlockSites("/a/b/c#2", "C"))
	sites, err = s.DatasetLocations(ctx, "/a/b/c")
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, sites)

	assert.Error(t, s.SetBlockSites("/nope", "C"))
	_, err = s.BlockLocations(ctx, "/nope")
	assert.True(t, wqerrors.IsNotFound(err))
}

func TestStaticService_AddBlocksGrowsDataset(t *testing.T) {
	ctx := context.Background()
	s := NewStaticService(testBlocks()...)
	s.AddBlocks(Block{Name: "/a/b/c#3", Dataset: "/a/b/c", Sites: []string{"A"}})
	s.AddBlocks(Block{Name: "/a/b/c#3", Dataset: "/a/b/c", Sites: []string{"B"}})
	blocks, err := s.ListBlocks(ctx, "/a/b/c")
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, []string{"B"}, blocks[2].Sites)
}

func TestStaticService_ChunkFileset(t *testing.T) {
	ctx := context.Background()
	s := NewStaticService()
	s.AddResubmission("coll", "/r/t", []Chunk{
		{NumFiles: 2, NumEvents: 20, Sites: []string{"A", "B"}},
		{NumFiles: 2, NumEvents: 20, Sites: []string{"B"}},
		{NumFiles: 5, NumEvents: 50, Sites: []string{"C"}, Parents: true},
		{NumFiles: 1, NumEvents: 10, Sites: []string{"C"}},
	}...)

	chunks, err := s.ChunkFileset(ctx, "coll", "/r/t", 3)
	require.NoError(t, err)
	assert.Equal(t, []Chunk{
		{Name: "0", Offset: 0, NumFiles: 4, NumEvents: 40, Sites: []string{"B"}},
		{Name: "4", Offset: 4, NumFiles: 5, NumEvents: 50, Sites: []string{"C"}, Parents: true},
		{Name: "9", Offset: 9, NumFiles: 1, NumEvents: 10, Sites: []string{"C"}},
	}, chunks)

	_, err = s.ChunkFileset(ctx, "coll", "/other", 3)
	assert.True(t, wqerrors.IsNotFound(err))
}

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
blocks:
  - name: /a/b/c#1
    dataset: /a/b/c
    numFiles: 3
    numEvents: 300
    runs: [1, 2]
    sites: [A, B]
resubmissions:
  coll//r/t:
    - numFiles: 1
      sites: [A]
`), 0o600))
	s, err := LoadStatic(path)
	require.NoError(t, err)

	b, err := s.GetBlock(context.Background(), "/a/b/c#1")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, b.Runs)
	assert.Equal(t, int64(300), b.NumEvents)

	chunks, err := s.ChunkFileset(context.Background(), "coll", "/r/t", 0)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

type countingService struct {
	Service
	lookups int
}

func (s *countingService) BlockLocations(ctx context.Context, block string) ([]string, error) {
	s.lookups++
	return s.Service.BlockLocations(ctx, block)
}

func TestCachingService(t *testing.T) {
	ctx := context.Background()
	underlying := &countingService{Service: NewStaticService(testBlocks()...)}
	s := NewCachingService(underlying, time.Minute)

	for i := 0; i < 3; i++ {
		sites, err := s.BlockLocations(ctx, "/x/y/z#1")
		require.NoError(t, err)
		assert.Equal(t, []string{"C"}, sites)
	}
	assert.Equal(t, 1, underlying.lookups)

	s.Invalidate()
	_, err := s.BlockLocations(ctx, "/x/y/z#1")
	require.NoError(t, err)
	assert.Equal(t, 2, underlying.lookups)

	_, err = s.BlockLocations(ctx, "/nope")
	assert.Error(t, err)

	blocks, err := s.ListBlocks(ctx, "/a/b/c")
	require.NoError(t, err)
	assert.Len(t, blocks, 2)
}
