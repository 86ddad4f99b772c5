package location

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/armadaproject/workqueue/internal/common/util"
	"github.com/armadaproject/workqueue/internal/common/wqerrors"
)

// StaticService serves block, location and resubmission data held in memory, e.g. loaded
// from a fixture file. It is safe for concurrent use, and blocks may be added or moved at
// runtime to simulate a growing dataset.
type StaticService struct {
	mu       sync.RWMutex
	blocks   map[string]Block
	datasets map[string][]string
	files    map[string][]Chunk
}

// StaticData is the file format read by LoadStatic.
type StaticData struct {
	Blocks []Block `json:"blocks"`
	// Collection/fileset to the chunks recorded for resubmission.
	Resubmissions map[string][]Chunk `json:"resubmissions,omitempty"`
}

func NewStaticService(blocks ...Block) *StaticService {
	s := &StaticService{
		blocks:   map[string]Block{},
		datasets: map[string][]string{},
		files:    map[string][]Chunk{},
	}
	s.AddBlocks(blocks...)
	return s
}

// LoadStatic reads a YAML or JSON fixture file.
func LoadStatic(path string) (*StaticService, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var static StaticData
	if err := yaml.Unmarshal(data, &static); err != nil {
		return nil, errors.Wrapf(err, "error parsing location data from %s", path)
	}
	s := NewStaticService(static.Blocks...)
	for key, chunks := range static.Resubmissions {
		s.files[key] = chunks
	}
	return s, nil
}

// AddBlocks adds blocks, replacing any with the same name.
func (s *StaticService) AddBlocks(blocks ...Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range blocks {
		if _, exists := s.blocks[b.Name]; !exists {
			s.datasets[b.Dataset] = append(s.datasets[b.Dataset], b.Name)
			sort.Strings(s.datasets[b.Dataset])
		}
		s.blocks[b.Name] = b
	}
}

// SetBlockSites changes where a block is held.
func (s *StaticService) SetBlockSites(block string, sites ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[block]
	if !ok {
		return errors.WithStack(&wqerrors.ErrNotFound{Table: "blocks", Id: block})
	}
	b.Sites = sites
	s.blocks[block] = b
	return nil
}

// AddResubmission records the chunks of a collection and fileset.
func (s *StaticService) AddResubmission(collection, fileset string, chunks ...Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[resubmissionKey(collection, fileset)] = chunks
}

func (s *StaticService) ListBlocks(_ context.Context, dataset string) ([]Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names, ok := s.datasets[dataset]
	if !ok {
		return nil, errors.WithStack(&wqerrors.ErrNotFound{Table: "datasets", Id: dataset})
	}
	blocks := make([]Block, 0, len(names))
	for _, name := range names {
		blocks = append(blocks, s.blocks[name])
	}
	return blocks, nil
}

func (s *StaticService) GetBlock(_ context.Context, name string) (Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[name]
	if !ok {
		return Block{}, errors.WithStack(&wqerrors.ErrNotFound{Table: "blocks", Id: name})
	}
	return b, nil
}

func (s *StaticService) BlockLocations(ctx context.Context, block string) ([]string, error) {
	b, err := s.GetBlock(ctx, block)
	if err != nil {
		return nil, err
	}
	return util.SortedUnion(b.Sites), nil
}

// DatasetLocations returns the sites holding every block of the dataset.
func (s *StaticService) DatasetLocations(ctx context.Context, dataset string) ([]string, error) {
	blocks, err := s.ListBlocks(ctx, dataset)
	if err != nil {
		return nil, err
	}
	lists := make([][]string, 0, len(blocks))
	for _, b := range blocks {
		lists = append(lists, b.Sites)
	}
	if len(lists) == 0 {
		return []string{}, nil
	}
	return util.SortedIntersection(lists...), nil
}

func (s *StaticService) ChunkFileset(_ context.Context, collection, fileset string, chunkSize int64) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks, ok := s.files[resubmissionKey(collection, fileset)]
	if !ok {
		return nil, errors.WithStack(&wqerrors.ErrNotFound{Table: "resubmissions", Id: resubmissionKey(collection, fileset)})
	}
	return rechunk(chunks, chunkSize), nil
}

func resubmissionKey(collection, fileset string) string {
	return fmt.Sprintf("%s/%s", collection, fileset)
}

// rechunk merges consecutive recorded chunks until each holds at least chunkSize files.
// Chunks are named by their file offset in the fileset.
func rechunk(chunks []Chunk, chunkSize int64) []Chunk {
	if chunkSize <= 0 {
		return chunks
	}
	var result []Chunk
	var current *Chunk
	var offset int64
	for _, c := range chunks {
		if current == nil {
			current = &Chunk{Name: fmt.Sprintf("%d", offset), Offset: offset, Sites: util.SortedUnion(c.Sites)}
		} else {
			current.Sites = util.SortedIntersection(current.Sites, c.Sites)
		}
		current.NumFiles += c.NumFiles
		current.NumEvents += c.NumEvents
		current.NumLumis += c.NumLumis
		current.Parents = current.Parents || c.Parents
		offset += c.NumFiles
		if current.NumFiles >= chunkSize {
			result = append(result, *current)
			current = nil
		}
	}
	if current != nil {
		result = append(result, *current)
	}
	return result
}
