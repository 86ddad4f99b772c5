package spec

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/armadaproject/workqueue/internal/common/wqerrors"
)

// Store resolves specification references.
type Store interface {
	Get(ctx context.Context, ref string) (*Specification, error)
	Put(ctx context.Context, spec *Specification) error
}

// MemoryStore keeps specifications in process memory. Specifications are immutable, so
// a second Put of the same reference is ignored.
type MemoryStore struct {
	mu    sync.RWMutex
	specs map[string]*Specification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{specs: map[string]*Specification{}}
}

func (s *MemoryStore) Get(_ context.Context, ref string) (*Specification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.specs[ref]
	if !ok {
		return nil, errors.WithStack(&wqerrors.ErrNotFound{Table: "specifications", Id: ref})
	}
	return spec, nil
}

func (s *MemoryStore) Put(_ context.Context, spec *Specification) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.specs[spec.Ref()]; !ok {
		s.specs[spec.Ref()] = spec
	}
	return nil
}

// CachingStore reads each specification from the underlying store once and serves later
// lookups from an LRU cache.
type CachingStore struct {
	delegate Store
	cache    *lru.Cache
}

func NewCachingStore(delegate Store, size int) (*CachingStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &CachingStore{delegate: delegate, cache: cache}, nil
}

func (s *CachingStore) Get(ctx context.Context, ref string) (*Specification, error) {
	if cached, ok := s.cache.Get(ref); ok {
		return cached.(*Specification), nil
	}
	spec, err := s.delegate.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	s.cache.Add(ref, spec)
	return spec, nil
}

func (s *CachingStore) Put(ctx context.Context, spec *Specification) error {
	if err := s.delegate.Put(ctx, spec); err != nil {
		return err
	}
	s.cache.Add(spec.Ref(), spec)
	return nil
}
