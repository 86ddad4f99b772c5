package location

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachingService caches site lookups of the wrapped service for a limited time. Block
// listings are not cached: an open dataset must show new blocks on every split.
type CachingService struct {
	Service
	locations *cache.Cache
}

func NewCachingService(delegate Service, ttl time.Duration) *CachingService {
	return &CachingService{
		Service:   delegate,
		locations: cache.New(ttl, 2*ttl),
	}
}

func (s *CachingService) BlockLocations(ctx context.Context, block string) ([]string, error) {
	return s.cached("block:"+block, func() ([]string, error) {
		return s.Service.BlockLocations(ctx, block)
	})
}

func (s *CachingService) DatasetLocations(ctx context.Context, dataset string) ([]string, error) {
	return s.cached("dataset:"+dataset, func() ([]string, error) {
		return s.Service.DatasetLocations(ctx, dataset)
	})
}

// Invalidate drops every cached location.
func (s *CachingService) Invalidate() {
	s.locations.Flush()
}

func (s *CachingService) cached(key string, lookup func() ([]string, error)) ([]string, error) {
	if sites, ok := s.locations.Get(key); ok {
		return sites.([]string), nil
	}
	sites, err := lookup()
	if err != nil {
		return nil, err
	}
	s.locations.Set(key, sites, cache.DefaultExpiration)
	return sites, nil
}
