// Package lifecycle tells the queue when a request may be forgotten.
package lifecycle

import (
	"context"
	"sync"
)

// Tracker knows the lifecycle of requests outside the queue.
type Tracker interface {
	// IsArchivable returns true once the request's records are no longer needed.
	IsArchivable(ctx context.Context, requestName string) (bool, error)
}

// Static is a Tracker holding an explicit set of archivable requests.
type Static struct {
	mu         sync.RWMutex
	archivable map[string]bool
	all        bool
}

func NewStatic(archivable ...string) *Static {
	s := &Static{archivable: map[string]bool{}}
	s.MarkArchivable(archivable...)
	return s
}

// NewAlwaysArchivable returns a tracker that considers every request archivable.
func NewAlwaysArchivable() *Static {
	return &Static{archivable: map[string]bool{}, all: true}
}

func (s *Static) MarkArchivable(requests ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range requests {
		s.archivable[r] = true
	}
}

func (s *Static) IsArchivable(_ context.Context, requestName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.all || s.archivable[requestName], nil
}
