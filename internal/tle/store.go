package tle

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/orrery/internal/metrics"
)

// Store provides thread-safe access to the current TLE dataset.
type Store struct {
	dataset atomic.Pointer[Dataset]
	mu      sync.Mutex // serializes refresh operations
}

// NewStore creates a new empty Store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the current dataset, or nil if none has been loaded.
func (s *Store) Get() *Dataset {
	return s.dataset.Load()
}

// Set atomically replaces the current dataset.
func (s *Store) Set(ds *Dataset) {
	s.dataset.Store(ds)
	if ds != nil {
		metrics.SetTLEEntries(len(ds.Satellites))
	}
}

// Age returns how long ago the current dataset was fetched, relative to now.
// The second result is false if no dataset is loaded.
func (s *Store) Age(now time.Time) (time.Duration, bool) {
	ds := s.dataset.Load()
	if ds == nil {
		return 0, false
	}
	return now.Sub(ds.FetchedAt), true
}

// Lock acquires the mutex that serializes refreshes.
func (s *Store) Lock() {
	s.mu.Lock()
}

// Unlock releases the refresh mutex.
func (s *Store) Unlock() {
	s.mu.Unlock()
}
