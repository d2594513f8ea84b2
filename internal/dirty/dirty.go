// Package dirty tracks graph nodes whose outputs changed outside the main
// acquisition cycle, e.g. an auxiliary instrument polled on its own schedule.
package dirty

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/vk/scopegrid/internal/graph"
)

// Set is a thread-safe set of node handles. Take swaps the whole set out
// under the lock, so a Mark that races a refresh lands in the next snapshot
// instead of being lost.
type Set struct {
	mu    sync.Mutex
	nodes mapset.Set[graph.Handle]
}

// New returns an empty dirty set.
func New() *Set {
	return &Set{nodes: mapset.NewThreadUnsafeSet[graph.Handle]()}
}

// Mark records h as dirty. Safe to call from any goroutine.
func (s *Set) Mark(h graph.Handle) {
	s.mu.Lock()
	s.nodes.Add(h)
	s.mu.Unlock()
}

// Take atomically returns the current contents and leaves the set empty.
func (s *Set) Take() mapset.Set[graph.Handle] {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.nodes
	s.nodes = mapset.NewThreadUnsafeSet[graph.Handle]()
	return snapshot
}

// Contains reports whether h is currently marked.
func (s *Set) Contains(h graph.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes.Contains(h)
}

// Len returns the number of marked nodes.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes.Cardinality()
}
