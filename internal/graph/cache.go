package graph

import (
	"sort"
	"sync"

	"github.com/starford/kodebase/internal/artifact"
)

// Snapshot is one consistent, read-only view of every loaded record.
// Records handed out by a snapshot are shared; Clone before mutating.
type Snapshot struct {
	records map[string]*artifact.Artifact
	ids     []string
}

func newSnapshot(records []*artifact.Artifact) *Snapshot {
	s := &Snapshot{records: make(map[string]*artifact.Artifact, len(records))}
	for _, a := range records {
		if a == nil {
			continue
		}
		s.records[a.ID] = a
		s.ids = append(s.ids, a.ID)
	}
	sort.Strings(s.ids)
	return s
}

// Get returns the record for id.
func (s *Snapshot) Get(id string) (*artifact.Artifact, bool) {
	a, ok := s.records[id]
	return a, ok
}

// IDs returns all record IDs in sorted order.
func (s *Snapshot) IDs() []string { return s.ids }

// Records returns the id -> record map backing the snapshot.
func (s *Snapshot) Records() map[string]*artifact.Artifact { return s.records }

// Len returns the number of records.
func (s *Snapshot) Len() int { return len(s.ids) }

// Cache memoizes snapshots per working root. It is not a coherence
// mechanism: callers clear it after mutating records outside the service.
type Cache struct {
	mu    sync.Mutex
	roots map[string]*Snapshot
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{roots: make(map[string]*Snapshot)}
}

func (c *Cache) get(root string) (*Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.roots[root]
	return s, ok
}

func (c *Cache) put(root string, s *Snapshot) {
	c.mu.Lock()
	c.roots[root] = s
	c.mu.Unlock()
}

// Clear drops the snapshot for root.
func (c *Cache) Clear(root string) {
	c.mu.Lock()
	delete(c.roots, root)
	c.mu.Unlock()
}
