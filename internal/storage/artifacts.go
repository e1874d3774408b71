package storage

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/starford/kodebase/internal/apperr"
	"github.com/starford/kodebase/internal/artifact"
	"github.com/starford/kodebase/internal/parser"
)

// ArtifactStore is the keyed record interface the engine consumes.
type ArtifactStore interface {
	Get(id string) (*artifact.Artifact, error)
	List() ([]string, error)
	Put(a *artifact.Artifact) error
}

// Store maps artifact IDs to record files on a Provider.
//
// Layout for new records: A/A.yml, A/A.1/A.1.yml, A/A.1/A.1.3.yml. Existing
// files are found by base name ("<ID>.yml" or "<ID>.<slug>.yml") anywhere
// under the root.
type Store struct {
	fs Provider

	mu    sync.RWMutex
	paths map[string]string // id -> relative path
}

var _ ArtifactStore = (*Store)(nil)

// NewStore wraps p.
func NewStore(p Provider) *Store {
	return &Store{fs: p}
}

// Provider exposes the underlying file layer.
func (s *Store) Provider() Provider { return s.fs }

// Refresh rescans the root and rebuilds the ID to path map.
func (s *Store) Refresh() error {
	metas, err := s.fs.List("")
	if err != nil {
		return err
	}
	paths := make(map[string]string, len(metas))
	for _, m := range metas {
		id, ok := artifact.IDFromFileName(path.Base(m.Path))
		if !ok {
			continue
		}
		if prev, dup := paths[id]; dup && prev < m.Path {
			continue
		}
		paths[id] = m.Path
	}
	s.mu.Lock()
	s.paths = paths
	s.mu.Unlock()
	return nil
}

// PathOf returns the relative path of the record for id.
func (s *Store) PathOf(id string) (string, error) {
	s.mu.RLock()
	p, ok := s.paths[id]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}
	// Unknown ids trigger a rescan; the file may have appeared since.
	if err := s.Refresh(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.paths[id]; ok {
		return p, nil
	}
	return "", apperr.NotFound(id)
}

// List returns every artifact ID, sorted.
func (s *Store) List() ([]string, error) {
	if err := s.Refresh(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.paths))
	for id := range s.paths {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Get loads the record for id.
func (s *Store) Get(id string) (*artifact.Artifact, error) {
	p, err := s.PathOf(id)
	if err != nil {
		return nil, err
	}
	a, err := s.Load(p)
	if errors.Is(err, os.ErrNotExist) {
		s.forget(id)
		return nil, apperr.NotFound(id)
	}
	if err != nil {
		return nil, err
	}
	if a.ID != id {
		return nil, fmt.Errorf("storage: %s declares id %q", p, a.ID)
	}
	return a, nil
}

// Load parses the record at a relative path.
func (s *Store) Load(rel string) (*artifact.Artifact, error) {
	data, err := s.fs.Read(rel)
	if err != nil {
		return nil, err
	}
	a, err := parser.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("storage: %s: %w", rel, err)
	}
	return a, nil
}

// Put writes a to its existing file, or to the default layout path for a
// record that has not been stored yet.
func (s *Store) Put(a *artifact.Artifact) error {
	if !artifact.ValidID(a.ID) {
		return fmt.Errorf("storage: put: invalid id %q", a.ID)
	}
	p, err := s.PathOf(a.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		p = DefaultPath(a.ID)
	} else if err != nil {
		return err
	}
	data, err := parser.Encode(a)
	if err != nil {
		return err
	}
	if err := s.fs.Write(p, data); err != nil {
		return err
	}
	s.mu.Lock()
	if s.paths == nil {
		s.paths = make(map[string]string)
	}
	s.paths[a.ID] = p
	s.mu.Unlock()
	return nil
}

// Create stores a new record and fails if one already exists for its ID.
func (s *Store) Create(a *artifact.Artifact) error {
	if _, err := s.PathOf(a.ID); err == nil {
		return fmt.Errorf("storage: create %s: %w", a.ID, apperr.ErrAlreadyExists)
	}
	return s.Put(a)
}

func (s *Store) forget(id string) {
	s.mu.Lock()
	delete(s.paths, id)
	s.mu.Unlock()
}

// DefaultPath is where a new record for id is written.
func DefaultPath(id string) string {
	segs := strings.Split(id, ".")
	n := min(len(segs), 2)
	parts := make([]string, 0, n+1)
	for i := 1; i <= n; i++ {
		parts = append(parts, strings.Join(segs[:i], "."))
	}
	return path.Join(append(parts, id+recordExt)...)
}
