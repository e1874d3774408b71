// Package graph answers dependency questions over the blocker/dependent
// graph derived from every record's relationships.blocked_by field.
package graph

import (
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/starford/kodebase/internal/apperr"
	"github.com/starford/kodebase/internal/artifact"
)

const loadConcurrency = 8

// Source is the read side of the artifact store.
type Source interface {
	Get(id string) (*artifact.Artifact, error)
	List() ([]string, error)
}

// Service is scoped to one working root and memoizes loaded records in
// an explicit Cache.
type Service struct {
	root   string
	src    Source
	cache  *Cache
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache shares c between services.
func WithCache(c *Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithLogger sets the logger used for data-quality warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a graph service for records under root.
func NewService(root string, src Source, opts ...Option) *Service {
	s := &Service{root: root, src: src}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewCache()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Root returns the working root the service is scoped to.
func (s *Service) Root() string { return s.root }

// ClearCache forgets every record loaded for this root.
func (s *Service) ClearCache() {
	s.cache.Clear(s.root)
}

// Snapshot returns the cached view of all records, loading it if needed.
// Files are read in parallel; the result is assembled before any graph
// algorithm sees it.
func (s *Service) Snapshot() (*Snapshot, error) {
	if snap, ok := s.cache.get(s.root); ok {
		return snap, nil
	}
	ids, err := s.src.List()
	if err != nil {
		return nil, err
	}

	records := make([]*artifact.Artifact, len(ids))
	var g errgroup.Group
	g.SetLimit(loadConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			a, err := s.src.Get(id)
			if err != nil {
				s.logger.Warn("graph: skipping unreadable artifact",
					slog.String("artifact_id", id),
					slog.String("error", err.Error()))
				return nil
			}
			records[i] = a
			return nil
		})
	}
	_ = g.Wait()

	snap := newSnapshot(records)
	s.cache.put(s.root, snap)
	s.logger.Debug("graph: snapshot loaded",
		slog.String("root", s.root),
		slog.Int("artifacts", snap.Len()))
	return snap, nil
}

func (s *Service) target(id string) (*Snapshot, *artifact.Artifact, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, nil, err
	}
	a, ok := snap.Get(id)
	if !ok {
		return nil, nil, apperr.NotFound(id)
	}
	return snap, a, nil
}

func (s *Service) warnMissing(from, missing string) {
	s.logger.Warn("graph: missing blocker reference",
		slog.String("artifact_id", from),
		slog.String("blocker_id", missing))
}

// GetDependencies returns the records named in id's blocked_by list.
// Unknown blocker IDs are logged and skipped.
func (s *Service) GetDependencies(id string) ([]*artifact.Artifact, error) {
	snap, a, err := s.target(id)
	if err != nil {
		return nil, err
	}
	var out []*artifact.Artifact
	for _, dep := range a.Metadata.Relationships.BlockedBy {
		d, ok := snap.Get(dep)
		if !ok {
			s.warnMissing(id, dep)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// GetBlockedArtifacts returns every record whose blocked_by contains id.
func (s *Service) GetBlockedArtifacts(id string) ([]*artifact.Artifact, error) {
	snap, _, err := s.target(id)
	if err != nil {
		return nil, err
	}
	var out []*artifact.Artifact
	for _, other := range snap.IDs() {
		a, _ := snap.Get(other)
		if a.BlockedBy(id) {
			out = append(out, a)
		}
	}
	return out, nil
}

// IsBlocked reports whether any existing direct blocker of id is not
// completed. Dangling references are logged and do not block.
func (s *Service) IsBlocked(id string) (bool, error) {
	snap, a, err := s.target(id)
	if err != nil {
		return false, err
	}
	for _, dep := range a.Metadata.Relationships.BlockedBy {
		d, ok := snap.Get(dep)
		if !ok {
			s.warnMissing(id, dep)
			continue
		}
		if d.CurrentState() != artifact.StateCompleted {
			return true, nil
		}
	}
	return false, nil
}

// Edge is a blocker -> blocked pair.
type Edge struct {
	Blocker string `json:"blocker"`
	Blocked string `json:"blocked"`
}

// Edges lists every blocked_by edge whose endpoints both exist.
func (s *Service) Edges() ([]Edge, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	var out []Edge
	for _, id := range snap.IDs() {
		a, _ := snap.Get(id)
		for _, dep := range a.Metadata.Relationships.BlockedBy {
			if _, ok := snap.Get(dep); ok {
				out = append(out, Edge{Blocker: dep, Blocked: id})
			}
		}
	}
	return out, nil
}
