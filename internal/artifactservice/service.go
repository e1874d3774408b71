// Package artifactservice coordinates the artifact store, the dependency
// graph, validation, cascades and the optional SQLite index behind one
// facade shared by the HTTP API, the MCP server and the CLI.
package artifactservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/kodebase/internal/apperr"
	"github.com/starford/kodebase/internal/artifact"
	"github.com/starford/kodebase/internal/cascade"
	"github.com/starford/kodebase/internal/contextgen"
	"github.com/starford/kodebase/internal/finding"
	"github.com/starford/kodebase/internal/graph"
	"github.com/starford/kodebase/internal/index"
	"github.com/starford/kodebase/internal/lifecycle"
	"github.com/starford/kodebase/internal/parser"
	"github.com/starford/kodebase/internal/statemachine"
	"github.com/starford/kodebase/internal/storage"
	"github.com/starford/kodebase/internal/telemetry"
	"github.com/starford/kodebase/internal/validation"
)

// ErrSearchUnavailable is returned by Search when no index is configured.
var ErrSearchUnavailable = errors.New("artifactservice: search requires the sqlite index")

// ErrInvalidArtifact is returned by Create for a record that cannot be stored.
var ErrInvalidArtifact = errors.New("artifactservice: invalid artifact")

// Publisher receives change notifications, typically the SSE broker.
type Publisher interface {
	PublishArtifactEvent(kind, id, path string)
	PublishCascade(res cascade.Result)
}

// Summary is a lightweight item in a list response.
type Summary struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Priority  string    `json:"priority"`
	Assignee  string    `json:"assignee"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Detail is the full representation of an artifact.
type Detail struct {
	Artifact   *artifact.Artifact `json:"artifact"`
	Path       string             `json:"path"`
	State      artifact.State     `json:"state"`
	Blocked    bool               `json:"blocked"`
	Dependents []string           `json:"dependents"`
}

// Service is the application facade.
type Service struct {
	store     *storage.Store
	graph     *graph.Service
	validator *validation.Engine
	cascades  *cascade.Engine
	lifecycle *lifecycle.Service
	contexts  *contextgen.Generator
	db        index.ArtifactIndex
	pub       Publisher
	logger    *slog.Logger

	locker    *lifecycle.Locker
	actor     string
	telemetry bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithLocker serialises mutations through l.
func WithLocker(l *lifecycle.Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithDefaultActor sets the actor recorded on cascade events.
func WithDefaultActor(actor string) Option {
	return func(s *Service) { s.actor = actor }
}

// WithTelemetry wraps the store used by cascades and lifecycle actions in
// an OpenTelemetry decorator.
func WithTelemetry(enabled bool) Option {
	return func(s *Service) { s.telemetry = enabled }
}

// WithPublisher forwards artifact and cascade changes to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// New wires the engine components over store. db may be nil; listing then
// scans the store and Search is unavailable.
func New(store *storage.Store, db index.ArtifactIndex, opts ...Option) *Service {
	s := &Service{store: store, db: db}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	mutable := telemetry.WrapStore(store, s.telemetry)
	s.graph = graph.NewService(store.Provider().Root(), store, graph.WithLogger(s.logger))
	s.validator = validation.New(store, s.graph, validation.WithLogger(s.logger))

	copts := []cascade.Option{cascade.WithLogger(s.logger)}
	if s.actor != "" {
		copts = append(copts, cascade.WithDefaultActor(s.actor))
	}
	s.cascades = cascade.New(mutable, s.graph, copts...)

	lopts := []lifecycle.Option{lifecycle.WithLogger(s.logger)}
	if s.locker != nil {
		lopts = append(lopts, lifecycle.WithLocker(s.locker))
	}
	s.lifecycle = lifecycle.New(mutable, s.graph, s.cascades, lopts...)
	s.contexts = contextgen.New(store)
	return s
}

// Graph exposes the dependency graph service.
func (s *Service) Graph() *graph.Service { return s.graph }

// Root returns the artifacts root directory.
func (s *Service) Root() string { return s.store.Provider().Root() }

// Invalidate drops every cached record so the next read sees the disk.
func (s *Service) Invalidate() {
	if err := s.store.Refresh(); err != nil {
		s.logger.Warn("artifactservice: refresh failed", slog.String("error", err.Error()))
	}
	s.graph.ClearCache()
	s.validator.ClearCache()
}

// HandleChange is the index watcher callback: it invalidates caches and
// forwards the change to the publisher.
func (s *Service) HandleChange(kind, id, path string) {
	s.Invalidate()
	if s.pub != nil {
		s.pub.PublishArtifactEvent(kind, id, path)
	}
}

func (s *Service) publish(res cascade.Result) {
	if s.pub != nil && !res.Empty() {
		s.pub.PublishCascade(res)
	}
}

// List returns artifacts ordered by id, filtered by current state when
// state is non-empty.
func (s *Service) List(_ context.Context, state string) ([]Summary, error) {
	if s.db != nil {
		rows, err := s.db.ListByState(state)
		if err != nil {
			return nil, err
		}
		out := make([]Summary, len(rows))
		for i, r := range rows {
			out[i] = Summary{
				ID: r.ID, Path: r.Path, Type: r.Type, Title: r.Title, State: r.State,
				Priority: r.Priority, Assignee: r.Assignee, UpdatedAt: r.UpdatedAt,
			}
		}
		return out, nil
	}

	snap, err := s.graph.Snapshot()
	if err != nil {
		return nil, err
	}
	out := []Summary{}
	for _, id := range snap.IDs() {
		a, _ := snap.Get(id)
		if state != "" && string(a.CurrentState()) != state {
			continue
		}
		p, _ := s.store.PathOf(id)
		sum := Summary{
			ID: id, Path: p, Type: string(a.Type()), Title: a.Metadata.Title,
			State: string(a.CurrentState()), Priority: string(a.Metadata.Priority), Assignee: a.Metadata.Assignee,
		}
		if n := len(a.Metadata.Events); n > 0 {
			sum.UpdatedAt, _ = time.Parse(artifact.TimestampLayout, a.Metadata.Events[n-1].Timestamp)
		}
		out = append(out, sum)
	}
	return out, nil
}

// Get loads id and enriches it with its blocked status and dependents.
func (s *Service) Get(_ context.Context, id string) (*Detail, error) {
	if !artifact.ValidID(id) {
		return nil, fmt.Errorf("artifactservice: invalid artifact id %q: %w", id, apperr.ErrNotFound)
	}
	a, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	p, _ := s.store.PathOf(id)
	d := &Detail{Artifact: a, Path: p, State: a.CurrentState(), Dependents: []string{}}
	if blocked, err := s.graph.IsBlocked(id); err == nil {
		d.Blocked = blocked
	}
	if deps, err := s.graph.GetBlockedArtifacts(id); err == nil {
		for _, dep := range deps {
			d.Dependents = append(d.Dependents, dep.ID)
		}
	}
	return d, nil
}

// Dependencies returns the artifacts id is blocked by.
func (s *Service) Dependencies(_ context.Context, id string) ([]*artifact.Artifact, error) {
	return s.graph.GetDependencies(id)
}

// Dependents returns the artifacts blocked by id.
func (s *Service) Dependents(_ context.Context, id string) ([]*artifact.Artifact, error) {
	return s.graph.GetBlockedArtifacts(id)
}

// Chain returns the transitive blocker closure of id.
func (s *Service) Chain(_ context.Context, id string) ([]string, error) {
	return s.graph.ResolveDependencyChain(id)
}

// IsBlocked reports whether any blocker of id is not completed.
func (s *Service) IsBlocked(_ context.Context, id string) (bool, error) {
	return s.graph.IsBlocked(id)
}

// Cycles lists every dependency cycle.
func (s *Service) Cycles(_ context.Context) ([]graph.Cycle, error) {
	return s.graph.DetectCircularDependencies()
}

// CrossLevel lists every edge that violates the hierarchy rules.
func (s *Service) CrossLevel(_ context.Context) ([]graph.CrossLevelViolation, error) {
	return s.graph.DetectCrossLevelDependencies()
}

// Consistency lists every one-sided blocks/blocked_by edge.
func (s *Service) Consistency(_ context.Context) ([]graph.Inconsistency, error) {
	return s.graph.ValidateRelationshipConsistency()
}

// ValidateAll validates every record.
func (s *Service) ValidateAll(_ context.Context, opts validation.Options) (*validation.Report, error) {
	return s.validator.ValidateAll(opts)
}

// Validate validates the record for id.
func (s *Service) Validate(_ context.Context, id string, opts validation.Options) (validation.Result, error) {
	p, err := s.store.PathOf(id)
	if err != nil {
		return validation.Result{}, err
	}
	return s.validator.ValidateArtifact(p, opts)
}

// Fix validates id and applies every fixable finding. It returns the codes
// applied, or validation.ErrNotFixable when there was nothing to fix.
func (s *Service) Fix(_ context.Context, id string) ([]finding.Code, error) {
	p, err := s.store.PathOf(id)
	if err != nil {
		return nil, err
	}
	res, err := s.validator.ValidateArtifact(p, validation.Options{})
	if err != nil {
		return nil, err
	}
	return s.validator.ApplyFixes(p, res.Findings)
}

// Context renders the Markdown brief for a milestone or an initiative.
func (s *Service) Context(_ context.Context, id string, opts contextgen.Options) (*contextgen.Context, error) {
	return s.contexts.Generate(id, opts)
}

// Search runs a full-text query against the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	if s.db == nil {
		return nil, ErrSearchUnavailable
	}
	return s.db.Search(query, limit)
}

// ExecuteCascade runs the cascades for req.
func (s *Service) ExecuteCascade(ctx context.Context, req cascade.Request) (cascade.Result, error) {
	res, err := s.lifecycle.Cascade(ctx, req)
	if err != nil {
		return cascade.Result{}, err
	}
	s.validator.ClearCache()
	s.publish(res)
	return res, nil
}

// Action names a lifecycle action.
type Action string

const (
	ActionPromote  Action = "promote"
	ActionStart    Action = "start"
	ActionSubmit   Action = "submit"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
	ActionArchive  Action = "archive"
)

// Actions lists every supported action.
var Actions = []Action{ActionPromote, ActionStart, ActionSubmit, ActionComplete, ActionCancel, ActionArchive}

// ErrUnknownAction is returned by Do for an unsupported action.
var ErrUnknownAction = errors.New("artifactservice: unknown action")

// Do performs a lifecycle action on id.
func (s *Service) Do(ctx context.Context, action Action, id, actor string) (lifecycle.Outcome, error) {
	var fn func(context.Context, string, string) (lifecycle.Outcome, error)
	switch action {
	case ActionPromote:
		fn = s.lifecycle.Promote
	case ActionStart:
		fn = s.lifecycle.Start
	case ActionSubmit:
		fn = s.lifecycle.Submit
	case ActionComplete:
		fn = s.lifecycle.Complete
	case ActionCancel:
		fn = s.lifecycle.Cancel
	case ActionArchive:
		fn = s.lifecycle.Archive
	default:
		return lifecycle.Outcome{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	out, err := fn(ctx, id, actor)
	if err != nil {
		return lifecycle.Outcome{}, err
	}
	s.validator.ClearCache()
	s.publish(out.Cascade)
	return out, nil
}

// Create stores a new record from its YAML source. The event log must start
// with draft and follow the transition table.
func (s *Service) Create(ctx context.Context, data []byte) (*Detail, error) {
	a, err := parser.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
	}
	if !artifact.ValidID(a.ID) {
		return nil, fmt.Errorf("%w: id %q", ErrInvalidArtifact, a.ID)
	}
	if err := statemachine.VerifyHistory(a.Metadata.Events); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
	}
	if p, ok := artifact.ParentID(a.ID); ok {
		if _, err := s.store.PathOf(p); err != nil {
			return nil, fmt.Errorf("%w: parent %s: %w", ErrInvalidArtifact, p, err)
		}
	}
	if err := s.store.Create(a); err != nil {
		return nil, err
	}
	s.graph.ClearCache()
	s.validator.ClearCache()
	s.logger.Info("artifactservice: created", slog.String("artifact_id", a.ID))
	return s.Get(ctx, a.ID)
}

// Link records that blocker blocks blocked.
func (s *Service) Link(ctx context.Context, blocker, blocked string) error {
	if err := s.lifecycle.Link(ctx, blocker, blocked); err != nil {
		return err
	}
	s.validator.ClearCache()
	return nil
}
