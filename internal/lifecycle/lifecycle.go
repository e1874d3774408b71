// Package lifecycle implements the user-facing artifact actions (start,
// submit, complete, cancel, archive, link). Each action appends a validated
// event, persists it and runs the cascades that event implies.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/starford/kodebase/internal/artifact"
	"github.com/starford/kodebase/internal/cascade"
	"github.com/starford/kodebase/internal/graph"
	"github.com/starford/kodebase/internal/statemachine"
	"github.com/starford/kodebase/internal/storage"
)

var (
	// ErrSelfLink is returned when an artifact is linked to itself.
	ErrSelfLink = errors.New("lifecycle: an artifact cannot block itself")
	// ErrCrossLevel is returned for links the hierarchy does not allow.
	ErrCrossLevel = errors.New("lifecycle: cross-level dependency")
)

// Outcome describes what an action did.
type Outcome struct {
	Artifact *artifact.Artifact `json:"artifact"`
	// Event is nil when the action was already applied.
	Event   *artifact.Event `json:"event,omitempty"`
	NoOp    bool            `json:"no_op"`
	Cascade cascade.Result  `json:"cascade"`
}

// Service performs lifecycle actions against one store.
type Service struct {
	store   storage.ArtifactStore
	graph   *graph.Service
	cascade *cascade.Engine
	locker  *Locker
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLocker serialises every action through l.
func WithLocker(l *Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithClock sets the time source for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a lifecycle service.
func New(store storage.ArtifactStore, g *graph.Service, c *cascade.Engine, opts ...Option) *Service {
	s := &Service{store: store, graph: g, cascade: c, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Service) locked(ctx context.Context, fn func() error) error {
	if s.locker == nil {
		return fn()
	}
	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()
	return fn()
}

// Apply appends target to id's log via trigger, writes the record and runs
// the cascades for trigger.
func (s *Service) Apply(ctx context.Context, id string, target artifact.State, trigger artifact.Trigger, actor string) (Outcome, error) {
	var out Outcome
	err := s.locked(ctx, func() error {
		var err error
		out, err = s.apply(ctx, id, statemachine.Transition{To: target, Trigger: trigger, Actor: actor})
		return err
	})
	return out, err
}

func (s *Service) apply(ctx context.Context, id string, tr statemachine.Transition) (Outcome, error) {
	a, err := s.store.Get(id)
	if err != nil {
		return Outcome{}, err
	}
	if tr.At.IsZero() {
		tr.At = s.now()
	}
	ev, err := statemachine.PerformTransition(a, tr)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.store.Put(a); err != nil {
		return Outcome{}, fmt.Errorf("lifecycle: write %s: %w", id, err)
	}
	s.graph.ClearCache()
	s.logger.Info("lifecycle: event appended",
		slog.String("artifact_id", id),
		slog.String("event", string(ev.State)),
		slog.String("trigger", string(ev.Trigger)),
		slog.String("actor", ev.Actor))

	res, err := s.cascade.ExecuteCascades(ctx, cascade.Request{ArtifactID: id, Trigger: tr.Trigger, Actor: tr.Actor})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Artifact: a, Event: &ev, Cascade: res}, nil
}

// Cascade runs the cascades for req under the lock without appending an
// event of its own.
func (s *Service) Cascade(ctx context.Context, req cascade.Request) (cascade.Result, error) {
	var res cascade.Result
	err := s.locked(ctx, func() error {
		var err error
		res, err = s.cascade.ExecuteCascades(ctx, req)
		return err
	})
	return res, err
}

// Promote moves a draft to ready, or to blocked when some blocker is not
// completed yet. The blocked event lists those blockers as unresolved.
func (s *Service) Promote(ctx context.Context, id, actor string) (Outcome, error) {
	var out Outcome
	err := s.locked(ctx, func() error {
		a, err := s.store.Get(id)
		if err != nil {
			return err
		}
		var pending []string
		for _, dep := range a.Metadata.Relationships.BlockedBy {
			d, err := s.store.Get(dep)
			if err != nil {
				s.logger.Warn("lifecycle: skipping unreadable blocker",
					slog.String("artifact_id", id),
					slog.String("blocker_id", dep),
					slog.String("error", err.Error()))
				continue
			}
			if d.CurrentState() != artifact.StateCompleted {
				pending = append(pending, dep)
			}
		}
		tr := statemachine.Transition{To: artifact.StateReady, Trigger: artifact.TriggerDependenciesMet, Actor: actor}
		if len(pending) > 0 {
			tr = statemachine.Transition{
				To:       artifact.StateBlocked,
				Trigger:  artifact.TriggerHasDependencies,
				Actor:    actor,
				Metadata: artifact.NewBlockedMetadata(pending...),
			}
		}
		out, err = s.apply(ctx, id, tr)
		return err
	})
	return out, err
}

// Start moves a ready artifact to in_progress and starts its ancestors.
func (s *Service) Start(ctx context.Context, id, actor string) (Outcome, error) {
	return s.Apply(ctx, id, artifact.StateInProgress, artifact.TriggerBranchCreated, actor)
}

// Submit moves an in-progress artifact to in_review.
func (s *Service) Submit(ctx context.Context, id, actor string) (Outcome, error) {
	return s.Apply(ctx, id, artifact.StateInReview, artifact.TriggerPRReady, actor)
}

// Complete moves an in-review artifact to completed and readies its
// dependents. Completing an artifact that already has a completed event
// appends nothing but still re-runs the cascades, which finishes any
// cascade an earlier run left half done.
func (s *Service) Complete(ctx context.Context, id, actor string) (Outcome, error) {
	var out Outcome
	err := s.locked(ctx, func() error {
		a, err := s.store.Get(id)
		if err != nil {
			return err
		}
		if !a.HasEvent(artifact.StateCompleted) {
			out, err = s.apply(ctx, id, statemachine.Transition{
				To: artifact.StateCompleted, Trigger: artifact.TriggerPRMerged, Actor: actor,
			})
			return err
		}
		s.logger.Info("lifecycle: already completed", slog.String("artifact_id", id))
		res, err := s.cascade.ExecuteCascades(ctx, cascade.Request{
			ArtifactID: id, Trigger: artifact.TriggerPRMerged, Actor: actor,
		})
		if err != nil {
			return err
		}
		out = Outcome{Artifact: a, NoOp: true, Cascade: res}
		return nil
	})
	return out, err
}

// Cancel cancels a non-terminal artifact.
func (s *Service) Cancel(ctx context.Context, id, actor string) (Outcome, error) {
	return s.Apply(ctx, id, artifact.StateCancelled, artifact.TriggerManualCancel, actor)
}

// Archive archives a completed artifact.
func (s *Service) Archive(ctx context.Context, id, actor string) (Outcome, error) {
	return s.Apply(ctx, id, artifact.StateArchived, artifact.TriggerParentArchived, actor)
}

// Link records that blocker blocks blocked on both records. Self links,
// cross-level links and links that would close a cycle are rejected. When
// blocked is currently blocked, an unfinished blocker is also added to its
// blocking dependencies.
func (s *Service) Link(ctx context.Context, blockerID, blockedID string) error {
	if blockerID == blockedID {
		return ErrSelfLink
	}
	if reason, bad := graph.CrossLevelReason(blockedID, blockerID); bad {
		return fmt.Errorf("%w: %s", ErrCrossLevel, reason)
	}
	return s.locked(ctx, func() error {
		blocker, err := s.store.Get(blockerID)
		if err != nil {
			return err
		}
		blocked, err := s.store.Get(blockedID)
		if err != nil {
			return err
		}

		// The new edge closes a loop if blocker already depends on blocked.
		s.graph.ClearCache()
		path, found, err := s.graph.DependencyPath(blockerID, blockedID)
		if err != nil {
			return err
		}
		if found {
			return &graph.CycleError{Path: append([]string{blockedID}, path[:len(path)-1]...)}
		}

		blocker.Metadata.Relationships.Blocks = artifact.AppendUnique(blocker.Metadata.Relationships.Blocks, blockedID)
		blocked.Metadata.Relationships.BlockedBy = artifact.AppendUnique(blocked.Metadata.Relationships.BlockedBy, blockerID)
		if blocked.CurrentState() == artifact.StateBlocked && blocker.CurrentState() != artifact.StateCompleted {
			if ev := blocked.LatestEvent(artifact.StateBlocked); ev.Metadata != nil && ev.Metadata.Blocked != nil {
				m := ev.Metadata.Blocked
				known := slices.ContainsFunc(m.BlockingDependencies, func(d artifact.BlockingDependency) bool {
					return d.ArtifactID == blockerID
				})
				if !known {
					m.BlockingDependencies = append(m.BlockingDependencies, artifact.BlockingDependency{ArtifactID: blockerID})
				}
			}
		}

		if err := s.store.Put(blocker); err != nil {
			return fmt.Errorf("lifecycle: write %s: %w", blockerID, err)
		}
		if err := s.store.Put(blocked); err != nil {
			return fmt.Errorf("lifecycle: write %s: %w", blockedID, err)
		}
		s.graph.ClearCache()
		s.logger.Info("lifecycle: linked",
			slog.String("blocker_id", blockerID),
			slog.String("blocked_id", blockedID))
		return nil
	})
}
