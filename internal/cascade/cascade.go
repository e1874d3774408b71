// Package cascade propagates lifecycle changes across the artifact hierarchy:
// completing a blocker readies its dependents and starting a child starts
// its parent. Every cascade is idempotent; re-running one after it has been
// applied writes nothing and returns an empty Result.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/starford/kodebase/internal/apperr"
	"github.com/starford/kodebase/internal/artifact"
	"github.com/starford/kodebase/internal/graph"
	"github.com/starford/kodebase/internal/statemachine"
	"github.com/starford/kodebase/internal/storage"
	"github.com/starford/kodebase/internal/telemetry"
)

// DefaultActor is recorded on cascade events when no actor is supplied.
const DefaultActor = "agent.cascade"

const scopeName = "github.com/starford/kodebase/cascade"

// Request names the event that happened and who caused it.
type Request struct {
	ArtifactID string           `json:"artifact_id"`
	Trigger    artifact.Trigger `json:"trigger"`
	Actor      string           `json:"actor,omitempty"`
}

// EventRecord is one event appended by a cascade.
type EventRecord struct {
	ArtifactID string           `json:"artifact_id"`
	Event      artifact.State   `json:"event"`
	Trigger    artifact.Trigger `json:"trigger"`
	Actor      string           `json:"actor"`
}

// Result lists what a cascade changed. UpdatedArtifacts holds every record
// whose stored form changed; Events holds only newly appended events.
type Result struct {
	RunID            string               `json:"run_id,omitempty"`
	UpdatedArtifacts []*artifact.Artifact `json:"updated_artifacts"`
	Events           []EventRecord        `json:"events"`
}

// Empty reports whether nothing was changed.
func (r *Result) Empty() bool {
	return len(r.UpdatedArtifacts) == 0 && len(r.Events) == 0
}

// UpdatedIDs returns the IDs of UpdatedArtifacts in order.
func (r *Result) UpdatedIDs() []string {
	out := make([]string, len(r.UpdatedArtifacts))
	for i, a := range r.UpdatedArtifacts {
		out[i] = a.ID
	}
	return out
}

func (r *Result) append(o Result) {
	r.UpdatedArtifacts = append(r.UpdatedArtifacts, o.UpdatedArtifacts...)
	r.Events = append(r.Events, o.Events...)
}

// Engine runs cascades against a store. Dependents are discovered through
// the graph service and then re-read from the store before being mutated,
// so a stale snapshot can never overwrite newer data.
type Engine struct {
	store  storage.ArtifactStore
	graph  *graph.Service
	actor  string
	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithDefaultActor overrides DefaultActor.
func WithDefaultActor(actor string) Option {
	return func(e *Engine) { e.actor = actor }
}

// WithClock sets the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates a cascade engine.
func New(store storage.ArtifactStore, g *graph.Service, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		graph:  g,
		actor:  DefaultActor,
		now:    time.Now,
		tracer: telemetry.Tracer(scopeName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

func (e *Engine) actorOr(actor string) string {
	if actor == "" {
		return e.actor
	}
	return actor
}

func (e *Engine) start(ctx context.Context, name, id string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "cascade."+name,
		trace.WithAttributes(attribute.String("kodebase.artifact.id", id)))
}

func (e *Engine) end(span trace.Span, res Result, err error) {
	span.SetAttributes(
		attribute.Int("kodebase.cascade.updated", len(res.UpdatedArtifacts)),
		attribute.Int("kodebase.cascade.events", len(res.Events)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ExecuteCascades dispatches on req.Trigger: pr_merged runs the readiness
// cascade then the completion cascade, branch_created runs the progress
// cascade. Other triggers do nothing.
func (e *Engine) ExecuteCascades(ctx context.Context, req Request) (Result, error) {
	if !artifact.ValidID(req.ArtifactID) {
		e.logger.Warn("cascade: ignoring malformed artifact id",
			slog.String("artifact_id", req.ArtifactID),
			slog.String("trigger", string(req.Trigger)))
		return Result{}, nil
	}
	runID := uuid.NewString()
	ctx, span := e.start(ctx, "ExecuteCascades", req.ArtifactID)
	span.SetAttributes(
		attribute.String("kodebase.cascade.run_id", runID),
		attribute.String("kodebase.cascade.trigger", string(req.Trigger)),
	)

	var res Result
	var err error
	switch req.Trigger {
	case artifact.TriggerPRMerged:
		var r Result
		if r, err = e.ExecuteReadinessCascade(ctx, req.ArtifactID, req.Actor); err == nil {
			res.append(r)
			r, err = e.ExecuteCompletionCascade(ctx, req.ArtifactID, req.Actor)
			res.append(r)
		}
	case artifact.TriggerBranchCreated:
		res, err = e.ExecuteProgressCascade(ctx, req.ArtifactID, req.Trigger, req.Actor)
	}
	if !res.Empty() {
		res.RunID = runID
	}
	e.end(span, res, err)
	if err != nil {
		return Result{}, err
	}

	e.logger.Info("cascade: executed",
		slog.String("run_id", runID),
		slog.String("artifact_id", req.ArtifactID),
		slog.String("trigger", string(req.Trigger)),
		slog.Int("updated", len(res.UpdatedArtifacts)),
		slog.Int("events", len(res.Events)))
	return res, nil
}

// ExecuteReadinessCascade resolves completedID on the latest blocked event
// of every dependent and moves a dependent to ready once all of its
// blocking dependencies are resolved.
func (e *Engine) ExecuteReadinessCascade(ctx context.Context, completedID, actor string) (res Result, err error) {
	_, span := e.start(ctx, "ExecuteReadinessCascade", completedID)
	defer func() { e.end(span, res, err) }()

	dependents, err := e.graph.GetBlockedArtifacts(completedID)
	if errors.Is(err, apperr.ErrNotFound) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, err
	}

	ts := artifact.FormatTimestamp(e.now())
	for _, dep := range dependents {
		a, err := e.store.Get(dep.ID)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return Result{}, err
		}

		ev := a.LatestEvent(artifact.StateBlocked)
		if ev == nil {
			continue
		}
		if ev.Metadata == nil || ev.Metadata.Blocked == nil {
			e.logger.Warn("cascade: blocked event has no blocking dependencies",
				slog.String("artifact_id", a.ID),
				slog.String("completed_id", completedID))
			continue
		}
		changed := ev.Metadata.Blocked.Resolve(completedID, ts)
		allResolved := ev.Metadata.Blocked.AllResolved()

		var appended *EventRecord
		if allResolved && a.CurrentState() == artifact.StateBlocked {
			rec, err := e.transition(a, artifact.StateReady, artifact.TriggerDependenciesMet, actor)
			if err != nil {
				return Result{}, err
			}
			appended = &rec
		}
		if !changed && appended == nil {
			continue
		}
		if err := e.store.Put(a); err != nil {
			return Result{}, fmt.Errorf("cascade: write %s: %w", a.ID, err)
		}
		res.UpdatedArtifacts = append(res.UpdatedArtifacts, a)
		if appended != nil {
			res.Events = append(res.Events, *appended)
		}
	}
	if !res.Empty() {
		e.graph.ClearCache()
	}
	return res, nil
}

// ExecuteProgressCascade moves the parent of id to in_progress when it is
// exactly ready, and keeps going up the hierarchy while that holds. Trigger
// selection is left to ExecuteCascades; trigger is only recorded on the span.
func (e *Engine) ExecuteProgressCascade(ctx context.Context, id string, trigger artifact.Trigger, actor string) (res Result, err error) {
	_, span := e.start(ctx, "ExecuteProgressCascade", id)
	span.SetAttributes(attribute.String("kodebase.cascade.trigger", string(trigger)))
	defer func() { e.end(span, res, err) }()

	for cur := id; ; {
		parentID, ok := artifact.ParentID(cur)
		if !ok {
			break
		}
		parent, err := e.store.Get(parentID)
		if errors.Is(err, apperr.ErrNotFound) {
			break
		}
		if err != nil {
			return Result{}, err
		}
		if parent.CurrentState() != artifact.StateReady {
			break
		}
		rec, err := e.transition(parent, artifact.StateInProgress, artifact.TriggerChildrenStarted, actor)
		if err != nil {
			return Result{}, err
		}
		if err := e.store.Put(parent); err != nil {
			return Result{}, fmt.Errorf("cascade: write %s: %w", parent.ID, err)
		}
		res.UpdatedArtifacts = append(res.UpdatedArtifacts, parent)
		res.Events = append(res.Events, rec)
		cur = parentID
	}
	if !res.Empty() {
		e.graph.ClearCache()
	}
	return res, nil
}

// ExecuteCompletionCascade never changes anything: parents are completed
// explicitly, not inferred from their children.
func (e *Engine) ExecuteCompletionCascade(ctx context.Context, id, actor string) (Result, error) {
	_, span := e.start(ctx, "ExecuteCompletionCascade", id)
	e.end(span, Result{}, nil)
	return Result{}, nil
}

func (e *Engine) transition(a *artifact.Artifact, to artifact.State, trigger artifact.Trigger, actor string) (EventRecord, error) {
	ev, err := statemachine.PerformTransition(a, statemachine.Transition{
		To:      to,
		Trigger: trigger,
		Actor:   e.actorOr(actor),
		At:      e.now(),
	})
	if err != nil {
		return EventRecord{}, fmt.Errorf("cascade: %w", err)
	}
	return EventRecord{ArtifactID: a.ID, Event: ev.State, Trigger: ev.Trigger, Actor: ev.Actor}, nil
}
