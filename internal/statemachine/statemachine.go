// Package statemachine enforces the artifact lifecycle. It is pure: it
// inspects and appends to in-memory event logs and never touches storage.
package statemachine

import (
	"errors"
	"fmt"
	"time"

	"github.com/starford/kodebase/internal/artifact"
)

// ErrInvalidTransition is returned when an event may not be appended.
var ErrInvalidTransition = errors.New("invalid transition")

type edge struct {
	from, to artifact.State
}

var transitions = map[edge][]artifact.Trigger{
	{artifact.StateDraft, artifact.StateReady}:           {artifact.TriggerDependenciesMet},
	{artifact.StateDraft, artifact.StateBlocked}:         {artifact.TriggerHasDependencies},
	{artifact.StateBlocked, artifact.StateReady}:         {artifact.TriggerDependenciesMet},
	{artifact.StateReady, artifact.StateInProgress}:      {artifact.TriggerBranchCreated, artifact.TriggerChildrenStarted},
	{artifact.StateInProgress, artifact.StateInReview}:   {artifact.TriggerPRReady},
	{artifact.StateInReview, artifact.StateCompleted}:    {artifact.TriggerPRMerged},
	{artifact.StateCompleted, artifact.StateArchived}:    {artifact.TriggerParentArchived},
}

// IsTerminal reports whether no further work transition leaves s.
// completed may still be archived but can no longer be cancelled.
func IsTerminal(s artifact.State) bool {
	switch s {
	case artifact.StateCompleted, artifact.StateCancelled, artifact.StateArchived:
		return true
	}
	return false
}

// ValidTriggers returns the triggers that may drive from -> to.
func ValidTriggers(from, to artifact.State) []artifact.Trigger {
	if to == artifact.StateCancelled {
		if from == "" || IsTerminal(from) {
			return nil
		}
		return []artifact.Trigger{artifact.TriggerManualCancel}
	}
	return transitions[edge{from, to}]
}

// TransitionAllowed reports whether the table contains from -> to via trigger.
func TransitionAllowed(from, to artifact.State, trigger artifact.Trigger) bool {
	for _, t := range ValidTriggers(from, to) {
		if t == trigger {
			return true
		}
	}
	return false
}

// CanTransition reports whether a may move from its current state to target.
// Leaving blocked for ready additionally requires every blocking dependency
// on the latest blocked event to be resolved.
func CanTransition(a *artifact.Artifact, target artifact.State) bool {
	from := a.CurrentState()
	if len(ValidTriggers(from, target)) == 0 {
		return false
	}
	if from == artifact.StateBlocked && target == artifact.StateReady {
		return blockersResolved(a)
	}
	return true
}

func blockersResolved(a *artifact.Artifact) bool {
	ev := a.LatestEvent(artifact.StateBlocked)
	if ev == nil || ev.Metadata == nil || ev.Metadata.Blocked == nil {
		return true
	}
	return ev.Metadata.Blocked.AllResolved()
}

// Transition describes an event to append.
type Transition struct {
	To       artifact.State
	Trigger  artifact.Trigger
	Actor    string
	Metadata *artifact.EventMetadata
	// At defaults to the current time.
	At time.Time
}

// PerformTransition appends the event described by tr to a and returns it.
func PerformTransition(a *artifact.Artifact, tr Transition) (artifact.Event, error) {
	from := a.CurrentState()
	if !CanTransition(a, tr.To) {
		return artifact.Event{}, fmt.Errorf("%w: %s cannot move from %q to %q", ErrInvalidTransition, a.ID, from, tr.To)
	}
	if !TransitionAllowed(from, tr.To, tr.Trigger) {
		return artifact.Event{}, fmt.Errorf("%w: %s cannot move from %q to %q via %q", ErrInvalidTransition, a.ID, from, tr.To, tr.Trigger)
	}
	at := tr.At
	if at.IsZero() {
		at = time.Now()
	}
	ev := artifact.Event{
		State:     tr.To,
		Timestamp: artifact.FormatTimestamp(at),
		Actor:     tr.Actor,
		Trigger:   tr.Trigger,
		Metadata:  tr.Metadata,
	}
	a.Metadata.Events = append(a.Metadata.Events, ev)
	return ev, nil
}

// VerifyHistory checks that events start with draft and that every
// consecutive pair obeys the transition table.
func VerifyHistory(events []artifact.Event) error {
	if len(events) == 0 {
		return errors.New("events: must not be empty")
	}
	if events[0].State != artifact.StateDraft {
		return fmt.Errorf("events: first event must be %q, got %q", artifact.StateDraft, events[0].State)
	}
	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1], events[i]
		if !TransitionAllowed(prev.State, cur.State, cur.Trigger) {
			return fmt.Errorf("events[%d]: %q -> %q via %q is not allowed", i, prev.State, cur.State, cur.Trigger)
		}
		if prev.State == artifact.StateBlocked && cur.State == artifact.StateReady &&
			prev.Metadata != nil && prev.Metadata.Blocked != nil && !prev.Metadata.Blocked.AllResolved() {
			return fmt.Errorf("events[%d]: ready while blocking dependencies are unresolved", i)
		}
	}
	return nil
}
