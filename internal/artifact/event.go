package artifact

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// State is a lifecycle state recorded by an event.
type State string

const (
	StateDraft      State = "draft"
	StateReady      State = "ready"
	StateBlocked    State = "blocked"
	StateCancelled  State = "cancelled"
	StateInProgress State = "in_progress"
	StateInReview   State = "in_review"
	StateCompleted  State = "completed"
	StateArchived   State = "archived"
)

// States lists every lifecycle state.
var States = []State{
	StateDraft, StateReady, StateBlocked, StateCancelled,
	StateInProgress, StateInReview, StateCompleted, StateArchived,
}

// Trigger is the declared cause of an event.
type Trigger string

const (
	TriggerArtifactCreated     Trigger = "artifact_created"
	TriggerDependenciesMet     Trigger = "dependencies_met"
	TriggerHasDependencies     Trigger = "has_dependencies"
	TriggerBranchCreated       Trigger = "branch_created"
	TriggerPRReady             Trigger = "pr_ready"
	TriggerPRMerged            Trigger = "pr_merged"
	TriggerDependencyCompleted Trigger = "dependency_completed"
	TriggerChildrenStarted     Trigger = "children_started"
	TriggerChildrenCompleted   Trigger = "children_completed"
	TriggerParentCompleted     Trigger = "parent_completed"
	TriggerParentArchived      Trigger = "parent_archived"
	TriggerManualCancel        Trigger = "manual_cancel"
)

// Triggers lists every known trigger.
var Triggers = []Trigger{
	TriggerArtifactCreated, TriggerDependenciesMet, TriggerHasDependencies,
	TriggerBranchCreated, TriggerPRReady, TriggerPRMerged,
	TriggerDependencyCompleted, TriggerChildrenStarted, TriggerChildrenCompleted,
	TriggerParentCompleted, TriggerParentArchived, TriggerManualCancel,
}

// Event is one entry of an artifact's append-only lifecycle log.
type Event struct {
	State     State          `yaml:"event" json:"event"`
	Timestamp string         `yaml:"timestamp" json:"timestamp"`
	Actor     string         `yaml:"actor" json:"actor"`
	Trigger   Trigger        `yaml:"trigger" json:"trigger"`
	Metadata  *EventMetadata `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// BlockingDependency tracks one outstanding blocker on a blocked event.
type BlockingDependency struct {
	ArtifactID string `yaml:"artifact_id" json:"artifact_id"`
	Resolved   bool   `yaml:"resolved" json:"resolved"`
	ResolvedAt string `yaml:"resolved_at,omitempty" json:"resolved_at,omitempty"`
}

// BlockedMetadata is carried by blocked events.
type BlockedMetadata struct {
	BlockingDependencies []BlockingDependency `yaml:"blocking_dependencies" json:"blocking_dependencies"`
	Extra                map[string]any       `yaml:",inline" json:"-"`
}

// AllResolved reports whether every blocking entry has been resolved.
func (m *BlockedMetadata) AllResolved() bool {
	for _, d := range m.BlockingDependencies {
		if !d.Resolved {
			return false
		}
	}
	return true
}

// Resolve marks the entry for id resolved at ts. It returns false when no
// unresolved entry for id exists.
func (m *BlockedMetadata) Resolve(id, ts string) bool {
	changed := false
	for i := range m.BlockingDependencies {
		d := &m.BlockingDependencies[i]
		if d.ArtifactID == id && !d.Resolved {
			d.Resolved = true
			d.ResolvedAt = ts
			changed = true
		}
	}
	return changed
}

// EventMetadata is a tagged union over known event metadata shapes.
// Exactly one of Blocked or Other is set after decoding.
type EventMetadata struct {
	Blocked *BlockedMetadata
	Other   map[string]any
}

// NewBlockedMetadata builds metadata listing ids as unresolved blockers.
func NewBlockedMetadata(ids ...string) *EventMetadata {
	deps := make([]BlockingDependency, 0, len(ids))
	for _, id := range ids {
		deps = append(deps, BlockingDependency{ArtifactID: id})
	}
	return &EventMetadata{Blocked: &BlockedMetadata{BlockingDependencies: deps}}
}

// MarshalYAML implements yaml.Marshaler.
func (m EventMetadata) MarshalYAML() (any, error) {
	if m.Blocked != nil {
		return m.Blocked, nil
	}
	return m.Other, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *EventMetadata) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("artifact: event metadata must be a mapping, got line %d", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == "blocking_dependencies" {
			var b BlockedMetadata
			if err := n.Decode(&b); err != nil {
				return fmt.Errorf("artifact: blocked metadata: %w", err)
			}
			m.Blocked, m.Other = &b, nil
			return nil
		}
	}
	var other map[string]any
	if err := n.Decode(&other); err != nil {
		return err
	}
	m.Blocked, m.Other = nil, other
	return nil
}

// MarshalJSON implements json.Marshaler.
func (m EventMetadata) MarshalJSON() ([]byte, error) {
	if m.Blocked != nil {
		return json.Marshal(m.Blocked)
	}
	return json.Marshal(m.Other)
}

func (m *EventMetadata) clone() *EventMetadata {
	if m == nil {
		return nil
	}
	out := &EventMetadata{}
	if m.Blocked != nil {
		b := &BlockedMetadata{
			BlockingDependencies: append([]BlockingDependency(nil), m.Blocked.BlockingDependencies...),
			Extra:                cloneMap(m.Blocked.Extra),
		}
		out.Blocked = b
	}
	out.Other = cloneMap(m.Other)
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
