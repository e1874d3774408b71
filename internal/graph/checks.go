package graph

import (
	"fmt"
	"log/slog"

	"github.com/starford/kodebase/internal/artifact"
)

// CrossLevelViolation is an edge the hierarchy does not allow.
type CrossLevelViolation struct {
	Blocked     string        `json:"blocked"`
	Blocker     string        `json:"blocker"`
	BlockedType artifact.Type `json:"blocked_type"`
	BlockerType artifact.Type `json:"blocker_type"`
	Reason      string        `json:"reason"`
}

// CrossLevelReason reports why blocked may not depend on blocker.
//
// Same-level edges are always allowed. Initiatives only relate to other
// initiatives. An issue may wait on its own milestone but not on another
// milestone. A milestone may wait on any issue.
func CrossLevelReason(blocked, blocker string) (string, bool) {
	bt, err1 := artifact.TypeOf(blocked)
	kt, err2 := artifact.TypeOf(blocker)
	if err1 != nil || err2 != nil || bt == kt {
		return "", false
	}
	switch {
	case bt == artifact.TypeInitiative || kt == artifact.TypeInitiative:
		return fmt.Sprintf("%s %s cannot depend on %s %s: initiatives only depend on initiatives", bt, blocked, kt, blocker), true
	case bt == artifact.TypeIssue && kt == artifact.TypeMilestone && !artifact.IsAncestor(blocker, blocked):
		return fmt.Sprintf("issue %s cannot depend on milestone %s outside its lineage", blocked, blocker), true
	}
	return "", false
}

// DetectCrossLevelDependencies flags every existing edge that CrossLevelReason rejects.
func (s *Service) DetectCrossLevelDependencies() ([]CrossLevelViolation, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	var out []CrossLevelViolation
	for _, id := range snap.IDs() {
		a, _ := snap.Get(id)
		for _, dep := range a.Metadata.Relationships.BlockedBy {
			d, ok := snap.Get(dep)
			if !ok {
				continue
			}
			if reason, bad := CrossLevelReason(id, dep); bad {
				out = append(out, CrossLevelViolation{
					Blocked:     id,
					Blocker:     dep,
					BlockedType: a.Type(),
					BlockerType: d.Type(),
					Reason:      reason,
				})
			}
		}
	}
	return out, nil
}

// Inconsistency is a one-sided blocks/blocked_by edge.
type Inconsistency struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Relation string `json:"relation"`
	Message  string `json:"message"`
}

// ValidateRelationshipConsistency checks that A.blocks contains B exactly
// when B.blocked_by contains A. References to unknown records are logged.
func (s *Service) ValidateRelationshipConsistency() ([]Inconsistency, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	var out []Inconsistency
	for _, id := range snap.IDs() {
		a, _ := snap.Get(id)
		for _, b := range a.Metadata.Relationships.Blocks {
			other, ok := snap.Get(b)
			if !ok {
				s.logger.Warn("graph: blocks references unknown artifact",
					slog.String("artifact_id", id), slog.String("target_id", b))
				continue
			}
			if !other.BlockedBy(id) {
				out = append(out, Inconsistency{
					From: id, To: b, Relation: "blocks",
					Message: fmt.Sprintf("%s blocks %s but %s does not list %s in blocked_by", id, b, b, id),
				})
			}
		}
		for _, b := range a.Metadata.Relationships.BlockedBy {
			other, ok := snap.Get(b)
			if !ok {
				s.warnMissing(id, b)
				continue
			}
			if !other.Blocks(id) {
				out = append(out, Inconsistency{
					From: id, To: b, Relation: "blocked_by",
					Message: fmt.Sprintf("%s is blocked by %s but %s does not list %s in blocks", id, b, b, id),
				})
			}
		}
	}
	return out, nil
}
