// Package readiness decides whether an artifact has enough content to be
// worked on. It reports every missing piece rather than stopping at the first.
package readiness

import (
	"regexp"
	"sort"
	"strings"

	"github.com/starford/kodebase/internal/artifact"
	"github.com/starford/kodebase/internal/finding"
)

// Vocabulary lists the words that mark a success criterion as measurable.
var Vocabulary = []string{
	"increase", "decrease", "improve", "reduce", "achieve", "target", "kpi",
	"metric", "measure", "rate", "score", "percent", "coverage", "latency",
	"throughput", "uptime", "adoption", "faster", "fewer", "less", "more", "within",
}

var measurableRe = regexp.MustCompile(`[0-9%]|(?i)\b(` + strings.Join(Vocabulary, "|") + `)\b`)

// Measurable reports whether criterion names something that can be checked.
func Measurable(criterion string) bool {
	return measurableRe.MatchString(criterion)
}

// Validate returns the readiness findings for a.
//
// records is the full id -> record map. When it is nil the child and
// dependency checks are skipped and only the record's own content is judged.
func Validate(a *artifact.Artifact, records map[string]*artifact.Artifact) []finding.Finding {
	var out []finding.Finding
	if strings.TrimSpace(a.Metadata.Title) == "" {
		out = append(out, finding.New(finding.MissingTitle, a.ID, "metadata.title", "title is required"))
	}
	switch a.Type() {
	case artifact.TypeIssue:
		out = append(out, issue(a, records)...)
	case artifact.TypeMilestone:
		out = append(out, milestone(a, records)...)
	case artifact.TypeInitiative:
		out = append(out, initiative(a, records)...)
	}
	return out
}

// Ready reports whether Validate finds no errors.
func Ready(a *artifact.Artifact, records map[string]*artifact.Artifact) bool {
	return !finding.HasErrors(Validate(a, records))
}

func issue(a *artifact.Artifact, records map[string]*artifact.Artifact) []finding.Finding {
	var out []finding.Finding
	c := a.Content
	if strings.TrimSpace(c.Summary) == "" {
		out = append(out, finding.New(finding.IssueMissingSummary, a.ID, "content.summary", "summary is required"))
	}
	if nonEmpty(c.AcceptanceCriteria) == 0 {
		out = append(out, finding.New(finding.IssueMissingAcceptanceCriteria, a.ID, "content.acceptance_criteria",
			"at least one acceptance criterion is required"))
	}
	if records == nil {
		return out
	}
	for _, dep := range a.Metadata.Relationships.BlockedBy {
		d, ok := records[dep]
		if !ok {
			out = append(out, finding.New(finding.IssueInvalidDependency, a.ID, "metadata.relationships.blocked_by",
				"dependency %s does not exist", dep))
			continue
		}
		switch s := d.CurrentState(); s {
		case artifact.StateReady, artifact.StateCompleted:
		default:
			out = append(out, finding.New(finding.IssueDependencyNotReady, a.ID, "metadata.relationships.blocked_by",
				"dependency %s is %s, want ready or completed", dep, s))
		}
	}
	return out
}

func milestone(a *artifact.Artifact, records map[string]*artifact.Artifact) []finding.Finding {
	var out []finding.Finding
	c := a.Content
	if nonEmpty(c.Deliverables) == 0 {
		out = append(out, finding.New(finding.MilestoneMissingDeliverables, a.ID, "content.deliverables",
			"at least one deliverable is required"))
	}
	if nonEmpty(c.Validation) == 0 {
		out = append(out, finding.New(finding.MilestoneMissingValidation, a.ID, "content.validation",
			"at least one validation item is required"))
	}
	if records == nil {
		return out
	}
	for _, child := range Children(a.ID, records) {
		switch child.CurrentState() {
		case artifact.StateReady, artifact.StateBlocked:
			return out
		}
	}
	return append(out, finding.New(finding.MilestoneNoReadyIssues, a.ID, "",
		"milestone needs at least one issue in ready or blocked"))
}

func initiative(a *artifact.Artifact, records map[string]*artifact.Artifact) []finding.Finding {
	var out []finding.Finding
	c := a.Content
	if strings.TrimSpace(c.Vision) == "" {
		out = append(out, finding.New(finding.InitiativeMissingVision, a.ID, "content.vision", "vision is required"))
	}
	if c.Scope == nil || nonEmpty(c.Scope.In)+nonEmpty(c.Scope.Out) == 0 {
		out = append(out, finding.New(finding.InitiativeMissingScope, a.ID, "content.scope", "scope is required"))
	}
	if nonEmpty(c.SuccessCriteria) == 0 {
		out = append(out, finding.New(finding.InitiativeMissingSuccess, a.ID, "content.success_criteria",
			"at least one success criterion is required"))
	}
	for i, sc := range c.SuccessCriteria {
		if strings.TrimSpace(sc) != "" && !Measurable(sc) {
			out = append(out, finding.New(finding.InitiativeUnmeasurableCriteria, a.ID, "content.success_criteria",
				"success criterion %d is not measurable: %q", i+1, sc))
		}
	}
	if records == nil {
		return out
	}
	for _, child := range Children(a.ID, records) {
		if Ready(child, records) {
			return out
		}
	}
	return append(out, finding.New(finding.InitiativeNoReadyMilestones, a.ID, "",
		"initiative needs at least one milestone that passes readiness"))
}

// Children returns the direct children of id in records, sorted by ID.
func Children(id string, records map[string]*artifact.Artifact) []*artifact.Artifact {
	var out []*artifact.Artifact
	for cid, c := range records {
		if p, ok := artifact.ParentID(cid); ok && p == id {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func nonEmpty(list []string) int {
	n := 0
	for _, s := range list {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}
