// Package contextgen renders Markdown briefs for milestones and initiatives,
// aggregating the content of every child artifact.
package contextgen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/starford/kodebase/internal/artifact"
)

// Source is the read side of the artifact store.
type Source interface {
	Get(id string) (*artifact.Artifact, error)
	List() ([]string, error)
}

// Options toggles optional sections.
type Options struct {
	// IncludeDevProcess adds the event history of every issue.
	IncludeDevProcess bool `json:"include_dev_process"`
	// IncludeCompletionAnalysis adds completed/total counts.
	IncludeCompletionAnalysis bool `json:"include_completion_analysis"`
}

// Context is a rendered brief.
type Context struct {
	ArtifactID string        `json:"artifact_id"`
	Type       artifact.Type `json:"type"`
	// Artifacts lists every record included, root first.
	Artifacts []string `json:"artifacts"`
	Content   string   `json:"content"`
}

// Generator renders briefs from a Source.
type Generator struct {
	src Source
}

// New returns a generator reading from src.
func New(src Source) *Generator {
	return &Generator{src: src}
}

// Generate renders the brief for a milestone or an initiative.
func (g *Generator) Generate(id string, opts Options) (*Context, error) {
	t, err := artifact.TypeOf(id)
	if err != nil {
		return nil, fmt.Errorf("contextgen: %w", err)
	}
	switch t {
	case artifact.TypeMilestone:
		return g.Milestone(id, opts)
	case artifact.TypeInitiative:
		return g.Initiative(id, opts)
	}
	return nil, fmt.Errorf("contextgen: %s is an issue; context is generated for milestones and initiatives", id)
}

// Milestone renders a milestone with all of its issues.
func (g *Generator) Milestone(id string, opts Options) (*Context, error) {
	if t, err := artifact.TypeOf(id); err != nil || t != artifact.TypeMilestone {
		return nil, fmt.Errorf("contextgen: invalid milestone id %q", id)
	}
	m, err := g.src.Get(id)
	if err != nil {
		return nil, err
	}
	ids, err := g.src.List()
	if err != nil {
		return nil, err
	}
	issues, err := g.children(id, ids)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	ctx := &Context{ArtifactID: id, Type: artifact.TypeMilestone, Artifacts: []string{id}}
	writeMilestone(&b, m, issues, opts, "#")
	if opts.IncludeCompletionAnalysis {
		writeCompletion(&b, "##", nil, issues)
	}
	for _, is := range issues {
		ctx.Artifacts = append(ctx.Artifacts, is.ID)
	}
	ctx.Content = b.String()
	return ctx, nil
}

// Initiative renders an initiative with its milestones and their issues.
func (g *Generator) Initiative(id string, opts Options) (*Context, error) {
	if t, err := artifact.TypeOf(id); err != nil || t != artifact.TypeInitiative {
		return nil, fmt.Errorf("contextgen: invalid initiative id %q", id)
	}
	in, err := g.src.Get(id)
	if err != nil {
		return nil, err
	}
	ids, err := g.src.List()
	if err != nil {
		return nil, err
	}
	milestones, err := g.children(id, ids)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	ctx := &Context{ArtifactID: id, Type: artifact.TypeInitiative, Artifacts: []string{id}}
	fmt.Fprintf(&b, "# Initiative %s: %s\n\n", in.ID, in.Metadata.Title)
	writeMeta(&b, in)
	c := in.Content
	if c.Vision != "" {
		fmt.Fprintf(&b, "## Vision\n\n%s\n\n", strings.TrimSpace(c.Vision))
	}
	if c.Scope != nil {
		writeList(&b, "## In Scope", c.Scope.In)
		writeList(&b, "## Out of Scope", c.Scope.Out)
	}
	writeList(&b, "## Success Criteria", c.SuccessCriteria)

	var allIssues []*artifact.Artifact
	for _, m := range milestones {
		issues, err := g.children(m.ID, ids)
		if err != nil {
			return nil, err
		}
		writeMilestone(&b, m, issues, opts, "##")
		ctx.Artifacts = append(ctx.Artifacts, m.ID)
		for _, is := range issues {
			ctx.Artifacts = append(ctx.Artifacts, is.ID)
		}
		allIssues = append(allIssues, issues...)
	}
	if opts.IncludeCompletionAnalysis {
		writeCompletion(&b, "##", milestones, allIssues)
	}
	ctx.Content = b.String()
	return ctx, nil
}

func (g *Generator) children(parent string, ids []string) ([]*artifact.Artifact, error) {
	var out []*artifact.Artifact
	for _, id := range ids {
		if p, ok := artifact.ParentID(id); !ok || p != parent {
			continue
		}
		a, err := g.src.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out, nil
}

// lessID orders IDs segment by segment, numerically where possible, so A.10
// sorts after A.9.
func lessID(a, b string) bool {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		if len(as[i]) != len(bs[i]) && i > 0 {
			return len(as[i]) < len(bs[i])
		}
		return as[i] < bs[i]
	}
	return len(as) < len(bs)
}

func writeMeta(b *strings.Builder, a *artifact.Artifact) {
	fmt.Fprintf(b, "- **State:** %s\n", a.CurrentState())
	fmt.Fprintf(b, "- **Priority:** %s\n", a.Metadata.Priority)
	fmt.Fprintf(b, "- **Estimation:** %s\n", a.Metadata.Estimation)
	fmt.Fprintf(b, "- **Assignee:** %s\n", a.Metadata.Assignee)
	if rel := a.Metadata.Relationships; len(rel.BlockedBy) > 0 || len(rel.Blocks) > 0 {
		if len(rel.BlockedBy) > 0 {
			fmt.Fprintf(b, "- **Blocked by:** %s\n", strings.Join(rel.BlockedBy, ", "))
		}
		if len(rel.Blocks) > 0 {
			fmt.Fprintf(b, "- **Blocks:** %s\n", strings.Join(rel.Blocks, ", "))
		}
	}
	b.WriteByte('\n')
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s\n\n", heading)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", strings.TrimSpace(it))
	}
	b.WriteByte('\n')
}

func writeMilestone(b *strings.Builder, m *artifact.Artifact, issues []*artifact.Artifact, opts Options, h string) {
	fmt.Fprintf(b, "%s Milestone %s: %s\n\n", h, m.ID, m.Metadata.Title)
	writeMeta(b, m)
	if s := strings.TrimSpace(m.Content.Summary); s != "" {
		fmt.Fprintf(b, "%s\n\n", s)
	}
	writeList(b, h+"# Deliverables", m.Content.Deliverables)
	writeList(b, h+"# Validation", m.Content.Validation)

	if len(issues) == 0 {
		fmt.Fprintf(b, "%s# Issues\n\n_No issues._\n\n", h)
		return
	}
	fmt.Fprintf(b, "%s# Issues\n\n", h)
	for _, is := range issues {
		fmt.Fprintf(b, "%s## %s: %s\n\n", h, is.ID, is.Metadata.Title)
		writeMeta(b, is)
		if s := strings.TrimSpace(is.Content.Summary); s != "" {
			fmt.Fprintf(b, "%s\n\n", s)
		}
		writeList(b, "**Acceptance criteria**", is.Content.AcceptanceCriteria)
		if opts.IncludeDevProcess {
			writeHistory(b, is)
		}
	}
}

func writeHistory(b *strings.Builder, a *artifact.Artifact) {
	b.WriteString("**Development process**\n\n")
	b.WriteString("| Event | Timestamp | Actor | Trigger |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, ev := range a.Metadata.Events {
		fmt.Fprintf(b, "| %s | %s | %s | %s |\n", ev.State, ev.Timestamp, ev.Actor, ev.Trigger)
	}
	b.WriteByte('\n')
}

func writeCompletion(b *strings.Builder, h string, milestones, issues []*artifact.Artifact) {
	fmt.Fprintf(b, "%s Completion Analysis\n\n", h)
	if milestones != nil {
		fmt.Fprintf(b, "- **Milestones completed:** %d/%d\n", countCompleted(milestones), len(milestones))
	}
	done := countCompleted(issues)
	fmt.Fprintf(b, "- **Issues completed:** %d/%d", done, len(issues))
	if len(issues) > 0 {
		fmt.Fprintf(b, " (%d%%)", done*100/len(issues))
	}
	b.WriteString("\n")
	byState := make(map[artifact.State]int)
	for _, is := range issues {
		byState[is.CurrentState()]++
	}
	for _, s := range artifact.States {
		if n := byState[s]; n > 0 {
			fmt.Fprintf(b, "- %s: %d\n", s, n)
		}
	}
	b.WriteByte('\n')
}

func countCompleted(arts []*artifact.Artifact) int {
	n := 0
	for _, a := range arts {
		switch a.CurrentState() {
		case artifact.StateCompleted, artifact.StateArchived:
			n++
		}
	}
	return n
}
