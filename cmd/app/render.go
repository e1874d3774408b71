package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/starford/kodebase/internal/artifact"
	"github.com/starford/kodebase/internal/artifactservice"
	"github.com/starford/kodebase/internal/cascade"
	"github.com/starford/kodebase/internal/finding"
	"github.com/starford/kodebase/internal/graph"
)

func newTable(w io.Writer, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}

func renderSummaries(w io.Writer, items []artifactservice.Summary) {
	if len(items) == 0 {
		fmt.Fprintln(w, "no artifacts")
		return
	}
	tw := newTable(w, table.Row{"ID", "Type", "State", "Priority", "Title"})
	for _, it := range items {
		tw.AppendRow(table.Row{it.ID, it.Type, it.State, it.Priority, it.Title})
	}
	tw.Render()
}

func renderArtifacts(w io.Writer, title string, as []*artifact.Artifact) {
	if len(as) == 0 {
		fmt.Fprintf(w, "%s: none\n", title)
		return
	}
	tw := newTable(w, table.Row{"ID", "State", "Title"})
	tw.SetTitle(title)
	for _, a := range as {
		tw.AppendRow(table.Row{a.ID, a.CurrentState(), a.Metadata.Title})
	}
	tw.Render()
}

func renderCascade(w io.Writer, res cascade.Result) {
	if res.Empty() {
		fmt.Fprintln(w, "no cascade changes")
		return
	}
	tw := newTable(w, table.Row{"Artifact", "Event", "Trigger", "Actor"})
	tw.SetTitle("Cascade " + res.RunID)
	for _, ev := range res.Events {
		tw.AppendRow(table.Row{ev.ArtifactID, ev.Event, ev.Trigger, ev.Actor})
	}
	tw.Render()
}

func renderFindings(w io.Writer, fs []finding.Finding) {
	if len(fs) == 0 {
		fmt.Fprintln(w, "no findings")
		return
	}
	tw := newTable(w, table.Row{"Artifact", "Severity", "Code", "Message"})
	errs := 0
	for _, f := range fs {
		id := f.ArtifactID
		if id == "" {
			id = string(f.Scope)
		}
		if f.Severity == finding.SeverityError {
			errs++
		}
		tw.AppendRow(table.Row{id, f.Severity, f.Code, f.Message})
	}
	tw.Render()
	fmt.Fprintf(w, "%d findings, %d errors\n", len(fs), errs)
}

func renderGraphChecks(w io.Writer, cycles []graph.Cycle, cross []graph.CrossLevelViolation, inc []graph.Inconsistency) {
	if len(cycles)+len(cross)+len(inc) == 0 {
		fmt.Fprintln(w, "dependency graph is consistent")
		return
	}
	tw := newTable(w, table.Row{"Check", "Detail"})
	for _, c := range cycles {
		tw.AppendRow(table.Row{"cycle", c.String()})
	}
	for _, v := range cross {
		tw.AppendRow(table.Row{"cross-level", fmt.Sprintf("%s blocked by %s: %s", v.Blocked, v.Blocker, v.Reason)})
	}
	for _, i := range inc {
		tw.AppendRow(table.Row{"relationship", i.Message})
	}
	tw.Render()
}
