// Package parser decodes, encodes and inspects artifact YAML documents.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/kodebase/internal/artifact"
)

// Problem is a mechanical formatting issue that can be fixed without
// changing the meaning of the record.
type Problem struct {
	Kind   ProblemKind
	Line   int
	Detail string
}

// ProblemKind classifies a Problem.
type ProblemKind string

const (
	TrailingWhitespace ProblemKind = "trailing_whitespace"
	FieldOrder         ProblemKind = "field_order"
)

// canonical key order per mapping; keys not listed are ignored by the check.
var (
	topOrder           = []string{"id", "metadata", "content"}
	metadataOrder      = []string{"title", "priority", "estimation", "created_by", "assignee", "schema_version", "relationships", "events"}
	relationshipsOrder = []string{"blocks", "blocked_by"}
	eventOrder         = []string{"event", "timestamp", "actor", "trigger", "metadata"}
	initiativeOrder    = []string{"vision", "scope", "success_criteria"}
	workOrder          = []string{"summary", "deliverables", "validation", "acceptance_criteria"}
)

// Parse decodes a record document.
func Parse(data []byte) (*artifact.Artifact, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("parser: empty document")
	}
	var a artifact.Artifact
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parser: decode: %w", err)
	}
	return &a, nil
}

// Encode renders a record in canonical field order with two-space indentation.
func Encode(a *artifact.Artifact) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(a); err != nil {
		return nil, fmt.Errorf("parser: encode %s: %w", a.ID, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("parser: encode %s: %w", a.ID, err)
	}
	return buf.Bytes(), nil
}

// Inspect reports trailing whitespace and out-of-order fields.
func Inspect(data []byte) ([]Problem, error) {
	var out []Problem
	for i, line := range strings.Split(string(data), "\n") {
		if strings.TrimRight(line, " \t\r") != line {
			out = append(out, Problem{Kind: TrailingWhitespace, Line: i + 1, Detail: "trailing whitespace"})
		}
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parser: inspect: %w", err)
	}
	if len(doc.Content) == 0 {
		return out, nil
	}
	root := doc.Content[0]
	out = append(out, checkOrder(root, "", topOrder)...)
	if md := child(root, "metadata"); md != nil {
		out = append(out, checkOrder(md, "metadata", metadataOrder)...)
		if rel := child(md, "relationships"); rel != nil {
			out = append(out, checkOrder(rel, "metadata.relationships", relationshipsOrder)...)
		}
		if evs := child(md, "events"); evs != nil && evs.Kind == yaml.SequenceNode {
			for i, ev := range evs.Content {
				out = append(out, checkOrder(ev, fmt.Sprintf("metadata.events[%d]", i), eventOrder)...)
			}
		}
	}
	if c := child(root, "content"); c != nil {
		out = append(out, checkOrder(c, "content", initiativeOrder)...)
		out = append(out, checkOrder(c, "content", workOrder)...)
	}
	return out, nil
}

// TrimTrailingWhitespace strips trailing blanks from every line and ends the
// document with exactly one newline.
func TrimTrailingWhitespace(data []byte) []byte {
	lines := strings.Split(string(data), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	s := strings.TrimRight(strings.Join(lines, "\n"), "\n")
	return []byte(s + "\n")
}

// Canonicalize re-encodes data so that fields appear in canonical order.
func Canonicalize(data []byte) ([]byte, error) {
	a, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Encode(a)
}

// SearchText flattens the human-readable content of a record for indexing.
func SearchText(a *artifact.Artifact) string {
	c := a.Content
	parts := []string{c.Vision, c.Summary}
	if c.Scope != nil {
		parts = append(parts, c.Scope.In...)
		parts = append(parts, c.Scope.Out...)
	}
	parts = append(parts, c.SuccessCriteria...)
	parts = append(parts, c.Deliverables...)
	parts = append(parts, c.Validation...)
	parts = append(parts, c.AcceptanceCriteria...)

	var b strings.Builder
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			b.WriteString(p)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func child(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func checkOrder(m *yaml.Node, path string, order []string) []Problem {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	rank := make(map[string]int, len(order))
	for i, k := range order {
		rank[k] = i
	}
	last, lastKey := -1, ""
	for i := 0; i+1 < len(m.Content); i += 2 {
		k := m.Content[i]
		r, ok := rank[k.Value]
		if !ok {
			continue
		}
		if r < last {
			where := k.Value
			if path != "" {
				where = path + "." + k.Value
			}
			return []Problem{{
				Kind:   FieldOrder,
				Line:   k.Line,
				Detail: fmt.Sprintf("%s should come before %s", where, lastKey),
			}}
		}
		last, lastKey = r, k.Value
	}
	return nil
}
