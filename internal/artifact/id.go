package artifact

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Type is the hierarchy level of an artifact, derived from its ID depth.
type Type string

const (
	TypeInitiative Type = "initiative"
	TypeMilestone  Type = "milestone"
	TypeIssue      Type = "issue"
)

var (
	initiativeRe = regexp.MustCompile(`^[A-Z]+$`)
	milestoneRe  = regexp.MustCompile(`^[A-Z]+\.\d+$`)
	issueRe      = regexp.MustCompile(`^[A-Z]+\.\d+\.\d+$`)
	timestampRe  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`)

	// fileIDRe pulls the ID out of "<ID>.yml" or "<ID>.<slug>.yml" base names.
	// A slug never starts with a digit, which keeps "A.1.slug" distinct from "A.1.3".
	fileIDRe = regexp.MustCompile(`^([A-Z]+(?:\.\d+){0,2})(?:\.[^0-9.][^/]*)?\.yml$`)
)

// TimestampLayout is the only accepted event timestamp form.
const TimestampLayout = "2006-01-02T15:04:05Z"

// TypeOf returns the artifact type encoded by id.
func TypeOf(id string) (Type, error) {
	switch {
	case initiativeRe.MatchString(id):
		return TypeInitiative, nil
	case milestoneRe.MatchString(id):
		return TypeMilestone, nil
	case issueRe.MatchString(id):
		return TypeIssue, nil
	}
	return "", fmt.Errorf("artifact: invalid id %q", id)
}

// ValidID reports whether id matches one of the three ID grammars.
func ValidID(id string) bool {
	_, err := TypeOf(id)
	return err == nil
}

// Depth returns 1 for initiatives, 2 for milestones and 3 for issues.
func (t Type) Depth() int {
	switch t {
	case TypeInitiative:
		return 1
	case TypeMilestone:
		return 2
	case TypeIssue:
		return 3
	}
	return 0
}

// ParentID drops the last dot segment. Top-level IDs have no parent.
func ParentID(id string) (string, bool) {
	i := strings.LastIndex(id, ".")
	if i < 0 {
		return "", false
	}
	return id[:i], true
}

// IsAncestor reports whether ancestor is a strict hierarchical prefix of id.
func IsAncestor(ancestor, id string) bool {
	return strings.HasPrefix(id, ancestor+".")
}

// IDFromFileName extracts the artifact ID from a record file base name.
func IDFromFileName(name string) (string, bool) {
	m := fileIDRe.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FormatTimestamp renders t in the event timestamp grammar.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ValidTimestamp reports whether s is a second-precision UTC timestamp.
func ValidTimestamp(s string) bool {
	if !timestampRe.MatchString(s) {
		return false
	}
	_, err := time.Parse(TimestampLayout, s)
	return err == nil
}
