package artifact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTypeOf(t *testing.T) {
	cases := map[string]Type{
		"A":      TypeInitiative,
		"ABC":    TypeInitiative,
		"A.1":    TypeMilestone,
		"B.12":   TypeMilestone,
		"A.1.3":  TypeIssue,
		"AB.2.9": TypeIssue,
	}
	for id, want := range cases {
		got, err := TypeOf(id)
		require.NoError(t, err, id)
		require.Equal(t, want, got, id)
	}

	for _, bad := range []string{"", "a", "A.", "A.x", "1.2", "A.1.2.3", "A-1"} {
		_, err := TypeOf(bad)
		require.Error(t, err, bad)
	}
}

func TestParentID(t *testing.T) {
	p, ok := ParentID("A.1.3")
	require.True(t, ok)
	require.Equal(t, "A.1", p)

	p, ok = ParentID("A.1")
	require.True(t, ok)
	require.Equal(t, "A", p)

	_, ok = ParentID("A")
	require.False(t, ok)
}

func TestIDFromFileName(t *testing.T) {
	cases := map[string]string{
		"A.yml":                    "A",
		"A.platform-revamp.yml":    "A",
		"A.1.yml":                  "A.1",
		"A.1.auth.yml":             "A.1",
		"A.1.3.yml":                "A.1.3",
		"A.1.3.fix-login-form.yml": "A.1.3",
	}
	for name, want := range cases {
		got, ok := IDFromFileName(name)
		require.True(t, ok, name)
		require.Equal(t, want, got, name)
	}
	for _, bad := range []string{"readme.md", "a.yml", "A.1.3.yaml", ".kodebase-tmp-123"} {
		_, ok := IDFromFileName(bad)
		require.False(t, ok, bad)
	}
}

func TestTimestamps(t *testing.T) {
	ts := FormatTimestamp(time.Date(2025, 7, 1, 9, 30, 15, 999, time.FixedZone("x", 3600)))
	require.Equal(t, "2025-07-01T08:30:15Z", ts)
	require.True(t, ValidTimestamp(ts))
	require.False(t, ValidTimestamp("2025-07-01T08:30:15.123Z"))
	require.False(t, ValidTimestamp("2025-07-01T08:30:15+01:00"))
	require.False(t, ValidTimestamp("2025-13-01T08:30:15Z"))
}

const blockedIssueYAML = `id: A.1.2
metadata:
  title: Wire login
  priority: high
  estimation: S
  created_by: Ada (ada@example.com)
  assignee: Ada (ada@example.com)
  schema_version: 0.2.0
  relationships:
    blocks: []
    blocked_by: [A.1.1]
  events:
    - event: draft
      timestamp: 2025-01-01T00:00:00Z
      actor: Ada (ada@example.com)
      trigger: artifact_created
    - event: blocked
      timestamp: 2025-01-01T00:05:00Z
      actor: Ada (ada@example.com)
      trigger: has_dependencies
      metadata:
        blocking_dependencies:
          - artifact_id: A.1.1
            resolved: false
    - event: cancelled
      timestamp: 2025-01-02T00:00:00Z
      actor: Ada (ada@example.com)
      trigger: manual_cancel
      metadata:
        reason: duplicate
content:
  summary: Wire the login form
  acceptance_criteria: [Form posts credentials]
`

func TestEventMetadataUnion(t *testing.T) {
	var a Artifact
	require.NoError(t, yaml.Unmarshal([]byte(blockedIssueYAML), &a))

	blocked := a.LatestEvent(StateBlocked)
	require.NotNil(t, blocked)
	require.NotNil(t, blocked.Metadata.Blocked)
	require.Nil(t, blocked.Metadata.Other)
	require.Len(t, blocked.Metadata.Blocked.BlockingDependencies, 1)
	require.False(t, blocked.Metadata.Blocked.AllResolved())

	cancelled := a.LatestEvent(StateCancelled)
	require.Nil(t, cancelled.Metadata.Blocked)
	require.Equal(t, "duplicate", cancelled.Metadata.Other["reason"])

	require.Nil(t, a.Metadata.Events[0].Metadata)
	require.Equal(t, StateCancelled, a.CurrentState())

	out, err := yaml.Marshal(&a)
	require.NoError(t, err)
	require.Contains(t, string(out), "blocking_dependencies:")
	require.Contains(t, string(out), "reason: duplicate")
}

func TestBlockedMetadataResolve(t *testing.T) {
	m := NewBlockedMetadata("A.1", "A.2").Blocked
	require.True(t, m.Resolve("A.1", "2025-01-01T00:00:00Z"))
	require.False(t, m.Resolve("A.1", "2025-01-02T00:00:00Z"))
	require.Equal(t, "2025-01-01T00:00:00Z", m.BlockingDependencies[0].ResolvedAt)
	require.False(t, m.AllResolved())
	require.True(t, m.Resolve("A.2", "2025-01-03T00:00:00Z"))
	require.True(t, m.AllResolved())
}

func TestCloneIsDeep(t *testing.T) {
	var a Artifact
	require.NoError(t, yaml.Unmarshal([]byte(blockedIssueYAML), &a))

	c := a.Clone()
	c.Metadata.Relationships.BlockedBy[0] = "Z.9.9"
	c.LatestEvent(StateBlocked).Metadata.Blocked.Resolve("A.1.1", "2025-01-05T00:00:00Z")
	c.Metadata.Events = append(c.Metadata.Events, Event{State: StateArchived})

	require.Equal(t, "A.1.1", a.Metadata.Relationships.BlockedBy[0])
	require.False(t, a.LatestEvent(StateBlocked).Metadata.Blocked.AllResolved())
	require.Len(t, a.Metadata.Events, 3)
}

func TestValidate(t *testing.T) {
	var a Artifact
	require.NoError(t, yaml.Unmarshal([]byte(blockedIssueYAML), &a))
	require.NoError(t, a.Validate())

	bad := a.Clone()
	bad.ID = "a-1"
	bad.Metadata.Priority = "urgent"
	bad.Metadata.Events[1].Timestamp = "2025-01-01 00:05"
	bad.Metadata.Relationships.BlockedBy = []string{"nope"}
	err := bad.Validate()
	require.Error(t, err)
	for _, frag := range []string{"id", "priority", "timestamp", "blocked_by"} {
		require.Contains(t, err.Error(), frag)
	}

	empty := a.Clone()
	empty.Metadata.Events = nil
	require.Error(t, empty.Validate())
}
