// Package testutil provides shared fixtures for artifact stores, indexes and records.
package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/starford/kodebase/internal/artifact"
	"github.com/starford/kodebase/internal/index"
	"github.com/starford/kodebase/internal/storage"
)

// Actor is the human actor used by fixtures.
const Actor = "Ada Lovelace (ada@example.com)"

var triggerFor = map[artifact.State]artifact.Trigger{
	artifact.StateDraft:      artifact.TriggerArtifactCreated,
	artifact.StateReady:      artifact.TriggerDependenciesMet,
	artifact.StateBlocked:    artifact.TriggerHasDependencies,
	artifact.StateInProgress: artifact.TriggerBranchCreated,
	artifact.StateInReview:   artifact.TriggerPRReady,
	artifact.StateCompleted:  artifact.TriggerPRMerged,
	artifact.StateArchived:   artifact.TriggerParentArchived,
	artifact.StateCancelled:  artifact.TriggerManualCancel,
}

// NewArtifact returns a record that passes structural and content checks.
// Its log starts with draft followed by states in order.
func NewArtifact(id string, states ...artifact.State) *artifact.Artifact {
	a := &artifact.Artifact{
		ID: id,
		Metadata: artifact.Metadata{
			Title:         "Artifact " + id,
			Priority:      artifact.PriorityMedium,
			Estimation:    artifact.EstimationS,
			CreatedBy:     Actor,
			Assignee:      Actor,
			SchemaVersion: "0.2.0",
			Relationships: artifact.Relationships{Blocks: []string{}, BlockedBy: []string{}},
		},
	}
	switch a.Type() {
	case artifact.TypeInitiative:
		a.Content = artifact.Content{
			Vision:          "Make onboarding effortless",
			Scope:           &artifact.Scope{In: []string{"signup"}, Out: []string{"billing"}},
			SuccessCriteria: []string{"Reduce signup time by 50%"},
		}
	case artifact.TypeMilestone:
		a.Content = artifact.Content{
			Summary:      "Milestone " + id,
			Deliverables: []string{"Working flow"},
			Validation:   []string{"Demo passes"},
		}
	default:
		a.Content = artifact.Content{
			Summary:            "Issue " + id,
			AcceptanceCriteria: []string{"It works"},
		}
	}
	At(a, artifact.StateDraft)
	for _, s := range states {
		At(a, s)
	}
	return a
}

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// At appends an event for s with the conventional trigger.
func At(a *artifact.Artifact, s artifact.State) *artifact.Artifact {
	ts := epoch.Add(time.Duration(len(a.Metadata.Events)) * time.Minute)
	a.Metadata.Events = append(a.Metadata.Events, artifact.Event{
		State:     s,
		Timestamp: artifact.FormatTimestamp(ts),
		Actor:     Actor,
		Trigger:   triggerFor[s],
	})
	return a
}

// Blocked appends a blocked event listing ids as unresolved blockers and
// records them in blocked_by.
func Blocked(a *artifact.Artifact, ids ...string) *artifact.Artifact {
	At(a, artifact.StateBlocked)
	a.Metadata.Events[len(a.Metadata.Events)-1].Metadata = artifact.NewBlockedMetadata(ids...)
	for _, id := range ids {
		a.Metadata.Relationships.BlockedBy = artifact.AppendUnique(a.Metadata.Relationships.BlockedBy, id)
	}
	return a
}

// Link records blocker -> blocked on both records.
func Link(blocker, blocked *artifact.Artifact) {
	blocker.Metadata.Relationships.Blocks = artifact.AppendUnique(blocker.Metadata.Relationships.Blocks, blocked.ID)
	blocked.Metadata.Relationships.BlockedBy = artifact.AppendUnique(blocked.Metadata.Relationships.BlockedBy, blocker.ID)
}

// TestStore creates an artifact store over a temp directory.
func TestStore(t *testing.T) (string, *storage.Store) {
	t.Helper()
	root, provider := TestRoot(t)
	return root, storage.NewStore(provider)
}

// Seed writes every artifact to store.
func Seed(t *testing.T, store *storage.Store, arts ...*artifact.Artifact) {
	t.Helper()
	for _, a := range arts {
		if err := store.Put(a); err != nil {
			t.Fatalf("seed %s: %v", a.ID, err)
		}
	}
}

// TestDB creates a temporary SQLite index that is cleaned up with the test.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "kodebase-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRoot creates a temporary artifacts root with a storage.Provider.
func TestRoot(t *testing.T) (string, storage.Provider) {
	t.Helper()
	root := t.TempDir()
	provider, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, provider
}
