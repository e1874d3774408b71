package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/kodebase/internal/apperr"
	"github.com/starford/kodebase/internal/artifact"
)

func record(id string) *artifact.Artifact {
	return &artifact.Artifact{
		ID: id,
		Metadata: artifact.Metadata{
			Title:         "Record " + id,
			Priority:      artifact.PriorityLow,
			Estimation:    artifact.EstimationM,
			CreatedBy:     "Ada (ada@example.com)",
			Assignee:      "Ada (ada@example.com)",
			SchemaVersion: "0.2.0",
			Events: []artifact.Event{{
				State:     artifact.StateDraft,
				Timestamp: "2025-01-01T00:00:00Z",
				Actor:     "Ada (ada@example.com)",
				Trigger:   artifact.TriggerArtifactCreated,
			}},
		},
	}
}

func TestDefaultPath(t *testing.T) {
	cases := map[string]string{
		"A":     "A/A.yml",
		"A.1":   "A/A.1/A.1.yml",
		"A.1.3": "A/A.1/A.1.3.yml",
	}
	for id, want := range cases {
		if got := DefaultPath(id); got != want {
			t.Errorf("DefaultPath(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestStore_PutGetList(t *testing.T) {
	s := NewStore(tempRoot(t))
	for _, id := range []string{"A.1.2", "A", "A.1"} {
		if err := s.Put(record(id)); err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
	}

	got, err := s.Get("A.1.2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Metadata.Title != "Record A.1.2" {
		t.Errorf("title = %q", got.Metadata.Title)
	}

	ids, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 3 || ids[0] != "A" || ids[2] != "A.1.2" {
		t.Errorf("ids = %v", ids)
	}
}

func TestStore_SlugFileNames(t *testing.T) {
	fs := tempRoot(t)
	s := NewStore(fs)
	if err := s.Put(record("B.2")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	renamed := filepath.Join(fs.Root(), "B.search", "B.2.ranking")
	if err := os.MkdirAll(renamed, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.Rename(filepath.Join(fs.Root(), "B", "B.2", "B.2.yml"), filepath.Join(renamed, "B.2.ranking.yml")); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	fresh := NewStore(fs)
	p, err := fresh.PathOf("B.2")
	if err != nil {
		t.Fatalf("PathOf: %v", err)
	}
	if p != "B.search/B.2.ranking/B.2.ranking.yml" {
		t.Errorf("path = %q", p)
	}

	// Updates go back to the slugged file.
	a, _ := fresh.Get("B.2")
	a.Metadata.Title = "Ranking"
	if err := fresh.Put(a); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := fs.Read("B/B.2/B.2.yml"); err == nil {
		t.Error("default path should not be recreated")
	}
}

func TestStore_NotFound(t *testing.T) {
	s := NewStore(tempRoot(t))
	_, err := s.Get("Z.9")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	var nf *apperr.ArtifactNotFoundError
	if !errors.As(err, &nf) || nf.ID != "Z.9" {
		t.Errorf("err = %#v", err)
	}
}

func TestStore_CreateRejectsDuplicate(t *testing.T) {
	s := NewStore(tempRoot(t))
	if err := s.Create(record("C")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(record("C")); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want already exists", err)
	}
}

func TestStore_IDMismatch(t *testing.T) {
	fs := tempRoot(t)
	_ = fs.Write("D/D.yml", []byte("id: E\nmetadata:\n  title: wrong\n"))
	if _, err := NewStore(fs).Get("D"); err == nil {
		t.Error("expected error when file declares a different id")
	}
}
