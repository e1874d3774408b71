package artifactservice

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/starford/kodebase/internal/apperr"
	"github.com/starford/kodebase/internal/artifact"
	"github.com/starford/kodebase/internal/cascade"
	"github.com/starford/kodebase/internal/finding"
	"github.com/starford/kodebase/internal/index"
	"github.com/starford/kodebase/internal/parser"
	"github.com/starford/kodebase/internal/storage"
	"github.com/starford/kodebase/internal/testutil"
	"github.com/starford/kodebase/internal/validation"
)

type fakePublisher struct {
	mu       sync.Mutex
	changes  []string
	cascades []cascade.Result
}

func (p *fakePublisher) PublishArtifactEvent(kind, id, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, kind+":"+id)
}

func (p *fakePublisher) PublishCascade(res cascade.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cascades = append(p.cascades, res)
}

func fixture() []*artifact.Artifact {
	done := testutil.NewArtifact("A.1.1", artifact.StateReady, artifact.StateInProgress, artifact.StateInReview)
	next := testutil.Blocked(testutil.NewArtifact("A.1.2"), "A.1.1")
	done.Metadata.Relationships.Blocks = []string{"A.1.2"}
	return []*artifact.Artifact{
		testutil.NewArtifact("A", artifact.StateReady, artifact.StateInProgress),
		testutil.NewArtifact("A.1", artifact.StateReady, artifact.StateInProgress),
		done, next,
	}
}

func newService(t *testing.T, db index.ArtifactIndex) (*Service, *storage.Store, *fakePublisher) {
	t.Helper()
	_, store := testutil.TestStore(t)
	testutil.Seed(t, store, fixture()...)
	pub := &fakePublisher{}
	svc := New(store, db,
		WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
		WithPublisher(pub),
		WithTelemetry(true),
	)
	return svc, store, pub
}

func TestList_ScansStoreWithoutIndex(t *testing.T) {
	svc, _, _ := newService(t, nil)
	ctx := context.Background()

	all, err := svc.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, "A/A.1/A.1.2.yml", all[3].Path)

	blocked, err := svc.List(ctx, "blocked")
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	require.Equal(t, "A.1.2", blocked[0].ID)
	require.Equal(t, "issue", blocked[0].Type)
}

func TestList_UsesIndex(t *testing.T) {
	db := testutil.TestDB(t)
	svc, store, _ := newService(t, db)
	require.NoError(t, index.Sync(db, store.Provider(), slog.New(slog.NewJSONHandler(io.Discard, nil))))

	rows, err := svc.List(context.Background(), "in_review")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "A.1.1", rows[0].ID)

	hits, err := svc.Search(context.Background(), "Issue", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
}

func TestSearch_WithoutIndex(t *testing.T) {
	svc, _, _ := newService(t, nil)
	_, err := svc.Search(context.Background(), "anything", 10)
	require.ErrorIs(t, err, ErrSearchUnavailable)
}

func TestGet(t *testing.T) {
	svc, _, _ := newService(t, nil)
	d, err := svc.Get(context.Background(), "A.1.1")
	require.NoError(t, err)
	require.Equal(t, artifact.StateInReview, d.State)
	require.Equal(t, []string{"A.1.2"}, d.Dependents)
	require.False(t, d.Blocked)

	d, err = svc.Get(context.Background(), "A.1.2")
	require.NoError(t, err)
	require.True(t, d.Blocked)

	_, err = svc.Get(context.Background(), "nope")
	require.Error(t, err)
}

func TestDoComplete_PublishesCascade(t *testing.T) {
	svc, store, pub := newService(t, nil)
	ctx := context.Background()

	out, err := svc.Do(ctx, ActionComplete, "A.1.1", testutil.Actor)
	require.NoError(t, err)
	require.Equal(t, []string{"A.1.2"}, out.Cascade.UpdatedIDs())
	require.Len(t, pub.cascades, 1)
	require.NotEmpty(t, pub.cascades[0].RunID)

	a, err := store.Get("A.1.2")
	require.NoError(t, err)
	require.Equal(t, artifact.StateReady, a.CurrentState())

	blocked, err := svc.IsBlocked(ctx, "A.1.2")
	require.NoError(t, err)
	require.False(t, blocked)

	// Nothing left to do: no second publication.
	_, err = svc.ExecuteCascade(ctx, cascade.Request{ArtifactID: "A.1.1", Trigger: artifact.TriggerPRMerged})
	require.NoError(t, err)
	require.Len(t, pub.cascades, 1)

	_, err = svc.Do(ctx, Action("explode"), "A.1.1", testutil.Actor)
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestGraphQueries(t *testing.T) {
	svc, _, _ := newService(t, nil)
	ctx := context.Background()

	chain, err := svc.Chain(ctx, "A.1.2")
	require.NoError(t, err)
	require.Equal(t, []string{"A.1.1"}, chain)

	cycles, err := svc.Cycles(ctx)
	require.NoError(t, err)
	require.Empty(t, cycles)

	require.NoError(t, svc.Link(ctx, "A.1", "A.1.1"))
	cross, err := svc.CrossLevel(ctx)
	require.NoError(t, err)
	require.Empty(t, cross, "an issue may wait on its own milestone")

	inc, err := svc.Consistency(ctx)
	require.NoError(t, err)
	require.Empty(t, inc)
}

func TestValidateAndFix(t *testing.T) {
	svc, store, _ := newService(t, nil)
	ctx := context.Background()

	p, err := store.PathOf("A.1.2")
	require.NoError(t, err)
	abs := filepath.Join(store.Provider().Root(), p)
	data, err := os.ReadFile(abs)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(abs, append(bytes.TrimSuffix(data, []byte("\n")), "   \n"...), 0o644))
	svc.HandleChange("updated", "A.1.2", p)

	res, err := svc.Validate(ctx, "A.1.2", validation.Options{})
	require.NoError(t, err)
	codes := make([]finding.Code, 0, len(res.Findings))
	for _, f := range res.Findings {
		codes = append(codes, f.Code)
	}
	require.Contains(t, codes, finding.FormatTrailingWhitespace)

	applied, err := svc.Fix(ctx, "A.1.2")
	require.NoError(t, err)
	require.Contains(t, applied, finding.FormatTrailingWhitespace)

	_, err = svc.Fix(ctx, "A.1.2")
	require.ErrorIs(t, err, validation.ErrNotFixable)

	report, err := svc.ValidateAll(ctx, validation.Options{CheckRelationships: true})
	require.NoError(t, err)
	require.Len(t, report.Results, 4)
}

func TestHandleChange_Publishes(t *testing.T) {
	svc, _, pub := newService(t, nil)
	svc.HandleChange("deleted", "A.1.2", "A/A.1/A.1.2.yml")
	require.Equal(t, []string{"deleted:A.1.2"}, pub.changes)
}

func TestCreate(t *testing.T) {
	svc, store, _ := newService(t, nil)
	ctx := context.Background()

	a := testutil.NewArtifact("A.1.3")
	data, err := parser.Encode(a)
	require.NoError(t, err)

	d, err := svc.Create(ctx, data)
	require.NoError(t, err)
	require.Equal(t, "A/A.1/A.1.3.yml", d.Path)
	require.Equal(t, artifact.StateDraft, d.State)

	_, err = store.Get("A.1.3")
	require.NoError(t, err)

	_, err = svc.Create(ctx, data)
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)

	orphan, err := parser.Encode(testutil.NewArtifact("B.1.1"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, orphan)
	require.ErrorIs(t, err, ErrInvalidArtifact)

	_, err = svc.Create(ctx, []byte("id: [nope"))
	require.ErrorIs(t, err, ErrInvalidArtifact)
}
