package graph

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/starford/kodebase/internal/apperr"
	"github.com/starford/kodebase/internal/artifact"
	"github.com/starford/kodebase/internal/storage"
	"github.com/starford/kodebase/internal/testutil"
)

type countingSource struct {
	Source
	gets atomic.Int64
}

func (c *countingSource) Get(id string) (*artifact.Artifact, error) {
	c.gets.Add(1)
	return c.Source.Get(id)
}

func newService(t *testing.T, arts ...*artifact.Artifact) (*Service, *storage.Store) {
	t.Helper()
	root, store := testutil.TestStore(t)
	testutil.Seed(t, store, arts...)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewService(root, store, WithLogger(logger)), store
}

func ids(arts []*artifact.Artifact) []string {
	out := make([]string, len(arts))
	for i, a := range arts {
		out[i] = a.ID
	}
	return out
}

func TestGetDependencies(t *testing.T) {
	a1 := testutil.NewArtifact("A.1", artifact.StateReady)
	a2 := testutil.NewArtifact("A.2", artifact.StateReady)
	a3 := testutil.NewArtifact("A.3")
	testutil.Link(a1, a3)
	testutil.Link(a2, a3)
	a3.Metadata.Relationships.BlockedBy = append(a3.Metadata.Relationships.BlockedBy, "A.9")

	svc, _ := newService(t, a1, a2, a3)

	deps, err := svc.GetDependencies("A.3")
	require.NoError(t, err)
	require.Equal(t, []string{"A.1", "A.2"}, ids(deps))

	_, err = svc.GetDependencies("Z.1")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	var nf *apperr.ArtifactNotFoundError
	require.True(t, errors.As(err, &nf))
	require.Equal(t, "Z.1", nf.ID)
}

func TestGetBlockedArtifacts(t *testing.T) {
	a1 := testutil.NewArtifact("A.1")
	a2 := testutil.NewArtifact("A.2")
	a3 := testutil.NewArtifact("A.3")
	testutil.Link(a1, a2)
	testutil.Link(a1, a3)

	svc, _ := newService(t, a1, a2, a3)

	dependents, err := svc.GetBlockedArtifacts("A.1")
	require.NoError(t, err)
	require.Equal(t, []string{"A.2", "A.3"}, ids(dependents))

	dependents, err = svc.GetBlockedArtifacts("A.3")
	require.NoError(t, err)
	require.Empty(t, dependents)

	_, err = svc.GetBlockedArtifacts("B")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestIsBlocked(t *testing.T) {
	done := testutil.NewArtifact("A.1", artifact.StateReady, artifact.StateInProgress, artifact.StateInReview, artifact.StateCompleted)
	open := testutil.NewArtifact("A.2", artifact.StateReady)
	waitsOnDone := testutil.NewArtifact("A.3")
	waitsOnOpen := testutil.NewArtifact("A.4")
	dangling := testutil.NewArtifact("A.5")
	testutil.Link(done, waitsOnDone)
	testutil.Link(open, waitsOnOpen)
	dangling.Metadata.Relationships.BlockedBy = []string{"A.99"}

	svc, _ := newService(t, done, open, waitsOnDone, waitsOnOpen, dangling)

	for id, want := range map[string]bool{"A.3": false, "A.4": true, "A.5": false, "A.1": false} {
		got, err := svc.IsBlocked(id)
		require.NoError(t, err, id)
		require.Equal(t, want, got, id)
	}
}

func TestResolveDependencyChain(t *testing.T) {
	a1 := testutil.NewArtifact("A.1.1")
	a2 := testutil.NewArtifact("A.1.2")
	a3 := testutil.NewArtifact("A.1.3")
	a4 := testutil.NewArtifact("A.1.4")
	testutil.Link(a2, a1)
	testutil.Link(a3, a2)
	// Diamond: A.1.4 -> A.1.2 and A.1.4 -> A.1.3 -> A.1.2.
	testutil.Link(a2, a4)
	testutil.Link(a3, a4)

	svc, _ := newService(t, a1, a2, a3, a4)

	chain, err := svc.ResolveDependencyChain("A.1.3")
	require.NoError(t, err)
	require.Empty(t, chain)

	chain, err = svc.ResolveDependencyChain("A.1.1")
	require.NoError(t, err)
	require.Equal(t, []string{"A.1.2", "A.1.3"}, chain)

	chain, err = svc.ResolveDependencyChain("A.1.4")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"A.1.2", "A.1.3"}, chain)
}

func ring(ids ...string) []*artifact.Artifact {
	arts := make([]*artifact.Artifact, len(ids))
	for i, id := range ids {
		arts[i] = testutil.NewArtifact(id)
	}
	for i := range arts {
		// arts[i] is blocked by arts[i+1].
		testutil.Link(arts[(i+1)%len(arts)], arts[i])
	}
	return arts
}

func TestResolveDependencyChain_Cycle(t *testing.T) {
	svc, _ := newService(t, ring("A.1.1", "A.1.2", "A.1.3")...)

	_, err := svc.ResolveDependencyChain("A.1.1")
	var ce *CycleError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, "circular dependency: A.1.1 → A.1.2 → A.1.3 → A.1.1", err.Error())
}

func TestDetectCircularDependencies_SingleRing(t *testing.T) {
	for _, order := range [][]string{
		{"A.1.1", "A.1.2", "A.1.3"},
		{"A.1.3", "A.1.1", "A.1.2"},
		{"A.1.2", "A.1.3", "A.1.1"},
	} {
		svc, _ := newService(t, ring(order...)...)
		cycles, err := svc.DetectCircularDependencies()
		require.NoError(t, err)
		require.Len(t, cycles, 1, "order %v", order)
		require.ElementsMatch(t, []string{"A.1.1", "A.1.2", "A.1.3"}, cycles[0].Path)
		require.Equal(t, cycles[0].Path[0], "A.1.1")
	}
}

func TestDetectCircularDependencies_NoFalsePositive(t *testing.T) {
	// Two paths converge on A.1.3; it is visited twice but never on the stack twice.
	a1 := testutil.NewArtifact("A.1.1")
	a2 := testutil.NewArtifact("A.1.2")
	a3 := testutil.NewArtifact("A.1.3")
	testutil.Link(a3, a1)
	testutil.Link(a2, a1)
	testutil.Link(a3, a2)

	svc, _ := newService(t, a1, a2, a3)
	cycles, err := svc.DetectCircularDependencies()
	require.NoError(t, err)
	require.Empty(t, cycles)
}

func TestDetectCircularDependencies_TwoRings(t *testing.T) {
	arts := append(ring("A.1.1", "A.1.2"), ring("B.1", "B.2", "B.3")...)
	self := testutil.NewArtifact("C")
	testutil.Link(self, self)
	arts = append(arts, self)

	svc, _ := newService(t, arts...)
	cycles, err := svc.DetectCircularDependencies()
	require.NoError(t, err)
	require.Len(t, cycles, 3)
	require.Equal(t, "A.1.1 → A.1.2 → A.1.1", cycles[0].String())
	require.Equal(t, "C → C", cycles[2].String())
}

func TestDetectCircularDependencies_SharedNodes(t *testing.T) {
	// A.1.1 -> A.1.2 -> A.1.3 -> A.1.1 and A.1.1 -> A.1.3 -> A.1.1 share
	// A.1.3, which finishes before the second edge into it is seen.
	a1 := testutil.NewArtifact("A.1.1")
	a2 := testutil.NewArtifact("A.1.2")
	a3 := testutil.NewArtifact("A.1.3")
	testutil.Link(a2, a1)
	testutil.Link(a3, a1)
	testutil.Link(a3, a2)
	testutil.Link(a1, a3)

	svc, _ := newService(t, a1, a2, a3)
	cycles, err := svc.DetectCircularDependencies()
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	require.Equal(t, "A.1.1 → A.1.2 → A.1.3 → A.1.1", cycles[0].String())
	require.Equal(t, "A.1.1 → A.1.3 → A.1.1", cycles[1].String())
}

func TestDetectCircularDependencies_CycleBehindAcyclicPrefix(t *testing.T) {
	// A.1.1 leads into the A.1.2 <-> A.1.3 loop without being part of it.
	a1 := testutil.NewArtifact("A.1.1")
	a2 := testutil.NewArtifact("A.1.2")
	a3 := testutil.NewArtifact("A.1.3")
	testutil.Link(a2, a1)
	testutil.Link(a3, a2)
	testutil.Link(a2, a3)

	svc, _ := newService(t, a1, a2, a3)
	cycles, err := svc.DetectCircularDependencies()
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	require.Equal(t, "A.1.2 → A.1.3 → A.1.2", cycles[0].String())
}

func TestDetectCrossLevelDependencies(t *testing.T) {
	initA := testutil.NewArtifact("A")
	other := testutil.NewArtifact("B")
	ms := testutil.NewArtifact("A.1")
	foreignMs := testutil.NewArtifact("B.1")
	issue := testutil.NewArtifact("A.1.1")
	sibling := testutil.NewArtifact("A.1.2")

	testutil.Link(initA, issue)      // issue blocked by initiative: illegal
	testutil.Link(initA, ms)         // milestone blocked by initiative: illegal
	testutil.Link(foreignMs, issue) // issue blocked by another lineage's milestone: illegal
	testutil.Link(ms, sibling)      // issue blocked by its own milestone: legal
	testutil.Link(issue, sibling)   // same level: legal
	testutil.Link(other, initA)      // same level: legal
	testutil.Link(issue, foreignMs) // milestone waiting on an issue: legal

	svc, _ := newService(t, initA, other, ms, foreignMs, issue, sibling)
	violations, err := svc.DetectCrossLevelDependencies()
	require.NoError(t, err)

	var pairs []string
	for _, v := range violations {
		pairs = append(pairs, v.Blocked+"<-"+v.Blocker)
	}
	require.ElementsMatch(t, []string{"A.1.1<-A", "A.1<-A", "A.1.1<-B.1"}, pairs)
}

func TestValidateRelationshipConsistency(t *testing.T) {
	a := testutil.NewArtifact("A.1")
	b := testutil.NewArtifact("A.2")
	c := testutil.NewArtifact("A.3")
	testutil.Link(a, b) // symmetric
	a.Metadata.Relationships.Blocks = append(a.Metadata.Relationships.Blocks, "A.3")
	c.Metadata.Relationships.BlockedBy = append(c.Metadata.Relationships.BlockedBy, "A.2")

	svc, _ := newService(t, a, b, c)
	found, err := svc.ValidateRelationshipConsistency()
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.Equal(t, Inconsistency{From: "A.1", To: "A.3", Relation: "blocks",
		Message: "A.1 blocks A.3 but A.3 does not list A.1 in blocked_by"}, found[0])
	require.Equal(t, "blocked_by", found[1].Relation)
	require.Equal(t, "A.3", found[1].From)
}

func TestCacheIsExplicit(t *testing.T) {
	svc, store := newService(t, testutil.NewArtifact("A.1"))

	_, err := svc.GetDependencies("A.2")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	testutil.Seed(t, store, testutil.NewArtifact("A.2"))
	_, err = svc.GetDependencies("A.2")
	require.ErrorIs(t, err, apperr.ErrNotFound, "stale snapshot until cleared")

	svc.ClearCache()
	_, err = svc.GetDependencies("A.2")
	require.NoError(t, err)
}

func TestCacheIsPerRoot(t *testing.T) {
	shared := NewCache()
	rootA, storeA := testutil.TestStore(t)
	rootB, storeB := testutil.TestStore(t)
	testutil.Seed(t, storeA, testutil.NewArtifact("A"))
	testutil.Seed(t, storeB, testutil.NewArtifact("B"))

	svcA := NewService(rootA, storeA, WithCache(shared))
	svcB := NewService(rootB, storeB, WithCache(shared))

	_, err := svcA.GetDependencies("A")
	require.NoError(t, err)
	_, err = svcB.GetDependencies("B")
	require.NoError(t, err)
	_, err = svcB.GetDependencies("A")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLinearChainWarmFasterThanCold(t *testing.T) {
	const n = 150
	arts := make([]*artifact.Artifact, n)
	for i := range arts {
		arts[i] = testutil.NewArtifact(fmt.Sprintf("A.%d", i+1))
	}
	for i := 0; i < n-1; i++ {
		testutil.Link(arts[i+1], arts[i])
	}
	root, store := testutil.TestStore(t)
	testutil.Seed(t, store, arts...)
	src := &countingSource{Source: store}
	svc := NewService(root, src, WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))))

	start := time.Now()
	chain, err := svc.ResolveDependencyChain("A.1")
	cold := time.Since(start)
	require.NoError(t, err)
	require.Len(t, chain, n-1)
	loads := src.gets.Load()
	require.EqualValues(t, n, loads)

	start = time.Now()
	chain, err = svc.ResolveDependencyChain("A.1")
	warm := time.Since(start)
	require.NoError(t, err)
	require.Len(t, chain, n-1)
	require.Equal(t, loads, src.gets.Load(), "warm query must not touch the store")
	require.Less(t, warm, cold)
}
