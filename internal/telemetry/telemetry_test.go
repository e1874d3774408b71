package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/starford/kodebase/internal/apperr"
	"github.com/starford/kodebase/internal/testutil"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{}, "kodebase", "test")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestWrapStore(t *testing.T) {
	_, store := testutil.TestStore(t)
	require.Same(t, store, WrapStore(store, false))

	_, err := Init(context.Background(), Config{}, "kodebase", "test")
	require.NoError(t, err)
	wrapped := WrapStore(store, true)
	require.IsType(t, &InstrumentedStore{}, wrapped)

	require.NoError(t, wrapped.Put(testutil.NewArtifact("A.1")))
	a, err := wrapped.Get("A.1")
	require.NoError(t, err)
	require.Equal(t, "A.1", a.ID)

	ids, err := wrapped.List()
	require.NoError(t, err)
	require.Equal(t, []string{"A.1"}, ids)

	_, err = wrapped.Get("A.2")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
