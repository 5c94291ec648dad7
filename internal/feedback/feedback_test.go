package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/elysia-go/elysiatree/internal/config"
	"github.com/elysia-go/elysiatree/internal/persistence/databases"
	"github.com/elysia-go/elysiatree/internal/store"
)

func newTestManager(t *testing.T) *store.ClientManager {
	t.Helper()
	vec := databases.NewMemoryVector()
	require.NoError(t, vec.Upsert(context.Background(), "ex-1", []float32{1, 0, 0}, map[string]string{"module": "base"}))
	mgr, err := store.NewClientManager(context.Background(), func(context.Context) (store.Client, error) {
		return store.Client{Vector: vec, Search: databases.NewMemoryFullTextSearch()}, nil
	}, time.Minute)
	require.NoError(t, err)
	return mgr
}

func TestFetchSimilar_NoCacheQueriesBackend(t *testing.T) {
	mgr := newTestManager(t)
	s, err := New(config.Default().Redis, mgr)
	require.NoError(t, err)

	examples, err := s.FetchSimilar(context.Background(), []float32{1, 0, 0}, "what is x?", "base", 3)
	require.NoError(t, err)
	require.Len(t, examples, 1)
	require.Equal(t, "ex-1", examples[0].UUID)
}

func TestFetchSimilar_NoClientManagerErrors(t *testing.T) {
	s := &Store{}
	_, err := s.FetchSimilar(context.Background(), []float32{1}, "p", "m", 1)
	require.Error(t, err)
}
