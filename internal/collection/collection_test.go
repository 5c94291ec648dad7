package collection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elysia-go/elysiatree/internal/treedata"
)

func TestStaticFetcher_FoundAndMissing(t *testing.T) {
	fetcher := StaticFetcher{
		"docs": {Summary: "seeded for tests"},
	}

	meta, outcome, err := fetcher.FetchMetadata(context.Background(), "docs")
	require.NoError(t, err)
	require.Equal(t, treedata.FetchFound, outcome)
	require.Equal(t, "seeded for tests", meta.Summary)

	_, outcome, err = fetcher.FetchMetadata(context.Background(), "missing")
	require.NoError(t, err)
	require.Equal(t, treedata.FetchNonexistent, outcome)
}

func TestFetcher_NoClientManagerErrors(t *testing.T) {
	f := NewFetcher(nil)
	_, outcome, err := f.FetchMetadata(context.Background(), "docs")
	require.Error(t, err)
	require.Equal(t, treedata.FetchNonexistent, outcome)
}
