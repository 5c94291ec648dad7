package treedata

import (
	"context"
	"testing"

	"github.com/elysia-go/elysiatree/internal/config"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestAppendHistory_MergesAdjacentSameRole(t *testing.T) {
	td := New(config.Default())
	td.AppendHistory("user", "hello")
	td.AppendHistory("user", "world")
	td.AppendHistory("assistant", "hi")

	require.Len(t, td.ConversationHistory, 2)
	require.Equal(t, "hello world", td.ConversationHistory[0].Content)
	require.Equal(t, "assistant", td.ConversationHistory[1].Role)
}

func TestUpdateTasksCompleted_AppendsNewRecord(t *testing.T) {
	td := New(config.Default())
	td.UpdateTasksCompleted("find x", "query", 0, TaskFields{Reasoning: strPtr("looking")})
	td.UpdateTasksCompleted("find x", "aggregate", 0, TaskFields{Reasoning: strPtr("counting")})

	s := td.TasksCompletedString()
	require.Contains(t, s, "query")
	require.Contains(t, s, "aggregate")
	require.Contains(t, s, "looking")
	require.Contains(t, s, "counting")
}

func TestUpdateTasksCompleted_MergesSameTaskIteration(t *testing.T) {
	td := New(config.Default())
	td.UpdateTasksCompleted("p", "query", 0, TaskFields{
		Reasoning: strPtr("first"),
		Inputs:    map[string]any{"a": 1},
		Action:    boolPtr(false),
	})
	td.UpdateTasksCompleted("p", "query", 0, TaskFields{
		Reasoning: strPtr("second"),
		Inputs:    map[string]any{"b": 2},
		Action:    boolPtr(true),
	})

	require.Len(t, td.tasksCompleted, 1)
	require.Len(t, td.tasksCompleted[0].tasks, 1)
	rec := td.tasksCompleted[0].tasks[0]
	require.Equal(t, "first\nsecond", rec.Reasoning)
	require.Equal(t, map[string]any{"a": 1, "b": 2}, rec.Inputs)
	require.True(t, rec.Action)
}

func TestUpdateTasksCompleted_DistinctIterationsDoNotMerge(t *testing.T) {
	td := New(config.Default())
	td.UpdateTasksCompleted("p", "query", 0, TaskFields{Reasoning: strPtr("a")})
	td.UpdateTasksCompleted("p", "query", 1, TaskFields{Reasoning: strPtr("b")})

	require.Len(t, td.tasksCompleted[0].tasks, 2)
}

func TestMergeGeneric_NumericAddsAndListsExtend(t *testing.T) {
	require.Equal(t, 3.0, mergeGeneric(1.0, 2.0))
	require.Equal(t, []any{"a", "b"}, mergeGeneric([]any{"a"}, []any{"b"}))
	require.Equal(t, true, mergeGeneric(false, true))
}

func TestTreeCountString_WarnsNearLimit(t *testing.T) {
	td := New(config.Default())
	td.RecursionLimit = 2

	td.NumTreesCompleted = 0
	require.Equal(t, "1/2", td.TreeCountString())

	td.NumTreesCompleted = 1
	require.Contains(t, td.TreeCountString(), "warning")

	td.NumTreesCompleted = 2
	require.Contains(t, td.TreeCountString(), "exhausted")
}

func TestSoftReset_ClearsOnlyTransientFields(t *testing.T) {
	td := New(config.Default())
	td.AppendHistory("user", "hi")
	td.PreviousReasoning = "because"
	td.CurrentMessage = "working on it"

	td.SoftReset()

	require.Empty(t, td.PreviousReasoning)
	require.Empty(t, td.CurrentMessage)
	require.Len(t, td.ConversationHistory, 1)
}

type stubFetcher struct {
	found          map[string]CollectionMetadata
	unpreprocessed map[string]bool
}

func (s stubFetcher) FetchMetadata(_ context.Context, name string) (CollectionMetadata, FetchOutcome, error) {
	if m, ok := s.found[name]; ok {
		return m, FetchFound, nil
	}
	if s.unpreprocessed[name] {
		return CollectionMetadata{}, FetchUnpreprocessed, nil
	}
	return CollectionMetadata{}, FetchNonexistent, nil
}

func TestSetCollectionNames_PartitionsAndNormalisesCasing(t *testing.T) {
	td := New(config.Default())
	fetcher := stubFetcher{
		found:          map[string]CollectionMetadata{"products": {Summary: "product catalogue"}},
		unpreprocessed: map[string]bool{"raw_logs": true},
	}

	result := td.SetCollectionNames(context.Background(), []string{"Products", " raw_logs", "ghost"}, fetcher)

	require.Equal(t, []string{"products"}, result.Found)
	require.Equal(t, []string{"raw_logs"}, result.Unpreprocessed)
	require.Equal(t, []string{"ghost"}, result.Nonexistent)
	require.Equal(t, []string{"products"}, td.Collections.Active())

	meta, ok := td.Collections.Get("products")
	require.True(t, ok)
	require.Equal(t, "product catalogue", meta.Summary)
}

func TestSetCollectionNames_UsesCacheWithoutRefetch(t *testing.T) {
	td := New(config.Default())
	fetcher := stubFetcher{found: map[string]CollectionMetadata{"products": {Summary: "v1"}}}

	td.SetCollectionNames(context.Background(), []string{"products"}, fetcher)

	// a fetcher that knows no collections would report "products" as
	// nonexistent, so finding it proves the cache was used.
	erroringFetcher := stubFetcher{}
	result := td.SetCollectionNames(context.Background(), []string{"PRODUCTS"}, erroringFetcher)
	require.Equal(t, []string{"products"}, result.Found)
}
