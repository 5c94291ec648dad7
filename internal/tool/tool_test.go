package tool

import (
	"context"
	"testing"

	"github.com/elysia-go/elysiatree/internal/config"
	"github.com/elysia-go/elysiatree/internal/treedata"
	"github.com/stretchr/testify/require"
)

func TestNewFuncTool_RejectsUnsupportedInputType(t *testing.T) {
	_, err := NewFuncTool(FuncToolSpec{
		Name: "broken",
		Inputs: map[string]InputSpec{
			"x": {Type: "tensor"},
		},
		Fn: func(context.Context, *treedata.TreeData, map[string]any) (Event, bool, error) {
			return Event{}, false, nil
		},
	})
	require.Error(t, err)
}

func TestFuncTool_InvokeEmitsNormalizedInputsResult(t *testing.T) {
	var captured map[string]any
	tl, err := NewFuncTool(FuncToolSpec{
		Name: "query",
		Inputs: map[string]InputSpec{
			"limit": {Type: "integer", Default: 10},
			"q":     {Type: "string", Required: true},
		},
		Fn: func(_ context.Context, _ *treedata.TreeData, inputs map[string]any) (Event, bool, error) {
			captured = inputs
			ev, ok := ResultEvent("results", []map[string]any{{"id": "a"}}, nil)
			return ev, ok, nil
		},
	})
	require.NoError(t, err)

	td := treedata.New(config.Default())
	var emitted Event
	err = tl.Invoke(context.Background(), td, map[string]any{
		"q":        "widgets",
		"unknown":  "dropped",
		"anything": map[string]any{"description": "d", "type": "string", "value": "nested"},
	}, Dependencies{}, func(ev Event) error {
		emitted = ev
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "widgets", captured["q"])
	require.Equal(t, 10, captured["limit"])
	require.NotContains(t, captured, "unknown")
	require.Equal(t, KindResult, emitted.Kind)
	require.Len(t, emitted.Objects, 1)
}

func TestFuncTool_EmptyResultSuppressesEmit(t *testing.T) {
	emitCount := 0
	tl, err := NewFuncTool(FuncToolSpec{
		Name: "empty_query",
		Fn: func(context.Context, *treedata.TreeData, map[string]any) (Event, bool, error) {
			return ResultEvent("results", nil, nil)
		},
	})
	require.NoError(t, err)

	td := treedata.New(config.Default())
	err = tl.Invoke(context.Background(), td, nil, Dependencies{}, func(Event) error {
		emitCount++
		return nil
	})
	require.NoError(t, err)
	require.Zero(t, emitCount)
}

func TestNormalizeInputs_UnwrapsValueShape(t *testing.T) {
	declared := map[string]InputSpec{
		"limit": {Type: "integer", Default: 5},
		"q":     {Type: "string"},
	}
	out := NormalizeInputs(declared, map[string]any{
		"q": map[string]any{"description": "search text", "type": "string", "value": "widgets"},
	})
	require.Equal(t, "widgets", out["q"])
	require.Equal(t, 5, out["limit"])
}

func TestFuncTool_DefaultAvailabilityAndAutoRun(t *testing.T) {
	tl, err := NewFuncTool(FuncToolSpec{
		Name: "plain",
		Fn: func(context.Context, *treedata.TreeData, map[string]any) (Event, bool, error) {
			return Event{}, false, nil
		},
	})
	require.NoError(t, err)

	avail := tl.IsAvailable(context.Background(), nil, Dependencies{})
	require.True(t, avail.Available)

	auto, inputs := tl.ShouldAutoRun(context.Background(), nil, Dependencies{})
	require.False(t, auto)
	require.Nil(t, inputs)
}
