package tree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elysia-go/elysiatree/internal/config"
	"github.com/elysia-go/elysiatree/internal/llm"
	"github.com/elysia-go/elysiatree/internal/tool"
	"github.com/elysia-go/elysiatree/internal/treedata"
)

type stubProvider struct {
	decisions []llm.Decision
	calls     int
}

func (p *stubProvider) Complete(context.Context, string, []llm.Message, map[string]any) (llm.Decision, error) {
	var d llm.Decision
	if p.calls < len(p.decisions) {
		d = p.decisions[p.calls]
	}
	p.calls++
	return d, nil
}

func newAnswerTool(name, text string, endsConversation bool) tool.Tool {
	tl, err := tool.NewFuncTool(tool.FuncToolSpec{
		Name:             name,
		Description:      "answers directly",
		EndsConversation: endsConversation,
		Fn: func(context.Context, *treedata.TreeData, map[string]any) (tool.Event, bool, error) {
			return tool.TextEvent(text), true, nil
		},
	})
	if err != nil {
		panic(err)
	}
	return tl
}

func TestRun_TrivialTextAnswer(t *testing.T) {
	provider := &stubProvider{decisions: []llm.Decision{
		{FunctionName: "answer", FunctionInputs: map[string]any{}, EndActions: true},
	}}
	tr := New(config.Default(), provider, provider, nil)
	require.NoError(t, tr.AddBranch("root", "answer the user", "root", true, "", ""))
	require.NoError(t, tr.AddTool(newAnswerTool("answer", "the answer is 4", true), "root", nil, ""))

	result, err := tr.Run(context.Background(), "what is 2+2?", RunOptions{})
	require.NoError(t, err)
	require.Equal(t, "the answer is 4", result.Text)
}

func TestRun_RuleToolAutoRunsBeforeLM(t *testing.T) {
	ran := false
	rule, err := tool.NewFuncTool(tool.FuncToolSpec{
		Name:        "log_query",
		Description: "silently logs",
		AutoRun: func(context.Context, *treedata.TreeData, tool.Dependencies) (bool, map[string]any) {
			return true, map[string]any{}
		},
		Fn: func(context.Context, *treedata.TreeData, map[string]any) (tool.Event, bool, error) {
			ran = true
			return tool.Event{}, false, nil
		},
	})
	require.NoError(t, err)

	provider := &stubProvider{decisions: []llm.Decision{
		{FunctionName: "answer", FunctionInputs: map[string]any{}, EndActions: true},
	}}
	tr := New(config.Default(), provider, provider, nil)
	require.NoError(t, tr.AddBranch("root", "answer the user", "root", true, "", ""))
	require.NoError(t, tr.AddTool(rule, "root", nil, ""))
	require.NoError(t, tr.AddTool(newAnswerTool("answer", "done", true), "root", nil, ""))

	_, err = tr.Run(context.Background(), "hello", RunOptions{})
	require.NoError(t, err)
	require.True(t, ran)
}

func TestRun_UnavailableToolBlocksThenPermitsSelection(t *testing.T) {
	gateOpen := false
	gated, err := tool.NewFuncTool(tool.FuncToolSpec{
		Name:             "gated",
		Description:      "only available once a flag is set",
		EndsConversation: true,
		Available: func(context.Context, *treedata.TreeData, tool.Dependencies) tool.Availability {
			if gateOpen {
				return tool.Available
			}
			return tool.Availability{Available: false, Reason: "gate closed"}
		},
		Fn: func(context.Context, *treedata.TreeData, map[string]any) (tool.Event, bool, error) {
			return tool.TextEvent("gate was open"), true, nil
		},
	})
	require.NoError(t, err)

	provider := &stubProvider{decisions: []llm.Decision{
		{FunctionName: "fallback", FunctionInputs: map[string]any{}, EndActions: true},
	}}
	tr := New(config.Default(), provider, provider, nil)
	require.NoError(t, tr.AddBranch("root", "answer the user", "root", true, "", ""))
	require.NoError(t, tr.AddTool(gated, "root", nil, ""))
	require.NoError(t, tr.AddTool(newAnswerTool("fallback", "fallback used", true), "root", nil, ""))

	result, err := tr.Run(context.Background(), "hello", RunOptions{})
	require.NoError(t, err)
	require.Equal(t, "fallback used", result.Text)

	gateOpen = true
	provider.decisions = []llm.Decision{{FunctionName: "gated", FunctionInputs: map[string]any{}, EndActions: true}}
	provider.calls = 0
	result, err = tr.Run(context.Background(), "hello again", RunOptions{})
	require.NoError(t, err)
	require.Equal(t, "gate was open", result.Text)
}

func TestRun_StemmedToolOrdering(t *testing.T) {
	first, err := tool.NewFuncTool(tool.FuncToolSpec{
		Name:        "search",
		Description: "searches",
		Fn: func(context.Context, *treedata.TreeData, map[string]any) (tool.Event, bool, error) {
			return tool.TextEvent("searched"), true, nil
		},
	})
	require.NoError(t, err)

	provider := &stubProvider{decisions: []llm.Decision{
		{FunctionName: "search", FunctionInputs: map[string]any{}},
		{FunctionName: "search_next", FunctionInputs: map[string]any{}},
		{FunctionName: "summarize", FunctionInputs: map[string]any{}, EndActions: true},
	}}
	tr := New(config.Default(), provider, provider, nil)
	require.NoError(t, tr.AddBranch("root", "answer the user", "root", true, "", ""))
	require.NoError(t, tr.AddTool(first, "root", nil, ""))
	require.NoError(t, tr.AddTool(newAnswerTool("summarize", "summary text", true), "root", []string{"search"}, ""))

	result, err := tr.Run(context.Background(), "research this", RunOptions{})
	require.NoError(t, err)
	require.Equal(t, "summary text", result.Text)
	require.Equal(t, 2, provider.calls)
}

func TestRun_RecursionLimitForcesFinalTextResponse(t *testing.T) {
	loop, err := tool.NewFuncTool(tool.FuncToolSpec{
		Name:        "loop",
		Description: "never ends the conversation",
		Fn: func(context.Context, *treedata.TreeData, map[string]any) (tool.Event, bool, error) {
			return tool.TextEvent("looping"), true, nil
		},
	})
	require.NoError(t, err)

	provider := &stubProvider{}
	tr := New(config.Default(), provider, provider, nil)
	tr.TreeData.RecursionLimit = 2
	require.NoError(t, tr.AddBranch("root", "answer the user", "root", true, "", ""))
	require.NoError(t, tr.AddTool(loop, "root", nil, ""))

	result, err := tr.Run(context.Background(), "keep going", RunOptions{})
	require.NoError(t, err)
	require.Contains(t, result.Text, "wasn't able to fully complete")
}

func TestRun_SaveLoadRoundTrip(t *testing.T) {
	provider := &stubProvider{decisions: []llm.Decision{
		{FunctionName: "answer", FunctionInputs: map[string]any{}, EndActions: true},
	}}
	tr := New(config.Default(), provider, provider, nil)
	require.NoError(t, tr.AddBranch("root", "answer the user", "root", true, "", ""))
	require.NoError(t, tr.AddTool(newAnswerTool("answer", "42", true), "root", nil, ""))

	_, err := tr.Run(context.Background(), "what is the answer?", RunOptions{})
	require.NoError(t, err)

	export, err := tr.ExportJSON()
	require.NoError(t, err)

	registry := map[string]tool.Tool{"answer": newAnswerTool("answer", "42", true)}
	restored, warnings, err := ImportJSON(export, registry, provider, provider, nil)
	require.NoError(t, err)
	require.Empty(t, warnings)

	restoredShape, err := restored.Shape()
	require.NoError(t, err)
	originalShape, err := tr.Shape()
	require.NoError(t, err)
	require.Equal(t, originalShape, restoredShape)
	require.Equal(t, tr.TreeData.ConversationHistory, restored.TreeData.ConversationHistory)
}

func TestRun_SaveLoadRoundTrip_MissingToolWarns(t *testing.T) {
	provider := &stubProvider{decisions: []llm.Decision{
		{FunctionName: "answer", FunctionInputs: map[string]any{}, EndActions: true},
	}}
	tr := New(config.Default(), provider, provider, nil)
	require.NoError(t, tr.AddBranch("root", "answer the user", "root", true, "", ""))
	require.NoError(t, tr.AddTool(newAnswerTool("answer", "42", true), "root", nil, ""))

	export, err := tr.ExportJSON()
	require.NoError(t, err)

	_, warnings, err := ImportJSON(export, map[string]tool.Tool{}, provider, provider, nil)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0], "answer")
}
