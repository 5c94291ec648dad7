package decision

import (
	"context"
	"testing"

	"github.com/elysia-go/elysiatree/internal/config"
	"github.com/elysia-go/elysiatree/internal/llm"
	"github.com/elysia-go/elysiatree/internal/tool"
	"github.com/elysia-go/elysiatree/internal/treedata"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name      string
	available tool.Availability
	autoRun   bool
	autoInput map[string]any
	invoked   []map[string]any
}

func (s *stubTool) Describe() tool.Metadata { return tool.Metadata{Name: s.name} }
func (s *stubTool) IsAvailable(context.Context, *treedata.TreeData, tool.Dependencies) tool.Availability {
	return s.available
}
func (s *stubTool) ShouldAutoRun(context.Context, *treedata.TreeData, tool.Dependencies) (bool, map[string]any) {
	return s.autoRun, s.autoInput
}
func (s *stubTool) Invoke(_ context.Context, _ *treedata.TreeData, inputs map[string]any, _ tool.Dependencies, emit tool.EmitFunc) error {
	s.invoked = append(s.invoked, inputs)
	ev, ok := tool.ResultEvent(s.name, []map[string]any{{"ok": true}}, nil)
	if !ok {
		return nil
	}
	return emit(ev)
}

type stubProvider struct {
	decision llm.Decision
	err      error
	calls    int
}

func (p *stubProvider) Complete(context.Context, string, []llm.Message, map[string]any) (llm.Decision, error) {
	p.calls++
	return p.decision, p.err
}

func newTD() *treedata.TreeData { return treedata.New(config.Default()) }

func TestDecide_UnavailableToolNeverSelected(t *testing.T) {
	blocked := &stubTool{name: "always_pick_me", available: tool.Availability{Available: false, Reason: "disabled"}}
	textResp := &stubTool{name: textResponseOptionID, available: tool.Available}

	n := NewNode("root", "pick something", true)
	require.NoError(t, n.AddOption(&Option{ID: blocked.name, Tool: blocked, EndsConversation: true}))
	require.NoError(t, n.AddOption(&Option{ID: textResp.name, Tool: textResp, EndsConversation: true}))

	provider := &stubProvider{decision: llm.Decision{FunctionName: textResp.name, FunctionInputs: map[string]any{}}}
	chain := &Chain{Provider: provider, Model: "test"}

	var events []tool.Event
	chosen, result, err := n.Decide(context.Background(), newTD(), chain, Params{
		Emit: func(ev tool.Event) error { events = append(events, ev); return nil },
	})
	require.NoError(t, err)
	require.Equal(t, textResp.name, chosen.ID)
	require.NotEqual(t, blocked.name, result.FunctionName)
}

func TestDecide_SingleNoInputOptionSkipsLM(t *testing.T) {
	only := &stubTool{name: "only_choice", available: tool.Available}
	n := NewNode("root", "pick something", true)
	require.NoError(t, n.AddOption(&Option{ID: only.name, Tool: only}))

	provider := &stubProvider{}
	chain := &Chain{Provider: provider, Model: "test"}

	chosen, result, err := n.Decide(context.Background(), newTD(), chain, Params{
		Emit: func(tool.Event) error { return nil },
	})
	require.NoError(t, err)
	require.Equal(t, only.name, chosen.ID)
	require.Equal(t, "only one option", result.Reasoning)
	require.Zero(t, provider.calls)
}

func TestDecide_RuleToolsAutoRunBeforeLM(t *testing.T) {
	rule := &stubTool{name: "rule_tool", available: tool.Available, autoRun: true, autoInput: map[string]any{"msg": "hi"}}
	other := &stubTool{name: "other", available: tool.Available}

	n := NewNode("root", "pick something", true)
	require.NoError(t, n.AddOption(&Option{ID: rule.name, Tool: rule}))
	require.NoError(t, n.AddOption(&Option{ID: other.name, Tool: other}))

	provider := &stubProvider{decision: llm.Decision{FunctionName: other.name, FunctionInputs: map[string]any{}}}
	chain := &Chain{Provider: provider, Model: "test"}

	var resultEvents int
	_, _, err := n.Decide(context.Background(), newTD(), chain, Params{
		Emit: func(ev tool.Event) error {
			if ev.Kind == tool.KindResult {
				resultEvents++
			}
			return nil
		},
	})
	require.NoError(t, err)
	require.Len(t, rule.invoked, 1)
	require.Equal(t, "hi", rule.invoked[0]["msg"])
	require.GreaterOrEqual(t, resultEvents, 1)
}

func TestDecide_NoAvailableOptionsErrors(t *testing.T) {
	blocked := &stubTool{name: "blocked", available: tool.Availability{Available: false, Reason: "off"}}
	n := NewNode("root", "pick something", true)
	require.NoError(t, n.AddOption(&Option{ID: blocked.name, Tool: blocked}))

	chain := &Chain{Provider: &stubProvider{}, Model: "test"}
	_, _, err := n.Decide(context.Background(), newTD(), chain, Params{Emit: func(tool.Event) error { return nil }})
	require.ErrorIs(t, err, ErrNoToolsAvailable)
}

func TestDecide_RouteBypassesLM(t *testing.T) {
	a := &stubTool{name: "a", available: tool.Available}
	b := &stubTool{name: "b", available: tool.Available}
	n := NewNode("root", "pick", true)
	require.NoError(t, n.AddOption(&Option{ID: a.name, Tool: a}))
	require.NoError(t, n.AddOption(&Option{ID: b.name, Tool: b}))

	provider := &stubProvider{}
	chain := &Chain{Provider: provider, Model: "test"}
	chosen, _, err := n.Decide(context.Background(), newTD(), chain, Params{
		Emit:  func(tool.Event) error { return nil },
		Route: []string{"b"},
	})
	require.NoError(t, err)
	require.Equal(t, "b", chosen.ID)
	require.Zero(t, provider.calls)
}
