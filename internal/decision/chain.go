package decision

import (
	"context"
	"fmt"
	"strings"

	"github.com/elysia-go/elysiatree/internal/llm"
	"github.com/elysia-go/elysiatree/internal/observability"
	"github.com/elysia-go/elysiatree/internal/tool"
	"github.com/elysia-go/elysiatree/internal/treedata"
)

// Chain is the Go name for the "Elysia chain of thought" LM invocation
// wrapper (SPEC_FULL.md §4.E): it turns a Node's options into a JSON
// schema, asks a Provider to fill it in, and decodes the result into an
// llm.Decision.
type Chain struct {
	Provider          llm.Provider
	Model             string
	UseReasoning      bool
	EmitMessageUpdate bool
}

// Params bundles everything a single Decide call needs beyond the node's
// own option set.
type Params struct {
	Deps         tool.Dependencies
	Emit         tool.EmitFunc
	FewShotUUIDs []string
	Route        []string // preset option-id path for decide-from-route training mode
	TreeIndex    int       // td.NumTreesCompleted at call time, stamped onto TreeUpdate events

	// ConversationID and QueryID identify the turn this Decide call belongs
	// to, so log lines emitted while deciding can be correlated back to it.
	ConversationID string
	QueryID        string
}

// textResponseOptionID names the synthetic text-reply option Decide skips
// the intermediate "Response" event emission for (§4.E step 6).
const textResponseOptionID = "text_response"

// Decide runs the full §4.E protocol for one node: partition options by
// availability, run rule tools, take the single-option shortcut or ask the
// LM, emit the protocol's events, and return the chosen option.
func (n *Node) Decide(ctx context.Context, td *treedata.TreeData, chain *Chain, p Params) (*Option, llm.Decision, error) {
	log := observability.LoggerForTurn(ctx, p.ConversationID, p.QueryID, n.ID)

	available, unavailable := n.partition(ctx, td, p.Deps)
	if len(available) == 0 {
		log.Warn().Msg("decision_no_tools_available")
		return nil, llm.Decision{}, ErrNoToolsAvailable
	}

	if err := n.runRuleTools(ctx, td, p.Deps, available, p.Emit); err != nil {
		return nil, llm.Decision{}, err
	}

	var chosen *Option
	var result llm.Decision

	switch {
	case len(p.Route) > 0:
		id := p.Route[0]
		opt, ok := n.options[id]
		if !ok {
			return nil, llm.Decision{}, fmt.Errorf("decision: route option %q not found at node %q", id, n.ID)
		}
		chosen = opt
		result = llm.Decision{
			Reasoning:      "decided from preset route",
			FunctionName:   id,
			FunctionInputs: map[string]any{},
			EndActions:     opt.EndsConversation,
		}

	case len(available) == 1 && !hasRequiredInputs(available[0].opt):
		chosen = available[0].opt
		result = llm.Decision{
			Reasoning:      "only one option",
			FunctionName:   chosen.ID,
			FunctionInputs: map[string]any{},
			EndActions:     chosen.EndsConversation,
		}

	default:
		var err error
		result, err = chain.invoke(ctx, td, n, available, unavailable)
		if err != nil {
			return nil, llm.Decision{}, fmt.Errorf("decision: chain invoke at node %q: %w", n.ID, err)
		}
		opt, ok := n.options[result.FunctionName]
		if !ok {
			return nil, llm.Decision{}, fmt.Errorf("decision: LM chose unknown option %q at node %q", result.FunctionName, n.ID)
		}
		chosen = opt
	}

	log.Debug().Str("chosen", chosen.ID).Bool("end_actions", result.EndActions).Msg("decision_chosen")

	if err := n.emitProtocolEvents(chosen, result, p); err != nil {
		return nil, llm.Decision{}, err
	}

	if chosen.Tool != nil {
		clean := tool.NormalizeInputs(chosen.Tool.Describe().Inputs, result.FunctionInputs)
		if err := chosen.Tool.Invoke(ctx, td, clean, p.Deps, tool.WithToolName(chosen.ID, p.Emit)); err != nil {
			return chosen, result, fmt.Errorf("decision: invoke %q: %w", chosen.ID, err)
		}
	}

	return chosen, result, nil
}

func (n *Node) emitProtocolEvents(chosen *Option, result llm.Decision, p Params) error {
	if p.Emit == nil {
		return nil
	}
	training := tool.Event{
		Kind: tool.KindTrainingUpdate,
		Training: map[string]any{
			"node":            n.ID,
			"function_name":   result.FunctionName,
			"function_inputs": result.FunctionInputs,
			"reasoning":       result.Reasoning,
			"impossible":      result.Impossible,
			"end_actions":     result.EndActions,
		},
	}
	if err := p.Emit(training); err != nil {
		return err
	}

	treeUpdate := tool.Event{
		Kind:      tool.KindTreeUpdate,
		Name:      n.ID,
		Message:   result.FunctionName,
		TreeIndex: p.TreeIndex,
		Reset:     n.IsRoot,
		Metadata: map[string]any{
			"from":         n.ID,
			"to":           result.FunctionName,
			"reasoning":    result.Reasoning,
			"lastInBranch": chosen.Next == nil,
		},
	}
	if err := p.Emit(treeUpdate); err != nil {
		return err
	}

	if chosen.Status != "" {
		if err := p.Emit(tool.StatusEvent(chosen.Status)); err != nil {
			return err
		}
	}

	if result.FunctionName != textResponseOptionID && result.MessageUpdate != "" {
		if err := p.Emit(tool.TextEvent(result.MessageUpdate)); err != nil {
			return err
		}
	}

	if len(p.FewShotUUIDs) > 0 {
		if err := p.Emit(tool.Event{Kind: tool.KindFewShot, ExampleUUIDs: p.FewShotUUIDs}); err != nil {
			return err
		}
	}

	return nil
}

// invoke builds the schema and messages for one LM call and decodes the
// result.
func (c *Chain) invoke(ctx context.Context, td *treedata.TreeData, n *Node, available, unavailable []availableOption) (llm.Decision, error) {
	ids := make([]string, 0, len(available))
	for _, a := range available {
		ids = append(ids, a.opt.ID)
	}
	schema := llm.DecisionSchema(c.UseReasoning, c.EmitMessageUpdate, ids)
	msgs := c.buildMessages(td, n, available, unavailable)
	return c.Provider.Complete(ctx, c.Model, msgs, schema)
}

func (c *Chain) buildMessages(td *treedata.TreeData, n *Node, available, unavailable []availableOption) []llm.Message {
	var system strings.Builder
	fmt.Fprintf(&system, "Style: %s\n", td.Atlas.Style)
	fmt.Fprintf(&system, "Agent description: %s\n", td.Atlas.AgentDescription)
	fmt.Fprintf(&system, "End goal: %s\n", td.Atlas.EndGoal)
	fmt.Fprintf(&system, "Node instruction: %s\n", n.Instruction)

	var user strings.Builder
	fmt.Fprintf(&user, "User prompt: %s\n", td.UserPrompt)
	fmt.Fprintf(&user, "Tree count: %s\n", td.TreeCountString())
	fmt.Fprintf(&user, "Tasks completed so far:\n%s\n", td.TasksCompletedString())

	user.WriteString("Available options:\n")
	shapes := n.descendantShapes()
	for _, a := range available {
		fmt.Fprintf(&user, "- %s: %s", a.opt.ID, a.opt.Description)
		if shape, ok := shapes[a.opt.ID]; ok {
			fmt.Fprintf(&user, " (%s)", shape)
		}
		user.WriteString("\n")
	}

	if len(unavailable) > 0 {
		user.WriteString("Unavailable options:\n")
		for _, a := range unavailable {
			fmt.Fprintf(&user, "- %s: unavailable (%s)\n", a.opt.ID, a.reason)
		}
	}

	msgs := []llm.Message{
		{Role: "system", Content: system.String()},
		{Role: "user", Content: user.String()},
	}
	for _, h := range td.ConversationHistory {
		msgs = append(msgs, llm.Message{Role: h.Role, Content: h.Content})
	}
	return msgs
}
