package tree

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/elysia-go/elysiatree/internal/decision"
	"github.com/elysia-go/elysiatree/internal/environment"
	"github.com/elysia-go/elysiatree/internal/observability"
	"github.com/elysia-go/elysiatree/internal/store"
	"github.com/elysia-go/elysiatree/internal/tool"
	"github.com/elysia-go/elysiatree/internal/treedata"
)

// RunOptions configures one Tree.Run invocation.
type RunOptions struct {
	CollectionNames []string
	TrainingRoute   []string
	QueryID         string
	FewShotUUIDs    []string
}

// RunResult is the synchronous summary Run returns once the loop exits:
// the concatenated assistant text and every object surfaced along the way.
type RunResult struct {
	QueryID string
	Text    string
	Objects []map[string]any
}

// Run drives the main loop of §2/§4.F: soft-reset, resolve clients and
// collections, then repeatedly walk from the root until the turn is
// flagged complete or the recursion limit is exhausted.
func (t *Tree) Run(ctx context.Context, prompt string, opts RunOptions) (RunResult, error) {
	if t.BaseChain == nil || t.BaseChain.Provider == nil || t.ComplexChain == nil || t.ComplexChain.Provider == nil {
		return RunResult{}, wrapConfiguration("both base and complex LMs must be configured before Run")
	}

	queryID := opts.QueryID
	if queryID == "" {
		queryID = uuid.NewString()
	}

	log := observability.LoggerForTurn(ctx, t.ConversationID, queryID, "")
	log.Debug().Int("prompt_len", len(prompt)).Msg("tree_run_start")

	t.TreeData.SoftReset()

	var lease *store.Lease
	if t.ClientManager != nil {
		l, err := t.ClientManager.Connect(ctx)
		if err != nil {
			return RunResult{}, fmt.Errorf("tree: connect store client: %w", err)
		}
		lease = l
		defer lease.Close()
	}

	if t.Fetcher != nil && len(opts.CollectionNames) > 0 {
		result := t.TreeData.SetCollectionNames(ctx, opts.CollectionNames, t.Fetcher)
		for _, w := range result.Warnings {
			t.emitWarning(w)
		}
	}

	for _, w := range t.purgeEmptyBranches() {
		t.emitWarning(w)
	}

	t.TreeData.AppendHistory("user", prompt)
	t.TreeData.UserPrompt = prompt

	deps := tool.Dependencies{BaseLM: t.BaseChain.Provider, ComplexLM: t.ComplexChain.Provider}
	if lease != nil {
		deps.Client = lease.Client
	}

	var objects []map[string]any
	turnFailed := false
	integrate := t.integrator(prompt, &objects, &turnFailed)

	var lastOpt *decision.Option
	var lastDecision struct{ EndActions, Impossible bool }

	for {
		node, ok := t.rootNode()
		if !ok {
			return RunResult{}, wrapConfiguration("tree has no root branch")
		}

		route := opts.TrainingRoute
		for {
			turnFailed = false
			chosen, d, err := node.Decide(ctx, t.TreeData, t.BaseChain, decision.Params{
				Deps:           deps,
				Emit:           integrate,
				FewShotUUIDs:   opts.FewShotUUIDs,
				Route:          route,
				TreeIndex:      t.TreeData.NumTreesCompleted,
				ConversationID: t.ConversationID,
				QueryID:        queryID,
			})
			if err != nil {
				return RunResult{}, translateDecisionError(err)
			}
			if len(route) > 0 {
				route = route[1:]
			}
			lastOpt = chosen
			lastDecision.EndActions = d.EndActions
			lastDecision.Impossible = d.Impossible

			if chosen.Next == nil {
				break
			}
			node = chosen.Next
		}

		limitReached := t.TreeData.NumTreesCompleted >= t.TreeData.RecursionLimit
		naturalDone := (lastDecision.EndActions || lastOpt.EndsConversation || lastDecision.Impossible) && !turnFailed
		if naturalDone || limitReached {
			break
		}
		t.TreeData.NumTreesCompleted++
	}

	if lastOpt == nil || !lastOpt.EndsConversation {
		if err := t.registerForcedTextResponse("I wasn't able to fully complete this within the allotted number of attempts."); err != nil {
			return RunResult{}, err
		}
		root, _ := t.rootNode()
		if ft, ok := root.Option(forcedTextResponseName); ok {
			if err := ft.Tool.Invoke(ctx, t.TreeData, map[string]any{}, deps, tool.WithToolName(forcedTextResponseName, integrate)); err != nil {
				return RunResult{}, wrapToolInvocation(forcedTextResponseName, err)
			}
		}
	}

	if err := integrate(tool.Event{Kind: tool.KindCompleted}); err != nil {
		return RunResult{}, err
	}

	log.Debug().Int("trees_completed", t.TreeData.NumTreesCompleted).Msg("tree_run_complete")

	return RunResult{
		QueryID: queryID,
		Text:    lastAssistantText(t.TreeData),
		Objects: objects,
	}, nil
}

func (t *Tree) rootNode() (*decision.Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[t.rootID]
	return n, ok
}

func (t *Tree) emitWarning(msg string) {
	if t.Sink != nil {
		_ = t.Sink(tool.WarningEvent(msg))
	}
}

// integrator returns the EmitFunc Decide calls threaded through: it
// performs the §4.F event-integration rules before forwarding every event
// to the tree's Sink (the streaming returner, if one is attached).
func (t *Tree) integrator(prompt string, objects *[]map[string]any, turnFailed *bool) tool.EmitFunc {
	return func(ev tool.Event) error {
		switch ev.Kind {
		case tool.KindResult, tool.KindRetrieval:
			if len(ev.Objects) == 0 {
				return nil // P8
			}
			t.TreeData.Environment.Add(ev.Tool, ev.Name, environment.ResultBlock{
				Metadata: ev.Metadata,
				Objects:  toEnvironmentObjects(ev.Objects),
			})
			t.TreeData.UpdateTasksCompleted(prompt, ev.Name, t.TreeData.NumTreesCompleted, treedataFields(ev))
			*objects = append(*objects, ev.Objects...)
		case tool.KindError:
			*turnFailed = true
			t.TreeData.AppendError(ev.Tool, ev.Message)
		case tool.KindText:
			for _, to := range ev.TextObjects {
				t.TreeData.AppendHistory("assistant", to.Text)
			}
		}
		if t.Sink != nil {
			return t.Sink(ev)
		}
		return nil
	}
}

func treedataFields(ev tool.Event) treedata.TaskFields {
	action := true
	return treedata.TaskFields{
		Action:        &action,
		ParsedInfo:    ev.Objects,
		HasParsedInfo: true,
	}
}

func toEnvironmentObjects(objs []map[string]any) []environment.Object {
	out := make([]environment.Object, len(objs))
	for i, o := range objs {
		out[i] = environment.Object(o)
	}
	return out
}

func lastAssistantText(td *treedata.TreeData) string {
	for i := len(td.ConversationHistory) - 1; i >= 0; i-- {
		if td.ConversationHistory[i].Role == "assistant" {
			return td.ConversationHistory[i].Content
		}
	}
	return ""
}

func translateDecisionError(err error) error {
	if err == decision.ErrNoToolsAvailable {
		return fmt.Errorf("%w", ErrNoToolsAvailable)
	}
	return err
}
