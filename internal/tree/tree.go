// Package tree owns the decision-node graph, drives the main per-prompt
// loop described in spec.md §2/§4.F, integrates tool output into
// TreeData/Environment, and persists a tree to and from a JSON blob.
package tree

import (
	"context"
	"fmt"
	"sync"

	"github.com/elysia-go/elysiatree/internal/config"
	"github.com/elysia-go/elysiatree/internal/decision"
	"github.com/elysia-go/elysiatree/internal/llm"
	"github.com/elysia-go/elysiatree/internal/store"
	"github.com/elysia-go/elysiatree/internal/tool"
	"github.com/elysia-go/elysiatree/internal/treedata"
)

const forcedTextResponseName = "forced_text_response"

// Tree owns the node arena, the registered tools, and the per-invocation
// TreeData. It is not safe to Run concurrently with itself (§5: a TreeData
// is owned by one tree and not concurrently mutated), but its StoreClient
// pool may be shared with other trees.
type Tree struct {
	mu sync.Mutex

	nodes  map[string]*decision.Node
	rootID string

	tools map[string]tool.Tool

	mutations []mutation

	TreeData *treedata.TreeData

	BaseChain    *decision.Chain
	ComplexChain *decision.Chain

	ClientManager *store.ClientManager
	Fetcher       treedata.MetadataFetcher

	UserID         string
	ConversationID string
	Title          string

	Sink tool.EmitFunc
}

// New constructs an empty Tree (no root yet — call AddBranch with
// IsRoot=true first). baseProvider/complexProvider back the cheap and
// heavy LM chains respectively; the caller builds them (for example from
// settings.BaseProvider / ComplexProvider, §6), New does not select them.
func New(settings config.Settings, baseProvider, complexProvider llm.Provider, clientMgr *store.ClientManager) *Tree {
	return &Tree{
		nodes: make(map[string]*decision.Node),
		tools: make(map[string]tool.Tool),
		TreeData: treedata.New(settings),
		BaseChain: &decision.Chain{
			Provider:          baseProvider,
			Model:             settings.BaseModel,
			UseReasoning:      settings.BaseUseReasoning,
			EmitMessageUpdate: true,
		},
		ComplexChain: &decision.Chain{
			Provider:          complexProvider,
			Model:             settings.ComplexModel,
			UseReasoning:      settings.ComplexUseReasoning,
			EmitMessageUpdate: true,
		},
		ClientManager: clientMgr,
	}
}

type mutationKind string

const (
	mutationAddBranch mutationKind = "add_branch"
	mutationAddTool   mutationKind = "add_tool"
)

// mutation is one recorded graph-building step, replayed by ImportJSON
// against a caller-supplied tool registry (§4.F persistence).
type mutation struct {
	Kind         mutationKind
	BranchID     string
	Instruction  string
	Description  string
	IsRoot       bool
	FromBranchID string
	FromToolIDs  []string
	Status       string
	ToolName     string
}

func stemNodeID(branchID string, fromToolIDs []string) string {
	id := branchID
	for _, t := range fromToolIDs {
		id += "." + t
	}
	return id
}

// AddBranch adds a decision node. A non-root branch must specify
// fromBranchID (the branch it stems from, as a sub-branch option).
// Declaring isRoot=true while a root already exists replaces it, removing
// the old root (§4.F).
func (t *Tree) AddBranch(branchID, instruction, description string, isRoot bool, fromBranchID string, status string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !isRoot && fromBranchID == "" {
		return wrapConfiguration("branch %q: non-root branch requires fromBranchID", branchID)
	}
	if _, exists := t.nodes[branchID]; exists {
		return wrapConfiguration("branch %q already exists", branchID)
	}

	node := decision.NewNode(branchID, instruction, isRoot)
	t.nodes[branchID] = node

	if isRoot {
		if t.rootID != "" && t.rootID != branchID {
			delete(t.nodes, t.rootID)
		}
		t.rootID = branchID
	} else {
		parent, ok := t.nodes[fromBranchID]
		if !ok {
			return wrapConfiguration("branch %q: fromBranchID %q not found", branchID, fromBranchID)
		}
		if err := parent.AddOption(&decision.Option{
			ID:          branchID,
			Description: description,
			Status:      status,
			Next:        node,
		}); err != nil {
			return err
		}
	}

	t.mutations = append(t.mutations, mutation{
		Kind: mutationAddBranch, BranchID: branchID, Instruction: instruction,
		Description: description, IsRoot: isRoot, FromBranchID: fromBranchID, Status: status,
	})
	return nil
}

// AddTool adds a tool to branchID. When fromToolIDs is non-empty the tool
// is stemmed: a synthetic decision node at id "{branchID}.{fromToolIDs...}"
// is created if it does not yet exist, and the tool becomes one of its
// options, enabling a post-tool decision point (§4.F).
func (t *Tree) AddTool(tl tool.Tool, branchID string, fromToolIDs []string, status string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	name := tl.Describe().Name
	if _, exists := t.tools[name]; exists {
		return wrapConfiguration("tool %q already registered", name)
	}

	targetID := branchID
	if len(fromToolIDs) > 0 {
		targetID = stemNodeID(branchID, fromToolIDs)
		if _, exists := t.nodes[targetID]; !exists {
			parentID := branchID
			if len(fromToolIDs) > 1 {
				parentID = stemNodeID(branchID, fromToolIDs[:len(fromToolIDs)-1])
			}
			parent, ok := t.nodes[parentID]
			if !ok {
				return wrapConfiguration("tool %q: stem parent %q not found", name, parentID)
			}
			stemNode := decision.NewNode(targetID, fmt.Sprintf("decide what to do after %v", fromToolIDs), false)
			t.nodes[targetID] = stemNode
			lastTool := fromToolIDs[len(fromToolIDs)-1]
			if err := parent.AddOption(&decision.Option{ID: lastTool + "_next", Description: "continue after " + lastTool, Next: stemNode}); err != nil {
				return err
			}
		}
	}

	node, ok := t.nodes[targetID]
	if !ok {
		return wrapConfiguration("tool %q: branch %q not found", name, targetID)
	}
	if err := node.AddOption(&decision.Option{
		ID:               name,
		Description:      tl.Describe().Description,
		Tool:             tl,
		EndsConversation: tl.Describe().EndsConversation,
		Status:           status,
	}); err != nil {
		return err
	}
	t.tools[name] = tl

	t.mutations = append(t.mutations, mutation{
		Kind: mutationAddTool, BranchID: branchID, FromToolIDs: fromToolIDs, ToolName: name, Status: status,
	})
	return nil
}

// RemoveTool removes a tool by name from whichever node holds it. If the
// tool was itself a stem point for other tools, the stemmed sub-tree is
// removed too and a warning lists every collaterally removed tool.
func (t *Tree) RemoveTool(name string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.tools[name]; !ok {
		return nil, wrapConfiguration("tool %q not registered", name)
	}

	var warnings []string
	for _, node := range t.nodes {
		opt, ok := node.Option(name)
		if !ok || opt.Tool == nil {
			continue
		}
		node.RemoveOption(name)
		delete(t.tools, name)

		stemID := stemNodeID(node.ID, []string{name})
		if stem, exists := t.nodes[stemID]; exists {
			node.RemoveOption(name + "_next")
			removed := t.removeSubtree(stem)
			if len(removed) > 0 {
				warnings = append(warnings, fmt.Sprintf("removing %q cascaded into %v", name, removed))
			}
		}
		t.mutations = removeMutations(t.mutations, func(m mutation) bool {
			return m.Kind == mutationAddTool && m.ToolName == name
		})
		return warnings, nil
	}
	return nil, wrapConfiguration("tool %q not attached to any branch", name)
}

// RemoveBranch removes a branch and everything that stems from it. The
// root is spared from removal if it would leave the tree without one.
func (t *Tree) RemoveBranch(branchID string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if branchID == t.rootID {
		return nil, wrapConfiguration("cannot remove the root branch %q", branchID)
	}
	node, ok := t.nodes[branchID]
	if !ok {
		return nil, wrapConfiguration("branch %q not found", branchID)
	}

	for _, parent := range t.nodes {
		for _, opt := range parent.Options() {
			if opt.Next == node {
				parent.RemoveOption(opt.ID)
			}
		}
	}

	removed := t.removeSubtree(node)
	t.mutations = removeMutations(t.mutations, func(m mutation) bool {
		return m.Kind == mutationAddBranch && m.BranchID == branchID
	})
	return removed, nil
}

func (t *Tree) removeSubtree(node *decision.Node) []string {
	var removed []string
	for _, opt := range node.Options() {
		if opt.Tool != nil {
			delete(t.tools, opt.ID)
			removed = append(removed, opt.ID)
		}
		if opt.Next != nil {
			removed = append(removed, t.removeSubtree(opt.Next)...)
		}
	}
	delete(t.nodes, node.ID)
	return removed
}

func removeMutations(all []mutation, match func(mutation) bool) []mutation {
	out := all[:0]
	for _, m := range all {
		if !match(m) {
			out = append(out, m)
		}
	}
	return out
}

// purgeEmptyBranches detaches branches whose option map is empty, run at
// the start of every prompt (§4.F). The root is spared even if empty; an
// empty root produces a warning instead.
func (t *Tree) purgeEmptyBranches() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var warnings []string
	for id, node := range t.nodes {
		if id == t.rootID || !node.IsEmpty() {
			continue
		}
		for _, parent := range t.nodes {
			for _, opt := range parent.Options() {
				if opt.Next == node {
					parent.RemoveOption(opt.ID)
				}
			}
		}
		delete(t.nodes, id)
	}
	if root, ok := t.nodes[t.rootID]; ok && root.IsEmpty() {
		warnings = append(warnings, fmt.Sprintf("root branch %q has no options", t.rootID))
	}
	return warnings
}

// registerForcedTextResponse makes sure every tree has a synthetic text
// reply tool available at the root, used to close out a prompt that did
// not otherwise end on a text response (§4.F main loop step 5).
func (t *Tree) registerForcedTextResponse(message string) error {
	t.mu.Lock()
	_, already := t.tools[forcedTextResponseName]
	root := t.rootID
	t.mu.Unlock()
	if already {
		return nil
	}
	ft, err := tool.NewFuncTool(tool.FuncToolSpec{
		Name:             forcedTextResponseName,
		Description:      "Emit a closing assistant message when no other option ended the conversation.",
		EndsConversation: true,
		Fn: func(_ context.Context, _ *treedata.TreeData, _ map[string]any) (tool.Event, bool, error) {
			return tool.TextEvent(message), true, nil
		},
	})
	if err != nil {
		return err
	}
	return t.AddTool(ft, root, nil, "closing")
}
