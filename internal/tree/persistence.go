package tree

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/elysia-go/elysiatree/internal/config"
	"github.com/elysia-go/elysiatree/internal/decision"
	"github.com/elysia-go/elysiatree/internal/llm"
	"github.com/elysia-go/elysiatree/internal/store"
	"github.com/elysia-go/elysiatree/internal/tool"
	"github.com/elysia-go/elysiatree/internal/treedata"
)

// NodeShape is one node of the deterministic, read-only JSON tree shape
// re-derived after every mutation (§4.F), key order fixed at
// {name,id,description,instruction,reasoning,branch,options}.
type NodeShape struct {
	Name        string      `json:"name"`
	ID          string      `json:"id"`
	Description string      `json:"description"`
	Instruction string      `json:"instruction"`
	Reasoning   string      `json:"reasoning"`
	Branch      bool        `json:"branch"`
	Options     []NodeShape `json:"options"`
}

// Shape walks the current graph from the root and returns its
// deterministic JSON shape; equal for any pair of mutation sequences that
// net to the same graph (P5).
func (t *Tree) Shape() (NodeShape, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	root, ok := t.nodes[t.rootID]
	if !ok {
		return NodeShape{}, wrapConfiguration("tree has no root branch")
	}
	return shapeOf(root), nil
}

func shapeOf(n *decision.Node) NodeShape {
	shape := NodeShape{ID: n.ID, Instruction: n.Instruction, Branch: true}
	for _, opt := range n.Options() {
		if opt.Next != nil {
			shape.Options = append(shape.Options, shapeOf(opt.Next))
			continue
		}
		shape.Options = append(shape.Options, NodeShape{
			Name: opt.ID, ID: opt.ID, Description: opt.Description, Branch: false,
		})
	}
	return shape
}

// mutationExport is mutation's JSON-facing shape (mutation itself stays
// package-private since it also serves as the live undo-bookkeeping log).
type mutationExport struct {
	Kind         string   `json:"kind"`
	BranchID     string   `json:"branchId"`
	Instruction  string   `json:"instruction,omitempty"`
	Description  string   `json:"description,omitempty"`
	IsRoot       bool     `json:"isRoot,omitempty"`
	FromBranchID string   `json:"fromBranchId,omitempty"`
	FromToolIDs  []string `json:"fromToolIds,omitempty"`
	Status       string   `json:"status,omitempty"`
	ToolName     string   `json:"toolName,omitempty"`
}

// TreeExport is the persisted shape of a Tree (§4.F persistence): a
// replayable branch-initialisation log (branchInit) plus the opaque
// TreeData snapshot, settings, and a read-only shape for the frontend.
type TreeExport struct {
	UserID               string            `json:"userId"`
	ConversationID       string            `json:"conversationId"`
	Title                string            `json:"title"`
	BranchInit           []mutationExport  `json:"branchInit"`
	UseElysiaCollections bool              `json:"useElysiaCollections"`
	TreeIndex            int               `json:"treeIndex"`
	TreeData             treedata.Snapshot `json:"treeData"`
	Settings             config.Settings   `json:"settings"`
	ToolNames            []string          `json:"toolNames"`
	FrontendRebuild      NodeShape         `json:"frontendRebuild"`
}

// ExportJSON serialises the tree to the persisted shape.
func (t *Tree) ExportJSON() (TreeExport, error) {
	snap, err := t.TreeData.Export()
	if err != nil {
		return TreeExport{}, err
	}
	shape, err := t.Shape()
	if err != nil {
		return TreeExport{}, err
	}

	t.mu.Lock()
	branchInit := make([]mutationExport, len(t.mutations))
	for i, m := range t.mutations {
		branchInit[i] = mutationExport{
			Kind: string(m.Kind), BranchID: m.BranchID, Instruction: m.Instruction,
			Description: m.Description, IsRoot: m.IsRoot, FromBranchID: m.FromBranchID,
			FromToolIDs: m.FromToolIDs, Status: m.Status, ToolName: m.ToolName,
		}
	}
	toolNames := make([]string, 0, len(t.tools))
	for name := range t.tools {
		toolNames = append(toolNames, name)
	}
	t.mu.Unlock()

	return TreeExport{
		UserID:          t.UserID,
		ConversationID:  t.ConversationID,
		Title:           t.Title,
		BranchInit:      branchInit,
		TreeIndex:       t.TreeData.NumTreesCompleted,
		TreeData:        snap,
		Settings:        t.TreeData.Settings,
		ToolNames:       toolNames,
		FrontendRebuild: shape,
	}, nil
}

// ImportJSON rebuilds a Tree from a TreeExport, replaying branchInit
// against registry to reconstruct the graph. A mutation naming a tool
// absent from registry is skipped and reported as a warning, not a
// failure (§4.F).
func ImportJSON(export TreeExport, registry map[string]tool.Tool, baseProvider, complexProvider llm.Provider, clientMgr *store.ClientManager) (*Tree, []string, error) {
	td, err := treedata.Restore(export.Settings, export.TreeData)
	if err != nil {
		return nil, nil, fmt.Errorf("tree: restore treedata: %w", err)
	}

	t := New(export.Settings, baseProvider, complexProvider, clientMgr)
	t.TreeData = td
	t.UserID = export.UserID
	t.ConversationID = export.ConversationID
	t.Title = export.Title

	var warnings []string
	for _, m := range export.BranchInit {
		switch mutationKind(m.Kind) {
		case mutationAddBranch:
			if err := t.AddBranch(m.BranchID, m.Instruction, m.Description, m.IsRoot, m.FromBranchID, m.Status); err != nil {
				warnings = append(warnings, fmt.Sprintf("replaying add_branch %q: %v", m.BranchID, err))
			}
		case mutationAddTool:
			tl, ok := registry[m.ToolName]
			if !ok {
				warnings = append(warnings, fmt.Sprintf("tool %q not found in registry; skipped", m.ToolName))
				continue
			}
			if err := t.AddTool(tl, m.BranchID, m.FromToolIDs, m.Status); err != nil {
				warnings = append(warnings, fmt.Sprintf("replaying add_tool %q: %v", m.ToolName, err))
			}
		}
	}
	return t, warnings, nil
}

// ExportToStore persists the tree's exported JSON under treeID via ts
// (§4.F: "persists to a known collection whose schema is {userId,
// conversationId, tree, title}" — ts.Save stores the whole TreeExport blob
// as the JSONB "data" column, which subsumes that schema).
func (t *Tree) ExportToStore(ctx context.Context, ts store.TreeStore, treeID string) error {
	export, err := t.ExportJSON()
	if err != nil {
		return err
	}
	data, err := json.Marshal(export)
	if err != nil {
		return fmt.Errorf("tree: marshal export: %w", err)
	}
	return ts.Save(ctx, nil, treeID, t.Title, data)
}

// ImportFromStore loads a tree previously saved with ExportToStore.
func ImportFromStore(ctx context.Context, ts store.TreeStore, treeID string, registry map[string]tool.Tool, baseProvider, complexProvider llm.Provider, clientMgr *store.ClientManager) (*Tree, []string, error) {
	data, err := ts.Load(ctx, nil, treeID)
	if err != nil {
		return nil, nil, fmt.Errorf("tree: load %q: %w", treeID, err)
	}
	var export TreeExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, nil, fmt.Errorf("tree: decode export: %w", err)
	}
	return ImportJSON(export, registry, baseProvider, complexProvider, clientMgr)
}
