// Package decision implements the DecisionNode described in spec.md §4.E:
// a choice point in the tree that gates its options by availability, runs
// rule tools, and otherwise asks an LM (through Chain, the "Elysia chain
// of thought" module) which option to take next.
package decision

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/elysia-go/elysiatree/internal/tool"
	"github.com/elysia-go/elysiatree/internal/treedata"
)

// ErrNoToolsAvailable is returned when every option at a node is
// unavailable: the decision step cannot be made at all (§7).
var ErrNoToolsAvailable = errors.New("decision: no options available at this node")

// Option is one choice a Node offers: either a Tool (Tool != nil) or a
// sub-branch (Next != nil). Both set only when the tool has been stemmed
// (spec.md §3, §4.F).
type Option struct {
	ID               string
	Description      string
	Tool             tool.Tool
	EndsConversation bool
	Status           string
	Next             *Node
}

// Node is a point in the decision tree: an instruction plus a set of
// options, addressed by their insertion order for deterministic prompts
// and deterministic JSON export (P5).
type Node struct {
	ID          string
	Instruction string
	IsRoot      bool

	options     map[string]*Option
	optionOrder []string
}

// NewNode returns an empty Node ready to accept options.
func NewNode(id, instruction string, isRoot bool) *Node {
	return &Node{
		ID:          id,
		Instruction: instruction,
		IsRoot:      isRoot,
		options:     make(map[string]*Option),
	}
}

// AddOption registers opt under its ID; duplicate tool names are forbidden
// at registration (§4.E "Tie-breaks and edge cases").
func (n *Node) AddOption(opt *Option) error {
	if _, exists := n.options[opt.ID]; exists {
		return fmt.Errorf("decision: duplicate option id %q at node %q", opt.ID, n.ID)
	}
	n.options[opt.ID] = opt
	n.optionOrder = append(n.optionOrder, opt.ID)
	return nil
}

// RemoveOption deletes an option by ID, returning false if it was absent.
func (n *Node) RemoveOption(id string) bool {
	if _, ok := n.options[id]; !ok {
		return false
	}
	delete(n.options, id)
	for i, existing := range n.optionOrder {
		if existing == id {
			n.optionOrder = append(n.optionOrder[:i], n.optionOrder[i+1:]...)
			break
		}
	}
	return true
}

// Option looks up an option by ID.
func (n *Node) Option(id string) (*Option, bool) {
	opt, ok := n.options[id]
	return opt, ok
}

// Options returns the node's options in registration order.
func (n *Node) Options() []*Option {
	out := make([]*Option, 0, len(n.optionOrder))
	for _, id := range n.optionOrder {
		out = append(out, n.options[id])
	}
	return out
}

// IsEmpty reports whether the node currently offers no options, the
// condition the empty-branch purge (§4.F) detaches on.
func (n *Node) IsEmpty() bool {
	return len(n.optionOrder) == 0
}

// availableOption pairs an Option with the availability reason gathered
// while partitioning, for both the LM prompt and event emission.
type availableOption struct {
	opt    *Option
	reason string
}

// partition splits a node's options into available and unavailable sets
// by calling each tool option's IsAvailable; sub-branch options (Tool ==
// nil) are always available (§4.E step 1).
func (n *Node) partition(ctx context.Context, td *treedata.TreeData, deps tool.Dependencies) (available, unavailable []availableOption) {
	for _, id := range n.optionOrder {
		opt := n.options[id]
		if opt.Tool == nil {
			available = append(available, availableOption{opt: opt})
			continue
		}
		result := opt.Tool.IsAvailable(ctx, td, deps)
		if result.Available {
			available = append(available, availableOption{opt: opt})
		} else {
			unavailable = append(unavailable, availableOption{opt: opt, reason: result.Reason})
		}
	}
	return available, unavailable
}

// runRuleTools executes, in declared order, every available tool option
// whose ShouldAutoRun returns true, streaming its events through emit
// (§4.E step 3). The caller (Tree) is responsible for event integration;
// Decide only sequences the calls.
func (n *Node) runRuleTools(ctx context.Context, td *treedata.TreeData, deps tool.Dependencies, available []availableOption, emit tool.EmitFunc) error {
	for _, a := range available {
		if a.opt.Tool == nil {
			continue
		}
		should, inputs := a.opt.Tool.ShouldAutoRun(ctx, td, deps)
		if !should {
			continue
		}
		if err := a.opt.Tool.Invoke(ctx, td, inputs, deps, tool.WithToolName(a.opt.ID, emit)); err != nil {
			return fmt.Errorf("decision: rule tool %q: %w", a.opt.ID, err)
		}
	}
	return nil
}

// hasRequiredInputs reports whether opt declares any required input,
// used by the single-no-input-option shortcut (§4.E step 4).
func hasRequiredInputs(opt *Option) bool {
	if opt.Tool == nil {
		return false
	}
	for _, spec := range opt.Tool.Describe().Inputs {
		if spec.Required {
			return true
		}
	}
	return false
}

// descendantShapes computes, for every option that leads to a sub-branch,
// a short textual preview of that branch's own options, letting the LM
// foresee the consequences of descending before it decides (§4.E step 5).
func (n *Node) descendantShapes() map[string]string {
	shapes := make(map[string]string)
	for _, id := range n.optionOrder {
		opt := n.options[id]
		if opt.Next == nil {
			continue
		}
		names := make([]string, 0, len(opt.Next.optionOrder))
		for _, childID := range opt.Next.optionOrder {
			names = append(names, childID)
		}
		sort.Strings(names)
		shapes[id] = fmt.Sprintf("leads to a branch offering: %v", names)
	}
	return shapes
}
