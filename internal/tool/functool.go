package tool

import (
	"context"
	"fmt"

	"github.com/elysia-go/elysiatree/internal/treedata"
)

// Func is the plain Go function a FuncTool wraps: given normalised inputs
// (unknown keys dropped, defaults filled, §4.E), it returns the single
// Event to emit, or ok=false to emit nothing (e.g. an empty query result).
type Func func(ctx context.Context, td *treedata.TreeData, inputs map[string]any) (Event, bool, error)

// FuncToolSpec is the declarative description NewFuncTool validates and
// wraps; it is the Go expression of §4.D's "convenience factory" note,
// built from an explicit schema rather than reflection on Fn's signature.
type FuncToolSpec struct {
	Name             string
	Description      string
	Status           string
	Inputs           map[string]InputSpec
	EndsConversation bool
	Available        func(ctx context.Context, td *treedata.TreeData, deps Dependencies) Availability
	AutoRun          func(ctx context.Context, td *treedata.TreeData, deps Dependencies) (bool, map[string]any)
	Fn               Func
}

type funcTool struct {
	meta Metadata
	spec FuncToolSpec
}

// NewFuncTool validates spec's input schema and wraps Fn into a Tool. It
// rejects any input whose declared type NormalizeInputs/ValidateInputs
// cannot describe, per the §9 redesign note.
func NewFuncTool(spec FuncToolSpec) (Tool, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("tool: name is required")
	}
	if spec.Fn == nil {
		return nil, fmt.Errorf("tool %q: Fn is required", spec.Name)
	}
	if err := ValidateInputs(spec.Inputs); err != nil {
		return nil, fmt.Errorf("tool %q: %w", spec.Name, err)
	}
	return &funcTool{
		meta: Metadata{
			Name:             spec.Name,
			Description:      spec.Description,
			Status:           spec.Status,
			Inputs:           spec.Inputs,
			EndsConversation: spec.EndsConversation,
		},
		spec: spec,
	}, nil
}

func (t *funcTool) Describe() Metadata { return t.meta }

func (t *funcTool) IsAvailable(ctx context.Context, td *treedata.TreeData, deps Dependencies) Availability {
	if t.spec.Available == nil {
		return Available
	}
	return t.spec.Available(ctx, td, deps)
}

func (t *funcTool) ShouldAutoRun(ctx context.Context, td *treedata.TreeData, deps Dependencies) (bool, map[string]any) {
	if t.spec.AutoRun == nil {
		return false, nil
	}
	return t.spec.AutoRun(ctx, td, deps)
}

func (t *funcTool) Invoke(ctx context.Context, td *treedata.TreeData, inputs map[string]any, deps Dependencies, emit EmitFunc) error {
	clean := NormalizeInputs(t.meta.Inputs, inputs)
	ev, ok, err := t.spec.Fn(ctx, td, clean)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return emit(ev)
}
