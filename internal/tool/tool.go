// Package tool defines the uniform capability set every decision-tree leaf
// implements: describable metadata, an availability gate, an auto-run rule,
// and a lazily-yielded stream of result events.
package tool

import (
	"context"
	"fmt"

	"github.com/elysia-go/elysiatree/internal/llm"
	"github.com/elysia-go/elysiatree/internal/store"
	"github.com/elysia-go/elysiatree/internal/treedata"
)

// InputSpec declares one parameter a Tool accepts. Types are described
// semantically (not inferred via reflection on a function signature), per
// the redesign note replacing dynamic introspection with explicit schemas.
type InputSpec struct {
	Type        string // "string" | "number" | "integer" | "boolean" | "object" | "array"
	Description string
	Default     any
	Required    bool
}

// SupportedInputTypes are the semantic type tags NewFuncTool will accept.
var SupportedInputTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"integer": true,
	"boolean": true,
	"object":  true,
	"array":   true,
}

// Metadata is immutable tool description, captured once at registration.
type Metadata struct {
	Name             string
	Description      string
	Status           string
	Inputs           map[string]InputSpec
	EndsConversation bool
}

// Dependencies bundles the external collaborators a Tool's behaviour
// methods may consult.
type Dependencies struct {
	BaseLM    llm.Provider
	ComplexLM llm.Provider
	Client    store.Client
}

// Availability is the result of IsAvailable: when false, Reason is
// surfaced to the LM as the option's unavailable-catalog explanation.
type Availability struct {
	Available bool
	Reason    string
}

// Available is the always-true default most tools return.
var Available = Availability{Available: true}

// EmitFunc is how a Tool yields one event. The engine integrates the event
// (Environment.Add, tasks-completed, conversation history, or forwarding to
// the returner) before EmitFunc returns, so a blocking EmitFunc is the only
// preemption point inside Invoke (§5, §9).
type EmitFunc func(Event) error

// Tool is the capability set every leaf of the decision tree satisfies.
type Tool interface {
	Describe() Metadata
	IsAvailable(ctx context.Context, td *treedata.TreeData, deps Dependencies) Availability
	ShouldAutoRun(ctx context.Context, td *treedata.TreeData, deps Dependencies) (bool, map[string]any)
	Invoke(ctx context.Context, td *treedata.TreeData, inputs map[string]any, deps Dependencies, emit EmitFunc) error
}

// NeverAutoRun is embeddable by tools that are never rule tools.
type NeverAutoRun struct{}

func (NeverAutoRun) ShouldAutoRun(context.Context, *treedata.TreeData, Dependencies) (bool, map[string]any) {
	return false, nil
}

// AlwaysAvailable is embeddable by tools with no gating condition.
type AlwaysAvailable struct{}

func (AlwaysAvailable) IsAvailable(context.Context, *treedata.TreeData, Dependencies) Availability {
	return Available
}

// NormalizeInputs applies the §4.E edge-case rules to LM-supplied inputs
// against a tool's declared schema: unknown keys are dropped, missing
// required-or-defaulted keys are filled from their declared default, and
// any value arriving in the {description,type,default,value} wrapper shape
// is unwrapped to its "value" field.
func NormalizeInputs(declared map[string]InputSpec, raw map[string]any) map[string]any {
	out := make(map[string]any, len(declared))
	for name, spec := range declared {
		v, ok := raw[name]
		if !ok {
			if spec.Default != nil {
				out[name] = spec.Default
			}
			continue
		}
		out[name] = unwrapValue(v)
	}
	return out
}

func unwrapValue(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	_, hasType := m["type"]
	_, hasDescription := m["description"]
	value, hasValue := m["value"]
	if hasValue && (hasType || hasDescription) {
		return value
	}
	return v
}

// WithToolName returns an EmitFunc that stamps every event's Tool field
// with name before forwarding it to emit, so a Tool implementation never
// has to know its own registered name.
func WithToolName(name string, emit EmitFunc) EmitFunc {
	return func(ev Event) error {
		ev.Tool = name
		return emit(ev)
	}
}

// ValidateInputs rejects an InputSpec map declaring an unsupported semantic
// type, the check NewFuncTool runs so a tool can never register a
// parameter the schema layer (and therefore the LM) cannot describe.
func ValidateInputs(inputs map[string]InputSpec) error {
	for name, spec := range inputs {
		if !SupportedInputTypes[spec.Type] {
			return fmt.Errorf("tool input %q: unsupported type %q", name, spec.Type)
		}
	}
	return nil
}
