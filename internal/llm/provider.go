// Package llm defines the language-model contract DecisionNode invokes; the
// concrete adapters in its anthropic, openai and google subpackages satisfy it.
package llm

import (
	"context"
	"encoding/json"
)

// Decision is the structured output of one "chain of thought" LM call: the
// reasoning leading to a choice, the chosen option, its inputs, and the two
// terminal flags a DecisionNode checks after every call.
type Decision struct {
	Reasoning      string         `json:"reasoning"`
	Impossible     bool           `json:"impossible"`
	MessageUpdate  string         `json:"messageUpdate"`
	FunctionName   string         `json:"functionName"`
	FunctionInputs map[string]any `json:"functionInputs"`
	EndActions     bool           `json:"endActions"`
}

// Message is a portable chat turn, independent of any one SDK's wire shape.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Provider is the sole nondeterministic oracle a Chain calls through.
// schema is a JSON Schema object describing the desired Decision shape
// (property names matching Decision's json tags); every provider must ask
// its underlying API for output conforming to it.
type Provider interface {
	Complete(ctx context.Context, model string, msgs []Message, schema map[string]any) (Decision, error)
}

// UseReasoning reports whether schema declares a "reasoning" property,
// letting an adapter skip emitting chain-of-thought tokens when the caller
// built a schema without one (settings.base_use_reasoning = false).
func UseReasoning(schema map[string]any) bool {
	props, _ := schema["properties"].(map[string]any)
	_, ok := props["reasoning"]
	return ok
}

// DecisionSchema returns the JSON Schema for Decision, optionally omitting
// the reasoning/messageUpdate fields per spec.md §6's use_reasoning toggles.
func DecisionSchema(includeReasoning, includeMessageUpdate bool, availableOptions []string) map[string]any {
	props := map[string]any{
		"impossible": map[string]any{
			"type":        "boolean",
			"description": "true if none of the available options can make progress",
		},
		"functionName": map[string]any{
			"type": "string",
			"enum": availableOptions,
		},
		"functionInputs": map[string]any{
			"type":                 "object",
			"additionalProperties": true,
		},
		"endActions": map[string]any{
			"type":        "boolean",
			"description": "true if this selection ends the conversation",
		},
	}
	required := []string{"impossible", "functionName", "functionInputs", "endActions"}
	if includeReasoning {
		props["reasoning"] = map[string]any{"type": "string"}
		required = append([]string{"reasoning"}, required...)
	}
	if includeMessageUpdate {
		props["messageUpdate"] = map[string]any{"type": "string"}
		required = append(required, "messageUpdate")
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// decodeDecision unmarshals a raw tool-call-shaped argument blob (as every
// adapter receives it from its SDK's structured-output / forced-tool-call
// path) into a Decision, defaulting FunctionInputs to an empty map so
// downstream code never nil-derefs it.
func decodeDecision(raw json.RawMessage) (Decision, error) {
	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return Decision{}, err
	}
	if d.FunctionInputs == nil {
		d.FunctionInputs = map[string]any{}
	}
	return d, nil
}
