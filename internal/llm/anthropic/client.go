// Package anthropic adapts llm.Provider to the Anthropic Messages API,
// grounded on manifold's internal/llm/anthropic client (SDK option wiring,
// span/log shape) but narrowed to a single forced tool call returning
// structured decision output instead of a full chat-with-streaming loop.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/elysia-go/elysiatree/internal/config"
	"github.com/elysia-go/elysiatree/internal/llm"
	"github.com/elysia-go/elysiatree/internal/observability"
)

const defaultMaxTokens int64 = 2048

// decideToolName is the single forced tool every completion asks for; the
// LM never gets a choice of tool, only a choice of what to put inside it.
const decideToolName = "decide"

type Client struct {
	sdk       anthropicsdk.Client
	model     string
	maxTokens int64
}

func New(cfg config.AnthropicConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(anthropicsdk.ModelClaude3_7SonnetLatest)
	}

	return &Client{
		sdk:       anthropicsdk.NewClient(opts...),
		model:     model,
		maxTokens: defaultMaxTokens,
	}
}

// Complete asks the model for one structured Decision. It never streams and
// never lets the model decline the tool: schema becomes the input_schema of
// a single forced tool, and the reply is unmarshalled straight out of that
// tool's input block.
func (c *Client) Complete(ctx context.Context, model string, msgs []llm.Message, schema map[string]any) (llm.Decision, error) {
	sys, converted := adaptMessages(msgs)
	toolDef, err := adaptSchema(schema)
	if err != nil {
		return llm.Decision{}, err
	}

	params := anthropicsdk.MessageNewParams{
		Model:      anthropicsdk.Model(c.pickModel(model)),
		Messages:   converted,
		System:     sys,
		Tools:      []anthropicsdk.ToolUnionParam{{OfTool: &toolDef}},
		ToolChoice: anthropicsdk.ToolChoiceParamOfTool(decideToolName),
		MaxTokens:  c.maxTokens,
	}

	log := observability.LoggerWithTrace(ctx)
	start := time.Now()
	resp, err := c.sdk.Messages.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", dur).Msg("anthropic_decide_error")
		return llm.Decision{}, fmt.Errorf("anthropic decide: %w", err)
	}

	log.Debug().
		Str("model", string(params.Model)).
		Dur("duration", dur).
		Int("prompt_tokens", int(resp.Usage.InputTokens)).
		Int("completion_tokens", int(resp.Usage.OutputTokens)).
		Msg("anthropic_decide_ok")

	return decisionFromResponse(resp)
}

func (c *Client) pickModel(requested string) string {
	if m := strings.TrimSpace(requested); m != "" {
		return m
	}
	return c.model
}

func adaptSchema(schema map[string]any) (anthropicsdk.ToolParam, error) {
	if schema == nil {
		return anthropicsdk.ToolParam{}, fmt.Errorf("anthropic provider: decision schema required")
	}
	inputSchema := anthropicsdk.ToolInputSchemaParam{
		Type: constant.ValueOf[constant.Object](),
	}
	extras := map[string]any{}
	for k, v := range schema {
		extras[k] = v
	}
	if props, ok := extras["properties"]; ok {
		inputSchema.Properties = props
		delete(extras, "properties")
	}
	if req, ok := extras["required"]; ok {
		delete(extras, "required")
		switch v := req.(type) {
		case []string:
			inputSchema.Required = v
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					inputSchema.Required = append(inputSchema.Required, s)
				}
			}
		}
	}
	delete(extras, "type")
	if len(extras) > 0 {
		inputSchema.ExtraFields = extras
	}

	return anthropicsdk.ToolParam{
		Name:        decideToolName,
		Description: anthropicsdk.String("Record the decision for this turn of the tree."),
		InputSchema: inputSchema,
	}, nil
}

func adaptMessages(msgs []llm.Message) ([]anthropicsdk.TextBlockParam, []anthropicsdk.MessageParam) {
	var sys []anthropicsdk.TextBlockParam
	out := make([]anthropicsdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			sys = append(sys, anthropicsdk.TextBlockParam{Text: m.Content})
		case "assistant":
			out = append(out, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content)))
		}
	}
	return sys, out
}

func decisionFromResponse(resp *anthropicsdk.Message) (llm.Decision, error) {
	if resp == nil {
		return llm.Decision{}, fmt.Errorf("anthropic decide: empty response")
	}
	for _, block := range resp.Content {
		if tu, ok := block.AsAny().(anthropicsdk.ToolUseBlock); ok {
			raw := tu.Input
			if len(raw) == 0 {
				if b, err := json.Marshal(tu.Input); err == nil {
					raw = b
				}
			}
			var d llm.Decision
			if err := json.Unmarshal(raw, &d); err != nil {
				return llm.Decision{}, fmt.Errorf("anthropic decide: decode tool input: %w", err)
			}
			if d.FunctionInputs == nil {
				d.FunctionInputs = map[string]any{}
			}
			return d, nil
		}
	}
	return llm.Decision{}, fmt.Errorf("anthropic decide: model returned no tool_use block")
}
