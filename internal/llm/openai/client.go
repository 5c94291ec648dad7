// Package openai adapts llm.Provider to the Chat Completions API, grounded
// on manifold's internal/llm/openai client (SDK option wiring, span/log
// shape) but narrowed to a single forced function call returning structured
// decision output instead of a full chat-with-tools loop.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared/constant"

	"github.com/elysia-go/elysiatree/internal/config"
	"github.com/elysia-go/elysiatree/internal/llm"
	"github.com/elysia-go/elysiatree/internal/observability"
)

// decideFunctionName is the single forced function every completion asks
// for; the model never gets a choice of function, only a choice of the
// arguments it puts inside the one it's forced to call.
const decideFunctionName = "decide"

type Client struct {
	sdk   sdk.Client
	model string
}

func New(cfg config.OpenAIConfig, httpClient *http.Client) *Client {
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
		model = string(sdk.ChatModelGPT4o)
	}

	return &Client{sdk: sdk.NewClient(opts...), model: model}
}

// Complete asks the model for one structured Decision by forcing a single
// function call and decoding its arguments back into a llm.Decision.
func (c *Client) Complete(ctx context.Context, model string, msgs []llm.Message, schema map[string]any) (llm.Decision, error) {
	effectiveModel := firstNonEmpty(model, c.model)

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(effectiveModel),
		Messages: adaptMessages(msgs),
		Tools:    []sdk.ChatCompletionToolUnionParam{decideTool(schema)},
		ToolChoice: sdk.ChatCompletionToolChoiceOptionUnionParam{
			OfFunctionToolChoice: &sdk.ChatCompletionNamedToolChoiceParam{
				Function: sdk.ChatCompletionNamedToolChoiceFunctionParam{Name: decideFunctionName},
			},
		},
	}

	log := observability.LoggerWithTrace(ctx)
	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", dur).Msg("openai_decide_error")
		return llm.Decision{}, fmt.Errorf("openai decide: %w", err)
	}

	log.Debug().
		Str("model", string(params.Model)).
		Dur("duration", dur).
		Int("prompt_tokens", int(comp.Usage.PromptTokens)).
		Int("completion_tokens", int(comp.Usage.CompletionTokens)).
		Msg("openai_decide_ok")

	return decisionFromCompletion(comp)
}

func decideTool(schema map[string]any) sdk.ChatCompletionToolUnionParam {
	def := sdk.FunctionDefinitionParam{
		Name:        decideFunctionName,
		Description: sdk.String("Record the decision for this turn of the tree."),
		Parameters:  schema,
		Strict:      sdk.Bool(true),
	}
	return sdk.ChatCompletionFunctionTool(def)
}

func adaptMessages(msgs []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "assistant":
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}

func decisionFromCompletion(comp *sdk.ChatCompletion) (llm.Decision, error) {
	if comp == nil || len(comp.Choices) == 0 {
		return llm.Decision{}, fmt.Errorf("openai decide: empty response")
	}
	for _, tc := range comp.Choices[0].Message.ToolCalls {
		fn, ok := tc.AsAny().(sdk.ChatCompletionMessageFunctionToolCall)
		if !ok {
			continue
		}
		var d llm.Decision
		if err := json.Unmarshal([]byte(fn.Function.Arguments), &d); err != nil {
			return llm.Decision{}, fmt.Errorf("openai decide: decode function arguments: %w", err)
		}
		if d.FunctionInputs == nil {
			d.FunctionInputs = map[string]any{}
		}
		return d, nil
	}
	return llm.Decision{}, fmt.Errorf("openai decide: model returned no function call")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
