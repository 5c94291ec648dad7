// Package google adapts llm.Provider to the Gemini API via genai.Client,
// grounded on manifold's internal/llm/google client (SDK option wiring,
// span/log shape) but narrowed to a single declared function whose call
// carries the structured decision output instead of a full chat-with-streaming,
// thought-signature, and image-generation loop: DecisionNode only ever
// needs one structured answer per turn.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"github.com/elysia-go/elysiatree/internal/config"
	"github.com/elysia-go/elysiatree/internal/llm"
	"github.com/elysia-go/elysiatree/internal/observability"
)

// decideFunctionName is the only function every call declares; the model
// never gets a choice of function, only a choice of arguments.
const decideFunctionName = "decide"

type Client struct {
	client *genai.Client
	model  string
}

func New(cfg config.GoogleConfig, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}

	httpOpts := genai.HTTPOptions{}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		httpOpts.BaseURL = strings.TrimSuffix(base, "/") + "/"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      strings.TrimSpace(cfg.APIKey),
		HTTPClient:  httpClient,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("init google client: %w", err)
	}

	return &Client{client: client, model: model}, nil
}

// Complete asks Gemini for one structured Decision by declaring a single
// function in AUTO mode and decoding its call's arguments back into a
// llm.Decision. AUTO mode does not force the call: a reply without it is
// returned as an error.
func (c *Client) Complete(ctx context.Context, model string, msgs []llm.Message, schema map[string]any) (llm.Decision, error) {
	effectiveModel := c.pickModel(model)

	contents := toContents(msgs)
	toolDecl, toolCfg, err := decideTool(schema)
	if err != nil {
		return llm.Decision{}, err
	}

	cfg := &genai.GenerateContentConfig{
		Tools:      []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{toolDecl}}},
		ToolConfig: toolCfg,
	}

	log := observability.LoggerWithTrace(ctx)
	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, effectiveModel, contents, cfg)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", effectiveModel).Dur("duration", dur).Msg("google_decide_error")
		return llm.Decision{}, fmt.Errorf("google decide: %w", err)
	}

	log.Debug().Str("model", effectiveModel).Dur("duration", dur).Msg("google_decide_ok")

	return decisionFromResponse(resp)
}

func (c *Client) pickModel(requested string) string {
	if m := strings.TrimSpace(requested); m != "" {
		return m
	}
	return c.model
}

// toContents adapts msgs to Gemini's content list. genai.Content has no
// "system" role of its own, so system messages are folded into a user-role
// turn prefixed with "[system] ", the same convention manifold's client uses.
func toContents(msgs []llm.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			contents = append(contents, genai.NewContentFromText("[system] "+m.Content, genai.RoleUser))
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents
}

func decideTool(schema map[string]any) (*genai.FunctionDeclaration, *genai.ToolConfig, error) {
	if schema == nil {
		return nil, nil, fmt.Errorf("google provider: decision schema required")
	}
	decl := &genai.FunctionDeclaration{
		Name:                 decideFunctionName,
		Description:          "Record the decision for this turn of the tree.",
		ParametersJsonSchema: schema,
	}
	cfg := &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{
			Mode: genai.FunctionCallingConfigModeAuto,
		},
	}
	return decl, cfg, nil
}

func decisionFromResponse(resp *genai.GenerateContentResponse) (llm.Decision, error) {
	if resp == nil {
		return llm.Decision{}, fmt.Errorf("google decide: empty response")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return llm.Decision{}, fmt.Errorf("google decide: request blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return llm.Decision{}, fmt.Errorf("google decide: no candidates in response")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.FunctionCall == nil {
			continue
		}
		raw, err := json.Marshal(part.FunctionCall.Args)
		if err != nil {
			return llm.Decision{}, fmt.Errorf("google decide: marshal function call args: %w", err)
		}
		var d llm.Decision
		if err := json.Unmarshal(raw, &d); err != nil {
			return llm.Decision{}, fmt.Errorf("google decide: decode function call args: %w", err)
		}
		if d.FunctionInputs == nil {
			d.FunctionInputs = map[string]any{}
		}
		return d, nil
	}
	return llm.Decision{}, fmt.Errorf("google decide: model returned no function call")
}
