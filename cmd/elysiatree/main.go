// Command elysiatree runs a single decision-tree turn end to end: it wires
// an LM provider and a tiny two-tool tree (search, then answer), streams
// every event into an in-memory transcript, and prints the final answer.
// It is a wiring demo, not the production service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/elysia-go/elysiatree/internal/config"
	"github.com/elysia-go/elysiatree/internal/llm"
	"github.com/elysia-go/elysiatree/internal/llm/anthropic"
	"github.com/elysia-go/elysiatree/internal/llm/google"
	"github.com/elysia-go/elysiatree/internal/llm/openai"
	"github.com/elysia-go/elysiatree/internal/observability"
	"github.com/elysia-go/elysiatree/internal/stream"
	"github.com/elysia-go/elysiatree/internal/tool"
	"github.com/elysia-go/elysiatree/internal/tree"
	"github.com/elysia-go/elysiatree/internal/treedata"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "elysiatree:", err)
		os.Exit(1)
	}
}

func run() error {
	settings, warnings := config.Load()
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, "config warning:", w)
	}

	provider, err := buildProvider(settings)
	if err != nil {
		return err
	}

	t := tree.New(settings, provider, provider, nil)
	t.ConversationID = "demo-conversation"

	returner := &stream.Returner{
		UserID:         "demo-user",
		ConversationID: t.ConversationID,
		Store:          stream.NewMemoryTranscriptStore(),
		Kafka:          stream.NewKafkaWriter(settings.Kafka.Brokers, settings.Kafka.Topic),
	}
	t.Sink = returner.Emit

	if err := wireDemoTools(t); err != nil {
		return err
	}

	prompt := "What is the capital of France?"
	if len(os.Args) > 1 {
		prompt = os.Args[1]
	}

	timeout := settings.TreeTimeout
	if timeout == 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := t.Run(ctx, prompt, tree.RunOptions{})
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	fmt.Println("answer:", result.Text)
	return nil
}

// buildProvider picks the LM adapter named by Settings.BaseProvider. The
// demo passes that one adapter as both the base and the complex provider,
// so Settings.ComplexProvider is not consulted.
func buildProvider(settings config.Settings) (llm.Provider, error) {
	switch settings.BaseProvider {
	case "openai":
		httpClient := observability.NewHTTPClient(&http.Client{Timeout: 60 * time.Second}, "openai")
		return openai.New(settings.OpenAI, httpClient), nil
	case "anthropic", "":
		httpClient := observability.NewHTTPClient(&http.Client{Timeout: 60 * time.Second}, "anthropic")
		return anthropic.New(settings.Anthropic, httpClient), nil
	case "google":
		httpClient := observability.NewHTTPClient(&http.Client{Timeout: 60 * time.Second}, "google")
		return google.New(settings.Google, httpClient)
	default:
		return nil, fmt.Errorf("unknown base provider %q", settings.BaseProvider)
	}
}

// wireDemoTools builds a two-step tree: a "search" tool the LM can pick
// for a canned lookup, then an "answer" tool stemmed after search, offered
// once search has run.
func wireDemoTools(t *tree.Tree) error {
	if err := t.AddBranch("root", "Answer the user's question using search results.", "root", true, "", ""); err != nil {
		return err
	}

	search, err := tool.NewFuncTool(tool.FuncToolSpec{
		Name:        "search",
		Description: "Look up facts relevant to the user's prompt.",
		Inputs: map[string]tool.InputSpec{
			"query": {Type: "string", Description: "search query", Required: true},
		},
		Fn: func(_ context.Context, td *treedata.TreeData, inputs map[string]any) (tool.Event, bool, error) {
			query, _ := inputs["query"].(string)
			objects := []map[string]any{
				{"fact": "Paris is the capital of France.", "query": query},
			}
			ev, ok := tool.ResultEvent("search", objects, map[string]any{"source": "demo"})
			return ev, ok, nil
		},
	})
	if err != nil {
		return err
	}
	if err := t.AddTool(search, "root", nil, ""); err != nil {
		return err
	}

	answer, err := tool.NewFuncTool(tool.FuncToolSpec{
		Name:             "answer",
		Description:      "Give the final answer to the user.",
		EndsConversation: true,
		Inputs: map[string]tool.InputSpec{
			"text": {Type: "string", Description: "the answer text", Required: true},
		},
		Fn: func(_ context.Context, td *treedata.TreeData, inputs map[string]any) (tool.Event, bool, error) {
			text, _ := inputs["text"].(string)
			return tool.TextEvent(text), true, nil
		},
	})
	if err != nil {
		return err
	}
	return t.AddTool(answer, "root", []string{"search"}, "")
}
