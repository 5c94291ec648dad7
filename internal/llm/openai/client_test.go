package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elysia-go/elysiatree/internal/config"
	"github.com/elysia-go/elysiatree/internal/llm"
)

func TestComplete_DecodesForcedFunctionCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
			{"id":"call-1","type":"function","function":{"name":"decide","arguments":"{\"reasoning\":\"only option\",\"impossible\":false,\"functionName\":\"search\",\"functionInputs\":{\"query\":\"x\"},\"endActions\":false}"}}
		]}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	t.Cleanup(srv.Close)

	client := New(config.OpenAIConfig{APIKey: "k", Model: "m", BaseURL: srv.URL}, srv.Client())
	schema := llm.DecisionSchema(true, false, []string{"search", "text_response"})
	d, err := client.Complete(context.Background(), "", []llm.Message{{Role: "user", Content: "hi"}}, schema)
	require.NoError(t, err)
	require.Equal(t, "search", d.FunctionName)
	require.Equal(t, "only option", d.Reasoning)
	require.Equal(t, "x", d.FunctionInputs["query"])
}

func TestComplete_NoFunctionCallErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"no calls","tool_calls":[]}}]}`))
	}))
	t.Cleanup(srv.Close)

	client := New(config.OpenAIConfig{APIKey: "k", Model: "m", BaseURL: srv.URL}, srv.Client())
	schema := llm.DecisionSchema(false, false, []string{"search"})
	_, err := client.Complete(context.Background(), "", []llm.Message{{Role: "user", Content: "hi"}}, schema)
	require.Error(t, err)
}
