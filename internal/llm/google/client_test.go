package google

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
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		defer r.Body.Close()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[
			{"functionCall":{"name":"decide","args":{"reasoning":"only option","impossible":false,"functionName":"search","functionInputs":{"query":"x"},"endActions":false}}}
		]}}]}`))
	}))
	t.Cleanup(srv.Close)

	client, err := New(config.GoogleConfig{APIKey: "k", Model: "test-model", BaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	schema := llm.DecisionSchema(true, false, []string{"search", "text_response"})
	d, err := client.Complete(context.Background(), "", []llm.Message{{Role: "user", Content: "hi"}}, schema)
	require.NoError(t, err)
	require.Equal(t, "search", d.FunctionName)
	require.Equal(t, "only option", d.Reasoning)
	require.Equal(t, "x", d.FunctionInputs["query"])
	require.Contains(t, gotPath, "test-model:generateContent")
}

func TestComplete_NoFunctionCallErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"no calls"}]}}]}`))
	}))
	t.Cleanup(srv.Close)

	client, err := New(config.GoogleConfig{APIKey: "k", Model: "m", BaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	schema := llm.DecisionSchema(false, false, []string{"search"})
	_, err = client.Complete(context.Background(), "", []llm.Message{{Role: "user", Content: "hi"}}, schema)
	require.Error(t, err)
}

func TestToContents_FoldsSystemIntoPrefixedUserTurn(t *testing.T) {
	contents := toContents([]llm.Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	})
	require.Len(t, contents, 3)
	require.Equal(t, "user", contents[0].Role)
	require.Equal(t, "[system] be terse", contents[0].Parts[0].Text)
	require.Equal(t, "user", contents[1].Role)
	require.Equal(t, "model", contents[2].Role)
}

func TestComplete_BlockedPromptErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
	}))
	t.Cleanup(srv.Close)

	client, err := New(config.GoogleConfig{APIKey: "k", Model: "m", BaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	schema := llm.DecisionSchema(false, false, []string{"search"})
	_, err = client.Complete(context.Background(), "", []llm.Message{{Role: "user", Content: "hi"}}, schema)
	require.Error(t, err)
}
