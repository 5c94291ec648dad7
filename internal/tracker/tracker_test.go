package tracker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/elysia-go/elysiatree/internal/config"
)

func TestTracker_WithoutClickHouseMirror(t *testing.T) {
	tr, err := New(context.Background(), noop.NewTracerProvider().Tracer("test"), config.ClickHouseConfig{})
	require.NoError(t, err)
	require.NoError(t, tr.Init(context.Background()))

	span := tr.StartTracking(context.Background(), "decide:root")
	err = tr.EndTracking(span, "conv-1", "query-1", Usage{Model: "test-model", PromptTokens: 10, CompletionTokens: 5})
	require.NoError(t, err)
}
