package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elysia-go/elysiatree/internal/tool"
)

func TestToWire_TreeUpdateCarriesIndexAndReset(t *testing.T) {
	ev := tool.Event{
		Kind:      tool.KindTreeUpdate,
		Name:      "root",
		Message:   "search",
		TreeIndex: 2,
		Reset:     true,
		Metadata:  map[string]any{"reasoning": "because"},
	}

	w := ToWire(ev, "user-1", "conv-1", "query-1")

	require.Equal(t, "tree_update", w.Type)
	require.Equal(t, "root", w.Payload["node"])
	require.Equal(t, "search", w.Payload["decision"])
	require.Equal(t, "because", w.Payload["reasoning"])
	require.Equal(t, 2, w.Payload["tree_index"])
	require.Equal(t, true, w.Payload["reset"])
}

func TestToWire_TextEventFlattensObjects(t *testing.T) {
	ev := tool.TextEvent("the answer", "ref-1", "ref-2")

	w := ToWire(ev, "user-1", "conv-1", "query-1")

	require.Equal(t, "text", w.Type)
	objects, ok := w.Payload["objects"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, objects, 1)
	require.Equal(t, "the answer", objects[0]["text"])
	require.Equal(t, []string{"ref-1", "ref-2"}, objects[0]["ref_ids"])
}

func TestToWire_ErrorEventMapsToSelfHealing(t *testing.T) {
	ev := tool.ErrorEvent("search", "timed out", "retry with a narrower query")

	w := ToWire(ev, "user-1", "conv-1", "query-1")

	require.Equal(t, "self_healing_error", w.Type)
	require.Equal(t, "timed out", w.Payload["error_message"])
	require.Equal(t, "retry with a narrower query", w.Payload["feedback"])
}

func TestReturner_EmitAppendsToStore(t *testing.T) {
	store := NewMemoryTranscriptStore()
	r := &Returner{UserID: "user-1", ConversationID: "conv-1", QueryID: "query-1", Store: store}

	require.NoError(t, r.Emit(tool.StatusEvent("searching")))
	require.NoError(t, r.Emit(tool.Event{Kind: tool.KindCompleted}))

	events, err := store.List(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "status", events[0].Type)
	require.Equal(t, "completed", events[1].Type)
}

func TestReturner_NoKafkaSkipsPublishWithoutError(t *testing.T) {
	r := &Returner{UserID: "user-1", ConversationID: "conv-1", QueryID: "query-1", Store: NewMemoryTranscriptStore()}

	err := r.Emit(tool.Event{Kind: tool.KindTrainingUpdate, Training: map[string]any{"node": "root"}})
	require.NoError(t, err)
}

func TestNewKafkaWriter_EmptyBrokersDisabled(t *testing.T) {
	require.Nil(t, NewKafkaWriter(nil, "elysiatree.training"))
}
