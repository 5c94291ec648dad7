// Package stream implements the Streaming Returner (SPEC_FULL.md §4.G):
// it maps every tool.Event to the transport object spec.md §6 describes,
// appends it to a persistent transcript store, and optionally publishes
// TrainingUpdate events to Kafka for offline DSPy-style optimisation
// (§4.I).
package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"github.com/elysia-go/elysiatree/internal/observability"
	"github.com/elysia-go/elysiatree/internal/tool"
)

// WireEvent is the transport object every event is mapped to before it
// reaches the frontend or the transcript store.
type WireEvent struct {
	Type           string         `json:"type"`
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	ConversationID string         `json:"conversation_id"`
	QueryID        string         `json:"query_id"`
	Payload        map[string]any `json:"payload"`
}

// TranscriptStore persists the wire-event history of a conversation.
type TranscriptStore interface {
	Append(ctx context.Context, conversationID string, ev WireEvent) error
	List(ctx context.Context, conversationID string) ([]WireEvent, error)
}

// ToWire maps a tool.Event to its transport shape per spec.md §6's event
// kind/payload table.
func ToWire(ev tool.Event, userID, conversationID, queryID string) WireEvent {
	w := WireEvent{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		QueryID:        queryID,
		Payload:        map[string]any{},
	}

	switch ev.Kind {
	case tool.KindStatus:
		w.Type = "status"
		w.Payload["text"] = ev.Message
	case tool.KindWarning:
		w.Type = "warning"
		w.Payload["text"] = ev.Message
	case tool.KindCompleted:
		w.Type = "completed"
	case tool.KindTreeUpdate:
		w.Type = "tree_update"
		w.Payload["node"] = ev.Name
		w.Payload["decision"] = ev.Message
		if reasoning, ok := ev.Metadata["reasoning"]; ok {
			w.Payload["reasoning"] = reasoning
		}
		w.Payload["tree_index"] = ev.TreeIndex
		w.Payload["reset"] = ev.Reset
	case tool.KindResult, tool.KindRetrieval:
		w.Type = "result"
		w.Payload["type"] = ev.PayloadType
		w.Payload["objects"] = ev.Objects
		w.Payload["metadata"] = ev.Metadata
	case tool.KindText:
		w.Type = "text"
		objects := make([]map[string]any, 0, len(ev.TextObjects))
		for _, to := range ev.TextObjects {
			objects = append(objects, map[string]any{"text": to.Text, "ref_ids": to.RefIDs})
		}
		w.Payload["objects"] = objects
		w.Payload["metadata"] = map[string]any{"title": ev.Title}
	case tool.KindError:
		w.Type = "self_healing_error"
		w.Payload["feedback"] = ev.Feedback
		w.Payload["error_message"] = ev.Message
	case tool.KindFewShot:
		w.Type = "fewshot_examples"
		w.Payload["uuids"] = ev.ExampleUUIDs
	case tool.KindTrainingUpdate:
		w.Type = "training_update"
		w.Payload = ev.Training
	default:
		w.Type = string(ev.Kind)
	}

	return w
}

// Returner wires a Tree's Sink into a transcript store and an optional
// Kafka training-data publisher.
type Returner struct {
	UserID, ConversationID string
	QueryID                string

	Store TranscriptStore
	Kafka *kafka.Writer // nil disables training-data export
}

// NewKafkaWriter builds a training-update writer, or nil if brokers is
// empty (export disabled, §4.I).
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if len(brokers) == 0 {
		return nil
	}
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
}

// Emit implements tool.EmitFunc: it maps ev to the wire shape, appends it
// to Store, and, for TrainingUpdate events, publishes to Kafka.
func (r *Returner) Emit(ev tool.Event) error {
	w := ToWire(ev, r.UserID, r.ConversationID, r.QueryID)

	// Debug-log a redacted copy of the payload for trace correlation. The
	// redaction is logging-only: Store and Kafka always receive w.Payload
	// unredacted so a transcript stays replayable in full.
	if raw, err := json.Marshal(w.Payload); err == nil {
		log := observability.LoggerForTurn(context.Background(), r.ConversationID, r.QueryID, "")
		log.Debug().Str("event_type", w.Type).RawJSON("payload", observability.RedactJSON(raw)).Msg("stream_emit")
	}

	if r.Store != nil {
		if err := r.Store.Append(context.Background(), r.ConversationID, w); err != nil {
			return fmt.Errorf("stream: append transcript: %w", err)
		}
	}
	if r.Kafka != nil && ev.Kind == tool.KindTrainingUpdate {
		payload, err := json.Marshal(w)
		if err != nil {
			return fmt.Errorf("stream: marshal training update: %w", err)
		}
		if err := r.Kafka.WriteMessages(context.Background(), kafka.Message{
			Key:   []byte(r.ConversationID),
			Value: payload,
		}); err != nil {
			return fmt.Errorf("stream: publish training update: %w", err)
		}
	}
	return nil
}

// MemoryTranscriptStore is an in-process TranscriptStore for tests and a
// CLI demo where no durable backend is configured.
type MemoryTranscriptStore struct {
	events map[string][]WireEvent
}

// NewMemoryTranscriptStore returns an empty store.
func NewMemoryTranscriptStore() *MemoryTranscriptStore {
	return &MemoryTranscriptStore{events: make(map[string][]WireEvent)}
}

func (s *MemoryTranscriptStore) Append(_ context.Context, conversationID string, ev WireEvent) error {
	s.events[conversationID] = append(s.events[conversationID], ev)
	return nil
}

func (s *MemoryTranscriptStore) List(_ context.Context, conversationID string) ([]WireEvent, error) {
	return append([]WireEvent{}, s.events[conversationID]...), nil
}

// PostgresTranscriptStore is a durable TranscriptStore, grounded on
// store.pgTreeStore's pgx idioms but append-only: every wire event is a new
// row rather than an upserted blob, since a transcript is a growing log.
type PostgresTranscriptStore struct {
	pool *pgxpool.Pool
}

// NewPostgresTranscriptStore returns a Postgres-backed TranscriptStore.
func NewPostgresTranscriptStore(pool *pgxpool.Pool) *PostgresTranscriptStore {
	return &PostgresTranscriptStore{pool: pool}
}

// Init creates the transcript table if it doesn't already exist.
func (s *PostgresTranscriptStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS transcript_events (
    id UUID PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    seq BIGSERIAL,
    event_type TEXT NOT NULL,
    user_id TEXT NOT NULL DEFAULT '',
    query_id TEXT NOT NULL DEFAULT '',
    payload JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS transcript_events_conversation_seq_idx
    ON transcript_events(conversation_id, seq);
`)
	return err
}

func (s *PostgresTranscriptStore) Append(ctx context.Context, conversationID string, ev WireEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("stream: marshal payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO transcript_events (id, conversation_id, event_type, user_id, query_id, payload)
VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, conversationID, ev.Type, ev.UserID, ev.QueryID, payload)
	return err
}

func (s *PostgresTranscriptStore) List(ctx context.Context, conversationID string) ([]WireEvent, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, event_type, user_id, query_id, payload
FROM transcript_events
WHERE conversation_id = $1
ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WireEvent
	for rows.Next() {
		var w WireEvent
		var payload []byte
		if err := rows.Scan(&w.ID, &w.Type, &w.UserID, &w.QueryID, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &w.Payload); err != nil {
			return nil, fmt.Errorf("stream: unmarshal payload: %w", err)
		}
		w.ConversationID = conversationID
		out = append(out, w)
	}
	return out, rows.Err()
}
