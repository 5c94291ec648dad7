// Package tracker implements the per-call usage Tracker (SPEC_FULL.md
// §4.H): a span per StartTracking/EndTracking bracket, and an optional
// ClickHouse mirror of token/cost rollups, grounded on the teacher's
// internal/agentd ClickHouse metrics stack (query-side there; this is the
// write side feeding the same kind of table).
package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/elysia-go/elysiatree/internal/config"
)

// Usage is one model call's accounting, recorded at EndTracking.
type Usage struct {
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	CostUSD          float64
}

// Tracker opens an OTel span per call and optionally mirrors the
// accounting into ClickHouse for longer-lived rollups than a trace backend
// normally retains.
type Tracker struct {
	tracer trace.Tracer
	conn   clickhouse.Conn
	table  string
}

// New builds a Tracker. cfg.DSN empty disables the ClickHouse mirror; spans
// are always recorded via tracer.
func New(ctx context.Context, tracer trace.Tracer, cfg config.ClickHouseConfig) (*Tracker, error) {
	t := &Tracker{tracer: tracer, table: cfg.Table}
	if cfg.DSN == "" {
		return t, nil
	}
	opts, err := clickhouse.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("tracker: parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("tracker: open clickhouse: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("tracker: clickhouse ping: %w", err)
	}
	t.conn = conn
	return t, nil
}

// Init creates the usage table when a ClickHouse mirror is configured.
func (t *Tracker) Init(ctx context.Context) error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    conversation_id String,
    query_id String,
    model String,
    prompt_tokens Int64,
    completion_tokens Int64,
    cost_usd Float64,
    recorded_at DateTime DEFAULT now()
) ENGINE = MergeTree() ORDER BY (conversation_id, recorded_at)
`, t.table))
}

// Span is the handle StartTracking returns; the caller must call End.
type Span struct {
	ctx  context.Context
	span trace.Span
}

// StartTracking opens a span named after the decision node or tool id
// being timed.
func (t *Tracker) StartTracking(ctx context.Context, name string) Span {
	if t.tracer == nil {
		return Span{ctx: ctx}
	}
	spanCtx, span := t.tracer.Start(ctx, name)
	return Span{ctx: spanCtx, span: span}
}

// EndTracking closes the span, recording usage as span attributes and, if
// a ClickHouse mirror is configured, inserting one row.
func (t *Tracker) EndTracking(s Span, conversationID, queryID string, usage Usage) error {
	if s.span != nil {
		s.span.SetAttributes(
			attribute.String("model", usage.Model),
			attribute.Int64("prompt_tokens", usage.PromptTokens),
			attribute.Int64("completion_tokens", usage.CompletionTokens),
			attribute.Float64("cost_usd", usage.CostUSD),
		)
		s.span.End()
	}
	if t.conn == nil {
		return nil
	}
	return t.conn.Exec(s.ctx, fmt.Sprintf(`
INSERT INTO %s (conversation_id, query_id, model, prompt_tokens, completion_tokens, cost_usd) VALUES (?, ?, ?, ?, ?, ?)
`, t.table), conversationID, queryID, usage.Model, usage.PromptTokens, usage.CompletionTokens, usage.CostUSD)
}
