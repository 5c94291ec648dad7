package observability

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// LoggerWithTrace returns a zerolog.Logger enriched with trace_id/span_id from the context, if available.
func LoggerWithTrace(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return &l
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With().Str("trace_id", sc.TraceID().String()).Logger()
		if sc.HasSpanID() {
			l = l.With().Str("span_id", sc.SpanID().String()).Logger()
		}
		if sc.IsSampled() {
			l = l.With().Bool("trace_sampled", true).Logger()
		}
	}
	return &l
}

// LoggerForTurn layers the fields that identify one decision-tree turn on
// top of LoggerWithTrace, so every log line a Chain or Tree emits while
// running a turn can be correlated back to the conversation and the tool
// node that produced it without re-deriving trace context each time.
// toolName is empty when the logger is built before a tool has been chosen.
func LoggerForTurn(ctx context.Context, conversationID, queryID, toolName string) *zerolog.Logger {
	l := LoggerWithTrace(ctx)
	ctxLogger := l.With().
		Str("conversation_id", conversationID).
		Str("query_id", queryID)
	if toolName != "" {
		ctxLogger = ctxLogger.Str("tool", toolName)
	}
	out := ctxLogger.Logger()
	return &out
}
