// Package tracing emits OpenTelemetry spans around agent turns and tool
// calls: one root span per turn, child spans per tool call, token counts
// recorded as span attributes, via the go.opentelemetry.io/otel SDK.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
)

const tracerName = "github.com/nextlevelbuilder/assistantd/internal/agent"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartTurn opens the root span for one agent turn, tagged with the
// session key and source.
func StartTurn(ctx context.Context, sessionKey domain.SessionKey) (context.Context, trace.Span) {
	return tracer().Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("session.key", sessionKey.String()),
		attribute.String("session.source", sessionKey.Source()),
	))
}

// EndTurn finalizes the turn span with outcome and usage attributes.
func EndTurn(span trace.Span, usage domain.Usage, partial bool, err error) {
	span.SetAttributes(
		attribute.Int("usage.prompt_tokens", usage.PromptTokens),
		attribute.Int("usage.completion_tokens", usage.CompletionTokens),
		attribute.Int("usage.total_tokens", usage.TotalTokens),
		attribute.Bool("turn.partial", partial),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// StartToolCall opens a child span for a single tool invocation.
func StartToolCall(ctx context.Context, toolName, input string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "agent.tool_call", trace.WithAttributes(
		attribute.String("tool.name", toolName),
		attribute.Int("tool.input_len", len(input)),
	))
}

// EndToolCall finalizes a tool call span.
func EndToolCall(span trace.Span, outputLen int, blocked bool, err error) {
	span.SetAttributes(
		attribute.Int("tool.output_len", outputLen),
		attribute.Bool("tool.blocked", blocked),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if blocked {
		span.SetStatus(codes.Error, "blocked by sandbox")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
