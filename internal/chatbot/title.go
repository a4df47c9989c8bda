package chatbot

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"RedChat/internal/backend"
	"RedChat/internal/session"
)

const (
	maxTitleLen      = 50
	fallbackTitleLen = 30

	titleInstruction = "Generate a short title of at most six words for a conversation that begins with the user's message. " +
		"Return only the title, without quotes or trailing punctuation."

	titleQuotes = "\"'`“”‘’«» \t"
)

// TitleGenerator labels new conversations. It never fails: when the
// completion service cannot produce a title it falls back to truncating
// the first message.
type TitleGenerator struct {
	gateway backend.Gateway
	logger  *slog.Logger
	tracer  trace.Tracer
	titles  metric.Int64Counter
}

// Generate returns a title for a conversation opened with firstMessage
func (g *TitleGenerator) Generate(ctx context.Context, firstMessage string) string {
	ctx, span := g.tracer.Start(ctx, "title_generation")
	defer span.End()

	messages := []session.Message{
		{Role: session.RoleSystem, Content: titleInstruction},
		{Role: session.RoleUser, Content: firstMessage},
	}

	raw, err := g.gateway.Complete(ctx, messages)
	if err == nil {
		if title := cleanTitle(raw); title != "" {
			g.record(ctx, span, "model")
			return title
		}
	} else {
		g.logger.Warn("title generation failed, using fallback", "error", err)
	}

	g.record(ctx, span, "fallback")
	return FallbackTitle(firstMessage)
}

func (g *TitleGenerator) record(ctx context.Context, span trace.Span, source string) {
	span.SetAttributes(attribute.String("title.source", source))
	g.titles.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// FallbackTitle is the first message cut to 30 characters plus an ellipsis
func FallbackTitle(firstMessage string) string {
	msg := strings.TrimSpace(firstMessage)
	runes := []rune(msg)
	if len(runes) <= fallbackTitleLen {
		return msg
	}
	return string(runes[:fallbackTitleLen]) + "..."
}

// cleanTitle keeps the first line of a model reply, strips surrounding
// quotes and caps the length
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexAny(title, "\r\n"); i >= 0 {
		title = title[:i]
	}
	title = strings.Trim(title, titleQuotes)

	if runes := []rune(title); len(runes) > maxTitleLen {
		title = strings.TrimSpace(string(runes[:maxTitleLen]))
	}
	return title
}
