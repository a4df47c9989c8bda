package chatbot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"RedChat/internal/backend"
	"RedChat/internal/session"
)

func newTitleGenerator(t *testing.T, gw backend.Gateway) *TitleGenerator {
	t.Helper()
	counter, err := noop.NewMeterProvider().Meter("test").Int64Counter("chat.titles")
	if err != nil {
		t.Fatal(err)
	}
	return &TitleGenerator{
		gateway: gw,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:  tracenoop.NewTracerProvider().Tracer("test"),
		titles:  counter,
	}
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain", raw: "Go Scheduling Basics", want: "Go Scheduling Basics"},
		{name: "double quotes", raw: `"Go Scheduling Basics"`, want: "Go Scheduling Basics"},
		{name: "single quotes and spaces", raw: "  'Weekend Plans'  ", want: "Weekend Plans"},
		{name: "smart quotes", raw: "“Trip to Lisbon”", want: "Trip to Lisbon"},
		{name: "first line only", raw: "Recipe Ideas\nHere is why I chose it", want: "Recipe Ideas"},
		{name: "blank", raw: "  \"\"  ", want: ""},
		{name: "capped", raw: strings.Repeat("a", 80), want: strings.Repeat("a", maxTitleLen)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanTitle(tt.raw))
		})
	}
}

func TestFallbackTitle(t *testing.T) {
	assert.Equal(t, "Hello", FallbackTitle("  Hello "))
	assert.Equal(t, strings.Repeat("b", 30), FallbackTitle(strings.Repeat("b", 30)))
	assert.Equal(t, strings.Repeat("b", 30)+"...", FallbackTitle(strings.Repeat("b", 31)))
	assert.Equal(t, strings.Repeat("é", 30)+"...", FallbackTitle(strings.Repeat("é", 40)))
}

func TestTitleGenerator_Generate(t *testing.T) {
	var seen []session.Message
	gen := newTitleGenerator(t, backend.GatewayFunc(func(_ context.Context, messages []session.Message) (string, error) {
		seen = messages
		return "\"Morning Coffee Chat\"\n", nil
	}))

	assert.Equal(t, "Morning Coffee Chat", gen.Generate(context.Background(), "Good morning!"))
	if assert.Len(t, seen, 2) {
		assert.Equal(t, session.RoleSystem, seen[0].Role)
		assert.Equal(t, session.Message{Role: session.RoleUser, Content: "Good morning!"}, seen[1])
	}
}

func TestTitleGenerator_Fallbacks(t *testing.T) {
	first := "What should I cook for dinner tonight with rice?"
	want := "What should I cook for dinner ..."

	failing := newTitleGenerator(t, backend.GatewayFunc(func(context.Context, []session.Message) (string, error) {
		return "", errors.New("boom")
	}))
	assert.Equal(t, want, failing.Generate(context.Background(), first))

	blank := newTitleGenerator(t, backend.GatewayFunc(func(context.Context, []session.Message) (string, error) {
		return ` "" `, nil
	}))
	assert.Equal(t, want, blank.Generate(context.Background(), first))
}
