package backend

import (
	"context"
	"fmt"
	"strings"

	"RedChat/internal/session"
)

// AnthropicRequest represents the request body for Anthropic API
type AnthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []AnthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

// AnthropicMessage represents a message in the conversation
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicGateway calls the Anthropic Messages API
type AnthropicGateway struct {
	*client
}

// Complete sends messages and returns the first text block of the reply.
// System messages are moved into the top-level system field.
func (g *AnthropicGateway) Complete(ctx context.Context, messages []session.Message) (string, error) {
	if err := g.requireAPIKey(); err != nil {
		return "", err
	}

	var system []string
	reqMessages := make([]AnthropicMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == session.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		reqMessages = append(reqMessages, AnthropicMessage{Role: msg.Role, Content: msg.Content})
	}

	reqBody := AnthropicRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		System:      strings.Join(system, "\n\n"),
		Messages:    reqMessages,
		Temperature: g.cfg.Temperature,
	}

	headers := map[string]string{
		"x-api-key":         g.cfg.APIKey,
		"anthropic-version": "2023-06-01",
	}

	url := strings.TrimRight(g.cfg.BaseURL, "/") + "/v1/messages"
	body, err := g.post(ctx, url, headers, reqBody)
	if err != nil {
		return "", err
	}

	resp, err := parseBody(body)
	if err != nil {
		return "", err
	}
	g.recordUsage(ctx, resp.Get("usage"))

	text := resp.Get(`content.#(type=="text").text`)
	if !text.Exists() || strings.TrimSpace(text.String()) == "" {
		return "", fmt.Errorf("%w: empty response from Anthropic", ErrUnavailable)
	}
	return text.String(), nil
}
