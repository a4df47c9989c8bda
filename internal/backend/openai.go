package backend

import (
	"context"
	"fmt"
	"strings"

	"RedChat/internal/session"
)

// OpenAIRequest represents the request body for OpenAI-compatible APIs
type OpenAIRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

// OpenAIMessage is one entry of OpenAIRequest.Messages
type OpenAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIGateway calls an OpenAI-compatible /chat/completions endpoint.
// Groq, OpenAI and Grok all speak this format.
type OpenAIGateway struct {
	*client
}

// Complete sends messages and returns the first choice's content
func (g *OpenAIGateway) Complete(ctx context.Context, messages []session.Message) (string, error) {
	if err := g.requireAPIKey(); err != nil {
		return "", err
	}

	reqMessages := make([]OpenAIMessage, len(messages))
	for i, msg := range messages {
		reqMessages[i] = OpenAIMessage{Role: msg.Role, Content: msg.Content}
	}

	reqBody := OpenAIRequest{
		Model:       g.cfg.Model,
		Messages:    reqMessages,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	}

	url := strings.TrimRight(g.cfg.BaseURL, "/") + "/chat/completions"
	body, err := g.post(ctx, url, map[string]string{"Authorization": "Bearer " + g.cfg.APIKey}, reqBody)
	if err != nil {
		return "", err
	}

	resp, err := parseBody(body)
	if err != nil {
		return "", err
	}
	g.recordUsage(ctx, resp.Get("usage"))

	content := resp.Get("choices.0.message.content")
	if !content.Exists() || strings.TrimSpace(content.String()) == "" {
		return "", fmt.Errorf("%w: empty response from %s", ErrUnavailable, g.backend)
	}
	return content.String(), nil
}
