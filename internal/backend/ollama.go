package backend

import (
	"context"
	"fmt"
	"strings"

	"RedChat/internal/session"
)

// OllamaRequest represents the request body for Ollama API
type OllamaRequest struct {
	Model    string              `json:"model"`
	Messages []map[string]string `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  OllamaOptions       `json:"options"`
}

// OllamaOptions carries sampling parameters
type OllamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// OllamaGateway calls a local Ollama /api/chat endpoint
type OllamaGateway struct {
	*client
}

// Complete sends messages without streaming and returns the reply
func (g *OllamaGateway) Complete(ctx context.Context, messages []session.Message) (string, error) {
	reqMessages := make([]map[string]string, len(messages))
	for i, msg := range messages {
		reqMessages[i] = map[string]string{
			"role":    msg.Role,
			"content": msg.Content,
		}
	}

	reqBody := OllamaRequest{
		Model:    g.cfg.Model,
		Messages: reqMessages,
		Stream:   false,
		Options: OllamaOptions{
			Temperature: g.cfg.Temperature,
			NumPredict:  g.cfg.MaxTokens,
		},
	}

	url := strings.TrimRight(g.cfg.BaseURL, "/") + "/api/chat"
	body, err := g.post(ctx, url, nil, reqBody)
	if err != nil {
		return "", err
	}

	resp, err := parseBody(body)
	if err != nil {
		return "", err
	}

	content := resp.Get("message.content")
	if !content.Exists() || strings.TrimSpace(content.String()) == "" {
		return "", fmt.Errorf("%w: empty response from Ollama", ErrUnavailable)
	}
	return content.String(), nil
}
