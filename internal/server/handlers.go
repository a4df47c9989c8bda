package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"RedChat/internal/backend"
	"RedChat/internal/chatbot"
	"RedChat/internal/session"
)

type chatRequest struct {
	Prompt      string      `json:"prompt"`
	Message     string      `json:"message"` // older clients send the prompt here
	SessionID   string      `json:"session_id"`
	IsIncognito bool        `json:"is_incognito"`
	History     historyList `json:"history"`
}

// historyList decodes the incognito history. Anything other than an array
// is treated as no history; bad entries are left to HistoryEntry.
type historyList []chatbot.HistoryEntry

func (h *historyList) UnmarshalJSON(data []byte) error {
	*h = nil

	list := gjson.ParseBytes(data)
	if !list.IsArray() {
		return nil
	}
	for _, item := range list.Array() {
		var entry chatbot.HistoryEntry
		if err := entry.UnmarshalJSON([]byte(item.Raw)); err != nil {
			return err
		}
		*h = append(*h, entry)
	}
	return nil
}

func (r chatRequest) toRequest() chatbot.Request {
	prompt := r.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = r.Message
	}
	return chatbot.Request{
		Prompt:    prompt,
		SessionID: r.SessionID,
		Incognito: r.IsIncognito,
		History:   r.History,
	}
}

type chatResponse struct {
	Success   bool    `json:"success"`
	Response  string  `json:"response"`
	ChatTitle *string `json:"chat_title"`
	SessionID string  `json:"session_id"`
}

func newChatResponse(resp *chatbot.Response) chatResponse {
	out := chatResponse{
		Success:   true,
		Response:  resp.Reply,
		SessionID: resp.SessionID,
	}
	if resp.Title != "" {
		title := resp.Title
		out.ChatTitle = &title
	}
	return out
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// statusFor maps a service error to a status code and a message that is
// safe to show to clients
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, chatbot.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, backend.ErrRateLimited):
		return http.StatusTooManyRequests, "Rate limit reached, please slow down"
	case errors.Is(err, backend.ErrUnavailable):
		return http.StatusInternalServerError, "AI service unavailable"
	case errors.Is(err, chatbot.ErrStorage):
		return http.StatusInternalServerError, "Could not save conversation"
	default:
		return http.StatusInternalServerError, "Processing error"
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, errorResponse{Error: msg})
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if c.ShouldBindJSON(&req) != nil {
		s.fail(c, fmt.Errorf("%w: malformed JSON body", chatbot.ErrValidation))
		return
	}

	resp, err := s.svc.Chat(c.Request.Context(), req.toRequest())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newChatResponse(resp))
}

func (s *Server) handleListChats(c *gin.Context) {
	chats, err := s.svc.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if chats == nil {
		chats = []session.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "chats": chats})
}

func (s *Server) handleHistory(c *gin.Context) {
	var req sessionRequest
	if c.ShouldBindJSON(&req) != nil {
		s.fail(c, fmt.Errorf("%w: malformed JSON body", chatbot.ErrValidation))
		return
	}

	messages, err := s.svc.History(c.Request.Context(), req.SessionID)
	if err != nil {
		s.fail(c, err)
		return
	}

	history := make([]historyMessage, 0, len(messages))
	for _, m := range messages {
		history = append(history, historyMessage{Role: m.Role, Content: m.Content})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "history": history})
}

func (s *Server) handleDelete(c *gin.Context) {
	var req sessionRequest
	if c.ShouldBindJSON(&req) != nil {
		s.fail(c, fmt.Errorf("%w: malformed JSON body", chatbot.ErrValidation))
		return
	}

	if err := s.svc.Delete(c.Request.Context(), req.SessionID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
